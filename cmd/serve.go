package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/packsync/packsync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local packs and tracked jobs over a JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		evictEvery, _ := cmd.Flags().GetDuration("evict-interval")

		remote, err := newRemote(cmd)
		if err != nil {
			return err
		}
		// The server is the only writer while it runs.
		s, err := openStore(cmd, remote, true)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		if evictEvery > 0 {
			s.cache.StartEviction(ctx, evictEvery)
		}

		tr := newTracker(remote, s)
		srv := server.New(s.db, s.cache, tr, viper.GetString("serve.username"), viper.GetString("serve.password"))
		return srv.Start(ctx, listenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "127.0.0.1:8080", "HTTP listen address")
	serveCmd.Flags().Duration("evict-interval", time.Hour, "How often expired ad details are dropped (0 to disable)")
}
