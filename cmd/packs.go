package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/packsync/packsync/internal/utils"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/storage"
)

var packsCmd = &cobra.Command{
	Use:   "packs",
	Short: "Inspect and manage local packs",
}

var packsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List packs in the local database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		status, _ := cmd.Flags().GetString("status")
		sinceRaw, _ := cmd.Flags().GetString("since")
		output, _ := cmd.Flags().GetString("output")
		delimiter, _ := cmd.Flags().GetString("delimiter")

		opts := storage.ListOptions{AdAccountID: account, Status: pack.RefreshStatus(status)}
		if sinceRaw != "" {
			since, err := time.Parse(time.RFC3339, sinceRaw)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			opts.Since = since
		}

		s, err := openStore(cmd, nil, false)
		if err != nil {
			return err
		}
		defer s.Close()

		packs, err := s.cache.List(cmd.Context(), opts)
		if err != nil {
			return err
		}
		for _, p := range packs {
			if err := pack.PrintPack(os.Stdout, p, output, delimiter); err != nil {
				return err
			}
		}
		return nil
	},
}

var packsShowCmd = &cobra.Command{
	Use:   "show <pack-id>",
	Short: "Print a pack as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd, nil, false)
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := s.cache.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var packsAdsCmd = &cobra.Command{
	Use:   "ads <pack-id>",
	Short: "Print the ads of a pack, fetching them if the local copy expired",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		output, _ := cmd.Flags().GetString("output")
		delimiter, _ := cmd.Flags().GetString("delimiter")

		remote, err := newRemote(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cmd, remote, true)
		if err != nil {
			return err
		}
		defer s.Close()

		ads, err := s.cache.Details(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		// Refetched details are written in the background.
		s.cache.Flush()
		if !all {
			ads = pack.Apply(ads, pack.VideoOnly)
		}
		return pack.PrintAds(os.Stdout, ads, output, delimiter)
	},
}

var packsRmCmd = &cobra.Command{
	Use:   "rm <pack-id>",
	Short: "Delete a pack upstream and locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		localOnly, _ := cmd.Flags().GetBool("local")

		var remoteErr error
		if !localOnly {
			remote, err := newRemote(cmd)
			if err != nil {
				return err
			}
			remoteErr = remote.DeletePack(cmd.Context(), args[0])
			if remoteErr != nil {
				utils.Log.Errorf("Could not delete pack %s upstream: %v", args[0], remoteErr)
			}
		}

		s, err := openStore(cmd, nil, true)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.cache.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		return remoteErr
	},
}

func init() {
	rootCmd.AddCommand(packsCmd)
	packsCmd.AddCommand(packsListCmd, packsShowCmd, packsAdsCmd, packsRmCmd)

	packsListCmd.Flags().String("account", "", "Only packs of this ad account")
	packsListCmd.Flags().String("status", "", "Only packs with this refresh status (ready, pending, refreshing, failed)")
	packsListCmd.Flags().String("since", "", "Only packs updated since this RFC3339 timestamp")
	packsListCmd.Flags().StringP("output", "o", "indsr", "Output flags. Supported: i (id), n (name), a (account), d (dates), s (stats), r (status)")
	packsListCmd.Flags().StringP("delimiter", "d", " ", "Delimiter character to use for txt output format")

	packsAdsCmd.Flags().Bool("all", false, "Include non-video ads")
	packsAdsCmd.Flags().StringP("output", "o", "ifl", "Output flags. Supported: i (id), n (name), f (format), c (campaign), l (link), m (metrics)")
	packsAdsCmd.Flags().StringP("delimiter", "d", " ", "Delimiter character to use for txt output format")

	packsRmCmd.Flags().Bool("local", false, "Only remove the local copy")
}
