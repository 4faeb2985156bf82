package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packsync/packsync/internal/utils"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local ad detail cache",
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Drop expired ad details",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd, nil, true)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.cache.EvictExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Evicted %d expired entries\n", n)
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <pack-id>...",
	Short: "Drop the cached ads of the given packs so the next read refetches them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd, nil, true)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, id := range args {
			if err := s.cache.InvalidateDetail(cmd.Context(), id); err != nil {
				return err
			}
			utils.Log.Debugf("Invalidated details of pack %s", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheEvictCmd, cacheInvalidateCmd)
}
