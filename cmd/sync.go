package cmd

import (
	"github.com/spf13/cobra"

	"github.com/packsync/packsync/internal/utils"
)

// syncCmd mirrors the backend's pack list into the local database.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local packs with the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, err := newRemote(cmd)
		if err != nil {
			return err
		}
		packs, err := remote.ListPacks(cmd.Context())
		if err != nil {
			return err
		}

		s, err := openStore(cmd, remote, true)
		if err != nil {
			return err
		}
		defer s.Close()

		existing, err := s.db.GetStats(cmd.Context())
		if err != nil {
			return err
		}
		// An empty answer against a populated database is more likely a broken
		// backend than a mass deletion.
		if len(packs) == 0 && existing.Packs > 10 {
			utils.Log.Errorf("Backend returned 0 packs, but database has %d. Aborting sync to prevent data loss.", existing.Packs)
			return nil
		}

		changes, err := s.cache.Reconcile(cmd.Context(), packs, nil)
		if err != nil {
			return err
		}
		printChanges(changes)
		utils.Log.Infof("Synced %d packs, %d changes", len(packs), len(changes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
