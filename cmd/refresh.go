package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packsync/packsync/internal/utils"
	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/storage"
	"github.com/packsync/packsync/pkg/tracker"
)

// refreshCmd implements: packsync refresh [pack-id] | --all
var refreshCmd = &cobra.Command{
	Use:   "refresh [pack-id]",
	Short: "Re-collect the ads of an existing pack",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		switch {
		case all && len(args) > 0:
			return fmt.Errorf("use either a pack id or --all, not both")
		case all:
			return refreshAll(cmd)
		case len(args) == 0:
			return fmt.Errorf("missing pack id. See 'packsync refresh --help'")
		}
		return runTracked(cmd, adsapi.SubmitParams{Kind: adsapi.KindRefresh, PackID: args[0]})
	},
}

// resumeCmd picks up jobs left pending by an interrupted run.
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume tracking of pending jobs left by a previous run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, err := newRemote(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cmd, remote, true)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		var packs []pack.Pack
		for _, status := range []pack.RefreshStatus{pack.StatusPending, pack.StatusRefreshing} {
			found, err := s.cache.List(ctx, storage.ListOptions{Status: status})
			if err != nil {
				return err
			}
			packs = append(packs, found...)
		}

		tr := newTracker(remote, s)
		var handles []*tracker.JobHandle
		for _, p := range packs {
			if p.JobID == "" {
				continue
			}
			kind := adsapi.KindImport
			if p.RefreshStatus == pack.StatusRefreshing {
				kind = adsapi.KindRefresh
			}
			h, err := tr.Resume(ctx, p.JobID, kind, p.ID)
			if err != nil {
				utils.Log.Warnf("Could not resume job %s: %v", p.JobID, err)
				continue
			}
			handles = append(handles, h)
		}
		if len(handles) == 0 {
			utils.Log.Info("No pending jobs to resume.")
			return nil
		}

		errs := make([]error, 0, len(handles))
		for _, h := range handles {
			<-h.Done()
			_, err := h.Wait(context.Background())
			errs = append(errs, err)
		}
		if failed := countFailures(errs); failed > 0 {
			return fmt.Errorf("%d of %d resumed jobs did not complete", failed, len(handles))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(resumeCmd)
	refreshCmd.Flags().Bool("all", false, "Refresh every pack marked for auto refresh")
	refreshCmd.Flags().Int("concurrency", 3, "Number of refresh jobs in flight with --all")
	refreshCmd.Flags().StringP("output", "o", "inds", "Output flags for refreshed packs. Supported: i (id), n (name), a (account), d (dates), s (stats), r (status)")
	refreshCmd.Flags().StringP("delimiter", "d", " ", "Delimiter character to use for txt output format")
}

func refreshAll(cmd *cobra.Command) error {
	concurrency, _ := cmd.Flags().GetInt("concurrency")
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

	ctx, stop := signalContext(cmd)
	defer stop()

	packs, err := s.cache.List(ctx, storage.ListOptions{})
	if err != nil {
		return err
	}
	var due []pack.Pack
	for _, p := range packs {
		if p.AutoRefresh && !p.IsSpeculative() {
			due = append(due, p)
		}
	}
	if len(due) == 0 {
		utils.Log.Info("No packs marked for auto refresh.")
		return nil
	}

	tr := newTracker(remote, s)
	results := tr.RefreshAll(ctx, due, concurrency, func(r tracker.BatchResult) {
		if r.Err == nil {
			_ = pack.PrintPack(os.Stdout, r.Pack, output, delimiter)
		}
	})

	errs := make([]error, 0, len(results))
	for _, r := range results {
		errs = append(errs, r.Err)
	}
	if failed := countFailures(errs); failed > 0 {
		return fmt.Errorf("%d of %d refreshes failed", failed, len(results))
	}
	return nil
}
