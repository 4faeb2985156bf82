package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/polling"
	"github.com/packsync/packsync/pkg/tracker"
)

// importCmd implements: packsync import
//
//	--name string        Pack name
//	--account string     Ad account id (act_...)
//	--from, --to string  Date range, YYYY-MM-DD
//	--filter strings     field:operator:value, repeatable
//	--auto-refresh       Mark the pack for scheduled refreshes
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import ads into a new pack and wait for the job to finish",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		account, _ := cmd.Flags().GetString("account")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		rawFilters, _ := cmd.Flags().GetStringArray("filter")
		autoRefresh, _ := cmd.Flags().GetBool("auto-refresh")

		filters, err := parseFilters(rawFilters)
		if err != nil {
			return err
		}

		params := adsapi.SubmitParams{
			Kind:        adsapi.KindImport,
			Name:        name,
			AdAccountID: account,
			DateStart:   from,
			DateStop:    to,
			Filters:     filters,
			AutoRefresh: autoRefresh,
		}
		return runTracked(cmd, params)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().String("name", "", "Pack name")
	importCmd.Flags().String("account", "", "Ad account id (act_...)")
	importCmd.Flags().String("from", "", "First day to collect, YYYY-MM-DD")
	importCmd.Flags().String("to", "", "Last day to collect, YYYY-MM-DD")
	importCmd.Flags().StringArray("filter", nil, "Ad filter as field:operator:value (repeatable)")
	importCmd.Flags().Bool("auto-refresh", false, "Refresh the pack on scheduled runs")
	importCmd.Flags().StringP("output", "o", "inds", "Output flags for the finished pack. Supported: i (id), n (name), a (account), d (dates), s (stats), r (status)")
	importCmd.Flags().StringP("delimiter", "d", " ", "Delimiter character to use for txt output format")
}

func parseFilters(raw []string) ([]pack.Filter, error) {
	filters := make([]pack.Filter, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid filter %q, expected field:operator:value", r)
		}
		f := pack.Filter{Field: parts[0], Operator: parts[1]}
		if len(parts) == 3 {
			f.Value = parts[2]
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// runTracked submits one job and blocks until it ends, printing progress to
// stderr and the finished pack to stdout.
func runTracked(cmd *cobra.Command, params adsapi.SubmitParams) error {
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

	tr := newTracker(remote, s)
	h, err := tr.SubmitAndTrack(ctx, params, tracker.WithProgress(printProgress))
	if err != nil {
		return err
	}
	return waitAndPrint(cmd, h)
}

func waitAndPrint(cmd *cobra.Command, h *tracker.JobHandle) error {
	p, err := h.Wait(context.Background())
	fmt.Fprintln(os.Stderr)
	if err != nil {
		// The notifier already told the user how the job ended.
		return jobExitErr(err)
	}
	output, _ := cmd.Flags().GetString("output")
	delimiter, _ := cmd.Flags().GetString("delimiter")
	return pack.PrintPack(os.Stdout, p, output, delimiter)
}

func printProgress(p polling.Progress) {
	fmt.Fprintf(os.Stderr, "\r[%3d%%] %-12s %-60.60s", p.Percent, p.Stage, p.Message)
}
