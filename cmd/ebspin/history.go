package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/ebspin/pkg/storage"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past attach and clean runs from the journal",
	Long: `Show past attach and clean runs from the journal, newest first.

Examples:
  ebspin history --journal /var/lib/ebspin/journal.db
  ebspin history --journal /var/lib/ebspin/journal.db --uuid 5d0f2c1a-9a43-4b0e-8f5e-0c7d3a1b2e44

  # Show one run, including every resource it deleted
  ebspin history --journal /var/lib/ebspin/journal.db --id 0f6d2a52-3c1e-4a8b-9d57-1e2f3a4b5c6d`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("journal", "", "Journal file (default: journal.path from config)")
	historyCmd.Flags().String("uuid", "", "Only show runs for this identity")
	historyCmd.Flags().String("id", "", "Show a single run in detail")
	historyCmd.Flags().Int("limit", 20, "Maximum number of runs to show (0 for all)")
	historyCmd.Flags().Duration("prune", 0, "Delete runs older than this before listing")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	identity, _ := cmd.Flags().GetString("uuid")
	recordID, _ := cmd.Flags().GetString("id")
	limit, _ := cmd.Flags().GetInt("limit")
	prune, _ := cmd.Flags().GetDuration("prune")

	cfg := configFrom(cmd)
	if cfg.Journal.Path == "" {
		return types.Errorf(types.KindValidation, "history", "no journal configured, pass --journal")
	}

	store, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if prune > 0 {
		n, err := store.DeleteRecordsBefore(time.Now().Add(-prune))
		if err != nil {
			return types.NewError(types.KindValidation, "prune journal", err)
		}
		cmd.PrintErrf("Pruned %d records\n", n)
	}

	if recordID != "" {
		rec, err := store.GetRecord(recordID)
		if err != nil {
			return types.NewError(types.KindValidation, "read journal", err)
		}
		printRecord(cmd.OutOrStdout(), rec)
		return nil
	}

	records, err := store.ListRecords(identity)
	if err != nil {
		return types.NewError(types.KindValidation, "read journal", err)
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tKIND\tUUID\tINSTANCE\tAZ\tPATH\tVOLUME\tSNAPSHOT\tTOOK\tRESULT")
	for _, r := range records {
		result := "ok"
		if !r.Succeeded() {
			result = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.RFC3339),
			r.Kind,
			r.Identity,
			valueOrDash(r.InstanceID),
			valueOrDash(r.AvailabilityZone),
			valueOrDash(r.Path),
			valueOrDash(r.VolumeID),
			valueOrDash(r.SnapshotID),
			r.Duration().Round(time.Second),
			result,
		)
	}
	return w.Flush()
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printRecord(out io.Writer, r *storage.Record) {
	result := "ok"
	if !r.Succeeded() {
		result = r.Error
	}
	fmt.Fprintf(out, "ID:                %s\n", r.ID)
	fmt.Fprintf(out, "Kind:              %s\n", r.Kind)
	fmt.Fprintf(out, "UUID:              %s\n", r.Identity)
	fmt.Fprintf(out, "Instance:          %s\n", valueOrDash(r.InstanceID))
	fmt.Fprintf(out, "Availability zone: %s\n", valueOrDash(r.AvailabilityZone))
	fmt.Fprintf(out, "Device:            %s\n", valueOrDash(r.Device))
	fmt.Fprintf(out, "Path:              %s\n", valueOrDash(r.Path))
	fmt.Fprintf(out, "Volume:            %s\n", valueOrDash(r.VolumeID))
	fmt.Fprintf(out, "Snapshot:          %s\n", valueOrDash(r.SnapshotID))
	fmt.Fprintf(out, "Started:           %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Took:              %s\n", r.Duration().Round(time.Second))
	fmt.Fprintf(out, "Deleted:           %s\n", valueOrDash(strings.Join(r.Deleted, ", ")))
	fmt.Fprintf(out, "Result:            %s\n", result)
}
