package main

import (
	"fmt"
	"time"

	"github.com/cuemby/ebspin/pkg/metadata"
	"github.com/cuemby/ebspin/pkg/reconciler"
	"github.com/cuemby/ebspin/pkg/storage"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete superseded volumes and snapshots for an identity",
	Long: `Delete superseded volumes and snapshots for an identity.

This is the cleanup attach runs after every successful attach. Use it to
repair leftovers from an interrupted run. Without --keep the latest volume
for the identity is kept. Snapshots carrying tags other than Name, UUID and
the given --tag keys are never deleted.

Examples:
  ebspin clean --uuid 5d0f2c1a-9a43-4b0e-8f5e-0c7d3a1b2e44 --region us-east-1
  ebspin clean --uuid 5d0f... --keep vol-0123456789abcdef0 --tag team=storage`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().String("uuid", "", "Identity to clean up (required)")
	cleanCmd.Flags().String("keep", "", "Volume to keep (default: latest volume)")
	cleanCmd.Flags().StringArray("tag", nil, "Extra tag key=value expected on owned snapshots, repeatable")
	cleanCmd.Flags().String("region", "", "Region (default: from instance metadata)")
	cleanCmd.Flags().String("journal", "", "Journal file recording each run")
	cleanCmd.Flags().String("metrics-file", "", "Write metrics to this node_exporter textfile")
	cleanCmd.Flags().Duration("timeout", 0, "Give up after this long")

	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	rawIdentity, _ := cmd.Flags().GetString("uuid")
	keep, _ := cmd.Flags().GetString("keep")
	tagPairs, _ := cmd.Flags().GetStringArray("tag")
	region, _ := cmd.Flags().GetString("region")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	identity, err := parseIdentity(rawIdentity)
	if err != nil {
		return err
	}
	tags, err := parseTags(tagPairs)
	if err != nil {
		return err
	}

	cfg := configFrom(cmd)
	defer writeMetrics(cfg)

	ctx, cancel := commandContext(cmd.Context(), timeout)
	defer cancel()

	if region == "" {
		instance, err := metadata.NewIMDSProvider(imdsClient).Identity(ctx)
		if err != nil {
			return err
		}
		region = instance.Region
	}

	gw, err := newGateway(ctx, cfg, region)
	if err != nil {
		return err
	}

	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	rec := &storage.Record{
		ID:        uuid.NewString(),
		Kind:      storage.RecordClean,
		Identity:  identity,
		StartedAt: time.Now().UTC(),
	}

	report, err := reconciler.New(gw).Reconcile(ctx, identity, keep, tags)
	if err == nil && report.Failed() {
		err = types.Errorf(types.KindProvider, "clean",
			"%d volumes and %d snapshots could not be deleted",
			len(report.VolumesFailed), len(report.SnapshotsFailed))
	}

	rec.VolumeID = report.KeptVolumeID
	rec.Deleted = append(append([]string(nil), report.VolumesDeleted...), report.SnapshotsDeleted...)
	rec.FinishedAt = time.Now().UTC()
	if err != nil {
		rec.Error = err.Error()
	}
	if journal != nil {
		if jerr := journal.PutRecord(rec); jerr != nil {
			cmd.PrintErrf("Warning: failed to write journal record: %v\n", jerr)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Kept volume:       %s\n", valueOrNone(report.KeptVolumeID))
	fmt.Fprintf(out, "Volumes deleted:   %d\n", len(report.VolumesDeleted))
	fmt.Fprintf(out, "Snapshots deleted: %d\n", len(report.SnapshotsDeleted))
	fmt.Fprintf(out, "Snapshots skipped: %d\n", len(report.SnapshotsSkipped))
	for _, id := range report.VolumesFailed {
		fmt.Fprintf(out, "  failed: %s\n", id)
	}
	for _, id := range report.SnapshotsFailed {
		fmt.Fprintf(out, "  failed: %s\n", id)
	}

	return err
}

func valueOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
