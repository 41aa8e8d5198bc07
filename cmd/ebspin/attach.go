package main

import (
	"context"
	"fmt"

	"github.com/cuemby/ebspin/pkg/metadata"
	"github.com/cuemby/ebspin/pkg/reconciler"
	"github.com/cuemby/ebspin/pkg/resolver"
	"github.com/cuemby/ebspin/pkg/telemetry"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Resolve the volume for an identity and attach it to this instance",
	Long: `Resolve the volume for an identity and attach it to this instance.

The instance id, availability zone and region come from the instance
metadata service unless given as flags. The attached volume id is printed
on stdout.

Examples:
  # Attach a 10GiB gp3 volume at /dev/xvdf
  ebspin attach --uuid 5d0f2c1a-9a43-4b0e-8f5e-0c7d3a1b2e44 --device /dev/xvdf --size 10 --type gp3

  # Add extra tags and keep a local history
  ebspin attach --uuid 5d0f... --device /dev/xvdf --size 10 --tag team=storage --journal /var/lib/ebspin/journal.db`,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().String("uuid", "", "Identity of the volume (required)")
	attachCmd.Flags().String("device", "", "Device path to attach at, e.g. /dev/xvdf (required)")
	attachCmd.Flags().Int32("size", 0, "Volume size in GiB (required)")
	attachCmd.Flags().String("type", "gp2", "Volume type")
	attachCmd.Flags().StringArray("tag", nil, "Extra tag key=value, repeatable")
	attachCmd.Flags().String("region", "", "Region override")
	attachCmd.Flags().String("az", "", "Availability zone override")
	attachCmd.Flags().String("instance-id", "", "Instance id override")
	attachCmd.Flags().String("journal", "", "Journal file recording each run")
	attachCmd.Flags().String("metrics-file", "", "Write metrics to this node_exporter textfile")
	attachCmd.Flags().Bool("trace", false, "Print trace spans to stderr")
	attachCmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits for the configured bounds)")

	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	rawIdentity, _ := cmd.Flags().GetString("uuid")
	device, _ := cmd.Flags().GetString("device")
	size, _ := cmd.Flags().GetInt32("size")
	volumeType, _ := cmd.Flags().GetString("type")
	tagPairs, _ := cmd.Flags().GetStringArray("tag")
	region, _ := cmd.Flags().GetString("region")
	zone, _ := cmd.Flags().GetString("az")
	instanceID, _ := cmd.Flags().GetString("instance-id")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	identity, err := parseIdentity(rawIdentity)
	if err != nil {
		return err
	}
	if device == "" {
		return types.Errorf(types.KindValidation, "parse flags", "--device is required")
	}
	if size <= 0 {
		return types.Errorf(types.KindValidation, "parse flags", "--size must be positive")
	}
	tags, err := parseTags(tagPairs)
	if err != nil {
		return err
	}

	cfg := configFrom(cmd)
	defer writeMetrics(cfg)

	ctx, cancel := commandContext(cmd.Context(), timeout)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "ebspin",
		Version:     Version,
		Exporter:    cfg.Tracing.Exporter,
	})
	if err != nil {
		return types.NewError(types.KindValidation, "init tracing", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	provider := metadata.WithOverrides(metadata.NewIMDSProvider(imdsClient), types.InstanceIdentity{
		Region:           region,
		AvailabilityZone: zone,
		InstanceID:       instanceID,
	})
	instance, err := provider.Identity(ctx)
	if err != nil {
		return err
	}

	gw, err := newGateway(ctx, cfg, instance.Region)
	if err != nil {
		return err
	}

	var opts []resolver.Option
	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	if journal != nil {
		defer journal.Close()
		opts = append(opts, resolver.WithRecorder(journal))
	}

	engine := resolver.New(gw, reconciler.New(gw), opts...)
	res, err := engine.Attach(ctx, resolver.Request{
		Identity:         identity,
		AvailabilityZone: instance.AvailabilityZone,
		InstanceID:       instance.InstanceID,
		Device:           device,
		Size:             size,
		Type:             volumeType,
		Tags:             tags,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.VolumeID)
	return nil
}
