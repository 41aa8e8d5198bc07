package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/cuemby/ebspin/pkg/config"
	"github.com/cuemby/ebspin/pkg/log"
	"github.com/cuemby/ebspin/pkg/metadata"
	"github.com/cuemby/ebspin/pkg/metrics"
	"github.com/cuemby/ebspin/pkg/storage"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/volume"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// loadConfig reads the config file and applies any flag that was set on
// the command line
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := config.DefaultPath
	if f := cmd.Flags().Lookup("config"); f != nil && f.Changed {
		path = f.Value.String()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, types.NewError(types.KindValidation, "load config", err)
	}

	if v, ok := changedString(cmd, "log-level"); ok {
		cfg.Logging.Level = v
	}
	if f := cmd.Flags().Lookup("json-logs"); f != nil && f.Changed && f.Value.String() == "true" {
		cfg.Logging.Format = "json"
	}
	if v, ok := changedString(cmd, "journal"); ok {
		cfg.Journal.Path = v
	}
	if v, ok := changedString(cmd, "metrics-file"); ok {
		cfg.Metrics.Textfile = v
	}
	if f := cmd.Flags().Lookup("trace"); f != nil && f.Changed && f.Value.String() == "true" {
		cfg.Tracing.Exporter = "stdout"
	}
	return cfg, nil
}

func changedString(cmd *cobra.Command, name string) (string, bool) {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return "", false
	}
	return f.Value.String(), true
}

type configKey struct{}

// configFrom returns the config loaded for this invocation by the root
// command's pre-run hook
func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// commandContext is cancelled on SIGINT/SIGTERM and after timeout, if set
func commandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// Provider clients. Tests replace these.
var (
	imdsClient metadata.IMDSAPI
	ec2Client  = newEC2Client
)

// newEC2Client builds the SDK client with the SDK retryer disabled, so a
// call is attempted exactly as often as the configured retry policy says
func newEC2Client(awsCfg aws.Config) volume.EC2API {
	return ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}

// newGateway builds the EC2 gateway for region from the default credential chain
func newGateway(ctx context.Context, cfg *config.Config, region string) (*volume.EC2Gateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, types.NewError(types.KindProvider, "load aws config", err)
	}
	return gatewayFor(ec2Client(awsCfg), cfg), nil
}

func gatewayFor(api volume.EC2API, cfg *config.Config) *volume.EC2Gateway {
	return volume.NewEC2Gateway(api, volume.Options{
		Retry:          cfg.RetryPolicy(),
		VolumeWaiter:   cfg.VolumeWaiter(),
		SnapshotWaiter: cfg.SnapshotWaiter(),
		AttachWaiter:   cfg.AttachWaiter(),
		Limiter:        rate.NewLimiter(rate.Limit(cfg.API.RequestsPerSecond), cfg.API.Burst),
	})
}

// openJournal opens the journal if one is configured. The returned store
// is nil when journaling is off.
func openJournal(cfg *config.Config) (storage.Store, error) {
	if cfg.Journal.Path == "" {
		return nil, nil
	}
	store, err := storage.NewBoltStore(cfg.Journal.Path)
	if err != nil {
		return nil, types.NewError(types.KindValidation, "open journal", err)
	}
	return store, nil
}

// writeMetrics exports the run's metrics for the node_exporter textfile collector
func writeMetrics(cfg *config.Config) {
	if cfg.Metrics.Textfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		log.Logger.Warn().Err(err).Str("path", cfg.Metrics.Textfile).Msg("Failed to write metrics textfile")
	}
}

// parseIdentity requires the identity to be a UUID
func parseIdentity(s string) (string, error) {
	if s == "" {
		return "", types.Errorf(types.KindValidation, "parse flags", "--uuid is required")
	}
	// the tag value is matched verbatim, so keep the caller's spelling
	if _, err := uuid.Parse(s); err != nil {
		return "", types.NewError(types.KindValidation, "parse flags", fmt.Errorf("--uuid %q: %w", s, err))
	}
	return s, nil
}

// parseTags turns repeated key=value flags into tags. A flag of the form
// key= leaves the tag unset.
func parseTags(pairs []string) (types.Tags, error) {
	tags := make(types.Tags, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, types.Errorf(types.KindValidation, "parse flags", "--tag %q is not key=value", p)
		}
		if k == types.TagName || k == types.TagIdentity {
			return nil, types.Errorf(types.KindValidation, "parse flags", "--tag %s is managed by ebspin", k)
		}
		tags[k] = v
	}
	return tags, nil
}
