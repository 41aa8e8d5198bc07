package volume

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/cuemby/ebspin/pkg/log"
	"github.com/cuemby/ebspin/pkg/retry"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/waiter"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Gateway is the storage surface the resolver and reconciler drive.
//
// Lookups that find nothing return an empty id and a nil error; provider
// faults are always returned as errors, never as "not found".
type Gateway interface {
	// FindLatestVolume returns the most recently created volume tagged with identity
	FindLatestVolume(ctx context.Context, identity string) (string, error)

	// FindLatestSnapshot returns the most recently started completed snapshot tagged with identity
	FindLatestSnapshot(ctx context.Context, identity string) (string, error)

	// DescribeVolume returns the current provider view of a volume
	DescribeVolume(ctx context.Context, volumeID string) (*types.Volume, error)

	// VolumeRegion returns the availability zone a volume lives in, or "" if unknown
	VolumeRegion(ctx context.Context, volumeID string) (string, error)

	// InstanceName returns the Name tag of an instance, or "" if it has none
	InstanceName(ctx context.Context, instanceID string) (string, error)

	// CreateVolume creates a volume and blocks until it is available
	CreateVolume(ctx context.Context, in CreateVolumeInput) (string, error)

	// CreateSnapshot snapshots a volume, copies its tags plus extra, and blocks until completed
	CreateSnapshot(ctx context.Context, volumeID string, extra types.Tags) (string, error)

	// TagVolume writes the Name, UUID and extra tags on a volume
	TagVolume(ctx context.Context, volumeID, name, identity string, extra types.Tags) error

	// AttachVolume waits for the volume to be available, attaches it and waits for the attachment
	AttachVolume(ctx context.Context, volumeID, instanceID, device string) (string, error)

	// CleanOldVolumes deletes every volume tagged with identity except keepVolumeID
	CleanOldVolumes(ctx context.Context, identity, keepVolumeID string) (CleanupResult, error)

	// CleanSnapshots deletes every snapshot tagged with identity that passes the ownership guard
	CleanSnapshots(ctx context.Context, identity string, extra types.Tags) (CleanupResult, error)
}

// EC2API defines the EC2 operations used by the gateway.
// This interface enables an in-memory fake for unit tests.
type EC2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	DescribeTags(ctx context.Context, params *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error)
	CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	AttachVolume(ctx context.Context, params *ec2.AttachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
}

// Ensure the SDK client and EC2Gateway satisfy the interfaces
var (
	_ EC2API  = (*ec2.Client)(nil)
	_ Gateway = (*EC2Gateway)(nil)
)

// CreateVolumeInput describes a volume to create. SnapshotID is optional.
type CreateVolumeInput struct {
	Size             int32
	Type             string
	AvailabilityZone string
	SnapshotID       string
}

// CleanupResult lists what a cleanup sweep did with each resource
type CleanupResult struct {
	Deleted []string
	Skipped []string
	Failed  []string
}

// Options tunes the gateway. Zero values fall back to defaults.
type Options struct {
	Retry          retry.Policy
	VolumeWaiter   waiter.Waiter
	SnapshotWaiter waiter.Waiter
	AttachWaiter   waiter.Waiter
	Limiter        *rate.Limiter
}

// DefaultOptions returns the stock retry policy, waits and API rate limit
func DefaultOptions() Options {
	return Options{
		Retry:          retry.DefaultPolicy(),
		VolumeWaiter:   waiter.Default(),
		SnapshotWaiter: waiter.New(60*time.Minute, 5*time.Second),
		AttachWaiter:   waiter.Default(),
		Limiter:        rate.NewLimiter(rate.Limit(10), 20),
	}
}

// EC2Gateway implements Gateway on top of the EC2 API
type EC2Gateway struct {
	api            EC2API
	policy         retry.Policy
	volumeWaiter   waiter.Waiter
	snapshotWaiter waiter.Waiter
	attachWaiter   waiter.Waiter
	limiter        *rate.Limiter
	logger         zerolog.Logger
}

// NewEC2Gateway creates a gateway around an EC2 client
func NewEC2Gateway(api EC2API, opts Options) *EC2Gateway {
	defaults := DefaultOptions()

	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = defaults.Retry
	}
	if opts.Retry.Retryable == nil {
		opts.Retry = opts.Retry.WithRetryable(IsRetryable)
	}
	if opts.VolumeWaiter.Timeout == 0 {
		opts.VolumeWaiter = defaults.VolumeWaiter
	}
	if opts.SnapshotWaiter.Timeout == 0 {
		opts.SnapshotWaiter = defaults.SnapshotWaiter
	}
	if opts.AttachWaiter.Timeout == 0 {
		opts.AttachWaiter = defaults.AttachWaiter
	}
	if opts.Limiter == nil {
		opts.Limiter = defaults.Limiter
	}

	return &EC2Gateway{
		api:            api,
		policy:         opts.Retry,
		volumeWaiter:   opts.VolumeWaiter,
		snapshotWaiter: opts.SnapshotWaiter,
		attachWaiter:   opts.AttachWaiter,
		limiter:        opts.Limiter,
		logger:         log.WithComponent("volume"),
	}
}
