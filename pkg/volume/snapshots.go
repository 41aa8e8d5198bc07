package volume

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cuemby/ebspin/pkg/metrics"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/waiter"
)

// listSnapshots pages through every snapshot owned by this account matching filters
func (g *EC2Gateway) listSnapshots(ctx context.Context, filters ...ec2types.Filter) ([]types.Snapshot, error) {
	return call(ctx, g, "DescribeSnapshots", func(ctx context.Context) ([]types.Snapshot, error) {
		var snaps []types.Snapshot
		p := ec2.NewDescribeSnapshotsPaginator(g.api, &ec2.DescribeSnapshotsInput{
			Filters:  filters,
			OwnerIds: []string{"self"},
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, s := range page.Snapshots {
				snaps = append(snaps, fromEC2Snapshot(s))
			}
		}
		return snaps, nil
	})
}

// FindLatestSnapshot returns the newest completed snapshot for identity, or ""
// when there is none. Pending snapshots never win.
func (g *EC2Gateway) FindLatestSnapshot(ctx context.Context, identity string) (string, error) {
	snaps, err := g.listSnapshots(ctx,
		identityFilter(identity),
		ec2types.Filter{Name: aws.String("status"), Values: []string{string(types.SnapshotStateCompleted)}},
	)
	if err != nil {
		return "", providerError("find latest snapshot", identity, err)
	}

	latest := latestCompletedSnapshot(snaps)
	if latest == nil {
		g.logger.Info().Str("uuid", identity).Msg("No completed snapshot found")
		return "", nil
	}

	g.logger.Info().
		Str("uuid", identity).
		Str("snapshot_id", latest.ID).
		Time("started_at", latest.StartedAt).
		Msg("Found latest snapshot")
	return latest.ID, nil
}

// CreateSnapshot snapshots volumeID, copies the volume's tags and extra onto
// the snapshot and blocks until it completes
func (g *EC2Gateway) CreateSnapshot(ctx context.Context, volumeID string, extra types.Tags) (string, error) {
	vol, err := g.DescribeVolume(ctx, volumeID)
	if err != nil {
		return "", err
	}

	snapshotID, err := call(ctx, g, "CreateSnapshot", func(ctx context.Context) (string, error) {
		out, err := g.api.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
			VolumeId:    aws.String(volumeID),
			Description: aws.String(fmt.Sprintf("ebspin %s", vol.Tags[types.TagIdentity])),
		})
		if err != nil {
			return "", err
		}
		return aws.ToString(out.SnapshotId), nil
	})
	if err != nil {
		return "", types.NewError(types.KindProvisioning, "create snapshot", err).WithResource(volumeID)
	}

	tags := vol.Tags.Merge(extra)
	if err := g.createTags(ctx, snapshotID, tags); err != nil {
		return "", providerError("tag snapshot", snapshotID, err)
	}

	g.logger.Info().
		Str("snapshot_id", snapshotID).
		Str("volume_id", volumeID).
		Strs("tags", tags.Keys()).
		Msg("Snapshot started, waiting for it to complete")

	if err := g.waitSnapshotCompleted(ctx, snapshotID); err != nil {
		return "", err
	}

	g.logger.Info().Str("snapshot_id", snapshotID).Msg("Snapshot completed")
	return snapshotID, nil
}

func (g *EC2Gateway) waitSnapshotCompleted(ctx context.Context, snapshotID string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.WaitDuration, "snapshot")

	desc := fmt.Sprintf("snapshot %s to complete", snapshotID)
	return waiter.For(ctx, g.snapshotWaiter, desc, func(ctx context.Context) (bool, error) {
		state, err := call(ctx, g, "DescribeSnapshots", func(ctx context.Context) (types.SnapshotState, error) {
			out, err := g.api.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: []string{snapshotID}})
			if err != nil {
				return "", err
			}
			if len(out.Snapshots) == 0 {
				return "", nil
			}
			return types.SnapshotState(out.Snapshots[0].State), nil
		})
		if isNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, providerError("describe snapshot", snapshotID, err)
		}
		if state == types.SnapshotStateError {
			return false, types.Errorf(types.KindProvisioning, "wait snapshot completed",
				"snapshot %s entered the error state", snapshotID)
		}
		return state == types.SnapshotStateCompleted, nil
	})
}
