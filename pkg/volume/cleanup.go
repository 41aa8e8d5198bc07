package volume

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/cuemby/ebspin/pkg/metrics"
	"github.com/cuemby/ebspin/pkg/types"
)

// CleanOldVolumes deletes every volume tagged with identity except
// keepVolumeID. A failed delete is logged and the sweep moves on; only a
// failure to list the volumes is returned.
func (g *EC2Gateway) CleanOldVolumes(ctx context.Context, identity, keepVolumeID string) (CleanupResult, error) {
	var result CleanupResult

	g.logger.Info().Str("uuid", identity).Str("keep", keepVolumeID).Msg("Deleting old volumes")

	vols, err := g.listVolumes(ctx, identityFilter(identity))
	if err != nil {
		return result, providerError("list volumes", identity, err)
	}

	for _, vol := range vols {
		if vol.ID == keepVolumeID {
			continue
		}

		g.logger.Info().Str("volume_id", vol.ID).Str("state", string(vol.State)).Msg("Deleting volume")
		err := exec(ctx, g, "DeleteVolume", func(ctx context.Context) error {
			_, err := g.api.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(vol.ID)})
			return err
		})
		if err != nil {
			g.logger.Error().Err(err).Str("volume_id", vol.ID).Msg("Failed to delete volume")
			metrics.CleanupTotal.WithLabelValues("volume", metrics.ResultError).Inc()
			result.Failed = append(result.Failed, vol.ID)
			continue
		}
		metrics.CleanupTotal.WithLabelValues("volume", metrics.ResultSuccess).Inc()
		result.Deleted = append(result.Deleted, vol.ID)
	}

	if len(result.Deleted)+len(result.Failed) == 0 {
		g.logger.Info().Str("uuid", identity).Msg("No old volumes detected")
	}
	return result, nil
}

// CleanSnapshots deletes every snapshot tagged with identity whose tag keys
// are exactly Name, UUID and the extra tag keys. Snapshots with any other tag
// belong to another tool and are left alone.
func (g *EC2Gateway) CleanSnapshots(ctx context.Context, identity string, extra types.Tags) (CleanupResult, error) {
	var result CleanupResult

	g.logger.Info().Str("uuid", identity).Msg("Deleting snapshots")

	snaps, err := g.listSnapshots(ctx, identityFilter(identity))
	if err != nil {
		return result, providerError("list snapshots", identity, err)
	}

	for _, snap := range snaps {
		if foreign, owned := types.ForeignTagKeys(snap.Tags, extra); !owned {
			g.logger.Info().
				Str("snapshot_id", snap.ID).
				Strs("unexpected_tags", foreign).
				Msg("Snapshot tags do not match the managed set, skipping")
			metrics.CleanupTotal.WithLabelValues("snapshot", metrics.ResultSkipped).Inc()
			result.Skipped = append(result.Skipped, snap.ID)
			continue
		}

		g.logger.Info().Str("snapshot_id", snap.ID).Msg("Deleting snapshot")
		err := exec(ctx, g, "DeleteSnapshot", func(ctx context.Context) error {
			_, err := g.api.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(snap.ID)})
			return err
		})
		if err != nil {
			g.logger.Error().Err(err).Str("snapshot_id", snap.ID).Msg("Failed to delete snapshot")
			metrics.CleanupTotal.WithLabelValues("snapshot", metrics.ResultError).Inc()
			result.Failed = append(result.Failed, snap.ID)
			continue
		}
		metrics.CleanupTotal.WithLabelValues("snapshot", metrics.ResultSuccess).Inc()
		result.Deleted = append(result.Deleted, snap.ID)
	}

	if len(snaps) == 0 {
		g.logger.Info().Str("uuid", identity).Msg("No snapshots detected")
	}
	return result, nil
}
