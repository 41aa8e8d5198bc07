package reconciler

import (
	"context"
	"errors"

	"github.com/cuemby/ebspin/pkg/log"
	"github.com/cuemby/ebspin/pkg/metrics"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/volume"
)

// Report summarizes one reconcile pass
type Report struct {
	KeptVolumeID     string
	VolumesDeleted   []string
	VolumesFailed    []string
	SnapshotsDeleted []string
	SnapshotsSkipped []string
	SnapshotsFailed  []string
}

// Failed reports whether any individual delete failed
func (r Report) Failed() bool {
	return len(r.VolumesFailed)+len(r.SnapshotsFailed) > 0
}

// Reconciler deletes the volumes and snapshots an identity no longer needs
type Reconciler struct {
	gateway volume.Gateway
}

// New creates a reconciler over gateway
func New(gateway volume.Gateway) *Reconciler {
	return &Reconciler{gateway: gateway}
}

// Reconcile removes every volume of identity except keepVolumeID, then every
// snapshot of identity that passes the ownership guard for extra.
//
// An empty keepVolumeID keeps the latest volume. If the identity has no
// volume at all, snapshots are left in place since they are the only copy
// of the data.
//
// Individual delete failures are reported in the Report and do not stop the
// pass. The returned error is non-nil only when a listing call failed.
func (r *Reconciler) Reconcile(ctx context.Context, identity, keepVolumeID string, extra types.Tags) (Report, error) {
	timer := metrics.NewTimer()
	logger := log.WithIdentity(identity).With().Str("component", "reconciler").Logger()

	if keepVolumeID == "" {
		latest, err := r.gateway.FindLatestVolume(ctx, identity)
		if err != nil {
			return Report{}, err
		}
		if latest == "" {
			logger.Warn().Msg("No volume exists for identity, leaving snapshots in place")
			return Report{}, nil
		}
		keepVolumeID = latest
	}

	report := Report{KeptVolumeID: keepVolumeID}
	var errs []error

	vols, err := r.gateway.CleanOldVolumes(ctx, identity, keepVolumeID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list volumes for cleanup")
		errs = append(errs, err)
	}
	report.VolumesDeleted = vols.Deleted
	report.VolumesFailed = vols.Failed

	snaps, err := r.gateway.CleanSnapshots(ctx, identity, extra)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list snapshots for cleanup")
		errs = append(errs, err)
	}
	report.SnapshotsDeleted = snaps.Deleted
	report.SnapshotsSkipped = snaps.Skipped
	report.SnapshotsFailed = snaps.Failed

	logger.Info().
		Str("kept", keepVolumeID).
		Int("volumes_deleted", len(report.VolumesDeleted)).
		Int("volumes_failed", len(report.VolumesFailed)).
		Int("snapshots_deleted", len(report.SnapshotsDeleted)).
		Int("snapshots_skipped", len(report.SnapshotsSkipped)).
		Int("snapshots_failed", len(report.SnapshotsFailed)).
		Dur("took", timer.Duration()).
		Msg("Reconcile finished")

	return report, errors.Join(errs...)
}
