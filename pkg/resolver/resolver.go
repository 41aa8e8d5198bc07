package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/ebspin/pkg/log"
	"github.com/cuemby/ebspin/pkg/metrics"
	"github.com/cuemby/ebspin/pkg/reconciler"
	"github.com/cuemby/ebspin/pkg/storage"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/volume"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cuemby/ebspin/pkg/resolver"

// Cleaner removes superseded resources once an attach has committed
type Cleaner interface {
	Reconcile(ctx context.Context, identity, keepVolumeID string, extra types.Tags) (reconciler.Report, error)
}

// Recorder persists a journal entry for every attach call
type Recorder interface {
	PutRecord(rec *storage.Record) error
}

// Request is everything needed to resolve and attach the volume for an identity
type Request struct {
	Identity         string
	AvailabilityZone string
	InstanceID       string
	Device           string
	Size             int32
	Type             string
	Tags             types.Tags
}

// Validate checks the request before any provider call is made
func (r Request) Validate() error {
	switch {
	case r.Identity == "":
		return types.Errorf(types.KindValidation, "attach", "identity is required")
	case r.AvailabilityZone == "":
		return types.Errorf(types.KindValidation, "attach", "availability zone is required")
	case r.InstanceID == "":
		return types.Errorf(types.KindValidation, "attach", "instance id is required")
	case r.Device == "":
		return types.Errorf(types.KindValidation, "attach", "device is required")
	case r.Size <= 0:
		return types.Errorf(types.KindValidation, "attach", "size must be positive, got %d", r.Size)
	case r.Type == "":
		return types.Errorf(types.KindValidation, "attach", "volume type is required")
	}
	return nil
}

// Result describes the volume that ended up attached
type Result struct {
	VolumeID string
	Path     types.ResolutionPath

	// SnapshotID is the snapshot the volume was created from, if any
	SnapshotID string

	// Cleanup is what the post-attach reconcile did
	Cleanup reconciler.Report
}

// Engine picks and executes a resolution path for each attach call.
// Calls for the same identity must not run concurrently.
type Engine struct {
	gateway  volume.Gateway
	cleaner  Cleaner
	recorder Recorder
	tracer   trace.Tracer
}

// Option configures an Engine
type Option func(*Engine)

// WithRecorder journals every attach call to r
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithTracerProvider takes spans from tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// New creates an engine driving gateway, with cleaner run after each attach
func New(gateway volume.Gateway, cleaner Cleaner, opts ...Option) *Engine {
	e := &Engine{
		gateway: gateway,
		cleaner: cleaner,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attach makes sure exactly one volume for req.Identity exists in
// req.AvailabilityZone and is attached to req.InstanceID at req.Device.
//
// Nothing is deleted until the attach succeeds. Errors before that point
// leave every existing resource in place and the call can simply be
// repeated. Cleanup failures after the attach are logged and reported in
// Result.Cleanup; they do not fail the call.
func (e *Engine) Attach(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	ctx, span := e.tracer.Start(ctx, "resolver.Attach",
		trace.WithAttributes(
			attribute.String("ebspin.identity", req.Identity),
			attribute.String("ebspin.availability_zone", req.AvailabilityZone),
			attribute.String("ebspin.instance_id", req.InstanceID),
			attribute.String("ebspin.device", req.Device),
		),
	)
	defer span.End()

	logger := log.WithIdentity(req.Identity).With().
		Str("component", "resolver").
		Str("instance_id", req.InstanceID).
		Str("availability_zone", req.AvailabilityZone).
		Str("device", req.Device).
		Logger()

	timer := metrics.NewTimer()
	rec := &storage.Record{
		ID:               uuid.NewString(),
		Kind:             storage.RecordAttach,
		Identity:         req.Identity,
		InstanceID:       req.InstanceID,
		AvailabilityZone: req.AvailabilityZone,
		Device:           req.Device,
		StartedAt:        time.Now().UTC(),
	}

	logger.Info().Msg("Resolving volume")
	res, err := e.resolve(ctx, logger, req)

	path := string(res.Path)
	if path == "" {
		path = "none"
	}
	span.SetAttributes(attribute.String("ebspin.path", path))

	rec.Path = string(res.Path)
	rec.VolumeID = res.VolumeID
	rec.SnapshotID = res.SnapshotID
	rec.Deleted = append(append([]string(nil), res.Cleanup.VolumesDeleted...), res.Cleanup.SnapshotsDeleted...)
	rec.FinishedAt = time.Now().UTC()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.AttachTotal.WithLabelValues(path, metrics.ResultError).Inc()
		rec.Error = err.Error()
		e.record(logger, rec)

		logger.Error().Err(err).Str("path", path).Msg("Attach failed")
		return Result{}, err
	}

	timer.ObserveDuration(metrics.AttachDuration)
	metrics.AttachTotal.WithLabelValues(path, metrics.ResultSuccess).Inc()
	span.SetAttributes(attribute.String("ebspin.volume_id", res.VolumeID))
	span.SetStatus(codes.Ok, "")
	e.record(logger, rec)

	logger.Info().
		Str("path", path).
		Str("volume_id", res.VolumeID).
		Str("snapshot_id", res.SnapshotID).
		Dur("took", timer.Duration()).
		Msg("Volume attached")
	return res, nil
}

func (e *Engine) resolve(ctx context.Context, logger zerolog.Logger, req Request) (Result, error) {
	var res Result

	existing, err := e.gateway.FindLatestVolume(ctx, req.Identity)
	if err != nil {
		return res, err
	}

	if existing == "" {
		snapshotID, err := e.gateway.FindLatestSnapshot(ctx, req.Identity)
		if err != nil {
			return res, err
		}

		res.SnapshotID = snapshotID
		res.Path = types.PathFresh
		if snapshotID != "" {
			res.Path = types.PathRestore
		}

		err = e.step(ctx, string(res.Path), func(ctx context.Context) error {
			res.VolumeID, err = e.provision(ctx, req, snapshotID)
			return err
		})
		if err != nil {
			return res, err
		}
	} else {
		currentAZ, err := e.gateway.VolumeRegion(ctx, existing)
		if err != nil {
			return res, err
		}

		if currentAZ == req.AvailabilityZone {
			res.Path = types.PathReuse
			res.VolumeID = existing
			logger.Info().Str("volume_id", existing).Msg("Volume already in target zone, reusing it")
		} else {
			res.Path = types.PathMigrate
			logger.Info().
				Str("volume_id", existing).
				Str("from", currentAZ).
				Str("to", req.AvailabilityZone).
				Msg("Volume is in another zone, migrating through a snapshot")

			err = e.step(ctx, string(res.Path), func(ctx context.Context) error {
				res.SnapshotID, err = e.gateway.CreateSnapshot(ctx, existing, req.Tags)
				if err != nil {
					return err
				}
				res.VolumeID, err = e.provision(ctx, req, res.SnapshotID)
				return err
			})
			if err != nil {
				return res, err
			}
		}
	}

	err = e.step(ctx, "attach", func(ctx context.Context) error {
		_, err := e.gateway.AttachVolume(ctx, res.VolumeID, req.InstanceID, req.Device)
		return err
	})
	if err != nil {
		return res, err
	}

	// the attach is the commit point; from here on failures are only logged
	_ = e.step(ctx, "reconcile", func(ctx context.Context) error {
		report, err := e.cleaner.Reconcile(ctx, req.Identity, res.VolumeID, req.Tags)
		res.Cleanup = report
		if err != nil {
			logger.Error().Err(err).Msg("Cleanup after attach failed, superseded resources remain")
		}
		return err
	})

	return res, nil
}

// provision creates a volume in the target zone, optionally from a
// snapshot, and tags it
func (e *Engine) provision(ctx context.Context, req Request, snapshotID string) (string, error) {
	name, err := e.volumeName(ctx, req)
	if err != nil {
		return "", err
	}

	volumeID, err := e.gateway.CreateVolume(ctx, volume.CreateVolumeInput{
		Size:             req.Size,
		Type:             req.Type,
		AvailabilityZone: req.AvailabilityZone,
		SnapshotID:       snapshotID,
	})
	if err != nil {
		return "", err
	}

	if err := e.gateway.TagVolume(ctx, volumeID, name, req.Identity, req.Tags); err != nil {
		return "", err
	}
	return volumeID, nil
}

// volumeName is "<instance name>-<device>". Untagged instances use their id.
func (e *Engine) volumeName(ctx context.Context, req Request) (string, error) {
	name, err := e.gateway.InstanceName(ctx, req.InstanceID)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = req.InstanceID
	}
	return fmt.Sprintf("%s-%s", name, req.Device), nil
}

// step runs fn in a child span
func (e *Engine) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("resolver.%s", name))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Engine) record(logger zerolog.Logger, rec *storage.Record) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.PutRecord(rec); err != nil {
		logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Failed to write journal record")
	}
}
