package resolver

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cuemby/ebspin/pkg/reconciler"
	"github.com/cuemby/ebspin/pkg/retry"
	"github.com/cuemby/ebspin/pkg/storage"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/volume"
	"github.com/cuemby/ebspin/pkg/volume/ec2fake"
	"github.com/cuemby/ebspin/pkg/waiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"
)

const (
	identity = "X"
	zoneA    = "a"
	zoneB    = "b"
	device   = "/dev/xvdf"
)

type memRecorder struct {
	mu      sync.Mutex
	records []storage.Record
}

func (m *memRecorder) PutRecord(rec *storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

type harness struct {
	fake     *ec2fake.EC2
	engine   *Engine
	recorder *memRecorder
	spans    *tracetest.SpanRecorder
}

func newHarness(t *testing.T, instanceZone string) *harness {
	t.Helper()

	fake := ec2fake.New()
	fake.SettlePolls = 2
	fake.AddInstance("i-1", instanceZone, "db-1")

	gw := volume.NewEC2Gateway(fake, volume.Options{
		Retry:          retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2},
		VolumeWaiter:   waiter.New(time.Second, time.Millisecond),
		SnapshotWaiter: waiter.New(time.Second, time.Millisecond),
		AttachWaiter:   waiter.New(time.Second, time.Millisecond),
		Limiter:        rate.NewLimiter(rate.Inf, 1),
	})

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rec := &memRecorder{}
	return &harness{
		fake:     fake,
		engine:   New(gw, reconciler.New(gw), WithRecorder(rec), WithTracerProvider(tp)),
		recorder: rec,
		spans:    spans,
	}
}

func request(zone string) Request {
	return Request{
		Identity:         identity,
		AvailabilityZone: zone,
		InstanceID:       "i-1",
		Device:           device,
		Size:             10,
		Type:             "gp2",
	}
}

func tagsOf(tags []ec2types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

func (h *harness) seedVolume(id, zone string, created time.Time) {
	h.fake.AddVolume(ec2types.Volume{
		VolumeId:         aws.String(id),
		AvailabilityZone: aws.String(zone),
		Size:             aws.Int32(10),
		VolumeType:       ec2types.VolumeTypeGp2,
		CreateTime:       aws.Time(created),
		Tags: []ec2types.Tag{
			{Key: aws.String(types.TagName), Value: aws.String("db-1-" + device)},
			{Key: aws.String(types.TagIdentity), Value: aws.String(identity)},
		},
	})
}

func TestAttachFreshVolume(t *testing.T) {
	h := newHarness(t, zoneA)

	res, err := h.engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)
	assert.Equal(t, types.PathFresh, res.Path)
	assert.Empty(t, res.SnapshotID)

	vols := h.fake.Volumes()
	require.Len(t, vols, 1)
	vol := vols[0]
	assert.Equal(t, res.VolumeID, aws.ToString(vol.VolumeId))
	assert.Equal(t, zoneA, aws.ToString(vol.AvailabilityZone))
	assert.Equal(t, int32(10), aws.ToInt32(vol.Size))
	assert.Equal(t, ec2types.VolumeTypeGp2, vol.VolumeType)
	assert.Equal(t, map[string]string{
		types.TagName:     "db-1-" + device,
		types.TagIdentity: identity,
	}, tagsOf(vol.Tags))

	require.Len(t, vol.Attachments, 1)
	assert.Equal(t, "i-1", aws.ToString(vol.Attachments[0].InstanceId))
	assert.Equal(t, device, aws.ToString(vol.Attachments[0].Device))
	assert.Equal(t, ec2types.VolumeAttachmentStateAttached, vol.Attachments[0].State)

	assert.Empty(t, h.fake.Snapshots())
}

func TestAttachRestoresFromSnapshot(t *testing.T) {
	h := newHarness(t, zoneA)
	h.fake.AddSnapshot(ec2types.Snapshot{
		SnapshotId: aws.String("snap-1"),
		VolumeSize: aws.Int32(10),
		Tags: []ec2types.Tag{
			{Key: aws.String(types.TagName), Value: aws.String("db-1-" + device)},
			{Key: aws.String(types.TagIdentity), Value: aws.String(identity)},
		},
	})

	res, err := h.engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)
	assert.Equal(t, types.PathRestore, res.Path)
	assert.Equal(t, "snap-1", res.SnapshotID)

	vol, ok := h.fake.Volume(res.VolumeID)
	require.True(t, ok)
	assert.Equal(t, "snap-1", aws.ToString(vol.SnapshotId))

	// the seed snapshot is superseded once its volume is attached
	assert.Equal(t, []string{"snap-1"}, res.Cleanup.SnapshotsDeleted)
}

func TestAttachReusesVolumeInSameZone(t *testing.T) {
	h := newHarness(t, zoneA)
	h.seedVolume("v1", zoneA, time.Now())

	res, err := h.engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)
	assert.Equal(t, types.PathReuse, res.Path)
	assert.Equal(t, "v1", res.VolumeID)

	assert.Equal(t, 0, h.fake.Calls(ec2fake.OpCreateVolume))
	assert.Equal(t, 0, h.fake.Calls(ec2fake.OpCreateSnapshot))
	assert.Equal(t, 0, h.fake.Calls(ec2fake.OpCreateTags), "reused volumes keep their tags")

	vol, _ := h.fake.Volume("v1")
	require.Len(t, vol.Attachments, 1)
	assert.Equal(t, ec2types.VolumeAttachmentStateAttached, vol.Attachments[0].State)
}

func TestAttachMigratesAcrossZones(t *testing.T) {
	h := newHarness(t, zoneB)
	h.seedVolume("v1", zoneA, time.Now())

	req := request(zoneB)
	req.Tags = types.Tags{"team": "storage"}

	res, err := h.engine.Attach(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.PathMigrate, res.Path)

	assert.Equal(t, 1, h.fake.Calls(ec2fake.OpCreateSnapshot))
	assert.Equal(t, 1, h.fake.Calls(ec2fake.OpCreateVolume))

	vols := h.fake.Volumes()
	require.Len(t, vols, 1, "the zone A volume is deleted")
	assert.Equal(t, res.VolumeID, aws.ToString(vols[0].VolumeId))
	assert.Equal(t, zoneB, aws.ToString(vols[0].AvailabilityZone))
	assert.Equal(t, res.SnapshotID, aws.ToString(vols[0].SnapshotId))
	assert.Equal(t, "storage", tagsOf(vols[0].Tags)["team"])

	assert.Equal(t, []string{"v1"}, res.Cleanup.VolumesDeleted)
	assert.Equal(t, []string{res.SnapshotID}, res.Cleanup.SnapshotsDeleted)
	assert.Empty(t, h.fake.Snapshots())
}

func TestAttachIsIdempotent(t *testing.T) {
	h := newHarness(t, zoneA)

	first, err := h.engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)
	second, err := h.engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)

	assert.Equal(t, types.PathFresh, first.Path)
	assert.Equal(t, types.PathReuse, second.Path)
	assert.Equal(t, first.VolumeID, second.VolumeID)

	assert.Len(t, h.fake.Volumes(), 1)
	assert.Equal(t, 1, h.fake.Calls(ec2fake.OpCreateVolume))
	assert.Equal(t, 0, h.fake.Calls(ec2fake.OpCreateSnapshot))
	assert.Equal(t, 1, h.fake.Calls(ec2fake.OpAttachVolume))
}

func TestAttachLatestVolumeWins(t *testing.T) {
	h := newHarness(t, zoneA)
	now := time.Now()
	h.seedVolume("v-old", zoneA, now.Add(-time.Hour))
	h.seedVolume("v-new", zoneA, now)

	res, err := h.engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)
	assert.Equal(t, "v-new", res.VolumeID)
	assert.Equal(t, []string{"v-old"}, res.Cleanup.VolumesDeleted)
}

func TestAttachLeavesForeignSnapshots(t *testing.T) {
	h := newHarness(t, zoneA)
	h.seedVolume("v1", zoneA, time.Now())
	h.fake.AddSnapshot(ec2types.Snapshot{
		SnapshotId: aws.String("snap-foreign"),
		VolumeSize: aws.Int32(10),
		Tags: []ec2types.Tag{
			{Key: aws.String(types.TagName), Value: aws.String("db-1-" + device)},
			{Key: aws.String(types.TagIdentity), Value: aws.String(identity)},
			{Key: aws.String("managed-by-other-tool"), Value: aws.String("true")},
		},
	})

	res, err := h.engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-foreign"}, res.Cleanup.SnapshotsSkipped)

	_, ok := h.fake.Snapshot("snap-foreign")
	assert.True(t, ok)
}

func TestAttachUsesInstanceIDWhenUntagged(t *testing.T) {
	h := newHarness(t, zoneA)
	h.fake.AddInstance("i-1", zoneA, "")

	res, err := h.engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)

	vol, _ := h.fake.Volume(res.VolumeID)
	assert.Equal(t, "i-1-"+device, tagsOf(vol.Tags)[types.TagName])
}

func TestAttachLookupFailureMakesNoChanges(t *testing.T) {
	h := newHarness(t, zoneA)
	h.fake.FailNext(ec2fake.OpDescribeVolumes, ec2fake.APIError("UnauthorizedOperation", "denied"))

	_, err := h.engine.Attach(context.Background(), request(zoneA))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProvider)

	for _, op := range []string{ec2fake.OpCreateVolume, ec2fake.OpCreateSnapshot, ec2fake.OpAttachVolume, ec2fake.OpDeleteVolume} {
		assert.Zero(t, h.fake.Calls(op), op)
	}

	require.Len(t, h.recorder.records, 1)
	rec := h.recorder.records[0]
	assert.Equal(t, storage.RecordAttach, rec.Kind)
	assert.Empty(t, rec.Path)
	assert.Contains(t, rec.Error, "ProviderError")
}

func TestAttachFailureKeepsOldResources(t *testing.T) {
	h := newHarness(t, zoneB)
	h.seedVolume("v1", zoneA, time.Now())
	h.fake.FailNext(ec2fake.OpAttachVolume, ec2fake.APIError("UnauthorizedOperation", "denied"))

	_, err := h.engine.Attach(context.Background(), request(zoneB))
	require.Error(t, err)

	_, ok := h.fake.Volume("v1")
	assert.True(t, ok, "nothing is deleted before the attach commits")
	assert.Zero(t, h.fake.Calls(ec2fake.OpDeleteVolume))
	assert.Len(t, h.fake.Snapshots(), 1)
}

func TestAttachSucceedsWhenCleanupFails(t *testing.T) {
	h := newHarness(t, zoneB)
	h.seedVolume("v1", zoneA, time.Now())
	h.fake.FailOn(ec2fake.OpDeleteVolume, "v1", ec2fake.APIError("VolumeInUse", "busy"))

	res, err := h.engine.Attach(context.Background(), request(zoneB))
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, res.Cleanup.VolumesFailed)
	assert.True(t, res.Cleanup.Failed())
}

func TestAttachWaitTimeout(t *testing.T) {
	h := newHarness(t, zoneA)
	h.fake.SettlePolls = 1 << 20

	engine := New(volume.NewEC2Gateway(h.fake, volume.Options{
		Retry:        retry.Policy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		VolumeWaiter: waiter.New(20*time.Millisecond, time.Millisecond),
		Limiter:      rate.NewLimiter(rate.Inf, 1),
	}), nil)

	_, err := engine.Attach(context.Background(), request(zoneA))
	assert.ErrorIs(t, err, types.ErrWaitTimeout)
}

func TestAttachValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"identity", func(r *Request) { r.Identity = "" }},
		{"zone", func(r *Request) { r.AvailabilityZone = "" }},
		{"instance", func(r *Request) { r.InstanceID = "" }},
		{"device", func(r *Request) { r.Device = "" }},
		{"size", func(r *Request) { r.Size = 0 }},
		{"type", func(r *Request) { r.Type = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, zoneA)
			req := request(zoneA)
			tt.mutate(&req)

			_, err := h.engine.Attach(context.Background(), req)
			assert.ErrorIs(t, err, types.ErrValidation)
			assert.Zero(t, h.fake.Calls(ec2fake.OpDescribeVolumes))
		})
	}
}

func TestAttachRecordsJournalAndSpans(t *testing.T) {
	h := newHarness(t, zoneB)
	h.seedVolume("v1", zoneA, time.Now())

	res, err := h.engine.Attach(context.Background(), request(zoneB))
	require.NoError(t, err)

	require.Len(t, h.recorder.records, 1)
	rec := h.recorder.records[0]
	assert.Equal(t, identity, rec.Identity)
	assert.Equal(t, "i-1", rec.InstanceID)
	assert.Equal(t, zoneB, rec.AvailabilityZone)
	assert.Equal(t, string(types.PathMigrate), rec.Path)
	assert.Equal(t, res.VolumeID, rec.VolumeID)
	assert.Equal(t, res.SnapshotID, rec.SnapshotID)
	assert.Contains(t, rec.Deleted, "v1")
	assert.True(t, rec.Succeeded())
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))

	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{
		"resolver.Attach",
		"resolver.migrate",
		"resolver.attach",
		"resolver.reconcile",
	}, names)
}

func TestAttachWithBoltJournal(t *testing.T) {
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer store.Close()

	h := newHarness(t, zoneA)
	gw := volume.NewEC2Gateway(h.fake, volume.Options{
		Retry:        retry.Policy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		VolumeWaiter: waiter.New(time.Second, time.Millisecond),
		AttachWaiter: waiter.New(time.Second, time.Millisecond),
		Limiter:      rate.NewLimiter(rate.Inf, 1),
	})
	engine := New(gw, reconciler.New(gw), WithRecorder(store))

	_, err = engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)
	_, err = engine.Attach(context.Background(), request(zoneA))
	require.NoError(t, err)

	records, err := store.ListRecords(identity)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, string(types.PathReuse), records[0].Path)
	assert.Equal(t, string(types.PathFresh), records[1].Path)
}
