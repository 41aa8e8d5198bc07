// Package ec2fake provides an in-memory EC2 volume and snapshot API for tests.
//
// Resources settle the way the real service does, just faster: a created
// volume reports "creating", a snapshot "pending" and an attachment
// "attaching" for SettlePolls describe calls before reaching their final
// state. Errors are smithy API errors carrying the same codes EC2 uses.
package ec2fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// Operation names accepted by FailNext, FailOn and Calls
const (
	OpDescribeVolumes   = "DescribeVolumes"
	OpDescribeSnapshots = "DescribeSnapshots"
	OpDescribeTags      = "DescribeTags"
	OpCreateVolume      = "CreateVolume"
	OpCreateSnapshot    = "CreateSnapshot"
	OpCreateTags        = "CreateTags"
	OpAttachVolume      = "AttachVolume"
	OpDeleteVolume      = "DeleteVolume"
	OpDeleteSnapshot    = "DeleteSnapshot"
)

// APIError builds an error shaped like the ones the SDK returns
func APIError(code, format string, args ...any) error {
	return &smithy.GenericAPIError{Code: code, Message: fmt.Sprintf(format, args...)}
}

type volume struct {
	v         ec2types.Volume
	countdown int
}

type snapshot struct {
	s         ec2types.Snapshot
	countdown int
}

type instance struct {
	az   string
	name string
}

// EC2 is a fake EC2 client. The zero value is not usable; call New.
type EC2 struct {
	mu sync.Mutex

	// SettlePolls is how many describes a new resource survives in its
	// transitional state
	SettlePolls int

	volumes   map[string]*volume
	snapshots map[string]*snapshot
	instances map[string]*instance
	tokens    map[string]string

	// attachment countdowns keyed by volume id
	attaching map[string]int

	failNext map[string][]error
	failOn   map[string]error
	calls    map[string]int

	seq   int
	clock time.Time
}

// New returns an empty fake with a settle delay of one describe
func New() *EC2 {
	return &EC2{
		SettlePolls: 1,
		volumes:     make(map[string]*volume),
		snapshots:   make(map[string]*snapshot),
		instances:   make(map[string]*instance),
		tokens:      make(map[string]string),
		attaching:   make(map[string]int),
		failNext:    make(map[string][]error),
		failOn:      make(map[string]error),
		calls:       make(map[string]int),
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddInstance registers an instance. An empty name leaves it untagged.
func (f *EC2) AddInstance(id, az, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id] = &instance{az: az, name: name}
}

// AddVolume seeds an existing volume. Seeded resources keep their state
// until a call changes it.
func (f *EC2) AddVolume(v ec2types.Volume) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.VolumeId == nil {
		v.VolumeId = aws.String(f.nextID("vol"))
	}
	if v.State == "" {
		v.State = ec2types.VolumeStateAvailable
	}
	if v.CreateTime == nil {
		v.CreateTime = aws.Time(f.tick())
	}
	f.volumes[*v.VolumeId] = &volume{v: v}
}

// AddSnapshot seeds an existing snapshot
func (f *EC2) AddSnapshot(s ec2types.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.SnapshotId == nil {
		s.SnapshotId = aws.String(f.nextID("snap"))
	}
	if s.State == "" {
		s.State = ec2types.SnapshotStateCompleted
	}
	if s.StartTime == nil {
		s.StartTime = aws.Time(f.tick())
	}
	f.snapshots[*s.SnapshotId] = &snapshot{s: s}
}

// FailNext makes the next call of op return err. Calls queue in order.
func (f *EC2) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = append(f.failNext[op], err)
}

// FailOn makes every call of op against resourceID return err
func (f *EC2) FailOn(op, resourceID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[op+"/"+resourceID] = err
}

// Calls returns how many times op was invoked, failed calls included
func (f *EC2) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Volume returns a copy of a stored volume
func (f *EC2) Volume(id string) (ec2types.Volume, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[id]
	if !ok {
		return ec2types.Volume{}, false
	}
	return copyVolume(v.v), true
}

// Volumes returns copies of every stored volume
func (f *EC2) Volumes() []ec2types.Volume {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ec2types.Volume, 0, len(f.volumes))
	for _, v := range f.volumes {
		out = append(out, copyVolume(v.v))
	}
	return out
}

// Snapshot returns a copy of a stored snapshot
func (f *EC2) Snapshot(id string) (ec2types.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[id]
	if !ok {
		return ec2types.Snapshot{}, false
	}
	return copySnapshot(s.s), true
}

// Snapshots returns copies of every stored snapshot
func (f *EC2) Snapshots() []ec2types.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ec2types.Snapshot, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, copySnapshot(s.s))
	}
	return out
}

// SetVolumeState forces a volume into state
func (f *EC2) SetVolumeState(id string, state ec2types.VolumeState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.volumes[id]; ok {
		v.v.State = state
		v.countdown = 0
	}
}

// DescribeVolumes implements the EC2 call
func (f *EC2) DescribeVolumes(_ context.Context, in *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpDescribeVolumes, in.VolumeIds...); err != nil {
		return nil, err
	}

	var candidates []*volume
	if len(in.VolumeIds) > 0 {
		for _, id := range in.VolumeIds {
			v, ok := f.volumes[id]
			if !ok {
				return nil, APIError("InvalidVolume.NotFound", "The volume '%s' does not exist.", id)
			}
			candidates = append(candidates, v)
		}
	} else {
		for _, v := range f.volumes {
			candidates = append(candidates, v)
		}
	}

	out := &ec2.DescribeVolumesOutput{}
	for _, v := range candidates {
		if !matchVolume(v.v, in.Filters) {
			continue
		}
		f.settleVolume(v)
		out.Volumes = append(out.Volumes, copyVolume(v.v))
	}
	return out, nil
}

// DescribeSnapshots implements the EC2 call. OwnerIds is accepted and ignored.
func (f *EC2) DescribeSnapshots(_ context.Context, in *ec2.DescribeSnapshotsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpDescribeSnapshots, in.SnapshotIds...); err != nil {
		return nil, err
	}

	var candidates []*snapshot
	if len(in.SnapshotIds) > 0 {
		for _, id := range in.SnapshotIds {
			s, ok := f.snapshots[id]
			if !ok {
				return nil, APIError("InvalidSnapshot.NotFound", "The snapshot '%s' does not exist.", id)
			}
			candidates = append(candidates, s)
		}
	} else {
		for _, s := range f.snapshots {
			candidates = append(candidates, s)
		}
	}

	out := &ec2.DescribeSnapshotsOutput{}
	for _, s := range candidates {
		// settle before filtering so a status filter sees the current state
		f.settleSnapshot(s)
		if !matchSnapshot(s.s, in.Filters) {
			continue
		}
		out.Snapshots = append(out.Snapshots, copySnapshot(s.s))
	}
	return out, nil
}

// DescribeTags implements the EC2 call for instance tags. Only the
// resource-id and key filters are understood.
func (f *EC2) DescribeTags(_ context.Context, in *ec2.DescribeTagsInput, _ ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpDescribeTags); err != nil {
		return nil, err
	}

	var ids, keys []string
	for _, flt := range in.Filters {
		switch aws.ToString(flt.Name) {
		case "resource-id":
			ids = flt.Values
		case "key":
			keys = flt.Values
		}
	}

	out := &ec2.DescribeTagsOutput{}
	for _, id := range ids {
		inst, ok := f.instances[id]
		if !ok || inst.name == "" {
			continue
		}
		if len(keys) > 0 && !contains(keys, "Name") {
			continue
		}
		out.Tags = append(out.Tags, ec2types.TagDescription{
			ResourceId:   aws.String(id),
			ResourceType: ec2types.ResourceTypeInstance,
			Key:          aws.String("Name"),
			Value:        aws.String(inst.name),
		})
	}
	return out, nil
}

// CreateVolume implements the EC2 call. A repeated ClientToken returns the
// volume created by the first call.
func (f *EC2) CreateVolume(_ context.Context, in *ec2.CreateVolumeInput, _ ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateVolume, aws.ToString(in.AvailabilityZone)); err != nil {
		return nil, err
	}

	token := aws.ToString(in.ClientToken)
	if id, ok := f.tokens[token]; ok && token != "" {
		v := f.volumes[id]
		return &ec2.CreateVolumeOutput{VolumeId: v.v.VolumeId, State: v.v.State}, nil
	}

	if aws.ToString(in.AvailabilityZone) == "" {
		return nil, APIError("MissingParameter", "The request must contain the parameter AvailabilityZone")
	}

	size := in.Size
	if in.SnapshotId != nil {
		s, ok := f.snapshots[*in.SnapshotId]
		if !ok {
			return nil, APIError("InvalidSnapshot.NotFound", "The snapshot '%s' does not exist.", *in.SnapshotId)
		}
		if s.s.State != ec2types.SnapshotStateCompleted {
			return nil, APIError("IncorrectState", "Snapshot '%s' is not 'completed'.", *in.SnapshotId)
		}
		if size == nil {
			size = s.s.VolumeSize
		}
	}
	if size == nil {
		return nil, APIError("MissingParameter", "The request must contain the parameter size or snapshotId")
	}

	id := f.nextID("vol")
	v := &volume{
		v: ec2types.Volume{
			VolumeId:         aws.String(id),
			AvailabilityZone: in.AvailabilityZone,
			Size:             size,
			SnapshotId:       in.SnapshotId,
			VolumeType:       in.VolumeType,
			State:            ec2types.VolumeStateCreating,
			CreateTime:       aws.Time(f.tick()),
		},
		countdown: f.SettlePolls,
	}
	if v.countdown <= 0 {
		v.v.State = ec2types.VolumeStateAvailable
	}
	f.volumes[id] = v
	if token != "" {
		f.tokens[token] = id
	}
	return &ec2.CreateVolumeOutput{VolumeId: aws.String(id), State: v.v.State}, nil
}

// CreateSnapshot implements the EC2 call
func (f *EC2) CreateSnapshot(_ context.Context, in *ec2.CreateSnapshotInput, _ ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	volumeID := aws.ToString(in.VolumeId)
	if err := f.enter(OpCreateSnapshot, volumeID); err != nil {
		return nil, err
	}

	v, ok := f.volumes[volumeID]
	if !ok {
		return nil, APIError("InvalidVolume.NotFound", "The volume '%s' does not exist.", volumeID)
	}

	id := f.nextID("snap")
	s := &snapshot{
		s: ec2types.Snapshot{
			SnapshotId:  aws.String(id),
			VolumeId:    aws.String(volumeID),
			VolumeSize:  v.v.Size,
			Description: in.Description,
			State:       ec2types.SnapshotStatePending,
			StartTime:   aws.Time(f.tick()),
			OwnerId:     aws.String("self"),
		},
		countdown: f.SettlePolls,
	}
	if s.countdown <= 0 {
		s.s.State = ec2types.SnapshotStateCompleted
	}
	f.snapshots[id] = s
	return &ec2.CreateSnapshotOutput{SnapshotId: aws.String(id), VolumeId: aws.String(volumeID), State: s.s.State}, nil
}

// CreateTags implements the EC2 call on volumes and snapshots. Keys under
// the reserved aws: prefix are rejected.
func (f *EC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateTags, in.Resources...); err != nil {
		return nil, err
	}

	for _, t := range in.Tags {
		if strings.HasPrefix(aws.ToString(t.Key), "aws:") {
			return nil, APIError("InvalidParameterValue", "Tag keys starting with 'aws:' are reserved for internal use")
		}
	}

	for _, id := range in.Resources {
		switch {
		case f.volumes[id] != nil:
			v := f.volumes[id]
			v.v.Tags = mergeTags(v.v.Tags, in.Tags)
		case f.snapshots[id] != nil:
			s := f.snapshots[id]
			s.s.Tags = mergeTags(s.s.Tags, in.Tags)
		default:
			return nil, APIError("InvalidID", "The ID '%s' is not valid", id)
		}
	}
	return &ec2.CreateTagsOutput{}, nil
}

// AttachVolume implements the EC2 call. The volume must be available and in
// the instance's zone.
func (f *EC2) AttachVolume(_ context.Context, in *ec2.AttachVolumeInput, _ ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	volumeID := aws.ToString(in.VolumeId)
	instanceID := aws.ToString(in.InstanceId)
	if err := f.enter(OpAttachVolume, volumeID); err != nil {
		return nil, err
	}

	v, ok := f.volumes[volumeID]
	if !ok {
		return nil, APIError("InvalidVolume.NotFound", "The volume '%s' does not exist.", volumeID)
	}
	inst, ok := f.instances[instanceID]
	if !ok {
		return nil, APIError("InvalidInstanceID.NotFound", "The instance ID '%s' does not exist", instanceID)
	}
	if v.v.State != ec2types.VolumeStateAvailable {
		return nil, APIError("IncorrectState", "vol '%s' is not 'available'.", volumeID)
	}
	if aws.ToString(v.v.AvailabilityZone) != inst.az {
		return nil, APIError("InvalidVolume.ZoneMismatch",
			"The volume '%s' is not in the same availability zone as instance '%s'", volumeID, instanceID)
	}

	state := ec2types.VolumeAttachmentStateAttaching
	if f.SettlePolls <= 0 {
		state = ec2types.VolumeAttachmentStateAttached
	} else {
		f.attaching[volumeID] = f.SettlePolls
	}
	v.v.State = ec2types.VolumeStateInUse
	v.v.Attachments = []ec2types.VolumeAttachment{{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
		Device:     in.Device,
		State:      state,
		AttachTime: aws.Time(f.tick()),
	}}
	return &ec2.AttachVolumeOutput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
		Device:     in.Device,
		State:      state,
	}, nil
}

// DeleteVolume implements the EC2 call. Attached volumes cannot be deleted.
func (f *EC2) DeleteVolume(_ context.Context, in *ec2.DeleteVolumeInput, _ ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	volumeID := aws.ToString(in.VolumeId)
	if err := f.enter(OpDeleteVolume, volumeID); err != nil {
		return nil, err
	}

	v, ok := f.volumes[volumeID]
	if !ok {
		return nil, APIError("InvalidVolume.NotFound", "The volume '%s' does not exist.", volumeID)
	}
	if v.v.State == ec2types.VolumeStateInUse {
		return nil, APIError("VolumeInUse", "Volume %s is currently attached", volumeID)
	}
	delete(f.volumes, volumeID)
	return &ec2.DeleteVolumeOutput{}, nil
}

// DeleteSnapshot implements the EC2 call
func (f *EC2) DeleteSnapshot(_ context.Context, in *ec2.DeleteSnapshotInput, _ ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshotID := aws.ToString(in.SnapshotId)
	if err := f.enter(OpDeleteSnapshot, snapshotID); err != nil {
		return nil, err
	}

	if _, ok := f.snapshots[snapshotID]; !ok {
		return nil, APIError("InvalidSnapshot.NotFound", "The snapshot '%s' does not exist.", snapshotID)
	}
	delete(f.snapshots, snapshotID)
	return &ec2.DeleteSnapshotOutput{}, nil
}

// enter counts the call and returns any injected failure. Callers hold mu.
func (f *EC2) enter(op string, resources ...string) error {
	f.calls[op]++
	if q := f.failNext[op]; len(q) > 0 {
		f.failNext[op] = q[1:]
		return q[0]
	}
	for _, id := range resources {
		if err, ok := f.failOn[op+"/"+id]; ok {
			return err
		}
	}
	return nil
}

func (f *EC2) settleVolume(v *volume) {
	if v.v.State == ec2types.VolumeStateCreating && v.countdown > 0 {
		v.countdown--
		if v.countdown == 0 {
			v.v.State = ec2types.VolumeStateAvailable
		}
	}

	id := aws.ToString(v.v.VolumeId)
	if n, ok := f.attaching[id]; ok {
		n--
		if n <= 0 {
			delete(f.attaching, id)
			for i := range v.v.Attachments {
				v.v.Attachments[i].State = ec2types.VolumeAttachmentStateAttached
			}
		} else {
			f.attaching[id] = n
		}
	}
}

func (f *EC2) settleSnapshot(s *snapshot) {
	if s.s.State != ec2types.SnapshotStatePending || s.countdown == 0 {
		return
	}
	s.countdown--
	if s.countdown == 0 {
		s.s.State = ec2types.SnapshotStateCompleted
		s.s.Progress = aws.String("100%")
	}
}

func (f *EC2) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%017x", prefix, f.seq)
}

// tick advances the fake clock so creation order is strictly increasing
func (f *EC2) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func matchVolume(v ec2types.Volume, filters []ec2types.Filter) bool {
	for _, flt := range filters {
		name := aws.ToString(flt.Name)
		switch {
		case strings.HasPrefix(name, "tag:"):
			if !hasTag(v.Tags, strings.TrimPrefix(name, "tag:"), flt.Values) {
				return false
			}
		case name == "status":
			if !contains(flt.Values, string(v.State)) {
				return false
			}
		case name == "availability-zone":
			if !contains(flt.Values, aws.ToString(v.AvailabilityZone)) {
				return false
			}
		case name == "attachment.instance-id":
			found := false
			for _, a := range v.Attachments {
				if contains(flt.Values, aws.ToString(a.InstanceId)) {
					found = true
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func matchSnapshot(s ec2types.Snapshot, filters []ec2types.Filter) bool {
	for _, flt := range filters {
		name := aws.ToString(flt.Name)
		switch {
		case strings.HasPrefix(name, "tag:"):
			if !hasTag(s.Tags, strings.TrimPrefix(name, "tag:"), flt.Values) {
				return false
			}
		case name == "status":
			if !contains(flt.Values, string(s.State)) {
				return false
			}
		case name == "volume-id":
			if !contains(flt.Values, aws.ToString(s.VolumeId)) {
				return false
			}
		}
	}
	return true
}

func hasTag(tags []ec2types.Tag, key string, values []string) bool {
	for _, t := range tags {
		if aws.ToString(t.Key) == key && contains(values, aws.ToString(t.Value)) {
			return true
		}
	}
	return false
}

func mergeTags(existing, add []ec2types.Tag) []ec2types.Tag {
	out := append([]ec2types.Tag(nil), existing...)
	for _, t := range add {
		replaced := false
		for i := range out {
			if aws.ToString(out[i].Key) == aws.ToString(t.Key) {
				out[i].Value = t.Value
				replaced = true
			}
		}
		if !replaced {
			out = append(out, ec2types.Tag{Key: t.Key, Value: t.Value})
		}
	}
	return out
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func copyVolume(v ec2types.Volume) ec2types.Volume {
	v.Tags = append([]ec2types.Tag(nil), v.Tags...)
	v.Attachments = append([]ec2types.VolumeAttachment(nil), v.Attachments...)
	return v
}

func copySnapshot(s ec2types.Snapshot) ec2types.Snapshot {
	s.Tags = append([]ec2types.Tag(nil), s.Tags...)
	return s
}
