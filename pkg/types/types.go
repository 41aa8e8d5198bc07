package types

import (
	"sort"
	"time"
)

// Tag keys written on every managed volume and snapshot
const (
	TagName     = "Name"
	TagIdentity = "UUID"
)

// VolumeState represents the lifecycle state of a block volume
type VolumeState string

const (
	VolumeStateCreating  VolumeState = "creating"
	VolumeStateAvailable VolumeState = "available"
	VolumeStateInUse     VolumeState = "in-use"
	VolumeStateDeleting  VolumeState = "deleting"
	VolumeStateDeleted   VolumeState = "deleted"
	VolumeStateError     VolumeState = "error"
)

// SnapshotState represents the lifecycle state of a snapshot
type SnapshotState string

const (
	SnapshotStatePending   SnapshotState = "pending"
	SnapshotStateCompleted SnapshotState = "completed"
	SnapshotStateError     SnapshotState = "error"
)

// AttachmentState represents the state of a volume attachment
type AttachmentState string

const (
	AttachmentStateAttaching AttachmentState = "attaching"
	AttachmentStateAttached  AttachmentState = "attached"
	AttachmentStateDetaching AttachmentState = "detaching"
	AttachmentStateDetached  AttachmentState = "detached"
	AttachmentStateBusy      AttachmentState = "busy"
)

// Volume is a detachable block volume as reported by the provider
type Volume struct {
	ID               string
	State            VolumeState
	AvailabilityZone string
	Size             int32
	Type             string
	CreatedAt        time.Time
	Tags             Tags
	Attachments      []Attachment
}

// Attachment binds a volume to an instance at a device path
type Attachment struct {
	InstanceID string
	Device     string
	State      AttachmentState
}

// AttachedTo reports whether the volume is attached to instanceID. The
// device of the matching attachment is returned alongside.
func (v *Volume) AttachedTo(instanceID string) (string, bool) {
	for _, a := range v.Attachments {
		if a.InstanceID == instanceID && a.State == AttachmentStateAttached {
			return a.Device, true
		}
	}
	return "", false
}

// Snapshot is a point-in-time copy of a volume
type Snapshot struct {
	ID        string
	VolumeID  string
	State     SnapshotState
	StartedAt time.Time
	Tags      Tags
}

// ResolutionPath names the branch the resolver took for an attach call
type ResolutionPath string

const (
	PathFresh   ResolutionPath = "fresh"
	PathRestore ResolutionPath = "restore"
	PathReuse   ResolutionPath = "reuse"
	PathMigrate ResolutionPath = "migrate"
)

// InstanceIdentity is what the instance metadata service tells us about
// the machine we are running on
type InstanceIdentity struct {
	Region           string
	AvailabilityZone string
	InstanceID       string
}

// Tags is a tag key to value mapping. An empty value means "unset" and
// is never written to the provider.
type Tags map[string]string

// Normalize returns a copy without unset (empty-valued) entries
func (t Tags) Normalize() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Merge returns a copy of t overlaid with other. Unset entries in other
// do not clear values in t.
func (t Tags) Merge(other Tags) Tags {
	out := t.Normalize()
	for k, v := range other.Normalize() {
		out[k] = v
	}
	return out
}

// Keys returns the sorted tag keys
func (t Tags) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ManagedTagKeys is the exact key set a snapshot must carry to be
// considered owned by ebspin: Name, UUID and the configured extra tags.
func ManagedTagKeys(extra Tags) map[string]struct{} {
	keys := map[string]struct{}{
		TagName:     {},
		TagIdentity: {},
	}
	for k := range extra.Normalize() {
		keys[k] = struct{}{}
	}
	return keys
}

// ForeignTagKeys returns the keys of actual that are outside the managed
// set, and whether actual's key set equals the managed set exactly.
func ForeignTagKeys(actual Tags, extra Tags) ([]string, bool) {
	expected := ManagedTagKeys(extra)

	var foreign []string
	for k := range actual {
		if _, ok := expected[k]; !ok {
			foreign = append(foreign, k)
		}
	}
	sort.Strings(foreign)

	if len(foreign) > 0 || len(actual) != len(expected) {
		return foreign, false
	}
	return nil, true
}
