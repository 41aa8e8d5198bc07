package storage

import (
	"time"
)

// RecordKind distinguishes attach runs from manual cleanup runs
type RecordKind string

const (
	RecordAttach RecordKind = "attach"
	RecordClean  RecordKind = "clean"
)

// Record is one journal entry. The journal is an audit trail only; the
// provider's resource tags stay the source of truth.
type Record struct {
	ID               string     `json:"id"`
	Kind             RecordKind `json:"kind"`
	Identity         string     `json:"identity"`
	InstanceID       string     `json:"instance_id,omitempty"`
	AvailabilityZone string     `json:"availability_zone,omitempty"`
	Device           string     `json:"device,omitempty"`
	Path             string     `json:"path,omitempty"`
	VolumeID         string     `json:"volume_id,omitempty"`
	SnapshotID       string     `json:"snapshot_id,omitempty"`
	Deleted          []string   `json:"deleted,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
	Error            string     `json:"error,omitempty"`
}

// Succeeded reports whether the run finished without error
func (r *Record) Succeeded() bool {
	return r.Error == ""
}

// Duration is how long the run took
func (r *Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store defines the interface for the attach journal
type Store interface {
	// PutRecord inserts or replaces a record by ID
	PutRecord(rec *Record) error

	// GetRecord returns a record by ID
	GetRecord(id string) (*Record, error)

	// ListRecords returns records newest first. An empty identity lists all.
	ListRecords(identity string) ([]*Record, error)

	// DeleteRecordsBefore drops records started before cutoff and returns
	// how many were removed
	DeleteRecordsBefore(cutoff time.Time) (int, error)

	Close() error
}
