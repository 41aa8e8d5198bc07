/*
Package storage keeps a local journal of ebspin runs in BoltDB.

Each attach or clean run writes one Record with the identity, the instance
and zone it ran on, the resolution path taken, the resulting volume and
snapshot ids and any error. The journal is opt-in (--journal or
journal.path) and write-only from the resolver's point of view: resolution
decisions are always made from the provider's tags, never from here.

# Layout

	<journal file>
	└── records   (record ID -> JSON Record)

Records are keyed by a random UUID. ListRecords scans the bucket and sorts
by start time, newest first; journals stay small because there is one
record per boot or manual run.

# Usage

	store, err := storage.NewBoltStore("/var/lib/ebspin/journal.db")
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRecords(identity)
*/
package storage
