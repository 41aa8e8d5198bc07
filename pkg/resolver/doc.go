/*
Package resolver decides which volume an identity should use on this
instance and makes it so.

Given an identity, a target availability zone, an instance and a device,
Attach takes exactly one of four paths:

	latest volume?  ──no──▶  latest completed snapshot?  ──no──▶  fresh
	      │                            │
	     yes                          yes ──────────────────────▶  restore
	      │
	same zone as target?  ──yes──▶  reuse
	      │
	      no  ──────────────────────────────────────────────────▶  migrate

fresh creates an empty volume, restore creates one from the snapshot,
reuse attaches the existing volume as is, and migrate snapshots the
existing volume and creates a copy in the target zone. New volumes are
tagged Name=<instance name>-<device> and UUID=<identity> plus the caller's
extra tags.

The attach is the commit point. Nothing is deleted before it succeeds, so a
failed or interrupted call leaves the previous volume in place and can be
retried. After the attach, the reconciler removes every other volume and
every owned snapshot of the identity.

Attach is not safe to run concurrently for the same identity. Two racing
calls can both take the fresh path; the next successful run cleans up the
extra volume.
*/
package resolver
