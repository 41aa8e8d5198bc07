/*
Package reconciler removes the volumes and snapshots an identity has
outgrown.

After an attach commits, the attached volume is the single current volume
for its identity. Everything else tagged with the same UUID is superseded:
volumes left behind in another availability zone, and the snapshots used to
move them. The reconciler deletes those, one resource at a time, and keeps
going when a single delete fails. A failed pass is repaired by the next one.

Snapshots are only deleted when their tag keys are exactly Name, UUID and
the configured extra tags. Any other key means another tool has claimed the
snapshot.

# Usage

	r := reconciler.New(gateway)
	report, err := r.Reconcile(ctx, identity, attachedVolumeID, extraTags)

The same pass backs "ebspin clean", where the kept volume defaults to the
latest one for the identity.
*/
package reconciler
