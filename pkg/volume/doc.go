/*
Package volume is the cloud storage gateway for identity-bound EBS volumes.

Every volume and snapshot managed by ebspin carries two tags: UUID, the
caller chosen identity that survives instance replacement, and Name, a
readable label derived from the instance and device. The gateway turns
those tags into queries against EC2 and wraps the mutating calls with the
waits needed to hand back resources that are ready to use.

# Architecture

	┌───────────────────────────────────────────────┐
	│          resolver / reconciler                │
	└──────────────────────┬────────────────────────┘
	                       │ Gateway
	                       ▼
	┌───────────────────────────────────────────────┐
	│                 EC2Gateway                    │
	│  • rate limit (x/time/rate)                   │
	│  • retry with backoff on transient codes      │
	│  • waits: volume, snapshot, attachment        │
	│  • API call metrics                           │
	└──────────────────────┬────────────────────────┘
	                       │ EC2API
	                       ▼
	          *ec2.Client  or  ec2fake.EC2

# Lookups

FindLatestVolume orders by creation time and ignores state, so a volume
that is still in use elsewhere can be returned. FindLatestSnapshot only
considers completed snapshots. Both return "" with a nil error when nothing
matches; a failed query is always an error.

# Retries

Lookups, CreateVolume (with a ClientToken), CreateTags and the deletes are
retried under the configured policy when the provider reports throttling or
a transient fault. AttachVolume is sent once: a lost response can hide a
successful attach, and running AttachVolume again finds it through the
already-attached check. Build the *ec2.Client with aws.NopRetryer so the
SDK does not add attempts of its own.

# Cleanup

CleanOldVolumes and CleanSnapshots are best effort. A resource that fails
to delete is logged and reported in CleanupResult.Failed while the sweep
continues. Snapshots whose tag keys are not exactly Name, UUID and the
caller's extra keys are skipped, since they were made or modified by
something else.

# Usage

	cfg, _ := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	gw := volume.NewEC2Gateway(ec2.NewFromConfig(cfg), volume.DefaultOptions())

	id, err := gw.FindLatestVolume(ctx, "b6f0...")
	if err != nil {
		return err
	}
*/
package volume
