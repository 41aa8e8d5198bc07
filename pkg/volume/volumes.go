package volume

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cuemby/ebspin/pkg/metrics"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/waiter"
	"github.com/google/uuid"
)

// listVolumes pages through every volume matching filters
func (g *EC2Gateway) listVolumes(ctx context.Context, filters ...ec2types.Filter) ([]types.Volume, error) {
	return call(ctx, g, "DescribeVolumes", func(ctx context.Context) ([]types.Volume, error) {
		var vols []types.Volume
		p := ec2.NewDescribeVolumesPaginator(g.api, &ec2.DescribeVolumesInput{Filters: filters})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			for _, v := range page.Volumes {
				vols = append(vols, fromEC2Volume(v))
			}
		}
		return vols, nil
	})
}

// FindLatestVolume returns the newest volume for identity regardless of its
// state, or "" when there is none
func (g *EC2Gateway) FindLatestVolume(ctx context.Context, identity string) (string, error) {
	vols, err := g.listVolumes(ctx, identityFilter(identity))
	if err != nil {
		return "", providerError("find latest volume", identity, err)
	}

	latest := latestVolume(vols)
	if latest == nil {
		g.logger.Info().Str("uuid", identity).Msg("No volume found")
		return "", nil
	}

	g.logger.Info().
		Str("uuid", identity).
		Str("volume_id", latest.ID).
		Str("state", string(latest.State)).
		Int("candidates", len(vols)).
		Msg("Found latest volume")
	return latest.ID, nil
}

// DescribeVolume returns a single volume
func (g *EC2Gateway) DescribeVolume(ctx context.Context, volumeID string) (*types.Volume, error) {
	vol, err := g.describeVolume(ctx, volumeID)
	if err != nil {
		return nil, providerError("describe volume", volumeID, err)
	}
	return vol, nil
}

func (g *EC2Gateway) describeVolume(ctx context.Context, volumeID string) (*types.Volume, error) {
	return call(ctx, g, "DescribeVolumes", func(ctx context.Context) (*types.Volume, error) {
		out, err := g.api.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{volumeID}})
		if err != nil {
			return nil, err
		}
		if len(out.Volumes) == 0 {
			return nil, fmt.Errorf("volume %s not returned by provider", volumeID)
		}
		vol := fromEC2Volume(out.Volumes[0])
		return &vol, nil
	})
}

// VolumeRegion returns the availability zone of the volume, or "" when the
// provider does not report one
func (g *EC2Gateway) VolumeRegion(ctx context.Context, volumeID string) (string, error) {
	vol, err := g.DescribeVolume(ctx, volumeID)
	if err != nil {
		return "", err
	}
	return vol.AvailabilityZone, nil
}

// InstanceName returns the Name tag of an instance, or "" when untagged
func (g *EC2Gateway) InstanceName(ctx context.Context, instanceID string) (string, error) {
	name, err := call(ctx, g, "DescribeTags", func(ctx context.Context) (string, error) {
		out, err := g.api.DescribeTags(ctx, &ec2.DescribeTagsInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("resource-id"), Values: []string{instanceID}},
				{Name: aws.String("key"), Values: []string{types.TagName}},
			},
		})
		if err != nil {
			return "", err
		}
		if len(out.Tags) == 0 {
			return "", nil
		}
		return aws.ToString(out.Tags[0].Value), nil
	})
	if err != nil {
		return "", providerError("instance name", instanceID, err)
	}
	return name, nil
}

// CreateVolume creates a volume, optionally from a snapshot, and blocks until
// it is available
func (g *EC2Gateway) CreateVolume(ctx context.Context, in CreateVolumeInput) (string, error) {
	input := &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(in.AvailabilityZone),
		VolumeType:       ec2types.VolumeType(in.Type),
		// one token per logical create keeps retried calls from creating twice
		ClientToken: aws.String(uuid.NewString()),
	}
	if in.Size > 0 {
		input.Size = aws.Int32(in.Size)
	}
	if in.SnapshotID != "" {
		input.SnapshotId = aws.String(in.SnapshotID)
	}

	volumeID, err := call(ctx, g, "CreateVolume", func(ctx context.Context) (string, error) {
		out, err := g.api.CreateVolume(ctx, input)
		if err != nil {
			return "", err
		}
		return aws.ToString(out.VolumeId), nil
	})
	if err != nil {
		return "", types.NewError(types.KindProvisioning, "create volume", err).WithResource(in.AvailabilityZone)
	}

	g.logger.Info().
		Str("volume_id", volumeID).
		Str("availability_zone", in.AvailabilityZone).
		Str("snapshot_id", in.SnapshotID).
		Int32("size", in.Size).
		Str("type", in.Type).
		Msg("Volume created, waiting for it to become available")

	if _, err := g.waitVolumeAvailable(ctx, volumeID, g.volumeWaiter); err != nil {
		return "", err
	}
	return volumeID, nil
}

// TagVolume writes Name, UUID and extra tags. Unset values are omitted.
func (g *EC2Gateway) TagVolume(ctx context.Context, volumeID, name, identity string, extra types.Tags) error {
	tags := types.Tags{
		types.TagName:     name,
		types.TagIdentity: identity,
	}.Merge(extra)

	err := g.createTags(ctx, volumeID, tags)
	if err != nil {
		return providerError("tag volume", volumeID, err)
	}

	g.logger.Info().Str("volume_id", volumeID).Strs("keys", tags.Keys()).Msg("Volume tagged")
	return nil
}

func (g *EC2Gateway) createTags(ctx context.Context, resourceID string, tags types.Tags) error {
	ec2Tags := toEC2Tags(tags)
	if len(ec2Tags) == 0 {
		return nil
	}
	return exec(ctx, g, "CreateTags", func(ctx context.Context) error {
		_, err := g.api.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{resourceID},
			Tags:      ec2Tags,
		})
		return err
	})
}

// AttachVolume waits for the volume to be available, attaches it to the
// instance and waits for the attachment to report attached. A volume that is
// already attached to the instance at device is returned as is.
func (g *EC2Gateway) AttachVolume(ctx context.Context, volumeID, instanceID, device string) (string, error) {
	vol, err := g.DescribeVolume(ctx, volumeID)
	if err != nil {
		return "", err
	}
	if current, ok := vol.AttachedTo(instanceID); ok {
		if current == device {
			g.logger.Info().
				Str("volume_id", volumeID).
				Str("instance_id", instanceID).
				Str("device", device).
				Msg("Volume already attached")
			return volumeID, nil
		}
		return "", types.Errorf(types.KindAttachConflict, "attach volume",
			"volume %s is attached to %s at %s, not %s", volumeID, instanceID, current, device)
	}

	if _, err := g.waitVolumeAvailable(ctx, volumeID, g.attachWaiter); err != nil {
		return "", err
	}

	g.logger.Info().Str("volume_id", volumeID).Msg("Volume is ready, attaching")
	// attach is not idempotent on the provider side; a failed call is
	// repaired by running attach again, which finds the attachment
	err = once(ctx, g, "AttachVolume", func(ctx context.Context) error {
		_, err := g.api.AttachVolume(ctx, &ec2.AttachVolumeInput{
			VolumeId:   aws.String(volumeID),
			InstanceId: aws.String(instanceID),
			Device:     aws.String(device),
		})
		return err
	})
	if err != nil {
		return "", providerError("attach volume", volumeID, err)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.WaitDuration, "attachment")

	desc := fmt.Sprintf("volume %s to attach to %s at %s", volumeID, instanceID, device)
	err = waiter.For(ctx, g.attachWaiter, desc, func(ctx context.Context) (bool, error) {
		vol, err := g.describeVolume(ctx, volumeID)
		if err != nil {
			return false, providerError("describe volume", volumeID, err)
		}
		current, ok := vol.AttachedTo(instanceID)
		return ok && current == device, nil
	})
	if err != nil {
		return "", err
	}

	g.logger.Info().
		Str("volume_id", volumeID).
		Str("instance_id", instanceID).
		Str("device", device).
		Msg("Volume attached")
	return volumeID, nil
}

// waitVolumeAvailable polls until the volume is available. A volume that is
// not visible yet counts as not ready; a volume in the error state fails.
func (g *EC2Gateway) waitVolumeAvailable(ctx context.Context, volumeID string, w waiter.Waiter) (*types.Volume, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.WaitDuration, "volume")

	return waiter.Until(ctx, w, fmt.Sprintf("volume %s to become available", volumeID),
		func(ctx context.Context) (*types.Volume, error) {
			vol, err := g.describeVolume(ctx, volumeID)
			if isNotFound(err) {
				return nil, nil
			}
			if err != nil {
				return nil, providerError("describe volume", volumeID, err)
			}
			if vol.State == types.VolumeStateError {
				return nil, types.Errorf(types.KindProvisioning, "wait volume available",
					"volume %s entered the error state", volumeID)
			}
			return vol, nil
		},
		func(vol *types.Volume) bool {
			return vol != nil && vol.State == types.VolumeStateAvailable
		},
	)
}
