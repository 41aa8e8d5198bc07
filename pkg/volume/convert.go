package volume

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cuemby/ebspin/pkg/types"
)

// reservedTagPrefix marks provider owned tags that cannot be written back
const reservedTagPrefix = "aws:"

func fromEC2Tags(tags []ec2types.Tag) types.Tags {
	out := make(types.Tags, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

// toEC2Tags converts tags for a write, dropping unset values and reserved keys
func toEC2Tags(tags types.Tags) []ec2types.Tag {
	norm := tags.Normalize()
	out := make([]ec2types.Tag, 0, len(norm))
	for _, k := range norm.Keys() {
		if strings.HasPrefix(k, reservedTagPrefix) {
			continue
		}
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(norm[k])})
	}
	return out
}

func fromEC2Volume(v ec2types.Volume) types.Volume {
	vol := types.Volume{
		ID:               aws.ToString(v.VolumeId),
		State:            types.VolumeState(v.State),
		AvailabilityZone: aws.ToString(v.AvailabilityZone),
		Size:             aws.ToInt32(v.Size),
		Type:             string(v.VolumeType),
		CreatedAt:        aws.ToTime(v.CreateTime),
		Tags:             fromEC2Tags(v.Tags),
	}
	for _, a := range v.Attachments {
		vol.Attachments = append(vol.Attachments, types.Attachment{
			InstanceID: aws.ToString(a.InstanceId),
			Device:     aws.ToString(a.Device),
			State:      types.AttachmentState(a.State),
		})
	}
	return vol
}

func fromEC2Snapshot(s ec2types.Snapshot) types.Snapshot {
	return types.Snapshot{
		ID:        aws.ToString(s.SnapshotId),
		VolumeID:  aws.ToString(s.VolumeId),
		State:     types.SnapshotState(s.State),
		StartedAt: aws.ToTime(s.StartTime),
		Tags:      fromEC2Tags(s.Tags),
	}
}

func identityFilter(identity string) ec2types.Filter {
	return ec2types.Filter{
		Name:   aws.String("tag:" + types.TagIdentity),
		Values: []string{identity},
	}
}

// latestVolume picks the greatest creation time; state is ignored
func latestVolume(vols []types.Volume) *types.Volume {
	var latest *types.Volume
	for i := range vols {
		if latest == nil || vols[i].CreatedAt.After(latest.CreatedAt) {
			latest = &vols[i]
		}
	}
	return latest
}

// latestCompletedSnapshot picks the greatest start time among completed snapshots
func latestCompletedSnapshot(snaps []types.Snapshot) *types.Snapshot {
	var latest *types.Snapshot
	for i := range snaps {
		if snaps[i].State != types.SnapshotStateCompleted {
			continue
		}
		if latest == nil || snaps[i].StartedAt.After(latest.StartedAt) {
			latest = &snaps[i]
		}
	}
	return latest
}
