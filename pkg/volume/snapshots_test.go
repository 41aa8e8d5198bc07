package volume

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/cuemby/ebspin/pkg/volume/ec2fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSnapshot(fake *ec2fake.EC2, id string, started time.Time, state ec2types.SnapshotState, tags ...string) {
	fake.AddSnapshot(ec2types.Snapshot{
		SnapshotId: aws.String(id),
		VolumeSize: aws.Int32(10),
		State:      state,
		StartTime:  aws.Time(started),
		Tags:       ec2Tags(tags...),
	})
}

func TestFindLatestSnapshot(t *testing.T) {
	owned := []string{types.TagName, "db-xvdf", types.TagIdentity, testIdentity}

	tests := []struct {
		name string
		seed func(f *ec2fake.EC2)
		want string
	}{
		{
			name: "no snapshots",
			seed: func(*ec2fake.EC2) {},
			want: "",
		},
		{
			name: "newest completed wins",
			seed: func(f *ec2fake.EC2) {
				seedSnapshot(f, "snap-old", t0, ec2types.SnapshotStateCompleted, owned...)
				seedSnapshot(f, "snap-new", t0.Add(time.Hour), ec2types.SnapshotStateCompleted, owned...)
			},
			want: "snap-new",
		},
		{
			name: "pending never wins",
			seed: func(f *ec2fake.EC2) {
				seedSnapshot(f, "snap-done", t0, ec2types.SnapshotStateCompleted, owned...)
				seedSnapshot(f, "snap-pending", t0.Add(time.Hour), ec2types.SnapshotStatePending, owned...)
			},
			want: "snap-done",
		},
		{
			name: "only pending",
			seed: func(f *ec2fake.EC2) {
				seedSnapshot(f, "snap-pending", t0, ec2types.SnapshotStatePending, owned...)
			},
			want: "",
		},
		{
			name: "other identities are ignored",
			seed: func(f *ec2fake.EC2) {
				seedSnapshot(f, "snap-mine", t0, ec2types.SnapshotStateCompleted, owned...)
				seedSnapshot(f, "snap-theirs", t0.Add(time.Hour), ec2types.SnapshotStateCompleted,
					types.TagIdentity, "someone-else")
			},
			want: "snap-mine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, fake := newTestGateway(t)
			tt.seed(fake)

			got, err := gw.FindLatestSnapshot(context.Background(), testIdentity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindLatestSnapshotProviderError(t *testing.T) {
	gw, fake := newTestGateway(t)
	fake.FailNext(ec2fake.OpDescribeSnapshots, ec2fake.APIError("AuthFailure", "denied"))

	_, err := gw.FindLatestSnapshot(context.Background(), testIdentity)
	assert.ErrorIs(t, err, types.ErrProvider)
}

func TestCreateSnapshot(t *testing.T) {
	gw, fake := newTestGateway(t)
	fake.SettlePolls = 2
	fake.AddVolume(ec2types.Volume{
		VolumeId:         aws.String("vol-1"),
		AvailabilityZone: aws.String("us-east-1a"),
		Size:             aws.Int32(10),
		Tags: ec2Tags(
			types.TagName, "db-xvdf",
			types.TagIdentity, testIdentity,
			"aws:cloudformation:stack-name", "legacy",
		),
	})

	id, err := gw.CreateSnapshot(context.Background(), "vol-1", types.Tags{"team": "storage", "blank": ""})
	require.NoError(t, err)

	snap, ok := fake.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, ec2types.SnapshotStateCompleted, snap.State)
	assert.Equal(t, "vol-1", aws.ToString(snap.VolumeId))

	tags := fromEC2Tags(snap.Tags)
	assert.Equal(t, types.Tags{
		types.TagName:     "db-xvdf",
		types.TagIdentity: testIdentity,
		"team":            "storage",
	}, tags)
}

func TestCreateSnapshotMissingVolume(t *testing.T) {
	gw, fake := newTestGateway(t)

	_, err := gw.CreateSnapshot(context.Background(), "vol-missing", nil)
	assert.ErrorIs(t, err, types.ErrProvider)
	assert.Equal(t, 0, fake.Calls(ec2fake.OpCreateSnapshot))
}

func TestCreateSnapshotFailureIsProvisioning(t *testing.T) {
	gw, fake := newTestGateway(t)
	seedVolume(fake, "vol-1", "us-east-1a", t0, ec2types.VolumeStateAvailable, testIdentity)
	fake.FailNext(ec2fake.OpCreateSnapshot, ec2fake.APIError("SnapshotLimitExceeded", "too many"))

	_, err := gw.CreateSnapshot(context.Background(), "vol-1", nil)
	assert.ErrorIs(t, err, types.ErrProvisioning)
}
