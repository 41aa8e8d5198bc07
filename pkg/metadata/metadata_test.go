package metadata

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/cuemby/ebspin/pkg/log"
	"github.com/cuemby/ebspin/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIMDS struct {
	doc   imds.InstanceIdentityDocument
	err   error
	calls int
}

func (f *fakeIMDS) GetInstanceIdentityDocument(context.Context, *imds.GetInstanceIdentityDocumentInput, ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &imds.GetInstanceIdentityDocumentOutput{InstanceIdentityDocument: f.doc}, nil
}

var complete = imds.InstanceIdentityDocument{
	Region:           "eu-west-1",
	AvailabilityZone: "eu-west-1b",
	InstanceID:       "i-0abc",
}

func TestIMDSProvider(t *testing.T) {
	p := NewIMDSProvider(&fakeIMDS{doc: complete})

	id, err := p.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.InstanceIdentity{
		Region:           "eu-west-1",
		AvailabilityZone: "eu-west-1b",
		InstanceID:       "i-0abc",
	}, id)
}

func TestIMDSProviderLogsIdentity(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	_, err := NewIMDSProvider(&fakeIMDS{doc: complete}).Identity(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"component":"metadata"`)
	assert.Contains(t, out, `"instance_id":"i-0abc"`)
	assert.Contains(t, out, `"availability_zone":"eu-west-1b"`)
}

func TestIMDSProviderErrors(t *testing.T) {
	tests := []struct {
		name string
		imds *fakeIMDS
	}{
		{"unreachable", &fakeIMDS{err: errors.New("dial tcp 169.254.169.254:80: connect: no route to host")}},
		{"missing zone", &fakeIMDS{doc: imds.InstanceIdentityDocument{Region: "eu-west-1", InstanceID: "i-0abc"}}},
		{"missing instance", &fakeIMDS{doc: imds.InstanceIdentityDocument{Region: "eu-west-1", AvailabilityZone: "eu-west-1b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIMDSProvider(tt.imds).Identity(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrMetadata)
		})
	}
}

func TestWithOverrides(t *testing.T) {
	t.Run("complete overrides skip the base", func(t *testing.T) {
		base := &fakeIMDS{doc: complete}
		p := WithOverrides(NewIMDSProvider(base), types.InstanceIdentity{
			AvailabilityZone: "us-east-1c",
			InstanceID:       "i-override",
		})

		id, err := p.Identity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", id.Region)
		assert.Equal(t, "us-east-1c", id.AvailabilityZone)
		assert.Equal(t, "i-override", id.InstanceID)
		assert.Zero(t, base.calls)
	})

	t.Run("partial overrides are filled from the base", func(t *testing.T) {
		base := &fakeIMDS{doc: complete}
		p := WithOverrides(NewIMDSProvider(base), types.InstanceIdentity{InstanceID: "i-override"})

		id, err := p.Identity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "eu-west-1", id.Region)
		assert.Equal(t, "eu-west-1b", id.AvailabilityZone)
		assert.Equal(t, "i-override", id.InstanceID)
		assert.Equal(t, 1, base.calls)
	})

	t.Run("base failure", func(t *testing.T) {
		p := WithOverrides(NewIMDSProvider(&fakeIMDS{err: errors.New("timeout")}), types.InstanceIdentity{})
		_, err := p.Identity(context.Background())
		assert.ErrorIs(t, err, types.ErrMetadata)
	})
}

func TestRegionFromZone(t *testing.T) {
	tests := []struct {
		zone string
		want string
	}{
		{"us-east-1a", "us-east-1"},
		{"ap-southeast-2c", "ap-southeast-2"},
		{"", ""},
		{"us-east-1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.zone, func(t *testing.T) {
			assert.Equal(t, tt.want, RegionFromZone(tt.zone))
		})
	}
}
