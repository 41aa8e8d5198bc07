// Package metadata tells ebspin which instance, zone and region it runs in.
package metadata

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/cuemby/ebspin/pkg/log"
	"github.com/cuemby/ebspin/pkg/types"
)

// Provider resolves the identity of the current instance
type Provider interface {
	Identity(ctx context.Context) (types.InstanceIdentity, error)
}

// IMDSAPI is the part of the IMDS client the provider uses
type IMDSAPI interface {
	GetInstanceIdentityDocument(ctx context.Context, params *imds.GetInstanceIdentityDocumentInput, optFns ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error)
}

var _ IMDSAPI = (*imds.Client)(nil)

// IMDSProvider reads the instance identity document from the metadata service
type IMDSProvider struct {
	client IMDSAPI
}

// NewIMDSProvider wraps an IMDS client. A nil client uses the SDK default,
// which speaks IMDSv2 and falls back to v1.
func NewIMDSProvider(client IMDSAPI) *IMDSProvider {
	if client == nil {
		client = imds.New(imds.Options{})
	}
	return &IMDSProvider{client: client}
}

// Identity implements Provider
func (p *IMDSProvider) Identity(ctx context.Context) (types.InstanceIdentity, error) {
	out, err := p.client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return types.InstanceIdentity{}, types.NewError(types.KindMetadata, "instance identity document", err)
	}

	id := types.InstanceIdentity{
		Region:           out.Region,
		AvailabilityZone: out.AvailabilityZone,
		InstanceID:       out.InstanceID,
	}
	if err := Validate(id); err != nil {
		return types.InstanceIdentity{}, err
	}

	logger := log.WithComponent("metadata")
	logger.Debug().
		Str("region", id.Region).
		Str("availability_zone", id.AvailabilityZone).
		Str("instance_id", id.InstanceID).
		Msg("Instance identity from IMDS")
	return id, nil
}

// WithOverrides fills the fields of overrides that are empty from base. base
// is not consulted at all when overrides is complete.
func WithOverrides(base Provider, overrides types.InstanceIdentity) Provider {
	return overlay{base: base, overrides: overrides}
}

type overlay struct {
	base      Provider
	overrides types.InstanceIdentity
}

func (o overlay) Identity(ctx context.Context) (types.InstanceIdentity, error) {
	id := o.overrides
	if id.Region == "" && id.AvailabilityZone != "" {
		id.Region = RegionFromZone(id.AvailabilityZone)
	}
	if Validate(id) == nil {
		return id, nil
	}

	found, err := o.base.Identity(ctx)
	if err != nil {
		return types.InstanceIdentity{}, err
	}
	if id.Region == "" {
		id.Region = found.Region
	}
	if id.AvailabilityZone == "" {
		id.AvailabilityZone = found.AvailabilityZone
	}
	if id.InstanceID == "" {
		id.InstanceID = found.InstanceID
	}
	return id, Validate(id)
}

// Validate reports a MetadataError naming the first missing field
func Validate(id types.InstanceIdentity) error {
	switch {
	case id.Region == "":
		return types.Errorf(types.KindMetadata, "instance identity", "region is unknown")
	case id.AvailabilityZone == "":
		return types.Errorf(types.KindMetadata, "instance identity", "availability zone is unknown")
	case id.InstanceID == "":
		return types.Errorf(types.KindMetadata, "instance identity", "instance id is unknown")
	}
	return nil
}

// RegionFromZone strips the zone letter, "us-east-1a" -> "us-east-1"
func RegionFromZone(zone string) string {
	n := len(zone)
	if n < 2 {
		return ""
	}
	last := zone[n-1]
	if last < 'a' || last > 'z' {
		return ""
	}
	return zone[:n-1]
}
