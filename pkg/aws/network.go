package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/utils"
)

// ErrNoDefaultVPC is returned when the region has no default VPC
var ErrNoDefaultVPC = errors.New("no default VPC in region")

// DefaultVPC returns the ID of the region's default VPC
func (p *Provider) DefaultVPC(ctx context.Context) (string, error) {
	out, err := p.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []types.Filter{{Name: aws.String("isDefault"), Values: []string{"true"}}},
	})
	if err != nil {
		return "", fmt.Errorf("error describing VPCs: %w", err)
	}
	if len(out.Vpcs) == 0 {
		return "", fmt.Errorf("%w %s", ErrNoDefaultVPC, p.region)
	}
	return aws.ToString(out.Vpcs[0].VpcId), nil
}

// DefaultSubnets returns the default subnet of each zone in the VPC, sorted by zone
func (p *Provider) DefaultSubnets(ctx context.Context, vpcID string) ([]provision.Subnet, error) {
	out, err := p.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("default-for-az"), Values: []string{"true"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error describing subnets of %s: %w", vpcID, err)
	}

	subnets := make([]provision.Subnet, 0, len(out.Subnets))
	for _, s := range out.Subnets {
		subnets = append(subnets, provision.Subnet{
			ID:   aws.ToString(s.SubnetId),
			Zone: aws.ToString(s.AvailabilityZone),
		})
	}
	sort.Slice(subnets, func(i, j int) bool { return subnets[i].Zone < subnets[j].Zone })
	return subnets, nil
}

// EnsureSecurityGroup returns the named group, creating it when absent, and
// authorizes its ingress rules
func (p *Provider) EnsureSecurityGroup(ctx context.Context, spec provision.SecurityGroupSpec) (string, error) {
	out, err := p.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: aws.String("group-name"), Values: []string{spec.Name}},
			{Name: aws.String("vpc-id"), Values: []string{spec.VPCID}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("error describing security group %s: %w", spec.Name, err)
	}

	var groupID string
	if len(out.SecurityGroups) > 0 {
		groupID = aws.ToString(out.SecurityGroups[0].GroupId)
		p.logger.Debug().Str("group", groupID).Msg("reusing security group")
	} else {
		created, err := p.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:   aws.String(spec.Name),
			Description: aws.String("spotnode GPU node " + spec.Name),
			VpcId:       aws.String(spec.VPCID),
			TagSpecifications: []types.TagSpecification{{
				ResourceType: types.ResourceTypeSecurityGroup,
				Tags:         utils.ConvertToEC2Tags(spec.Tags),
			}},
		})
		if err != nil {
			return "", fmt.Errorf("error creating security group %s: %w", spec.Name, err)
		}
		groupID = aws.ToString(created.GroupId)
	}

	for _, perm := range ingressRules(groupID, spec) {
		_, err := p.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: []types.IpPermission{perm},
		})
		if err != nil && !IsAlreadyExists(err) {
			return groupID, fmt.Errorf("error authorizing port %d on %s: %w", aws.ToInt32(perm.FromPort), groupID, err)
		}
	}
	return groupID, nil
}

func ingressRules(groupID string, spec provision.SecurityGroupSpec) []types.IpPermission {
	rules := make([]types.IpPermission, 0, len(spec.Ports)+1)
	for _, port := range spec.Ports {
		rules = append(rules, types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(port),
			ToPort:     aws.Int32(port),
			IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		})
	}
	if spec.NFSPort > 0 {
		rules = append(rules, types.IpPermission{
			IpProtocol:       aws.String("tcp"),
			FromPort:         aws.Int32(spec.NFSPort),
			ToPort:           aws.Int32(spec.NFSPort),
			UserIdGroupPairs: []types.UserIdGroupPair{{GroupId: aws.String(groupID)}},
		})
	}
	return rules
}

// EnsureKeyPair returns the named key pair, creating an RSA pair when absent.
// The private key is only returned for a newly created pair.
func (p *Provider) EnsureKeyPair(ctx context.Context, name string, tags map[string]string) (provision.KeyPair, error) {
	out, err := p.ec2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{name}})
	switch {
	case err == nil && len(out.KeyPairs) > 0:
		return provision.KeyPair{ID: aws.ToString(out.KeyPairs[0].KeyPairId), Name: name}, nil
	case err != nil && !IsNotFound(err):
		return provision.KeyPair{}, fmt.Errorf("error describing key pair %s: %w", name, err)
	}

	created, err := p.ec2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: aws.String(name),
		KeyType: types.KeyTypeRsa,
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeKeyPair,
			Tags:         utils.ConvertToEC2Tags(tags),
		}},
	})
	if err != nil {
		return provision.KeyPair{}, fmt.Errorf("error creating key pair %s: %w", name, err)
	}
	return provision.KeyPair{
		ID:         aws.ToString(created.KeyPairId),
		Name:       name,
		PrivateKey: []byte(aws.ToString(created.KeyMaterial)),
	}, nil
}
