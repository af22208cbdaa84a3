package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"
	"github.com/aws/smithy-go"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younsl/spotnode/internal/config"
	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/teardown"
)

// fakeEC2 implements the calls under test; anything else panics on the nil embedded interface
type fakeEC2 struct {
	EC2API

	offerings    []string
	images       []types.Image
	imagesErr    error
	spotPrices   []types.SpotPrice
	spotRegion   string
	requestErrs  []error
	requests     []*ec2.RequestSpotInstancesInput
	keyPairs     map[string]bool
	deletedKeys  []string
	instances    []types.Instance
	untagged     []types.Instance
	spotRequests []types.SpotInstanceRequest
	cancelled    []string
	terminated   []string
}

func (f *fakeEC2) DescribeInstanceTypeOfferings(_ context.Context, _ *ec2.DescribeInstanceTypeOfferingsInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceTypeOfferingsOutput, error) {
	out := &ec2.DescribeInstanceTypeOfferingsOutput{}
	for _, z := range f.offerings {
		out.InstanceTypeOfferings = append(out.InstanceTypeOfferings, types.InstanceTypeOffering{Location: aws.String(z)})
	}
	return out, nil
}

func (f *fakeEC2) DescribeImages(_ context.Context, _ *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	if f.imagesErr != nil {
		return nil, f.imagesErr
	}
	return &ec2.DescribeImagesOutput{Images: f.images}, nil
}

func (f *fakeEC2) DescribeSpotPriceHistory(_ context.Context, _ *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	var o ec2.Options
	for _, fn := range optFns {
		fn(&o)
	}
	f.spotRegion = o.Region
	return &ec2.DescribeSpotPriceHistoryOutput{SpotPriceHistory: f.spotPrices}, nil
}

func (f *fakeEC2) RequestSpotInstances(_ context.Context, in *ec2.RequestSpotInstancesInput, _ ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error) {
	f.requests = append(f.requests, in)
	if len(f.requestErrs) > 0 {
		err := f.requestErrs[0]
		f.requestErrs = f.requestErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ec2.RequestSpotInstancesOutput{
		SpotInstanceRequests: []types.SpotInstanceRequest{{SpotInstanceRequestId: aws.String("sir-1")}},
	}, nil
}

func (f *fakeEC2) DescribeKeyPairs(_ context.Context, in *ec2.DescribeKeyPairsInput, _ ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error) {
	out := &ec2.DescribeKeyPairsOutput{}
	for _, name := range in.KeyNames {
		if !f.keyPairs[name] {
			return nil, apiError("InvalidKeyPair.NotFound")
		}
		out.KeyPairs = append(out.KeyPairs, types.KeyPairInfo{KeyName: aws.String(name)})
	}
	return out, nil
}

func (f *fakeEC2) DeleteKeyPair(_ context.Context, in *ec2.DeleteKeyPairInput, _ ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error) {
	f.deletedKeys = append(f.deletedKeys, aws.ToString(in.KeyName))
	delete(f.keyPairs, aws.ToString(in.KeyName))
	return &ec2.DeleteKeyPairOutput{}, nil
}

// DescribeInstances answers tag filters from instances, instance-id filters
// from untagged, and ID lookups with the instance already terminated
func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if len(in.InstanceIds) > 0 {
		var out []types.Instance
		for _, id := range in.InstanceIds {
			out = append(out, types.Instance{
				InstanceId: aws.String(id),
				State:      &types.InstanceState{Name: types.InstanceStateNameTerminated},
			})
		}
		return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{Instances: out}}}, nil
	}
	for _, filter := range in.Filters {
		if aws.ToString(filter.Name) != "instance-id" {
			continue
		}
		var out []types.Instance
		for _, inst := range f.untagged {
			for _, id := range filter.Values {
				if aws.ToString(inst.InstanceId) == id {
					out = append(out, inst)
				}
			}
		}
		return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{Instances: out}}}, nil
	}
	return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{Instances: f.instances}}}, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminated = append(f.terminated, in.InstanceIds...)
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) DescribeSpotInstanceRequests(_ context.Context, _ *ec2.DescribeSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error) {
	return &ec2.DescribeSpotInstanceRequestsOutput{SpotInstanceRequests: f.spotRequests}, nil
}

func (f *fakeEC2) CancelSpotInstanceRequests(_ context.Context, in *ec2.CancelSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error) {
	f.cancelled = append(f.cancelled, in.SpotInstanceRequestIds...)
	return &ec2.CancelSpotInstanceRequestsOutput{}, nil
}

type fakeEFS struct {
	EFSAPI

	states  []efstypes.LifeCycleState
	created int
}

func (f *fakeEFS) DescribeFileSystems(_ context.Context, in *efs.DescribeFileSystemsInput, _ ...func(*efs.Options)) (*efs.DescribeFileSystemsOutput, error) {
	if in.CreationToken != nil {
		if f.created == 0 {
			return &efs.DescribeFileSystemsOutput{}, nil
		}
		return &efs.DescribeFileSystemsOutput{FileSystems: []efstypes.FileSystemDescription{{FileSystemId: aws.String("fs-1")}}}, nil
	}
	state := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return &efs.DescribeFileSystemsOutput{FileSystems: []efstypes.FileSystemDescription{{
		FileSystemId:   in.FileSystemId,
		LifeCycleState: state,
	}}}, nil
}

func (f *fakeEFS) CreateFileSystem(_ context.Context, _ *efs.CreateFileSystemInput, _ ...func(*efs.Options)) (*efs.CreateFileSystemOutput, error) {
	f.created++
	return &efs.CreateFileSystemOutput{FileSystemId: aws.String("fs-1")}, nil
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func testProvider() *Provider {
	return &Provider{
		region: "us-east-1",
		timing: Timing{WaitTimeout: time.Second, PollAttempts: 5},
		logger: zerolog.Nop(),
	}
}

func TestDescribeOfferingsSortsZones(t *testing.T) {
	p := testProvider()
	p.ec2 = &fakeEC2{offerings: []string{"us-east-1c", "us-east-1a", "us-east-1b"}}

	zones, err := p.DescribeOfferings(context.Background(), "g4dn.xlarge")
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1a", "us-east-1b", "us-east-1c"}, zones)
}

func TestDescribeImagePicksNewest(t *testing.T) {
	p := testProvider()
	p.ec2 = &fakeEC2{images: []types.Image{
		{ImageId: aws.String("ami-old"), Name: aws.String("dl-1"), Architecture: types.ArchitectureValuesX8664, CreationDate: aws.String("2024-01-01T00:00:00.000Z")},
		{ImageId: aws.String("ami-new"), Name: aws.String("dl-2"), Architecture: types.ArchitectureValuesX8664, CreationDate: aws.String("2024-06-01T00:00:00.000Z")},
	}}

	img, ok, err := p.DescribeImage(context.Background(), models.ImageCandidate{NamePattern: "dl-*", Owner: "amazon"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ami-new", img.ID)
	assert.Equal(t, "x86_64", img.Architecture)
	assert.Equal(t, 2024, img.CreationDate.Year())
}

func TestDescribeImageMissingIsNotAnError(t *testing.T) {
	p := testProvider()
	p.ec2 = &fakeEC2{imagesErr: apiError("InvalidAMIID.NotFound")}

	_, ok, err := p.DescribeImage(context.Background(), models.ImageCandidate{ID: "ami-gone"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpotPriceHistoryTargetsRegion(t *testing.T) {
	now := time.Now()
	fake := &fakeEC2{spotPrices: []types.SpotPrice{
		{AvailabilityZone: aws.String("eu-west-1a"), InstanceType: "g4dn.xlarge", SpotPrice: aws.String("0.2100"), Timestamp: aws.Time(now)},
		{AvailabilityZone: aws.String("eu-west-1b"), InstanceType: "g4dn.xlarge", SpotPrice: aws.String("bogus"), Timestamp: aws.Time(now)},
	}}
	p := testProvider()
	p.ec2 = fake

	points, err := p.SpotPriceHistory(context.Background(), "eu-west-1", []string{"g4dn.xlarge"}, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", fake.spotRegion)
	require.Len(t, points, 1)
	assert.Equal(t, "eu-west-1a", points[0].Zone)
	assert.Equal(t, "eu-west-1", points[0].Region)
	assert.InDelta(t, 0.21, points[0].PricePerHour, 1e-9)
}

func TestRequestSpotRetriesProfilePropagation(t *testing.T) {
	fake := &fakeEC2{requestErrs: []error{
		&smithy.GenericAPIError{Code: "InvalidParameterValue", Message: "Value (demo-profile) for parameter iamInstanceProfile.name is invalid"},
	}}
	p := testProvider()
	p.ec2 = fake

	id, err := p.RequestSpot(context.Background(), provision.SpotRequest{
		InstanceType:    "g4dn.xlarge",
		ImageID:         "ami-1",
		SubnetID:        "subnet-1",
		InstanceProfile: "demo-profile",
		MaxPrice:        0.228,
		ClientToken:     "token-1",
		Tags:            map[string]string{"Stack": "demo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sir-1", id)
	require.Len(t, fake.requests, 2)

	in := fake.requests[1]
	assert.Equal(t, "0.2280", aws.ToString(in.SpotPrice))
	assert.Equal(t, types.SpotInstanceTypeOneTime, in.Type)
	assert.Equal(t, "token-1", aws.ToString(in.ClientToken))
	assert.Equal(t, "demo-profile", aws.ToString(in.LaunchSpecification.IamInstanceProfile.Name))
	require.Len(t, in.TagSpecifications, 1)
	assert.Equal(t, types.ResourceTypeSpotInstancesRequest, in.TagSpecifications[0].ResourceType)
}

func TestRequestSpotDoesNotRetryCapacityErrors(t *testing.T) {
	fake := &fakeEC2{requestErrs: []error{apiError("InsufficientInstanceCapacity")}}
	p := testProvider()
	p.ec2 = fake

	_, err := p.RequestSpot(context.Background(), provision.SpotRequest{InstanceType: "g4dn.xlarge"})
	require.Error(t, err)
	assert.Len(t, fake.requests, 1)
	assert.Equal(t, "InsufficientInstanceCapacity", ErrorCode(err))
}

func TestDeleteKeyPair(t *testing.T) {
	fake := &fakeEC2{keyPairs: map[string]bool{"demo-key": true}}
	p := testProvider()
	p.ec2 = fake

	rec := models.ResourceRecord{Kind: models.KindKeyPair, ID: "demo-key"}
	require.NoError(t, p.Delete(context.Background(), rec))
	assert.Equal(t, []string{"demo-key"}, fake.deletedKeys)

	err := p.Delete(context.Background(), rec)
	assert.ErrorIs(t, err, teardown.ErrNotFound)
	assert.Len(t, fake.deletedKeys, 1)
}

func TestDiscoverInstancesRecordsDependencies(t *testing.T) {
	p := testProvider()
	p.ec2 = &fakeEC2{instances: []types.Instance{{
		InstanceId:         aws.String("i-1"),
		KeyName:            aws.String("demo-key"),
		SecurityGroups:     []types.GroupIdentifier{{GroupId: aws.String("sg-1")}},
		IamInstanceProfile: &types.IamInstanceProfile{Arn: aws.String("arn:aws:iam::123456789012:instance-profile/spotnode/demo/demo-profile")},
		Tags:               []types.Tag{{Key: aws.String("Name"), Value: aws.String("demo-node")}},
	}}}

	records, err := p.Discover(context.Background(), "demo", models.KindInstance)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "demo-node", records[0].Name)
	if diff := cmp.Diff([]string{"sg-1", "demo-key", "demo-profile"}, records[0].DependsOn); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteSpotRequestAlreadyCancelled(t *testing.T) {
	fake := &fakeEC2{spotRequests: []types.SpotInstanceRequest{{
		SpotInstanceRequestId: aws.String("sir-1"),
		State:                 types.SpotInstanceStateCancelled,
	}}}
	p := testProvider()
	p.ec2 = fake

	err := p.Delete(context.Background(), models.ResourceRecord{Kind: models.KindSpotRequest, ID: "sir-1"})
	assert.ErrorIs(t, err, teardown.ErrNotFound)
	assert.Empty(t, fake.cancelled)
}

func TestDeleteSpotRequestOpen(t *testing.T) {
	fake := &fakeEC2{spotRequests: []types.SpotInstanceRequest{{
		SpotInstanceRequestId: aws.String("sir-1"),
		State:                 types.SpotInstanceStateOpen,
	}}}
	p := testProvider()
	p.ec2 = fake

	require.NoError(t, p.Delete(context.Background(), models.ResourceRecord{Kind: models.KindSpotRequest, ID: "sir-1"}))
	assert.Equal(t, []string{"sir-1"}, fake.cancelled)
}

func TestDiscoverInstancesIncludesSpotLaunchedInstances(t *testing.T) {
	fake := &fakeEC2{
		instances: []types.Instance{{InstanceId: aws.String("i-tagged")}},
		untagged: []types.Instance{{
			InstanceId:     aws.String("i-untagged"),
			SecurityGroups: []types.GroupIdentifier{{GroupId: aws.String("sg-1")}},
		}},
		spotRequests: []types.SpotInstanceRequest{
			{SpotInstanceRequestId: aws.String("sir-1"), State: types.SpotInstanceStateActive, InstanceId: aws.String("i-untagged")},
			{SpotInstanceRequestId: aws.String("sir-2"), State: types.SpotInstanceStateActive, InstanceId: aws.String("i-tagged")},
			{SpotInstanceRequestId: aws.String("sir-3"), State: types.SpotInstanceStateOpen},
		},
	}
	p := testProvider()
	p.ec2 = fake

	records, err := p.Discover(context.Background(), "demo", models.KindInstance)
	require.NoError(t, err)
	var ids []string
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	if diff := cmp.Diff([]string{"i-tagged", "i-untagged"}, ids); diff != "" {
		t.Errorf("instances mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"sg-1"}, records[1].DependsOn)
}

func TestForcedTeardownTerminatesUntaggedSpotInstance(t *testing.T) {
	fake := &fakeEC2{
		untagged: []types.Instance{{InstanceId: aws.String("i-untagged")}},
		spotRequests: []types.SpotInstanceRequest{{
			SpotInstanceRequestId: aws.String("sir-1"),
			State:                 types.SpotInstanceStateActive,
			InstanceId:            aws.String("i-untagged"),
		}},
	}
	p := testProvider()
	p.ec2 = fake

	summary, err := teardown.New(p, nil, 1, zerolog.Nop()).Run(context.Background(), teardown.Request{
		Stack: "demo",
		Mode:  config.ModeForced,
		Scope: []models.ResourceKind{models.KindSpotRequest},
	})
	require.NoError(t, err)
	require.NoError(t, summary.Err())
	assert.Equal(t, 2, summary.Deleted)
	assert.Equal(t, []string{"sir-1"}, fake.cancelled)
	assert.Equal(t, []string{"i-untagged"}, fake.terminated)
}

func TestEnsureFileSystemWaitsForAvailable(t *testing.T) {
	fake := &fakeEFS{states: []efstypes.LifeCycleState{efstypes.LifeCycleStateCreating, efstypes.LifeCycleStateAvailable}}
	p := testProvider()
	p.efs = fake

	fs, err := p.EnsureFileSystem(context.Background(), "demo-efs", nil)
	require.NoError(t, err)
	assert.Equal(t, "fs-1", fs.ID)
	assert.Equal(t, "fs-1.efs.us-east-1.amazonaws.com", fs.DNSName)
	assert.Equal(t, 1, fake.created)

	// the creation token makes a second call reuse the filesystem
	_, err = p.EnsureFileSystem(context.Background(), "demo-efs", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.created)
}

func TestUnsupportedKind(t *testing.T) {
	p := testProvider()
	_, err := p.Discover(context.Background(), "demo", models.ResourceKind("bogus"))
	assert.Error(t, err)
	assert.Error(t, p.Delete(context.Background(), models.ResourceRecord{Kind: "bogus"}))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code       string
		notFound   bool
		exists     bool
		dependency bool
	}{
		{code: "InvalidInstanceID.NotFound", notFound: true},
		{code: "NoSuchEntity", notFound: true},
		{code: "FileSystemNotFound", notFound: true},
		{code: "EntityAlreadyExists", exists: true},
		{code: "InvalidPermission.Duplicate", exists: true},
		{code: "DependencyViolation", dependency: true},
		{code: "DeleteConflict", dependency: true},
		{code: "UnauthorizedOperation"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := apiError(tt.code)
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.Equal(t, tt.exists, IsAlreadyExists(err))
			assert.Equal(t, tt.dependency, IsDependencyViolation(err))
		})
	}
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.Empty(t, ErrorCode(nil))
}

func TestStackOwnership(t *testing.T) {
	assert.True(t, stackOwned(map[string]string{"Stack": "demo", "ManagedBy": "spotnode"}, "demo"))
	assert.False(t, stackOwned(map[string]string{"Stack": "demo"}, "demo"))
	assert.False(t, stackOwned(map[string]string{"Stack": "other", "ManagedBy": "spotnode"}, "demo"))

	assert.Equal(t, "demo-profile", profileName("arn:aws:iam::1:instance-profile/spotnode/demo/demo-profile"))
	assert.Equal(t, "plain", profileName("plain"))
}
