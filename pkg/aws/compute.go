package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/retry"
	"github.com/younsl/spotnode/pkg/utils"
)

// spotProduct is the product description spot prices are queried for
const spotProduct = "Linux/UNIX"

// DescribeOfferings returns the zones of the provider's region offering the instance type
func (p *Provider) DescribeOfferings(ctx context.Context, instanceType string) ([]string, error) {
	input := &ec2.DescribeInstanceTypeOfferingsInput{
		LocationType: types.LocationTypeAvailabilityZone,
		Filters: []types.Filter{
			{Name: aws.String("instance-type"), Values: []string{instanceType}},
		},
	}

	var zones []string
	paginator := ec2.NewDescribeInstanceTypeOfferingsPaginator(p.ec2, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error describing offerings for %s: %w", instanceType, err)
		}
		for _, offering := range page.InstanceTypeOfferings {
			if offering.Location != nil {
				zones = append(zones, *offering.Location)
			}
		}
	}
	sort.Strings(zones)
	return zones, nil
}

// DescribeImage resolves an image candidate by ID, or by name pattern to the
// newest available match
func (p *Provider) DescribeImage(ctx context.Context, image models.ImageCandidate) (models.ResolvedImage, bool, error) {
	input := &ec2.DescribeImagesInput{
		Filters: []types.Filter{
			{Name: aws.String("state"), Values: []string{string(types.ImageStateAvailable)}},
		},
	}
	switch {
	case image.ID != "":
		input.ImageIds = []string{image.ID}
	case image.NamePattern != "":
		input.Filters = append(input.Filters, types.Filter{Name: aws.String("name"), Values: []string{image.NamePattern}})
	default:
		return models.ResolvedImage{}, false, nil
	}
	if image.Owner != "" {
		input.Owners = []string{image.Owner}
	}

	result, err := p.ec2.DescribeImages(ctx, input)
	if err != nil {
		if IsNotFound(err) {
			return models.ResolvedImage{}, false, nil
		}
		return models.ResolvedImage{}, false, fmt.Errorf("error describing images: %w", err)
	}
	if len(result.Images) == 0 {
		return models.ResolvedImage{}, false, nil
	}

	newest := newestImage(result.Images)
	return models.ResolvedImage{
		ID:           aws.ToString(newest.ImageId),
		Name:         aws.ToString(newest.Name),
		Architecture: string(newest.Architecture),
		CreationDate: parseCreationDate(newest.CreationDate),
	}, true, nil
}

func newestImage(images []types.Image) types.Image {
	newest := images[0]
	for _, img := range images[1:] {
		if parseCreationDate(img.CreationDate).After(parseCreationDate(newest.CreationDate)) {
			newest = img
		}
	}
	return newest
}

func parseCreationDate(s *string) time.Time {
	t, err := time.Parse(time.RFC3339, aws.ToString(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

// SpotPriceHistory returns spot price samples for the instance types in region
// since the given time
func (p *Provider) SpotPriceHistory(ctx context.Context, region string, instanceTypes []string, since time.Time) ([]models.PricePoint, error) {
	ec2Types := make([]types.InstanceType, 0, len(instanceTypes))
	for _, t := range instanceTypes {
		ec2Types = append(ec2Types, types.InstanceType(t))
	}
	input := &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       ec2Types,
		ProductDescriptions: []string{spotProduct},
		StartTime:           aws.Time(since),
		EndTime:             aws.Time(time.Now()),
	}
	inRegion := func(o *ec2.Options) { o.Region = region }

	var points []models.PricePoint
	paginator := ec2.NewDescribeSpotPriceHistoryPaginator(p.ec2, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx, inRegion)
		if err != nil {
			return nil, fmt.Errorf("error querying spot price history in %s: %w", region, err)
		}
		for _, sp := range page.SpotPriceHistory {
			price, err := strconv.ParseFloat(aws.ToString(sp.SpotPrice), 64)
			if err != nil {
				p.logger.Debug().Str("price", aws.ToString(sp.SpotPrice)).Msg("skipping unparsable spot price")
				continue
			}
			points = append(points, models.PricePoint{
				InstanceType: string(sp.InstanceType),
				Zone:         aws.ToString(sp.AvailabilityZone),
				Region:       region,
				PricePerHour: price,
				ObservedAt:   aws.ToTime(sp.Timestamp),
			})
		}
	}
	return points, nil
}

// isProfilePropagation reports whether a launch was rejected because a freshly
// created instance profile is not yet visible to EC2
func isProfilePropagation(err error) bool {
	return ErrorCode(err) == "InvalidParameterValue" && strings.Contains(strings.ToLower(err.Error()), "iaminstanceprofile")
}

// RequestSpot submits a one-time spot request and returns its ID
func (p *Provider) RequestSpot(ctx context.Context, req provision.SpotRequest) (string, error) {
	spec := &types.RequestSpotLaunchSpecification{
		ImageId:          aws.String(req.ImageID),
		InstanceType:     types.InstanceType(req.InstanceType),
		SubnetId:         aws.String(req.SubnetID),
		SecurityGroupIds: req.SecurityGroupIDs,
	}
	if req.KeyName != "" {
		spec.KeyName = aws.String(req.KeyName)
	}
	if req.InstanceProfile != "" {
		spec.IamInstanceProfile = &types.IamInstanceProfileSpecification{Name: aws.String(req.InstanceProfile)}
	}
	input := &ec2.RequestSpotInstancesInput{
		InstanceCount:       aws.Int32(1),
		Type:                types.SpotInstanceTypeOneTime,
		SpotPrice:           aws.String(strconv.FormatFloat(req.MaxPrice, 'f', 4, 64)),
		LaunchSpecification: spec,
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeSpotInstancesRequest,
			Tags:         utils.ConvertToEC2Tags(req.Tags),
		}},
	}
	if req.ClientToken != "" {
		input.ClientToken = aws.String(req.ClientToken)
	}

	var out *ec2.RequestSpotInstancesOutput
	err := retry.Do(ctx, p.retryConfig(6), func(err error) bool {
		return isProfilePropagation(err) || retry.IsThrottle(err)
	}, func(ctx context.Context) error {
		var rerr error
		out, rerr = p.ec2.RequestSpotInstances(ctx, input)
		return rerr
	})
	if err != nil {
		return "", fmt.Errorf("error requesting spot instance in %s: %w", req.SubnetID, err)
	}
	if len(out.SpotInstanceRequests) == 0 {
		return "", errors.New("spot request returned no request ID")
	}
	id := aws.ToString(out.SpotInstanceRequests[0].SpotInstanceRequestId)
	p.logger.Debug().Str("request", id).Str("subnet", req.SubnetID).Msg("spot request submitted")
	return id, nil
}

// DescribeSpot returns the state of a spot request. A request not yet visible
// is reported as open.
func (p *Provider) DescribeSpot(ctx context.Context, requestID string) (provision.SpotStatus, error) {
	out, err := p.ec2.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err != nil {
		if IsNotFound(err) {
			return provision.SpotStatus{State: provision.SpotOpen, StatusCode: "pending-evaluation"}, nil
		}
		return provision.SpotStatus{}, fmt.Errorf("error describing spot request %s: %w", requestID, err)
	}
	if len(out.SpotInstanceRequests) == 0 {
		return provision.SpotStatus{State: provision.SpotOpen, StatusCode: "pending-evaluation"}, nil
	}
	return spotStatus(out.SpotInstanceRequests[0]), nil
}

func spotStatus(r types.SpotInstanceRequest) provision.SpotStatus {
	status := provision.SpotStatus{
		State:      provision.SpotState(r.State),
		InstanceID: aws.ToString(r.InstanceId),
	}
	if r.Status != nil {
		status.StatusCode = aws.ToString(r.Status.Code)
		status.Message = aws.ToString(r.Status.Message)
	}
	return status
}

// CancelSpot cancels the request and terminates any instance it launched
func (p *Provider) CancelSpot(ctx context.Context, requestID string) error {
	status, err := p.DescribeSpot(ctx, requestID)
	if err != nil {
		return err
	}
	_, err = p.ec2.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("error cancelling spot request %s: %w", requestID, err)
	}
	if status.InstanceID == "" {
		return nil
	}
	return p.terminate(ctx, status.InstanceID, false)
}

// terminate terminates an instance, optionally waiting until it is gone
func (p *Provider) terminate(ctx context.Context, instanceID string, wait bool) error {
	_, err := p.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{instanceID}})
	if err != nil {
		if IsNotFound(err) {
			return notFound("instance "+instanceID, err)
		}
		return fmt.Errorf("error terminating instance %s: %w", instanceID, err)
	}
	if !wait {
		return nil
	}
	waiter := ec2.NewInstanceTerminatedWaiter(p.ec2)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}, p.timing.WaitTimeout); err != nil {
		return fmt.Errorf("error waiting for instance %s to terminate: %w", instanceID, err)
	}
	return nil
}

// WaitRunning waits for the instance to reach running and returns its public address
func (p *Provider) WaitRunning(ctx context.Context, instanceID string) (string, error) {
	waiter := ec2.NewInstanceRunningWaiter(p.ec2)
	out, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}, p.timing.WaitTimeout)
	if err != nil {
		return "", fmt.Errorf("error waiting for instance %s to run: %w", instanceID, err)
	}
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			if aws.ToString(instance.InstanceId) == instanceID {
				return aws.ToString(instance.PublicIpAddress), nil
			}
		}
	}
	return "", nil
}

// TagResources applies tags to EC2 resources
func (p *Provider) TagResources(ctx context.Context, ids []string, tags map[string]string) error {
	if len(ids) == 0 || len(tags) == 0 {
		return nil
	}
	_, err := p.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: ids,
		Tags:      utils.ConvertToEC2Tags(tags),
	})
	if err != nil {
		return fmt.Errorf("error tagging %s: %w", strings.Join(ids, ", "), err)
	}
	return nil
}
