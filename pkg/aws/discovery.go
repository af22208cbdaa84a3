package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/retry"
	"github.com/younsl/spotnode/pkg/utils"
)

// stackOwned reports whether a tag set marks a resource as part of the stack
func stackOwned(tags map[string]string, stack string) bool {
	return tags[utils.TagStack] == stack && tags[utils.TagManagedBy] == utils.ManagedByValue
}

// stackFilters select EC2 resources tagged for the stack
func stackFilters(stack string) []types.Filter {
	return []types.Filter{
		{Name: aws.String("tag:" + utils.TagStack), Values: []string{stack}},
		{Name: aws.String("tag:" + utils.TagManagedBy), Values: []string{utils.ManagedByValue}},
	}
}

// profileName extracts the instance profile name from its ARN
func profileName(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

// Discover lists the stack's resources of one kind with their dependency edges
func (p *Provider) Discover(ctx context.Context, stack string, kind models.ResourceKind) ([]models.ResourceRecord, error) {
	switch kind {
	case models.KindSpotRequest:
		return p.discoverSpotRequests(ctx, stack)
	case models.KindInstance:
		return p.discoverInstances(ctx, stack)
	case models.KindAlarm:
		return p.discoverAlarms(ctx, stack)
	case models.KindLogGroup:
		return p.discoverLogGroups(ctx, stack)
	case models.KindCDNDistribution:
		return p.discoverDistributions(ctx, stack)
	case models.KindListener:
		return p.discoverListeners(ctx, stack)
	case models.KindLoadBalancer:
		return p.discoverLoadBalancers(ctx, stack)
	case models.KindTargetGroup:
		return p.discoverTargetGroups(ctx, stack)
	case models.KindMountTarget:
		return p.discoverMountTargets(ctx, stack)
	case models.KindFileSystem:
		return p.discoverFileSystems(ctx, stack)
	case models.KindSecurityGroup:
		return p.discoverSecurityGroups(ctx, stack)
	case models.KindIAMInstanceProfile:
		return p.discoverInstanceProfiles(ctx, stack)
	case models.KindIAMRole:
		return p.discoverRoles(ctx, stack)
	case models.KindKeyPair:
		return p.discoverKeyPairs(ctx, stack)
	}
	return nil, fmt.Errorf("unsupported resource kind %q", kind)
}

// Delete removes one resource and returns once it is gone. A resource that
// no longer exists yields an error wrapping teardown.ErrNotFound.
func (p *Provider) Delete(ctx context.Context, rec models.ResourceRecord) error {
	switch rec.Kind {
	case models.KindSpotRequest:
		return p.deleteSpotRequest(ctx, rec.ID)
	case models.KindInstance:
		return p.terminate(ctx, rec.ID, true)
	case models.KindAlarm:
		return p.deleteAlarm(ctx, rec.ID)
	case models.KindLogGroup:
		return p.deleteLogGroup(ctx, rec.ID)
	case models.KindCDNDistribution:
		return p.deleteDistribution(ctx, rec.ID)
	case models.KindListener:
		return p.deleteListener(ctx, rec.ID)
	case models.KindLoadBalancer:
		return p.deleteLoadBalancer(ctx, rec.ID)
	case models.KindTargetGroup:
		return p.deleteTargetGroup(ctx, rec.ID)
	case models.KindMountTarget:
		return p.deleteMountTarget(ctx, rec.ID)
	case models.KindFileSystem:
		return p.deleteFileSystem(ctx, rec.ID)
	case models.KindSecurityGroup:
		return p.deleteSecurityGroup(ctx, rec.ID)
	case models.KindIAMInstanceProfile:
		return p.deleteInstanceProfile(ctx, rec.ID)
	case models.KindIAMRole:
		return p.deleteRole(ctx, rec.ID)
	case models.KindKeyPair:
		return p.deleteKeyPair(ctx, rec.ID)
	}
	return fmt.Errorf("unsupported resource kind %q", rec.Kind)
}

func (p *Provider) discoverSpotRequests(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	filters := append(stackFilters(stack), types.Filter{
		Name:   aws.String("state"),
		Values: []string{string(types.SpotInstanceStateOpen), string(types.SpotInstanceStateActive)},
	})
	var records []models.ResourceRecord
	paginator := ec2.NewDescribeSpotInstanceRequestsPaginator(p.ec2, &ec2.DescribeSpotInstanceRequestsInput{Filters: filters})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing spot requests: %w", err)
		}
		for _, r := range page.SpotInstanceRequests {
			rec := models.ResourceRecord{
				Kind:      models.KindSpotRequest,
				ID:        aws.ToString(r.SpotInstanceRequestId),
				Name:      aws.ToString(r.LaunchedAvailabilityZone),
				Region:    p.region,
				CreatedAt: aws.ToTime(r.CreateTime),
			}
			if spec := r.LaunchSpecification; spec != nil {
				for _, g := range spec.SecurityGroups {
					rec.DependsOn = append(rec.DependsOn, aws.ToString(g.GroupId))
				}
				if spec.KeyName != nil {
					rec.DependsOn = append(rec.DependsOn, *spec.KeyName)
				}
				if spec.IamInstanceProfile != nil {
					name := aws.ToString(spec.IamInstanceProfile.Name)
					if name == "" {
						name = profileName(aws.ToString(spec.IamInstanceProfile.Arn))
					}
					rec.DependsOn = append(rec.DependsOn, name)
				}
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// liveInstanceStates are the states an instance can still be terminated from
var liveInstanceStates = []string{"pending", "running", "stopping", "stopped", "shutting-down"}

// discoverInstances lists tagged instances plus the instances launched by the
// stack's spot requests, which stay untagged until provisioning tags them.
func (p *Provider) discoverInstances(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	filters := append(stackFilters(stack), types.Filter{
		Name:   aws.String("instance-state-name"),
		Values: liveInstanceStates,
	})
	records, err := p.listInstances(ctx, filters)
	if err != nil {
		return nil, err
	}

	launched, err := p.spotLaunchedInstances(ctx, stack)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		seen[rec.ID] = true
	}
	var missing []string
	for _, id := range launched {
		if !seen[id] {
			seen[id] = true
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return records, nil
	}

	// instance-id as a filter tolerates IDs that have already disappeared
	untagged, err := p.listInstances(ctx, []types.Filter{
		{Name: aws.String("instance-id"), Values: missing},
		{Name: aws.String("instance-state-name"), Values: liveInstanceStates},
	})
	if err != nil {
		return nil, err
	}
	return append(records, untagged...), nil
}

// spotLaunchedInstances returns the instance IDs recorded on the stack's spot
// requests in any state. A cancelled request keeps its instance running.
func (p *Provider) spotLaunchedInstances(ctx context.Context, stack string) ([]string, error) {
	var ids []string
	paginator := ec2.NewDescribeSpotInstanceRequestsPaginator(p.ec2, &ec2.DescribeSpotInstanceRequestsInput{Filters: stackFilters(stack)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing spot requests: %w", err)
		}
		for _, r := range page.SpotInstanceRequests {
			if id := aws.ToString(r.InstanceId); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (p *Provider) listInstances(ctx context.Context, filters []types.Filter) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord
	paginator := ec2.NewDescribeInstancesPaginator(p.ec2, &ec2.DescribeInstancesInput{Filters: filters})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				records = append(records, p.instanceRecord(inst))
			}
		}
	}
	return records, nil
}

func (p *Provider) instanceRecord(inst types.Instance) models.ResourceRecord {
	rec := models.ResourceRecord{
		Kind:      models.KindInstance,
		ID:        aws.ToString(inst.InstanceId),
		Name:      utils.GetName(inst.Tags),
		Region:    p.region,
		CreatedAt: aws.ToTime(inst.LaunchTime),
	}
	for _, g := range inst.SecurityGroups {
		rec.DependsOn = append(rec.DependsOn, aws.ToString(g.GroupId))
	}
	if inst.KeyName != nil {
		rec.DependsOn = append(rec.DependsOn, *inst.KeyName)
	}
	if inst.IamInstanceProfile != nil {
		rec.DependsOn = append(rec.DependsOn, profileName(aws.ToString(inst.IamInstanceProfile.Arn)))
	}
	return rec
}

func (p *Provider) discoverSecurityGroups(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord
	paginator := ec2.NewDescribeSecurityGroupsPaginator(p.ec2, &ec2.DescribeSecurityGroupsInput{Filters: stackFilters(stack)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing security groups: %w", err)
		}
		for _, g := range page.SecurityGroups {
			records = append(records, models.ResourceRecord{
				Kind:   models.KindSecurityGroup,
				ID:     aws.ToString(g.GroupId),
				Name:   aws.ToString(g.GroupName),
				Region: p.region,
			})
		}
	}
	return records, nil
}

// discoverKeyPairs identifies key pairs by name, which is what instances reference
func (p *Provider) discoverKeyPairs(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	out, err := p.ec2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{Filters: stackFilters(stack)})
	if err != nil {
		return nil, fmt.Errorf("error listing key pairs: %w", err)
	}
	records := make([]models.ResourceRecord, 0, len(out.KeyPairs))
	for _, k := range out.KeyPairs {
		name := aws.ToString(k.KeyName)
		records = append(records, models.ResourceRecord{
			Kind:      models.KindKeyPair,
			ID:        name,
			Name:      name,
			Region:    p.region,
			CreatedAt: aws.ToTime(k.CreateTime),
		})
	}
	return records, nil
}

// deleteSpotRequest cancels an open or active request. Cancelling leaves a
// launched instance running; instance discovery picks it up from the request.
func (p *Provider) deleteSpotRequest(ctx context.Context, id string) error {
	out, err := p.ec2.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{id},
	})
	if err != nil {
		if IsNotFound(err) {
			return notFound("spot request "+id, err)
		}
		return fmt.Errorf("error describing spot request %s: %w", id, err)
	}
	if len(out.SpotInstanceRequests) == 0 {
		return notFound("spot request "+id, nil)
	}
	switch provision.SpotState(out.SpotInstanceRequests[0].State) {
	case provision.SpotCancelled, provision.SpotClosed, provision.SpotFailed:
		return notFound("spot request "+id, nil)
	}

	_, err = p.ec2.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{id},
	})
	if err != nil {
		if IsNotFound(err) {
			return notFound("spot request "+id, err)
		}
		return fmt.Errorf("error cancelling spot request %s: %w", id, err)
	}
	return nil
}

// deleteSecurityGroup retries while terminated instances release their interfaces
func (p *Provider) deleteSecurityGroup(ctx context.Context, id string) error {
	err := retry.Do(ctx, p.retryConfig(8), IsDependencyViolation, func(ctx context.Context) error {
		_, err := p.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
		return err
	})
	if err != nil {
		if IsNotFound(err) {
			return notFound("security group "+id, err)
		}
		return fmt.Errorf("error deleting security group %s: %w", id, err)
	}
	return nil
}

// deleteKeyPair checks existence first since DeleteKeyPair succeeds for unknown names
func (p *Provider) deleteKeyPair(ctx context.Context, name string) error {
	_, err := p.ec2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{name}})
	if err != nil {
		if IsNotFound(err) {
			return notFound("key pair "+name, err)
		}
		return fmt.Errorf("error describing key pair %s: %w", name, err)
	}
	if _, err := p.ec2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: aws.String(name)}); err != nil {
		return fmt.Errorf("error deleting key pair %s: %w", name, err)
	}
	return nil
}
