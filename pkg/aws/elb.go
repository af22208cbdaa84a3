package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/retry"
	"github.com/younsl/spotnode/pkg/utils"
)

// describeTagsBatch is the most ARNs one DescribeTags call accepts
const describeTagsBatch = 20

func elbTags(tags map[string]string) []elbv2types.Tag {
	result := make([]elbv2types.Tag, 0, len(tags))
	for _, k := range utils.SortedTagKeys(tags) {
		result = append(result, elbv2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return result
}

// EnsureTargetGroup returns the ARN of the named HTTP target group, creating it when absent
func (p *Provider) EnsureTargetGroup(ctx context.Context, spec provision.TargetGroupSpec) (string, error) {
	out, err := p.elb.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{Names: []string{spec.Name}})
	switch {
	case err == nil && len(out.TargetGroups) > 0:
		return aws.ToString(out.TargetGroups[0].TargetGroupArn), nil
	case err != nil && !IsNotFound(err):
		return "", fmt.Errorf("error describing target group %s: %w", spec.Name, err)
	}

	created, err := p.elb.CreateTargetGroup(ctx, &elbv2.CreateTargetGroupInput{
		Name:            aws.String(spec.Name),
		Protocol:        elbv2types.ProtocolEnumHttp,
		Port:            aws.Int32(spec.Port),
		VpcId:           aws.String(spec.VPCID),
		TargetType:      elbv2types.TargetTypeEnumInstance,
		HealthCheckPath: aws.String("/"),
		Tags:            elbTags(spec.Tags),
	})
	if err != nil {
		return "", fmt.Errorf("error creating target group %s: %w", spec.Name, err)
	}
	if len(created.TargetGroups) == 0 {
		return "", fmt.Errorf("target group %s was not returned after creation", spec.Name)
	}
	return aws.ToString(created.TargetGroups[0].TargetGroupArn), nil
}

// RegisterTarget registers an instance with a target group
func (p *Provider) RegisterTarget(ctx context.Context, targetGroupARN, instanceID string) error {
	_, err := p.elb.RegisterTargets(ctx, &elbv2.RegisterTargetsInput{
		TargetGroupArn: aws.String(targetGroupARN),
		Targets:        []elbv2types.TargetDescription{{Id: aws.String(instanceID)}},
	})
	if err != nil {
		return fmt.Errorf("error registering %s with %s: %w", instanceID, targetGroupARN, err)
	}
	return nil
}

// EnsureLoadBalancer returns the named internet-facing application load
// balancer, creating it when absent, once it is active
func (p *Provider) EnsureLoadBalancer(ctx context.Context, spec provision.LoadBalancerSpec) (provision.LoadBalancer, error) {
	var lb elbv2types.LoadBalancer
	out, err := p.elb.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{Names: []string{spec.Name}})
	switch {
	case err == nil && len(out.LoadBalancers) > 0:
		lb = out.LoadBalancers[0]
	case err != nil && !IsNotFound(err):
		return provision.LoadBalancer{}, fmt.Errorf("error describing load balancer %s: %w", spec.Name, err)
	default:
		created, err := p.elb.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
			Name:           aws.String(spec.Name),
			Subnets:        spec.SubnetIDs,
			SecurityGroups: spec.SecurityGroupIDs,
			Scheme:         elbv2types.LoadBalancerSchemeEnumInternetFacing,
			Type:           elbv2types.LoadBalancerTypeEnumApplication,
			Tags:           elbTags(spec.Tags),
		})
		if err != nil {
			return provision.LoadBalancer{}, fmt.Errorf("error creating load balancer %s: %w", spec.Name, err)
		}
		if len(created.LoadBalancers) == 0 {
			return provision.LoadBalancer{}, fmt.Errorf("load balancer %s was not returned after creation", spec.Name)
		}
		lb = created.LoadBalancers[0]
	}

	result := provision.LoadBalancer{ARN: aws.ToString(lb.LoadBalancerArn), DNSName: aws.ToString(lb.DNSName)}
	waiter := elbv2.NewLoadBalancerAvailableWaiter(p.elb)
	err = waiter.Wait(ctx, &elbv2.DescribeLoadBalancersInput{LoadBalancerArns: []string{result.ARN}}, p.timing.WaitTimeout)
	if err != nil {
		return result, fmt.Errorf("error waiting for load balancer %s: %w", spec.Name, err)
	}
	return result, nil
}

// EnsureListener returns the HTTP listener on port forwarding to the target
// group, creating it when absent
func (p *Provider) EnsureListener(ctx context.Context, loadBalancerARN, targetGroupARN string, port int32) (string, error) {
	out, err := p.elb.DescribeListeners(ctx, &elbv2.DescribeListenersInput{LoadBalancerArn: aws.String(loadBalancerARN)})
	if err != nil {
		return "", fmt.Errorf("error describing listeners of %s: %w", loadBalancerARN, err)
	}
	for _, l := range out.Listeners {
		if aws.ToInt32(l.Port) == port {
			return aws.ToString(l.ListenerArn), nil
		}
	}

	created, err := p.elb.CreateListener(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: aws.String(loadBalancerARN),
		Port:            aws.Int32(port),
		Protocol:        elbv2types.ProtocolEnumHttp,
		DefaultActions: []elbv2types.Action{{
			Type:           elbv2types.ActionTypeEnumForward,
			TargetGroupArn: aws.String(targetGroupARN),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("error creating listener on %s: %w", loadBalancerARN, err)
	}
	if len(created.Listeners) == 0 {
		return "", fmt.Errorf("listener on %s was not returned after creation", loadBalancerARN)
	}
	return aws.ToString(created.Listeners[0].ListenerArn), nil
}

// stackOwnedARNs returns the subset of arns tagged for the stack
func (p *Provider) stackOwnedARNs(ctx context.Context, arns []string, stack string) (map[string]bool, error) {
	owned := make(map[string]bool)
	for start := 0; start < len(arns); start += describeTagsBatch {
		end := min(start+describeTagsBatch, len(arns))
		out, err := p.elb.DescribeTags(ctx, &elbv2.DescribeTagsInput{ResourceArns: arns[start:end]})
		if err != nil {
			return nil, fmt.Errorf("error describing load balancing tags: %w", err)
		}
		for _, desc := range out.TagDescriptions {
			tags := make(map[string]string, len(desc.Tags))
			for _, t := range desc.Tags {
				tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
			if stackOwned(tags, stack) {
				owned[aws.ToString(desc.ResourceArn)] = true
			}
		}
	}
	return owned, nil
}

func (p *Provider) stackLoadBalancers(ctx context.Context, stack string) ([]elbv2types.LoadBalancer, error) {
	var all []elbv2types.LoadBalancer
	paginator := elbv2.NewDescribeLoadBalancersPaginator(p.elb, &elbv2.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing load balancers: %w", err)
		}
		all = append(all, page.LoadBalancers...)
	}
	arns := make([]string, 0, len(all))
	for _, lb := range all {
		arns = append(arns, aws.ToString(lb.LoadBalancerArn))
	}
	owned, err := p.stackOwnedARNs(ctx, arns, stack)
	if err != nil {
		return nil, err
	}
	var result []elbv2types.LoadBalancer
	for _, lb := range all {
		if owned[aws.ToString(lb.LoadBalancerArn)] {
			result = append(result, lb)
		}
	}
	return result, nil
}

func (p *Provider) discoverLoadBalancers(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	lbs, err := p.stackLoadBalancers(ctx, stack)
	if err != nil {
		return nil, err
	}
	records := make([]models.ResourceRecord, 0, len(lbs))
	for _, lb := range lbs {
		rec := models.ResourceRecord{
			Kind:      models.KindLoadBalancer,
			ID:        aws.ToString(lb.LoadBalancerArn),
			Name:      aws.ToString(lb.LoadBalancerName),
			Region:    p.region,
			CreatedAt: aws.ToTime(lb.CreatedTime),
		}
		tgs, err := p.elb.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{LoadBalancerArn: lb.LoadBalancerArn})
		if err != nil && !IsNotFound(err) {
			return nil, fmt.Errorf("error describing target groups of %s: %w", rec.Name, err)
		}
		if tgs != nil {
			for _, tg := range tgs.TargetGroups {
				rec.DependsOn = append(rec.DependsOn, aws.ToString(tg.TargetGroupArn))
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (p *Provider) discoverListeners(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	lbs, err := p.stackLoadBalancers(ctx, stack)
	if err != nil {
		return nil, err
	}
	var records []models.ResourceRecord
	for _, lb := range lbs {
		out, err := p.elb.DescribeListeners(ctx, &elbv2.DescribeListenersInput{LoadBalancerArn: lb.LoadBalancerArn})
		if err != nil {
			return nil, fmt.Errorf("error describing listeners of %s: %w", aws.ToString(lb.LoadBalancerName), err)
		}
		for _, l := range out.Listeners {
			rec := models.ResourceRecord{
				Kind:      models.KindListener,
				ID:        aws.ToString(l.ListenerArn),
				Name:      fmt.Sprintf("%s:%d", aws.ToString(lb.LoadBalancerName), aws.ToInt32(l.Port)),
				Region:    p.region,
				DependsOn: []string{aws.ToString(lb.LoadBalancerArn)},
			}
			for _, action := range l.DefaultActions {
				if action.TargetGroupArn != nil {
					rec.DependsOn = append(rec.DependsOn, *action.TargetGroupArn)
				}
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (p *Provider) discoverTargetGroups(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	var all []elbv2types.TargetGroup
	paginator := elbv2.NewDescribeTargetGroupsPaginator(p.elb, &elbv2.DescribeTargetGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing target groups: %w", err)
		}
		all = append(all, page.TargetGroups...)
	}
	arns := make([]string, 0, len(all))
	for _, tg := range all {
		arns = append(arns, aws.ToString(tg.TargetGroupArn))
	}
	owned, err := p.stackOwnedARNs(ctx, arns, stack)
	if err != nil {
		return nil, err
	}

	var records []models.ResourceRecord
	for _, tg := range all {
		arn := aws.ToString(tg.TargetGroupArn)
		if !owned[arn] {
			continue
		}
		records = append(records, models.ResourceRecord{
			Kind:   models.KindTargetGroup,
			ID:     arn,
			Name:   aws.ToString(tg.TargetGroupName),
			Region: p.region,
		})
	}
	return records, nil
}

func (p *Provider) deleteListener(ctx context.Context, arn string) error {
	if _, err := p.elb.DeleteListener(ctx, &elbv2.DeleteListenerInput{ListenerArn: aws.String(arn)}); err != nil {
		if IsNotFound(err) {
			return notFound("listener "+arn, err)
		}
		return fmt.Errorf("error deleting listener %s: %w", arn, err)
	}
	return nil
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, arn string) error {
	if _, err := p.elb.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{LoadBalancerArn: aws.String(arn)}); err != nil {
		if IsNotFound(err) {
			return notFound("load balancer "+arn, err)
		}
		return fmt.Errorf("error deleting load balancer %s: %w", arn, err)
	}
	waiter := elbv2.NewLoadBalancersDeletedWaiter(p.elb)
	if err := waiter.Wait(ctx, &elbv2.DescribeLoadBalancersInput{LoadBalancerArns: []string{arn}}, p.timing.WaitTimeout); err != nil {
		return fmt.Errorf("error waiting for load balancer %s to be deleted: %w", arn, err)
	}
	return nil
}

// deleteTargetGroup retries while a just-deleted load balancer still holds the group
func (p *Provider) deleteTargetGroup(ctx context.Context, arn string) error {
	err := retry.Do(ctx, p.retryConfig(6), IsDependencyViolation, func(ctx context.Context) error {
		_, err := p.elb.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{TargetGroupArn: aws.String(arn)})
		return err
	})
	if err != nil {
		if IsNotFound(err) {
			return notFound("target group "+arn, err)
		}
		return fmt.Errorf("error deleting target group %s: %w", arn, err)
	}
	return nil
}
