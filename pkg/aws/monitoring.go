package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/utils"
)

const (
	namespaceEC2      = "AWS/EC2"
	metricStatusCheck = "StatusCheckFailed"

	// statusCheckSuffix names the stack's status check alarm: <stack>-status-check
	statusCheckSuffix = "-status-check"
)

// EnsureLogGroup creates the log group when absent and sets its retention
func (p *Provider) EnsureLogGroup(ctx context.Context, name string, retentionDays int32, tags map[string]string) error {
	_, err := p.logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(name),
		Tags:         tags,
	})
	if err != nil {
		var exists *logtypes.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return fmt.Errorf("error creating log group %s: %w", name, err)
		}
	}
	_, err = p.logs.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(name),
		RetentionInDays: aws.Int32(retentionDays),
	})
	if err != nil {
		return fmt.Errorf("error setting retention on log group %s: %w", name, err)
	}
	return nil
}

// EnsureAlarm creates or updates the instance status check alarm
func (p *Provider) EnsureAlarm(ctx context.Context, spec provision.AlarmSpec) error {
	tags := make([]cwtypes.Tag, 0, len(spec.Tags))
	for _, k := range utils.SortedTagKeys(spec.Tags) {
		tags = append(tags, cwtypes.Tag{Key: aws.String(k), Value: aws.String(spec.Tags[k])})
	}
	_, err := p.cw.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(spec.Name),
		AlarmDescription:   aws.String("Status check of " + spec.InstanceID),
		Namespace:          aws.String(namespaceEC2),
		MetricName:         aws.String(metricStatusCheck),
		Dimensions:         []cwtypes.Dimension{{Name: aws.String("InstanceId"), Value: aws.String(spec.InstanceID)}},
		Statistic:          cwtypes.StatisticMaximum,
		Period:             aws.Int32(60),
		EvaluationPeriods:  aws.Int32(2),
		Threshold:          aws.Float64(1),
		ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanOrEqualToThreshold,
		TreatMissingData:   aws.String("missing"),
		Tags:               tags,
	})
	if err != nil {
		return fmt.Errorf("error creating alarm %s: %w", spec.Name, err)
	}
	return nil
}

// logGroupName is the stack's log group
func logGroupName(stack string) string {
	return "/spotnode/" + stack
}

func (p *Provider) discoverLogGroups(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	prefix := logGroupName(stack)
	var records []models.ResourceRecord
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(p.logs, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing log groups: %w", err)
		}
		for _, lg := range page.LogGroups {
			name := aws.ToString(lg.LogGroupName)
			// the prefix also matches other stacks sharing this one's name as a prefix
			if name != prefix && !strings.HasPrefix(name, prefix+"/") {
				continue
			}
			records = append(records, models.ResourceRecord{
				Kind:   models.KindLogGroup,
				ID:     name,
				Name:   name,
				Region: p.region,
			})
		}
	}
	return records, nil
}

func (p *Provider) discoverAlarms(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord
	paginator := cloudwatch.NewDescribeAlarmsPaginator(p.cw, &cloudwatch.DescribeAlarmsInput{
		AlarmNamePrefix: aws.String(stack + statusCheckSuffix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing alarms: %w", err)
		}
		for _, alarm := range page.MetricAlarms {
			name := aws.ToString(alarm.AlarmName)
			if name != stack+statusCheckSuffix {
				continue
			}
			records = append(records, models.ResourceRecord{
				Kind:   models.KindAlarm,
				ID:     name,
				Name:   name,
				Region: p.region,
			})
		}
	}
	return records, nil
}

func (p *Provider) deleteLogGroup(ctx context.Context, name string) error {
	if _, err := p.logs.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{LogGroupName: aws.String(name)}); err != nil {
		var missing *logtypes.ResourceNotFoundException
		if errors.As(err, &missing) {
			return notFound("log group "+name, err)
		}
		return fmt.Errorf("error deleting log group %s: %w", name, err)
	}
	return nil
}

// deleteAlarm reports not-found itself since DeleteAlarms succeeds for unknown names
func (p *Provider) deleteAlarm(ctx context.Context, name string) error {
	out, err := p.cw.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{AlarmNames: []string{name}})
	if err != nil {
		return fmt.Errorf("error describing alarm %s: %w", name, err)
	}
	if len(out.MetricAlarms) == 0 {
		return notFound("alarm "+name, nil)
	}
	if _, err := p.cw.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{AlarmNames: []string{name}}); err != nil {
		return fmt.Errorf("error deleting alarm %s: %w", name, err)
	}
	return nil
}
