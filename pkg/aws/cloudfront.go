package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/utils"
)

// cachingDisabledPolicy is the managed CachingDisabled cache policy
const cachingDisabledPolicy = "4135ea2d-6df8-44a3-9df3-4b5a84be39ad"

func cdnTags(tags map[string]string) *cftypes.Tags {
	items := make([]cftypes.Tag, 0, len(tags))
	for _, k := range utils.SortedTagKeys(tags) {
		items = append(items, cftypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return &cftypes.Tags{Items: items}
}

// EnsureDistribution returns the stack's distribution, creating one in front
// of the origin when none exists
func (p *Provider) EnsureDistribution(ctx context.Context, spec provision.DistributionSpec) (provision.Distribution, error) {
	existing, err := p.stackDistributions(ctx, spec.Stack)
	if err != nil {
		return provision.Distribution{}, err
	}
	if len(existing) > 0 {
		return provision.Distribution{
			ID:         aws.ToString(existing[0].Id),
			DomainName: aws.ToString(existing[0].DomainName),
		}, nil
	}

	originID := "spotnode-" + spec.Stack
	config := &cftypes.DistributionConfig{
		CallerReference: aws.String(originID),
		Comment:         aws.String("spotnode " + spec.Stack),
		Enabled:         aws.Bool(true),
		Origins: &cftypes.Origins{
			Quantity: aws.Int32(1),
			Items: []cftypes.Origin{{
				Id:         aws.String(originID),
				DomainName: aws.String(spec.OriginDomain),
				CustomOriginConfig: &cftypes.CustomOriginConfig{
					HTTPPort:             aws.Int32(80),
					HTTPSPort:            aws.Int32(443),
					OriginProtocolPolicy: cftypes.OriginProtocolPolicyHttpOnly,
				},
			}},
		},
		DefaultCacheBehavior: &cftypes.DefaultCacheBehavior{
			TargetOriginId:       aws.String(originID),
			ViewerProtocolPolicy: cftypes.ViewerProtocolPolicyRedirectToHttps,
			CachePolicyId:        aws.String(cachingDisabledPolicy),
		},
	}

	out, err := p.cdn.CreateDistributionWithTags(ctx, &cloudfront.CreateDistributionWithTagsInput{
		DistributionConfigWithTags: &cftypes.DistributionConfigWithTags{
			DistributionConfig: config,
			Tags:               cdnTags(spec.Tags),
		},
	})
	if err != nil {
		return provision.Distribution{}, fmt.Errorf("error creating distribution for %s: %w", spec.OriginDomain, err)
	}
	return provision.Distribution{
		ID:         aws.ToString(out.Distribution.Id),
		DomainName: aws.ToString(out.Distribution.DomainName),
	}, nil
}

func (p *Provider) stackDistributions(ctx context.Context, stack string) ([]cftypes.DistributionSummary, error) {
	var result []cftypes.DistributionSummary
	paginator := cloudfront.NewListDistributionsPaginator(p.cdn, &cloudfront.ListDistributionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing distributions: %w", err)
		}
		if page.DistributionList == nil {
			continue
		}
		for _, d := range page.DistributionList.Items {
			tags, err := p.cdn.ListTagsForResource(ctx, &cloudfront.ListTagsForResourceInput{Resource: d.ARN})
			if err != nil {
				return nil, fmt.Errorf("error listing tags of distribution %s: %w", aws.ToString(d.Id), err)
			}
			m := make(map[string]string)
			if tags.Tags != nil {
				for _, t := range tags.Tags.Items {
					m[aws.ToString(t.Key)] = aws.ToString(t.Value)
				}
			}
			if stackOwned(m, stack) {
				result = append(result, d)
			}
		}
	}
	return result, nil
}

func (p *Provider) discoverDistributions(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	dists, err := p.stackDistributions(ctx, stack)
	if err != nil {
		return nil, err
	}
	records := make([]models.ResourceRecord, 0, len(dists))
	for _, d := range dists {
		records = append(records, models.ResourceRecord{
			Kind:      models.KindCDNDistribution,
			ID:        aws.ToString(d.Id),
			Name:      aws.ToString(d.DomainName),
			Region:    p.region,
			CreatedAt: aws.ToTime(d.LastModifiedTime),
		})
	}
	return records, nil
}

// deleteDistribution disables the distribution, waits for the change to
// deploy and deletes it. This takes minutes.
func (p *Provider) deleteDistribution(ctx context.Context, id string) error {
	cfg, err := p.cdn.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: aws.String(id)})
	if err != nil {
		if IsNotFound(err) {
			return notFound("distribution "+id, err)
		}
		return fmt.Errorf("error getting distribution %s: %w", id, err)
	}
	etag := cfg.ETag

	if aws.ToBool(cfg.DistributionConfig.Enabled) {
		cfg.DistributionConfig.Enabled = aws.Bool(false)
		updated, err := p.cdn.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 aws.String(id),
			IfMatch:            etag,
			DistributionConfig: cfg.DistributionConfig,
		})
		if err != nil {
			return fmt.Errorf("error disabling distribution %s: %w", id, err)
		}
		etag = updated.ETag
		p.logger.Info().Str("distribution", id).Msg("disabled distribution, waiting for deployment")
	}

	waiter := cloudfront.NewDistributionDeployedWaiter(p.cdn)
	if err := waiter.Wait(ctx, &cloudfront.GetDistributionInput{Id: aws.String(id)}, p.timing.CDNTimeout); err != nil {
		return fmt.Errorf("error waiting for distribution %s to deploy: %w", id, err)
	}

	if _, err := p.cdn.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{Id: aws.String(id), IfMatch: etag}); err != nil {
		if IsNotFound(err) {
			return notFound("distribution "+id, err)
		}
		return fmt.Errorf("error deleting distribution %s: %w", id, err)
	}
	return nil
}
