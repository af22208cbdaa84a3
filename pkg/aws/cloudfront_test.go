package aws

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/teardown"
)

type fakeCloudFront struct {
	CloudFrontAPI

	enabled   bool
	configErr error
	tags      map[string]map[string]string // ARN -> tags
	list      []cftypes.DistributionSummary

	calls       []string
	updateMatch string
	deleteMatch string
	disabledCfg *cftypes.DistributionConfig
}

func (f *fakeCloudFront) GetDistributionConfig(_ context.Context, _ *cloudfront.GetDistributionConfigInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error) {
	f.calls = append(f.calls, "get-config")
	if f.configErr != nil {
		return nil, f.configErr
	}
	return &cloudfront.GetDistributionConfigOutput{
		ETag:               aws.String("E1"),
		DistributionConfig: &cftypes.DistributionConfig{Enabled: aws.Bool(f.enabled), Comment: aws.String("spotnode demo")},
	}, nil
}

func (f *fakeCloudFront) UpdateDistribution(_ context.Context, in *cloudfront.UpdateDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error) {
	f.calls = append(f.calls, "update")
	f.updateMatch = aws.ToString(in.IfMatch)
	f.disabledCfg = in.DistributionConfig
	return &cloudfront.UpdateDistributionOutput{ETag: aws.String("E2")}, nil
}

func (f *fakeCloudFront) GetDistribution(_ context.Context, in *cloudfront.GetDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error) {
	f.calls = append(f.calls, "wait")
	return &cloudfront.GetDistributionOutput{Distribution: &cftypes.Distribution{Id: in.Id, Status: aws.String("Deployed")}}, nil
}

func (f *fakeCloudFront) DeleteDistribution(_ context.Context, in *cloudfront.DeleteDistributionInput, _ ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error) {
	f.calls = append(f.calls, "delete")
	f.deleteMatch = aws.ToString(in.IfMatch)
	return &cloudfront.DeleteDistributionOutput{}, nil
}

func (f *fakeCloudFront) ListDistributions(_ context.Context, _ *cloudfront.ListDistributionsInput, _ ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error) {
	return &cloudfront.ListDistributionsOutput{DistributionList: &cftypes.DistributionList{Items: f.list}}, nil
}

func (f *fakeCloudFront) ListTagsForResource(_ context.Context, in *cloudfront.ListTagsForResourceInput, _ ...func(*cloudfront.Options)) (*cloudfront.ListTagsForResourceOutput, error) {
	items := []cftypes.Tag{}
	for k, v := range f.tags[aws.ToString(in.Resource)] {
		items = append(items, cftypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return &cloudfront.ListTagsForResourceOutput{Tags: &cftypes.Tags{Items: items}}, nil
}

func cdnProvider(fake *fakeCloudFront) *Provider {
	p := testProvider()
	p.cdn = fake
	p.timing.CDNTimeout = time.Second
	return p
}

func TestDeleteDistributionDisablesThenDeletes(t *testing.T) {
	fake := &fakeCloudFront{enabled: true}
	p := cdnProvider(fake)

	require.NoError(t, p.Delete(context.Background(), models.ResourceRecord{Kind: models.KindCDNDistribution, ID: "E123"}))
	assert.Equal(t, []string{"get-config", "update", "wait", "delete"}, fake.calls)
	assert.Equal(t, "E1", fake.updateMatch)
	assert.Equal(t, "E2", fake.deleteMatch, "delete must use the ETag returned by the disabling update")
	require.NotNil(t, fake.disabledCfg)
	assert.False(t, aws.ToBool(fake.disabledCfg.Enabled))
	assert.Equal(t, "spotnode demo", aws.ToString(fake.disabledCfg.Comment))
}

func TestDeleteDistributionAlreadyDisabled(t *testing.T) {
	fake := &fakeCloudFront{enabled: false}
	p := cdnProvider(fake)

	require.NoError(t, p.Delete(context.Background(), models.ResourceRecord{Kind: models.KindCDNDistribution, ID: "E123"}))
	assert.Equal(t, []string{"get-config", "wait", "delete"}, fake.calls)
	assert.Equal(t, "E1", fake.deleteMatch)
}

func TestDeleteDistributionMissing(t *testing.T) {
	fake := &fakeCloudFront{configErr: apiError("NoSuchDistribution")}
	p := cdnProvider(fake)

	err := p.Delete(context.Background(), models.ResourceRecord{Kind: models.KindCDNDistribution, ID: "E123"})
	assert.ErrorIs(t, err, teardown.ErrNotFound)
	assert.Equal(t, []string{"get-config"}, fake.calls)
}

func TestDiscoverDistributionsByTags(t *testing.T) {
	owned := map[string]string{"Stack": "demo", "ManagedBy": "spotnode"}
	fake := &fakeCloudFront{
		list: []cftypes.DistributionSummary{
			{Id: aws.String("E1"), ARN: aws.String("arn:dist/E1"), DomainName: aws.String("d1.cloudfront.net")},
			{Id: aws.String("E2"), ARN: aws.String("arn:dist/E2"), DomainName: aws.String("d2.cloudfront.net")},
			{Id: aws.String("E3"), ARN: aws.String("arn:dist/E3"), DomainName: aws.String("d3.cloudfront.net")},
		},
		tags: map[string]map[string]string{
			"arn:dist/E1": owned,
			"arn:dist/E2": {"Stack": "demo-prod", "ManagedBy": "spotnode"},
		},
	}
	p := cdnProvider(fake)

	records, err := p.Discover(context.Background(), "demo", models.KindCDNDistribution)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E1", records[0].ID)
	assert.Equal(t, "d1.cloudfront.net", records[0].Name)
}
