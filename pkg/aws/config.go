// Package aws implements the cloud capabilities of spotnode on aws-sdk-go-v2
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
)

// PricingRegion is where the AWS Pricing API is served
const PricingRegion = "us-east-1"

// LoadConfig loads credentials and settings for a region with standard
// retries and instance metadata enabled
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryMode(aws.RetryModeStandard),
		config.WithEC2IMDSClientEnableState(imds.ClientEnabled),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("error loading AWS config for region %s: %w", region, err)
	}
	return cfg, nil
}

// NewPricingClient returns a Pricing API client pinned to the pricing region
func NewPricingClient(cfg aws.Config) *pricing.Client {
	return pricing.NewFromConfig(cfg, func(o *pricing.Options) {
		o.Region = PricingRegion
	})
}
