package pricing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/catalog"
	"github.com/younsl/spotnode/pkg/utils"
)

// PricingRegion is where the AWS Pricing API is served
const PricingRegion = "us-east-1"

// ProductsAPI is the subset of the Pricing API client used here
type ProductsAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// OnDemandClient looks up Linux on-demand hourly prices, falling back to the
// catalog's published figures when the Pricing API is unavailable.
type OnDemandClient struct {
	api     ProductsAPI
	stats   *Stats
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.RWMutex
	cache map[string]float64
}

// NewOnDemandClient creates an on-demand price client. api may be nil, in
// which case only catalog prices are returned.
func NewOnDemandClient(api ProductsAPI, stats *Stats, logger zerolog.Logger) *OnDemandClient {
	return &OnDemandClient{
		api:     api,
		stats:   stats,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "ondemand-pricing").Logger(),
		cache:   make(map[string]float64),
	}
}

// HourlyPrice returns the on-demand hourly price for an instance type and where it came from
func (c *OnDemandClient) HourlyPrice(ctx context.Context, instanceType, region string) (float64, models.PriceSource, error) {
	key := cacheKey(instanceType, region)

	c.mu.RLock()
	if price, exists := c.cache[key]; exists {
		c.mu.RUnlock()
		c.stats.UpdateCacheHit(ServiceOnDemand, region)
		return price, models.PriceSourceCache, nil
	}
	c.mu.RUnlock()

	if c.api != nil {
		price, err := c.fromAPI(ctx, instanceType, region)
		if err == nil {
			c.stats.UpdateAPISuccess(ServiceOnDemand, region)
			c.mu.Lock()
			c.cache[key] = price
			c.mu.Unlock()
			return price, models.PriceSourceAPI, nil
		}
		c.stats.UpdateAPIFailure(ServiceOnDemand, region)
		c.logger.Debug().Err(err).Str("instanceType", instanceType).Str("region", region).Msg("on-demand price lookup failed")
	}

	if price, ok := catalog.OnDemandPrice(instanceType, region); ok {
		return price, models.PriceSourceDefault, nil
	}
	return 0, "", fmt.Errorf("no on-demand price for %s in %s", instanceType, region)
}

func (c *OnDemandClient) fromAPI(ctx context.Context, instanceType, region string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters:     onDemandFilters(instanceType, region),
		MaxResults:  aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("error calling AWS Pricing API: %w", err)
	}
	if len(resp.PriceList) == 0 {
		return 0, fmt.Errorf("no pricing found for %s in region %s", instanceType, region)
	}
	return ParseOnDemandPrice(resp.PriceList[0])
}

func onDemandFilters(instanceType, region string) []types.Filter {
	term := func(field, value string) types.Filter {
		return types.Filter{
			Type:  types.FilterTypeTermMatch,
			Field: aws.String(field),
			Value: aws.String(value),
		}
	}
	return []types.Filter{
		term("instanceType", instanceType),
		term("location", utils.GetRegionDescriptiveName(region)),
		term("operatingSystem", "Linux"),
		term("tenancy", "Shared"),
		term("preInstalledSw", "NA"),
		term("capacitystatus", "Used"),
	}
}

// priceListDocument is the part of a Pricing API price list entry that carries
// the on-demand rate: terms.OnDemand.<offer>.priceDimensions.<rate>.pricePerUnit.USD
type priceListDocument struct {
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				Unit         string `json:"unit"`
				PricePerUnit struct {
					USD string `json:"USD"`
				} `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// ParseOnDemandPrice reads the hourly USD rate from a Pricing API price list
// document. Offers and dimensions are visited in key order and the first
// hourly rate wins.
func ParseOnDemandPrice(doc string) (float64, error) {
	var parsed priceListDocument
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return 0, fmt.Errorf("error parsing pricing data: %w", err)
	}
	offers := parsed.Terms.OnDemand
	if len(offers) == 0 {
		return 0, errors.New("no on-demand offer in price list")
	}

	for _, sku := range slices.Sorted(maps.Keys(offers)) {
		dimensions := offers[sku].PriceDimensions
		for _, rate := range slices.Sorted(maps.Keys(dimensions)) {
			dim := dimensions[rate]
			if dim.Unit != "" && dim.Unit != "Hrs" {
				continue
			}
			if dim.PricePerUnit.USD == "" {
				continue
			}
			price, err := strconv.ParseFloat(dim.PricePerUnit.USD, 64)
			if err != nil {
				return 0, fmt.Errorf("error parsing price %q: %w", dim.PricePerUnit.USD, err)
			}
			return price, nil
		}
	}
	return 0, errors.New("no hourly USD price in price list")
}

// Savings returns the fraction saved by paying spot instead of on-demand
func Savings(spot, onDemand float64) float64 {
	if onDemand <= 0 || spot <= 0 || spot >= onDemand {
		return 0
	}
	return (onDemand - spot) / onDemand
}
