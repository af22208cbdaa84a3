package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younsl/spotnode/internal/models"
)

const priceListDoc = `{
  "product": {"attributes": {"instanceType": "g4dn.xlarge"}},
  "terms": {
    "OnDemand": {
      "SKU.JRTCKXETXF": {
        "priceDimensions": {
          "SKU.JRTCKXETXF.6YS6EN2CT7": {
            "unit": "Hrs",
            "pricePerUnit": {"USD": "0.5260000000"}
          }
        }
      }
    }
  }
}`

type fakeProducts struct {
	calls int
	out   *pricing.GetProductsOutput
	err   error
}

func (f *fakeProducts) GetProducts(_ context.Context, _ *pricing.GetProductsInput, _ ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	f.calls++
	return f.out, f.err
}

func TestParseOnDemandPrice(t *testing.T) {
	price, err := ParseOnDemandPrice(priceListDoc)
	require.NoError(t, err)
	assert.InDelta(t, 0.526, price, 1e-9)

	tests := []struct {
		name string
		doc  string
	}{
		{name: "not json", doc: "{"},
		{name: "no terms", doc: `{"product": {}}`},
		{name: "no offers", doc: `{"terms": {"OnDemand": {}}}`},
		{name: "no hourly dimension", doc: `{"terms": {"OnDemand": {"A": {"priceDimensions": {"B": {"unit": "Quantity", "pricePerUnit": {"USD": "1.0"}}}}}}}`},
		{name: "bad number", doc: `{"terms": {"OnDemand": {"A": {"priceDimensions": {"B": {"unit": "Hrs", "pricePerUnit": {"USD": "n/a"}}}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOnDemandPrice(tt.doc)
			assert.Error(t, err)
		})
	}
}

func TestParseOnDemandPriceSkipsNonHourlyDimensions(t *testing.T) {
	doc := `{"terms": {"OnDemand": {"SKU.A": {"priceDimensions": {
		"SKU.A.1": {"unit": "Quantity", "pricePerUnit": {"USD": "9.99"}},
		"SKU.A.2": {"unit": "Hrs", "pricePerUnit": {"USD": "1.0060000000"}}
	}}}}}`
	price, err := ParseOnDemandPrice(doc)
	require.NoError(t, err)
	assert.InDelta(t, 1.006, price, 1e-9)
}

func TestOnDemandClientCachesAPIResults(t *testing.T) {
	api := &fakeProducts{out: &pricing.GetProductsOutput{PriceList: []string{priceListDoc}}}
	stats := NewStats()
	client := NewOnDemandClient(api, stats, zerolog.Nop())

	price, source, err := client.HourlyPrice(context.Background(), "g4dn.xlarge", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.PriceSourceAPI, source)
	assert.InDelta(t, 0.526, price, 1e-9)

	_, source, err = client.HourlyPrice(context.Background(), "g4dn.xlarge", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.PriceSourceCache, source)
	assert.Equal(t, 1, api.calls)

	assert.Equal(t, []StatRow{{Service: ServiceOnDemand, Region: "us-east-1", Success: 1, Cache: 1}}, stats.Rows())
}

func TestOnDemandClientFallsBackToCatalog(t *testing.T) {
	client := NewOnDemandClient(&fakeProducts{err: errors.New("AccessDeniedException")}, nil, zerolog.Nop())

	price, source, err := client.HourlyPrice(context.Background(), "g5.xlarge", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, models.PriceSourceDefault, source)
	assert.InDelta(t, 1.006, price, 1e-9)

	_, _, err = client.HourlyPrice(context.Background(), "x9.unknown", "us-east-1")
	assert.Error(t, err)
}

func TestSavings(t *testing.T) {
	assert.InDelta(t, 0.5, Savings(0.25, 0.50), 1e-9)
	assert.Zero(t, Savings(0.60, 0.50))
	assert.Zero(t, Savings(0.25, 0))
}
