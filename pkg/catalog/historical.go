package catalog

// Historical spot averages in USD per hour for us-east-1 Linux/UNIX.
// These are fallback prices used when the spot price history API fails.
var historicalSpotPrices = map[string]float64{
	"g4dn.xlarge":  0.35,
	"g4dn.2xlarge": 0.70,
	"g4dn.4xlarge": 1.40,
	"g4ad.xlarge":  0.30,
	"g5.xlarge":    0.40,
	"g5.2xlarge":   0.55,
	"g5g.xlarge":   0.25,
	"g5g.2xlarge":  0.38,
}

// On-demand prices in USD per hour for us-east-1 Linux, used when the Pricing API fails
var onDemandPrices = map[string]float64{
	"g4dn.xlarge":  0.526,
	"g4dn.2xlarge": 0.752,
	"g4dn.4xlarge": 1.204,
	"g4ad.xlarge":  0.379,
	"g5.xlarge":    1.006,
	"g5.2xlarge":   1.212,
	"g5g.xlarge":   0.420,
	"g5g.2xlarge":  0.556,
}

// Regional price multipliers relative to us-east-1
var regionMultipliers = map[string]float64{
	"us-east-1":      1.0,
	"us-east-2":      1.0,
	"us-west-2":      1.0,
	"us-west-1":      1.12,
	"ca-central-1":   1.08,
	"eu-west-1":      1.10,
	"eu-west-2":      1.16,
	"eu-central-1":   1.15,
	"ap-northeast-1": 1.25,
	"ap-northeast-2": 1.20,
	"ap-southeast-1": 1.20,
	"ap-southeast-2": 1.22,
	"ap-south-1":     1.05,
}

const defaultRegionMultiplier = 1.15

func regionMultiplier(region string) float64 {
	if m, ok := regionMultipliers[region]; ok {
		return m
	}
	return defaultRegionMultiplier
}

// HistoricalSpotPrice returns the built-in average spot price for an instance type in a region
func HistoricalSpotPrice(instanceType, region string) (float64, bool) {
	p, ok := historicalSpotPrices[instanceType]
	if !ok {
		return 0, false
	}
	return p * regionMultiplier(region), true
}

// OnDemandPrice returns the built-in on-demand price for an instance type in a region
func OnDemandPrice(instanceType, region string) (float64, bool) {
	p, ok := onDemandPrices[instanceType]
	if !ok {
		return 0, false
	}
	return p * regionMultiplier(region), true
}
