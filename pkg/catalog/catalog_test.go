package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younsl/spotnode/internal/models"
)

func TestDefaultCatalogHasHistoricalPrices(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Types())

	for _, p := range c.Profiles() {
		price, ok := HistoricalSpotPrice(p.InstanceType, "us-east-1")
		assert.True(t, ok, "no historical spot price for %s", p.InstanceType)
		assert.Greater(t, price, 0.0)

		od, ok := OnDemandPrice(p.InstanceType, "us-east-1")
		assert.True(t, ok, "no on-demand price for %s", p.InstanceType)
		assert.Greater(t, od, price, "spot should be cheaper than on-demand for %s", p.InstanceType)
	}
}

func TestHistoricalSpotPriceRegionMultiplier(t *testing.T) {
	base, ok := HistoricalSpotPrice("g4dn.xlarge", "us-east-1")
	require.True(t, ok)
	tokyo, ok := HistoricalSpotPrice("g4dn.xlarge", "ap-northeast-1")
	require.True(t, ok)
	assert.InDelta(t, base*1.25, tokyo, 1e-9)

	_, ok = HistoricalSpotPrice("p5.48xlarge", "us-east-1")
	assert.False(t, ok)
}

func TestLookupIndexFilter(t *testing.T) {
	c := Default()

	p, ok := c.Lookup("g5.xlarge")
	require.True(t, ok)
	assert.Equal(t, "NVIDIA A10G", p.GPUType)
	assert.Equal(t, 0, c.Index("g4dn.xlarge"))
	assert.Equal(t, -1, c.Index("t2.micro"))

	f, err := c.Filter("g5.xlarge", "g4dn.xlarge")
	require.NoError(t, err)
	assert.Equal(t, []string{"g4dn.xlarge", "g5.xlarge"}, f.Types(), "filter keeps catalog order")

	_, err = c.Filter("t2.micro")
	assert.Error(t, err)
}

func TestCandidatesJoinAvailability(t *testing.T) {
	c := Default()
	got := c.Candidates([]models.Availability{
		{InstanceType: "g5.xlarge", Region: "us-west-2", Zones: []string{"us-west-2a"}, Image: models.ResolvedImage{ID: "ami-1"}},
		{InstanceType: "t2.micro", Region: "us-west-2"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "g5.xlarge", got[0].InstanceType())
	assert.Equal(t, c.Index("g5.xlarge"), got[0].CatalogIndex)
	assert.Equal(t, "ami-1", got[0].Image.ID)
	assert.Equal(t, []string{"us-west-2a"}, got[0].Zones)
}

func TestNewRejectsInvalidProfiles(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]models.InstanceProfile{
		{InstanceType: "a", Architecture: ArchX86, PerformanceScore: 101, Images: []models.ImageCandidate{{Rank: "primary", ID: "ami-1"}}},
		{InstanceType: "a", Architecture: "sparc", PerformanceScore: 50},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside 0-100")
	assert.Contains(t, err.Error(), "duplicate instance type")
	assert.Contains(t, err.Error(), "unknown architecture")
	assert.Contains(t, err.Error(), "no candidate images")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `profiles:
  - instanceType: g4dn.xlarge
    vcpus: 4
    ramGb: 16
    gpuCount: 1
    gpuType: NVIDIA T4
    architecture: x86_64
    performanceScore: 70
    images:
      - rank: primary
        id: ami-0123456789abcdef0
      - rank: secondary
        namePattern: "Deep Learning Base *"
        owner: amazon
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	p, ok := c.Lookup("g4dn.xlarge")
	require.True(t, ok)
	require.Len(t, p.Images, 2)
	assert.Equal(t, "ami-0123456789abcdef0", p.Images[0].ID)
	assert.Equal(t, "amazon", p.Images[1].Owner)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
