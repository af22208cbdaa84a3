package pricing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younsl/spotnode/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(path string) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCache(path, zerolog.Nop())
	c.now = clock.Now
	return c, clock
}

func TestCacheEntriesExpireAfterTTL(t *testing.T) {
	c, clock := newTestCache("")
	samples := []models.PricePoint{{InstanceType: "g4dn.xlarge", Zone: "us-east-1a", PricePerHour: 0.2}}

	c.Put("g4dn.xlarge", "us-east-1", samples, BatchTTL)
	c.Put("g5.xlarge", "us-east-1", samples, SingleTTL)

	_, fresh, found := c.Lookup("g4dn.xlarge", "us-east-1")
	assert.True(t, found)
	assert.True(t, fresh)

	clock.Advance(BatchTTL)
	entry, fresh, found := c.Lookup("g4dn.xlarge", "us-east-1")
	assert.True(t, found, "expired entries stay available for stale fallback")
	assert.False(t, fresh)
	assert.Equal(t, samples, entry.Samples)

	_, fresh, _ = c.Lookup("g5.xlarge", "us-east-1")
	assert.True(t, fresh, "single-query entries live longer than batch entries")

	clock.Advance(SingleTTL - BatchTTL)
	_, fresh, _ = c.Lookup("g5.xlarge", "us-east-1")
	assert.False(t, fresh)

	_, _, found = c.Lookup("g4dn.xlarge", "eu-west-1")
	assert.False(t, found)
}

func TestCachePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", cacheFileName)
	c, _ := newTestCache(path)
	c.Put("g5.xlarge", "us-west-2", []models.PricePoint{{InstanceType: "g5.xlarge", Zone: "us-west-2b", PricePerHour: 0.41}}, SingleTTL)
	require.NoError(t, c.Save())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp file must be renamed into place")

	reloaded, clock := newTestCache(path)
	require.NoError(t, reloaded.Load())
	entry, fresh, found := reloaded.Lookup("g5.xlarge", "us-west-2")
	require.True(t, found)
	assert.True(t, fresh)
	assert.Equal(t, SingleTTL, entry.TTL)
	assert.InDelta(t, 0.41, entry.Samples[0].PricePerHour, 1e-9)

	clock.Advance(2 * SingleTTL)
	_, fresh, _ = reloaded.Lookup("g5.xlarge", "us-west-2")
	assert.False(t, fresh)
}

func TestCacheLoadToleratesMissingAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	missing, _ := newTestCache(filepath.Join(dir, "absent.json"))
	require.NoError(t, missing.Load())
	assert.Empty(t, missing.Entries())

	corruptPath := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corruptPath, []byte("{not json"), 0o600))
	corrupt, _ := newTestCache(corruptPath)
	require.NoError(t, corrupt.Load())
	assert.Empty(t, corrupt.Entries())
}
