package pricing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/younsl/spotnode/internal/models"
)

const (
	// BatchTTL applies to entries filled by a multi-type batch query
	BatchTTL = 30 * time.Minute
	// SingleTTL applies to entries filled by a single-type query
	SingleTTL = 60 * time.Minute

	cacheFileName = "spot-prices.json"
)

// CacheEntry holds the latest per-zone samples for one (instance type, region) pair
type CacheEntry struct {
	InstanceType string              `json:"instanceType"`
	Region       string              `json:"region"`
	Samples      []models.PricePoint `json:"samples"`
	FetchedAt    time.Time           `json:"fetchedAt"`
	TTL          time.Duration       `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.FetchedAt.Add(e.TTL))
}

// ExpiresAt returns the time the entry stops being fresh
func (e CacheEntry) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

type cacheFile struct {
	Entries []CacheEntry `json:"entries"`
}

// Cache is the price cache: an in-memory map persisted as one JSON file.
// An empty path keeps it in memory only.
type Cache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	path    string
	now     func() time.Time
	logger  zerolog.Logger
}

// NewCache creates a cache backed by the file at path
func NewCache(path string, logger zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]CacheEntry),
		path:    path,
		now:     time.Now,
		logger:  logger.With().Str("component", "price-cache").Logger(),
	}
}

// DefaultCachePath returns the cache file location under the user cache dir
func DefaultCachePath() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "spotnode", cacheFileName)
}

func cacheKey(instanceType, region string) string {
	return region + "/" + instanceType
}

// Load reads persisted entries. A missing or corrupt file leaves the cache empty.
func (c *Cache) Load() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading price cache: %w", err)
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		c.logger.Warn().Err(err).Str("path", c.path).Msg("ignoring corrupt price cache")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range file.Entries {
		c.entries[cacheKey(e.InstanceType, e.Region)] = e
	}
	c.logger.Debug().Int("entries", len(file.Entries)).Str("path", c.path).Msg("price cache loaded")
	return nil
}

// Save writes all entries to disk through a temp file and rename
func (c *Cache) Save() error {
	if c.path == "" {
		return nil
	}
	payload, err := json.MarshalIndent(cacheFile{Entries: c.Entries()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding price cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, cacheFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing price cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing price cache: %w", err)
	}
	return os.Rename(tmpName, c.path)
}

// Lookup returns the entry for a pair and whether it is still fresh.
// found is false when the pair was never cached.
func (c *Cache) Lookup(instanceType, region string) (entry CacheEntry, fresh, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found = c.entries[cacheKey(instanceType, region)]
	if !found {
		return CacheEntry{}, false, false
	}
	return entry, entry.Fresh(c.now()), true
}

// Put stores samples for a pair with the given TTL, replacing any previous entry
func (c *Cache) Put(instanceType, region string, samples []models.PricePoint, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(instanceType, region)] = CacheEntry{
		InstanceType: instanceType,
		Region:       region,
		Samples:      samples,
		FetchedAt:    c.now(),
		TTL:          ttl,
	}
}

// Entries returns all entries sorted by region then instance type
func (c *Cache) Entries() []CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].InstanceType < out[j].InstanceType
	})
	return out
}
