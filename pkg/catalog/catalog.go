// Package catalog holds the static table of candidate GPU instance profiles
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/younsl/spotnode/internal/models"
)

const (
	ArchX86 = "x86_64"
	ArchARM = "arm64"

	ownerAmazon    = "amazon"
	ownerCanonical = "099720109477"
)

var (
	x86Images = []models.ImageCandidate{
		{Rank: "primary", NamePattern: "Deep Learning Base OSS Nvidia Driver GPU AMI (Ubuntu 22.04) *", Owner: ownerAmazon},
		{Rank: "secondary", NamePattern: "Deep Learning OSS Nvidia Driver AMI GPU PyTorch * (Ubuntu 22.04) *", Owner: ownerAmazon},
		{Rank: "tertiary", NamePattern: "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*", Owner: ownerCanonical},
	}
	armImages = []models.ImageCandidate{
		{Rank: "primary", NamePattern: "Deep Learning ARM64 Base OSS Nvidia Driver GPU AMI (Ubuntu 22.04) *", Owner: ownerAmazon},
		{Rank: "secondary", NamePattern: "Deep Learning ARM64 AMI OSS Nvidia Driver GPU PyTorch * (Ubuntu 22.04) *", Owner: ownerAmazon},
		{Rank: "tertiary", NamePattern: "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-arm64-server-*", Owner: ownerCanonical},
	}
	amdImages = []models.ImageCandidate{
		{Rank: "primary", NamePattern: "al2023-ami-2023.*-x86_64", Owner: ownerAmazon},
		{Rank: "secondary", NamePattern: "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*", Owner: ownerCanonical},
	}
)

// builtin is the default catalog. Performance scores are hand-calibrated
// relative inference throughput for the starter workload.
var builtin = []models.InstanceProfile{
	{InstanceType: "g4dn.xlarge", VCPUs: 4, RAMGB: 16, GPUCount: 1, GPUType: "NVIDIA T4", Architecture: ArchX86, LocalStorage: "125 GB NVMe SSD", PerformanceScore: 70, Images: x86Images},
	{InstanceType: "g4dn.2xlarge", VCPUs: 8, RAMGB: 32, GPUCount: 1, GPUType: "NVIDIA T4", Architecture: ArchX86, LocalStorage: "225 GB NVMe SSD", PerformanceScore: 75, Images: x86Images},
	{InstanceType: "g5g.xlarge", VCPUs: 4, RAMGB: 8, GPUCount: 1, GPUType: "NVIDIA T4G", Architecture: ArchARM, LocalStorage: "EBS only", PerformanceScore: 65, Images: armImages},
	{InstanceType: "g5g.2xlarge", VCPUs: 8, RAMGB: 16, GPUCount: 1, GPUType: "NVIDIA T4G", Architecture: ArchARM, LocalStorage: "EBS only", PerformanceScore: 72, Images: armImages},
	{InstanceType: "g5.xlarge", VCPUs: 4, RAMGB: 16, GPUCount: 1, GPUType: "NVIDIA A10G", Architecture: ArchX86, LocalStorage: "250 GB NVMe SSD", PerformanceScore: 85, Images: x86Images},
	{InstanceType: "g5.2xlarge", VCPUs: 8, RAMGB: 32, GPUCount: 1, GPUType: "NVIDIA A10G", Architecture: ArchX86, LocalStorage: "450 GB NVMe SSD", PerformanceScore: 88, Images: x86Images},
	{InstanceType: "g4ad.xlarge", VCPUs: 4, RAMGB: 16, GPUCount: 1, GPUType: "AMD Radeon Pro V520", Architecture: ArchX86, LocalStorage: "150 GB NVMe SSD", PerformanceScore: 60, Images: amdImages},
}

// Catalog is an immutable, ordered set of instance profiles
type Catalog struct {
	profiles []models.InstanceProfile
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := New(builtin)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// New validates and wraps a list of profiles; order is preserved as preference order
func New(profiles []models.InstanceProfile) (*Catalog, error) {
	if len(profiles) == 0 {
		return nil, errors.New("catalog has no instance profiles")
	}
	seen := make(map[string]bool, len(profiles))
	var errs []error
	for i, p := range profiles {
		if p.InstanceType == "" {
			errs = append(errs, fmt.Errorf("profile %d: instance type is empty", i))
			continue
		}
		if seen[p.InstanceType] {
			errs = append(errs, fmt.Errorf("profile %s: duplicate instance type", p.InstanceType))
		}
		seen[p.InstanceType] = true
		if p.PerformanceScore < 0 || p.PerformanceScore > 100 {
			errs = append(errs, fmt.Errorf("profile %s: performance score %d outside 0-100", p.InstanceType, p.PerformanceScore))
		}
		if p.Architecture != ArchX86 && p.Architecture != ArchARM {
			errs = append(errs, fmt.Errorf("profile %s: unknown architecture %q", p.InstanceType, p.Architecture))
		}
		if len(p.Images) == 0 {
			errs = append(errs, fmt.Errorf("profile %s: no candidate images", p.InstanceType))
		}
		for _, img := range p.Images {
			if img.ID == "" && img.NamePattern == "" {
				errs = append(errs, fmt.Errorf("profile %s: image %q has neither id nor name pattern", p.InstanceType, img.Rank))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	out := make([]models.InstanceProfile, len(profiles))
	copy(out, profiles)
	return &Catalog{profiles: out}, nil
}

// Profiles returns the profiles in catalog order
func (c *Catalog) Profiles() []models.InstanceProfile {
	out := make([]models.InstanceProfile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Types returns the instance types in catalog order
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.profiles))
	for _, p := range c.profiles {
		types = append(types, p.InstanceType)
	}
	return types
}

// Lookup returns the profile for an instance type
func (c *Catalog) Lookup(instanceType string) (models.InstanceProfile, bool) {
	for _, p := range c.profiles {
		if p.InstanceType == instanceType {
			return p, true
		}
	}
	return models.InstanceProfile{}, false
}

// Index returns the catalog position of an instance type, or -1
func (c *Catalog) Index(instanceType string) int {
	for i, p := range c.profiles {
		if p.InstanceType == instanceType {
			return i
		}
	}
	return -1
}

// Filter returns a catalog restricted to the given instance types, keeping catalog order
func (c *Catalog) Filter(instanceTypes ...string) (*Catalog, error) {
	want := make(map[string]bool, len(instanceTypes))
	for _, t := range instanceTypes {
		want[t] = true
	}
	var kept []models.InstanceProfile
	for _, p := range c.profiles {
		if want[p.InstanceType] {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("none of %v are in the catalog", instanceTypes)
	}
	return &Catalog{profiles: kept}, nil
}

// Candidates joins probe results with their profiles into unpriced candidates.
// Availabilities for types outside the catalog are ignored.
func (c *Catalog) Candidates(available []models.Availability) []models.Candidate {
	out := make([]models.Candidate, 0, len(available))
	for _, a := range available {
		idx := c.Index(a.InstanceType)
		if idx < 0 {
			continue
		}
		out = append(out, models.Candidate{
			Profile:      c.profiles[idx],
			Image:        a.Image,
			Region:       a.Region,
			Zones:        a.Zones,
			CatalogIndex: idx,
		})
	}
	return out
}

// fileFormat is the layout of a catalog override file
type fileFormat struct {
	Profiles []models.InstanceProfile `yaml:"profiles"`
}

// LoadFile reads a YAML catalog override file
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to read %s: %w", path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: failed to parse %s: %w", path, err)
	}
	c, err := New(f.Profiles)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}
