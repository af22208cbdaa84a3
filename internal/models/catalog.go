package models

import "time"

// InstanceProfile is a catalog entry describing one candidate GPU instance type
type InstanceProfile struct {
	InstanceType     string           `json:"instanceType" yaml:"instanceType"`
	VCPUs            int              `json:"vcpus" yaml:"vcpus"`
	RAMGB            float64          `json:"ramGb" yaml:"ramGb"`
	GPUCount         int              `json:"gpuCount" yaml:"gpuCount"`
	GPUType          string           `json:"gpuType" yaml:"gpuType"`
	Architecture     string           `json:"architecture" yaml:"architecture"` // x86_64 or arm64
	LocalStorage     string           `json:"localStorage" yaml:"localStorage"`
	PerformanceScore int              `json:"performanceScore" yaml:"performanceScore"` // 0-100, relative
	Images           []ImageCandidate `json:"images" yaml:"images"`                     // ordered by preference
}

// ImageCandidate is one machine image option for an instance profile.
// Either ID or NamePattern is set; a pattern resolves to the newest matching image.
type ImageCandidate struct {
	Rank        string `json:"rank" yaml:"rank"` // primary, secondary, ...
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	NamePattern string `json:"namePattern,omitempty" yaml:"namePattern,omitempty"`
	Owner       string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

// ResolvedImage is an image confirmed usable in a region
type ResolvedImage struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Architecture string    `json:"architecture"`
	CreationDate time.Time `json:"creationDate"`
	Rank         string    `json:"rank"`
}

// Availability holds what the prober learned for one instance type in a region
type Availability struct {
	InstanceType string        `json:"instanceType"`
	Region       string        `json:"region"`
	Zones        []string      `json:"zones"`
	Image        ResolvedImage `json:"image"`
}
