// Package config holds the validated options for the deploy and teardown commands
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/utils"
)

const (
	// AutoInstanceType lets the selector pick the instance type
	AutoInstanceType = "auto"

	// MinBudget and MaxBudget bound an operator-supplied hourly ceiling in USD
	MinBudget = 0.10
	MaxBudget = 10.0

	DefaultProject = "spotnode"
)

var stackNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{1,63}$`)

// DefaultServicePorts are the workload ports opened on the node's security group
var DefaultServicePorts = []int32{22, 80, 443, 5678, 6333, 11434, 11235}

// SelectionMode controls how a configuration is chosen among several in budget
type SelectionMode string

const (
	SelectAuto        SelectionMode = "auto"
	SelectInteractive SelectionMode = "interactive"
)

// Timeouts bounds every provider interaction
type Timeouts struct {
	Call         time.Duration // single provider call
	PollAttempts int           // spot fulfilment polls per zone
	PollDelay    time.Duration // delay between polls
	Cleanup      time.Duration // best-effort cleanup after a failed run
}

// DefaultTimeouts returns the timeouts used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Call:         30 * time.Second,
		PollAttempts: 12,
		PollDelay:    10 * time.Second,
		Cleanup:      15 * time.Minute,
	}
}

// Deploy holds the options of the deploy command
type Deploy struct {
	Stack        string
	Project      string
	Region       string
	Budget       float64 // USD per hour, 0 means derive from the market
	InstanceType string  // "auto" or a catalog instance type
	Mode         SelectionMode
	CatalogFile  string
	KeyDir       string
	Secrets      []string
	LoadBalancer bool
	CDN          bool
	Concurrency  int
	Timeouts     Timeouts
}

// Validate checks the deploy options against the catalog's instance types
func (d *Deploy) Validate(catalogTypes []string) error {
	var errs []error

	if err := ValidateStackName(d.Stack); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateRegion(d.Region); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateBudget(d.Budget); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateInstanceType(d.InstanceType, catalogTypes); err != nil {
		errs = append(errs, err)
	}
	switch d.Mode {
	case SelectAuto, SelectInteractive:
	default:
		errs = append(errs, fmt.Errorf("invalid selection mode %q (want %s or %s)", d.Mode, SelectAuto, SelectInteractive))
	}
	if d.CDN && !d.LoadBalancer {
		errs = append(errs, errors.New("--cdn requires --load-balancer (the distribution uses the load balancer as origin)"))
	}
	if d.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", d.Concurrency))
	}

	return errors.Join(errs...)
}

// AutoSelect reports whether the instance type is left to the selector
func (d *Deploy) AutoSelect() bool {
	return d.InstanceType == "" || d.InstanceType == AutoInstanceType
}

// TeardownMode is how the teardown command treats deletions
type TeardownMode string

const (
	ModeDryRun      TeardownMode = "dry-run"
	ModeInteractive TeardownMode = "interactive"
	ModeForced      TeardownMode = "forced"
)

// Teardown holds the options of the teardown command
type Teardown struct {
	Stack    string
	Region   string
	Mode     TeardownMode
	Only     []models.ResourceKind // empty means all kinds
	Timeouts Timeouts
}

// Validate checks the teardown options
func (t *Teardown) Validate() error {
	var errs []error
	if err := ValidateStackName(t.Stack); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateRegion(t.Region); err != nil {
		errs = append(errs, err)
	}
	switch t.Mode {
	case ModeDryRun, ModeInteractive, ModeForced:
	default:
		errs = append(errs, fmt.Errorf("invalid teardown mode %q", t.Mode))
	}
	return errors.Join(errs...)
}

// ParseKinds converts a list of kind names into resource kinds
func ParseKinds(names []string) ([]models.ResourceKind, error) {
	var kinds []models.ResourceKind
	for _, n := range names {
		if strings.TrimSpace(n) == "" || strings.EqualFold(n, "all") {
			continue
		}
		k, err := models.ParseResourceKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ValidateStackName checks a stack identifier: alphanumerics and hyphens, 2 to 64 characters
func ValidateStackName(name string) error {
	if !stackNamePattern.MatchString(name) {
		return fmt.Errorf("invalid stack name %q: use 2-64 letters, digits or hyphens, starting with a letter or digit", name)
	}
	return nil
}

// ValidateRegion checks that the region is a known AWS region
func ValidateRegion(region string) error {
	if !utils.IsValidRegion(region) {
		return fmt.Errorf("invalid region %q (known: %s)", region, strings.Join(utils.KnownRegions(), ", "))
	}
	return nil
}

// ValidateBudget checks an hourly ceiling; zero means no operator ceiling
func ValidateBudget(budget float64) error {
	if budget == 0 {
		return nil
	}
	if budget < MinBudget || budget > MaxBudget {
		return fmt.Errorf("invalid budget %.2f USD/h: must be between %.2f and %.2f", budget, MinBudget, MaxBudget)
	}
	return nil
}

// ValidateInstanceType accepts "auto" or a member of the catalog
func ValidateInstanceType(instanceType string, catalogTypes []string) error {
	if instanceType == "" || instanceType == AutoInstanceType {
		return nil
	}
	for _, t := range catalogTypes {
		if t == instanceType {
			return nil
		}
	}
	return fmt.Errorf("instance type %q is not in the catalog (known: %s)", instanceType, strings.Join(catalogTypes, ", "))
}
