// Package probe checks whether catalog profiles can run in a region: whether the
// instance type is offered in any zone and which candidate image is usable.
package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/retry"
)

// Cloud is the read-only provider surface the prober needs
type Cloud interface {
	// DescribeOfferings returns the zones of the client's region offering the instance type
	DescribeOfferings(ctx context.Context, instanceType string) ([]string, error)
	// DescribeImage resolves an image candidate; ok is false when no usable image matches
	DescribeImage(ctx context.Context, image models.ImageCandidate) (models.ResolvedImage, bool, error)
}

// Config controls probe concurrency and retries
type Config struct {
	Concurrency int           // parallel profile probes
	Attempts    int           // attempts per provider call for transient failures
	CallTimeout time.Duration // timeout per provider call
	RetryDelay  time.Duration
}

// DefaultConfig returns the default prober configuration
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		Attempts:    3,
		CallTimeout: 10 * time.Second,
		RetryDelay:  500 * time.Millisecond,
	}
}

// AvailabilityError explains why a profile cannot run in a region
type AvailabilityError struct {
	InstanceType      string
	Region            string
	TypeUnavailable   bool
	ImagesUnavailable bool
	Causes            []string
}

func (e *AvailabilityError) Error() string {
	var what []string
	if e.TypeUnavailable {
		what = append(what, "instance type not offered in any zone")
	}
	if e.ImagesUnavailable {
		what = append(what, "no candidate image usable")
	}
	msg := fmt.Sprintf("%s unavailable in %s: %s", e.InstanceType, e.Region, strings.Join(what, "; "))
	if len(e.Causes) > 0 {
		msg += " (" + strings.Join(e.Causes, "; ") + ")"
	}
	return msg
}

// Prober probes availability for one region
type Prober struct {
	cloud  Cloud
	region string
	cfg    Config
	logger zerolog.Logger
}

// New creates a prober for a region
func New(cloud Cloud, region string, cfg Config, logger zerolog.Logger) *Prober {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Prober{
		cloud:  cloud,
		region: region,
		cfg:    cfg,
		logger: logger.With().Str("component", "probe").Str("region", region).Logger(),
	}
}

func (p *Prober) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    p.cfg.Attempts,
		Delay:          p.cfg.RetryDelay,
		Jitter:         p.cfg.RetryDelay / 2,
		AttemptTimeout: p.cfg.CallTimeout,
	}
}

// Probe checks one profile. A failed provider call is treated as unavailable
// once transient retries are used up.
func (p *Prober) Probe(ctx context.Context, profile models.InstanceProfile) (models.Availability, error) {
	availErr := &AvailabilityError{InstanceType: profile.InstanceType, Region: p.region}

	var zones []string
	err := retry.Do(ctx, p.retryConfig(), retry.IsRetryable, func(cctx context.Context) error {
		var derr error
		zones, derr = p.cloud.DescribeOfferings(cctx, profile.InstanceType)
		return derr
	})
	if ctx.Err() != nil {
		return models.Availability{}, ctx.Err()
	}
	switch {
	case err != nil:
		availErr.TypeUnavailable = true
		availErr.Causes = append(availErr.Causes, fmt.Sprintf("offerings query failed: %v", err))
	case len(zones) == 0:
		availErr.TypeUnavailable = true
	}
	if availErr.TypeUnavailable {
		// images are irrelevant when the type cannot be launched here
		p.logger.Debug().Err(availErr).Msg("profile unavailable")
		return models.Availability{}, availErr
	}
	sort.Strings(zones)

	image, found := p.firstUsableImage(ctx, profile, availErr)
	if ctx.Err() != nil {
		return models.Availability{}, ctx.Err()
	}
	if !found {
		availErr.ImagesUnavailable = true
		p.logger.Debug().Err(availErr).Msg("profile unavailable")
		return models.Availability{}, availErr
	}

	p.logger.Debug().
		Str("instanceType", profile.InstanceType).
		Strs("zones", zones).
		Str("image", image.ID).
		Str("rank", image.Rank).
		Msg("profile available")

	return models.Availability{
		InstanceType: profile.InstanceType,
		Region:       p.region,
		Zones:        zones,
		Image:        image,
	}, nil
}

func (p *Prober) firstUsableImage(ctx context.Context, profile models.InstanceProfile, availErr *AvailabilityError) (models.ResolvedImage, bool) {
	for _, candidate := range profile.Images {
		var (
			resolved models.ResolvedImage
			ok       bool
		)
		err := retry.Do(ctx, p.retryConfig(), retry.IsRetryable, func(cctx context.Context) error {
			var derr error
			resolved, ok, derr = p.cloud.DescribeImage(cctx, candidate)
			return derr
		})
		if ctx.Err() != nil {
			return models.ResolvedImage{}, false
		}
		label := candidate.Rank
		if label == "" {
			label = imageLabel(candidate)
		}
		switch {
		case err != nil:
			availErr.Causes = append(availErr.Causes, fmt.Sprintf("%s image lookup failed: %v", label, err))
			continue
		case !ok:
			availErr.Causes = append(availErr.Causes, fmt.Sprintf("%s image not found", label))
			continue
		case resolved.Architecture != "" && resolved.Architecture != profile.Architecture:
			availErr.Causes = append(availErr.Causes, fmt.Sprintf("%s image architecture %s does not match %s", label, resolved.Architecture, profile.Architecture))
			continue
		}
		resolved.Rank = candidate.Rank
		return resolved, true
	}
	return models.ResolvedImage{}, false
}

func imageLabel(img models.ImageCandidate) string {
	if img.ID != "" {
		return img.ID
	}
	return img.NamePattern
}

// ProbeAll probes profiles in parallel on a bounded pool. Available results keep
// catalog order; unavailable profiles are returned as *AvailabilityError values.
func (p *Prober) ProbeAll(ctx context.Context, profiles []models.InstanceProfile) ([]models.Availability, []error, error) {
	results := make([]models.Availability, len(profiles))
	errs := make([]error, len(profiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, profile := range profiles {
		g.Go(func() error {
			avail, err := p.Probe(gctx, profile)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs[i] = err
				return nil
			}
			results[i] = avail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		available   []models.Availability
		unavailable []error
	)
	for i := range profiles {
		if errs[i] != nil {
			unavailable = append(unavailable, errs[i])
			continue
		}
		available = append(available, results[i])
	}
	return available, unavailable, nil
}
