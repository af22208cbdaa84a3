// Package teardown removes every resource of a stack in reverse dependency
// order, best effort, reporting what was deleted, skipped and failed.
package teardown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/younsl/spotnode/internal/config"
	"github.com/younsl/spotnode/internal/models"
)

// ErrNotFound is returned (possibly wrapped) by a Backend when the resource is already gone
var ErrNotFound = errors.New("resource not found")

// ErrNotConfirmed is returned when the operator declines an interactive teardown
var ErrNotConfirmed = errors.New("teardown not confirmed")

// Backend discovers and deletes stack resources
type Backend interface {
	// Discover lists the stack's resources of one kind, with dependency edges
	Discover(ctx context.Context, stack string, kind models.ResourceKind) ([]models.ResourceRecord, error)
	// Delete removes one resource and returns once the provider reports it gone
	Delete(ctx context.Context, rec models.ResourceRecord) error
}

// Confirmer asks the operator to approve a plan
type Confirmer interface {
	Confirm(ctx context.Context, plan Plan) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer
type ConfirmerFunc func(ctx context.Context, plan Plan) (bool, error)

// Confirm calls f
func (f ConfirmerFunc) Confirm(ctx context.Context, plan Plan) (bool, error) { return f(ctx, plan) }

// Status is the outcome of one record
type Status string

const (
	StatusDeleted Status = "deleted"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// CleanupFailure is a recoverable per-resource deletion failure
type CleanupFailure struct {
	Record models.ResourceRecord
	Err    error
}

func (f *CleanupFailure) Error() string {
	return fmt.Sprintf("deleting %s: %v", f.Record, f.Err)
}

func (f *CleanupFailure) Unwrap() error { return f.Err }

// Result is the outcome for one record
type Result struct {
	Record models.ResourceRecord `json:"record"`
	Status Status                `json:"status"`
	Error  string                `json:"error,omitempty"`
}

// Summary aggregates a teardown run
type Summary struct {
	Stack    string            `json:"stack"`
	DryRun   bool              `json:"dryRun"`
	Plan     Plan              `json:"plan"`
	Deleted  int               `json:"deleted"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Results  []Result          `json:"results"`
	Failures []*CleanupFailure `json:"-"`
}

// Err joins every failure, or returns nil when nothing failed
func (s *Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(s.Failures))
	for i, f := range s.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Request is a teardown invocation
type Request struct {
	Stack string
	Mode  config.TeardownMode
	Scope []models.ResourceKind // empty means all kinds
}

// Orchestrator runs teardowns
type Orchestrator struct {
	backend     Backend
	confirmer   Confirmer
	concurrency int
	logger      zerolog.Logger
}

// New creates a teardown orchestrator. confirmer is only needed for interactive mode.
func New(backend Backend, confirmer Confirmer, concurrency int, logger zerolog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		backend:     backend,
		confirmer:   confirmer,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "teardown").Logger(),
	}
}

// Run discovers the stack and, unless dry-run, deletes it
func (o *Orchestrator) Run(ctx context.Context, req Request) (Summary, error) {
	plan, err := o.Plan(ctx, req.Stack, req.Scope)
	if err != nil {
		return Summary{Stack: req.Stack}, err
	}

	if req.Mode == config.ModeDryRun {
		o.logger.Info().Str("stack", req.Stack).Int("records", plan.Len()).Msg("dry run, nothing deleted")
		return Summary{Stack: req.Stack, DryRun: true, Plan: plan}, nil
	}

	if req.Mode == config.ModeInteractive && !plan.Empty() {
		if o.confirmer == nil {
			return Summary{Stack: req.Stack, Plan: plan}, errors.New("interactive teardown requires a confirmer")
		}
		ok, err := o.confirmer.Confirm(ctx, plan)
		if err != nil {
			return Summary{Stack: req.Stack, Plan: plan}, fmt.Errorf("confirming teardown: %w", err)
		}
		if !ok {
			return Summary{Stack: req.Stack, Plan: plan}, ErrNotConfirmed
		}
	}

	summary := o.execute(ctx, plan)
	for _, derr := range plan.DiscoveryErrors {
		summary.Failed++
		summary.Failures = append(summary.Failures, &CleanupFailure{
			Record: models.ResourceRecord{Kind: derr.Kind, ID: "*"},
			Err:    derr,
		})
	}
	return summary, nil
}

// DeleteRecords runs the ordered delete engine over known records
func (o *Orchestrator) DeleteRecords(ctx context.Context, records []models.ResourceRecord) Summary {
	return o.execute(ctx, PlanRecords("", records))
}

// Cleanup deletes records left by a failed provisioning run
func (o *Orchestrator) Cleanup(ctx context.Context, records []models.ResourceRecord) error {
	summary := o.DeleteRecords(ctx, records)
	o.logger.Info().
		Int("deleted", summary.Deleted).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("cleanup finished")
	return summary.Err()
}

// tracker holds what is still outstanding during one execution
type tracker struct {
	mu          sync.Mutex
	outstanding map[string]models.ResourceRecord
	dependents  map[string][]string
	summary     Summary
}

func newTracker(plan Plan) *tracker {
	t := &tracker{
		outstanding: make(map[string]models.ResourceRecord),
		dependents:  make(map[string][]string),
		summary:     Summary{Stack: plan.Stack, Plan: plan},
	}
	for _, r := range plan.Records() {
		t.outstanding[r.ID] = r
		for _, dep := range r.DependsOn {
			t.dependents[dep] = append(t.dependents[dep], r.ID)
		}
	}
	return t
}

// blockers returns records that depend on id and have not been deleted
func (t *tracker) blockers(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, dep := range t.dependents[id] {
		if r, ok := t.outstanding[dep]; ok {
			out = append(out, r.String())
		}
	}
	return out
}

func (t *tracker) finish(rec models.ResourceRecord, status Status, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := Result{Record: rec, Status: status}
	switch status {
	case StatusDeleted:
		t.summary.Deleted++
		delete(t.outstanding, rec.ID)
	case StatusSkipped:
		t.summary.Skipped++
		delete(t.outstanding, rec.ID)
	case StatusFailed:
		t.summary.Failed++
		res.Error = err.Error()
		t.summary.Failures = append(t.summary.Failures, &CleanupFailure{Record: rec, Err: err})
	}
	t.summary.Results = append(t.summary.Results, res)
}

// execute deletes the plan step by step. CDN distributions take the longest
// to remove, so they start first on their own goroutine and overlap the rest.
func (o *Orchestrator) execute(ctx context.Context, plan Plan) Summary {
	t := newTracker(plan)
	sem := semaphore.NewWeighted(int64(o.concurrency))

	var bg errgroup.Group
	for _, step := range plan.Steps {
		if step.Kind != models.KindCDNDistribution {
			continue
		}
		bg.Go(func() error {
			o.runStep(ctx, t, sem, step)
			return nil
		})
	}

	for _, step := range plan.Steps {
		if step.Kind == models.KindCDNDistribution {
			continue
		}
		o.runStep(ctx, t, sem, step)
	}
	_ = bg.Wait()

	o.logger.Info().
		Str("stack", plan.Stack).
		Int("deleted", t.summary.Deleted).
		Int("skipped", t.summary.Skipped).
		Int("failed", t.summary.Failed).
		Msg("teardown finished")
	return t.summary
}

// runStep deletes one kind's records, bounded by the shared semaphore, and
// returns only when all of them have finished
func (o *Orchestrator) runStep(ctx context.Context, t *tracker, sem *semaphore.Weighted, step Step) {
	var wg sync.WaitGroup
	for _, rec := range step.Records {
		if err := sem.Acquire(ctx, 1); err != nil {
			t.finish(rec, StatusFailed, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			o.deleteOne(ctx, t, rec)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) deleteOne(ctx context.Context, t *tracker, rec models.ResourceRecord) {
	log := o.logger.With().Str("kind", string(rec.Kind)).Str("id", rec.ID).Logger()

	if blocked := t.blockers(rec.ID); len(blocked) > 0 {
		err := fmt.Errorf("blocked: still referenced by %s", strings.Join(blocked, ", "))
		log.Warn().Err(err).Msg("skipping delete")
		t.finish(rec, StatusFailed, err)
		return
	}
	if err := ctx.Err(); err != nil {
		t.finish(rec, StatusFailed, err)
		return
	}

	log.Info().Msg("deleting")
	err := o.backend.Delete(ctx, rec)
	switch {
	case err == nil:
		t.finish(rec, StatusDeleted, nil)
	case errors.Is(err, ErrNotFound):
		log.Debug().Msg("already gone")
		t.finish(rec, StatusSkipped, nil)
	default:
		log.Error().Err(err).Msg("delete failed, continuing")
		t.finish(rec, StatusFailed, err)
	}
}
