package teardown

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/younsl/spotnode/internal/models"
)

// Step is one kind's worth of deletions
type Step struct {
	Kind    models.ResourceKind     `json:"kind"`
	Records []models.ResourceRecord `json:"records"`
}

// Plan is the ordered set of deletions for a stack
type Plan struct {
	Stack           string            `json:"stack"`
	Steps           []Step            `json:"steps"`
	DiscoveryErrors []*DiscoveryError `json:"-"`
}

// DiscoveryError reports a kind whose resources could not be listed
type DiscoveryError struct {
	Kind models.ResourceKind
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovering %s: %v", e.Kind, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Len returns the number of records in the plan
func (p Plan) Len() int {
	n := 0
	for _, s := range p.Steps {
		n += len(s.Records)
	}
	return n
}

// Empty reports whether there is nothing to delete
func (p Plan) Empty() bool {
	return p.Len() == 0
}

// Records returns every record in deletion order
func (p Plan) Records() []models.ResourceRecord {
	var out []models.ResourceRecord
	for _, s := range p.Steps {
		out = append(out, s.Records...)
	}
	return out
}

// impliedKinds lists kinds that must be removed along with a requested kind
var impliedKinds = map[models.ResourceKind][]models.ResourceKind{
	models.KindFileSystem:   {models.KindMountTarget},
	models.KindLoadBalancer: {models.KindListener},
	models.KindIAMRole:      {models.KindIAMInstanceProfile},
	models.KindSpotRequest:  {models.KindInstance},
}

// ExpandScope returns the kinds to act on in teardown order. An empty scope
// means every kind.
func ExpandScope(scope []models.ResourceKind) []models.ResourceKind {
	if len(scope) == 0 {
		return append([]models.ResourceKind(nil), models.TeardownOrder...)
	}
	want := make(map[models.ResourceKind]bool)
	for _, k := range scope {
		want[k] = true
		for _, implied := range impliedKinds[k] {
			want[implied] = true
		}
	}
	var out []models.ResourceKind
	for _, k := range models.TeardownOrder {
		if want[k] {
			out = append(out, k)
		}
	}
	return out
}

// PlanRecords groups records into steps in teardown order, one step per non-empty kind
func PlanRecords(stack string, records []models.ResourceRecord) Plan {
	byKind := make(map[models.ResourceKind][]models.ResourceRecord)
	for _, r := range records {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}
	plan := Plan{Stack: stack}
	for _, k := range models.TeardownOrder {
		recs := byKind[k]
		if len(recs) == 0 {
			continue
		}
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
		plan.Steps = append(plan.Steps, Step{Kind: k, Records: recs})
	}
	return plan
}

// Plan discovers the stack's resources for the given scope. Discovery of
// each kind runs in parallel; a failed kind is reported in DiscoveryErrors
// and left out of the plan.
func (o *Orchestrator) Plan(ctx context.Context, stack string, scope []models.ResourceKind) (Plan, error) {
	kinds := ExpandScope(scope)
	found := make([][]models.ResourceRecord, len(kinds))
	errs := make([]*DiscoveryError, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, kind := range kinds {
		g.Go(func() error {
			recs, err := o.backend.Discover(gctx, stack, kind)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn().Err(err).Str("kind", string(kind)).Msg("discovery failed")
				errs[i] = &DiscoveryError{Kind: kind, Err: err}
				return nil
			}
			found[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Plan{}, err
	}

	var all []models.ResourceRecord
	var discoveryErrs []*DiscoveryError
	for i := range kinds {
		all = append(all, found[i]...)
		if errs[i] != nil {
			discoveryErrs = append(discoveryErrs, errs[i])
		}
	}
	plan := PlanRecords(stack, all)
	plan.DiscoveryErrors = discoveryErrs
	o.logger.Debug().Str("stack", stack).Int("steps", len(plan.Steps)).Int("records", plan.Len()).Msg("teardown plan built")
	return plan, nil
}
