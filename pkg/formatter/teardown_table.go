package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/younsl/spotnode/pkg/teardown"
	"github.com/younsl/spotnode/pkg/utils"
)

// PrintTeardownPlan prints the ordered deletion plan, one block per step
func PrintTeardownPlan(w io.Writer, plan teardown.Plan) {
	if plan.Empty() {
		fmt.Fprintf(w, "No resources found for stack %s.\n", plan.Stack)
	} else {
		fmt.Fprintf(w, "Teardown plan for stack %s: %d resources in %d steps\n", plan.Stack, plan.Len(), len(plan.Steps))
		tw := newTable(w)
		fmt.Fprintln(tw, "STEP\tKIND\tID\tNAME\tAGE\tDEPENDS ON")
		for i, step := range plan.Steps {
			for _, rec := range step.Records {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					i+1,
					step.Kind,
					rec.ID,
					orDash(rec.Name),
					utils.FormatAge(rec.CreatedAt),
					orDash(strings.Join(rec.DependsOn, ",")),
				)
			}
		}
		tw.Flush()
	}
	for _, derr := range plan.DiscoveryErrors {
		fmt.Fprintf(w, "WARNING: %v\n", derr)
	}
}

// PrintTeardownSummary prints per-record outcomes and the totals
func PrintTeardownSummary(w io.Writer, s teardown.Summary) {
	if s.DryRun {
		PrintTeardownPlan(w, s.Plan)
		fmt.Fprintln(w, "Dry run: nothing was deleted.")
		return
	}

	if len(s.Results) > 0 {
		tw := newTable(w)
		fmt.Fprintln(tw, "KIND\tID\tSTATUS\tERROR")
		for _, r := range s.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Record.Kind, r.Record.ID, r.Status, orDash(r.Error))
		}
		tw.Flush()
	}
	fmt.Fprintf(w, "Stack %s: %d deleted, %d skipped, %d failed\n", s.Stack, s.Deleted, s.Skipped, s.Failed)
}
