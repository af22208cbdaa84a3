package formatter

import (
	"fmt"
	"io"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
)

// PrintAttemptsTable prints the zone attempts of a provisioning run
func PrintAttemptsTable(w io.Writer, attempts []models.ProvisionAttempt) {
	if len(attempts) == 0 {
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ZONE\tSUBNET\tREQUEST\tSTATE\tINSTANCE\tREASON")
	for _, a := range attempts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Zone,
			orDash(a.SubnetID),
			orDash(a.RequestID),
			a.State,
			orDash(a.InstanceID),
			orDash(a.Reason),
		)
	}
	tw.Flush()
}

// PrintProvisionResult prints the endpoints of a provisioned node
func PrintProvisionResult(w io.Writer, res provision.Result) {
	inst := res.Instance
	tw := newTable(w)
	fmt.Fprintf(tw, "State:\t%s\n", res.State)
	fmt.Fprintf(tw, "Instance:\t%s\n", orDash(inst.InstanceID))
	fmt.Fprintf(tw, "Zone:\t%s\n", orDash(inst.Zone))
	fmt.Fprintf(tw, "Public address:\t%s\n", orDash(inst.PublicAddress))
	fmt.Fprintf(tw, "Security group:\t%s\n", orDash(res.SecurityGroupID))
	fmt.Fprintf(tw, "Filesystem:\t%s\n", orDash(res.FileSystemDNS))
	if res.LoadBalancerDNS != "" {
		fmt.Fprintf(tw, "Load balancer:\t%s\n", res.LoadBalancerDNS)
	}
	if res.CDNDomain != "" {
		fmt.Fprintf(tw, "CDN:\t%s\n", res.CDNDomain)
	}
	if res.KeyPath != "" {
		fmt.Fprintf(tw, "SSH key:\t%s\n", res.KeyPath)
	}
	fmt.Fprintf(tw, "Resources:\t%d\n", len(res.Records))
	tw.Flush()
}

// PrintProvisioningError prints per-zone failures and guidance
func PrintProvisioningError(w io.Writer, perr *provision.ProvisioningError) {
	fmt.Fprintf(w, "Could not provision %s in any zone:\n", perr.InstanceType)
	tw := newTable(w)
	fmt.Fprintln(tw, "ZONE\tREASON\tMESSAGE")
	for _, f := range perr.Failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Zone, f.Reason, f.Message)
	}
	tw.Flush()
	if g := perr.Guidance(); g != "" {
		fmt.Fprintln(w, g)
	}
}
