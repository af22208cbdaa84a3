package provision

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/younsl/spotnode/pkg/retry"
)

// Reason classifies why a zone could not be used
type Reason string

const (
	ReasonCapacity Reason = "capacity"
	ReasonQuota    Reason = "quota"
	ReasonPrice    Reason = "price"
	ReasonOther    Reason = "other"
)

// ZoneFailure is a recoverable per-zone provisioning failure
type ZoneFailure struct {
	Zone    string
	Reason  Reason
	Message string
}

func (f *ZoneFailure) Error() string {
	return fmt.Sprintf("%s: %s (%s)", f.Zone, f.Reason, f.Message)
}

// ProvisioningError is returned when every candidate zone failed
type ProvisioningError struct {
	InstanceType string
	Failures     []ZoneFailure
}

func (e *ProvisioningError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("no zone available to request %s", e.InstanceType)
	}
	parts := make([]string, 0, len(e.Failures))
	for i := range e.Failures {
		parts = append(parts, e.Failures[i].Error())
	}
	msg := fmt.Sprintf("could not obtain %s in any zone: %s", e.InstanceType, strings.Join(parts, "; "))
	if hint := e.Guidance(); hint != "" {
		msg += ". " + hint
	}
	return msg
}

// ReasonCounts returns how many zones failed for each reason
func (e *ProvisioningError) ReasonCounts() map[Reason]int {
	counts := make(map[Reason]int)
	for _, f := range e.Failures {
		counts[f.Reason]++
	}
	return counts
}

// Guidance suggests what to change based on the dominant failure reason
func (e *ProvisioningError) Guidance() string {
	counts := e.ReasonCounts()
	reasons := make([]Reason, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if counts[reasons[i]] != counts[reasons[j]] {
			return counts[reasons[i]] > counts[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})
	if len(reasons) == 0 {
		return ""
	}
	switch reasons[0] {
	case ReasonCapacity:
		return "Spot capacity is exhausted; retry later, pick another instance type, or try another region"
	case ReasonQuota:
		return "Spot vCPU quota reached; request a limit increase or terminate other spot instances"
	case ReasonPrice:
		return "Market price is above the budget; raise --budget"
	}
	return ""
}

var (
	capacityCodes = map[string]bool{
		"InsufficientInstanceCapacity":      true,
		"InsufficientCapacity":              true,
		"InsufficientFreeAddressesInSubnet": true,
		"capacity-not-available":            true,
		"capacity-oversubscribed":           true,
		"az-group-constraint":               true,
		"placement-group-constraint":        true,
		"constraint-not-fulfillable":        true,
	}
	quotaCodes = map[string]bool{
		"MaxSpotInstanceCountExceeded": true,
		"VcpuLimitExceeded":            true,
		"InstanceLimitExceeded":        true,
	}
	priceCodes = map[string]bool{
		"SpotMaxPriceTooLow": true,
		"price-too-low":      true,
	}
)

func classifyCode(code string) (Reason, bool) {
	switch {
	case capacityCodes[code]:
		return ReasonCapacity, true
	case quotaCodes[code]:
		return ReasonQuota, true
	case priceCodes[code]:
		return ReasonPrice, true
	}
	return ReasonOther, false
}

// spotStatusError is a terminal spot request status seen while polling
type spotStatusError struct {
	status SpotStatus
}

func (e *spotStatusError) Error() string {
	msg := fmt.Sprintf("spot request %s", e.status.State)
	if e.status.StatusCode != "" {
		msg += ": " + e.status.StatusCode
	}
	if e.status.Message != "" {
		msg += ": " + e.status.Message
	}
	return msg
}

// Classify maps a request or poll error to a zone failure reason
func Classify(err error) Reason {
	if errors.Is(err, retry.ErrPollExhausted) {
		return ReasonCapacity
	}
	var statusErr *spotStatusError
	if errors.As(err, &statusErr) {
		reason, _ := classifyCode(statusErr.status.StatusCode)
		return reason
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		reason, _ := classifyCode(apiErr.ErrorCode())
		return reason
	}
	return ReasonOther
}
