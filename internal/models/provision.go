package models

// AttemptState is the state of a spot request attempt in one zone
type AttemptState string

const (
	AttemptPending   AttemptState = "pending"
	AttemptFulfilled AttemptState = "fulfilled"
	AttemptFailed    AttemptState = "failed"
	AttemptCancelled AttemptState = "cancelled"
)

// ProvisionAttempt records one zone's compute request
type ProvisionAttempt struct {
	Zone          string       `json:"zone"`
	SubnetID      string       `json:"subnetId"`
	RequestID     string       `json:"requestId,omitempty"`
	State         AttemptState `json:"state"`
	InstanceID    string       `json:"instanceId,omitempty"`
	PublicAddress string       `json:"publicAddress,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}
