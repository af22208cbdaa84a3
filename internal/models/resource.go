package models

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ResourceKind identifies the class of a provisioned cloud resource
type ResourceKind string

const (
	KindInstance           ResourceKind = "compute-instance"
	KindSpotRequest        ResourceKind = "spot-request"
	KindAlarm              ResourceKind = "alarm"
	KindLogGroup           ResourceKind = "log-group"
	KindCDNDistribution    ResourceKind = "cdn-distribution"
	KindListener           ResourceKind = "listener"
	KindLoadBalancer       ResourceKind = "load-balancer"
	KindTargetGroup        ResourceKind = "target-group"
	KindMountTarget        ResourceKind = "filesystem-mount-target"
	KindFileSystem         ResourceKind = "filesystem"
	KindSecurityGroup      ResourceKind = "security-group"
	KindIAMInstanceProfile ResourceKind = "iam-instance-profile"
	KindIAMRole            ResourceKind = "iam-role"
	KindKeyPair            ResourceKind = "key-pair"
)

// TeardownOrder is the fixed reverse-dependency deletion order
var TeardownOrder = []ResourceKind{
	KindSpotRequest,
	KindInstance,
	KindAlarm,
	KindLogGroup,
	KindCDNDistribution,
	KindListener,
	KindLoadBalancer,
	KindTargetGroup,
	KindMountTarget,
	KindFileSystem,
	KindSecurityGroup,
	KindIAMInstanceProfile,
	KindIAMRole,
	KindKeyPair,
}

// ParseResourceKind converts user input (e.g. "filesystem", "sg") into a ResourceKind
func ParseResourceKind(s string) (ResourceKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range TeardownOrder {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

var kindAliases = map[string]ResourceKind{
	"instance":         KindInstance,
	"ec2":              KindInstance,
	"spot":             KindSpotRequest,
	"alarms":           KindAlarm,
	"logs":             KindLogGroup,
	"cdn":              KindCDNDistribution,
	"cloudfront":       KindCDNDistribution,
	"alb":              KindLoadBalancer,
	"elb":              KindLoadBalancer,
	"tg":               KindTargetGroup,
	"efs":              KindFileSystem,
	"mount-target":     KindMountTarget,
	"sg":               KindSecurityGroup,
	"instance-profile": KindIAMInstanceProfile,
	"role":             KindIAMRole,
	"iam":              KindIAMRole,
	"key":              KindKeyPair,
	"keypair":          KindKeyPair,
}

// ResourceRecord is the bookkeeping entry for one provisioned cloud resource.
// DependsOn lists the IDs of resources this one needs; those must outlive it.
type ResourceRecord struct {
	Kind      ResourceKind `json:"kind"`
	ID        string       `json:"id"`
	Name      string       `json:"name,omitempty"`
	Region    string       `json:"region"`
	DependsOn []string     `json:"dependsOn,omitempty"`
	CreatedAt time.Time    `json:"createdAt,omitempty"`
}

func (r ResourceRecord) String() string {
	if r.Name != "" && r.Name != r.ID {
		return fmt.Sprintf("%s %s (%s)", r.Kind, r.Name, r.ID)
	}
	return fmt.Sprintf("%s %s", r.Kind, r.ID)
}

// RecordSet collects the records created by one provisioning run.
// The run that owns it is the only writer.
type RecordSet struct {
	mu      sync.Mutex
	records []ResourceRecord
}

// Add appends a record, ignoring exact duplicates
func (s *RecordSet) Add(r ResourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.Kind == r.Kind && existing.ID == r.ID {
			return
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.records = append(s.records, r)
}

// Records returns a copy of the records in insertion order
func (s *RecordSet) Records() []ResourceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResourceRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records
func (s *RecordSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
