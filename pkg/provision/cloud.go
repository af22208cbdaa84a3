package provision

import "context"

// SpotState is the lifecycle state of a spot request
type SpotState string

const (
	SpotOpen      SpotState = "open"
	SpotActive    SpotState = "active"
	SpotFailed    SpotState = "failed"
	SpotCancelled SpotState = "cancelled"
	SpotClosed    SpotState = "closed"
)

// Subnet is a default subnet of the VPC
type Subnet struct {
	ID   string
	Zone string
}

// SecurityGroupSpec describes the node's firewall
type SecurityGroupSpec struct {
	Name    string
	VPCID   string
	Ports   []int32 // TCP ports opened to the world
	NFSPort int32   // opened to members of the group itself
	Tags    map[string]string
}

// KeyPair is an SSH key pair; PrivateKey is only set when the pair was just created
type KeyPair struct {
	ID         string
	Name       string
	PrivateKey []byte
}

// IAMSpec describes the node role and instance profile
type IAMSpec struct {
	RoleName    string
	ProfileName string
	Path        string
	PolicyARNs  []string
	Tags        map[string]string
}

// IAMResult identifies the created role and instance profile
type IAMResult struct {
	RoleName    string
	ProfileName string
	ProfileARN  string
}

// FileSystem is the shared filesystem
type FileSystem struct {
	ID      string
	DNSName string
}

// TargetGroupSpec describes a load balancer target group
type TargetGroupSpec struct {
	Name  string
	VPCID string
	Port  int32
	Tags  map[string]string
}

// LoadBalancerSpec describes the application load balancer
type LoadBalancerSpec struct {
	Name             string
	SubnetIDs        []string
	SecurityGroupIDs []string
	Tags             map[string]string
}

// LoadBalancer is a created load balancer
type LoadBalancer struct {
	ARN     string
	DNSName string
}

// DistributionSpec describes the CDN distribution in front of the load balancer
type DistributionSpec struct {
	Stack        string
	OriginDomain string
	Tags         map[string]string
}

// Distribution is a created CDN distribution
type Distribution struct {
	ID         string
	DomainName string
}

// AlarmSpec describes the node's monitoring alarm
type AlarmSpec struct {
	Name       string
	InstanceID string
	Tags       map[string]string
}

// SpotRequest is one one-time spot instance request
type SpotRequest struct {
	InstanceType     string
	ImageID          string
	SubnetID         string
	SecurityGroupIDs []string
	KeyName          string
	InstanceProfile  string
	MaxPrice         float64
	ClientToken      string
	Tags             map[string]string
}

// SpotStatus is the observed state of a spot request
type SpotStatus struct {
	State      SpotState
	StatusCode string // provider status code, e.g. capacity-not-available
	Message    string
	InstanceID string
}

// Cloud is the provider surface the orchestrator drives. Every Ensure call is
// idempotent: it returns the existing resource when one is already present.
type Cloud interface {
	DefaultVPC(ctx context.Context) (string, error)
	DefaultSubnets(ctx context.Context, vpcID string) ([]Subnet, error)
	EnsureSecurityGroup(ctx context.Context, spec SecurityGroupSpec) (string, error)
	EnsureKeyPair(ctx context.Context, name string, tags map[string]string) (KeyPair, error)
	EnsureInstanceProfile(ctx context.Context, spec IAMSpec) (IAMResult, error)
	EnsureTargetGroup(ctx context.Context, spec TargetGroupSpec) (string, error)

	// EnsureFileSystem creates the filesystem keyed by token and waits until it is available
	EnsureFileSystem(ctx context.Context, token string, tags map[string]string) (FileSystem, error)

	RequestSpot(ctx context.Context, req SpotRequest) (string, error)
	DescribeSpot(ctx context.Context, requestID string) (SpotStatus, error)
	// CancelSpot cancels the request and terminates any instance it launched
	CancelSpot(ctx context.Context, requestID string) error
	// WaitRunning waits for the instance to run and returns its public address
	WaitRunning(ctx context.Context, instanceID string) (string, error)
	TagResources(ctx context.Context, ids []string, tags map[string]string) error

	RegisterTarget(ctx context.Context, targetGroupARN, instanceID string) error
	EnsureLoadBalancer(ctx context.Context, spec LoadBalancerSpec) (LoadBalancer, error)
	EnsureListener(ctx context.Context, loadBalancerARN, targetGroupARN string, port int32) (string, error)
	EnsureDistribution(ctx context.Context, spec DistributionSpec) (Distribution, error)
	EnsureMountTarget(ctx context.Context, fileSystemID, subnetID string, securityGroupIDs []string) (string, error)
	EnsureLogGroup(ctx context.Context, name string, retentionDays int32, tags map[string]string) error
	EnsureAlarm(ctx context.Context, spec AlarmSpec) error
}
