// Package provision drives a spot GPU node from nothing to a registered,
// reachable instance, recording every acquired resource for teardown.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/utils"
)

// State is a provisioning state machine state
type State string

const (
	StateInit             State = "init"
	StateNetworkReady     State = "network-ready"
	StateStorageReady     State = "storage-ready"
	StateComputeRequested State = "compute-requested"
	StateComputeFulfilled State = "compute-fulfilled"
	StateTagged           State = "tagged"
	StateRegistered       State = "registered"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

const (
	nfsPort          = 2049
	webPort          = 80
	logRetentionDays = 7

	policySSMCore         = "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore"
	policyCloudWatchAgent = "arn:aws:iam::aws:policy/CloudWatchAgentServerPolicy"
)

// Cleaner removes the resources of a failed or cancelled run
type Cleaner interface {
	Cleanup(ctx context.Context, records []models.ResourceRecord) error
}

// Config bounds provider interaction
type Config struct {
	PollAttempts   int
	PollDelay      time.Duration
	CallTimeout    time.Duration
	CleanupTimeout time.Duration
}

// Request describes the node to provision
type Request struct {
	Stack        string
	Project      string
	Candidate    models.Candidate
	MaxPrice     float64 // USD per hour, the spot bid ceiling
	KeyDir       string
	ServicePorts []int32
	LoadBalancer bool
	CDN          bool
}

// Result is the outcome of a provisioning run
type Result struct {
	State           State                     `json:"state"`
	Instance        models.ProvisionAttempt   `json:"instance"`
	Attempts        []models.ProvisionAttempt `json:"attempts"`
	Records         []models.ResourceRecord   `json:"records"`
	SecurityGroupID string                    `json:"securityGroupId,omitempty"`
	FileSystemID    string                    `json:"fileSystemId,omitempty"`
	FileSystemDNS   string                    `json:"fileSystemDns,omitempty"`
	LoadBalancerDNS string                    `json:"loadBalancerDns,omitempty"`
	CDNDomain       string                    `json:"cdnDomain,omitempty"`
	KeyPath         string                    `json:"keyPath,omitempty"`
	CleanupErr      error                     `json:"-"`
}

// Orchestrator runs provisioning
type Orchestrator struct {
	cloud   Cloud
	cleaner Cleaner
	cfg     Config
	logger  zerolog.Logger

	// OnState, when set, is called on every state transition
	OnState func(State)
}

// New creates an orchestrator. cleaner may be nil to leave partial resources in place.
func New(cloud Cloud, cleaner Cleaner, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.PollAttempts < 1 {
		cfg.PollAttempts = 1
	}
	return &Orchestrator{
		cloud:   cloud,
		cleaner: cleaner,
		cfg:     cfg,
		logger:  logger.With().Str("component", "provision").Logger(),
	}
}

// run carries the state of one provisioning run between steps
type run struct {
	o       *Orchestrator
	req     Request
	records *models.RecordSet
	result  Result
	tags    map[string]string
	state   State

	vpcID          string
	subnets        []Subnet
	sgID           string
	key            KeyPair
	iam            IAMResult
	targetGroupARN string
	fs             FileSystem
}

// Run provisions the node. On failure or cancellation every recorded resource
// is handed to the Cleaner before returning.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	r := &run{
		o:       o,
		req:     req,
		records: &models.RecordSet{},
		tags:    utils.StackTags(req.Stack, req.Project),
		state:   StateInit,
	}

	steps := []struct {
		to State
		fn func(context.Context) error
	}{
		{StateNetworkReady, r.network},
		{StateStorageReady, r.storage},
		{StateComputeFulfilled, r.compute},
		{StateTagged, r.tag},
		{StateRegistered, r.register},
	}

	var err error
	for _, step := range steps {
		if err = ctx.Err(); err != nil {
			break
		}
		start := time.Now()
		if err = step.fn(ctx); err != nil {
			err = fmt.Errorf("%s: %w", step.to, err)
			break
		}
		r.transition(step.to)
		o.logger.Debug().Dur("elapsed", time.Since(start).Round(time.Millisecond)).Msgf("reached %s", step.to)
	}
	if err == nil {
		r.transition(StateDone)
		r.result.State = StateDone
		r.result.Records = r.records.Records()
		return r.result, nil
	}

	r.transition(StateFailed)
	r.result.State = StateFailed
	r.result.Records = r.records.Records()
	o.logger.Error().Err(err).Int("records", len(r.result.Records)).Msg("provisioning failed")
	r.result.CleanupErr = o.cleanup(ctx, r.result.Records)
	return r.result, err
}

func (o *Orchestrator) cleanup(ctx context.Context, records []models.ResourceRecord) error {
	if o.cleaner == nil || len(records) == 0 {
		return nil
	}
	// Cleanup must outlive a cancelled caller context
	cctx := context.WithoutCancel(ctx)
	if o.cfg.CleanupTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, o.cfg.CleanupTimeout)
		defer cancel()
	}
	o.logger.Warn().Int("records", len(records)).Msg("cleaning up partial resources")
	if err := o.cleaner.Cleanup(cctx, records); err != nil {
		o.logger.Error().Err(err).Msg("cleanup incomplete, run teardown to retry")
		return err
	}
	return nil
}

func (r *run) transition(to State) {
	r.o.logger.Info().Str("from", string(r.state)).Str("to", string(to)).Msg("state transition")
	r.state = to
	if r.o.OnState != nil {
		r.o.OnState(to)
	}
}

func (r *run) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.o.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.o.cfg.CallTimeout)
}

func (r *run) record(kind models.ResourceKind, id, name string, dependsOn ...string) {
	var deps []string
	for _, d := range dependsOn {
		if d != "" {
			deps = append(deps, d)
		}
	}
	r.records.Add(models.ResourceRecord{
		Kind:      kind,
		ID:        id,
		Name:      name,
		Region:    r.req.Candidate.Region,
		DependsOn: deps,
	})
}

func (r *run) name(suffix string) string {
	return r.req.Stack + "-" + suffix
}

func (r *run) nameTags(name string) map[string]string {
	return utils.MergeTags(r.tags, map[string]string{utils.TagName: name})
}

// network resolves the VPC and creates the security group, key pair, IAM
// identity and, with a load balancer, its target group.
func (r *run) network(ctx context.Context) error {
	cctx, cancel := r.call(ctx)
	defer cancel()

	vpcID, err := r.o.cloud.DefaultVPC(cctx)
	if err != nil {
		return fmt.Errorf("resolving default VPC: %w", err)
	}
	r.vpcID = vpcID

	subnets, err := r.o.cloud.DefaultSubnets(cctx, vpcID)
	if err != nil {
		return fmt.Errorf("listing subnets: %w", err)
	}
	r.subnets = subnets

	sgName := r.name("sg")
	sgID, err := r.o.cloud.EnsureSecurityGroup(cctx, SecurityGroupSpec{
		Name:    sgName,
		VPCID:   vpcID,
		Ports:   r.req.ServicePorts,
		NFSPort: nfsPort,
		Tags:    r.nameTags(sgName),
	})
	if err != nil {
		return fmt.Errorf("security group: %w", err)
	}
	r.sgID = sgID
	r.result.SecurityGroupID = sgID
	r.record(models.KindSecurityGroup, sgID, sgName)

	keyName := r.name("key")
	key, err := r.o.cloud.EnsureKeyPair(cctx, keyName, r.nameTags(keyName))
	if err != nil {
		return fmt.Errorf("key pair: %w", err)
	}
	r.key = key
	r.record(models.KindKeyPair, key.Name, key.Name)
	if len(key.PrivateKey) > 0 {
		path, err := writePrivateKey(r.req.KeyDir, keyName, key.PrivateKey)
		if err != nil {
			return err
		}
		r.result.KeyPath = path
		r.o.logger.Info().Str("path", path).Msg("private key written")
	}

	iam, err := r.o.cloud.EnsureInstanceProfile(cctx, IAMSpec{
		RoleName:    r.name("role"),
		ProfileName: r.name("profile"),
		Path:        "/spotnode/" + r.req.Stack + "/",
		PolicyARNs:  []string{policySSMCore, policyCloudWatchAgent},
		Tags:        r.tags,
	})
	if err != nil {
		return fmt.Errorf("instance profile: %w", err)
	}
	r.iam = iam
	r.record(models.KindIAMRole, iam.RoleName, iam.RoleName)
	r.record(models.KindIAMInstanceProfile, iam.ProfileName, iam.ProfileName, iam.RoleName)

	if r.req.LoadBalancer {
		tgName := r.name("web")
		arn, err := r.o.cloud.EnsureTargetGroup(cctx, TargetGroupSpec{
			Name:  tgName,
			VPCID: vpcID,
			Port:  webPort,
			Tags:  r.nameTags(tgName),
		})
		if err != nil {
			return fmt.Errorf("target group: %w", err)
		}
		r.targetGroupARN = arn
		r.record(models.KindTargetGroup, arn, tgName)
	}
	return nil
}

func writePrivateKey(dir, name string, key []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating key directory: %w", err)
	}
	path := filepath.Join(dir, name+".pem")
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return "", fmt.Errorf("writing private key: %w", err)
	}
	return path, nil
}

// storage creates the shared filesystem. Its mount target waits for the zone.
func (r *run) storage(ctx context.Context) error {
	fs, err := r.o.cloud.EnsureFileSystem(ctx, r.req.Stack, r.nameTags(r.name("efs")))
	if err != nil {
		return fmt.Errorf("filesystem: %w", err)
	}
	r.fs = fs
	r.result.FileSystemID = fs.ID
	r.result.FileSystemDNS = fs.DNSName
	r.record(models.KindFileSystem, fs.ID, r.name("efs"))
	return nil
}

// tag attaches discovery metadata to the instance
func (r *run) tag(ctx context.Context) error {
	cctx, cancel := r.call(ctx)
	defer cancel()

	inst := r.result.Instance
	tags := utils.MergeTags(r.nameTags(r.name("node")), map[string]string{
		utils.TagInstanceType: r.req.Candidate.InstanceType(),
		utils.TagSpotPrice:    strconv.FormatFloat(zonePrice(r.req.Candidate, inst.Zone), 'f', 4, 64),
		utils.TagZone:         inst.Zone,
	})
	if err := r.o.cloud.TagResources(cctx, []string{inst.InstanceID}, tags); err != nil {
		return fmt.Errorf("tagging %s: %w", inst.InstanceID, err)
	}
	return nil
}

// register attaches the instance to load balancing, creates the deferred
// mount target in the fulfilled zone and sets up monitoring.
func (r *run) register(ctx context.Context) error {
	inst := r.result.Instance

	cctx, cancel := r.call(ctx)
	defer cancel()

	mtID, err := r.o.cloud.EnsureMountTarget(cctx, r.fs.ID, inst.SubnetID, []string{r.sgID})
	if err != nil {
		return fmt.Errorf("mount target in %s: %w", inst.Zone, err)
	}
	r.record(models.KindMountTarget, mtID, r.fs.ID+"/"+inst.Zone, r.fs.ID, r.sgID)

	if r.req.LoadBalancer {
		if err := r.o.cloud.RegisterTarget(cctx, r.targetGroupARN, inst.InstanceID); err != nil {
			return fmt.Errorf("registering target: %w", err)
		}

		lbName := r.name("alb")
		subnetIDs := make([]string, 0, len(r.subnets))
		for _, s := range r.subnets {
			subnetIDs = append(subnetIDs, s.ID)
		}
		lb, err := r.o.cloud.EnsureLoadBalancer(cctx, LoadBalancerSpec{
			Name:             lbName,
			SubnetIDs:        subnetIDs,
			SecurityGroupIDs: []string{r.sgID},
			Tags:             r.nameTags(lbName),
		})
		if err != nil {
			return fmt.Errorf("load balancer: %w", err)
		}
		r.result.LoadBalancerDNS = lb.DNSName
		r.record(models.KindLoadBalancer, lb.ARN, lbName, r.targetGroupARN)

		listenerARN, err := r.o.cloud.EnsureListener(cctx, lb.ARN, r.targetGroupARN, webPort)
		if err != nil {
			return fmt.Errorf("listener: %w", err)
		}
		r.record(models.KindListener, listenerARN, "", lb.ARN, r.targetGroupARN)

		if r.req.CDN {
			dist, err := r.o.cloud.EnsureDistribution(cctx, DistributionSpec{
				Stack:        r.req.Stack,
				OriginDomain: lb.DNSName,
				Tags:         r.tags,
			})
			if err != nil {
				return fmt.Errorf("distribution: %w", err)
			}
			r.result.CDNDomain = dist.DomainName
			r.record(models.KindCDNDistribution, dist.ID, dist.DomainName)
		}
	}

	logGroup := "/spotnode/" + r.req.Stack
	if err := r.o.cloud.EnsureLogGroup(cctx, logGroup, logRetentionDays, r.tags); err != nil {
		return fmt.Errorf("log group: %w", err)
	}
	r.record(models.KindLogGroup, logGroup, logGroup)

	alarmName := r.name("status-check")
	if err := r.o.cloud.EnsureAlarm(cctx, AlarmSpec{Name: alarmName, InstanceID: inst.InstanceID, Tags: r.tags}); err != nil {
		return fmt.Errorf("alarm: %w", err)
	}
	r.record(models.KindAlarm, alarmName, alarmName)
	return nil
}

// ZoneOrder returns the candidate's zones by ascending price, then name.
// Zones without a price sort after priced ones.
func ZoneOrder(c models.Candidate) []string {
	priced := make(map[string]bool, len(c.ZonePrices))
	zones := make([]models.ZonePrice, 0, len(c.ZonePrices)+len(c.Zones))
	zones = append(zones, c.ZonePrices...)
	for _, zp := range c.ZonePrices {
		priced[zp.Zone] = true
	}
	var unpriced []string
	for _, z := range c.Zones {
		if !priced[z] {
			unpriced = append(unpriced, z)
		}
	}
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].PricePerHour != zones[j].PricePerHour {
			return zones[i].PricePerHour < zones[j].PricePerHour
		}
		return zones[i].Zone < zones[j].Zone
	})
	sort.Strings(unpriced)

	out := make([]string, 0, len(zones)+len(unpriced))
	for _, zp := range zones {
		out = append(out, zp.Zone)
	}
	return append(out, unpriced...)
}

func zonePrice(c models.Candidate, zone string) float64 {
	for _, zp := range c.ZonePrices {
		if zp.Zone == zone {
			return zp.PricePerHour
		}
	}
	return c.PricePerHour
}

// errNoSubnet marks a zone the VPC has no default subnet in
var errNoSubnet = errors.New("no default subnet in zone")
