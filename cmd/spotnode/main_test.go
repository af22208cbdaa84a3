package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younsl/spotnode/internal/config"
	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/teardown"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		want    zerolog.Level
		wantErr bool
	}{
		{name: "console debug", level: "debug", format: "console", want: zerolog.DebugLevel},
		{name: "json warn", level: "WARN", format: "json", want: zerolog.WarnLevel},
		{name: "empty level defaults to info", level: "", format: "", want: zerolog.InfoLevel},
		{name: "bad level", level: "loud", format: "console", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(tt.level, tt.format, &buf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestJSONLoggerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("info", "json", &buf)
	require.NoError(t, err)
	logger.Info().Str("stack", "demo").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "demo", line["stack"])
	assert.Equal(t, "hello", line["message"])
}

func TestTeardownMode(t *testing.T) {
	assert.Equal(t, config.ModeInteractive, teardownMode(false, false))
	assert.Equal(t, config.ModeForced, teardownMode(false, true))
	assert.Equal(t, config.ModeDryRun, teardownMode(true, false))
	assert.Equal(t, config.ModeDryRun, teardownMode(true, true))
}

func TestSpotBid(t *testing.T) {
	within := models.SelectionResult{
		Candidate:    models.Candidate{PricePerHour: 0.40},
		BudgetUsed:   0.60,
		WithinBudget: true,
	}
	assert.Equal(t, 0.60, spotBid(within))

	over := models.SelectionResult{
		Candidate:  models.Candidate{PricePerHour: 0.90},
		BudgetUsed: 0.60,
	}
	assert.Equal(t, 0.90, spotBid(over))
}

func TestCandidateLabel(t *testing.T) {
	c := models.Candidate{
		Profile:      models.InstanceProfile{InstanceType: "g5.xlarge", VCPUs: 4, RAMGB: 16, GPUCount: 1, GPUType: "A10G"},
		PricePerHour: 0.4123,
		ValueRatio:   206.2,
		Estimated:    true,
	}
	label := candidateLabel(c)
	assert.Contains(t, label, "g5.xlarge")
	assert.Contains(t, label, "$0.4123/hr")
	assert.Contains(t, label, "(estimated)")
}

func TestPlanDescription(t *testing.T) {
	plan := teardown.Plan{
		Stack: "demo",
		Steps: []teardown.Step{
			{Kind: models.KindInstance, Records: []models.ResourceRecord{{Kind: models.KindInstance, ID: "i-1"}}},
			{Kind: models.KindSecurityGroup, Records: []models.ResourceRecord{{Kind: models.KindSecurityGroup, ID: "sg-1"}, {Kind: models.KindSecurityGroup, ID: "sg-2"}}},
		},
		DiscoveryErrors: []*teardown.DiscoveryError{{Kind: models.KindAlarm, Err: errors.New("denied")}},
	}
	desc := planDescription(plan)
	assert.Regexp(t, `compute-instance\s+1`, desc)
	assert.Regexp(t, `security-group\s+2`, desc)
	assert.Contains(t, desc, "1 resource kinds could not be listed")
}

type fakePricer struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  int
}

func (f *fakePricer) HourlyPrice(_ context.Context, instanceType, _ string) (float64, models.PriceSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.prices[instanceType]
	if !ok {
		return 0, "", errors.New("no price")
	}
	return p, models.PriceSourceAPI, nil
}

func TestPriceRowsKeepsOrderAndToleratesMissingPrices(t *testing.T) {
	pricer := &fakePricer{prices: map[string]float64{"g5.xlarge": 1.006, "g4dn.xlarge": 0.526}}
	candidates := []models.Candidate{
		{Profile: models.InstanceProfile{InstanceType: "g5.xlarge"}, Region: "us-east-1"},
		{Profile: models.InstanceProfile{InstanceType: "g4ad.xlarge"}, Region: "us-east-1"},
		{Profile: models.InstanceProfile{InstanceType: "g4dn.xlarge"}, Region: "us-east-1"},
	}

	rows, err := priceRows(context.Background(), pricer, candidates, 2)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 3, pricer.calls)

	assert.Equal(t, "g5.xlarge", rows[0].Candidate.InstanceType())
	assert.Equal(t, 1.006, rows[0].OnDemand)
	assert.Equal(t, models.PriceSourceAPI, rows[0].OnDemandSource)
	assert.Zero(t, rows[1].OnDemand)
	assert.Empty(t, rows[1].OnDemandSource)
	assert.Equal(t, 0.526, rows[2].OnDemand)
}

func TestCatalogCommand(t *testing.T) {
	out, err := execute(t, "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "TYPE")
	assert.Contains(t, out, "g4dn.xlarge")
	assert.Contains(t, out, "g5.xlarge")
}

func TestCatalogCommandOutputFromEnvironment(t *testing.T) {
	t.Setenv("SPOTNODE_OUTPUT", "json")
	out, err := execute(t, "catalog")
	require.NoError(t, err)

	var profiles []models.InstanceProfile
	require.NoError(t, json.Unmarshal([]byte(out), &profiles))
	require.NotEmpty(t, profiles)
	assert.Equal(t, "g4dn.xlarge", profiles[0].InstanceType)
}

func TestCatalogCommandRejectsUnknownOutput(t *testing.T) {
	_, err := execute(t, "catalog", "--output", "xml")
	assert.ErrorContains(t, err, "invalid output format")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "spotnode dev")
}

func TestDeployValidatesBeforeCallingTheCloud(t *testing.T) {
	_, err := execute(t, "deploy", "--stack", "x", "--region", "us-east-1")
	assert.ErrorContains(t, err, "invalid stack name")

	_, err = execute(t, "deploy", "--stack", "demo", "--region", "us-east-1", "--budget", "50")
	assert.ErrorContains(t, err, "invalid budget")

	_, err = execute(t, "deploy", "--stack", "demo", "--region", "us-east-1", "--cdn")
	assert.ErrorContains(t, err, "--cdn requires --load-balancer")
}

func TestTeardownRejectsUnknownKind(t *testing.T) {
	_, err := execute(t, "teardown", "demo", "--only", "database", "--region", "us-east-1")
	assert.ErrorContains(t, err, "unknown resource kind")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "version")
	assert.ErrorContains(t, err, "invalid log level")
}
