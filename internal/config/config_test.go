package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younsl/spotnode/internal/models"
)

var catalogTypes = []string{"g4dn.xlarge", "g5g.2xlarge"}

func validDeploy() Deploy {
	return Deploy{
		Stack:        "ai-starter-kit",
		Region:       "us-east-1",
		Budget:       0.50,
		InstanceType: AutoInstanceType,
		Mode:         SelectAuto,
		Concurrency:  4,
		Timeouts:     DefaultTimeouts(),
	}
}

func TestValidateStackName(t *testing.T) {
	for _, name := range []string{"ai-starter-kit", "mystack123", "test-stack-1"} {
		assert.NoError(t, ValidateStackName(name), name)
	}
	for _, name := range []string{"invalid_name", "stack with spaces", "x", strings.Repeat("a", 65), ""} {
		assert.Error(t, ValidateStackName(name), name)
	}
}

func TestValidateRegion(t *testing.T) {
	for _, r := range []string{"us-east-1", "us-west-2", "eu-west-1"} {
		assert.NoError(t, ValidateRegion(r), r)
	}
	for _, r := range []string{"invalid-region", "us-invalid-1", ""} {
		assert.Error(t, ValidateRegion(r), r)
	}
}

func TestValidateBudget(t *testing.T) {
	for _, b := range []float64{0, 0.10, 1.50, 5.00, 10.0} {
		assert.NoError(t, ValidateBudget(b), b)
	}
	for _, b := range []float64{0.05, 100.00, -1.0} {
		assert.Error(t, ValidateBudget(b), b)
	}
}

func TestValidateInstanceType(t *testing.T) {
	for _, it := range []string{"g4dn.xlarge", "g5g.2xlarge", "auto", ""} {
		assert.NoError(t, ValidateInstanceType(it, catalogTypes), it)
	}
	for _, it := range []string{"t2.micro", "invalid-type"} {
		assert.Error(t, ValidateInstanceType(it, catalogTypes), it)
	}
}

func TestDeployValidate(t *testing.T) {
	d := validDeploy()
	require.NoError(t, d.Validate(catalogTypes))
	assert.True(t, d.AutoSelect())

	d.CDN = true
	err := d.Validate(catalogTypes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--cdn requires --load-balancer")

	bad := validDeploy()
	bad.Stack = "x"
	bad.Region = "nowhere"
	bad.Mode = "random"
	err = bad.Validate(catalogTypes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid stack name")
	assert.Contains(t, err.Error(), "invalid region")
	assert.Contains(t, err.Error(), "invalid selection mode")
}

func TestTeardownValidate(t *testing.T) {
	td := Teardown{Stack: "mystack", Region: "us-east-1", Mode: ModeDryRun}
	assert.NoError(t, td.Validate())

	td.Mode = "yolo"
	assert.Error(t, td.Validate())
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds([]string{"efs", "sg", "all", ""})
	require.NoError(t, err)
	assert.Equal(t, []models.ResourceKind{models.KindFileSystem, models.KindSecurityGroup}, kinds)

	_, err = ParseKinds([]string{"bogus"})
	assert.Error(t, err)
}
