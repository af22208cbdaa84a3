package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/goccy/go-json"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/utils"
)

// profileWait bounds how long a new instance profile may take to become visible
const profileWait = 2 * time.Minute

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal"`
	Action    string            `json:"Action"`
}

// ec2AssumeRolePolicy allows EC2 instances to assume the node role
func ec2AssumeRolePolicy() (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"Service": "ec2.amazonaws.com"},
			Action:    "sts:AssumeRole",
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func iamTags(tags map[string]string) []iamtypes.Tag {
	result := make([]iamtypes.Tag, 0, len(tags))
	for _, k := range utils.SortedTagKeys(tags) {
		result = append(result, iamtypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return result
}

// EnsureInstanceProfile creates the node role and instance profile when absent,
// attaches the managed policies and waits for the profile to be visible
func (p *Provider) EnsureInstanceProfile(ctx context.Context, spec provision.IAMSpec) (provision.IAMResult, error) {
	if err := p.ensureRole(ctx, spec); err != nil {
		return provision.IAMResult{}, err
	}
	for _, arn := range spec.PolicyARNs {
		_, err := p.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(spec.RoleName),
			PolicyArn: aws.String(arn),
		})
		if err != nil {
			return provision.IAMResult{}, fmt.Errorf("error attaching %s to role %s: %w", arn, spec.RoleName, err)
		}
	}

	profile, err := p.ensureProfile(ctx, spec)
	if err != nil {
		return provision.IAMResult{}, err
	}

	hasRole := false
	for _, role := range profile.Roles {
		if aws.ToString(role.RoleName) == spec.RoleName {
			hasRole = true
		}
	}
	if !hasRole {
		_, err := p.iam.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
			InstanceProfileName: aws.String(spec.ProfileName),
			RoleName:            aws.String(spec.RoleName),
		})
		// LimitExceeded means the profile already carries its one role
		if err != nil && ErrorCode(err) != "LimitExceeded" {
			return provision.IAMResult{}, fmt.Errorf("error adding role %s to profile %s: %w", spec.RoleName, spec.ProfileName, err)
		}
	}

	waiter := iam.NewInstanceProfileExistsWaiter(p.iam)
	if err := waiter.Wait(ctx, &iam.GetInstanceProfileInput{InstanceProfileName: aws.String(spec.ProfileName)}, profileWait); err != nil {
		return provision.IAMResult{}, fmt.Errorf("error waiting for instance profile %s: %w", spec.ProfileName, err)
	}

	return provision.IAMResult{
		RoleName:    spec.RoleName,
		ProfileName: spec.ProfileName,
		ProfileARN:  aws.ToString(profile.Arn),
	}, nil
}

func (p *Provider) ensureRole(ctx context.Context, spec provision.IAMSpec) error {
	_, err := p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(spec.RoleName)})
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("error getting role %s: %w", spec.RoleName, err)
	}

	doc, err := ec2AssumeRolePolicy()
	if err != nil {
		return err
	}
	_, err = p.iam.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(spec.RoleName),
		Path:                     aws.String(spec.Path),
		AssumeRolePolicyDocument: aws.String(doc),
		Description:              aws.String("spotnode GPU node role"),
		Tags:                     iamTags(spec.Tags),
	})
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("error creating role %s: %w", spec.RoleName, err)
	}
	return nil
}

func (p *Provider) ensureProfile(ctx context.Context, spec provision.IAMSpec) (*iamtypes.InstanceProfile, error) {
	got, err := p.iam.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{InstanceProfileName: aws.String(spec.ProfileName)})
	if err == nil {
		return got.InstanceProfile, nil
	}
	if !IsNotFound(err) {
		return nil, fmt.Errorf("error getting instance profile %s: %w", spec.ProfileName, err)
	}

	created, err := p.iam.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: aws.String(spec.ProfileName),
		Path:                aws.String(spec.Path),
		Tags:                iamTags(spec.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating instance profile %s: %w", spec.ProfileName, err)
	}
	return created.InstanceProfile, nil
}

// iamPath is the path every IAM resource of a stack lives under
func iamPath(stack string) string {
	return "/spotnode/" + stack + "/"
}

func (p *Provider) discoverRoles(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord
	paginator := iam.NewListRolesPaginator(p.iam, &iam.ListRolesInput{PathPrefix: aws.String(iamPath(stack))})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing roles: %w", err)
		}
		for _, role := range page.Roles {
			name := aws.ToString(role.RoleName)
			records = append(records, models.ResourceRecord{
				Kind:      models.KindIAMRole,
				ID:        name,
				Name:      name,
				Region:    p.region,
				CreatedAt: aws.ToTime(role.CreateDate),
			})
		}
	}
	return records, nil
}

func (p *Provider) discoverInstanceProfiles(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	var records []models.ResourceRecord
	paginator := iam.NewListInstanceProfilesPaginator(p.iam, &iam.ListInstanceProfilesInput{PathPrefix: aws.String(iamPath(stack))})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing instance profiles: %w", err)
		}
		for _, profile := range page.InstanceProfiles {
			name := aws.ToString(profile.InstanceProfileName)
			rec := models.ResourceRecord{
				Kind:      models.KindIAMInstanceProfile,
				ID:        name,
				Name:      name,
				Region:    p.region,
				CreatedAt: aws.ToTime(profile.CreateDate),
			}
			for _, role := range profile.Roles {
				rec.DependsOn = append(rec.DependsOn, aws.ToString(role.RoleName))
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// deleteInstanceProfile detaches its roles and deletes the profile
func (p *Provider) deleteInstanceProfile(ctx context.Context, name string) error {
	got, err := p.iam.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{InstanceProfileName: aws.String(name)})
	if err != nil {
		if IsNotFound(err) {
			return notFound("instance profile "+name, err)
		}
		return fmt.Errorf("error getting instance profile %s: %w", name, err)
	}
	for _, role := range got.InstanceProfile.Roles {
		_, err := p.iam.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: aws.String(name),
			RoleName:            role.RoleName,
		})
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("error removing role %s from profile %s: %w", aws.ToString(role.RoleName), name, err)
		}
	}
	if _, err := p.iam.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{InstanceProfileName: aws.String(name)}); err != nil {
		if IsNotFound(err) {
			return notFound("instance profile "+name, err)
		}
		return fmt.Errorf("error deleting instance profile %s: %w", name, err)
	}
	return nil
}

// deleteRole removes the role from any profile, detaches and deletes its
// policies, and deletes it
func (p *Provider) deleteRole(ctx context.Context, name string) error {
	role := aws.String(name)

	profiles, err := p.iam.ListInstanceProfilesForRole(ctx, &iam.ListInstanceProfilesForRoleInput{RoleName: role})
	if err != nil {
		if IsNotFound(err) {
			return notFound("role "+name, err)
		}
		return fmt.Errorf("error listing profiles of role %s: %w", name, err)
	}
	for _, profile := range profiles.InstanceProfiles {
		_, err := p.iam.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: profile.InstanceProfileName,
			RoleName:            role,
		})
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("error removing role %s from profile %s: %w", name, aws.ToString(profile.InstanceProfileName), err)
		}
	}

	attached, err := p.iam.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: role})
	if err != nil {
		return fmt.Errorf("error listing policies of role %s: %w", name, err)
	}
	for _, policy := range attached.AttachedPolicies {
		_, err := p.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{RoleName: role, PolicyArn: policy.PolicyArn})
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("error detaching %s from role %s: %w", aws.ToString(policy.PolicyArn), name, err)
		}
	}

	inline, err := p.iam.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: role})
	if err != nil {
		return fmt.Errorf("error listing inline policies of role %s: %w", name, err)
	}
	for _, policyName := range inline.PolicyNames {
		_, err := p.iam.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{RoleName: role, PolicyName: aws.String(policyName)})
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("error deleting inline policy %s of role %s: %w", policyName, name, err)
		}
	}

	if _, err := p.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: role}); err != nil {
		if IsNotFound(err) {
			return notFound("role "+name, err)
		}
		return fmt.Errorf("error deleting role %s: %w", name, err)
	}
	return nil
}
