package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/provision"
	"github.com/younsl/spotnode/pkg/retry"
	"github.com/younsl/spotnode/pkg/utils"
)

func efsTags(tags map[string]string) []efstypes.Tag {
	result := make([]efstypes.Tag, 0, len(tags))
	for _, k := range utils.SortedTagKeys(tags) {
		result = append(result, efstypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return result
}

func efsTagMap(tags []efstypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

func (p *Provider) fileSystemDNS(id string) string {
	return fmt.Sprintf("%s.efs.%s.amazonaws.com", id, p.region)
}

// EnsureFileSystem creates the filesystem keyed by token, or reuses the one
// the token already created, and waits until it is available
func (p *Provider) EnsureFileSystem(ctx context.Context, token string, tags map[string]string) (provision.FileSystem, error) {
	existing, err := p.efs.DescribeFileSystems(ctx, &efs.DescribeFileSystemsInput{CreationToken: aws.String(token)})
	if err != nil {
		return provision.FileSystem{}, fmt.Errorf("error describing filesystem %s: %w", token, err)
	}

	var id string
	if len(existing.FileSystems) > 0 {
		id = aws.ToString(existing.FileSystems[0].FileSystemId)
	} else {
		created, err := p.efs.CreateFileSystem(ctx, &efs.CreateFileSystemInput{
			CreationToken:   aws.String(token),
			PerformanceMode: efstypes.PerformanceModeGeneralPurpose,
			Encrypted:       aws.Bool(true),
			Tags:            efsTags(tags),
		})
		if err != nil {
			return provision.FileSystem{}, fmt.Errorf("error creating filesystem %s: %w", token, err)
		}
		id = aws.ToString(created.FileSystemId)
	}

	err = retry.Poll(ctx, p.timing.PollAttempts, p.timing.PollDelay, 0, func(ctx context.Context) (bool, error) {
		out, err := p.efs.DescribeFileSystems(ctx, &efs.DescribeFileSystemsInput{FileSystemId: aws.String(id)})
		if err != nil {
			return false, err
		}
		return len(out.FileSystems) > 0 && out.FileSystems[0].LifeCycleState == efstypes.LifeCycleStateAvailable, nil
	})
	if err != nil {
		return provision.FileSystem{ID: id}, fmt.Errorf("error waiting for filesystem %s: %w", id, err)
	}
	return provision.FileSystem{ID: id, DNSName: p.fileSystemDNS(id)}, nil
}

// EnsureMountTarget returns the filesystem's mount target in the subnet,
// creating it when absent, and waits until it is available
func (p *Provider) EnsureMountTarget(ctx context.Context, fileSystemID, subnetID string, securityGroupIDs []string) (string, error) {
	existing, err := p.efs.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{FileSystemId: aws.String(fileSystemID)})
	if err != nil {
		return "", fmt.Errorf("error describing mount targets of %s: %w", fileSystemID, err)
	}

	var id string
	for _, mt := range existing.MountTargets {
		if aws.ToString(mt.SubnetId) == subnetID {
			id = aws.ToString(mt.MountTargetId)
		}
	}
	if id == "" {
		created, err := p.efs.CreateMountTarget(ctx, &efs.CreateMountTargetInput{
			FileSystemId:   aws.String(fileSystemID),
			SubnetId:       aws.String(subnetID),
			SecurityGroups: securityGroupIDs,
		})
		if err != nil {
			return "", fmt.Errorf("error creating mount target for %s in %s: %w", fileSystemID, subnetID, err)
		}
		id = aws.ToString(created.MountTargetId)
	}

	err = retry.Poll(ctx, p.timing.PollAttempts, p.timing.PollDelay, 0, func(ctx context.Context) (bool, error) {
		out, err := p.efs.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{MountTargetId: aws.String(id)})
		if err != nil {
			return false, err
		}
		return len(out.MountTargets) > 0 && out.MountTargets[0].LifeCycleState == efstypes.LifeCycleStateAvailable, nil
	})
	if err != nil {
		return id, fmt.Errorf("error waiting for mount target %s: %w", id, err)
	}
	return id, nil
}

// stackFileSystems lists the filesystems tagged for the stack
func (p *Provider) stackFileSystems(ctx context.Context, stack string) ([]efstypes.FileSystemDescription, error) {
	var result []efstypes.FileSystemDescription
	paginator := efs.NewDescribeFileSystemsPaginator(p.efs, &efs.DescribeFileSystemsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing filesystems: %w", err)
		}
		for _, fs := range page.FileSystems {
			if fs.LifeCycleState == efstypes.LifeCycleStateDeleted || fs.LifeCycleState == efstypes.LifeCycleStateDeleting {
				continue
			}
			if stackOwned(efsTagMap(fs.Tags), stack) {
				result = append(result, fs)
			}
		}
	}
	return result, nil
}

func (p *Provider) discoverFileSystems(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	filesystems, err := p.stackFileSystems(ctx, stack)
	if err != nil {
		return nil, err
	}
	records := make([]models.ResourceRecord, 0, len(filesystems))
	for _, fs := range filesystems {
		records = append(records, models.ResourceRecord{
			Kind:      models.KindFileSystem,
			ID:        aws.ToString(fs.FileSystemId),
			Name:      aws.ToString(fs.Name),
			Region:    p.region,
			CreatedAt: aws.ToTime(fs.CreationTime),
		})
	}
	return records, nil
}

func (p *Provider) discoverMountTargets(ctx context.Context, stack string) ([]models.ResourceRecord, error) {
	filesystems, err := p.stackFileSystems(ctx, stack)
	if err != nil {
		return nil, err
	}
	var records []models.ResourceRecord
	for _, fs := range filesystems {
		fsID := aws.ToString(fs.FileSystemId)
		out, err := p.efs.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{FileSystemId: fs.FileSystemId})
		if err != nil {
			return nil, fmt.Errorf("error describing mount targets of %s: %w", fsID, err)
		}
		for _, mt := range out.MountTargets {
			if mt.LifeCycleState == efstypes.LifeCycleStateDeleted || mt.LifeCycleState == efstypes.LifeCycleStateDeleting {
				continue
			}
			rec := models.ResourceRecord{
				Kind:      models.KindMountTarget,
				ID:        aws.ToString(mt.MountTargetId),
				Name:      fsID + "/" + aws.ToString(mt.AvailabilityZoneName),
				Region:    p.region,
				DependsOn: []string{fsID},
			}
			groups, err := p.efs.DescribeMountTargetSecurityGroups(ctx, &efs.DescribeMountTargetSecurityGroupsInput{MountTargetId: mt.MountTargetId})
			if err != nil {
				return nil, fmt.Errorf("error describing security groups of mount target %s: %w", rec.ID, err)
			}
			rec.DependsOn = append(rec.DependsOn, groups.SecurityGroups...)
			records = append(records, rec)
		}
	}
	return records, nil
}

func (p *Provider) deleteMountTarget(ctx context.Context, id string) error {
	if _, err := p.efs.DeleteMountTarget(ctx, &efs.DeleteMountTargetInput{MountTargetId: aws.String(id)}); err != nil {
		if IsNotFound(err) {
			return notFound("mount target "+id, err)
		}
		return fmt.Errorf("error deleting mount target %s: %w", id, err)
	}
	err := retry.Poll(ctx, p.timing.PollAttempts, p.timing.PollDelay, 0, func(ctx context.Context) (bool, error) {
		out, err := p.efs.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{MountTargetId: aws.String(id)})
		if IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return len(out.MountTargets) == 0 || out.MountTargets[0].LifeCycleState == efstypes.LifeCycleStateDeleted, nil
	})
	if err != nil {
		return fmt.Errorf("error waiting for mount target %s to be deleted: %w", id, err)
	}
	return nil
}

func (p *Provider) deleteFileSystem(ctx context.Context, id string) error {
	if _, err := p.efs.DeleteFileSystem(ctx, &efs.DeleteFileSystemInput{FileSystemId: aws.String(id)}); err != nil {
		if IsNotFound(err) {
			return notFound("filesystem "+id, err)
		}
		return fmt.Errorf("error deleting filesystem %s: %w", id, err)
	}
	err := retry.Poll(ctx, p.timing.PollAttempts, p.timing.PollDelay, 0, func(ctx context.Context) (bool, error) {
		out, err := p.efs.DescribeFileSystems(ctx, &efs.DescribeFileSystemsInput{FileSystemId: aws.String(id)})
		if IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return len(out.FileSystems) == 0 || out.FileSystems[0].LifeCycleState == efstypes.LifeCycleStateDeleted, nil
	})
	if err != nil {
		return fmt.Errorf("error waiting for filesystem %s to be deleted: %w", id, err)
	}
	return nil
}
