package aws

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/younsl/spotnode/pkg/teardown"
)

// notFoundCodes are API error codes meaning the resource does not exist
var notFoundCodes = map[string]bool{
	"InvalidInstanceID.NotFound":            true,
	"InvalidSpotInstanceRequestID.NotFound": true,
	"InvalidGroup.NotFound":                 true,
	"InvalidKeyPair.NotFound":               true,
	"InvalidAMIID.NotFound":                 true,
	"InvalidAMIID.Unavailable":              true,
	"InvalidVpcID.NotFound":                 true,
	"NoSuchEntity":                          true,
	"FileSystemNotFound":                    true,
	"MountTargetNotFound":                   true,
	"LoadBalancerNotFound":                  true,
	"TargetGroupNotFound":                   true,
	"ListenerNotFound":                      true,
	"NoSuchDistribution":                    true,
	"ResourceNotFound":                      true,
	"ResourceNotFoundException":             true,
}

// ErrorCode returns the API error code of err, or "" when it is not an API error
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNotFound reports whether err means the resource does not exist
func IsNotFound(err error) bool {
	return err != nil && notFoundCodes[ErrorCode(err)]
}

// IsAlreadyExists reports whether err means the resource already exists
func IsAlreadyExists(err error) bool {
	code := ErrorCode(err)
	return code == "EntityAlreadyExists" ||
		code == "ResourceAlreadyExistsException" ||
		code == "FileSystemAlreadyExists" ||
		code == "InvalidPermission.Duplicate" ||
		code == "InvalidGroup.Duplicate" ||
		code == "InvalidKeyPair.Duplicate" ||
		code == "DuplicateTargetGroupName" ||
		code == "DuplicateLoadBalancerName" ||
		code == "DuplicateListener"
}

// IsDependencyViolation reports whether a delete was rejected because
// something still references the resource
func IsDependencyViolation(err error) bool {
	switch ErrorCode(err) {
	case "DependencyViolation", "DeleteConflict", "ResourceInUse", "FileSystemInUse", "MountTargetConflict":
		return true
	}
	return false
}

// notFound wraps err so the teardown engine counts the record as skipped
func notFound(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", what, teardown.ErrNotFound)
	}
	return fmt.Errorf("%s: %w (%w)", what, teardown.ErrNotFound, err)
}
