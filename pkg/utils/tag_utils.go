package utils

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Tag keys written on every provisioned resource
const (
	TagStack        = "Stack"
	TagProject      = "Project"
	TagName         = "Name"
	TagInstanceType = "InstanceType"
	TagSpotPrice    = "SpotPrice"
	TagZone         = "Zone"
	TagManagedBy    = "ManagedBy"

	ManagedByValue = "spotnode"
)

// StackTags returns the base tag set identifying a stack's resources
func StackTags(stack, project string) map[string]string {
	return map[string]string{
		TagStack:     stack,
		TagProject:   project,
		TagManagedBy: ManagedByValue,
	}
}

// MergeTags returns a new map with extra overriding base
func MergeTags(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// SortedTagKeys returns the keys of a tag map in a stable order
func SortedTagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetTagValue returns the value of a tag with the given key
func GetTagValue(tags []types.Tag, key string) string {
	for _, tag := range tags {
		if tag.Key != nil && *tag.Key == key {
			if tag.Value != nil {
				return *tag.Value
			}
			return ""
		}
	}
	return ""
}

// GetName returns the value of the Name tag
func GetName(tags []types.Tag) string {
	return GetTagValue(tags, TagName)
}

// ConvertToEC2Tags converts a map of tags to a slice of EC2 tags, sorted by key
func ConvertToEC2Tags(tags map[string]string) []types.Tag {
	result := make([]types.Tag, 0, len(tags))
	for _, k := range SortedTagKeys(tags) {
		result = append(result, types.Tag{
			Key:   aws.String(k),
			Value: aws.String(tags[k]),
		})
	}
	return result
}
