package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResourceKind(t *testing.T) {
	tests := map[string]ResourceKind{
		"filesystem":       KindFileSystem,
		"EFS":              KindFileSystem,
		" sg ":             KindSecurityGroup,
		"compute-instance": KindInstance,
		"cdn":              KindCDNDistribution,
	}
	for in, want := range tests {
		got, err := ParseResourceKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseResourceKind("volume")
	assert.Error(t, err)
}

func TestTeardownOrderCoversEveryKindOnce(t *testing.T) {
	seen := map[ResourceKind]bool{}
	for _, k := range TeardownOrder {
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
	assert.Len(t, seen, 14)
}

func TestRecordSetDeduplicates(t *testing.T) {
	var s RecordSet
	s.Add(ResourceRecord{Kind: KindSecurityGroup, ID: "sg-1"})
	s.Add(ResourceRecord{Kind: KindSecurityGroup, ID: "sg-1"})
	s.Add(ResourceRecord{Kind: KindKeyPair, ID: "key-1"})

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "sg-1", records[0].ID)
	assert.False(t, records[0].CreatedAt.IsZero())
	assert.Equal(t, 2, s.Len())
}
