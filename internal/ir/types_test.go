package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Canonical(t *testing.T) {
	tests := []struct {
		name      string
		rec       Record
		canonical string
		self      bool
	}{
		{"empty means self", Record{ID: "A"}, "A", true},
		{"own id", Record{ID: "A", CanonicalID: "A"}, "A", true},
		{"other", Record{ID: "A", CanonicalID: "B"}, "B", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.canonical, tt.rec.Canonical())
			assert.Equal(t, tt.self, tt.rec.SelfCanonical())
		})
	}
}

func TestRecord_HasParsed(t *testing.T) {
	assert.False(t, (&Record{}).HasParsed())
	assert.True(t, (&Record{ParseChecksum: "C"}).HasParsed())
	assert.False(t, (&Record{ParseChecksum: "C", ParseError: "bad"}).HasParsed())
}

func TestRecord_FeedEntry(t *testing.T) {
	rec := Record{
		ID:              "A",
		CanonicalID:     "B",
		PlainText:       "text",
		Parsed:          []byte("<x/>"),
		ParseChecksum:   "C",
		CreateTime:      1,
		CreateUser:      "u",
		UpdateTime:      2,
		LocalUpdateTime: 3,
		Deleted:         true,
	}

	assert.Equal(t, FeedEntry{
		ID:              "A",
		CanonicalID:     "B",
		ParseChecksum:   "C",
		CreateTime:      1,
		UpdateTime:      2,
		LocalUpdateTime: 3,
		Deleted:         true,
	}, rec.FeedEntry())
}

func TestSourceFrom(t *testing.T) {
	assert.Equal(t, Source{Domain: "d", Descriptor: "MAINTENANCE"}, SourceFrom("d", SourceMaintenance, ""))
	assert.Equal(t, Source{Domain: "d", Descriptor: "LOCAL"}, SourceFrom("d", SourceLocal, ""))
	assert.Equal(t, Source{Domain: "d", Descriptor: "FEED:node-b"}, SourceFrom("d", SourceFeed, "node-b"))
}

func TestJSONFieldNaming(t *testing.T) {
	data, err := json.Marshal(WriteResult{
		Record:  Record{ID: "A", PlainText: "t", LocalUpdateTime: 5},
		Created: true,
	})
	require.NoError(t, err)

	// Verify snake_case JSON tags
	assert.Contains(t, string(data), `"plain_text"`)
	assert.Contains(t, string(data), `"local_update_time"`)
	assert.Contains(t, string(data), `"created":true`)
	assert.NotContains(t, string(data), `"parsed"`)
}
