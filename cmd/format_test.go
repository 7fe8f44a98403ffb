package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibregrid/fieldlink/internal/model"
)

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds([]string{"pole", "drop"})
	require.NoError(t, err)
	assert.Equal(t, []model.AssetKind{model.AssetKindPole, model.AssetKindDrop}, kinds)

	_, err = parseKinds([]string{"cabinet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown asset kind")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("x", 100)
	got := truncate(long, 20)
	assert.Len(t, got, 20)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestFormatRunSummary(t *testing.T) {
	entry := &model.RunEntry{
		ID:                "run-1",
		ProjectsProcessed: 2,
		ProjectsFailed:    1,
		LinksCreated:      1234,
		Summary: &model.RunSummary{
			Projects: []model.ProjectSummary{
				{ProjectID: "proj-1", ProjectName: "Northern Ring", Kind: "pole",
					TotalPlanningAssets: 1000, ExactMatches: 800, SuffixMatches: 100,
					ProximityMatches: 34, LinkedTotal: 934, LinkageRatePercent: 93.4},
				{ProjectID: "proj-2", ProjectName: "Harbour East", Kind: "pole",
					Failed: true, Error: "relation does not exist"},
			},
			TotalPlanningAssets: 1000,
			LinkedTotal:         934,
			LinkageRatePercent:  93.4,
		},
	}

	var buf bytes.Buffer
	formatRunSummary(&buf, entry)
	out := buf.String()

	assert.Contains(t, out, "Northern Ring")
	assert.Contains(t, out, "93.4%")
	assert.Contains(t, out, "relation does not exist")
	// Digit grouping on the rollup line.
	assert.Contains(t, out, "1,234 links written")
}

func TestFormatRunEntries(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	completed := started.Add(95 * time.Second)

	var buf bytes.Buffer
	formatRunEntries(&buf, []model.RunEntry{
		{ID: "0195c2f4-aaaa-bbbb-cccc-dddddddddddd", Kinds: "pole,drop",
			Status: model.RunStatusComplete, StartedAt: started, CompletedAt: &completed,
			ProjectsProcessed: 3, LinksCreated: 42},
		{ID: "run-2", Kinds: "pole", Status: model.RunStatusFailed,
			StartedAt: started, Error: "store: connection refused"},
	})
	out := buf.String()

	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "connection refused")
	// Long run IDs are shortened for the table.
	assert.NotContains(t, out, "dddddddddddd")
}

func TestFormatLinks_MarksBest(t *testing.T) {
	now := time.Now()
	dist := 4.2

	var buf bytes.Buffer
	formatLinks(&buf, []model.LinkageRecord{
		{FieldCode: "ONEMAP.045", MatchType: model.MatchNumericSuffix, Confidence: 0.95, UpdatedAt: now},
		{FieldCode: "ONEMAP.144", MatchType: model.MatchProximity, Confidence: 0.9, DistanceMeters: &dist, UpdatedAt: now},
	})
	out := buf.String()

	assert.Contains(t, out, "4.2m")
	require.Contains(t, out, "*")
	for _, line := range strings.Split(out, "\n") {
		if strings.HasSuffix(strings.TrimSpace(line), "*") {
			assert.Contains(t, line, "ONEMAP.045")
		}
	}
}
