package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleReport() *Report {
	dist := 12.3
	return &Report{
		GeneratedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Overview: Overview{
			Projects:            3,
			PlanningAssets:      12500,
			FieldRecords:        9800,
			Links:               9100,
			AvgConfidence:       0.912,
			UniquePlanningCodes: 9000,
			UniqueFieldCodes:    8900,
			ByMatchType:         map[string]int{"exact": 8000, "numeric_suffix": 800, "proximity": 300},
		},
		PerProject: []ProjectCoverage{
			{ProjectID: "proj-1", ProjectName: "Northern Ring", Kind: "pole", Assets: 100, Linked: 91, RatePercent: 91.0, AvgConfidence: 0.93},
		},
		HighConfidence: []Sample{
			{ProjectID: "proj-1", PlanningCode: "LEP.001.045", FieldCode: "LEP.001.045", MatchType: "exact", Confidence: 1.0},
		},
		LowConfidence: []Sample{
			{ProjectID: "proj-1", PlanningCode: "LEP.001.050", FieldCode: "ONEMAP.777", MatchType: "proximity", Confidence: 0.6, DistanceMeters: &dist},
		},
		Unlinked: []UnlinkedAsset{
			{ProjectID: "proj-1", Kind: "pole", Code: "LEP.001.060", HasCoords: false},
		},
	}
}

func TestRender_Sections(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, sampleReport())
	out := buf.String()

	assert.Contains(t, out, "Per-project coverage:")
	assert.Contains(t, out, "High-confidence samples")
	assert.Contains(t, out, "Low-confidence samples")
	assert.Contains(t, out, "Unlinked planning assets:")
	assert.Contains(t, out, "91.0%")
	assert.Contains(t, out, "12.3m")
	// Counts come out digit-grouped.
	assert.Contains(t, out, "12,500")
	assert.Contains(t, out, "9,100")
}

func TestRender_EmptySectionsOmitted(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, &Report{GeneratedAt: time.Now()})
	out := buf.String()

	assert.NotContains(t, out, "Per-project coverage:")
	assert.NotContains(t, out, "samples")
	assert.NotContains(t, out, "Unlinked")
}

func TestRenderJSON_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderJSON(&buf, sampleReport()))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 9100, decoded.Overview.Links)
	require.Len(t, decoded.LowConfidence, 1)
	require.NotNil(t, decoded.LowConfidence[0].DistanceMeters)
}

func TestRenderYAML_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderYAML(&buf, sampleReport()))

	assert.True(t, strings.Contains(buf.String(), "overview:"))
	var decoded Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 3, decoded.Overview.Projects)
}
