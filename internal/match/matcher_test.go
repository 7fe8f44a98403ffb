package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibregrid/fieldlink/internal/model"
)

func poleAsset(code string, lat, lon float64) model.PlanningAsset {
	return model.PlanningAsset{
		ProjectID: "proj-1",
		Kind:      model.AssetKindPole,
		Code:      code,
		Latitude:  fp(lat),
		Longitude: fp(lon),
	}
}

func newPolePool(records ...model.FieldRecord) *Pool {
	return NewPool(model.AssetKindPole, records, DefaultConfig().BBoxDegrees)
}

func TestFindBest_ExactWins(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(
		poleRecord("LEP.001.045", -33.9, 18.4),
		// A nearer suffix peer must not outrank exact identity.
		poleRecord("ONEMAP.045", -33.9, 18.4),
	)

	r, ok := m.FindBest(poleAsset("LEP.001.045", -33.9, 18.4), pool)
	require.True(t, ok)
	assert.Equal(t, "LEP.001.045", r.FieldCode)
	assert.Equal(t, model.MatchExact, r.MatchType)
	assert.Equal(t, 1.0, r.Confidence)
	assert.Nil(t, r.DistanceMeters)
}

func TestFindBest_SuffixFallback(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(poleRecord("ONEMAP.045", -33.90001, 18.40001))

	r, ok := m.FindBest(poleAsset("LEP.001.045", -33.9000, 18.4000), pool)
	require.True(t, ok)
	assert.Equal(t, "ONEMAP.045", r.FieldCode)
	assert.Equal(t, model.MatchNumericSuffix, r.MatchType)
	assert.Equal(t, 0.95, r.Confidence)
}

func TestFindBest_SuffixConfidenceTiers(t *testing.T) {
	m := New(DefaultConfig())

	tests := []struct {
		name string
		lat  float64
		lon  float64
		want float64
	}{
		{"both deltas under a ten-thousandth", -33.90005, 18.40005, 0.95},
		{"both deltas under a thousandth", -33.9005, 18.4005, 0.75},
		{"latitude delta past a thousandth", -33.9020, 18.4000, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newPolePool(poleRecord("ONEMAP.045", tt.lat, tt.lon))
			r, ok := m.FindBest(poleAsset("LEP.001.045", -33.9000, 18.4000), pool)
			require.True(t, ok)
			assert.Equal(t, model.MatchNumericSuffix, r.MatchType)
			assert.Equal(t, tt.want, r.Confidence)
		})
	}
}

func TestFindBest_SuffixWithoutCoordsIsLowConfidence(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(model.FieldRecord{PropertyID: "p1", PoleCode: "ONEMAP.045"})

	asset := model.PlanningAsset{Kind: model.AssetKindPole, Code: "LEP.001.045"}
	r, ok := m.FindBest(asset, pool)
	require.True(t, ok)
	assert.Equal(t, 0.5, r.Confidence)
}

func TestFindBest_SuffixTieBreaksByDistance(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(
		poleRecord("FAR.045", -33.9100, 18.4100),
		poleRecord("NEAR.045", -33.90001, 18.40001),
	)

	r, ok := m.FindBest(poleAsset("LEP.001.045", -33.9000, 18.4000), pool)
	require.True(t, ok)
	assert.Equal(t, "NEAR.045", r.FieldCode)
}

func TestFindBest_SuffixTieBreaksLexicographicallyWithoutCoords(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(
		model.FieldRecord{PropertyID: "b", PoleCode: "ZZZ.045"},
		model.FieldRecord{PropertyID: "a", PoleCode: "AAA.045"},
	)

	asset := model.PlanningAsset{Kind: model.AssetKindPole, Code: "LEP.001.045"}
	r, ok := m.FindBest(asset, pool)
	require.True(t, ok)
	assert.Equal(t, "AAA.045", r.FieldCode)
}

func TestFindBest_ProximityFallback(t *testing.T) {
	m := New(DefaultConfig())
	// No code relationship at all; only geometry links them. ~12 m away.
	pool := newPolePool(poleRecord("ONEMAP.777", -33.90010, 18.40005))

	r, ok := m.FindBest(poleAsset("LEP.001.045", -33.9000, 18.4000), pool)
	require.True(t, ok)
	assert.Equal(t, "ONEMAP.777", r.FieldCode)
	assert.Equal(t, model.MatchProximity, r.MatchType)
	assert.Equal(t, 0.7, r.Confidence)
	require.NotNil(t, r.DistanceMeters)
	assert.InDelta(t, 12.05, *r.DistanceMeters, 0.2)
}

func TestFindBest_ProximityConfidenceBuckets(t *testing.T) {
	m := New(DefaultConfig())
	base := poleAsset("LEP.001.045", -33.9000, 18.4000)

	tests := []struct {
		name string
		dLat float64
		want float64
	}{
		{"under five meters", 0.00004, 0.9},  // ~4.45 m
		{"under ten meters", 0.00008, 0.8},   // ~8.91 m
		{"under twenty meters", 0.00017, 0.7}, // ~18.9 m
		{"under thirty meters", 0.00026, 0.6}, // ~28.9 m
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newPolePool(poleRecord("ONEMAP.777", -33.9000+tt.dLat, 18.4000))
			r, ok := m.FindBest(base, pool)
			require.True(t, ok)
			assert.Equal(t, model.MatchProximity, r.MatchType)
			assert.Equal(t, tt.want, r.Confidence)
		})
	}
}

func TestFindBest_ProximityRejectsBeyondRadius(t *testing.T) {
	m := New(DefaultConfig())
	// 0.00028° of latitude ≈ 31.2 m, just outside the 30 m radius but still
	// inside the bounding box, so the distance check itself must reject it.
	pool := newPolePool(poleRecord("ONEMAP.777", -33.90028, 18.4000))

	_, ok := m.FindBest(poleAsset("LEP.001.045", -33.9000, 18.4000), pool)
	assert.False(t, ok)
}

func TestFindBest_ProximityAcceptsJustInsideRadius(t *testing.T) {
	m := New(DefaultConfig())
	// 0.000268° of latitude ≈ 29.8 m.
	pool := newPolePool(poleRecord("ONEMAP.777", -33.900268, 18.4000))

	r, ok := m.FindBest(poleAsset("LEP.001.045", -33.9000, 18.4000), pool)
	require.True(t, ok)
	assert.Equal(t, 0.6, r.Confidence)
}

func TestFindBest_ProximityPicksNearest(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(
		poleRecord("ONEMAP.81", -33.90010, 18.4000),
		poleRecord("ONEMAP.82", -33.90003, 18.4000),
	)

	r, ok := m.FindBest(poleAsset("LEP.001.045", -33.9000, 18.4000), pool)
	require.True(t, ok)
	assert.Equal(t, "ONEMAP.82", r.FieldCode)
}

func TestFindBest_NoCoordsNoProximity(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(poleRecord("ONEMAP.777", -33.9000, 18.4000))

	asset := model.PlanningAsset{Kind: model.AssetKindPole, Code: "LEP.001.045"}
	_, ok := m.FindBest(asset, pool)
	assert.False(t, ok)
}

func TestFindBest_FieldRecordServesMultipleAssets(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(poleRecord("ONEMAP.045", -33.90001, 18.40001))

	// Matching is pure over the pool; an earlier asset resolving to a record
	// does not hide it from the next one.
	for _, code := range []string{"LEP.001.045", "LEP.002.045"} {
		r, ok := m.FindBest(poleAsset(code, -33.9000, 18.4000), pool)
		require.True(t, ok)
		assert.Equal(t, "ONEMAP.045", r.FieldCode)
		assert.Equal(t, model.MatchNumericSuffix, r.MatchType)
	}
}

func TestFindBest_DropStrategiesAreExactOnly(t *testing.T) {
	m := New(Config{
		MaxDistanceM: 30,
		BBoxDegrees:  0.0003,
		Strategies:   DropStrategies,
	})
	pool := NewPool(model.AssetKindDrop, []model.FieldRecord{
		{PropertyID: "p1", DropCode: "DRP.045", Latitude: fp(-33.9000), Longitude: fp(18.4000)},
	}, 0.0003)

	// Same suffix and three meters apart, yet no link: drops never fall
	// through to the heuristic strategies.
	asset := model.PlanningAsset{
		Kind:      model.AssetKindDrop,
		Code:      "LEP.D.045",
		Latitude:  fp(-33.900027),
		Longitude: fp(18.4000),
	}
	_, ok := m.FindBest(asset, pool)
	assert.False(t, ok)

	asset.Code = "DRP.045"
	r, ok := m.FindBest(asset, pool)
	require.True(t, ok)
	assert.Equal(t, model.MatchExact, r.MatchType)
	assert.Equal(t, 1.0, r.Confidence)
}

func TestFindBest_EmptyCode(t *testing.T) {
	m := New(DefaultConfig())
	pool := newPolePool(poleRecord("ONEMAP.045", -33.9, 18.4))

	_, ok := m.FindBest(model.PlanningAsset{Kind: model.AssetKindPole}, pool)
	assert.False(t, ok)
}
