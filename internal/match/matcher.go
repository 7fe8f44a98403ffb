package match

import (
	"math"

	"github.com/fibregrid/fieldlink/internal/model"
)

// Strategy names one matching pass.
type Strategy string

const (
	StrategyExact     Strategy = "exact"
	StrategySuffix    Strategy = "suffix"
	StrategyProximity Strategy = "proximity"
)

// PoleStrategies is the full cascade used for poles.
var PoleStrategies = []Strategy{StrategyExact, StrategySuffix, StrategyProximity}

// DropStrategies restricts drops to exact code identity. Field drop codes
// carry no numeric or spatial relationship to planning drop numbers.
var DropStrategies = []Strategy{StrategyExact}

// Config controls matcher thresholds.
type Config struct {
	// MaxDistanceM is the proximity acceptance radius in meters.
	MaxDistanceM float64

	// BBoxDegrees is the half-width of the pre-filter bounding box.
	BBoxDegrees float64

	// Strategies are attempted strictly in order; the first hit wins.
	Strategies []Strategy
}

// DefaultConfig returns the production pole-matching configuration:
// all three strategies, 30 m radius, ±0.0003° (~30 m) pre-filter box.
func DefaultConfig() Config {
	return Config{
		MaxDistanceM: 30,
		BBoxDegrees:  0.0003,
		Strategies:   PoleStrategies,
	}
}

// Suffix-match coordinate agreement thresholds, in degrees, with their
// confidence tiers. ~11 m and ~111 m at this latitude band.
const (
	tightDeltaDeg = 0.0001
	looseDeltaDeg = 0.001
)

// Result is the zero-or-one best candidate for a planning asset.
type Result struct {
	FieldCode      string
	PropertyID     string
	MatchType      model.MatchType
	Confidence     float64
	DistanceMeters *float64
}

// Matcher applies the strategy cascade. It is pure over its inputs; all
// persistence happens in the reconcile engine.
type Matcher struct {
	cfg Config
}

// New creates a Matcher.
func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// FindBest returns the best field-record candidate for one planning asset,
// or false when no strategy produces one. Strategies run strictly in
// configured order and stop on the first hit: exact identity evidence always
// beats the numeric and spatial heuristics, so lower tiers are never
// evaluated once a higher one succeeds. A field record is not consumed by a
// match; several planning assets may resolve to the same record.
func (m *Matcher) FindBest(asset model.PlanningAsset, pool *Pool) (*Result, bool) {
	if asset.Code == "" {
		return nil, false
	}

	for _, s := range m.cfg.Strategies {
		var r *Result
		switch s {
		case StrategyExact:
			r = m.matchExact(asset, pool)
		case StrategySuffix:
			r = m.matchSuffix(asset, pool)
		case StrategyProximity:
			r = m.matchProximity(asset, pool)
		}
		if r != nil {
			return r, true
		}
	}
	return nil, false
}

func (m *Matcher) matchExact(asset model.PlanningAsset, pool *Pool) *Result {
	records := pool.exact(asset.Code)
	if len(records) == 0 {
		return nil
	}
	r := records[0]
	return &Result{
		FieldCode:  r.Code(pool.kind),
		PropertyID: r.PropertyID,
		MatchType:  model.MatchExact,
		Confidence: 1.0,
	}
}

func (m *Matcher) matchSuffix(asset model.PlanningAsset, pool *Pool) *Result {
	suffix, ok := NumericSuffix(asset.Code)
	if !ok {
		return nil
	}

	candidates := pool.suffixPeers(suffix)
	if len(candidates) == 0 {
		return nil
	}

	chosen := candidates[0]
	if len(candidates) > 1 {
		chosen = breakSuffixTie(asset, pool.kind, candidates)
	}

	return &Result{
		FieldCode:  chosen.Code(pool.kind),
		PropertyID: chosen.PropertyID,
		MatchType:  model.MatchNumericSuffix,
		Confidence: suffixConfidence(asset, chosen),
	}
}

// breakSuffixTie resolves multiple candidates sharing the asset's suffix.
// Nearest wins when both sides have coordinates. Without a usable distance
// the smallest field code wins: an arbitrary but documented policy, chosen
// so reruns reproduce the same link instead of silently flip-flopping.
func breakSuffixTie(asset model.PlanningAsset, kind model.AssetKind, candidates []model.FieldRecord) model.FieldRecord {
	if asset.HasCoords() {
		bestDist := math.Inf(1)
		var nearest *model.FieldRecord
		for i := range candidates {
			c := candidates[i]
			if !c.HasCoords() {
				continue
			}
			d := EstimateMeters(*asset.Latitude, *asset.Longitude, *c.Latitude, *c.Longitude)
			if d < bestDist {
				bestDist = d
				nearest = &candidates[i]
			}
		}
		if nearest != nil {
			return *nearest
		}
	}

	smallest := candidates[0]
	for _, c := range candidates[1:] {
		if c.Code(kind) < smallest.Code(kind) {
			smallest = c
		}
	}
	return smallest
}

// suffixConfidence tiers by coordinate agreement between the two sides.
func suffixConfidence(asset model.PlanningAsset, chosen model.FieldRecord) float64 {
	if asset.HasCoords() && chosen.HasCoords() {
		dLat := math.Abs(*asset.Latitude - *chosen.Latitude)
		dLon := math.Abs(*asset.Longitude - *chosen.Longitude)
		switch {
		case dLat < tightDeltaDeg && dLon < tightDeltaDeg:
			return 0.95
		case dLat < looseDeltaDeg && dLon < looseDeltaDeg:
			return 0.75
		}
	}
	return 0.5
}

func (m *Matcher) matchProximity(asset model.PlanningAsset, pool *Pool) *Result {
	if !asset.HasCoords() {
		return nil
	}

	bestDist := math.Inf(1)
	var nearest *model.FieldRecord
	for _, r := range pool.within(*asset.Latitude, *asset.Longitude) {
		r := r
		d := EstimateMeters(*asset.Latitude, *asset.Longitude, *r.Latitude, *r.Longitude)
		if d < bestDist {
			bestDist = d
			nearest = &r
		}
	}

	if nearest == nil || bestDist > m.cfg.MaxDistanceM {
		return nil
	}

	dist := bestDist
	return &Result{
		FieldCode:      nearest.Code(pool.kind),
		PropertyID:     nearest.PropertyID,
		MatchType:      model.MatchProximity,
		Confidence:     proximityConfidence(dist),
		DistanceMeters: &dist,
	}
}

// proximityConfidence buckets by estimated distance.
func proximityConfidence(meters float64) float64 {
	switch {
	case meters < 5:
		return 0.9
	case meters < 10:
		return 0.8
	case meters < 20:
		return 0.7
	default:
		return 0.6
	}
}
