package model

import "time"

// MatchType identifies which strategy produced a link, in decreasing order of
// trust: exact code identity, shared numeric suffix, coordinate proximity.
type MatchType string

const (
	MatchExact         MatchType = "exact"
	MatchNumericSuffix MatchType = "numeric_suffix"
	MatchProximity     MatchType = "proximity"
)

// LinkageRecord is the engine's durable output: one persisted association
// between a planning asset and a field record. At most one row exists per
// (project, planning code, field code) triple; re-upserting the triple keeps
// the higher confidence and refreshes UpdatedAt.
type LinkageRecord struct {
	ProjectID      string    `json:"project_id"`
	PlanningCode   string    `json:"planning_code"`
	FieldCode      string    `json:"field_code"`
	MatchType      MatchType `json:"match_type"`
	Confidence     float64   `json:"confidence"`
	DistanceMeters *float64  `json:"distance_meters,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GeographicEvidence reports whether the link is backed by coordinates tight
// enough to mark the planning asset field-verified: any proximity match, or a
// suffix match confirmed at the sub-0.0001-degree delta.
func (l LinkageRecord) GeographicEvidence() bool {
	switch l.MatchType {
	case MatchProximity:
		return true
	case MatchNumericSuffix:
		return l.Confidence >= 0.95
	}
	return false
}

// BestLink returns the highest-confidence link from a set sharing one
// planning code, breaking ties by smallest field code so the choice is
// stable across runs. Returns nil for an empty set.
func BestLink(links []LinkageRecord) *LinkageRecord {
	var best *LinkageRecord
	for i := range links {
		l := &links[i]
		if best == nil ||
			l.Confidence > best.Confidence ||
			(l.Confidence == best.Confidence && l.FieldCode < best.FieldCode) {
			best = l
		}
	}
	return best
}
