package model

import "time"

// AssetKind distinguishes the two planning code spaces. Poles and drops are
// reconciled independently.
type AssetKind string

const (
	AssetKindPole AssetKind = "pole"
	AssetKindDrop AssetKind = "drop"
)

// StatusFieldVerified is the derived planning-asset status written after a
// link is confirmed with geographic evidence. It is the only planning-side
// mutation the linkage engine performs.
const StatusFieldVerified = "field_verified"

// NoDropAllocated is the sentinel the field capture system records when a
// property has no drop. It is treated as an absent code, never matched.
const NoDropAllocated = "no drop allocated"

// Project is a planning project; the unit of work for a reconciliation pass.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// PlanningAsset is one designed pole or drop from the bill-of-materials
// import. Coordinates are optional; a nil latitude or longitude excludes the
// asset from proximity matching.
type PlanningAsset struct {
	ProjectID string    `json:"project_id"`
	Kind      AssetKind `json:"kind"`
	Code      string    `json:"code"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// HasCoords reports whether both coordinates are present.
func (a PlanningAsset) HasCoords() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// FieldRecord is one surveyed observation from the field capture system.
// Field records are not partitioned by project: crews are not project-aware,
// so every project's pass scans the same shared pool. The free-text contact
// fields are carried for reporting only and play no part in matching.
type FieldRecord struct {
	PropertyID  string   `json:"property_id"`
	PoleCode    string   `json:"pole_code,omitempty"`
	DropCode    string   `json:"drop_code,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Address     string   `json:"address,omitempty"`
	ContactName string   `json:"contact_name,omitempty"`
}

// HasCoords reports whether both coordinates are present.
func (r FieldRecord) HasCoords() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Code returns the record's identifier in the given code space, or "" when
// the record carries none (including the drop sentinel).
func (r FieldRecord) Code(kind AssetKind) string {
	switch kind {
	case AssetKindPole:
		return r.PoleCode
	case AssetKindDrop:
		if r.DropCode == NoDropAllocated {
			return ""
		}
		return r.DropCode
	}
	return ""
}
