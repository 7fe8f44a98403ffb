package model

import "time"

// RunStatus represents the state of a reconciliation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunEntry is one row of the run log.
type RunEntry struct {
	ID                string      `json:"id"`
	Kinds             string      `json:"kinds"` // comma-joined asset kinds processed
	Status            RunStatus   `json:"status"`
	StartedAt         time.Time   `json:"started_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	ProjectsProcessed int         `json:"projects_processed"`
	ProjectsFailed    int         `json:"projects_failed"`
	LinksCreated      int         `json:"links_created"`
	Error             string      `json:"error,omitempty"`
	Summary           *RunSummary `json:"summary,omitempty"`
}

// ProjectSummary aggregates one project's reconciliation outcome.
type ProjectSummary struct {
	ProjectID           string  `json:"project_id" yaml:"project_id"`
	ProjectName         string  `json:"project_name" yaml:"project_name"`
	Kind                string  `json:"kind" yaml:"kind"`
	TotalPlanningAssets int     `json:"total_planning_assets" yaml:"total_planning_assets"`
	ExactMatches        int     `json:"exact_matches" yaml:"exact_matches"`
	SuffixMatches       int     `json:"suffix_matches" yaml:"suffix_matches"`
	ProximityMatches    int     `json:"proximity_matches" yaml:"proximity_matches"`
	LinkedTotal         int     `json:"linked_total" yaml:"linked_total"`
	AlreadyLinked       int     `json:"already_linked" yaml:"already_linked"`
	LinkageRatePercent  float64 `json:"linkage_rate_percent" yaml:"linkage_rate_percent"`
	Failed              bool    `json:"failed,omitempty" yaml:"failed,omitempty"`
	Error               string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunSummary is the global rollup across all projects in a run.
type RunSummary struct {
	Projects            []ProjectSummary `json:"projects" yaml:"projects"`
	TotalPlanningAssets int              `json:"total_planning_assets" yaml:"total_planning_assets"`
	ExactMatches        int              `json:"exact_matches" yaml:"exact_matches"`
	SuffixMatches       int              `json:"suffix_matches" yaml:"suffix_matches"`
	ProximityMatches    int              `json:"proximity_matches" yaml:"proximity_matches"`
	LinkedTotal         int              `json:"linked_total" yaml:"linked_total"`
	AlreadyLinked       int              `json:"already_linked" yaml:"already_linked"`
	LinkageRatePercent  float64          `json:"linkage_rate_percent" yaml:"linkage_rate_percent"`
}

// Rate returns linked/total as a percentage, 0 for an empty denominator.
func Rate(linked, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(linked) / float64(total) * 100
}

// Add folds one project summary into the rollup. The rate counts links made
// this run plus links carried over from earlier runs, so a fully reconciled
// store reports full coverage even when the pass wrote nothing new.
func (s *RunSummary) Add(p ProjectSummary) {
	s.Projects = append(s.Projects, p)
	s.TotalPlanningAssets += p.TotalPlanningAssets
	s.ExactMatches += p.ExactMatches
	s.SuffixMatches += p.SuffixMatches
	s.ProximityMatches += p.ProximityMatches
	s.LinkedTotal += p.LinkedTotal
	s.AlreadyLinked += p.AlreadyLinked
	s.LinkageRatePercent = Rate(s.LinkedTotal+s.AlreadyLinked, s.TotalPlanningAssets)
}
