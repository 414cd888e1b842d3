package model

import (
	"slices"
	"time"
)

// Criteria toggles the quality checks of a validation run.
type Criteria struct {
	Completeness  bool `json:"check_completeness" yaml:"check_completeness"`
	Verifiability bool `json:"check_verifiability" yaml:"check_verifiability"`
	Clarity       bool `json:"check_clarity" yaml:"check_clarity"`
}

func DefaultCriteria() Criteria {
	return Criteria{Completeness: true, Verifiability: true, Clarity: true}
}

// Issue names the criterion that raised it in Type.
type Issue struct {
	Type       string `json:"type" yaml:"type"`
	Message    string `json:"message" yaml:"message"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// ValidationReport is derived data; it never feeds back into graph state.
type ValidationReport struct {
	Score       float64   `json:"score" yaml:"score"`
	Passed      bool      `json:"passed" yaml:"passed"`
	Issues      []Issue   `json:"issues" yaml:"issues"`
	Criteria    Criteria  `json:"criteria" yaml:"criteria"`
	ValidatedAt time.Time `json:"validated_at,omitzero" yaml:"validated_at,omitempty"`
}

func (v ValidationReport) Clone() ValidationReport {
	v.Issues = slices.Clone(v.Issues)
	return v
}

// ValidationSummary aggregates a project-wide run.
type ValidationSummary struct {
	Total          int            `json:"total_requirements"`
	Passed         int            `json:"passed"`
	Failed         int            `json:"failed"`
	PassPercentage float64        `json:"pass_percentage"`
	IssuesByType   map[string]int `json:"issues_by_type"`
	Readiness      Readiness      `json:"readiness"`
}

// Readiness says whether a project's requirements are good enough to plan from.
type Readiness string

const (
	ReadinessReady           Readiness = "ready"
	ReadinessNeedsRefinement Readiness = "needs_refinement"
)

// ReadyPercentage is the share of passing requirements a project needs to be ready.
const ReadyPercentage = 70.0

// RequirementValidation pairs a requirement with its report in a project run.
type RequirementValidation struct {
	RequirementID string           `json:"requirement_id"`
	Title         string           `json:"title"`
	Report        ValidationReport `json:"report"`
}
