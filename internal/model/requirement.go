package model

import (
	"maps"
	"slices"
	"sort"
	"time"
)

type RequirementType string

const (
	TypeFunctional    RequirementType = "functional"
	TypeNonFunctional RequirementType = "non-functional"
	TypeConstraint    RequirementType = "constraint"
)

func (t RequirementType) Valid() bool {
	switch t {
	case TypeFunctional, TypeNonFunctional, TypeConstraint:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities: critical > high > medium > low. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// HistoryEntry is one line of a requirement's append-only log.
type HistoryEntry struct {
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

type Requirement struct {
	ID             string            `json:"requirement_id" yaml:"requirement_id"`
	ProjectID      string            `json:"project_id" yaml:"project_id"`
	Title          string            `json:"title" yaml:"title"`
	Description    string            `json:"description" yaml:"description"`
	Type           RequirementType   `json:"requirement_type" yaml:"requirement_type"`
	Priority       Priority          `json:"priority" yaml:"priority"`
	Status         Status            `json:"status" yaml:"status"`
	ParentID       string            `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Dependencies   []string          `json:"dependencies" yaml:"dependencies"`
	Tags           []string          `json:"tags" yaml:"tags"`
	CreatedBy      string            `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	History        []HistoryEntry    `json:"history" yaml:"history"`
	LastValidation *ValidationReport `json:"last_validation,omitempty" yaml:"last_validation,omitempty"`
	CreatedAt      time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so callers never share slices or maps with the store.
func (r *Requirement) Clone() *Requirement {
	if r == nil {
		return nil
	}
	c := *r
	c.Dependencies = slices.Clone(r.Dependencies)
	c.Tags = slices.Clone(r.Tags)
	c.History = slices.Clone(r.History)
	c.Metadata = maps.Clone(r.Metadata)
	if r.LastValidation != nil {
		v := r.LastValidation.Clone()
		c.LastValidation = &v
	}
	return &c
}

// AddHistory appends an entry to the log.
func (r *Requirement) AddHistory(action, description string, at time.Time) {
	r.History = append(r.History, HistoryEntry{Action: action, Description: description, Timestamp: at})
}

// DependsOn reports whether id is in the requirement's dependency list.
func (r *Requirement) DependsOn(id string) bool {
	return slices.Contains(r.Dependencies, id)
}

// NormalizeTags returns the tag set sorted and de-duplicated, without empty entries.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
