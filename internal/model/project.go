package model

import (
	"maps"
	"time"
)

// Project owns its requirements and traces exclusively.
type Project struct {
	ID               string         `json:"project_id" yaml:"project_id"`
	Name             string         `json:"name" yaml:"name"`
	Description      string         `json:"description" yaml:"description"`
	Metadata         map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	RequirementCount int            `json:"requirement_count" yaml:"-"`
	CreatedAt        time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" yaml:"updated_at"`
}

func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.Metadata = maps.Clone(p.Metadata)
	return &c
}

// Trace is a typed directed link between two requirements of one project.
type Trace struct {
	ID          string         `json:"trace_id" yaml:"trace_id"`
	ProjectID   string         `json:"project_id" yaml:"project_id"`
	SourceID    string         `json:"source_id" yaml:"source_id"`
	TargetID    string         `json:"target_id" yaml:"target_id"`
	TraceType   string         `json:"trace_type" yaml:"trace_type"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"updated_at"`
}

func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

// Touches reports whether id is either endpoint of the trace.
func (t *Trace) Touches(id string) bool {
	return t.SourceID == id || t.TargetID == id
}
