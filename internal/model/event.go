package model

import "time"

type EntityKind string

const (
	EntityProject     EntityKind = "project"
	EntityRequirement EntityKind = "requirement"
	EntityTrace       EntityKind = "trace"
)

type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

// ChangeEvent describes one committed mutation. Seq is assigned by the hub
// and increases by one per published event within a project.
type ChangeEvent struct {
	ProjectID  string     `json:"project_id"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	Operation  Operation  `json:"operation"`
	Timestamp  time.Time  `json:"timestamp"`
	Seq        uint64     `json:"seq"`
}
