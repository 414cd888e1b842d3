// Package storage is the keyed persistence boundary of the entity store.
// Entities are opaque JSON documents addressed by (project, kind, id);
// multi-key writes go through Tx and commit all-or-nothing.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("storage: record not found")

type Kind string

const (
	KindProject     Kind = "project"
	KindRequirement Kind = "requirement"
	KindTrace       Kind = "trace"
)

type Key struct {
	ProjectID string
	Kind      Kind
	ID        string
}

type Record struct {
	Key  Key
	Data []byte
}

// Tx collects writes that commit together.
type Tx interface {
	Put(key Key, data []byte) error
	Delete(key Key) error
	// DeleteProject removes every record stored under projectID.
	DeleteProject(projectID string) error
}

type Backend interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	// List returns the records of one kind under projectID ordered by id.
	// Projects are stored under their own id, so listing all projects
	// passes an empty projectID with KindProject.
	List(ctx context.Context, projectID string, kind Kind) ([]Record, error)
	Tx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
