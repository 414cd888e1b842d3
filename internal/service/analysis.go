package service

import (
	"slices"
	"time"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/graph"
	"github.com/codeMaster/reqtrace/internal/metrics"
	"github.com/codeMaster/reqtrace/internal/model"
)

// Graph queries materialize their results under the read lock so callers
// never iterate an index that a writer is changing.

func (s *Store) query(name, projectID, id string, fn func(st *projectState) error) error {
	start := time.Now()
	defer func() {
		metrics.GraphQueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	return s.read(projectID, func(st *projectState) error {
		if id != "" && !st.index.Has(id) {
			return apperr.NotFound("requirement not found", id)
		}
		return fn(st)
	})
}

func (s *Store) Ancestors(projectID, id string) ([]string, error) {
	var out []string
	err := s.query("ancestors", projectID, id, func(st *projectState) error {
		out = slices.Collect(st.index.Ancestors(id))
		if out == nil {
			out = []string{}
		}
		return nil
	})
	return out, err
}

func (s *Store) Descendants(projectID, id string) ([]string, error) {
	var out []string
	err := s.query("descendants", projectID, id, func(st *projectState) error {
		out = slices.Collect(st.index.Descendants(id))
		if out == nil {
			out = []string{}
		}
		return nil
	})
	return out, err
}

func (s *Store) Children(projectID, id string) ([]*model.Requirement, error) {
	var out []*model.Requirement
	err := s.query("children", projectID, id, func(st *projectState) error {
		ids := st.index.Children(id)
		out = make([]*model.Requirement, 0, len(ids))
		for _, c := range ids {
			out = append(out, st.requirements[c].Clone())
		}
		return nil
	})
	return out, err
}

// Hierarchy maps each parent id to its ordered child ids; top-level
// requirements are listed under graph.RootKey.
func (s *Store) Hierarchy(projectID string) (map[string][]string, error) {
	var out map[string][]string
	err := s.query("hierarchy", projectID, "", func(st *projectState) error {
		out = st.index.Hierarchy()
		return nil
	})
	return out, err
}

// Impact answers what a change to id may affect within hops trace steps.
func (s *Store) Impact(projectID, id string, hops int) (graph.Impact, error) {
	var out graph.Impact
	err := s.query("impact", projectID, id, func(st *projectState) error {
		out = st.index.ImpactSet(id, hops)
		return nil
	})
	return out, err
}

// Dependents reports what currently refers to id.
func (s *Store) Dependents(projectID, id string) (Dependents, error) {
	var out Dependents
	err := s.query("dependents", projectID, id, func(st *projectState) error {
		out = dependentsOf(st, id)
		return nil
	})
	return out, err
}
