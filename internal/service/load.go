package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/graph"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/storage"
)

// Load rebuilds every project and its index from the backend. It is meant
// to run once at startup, before the store serves requests. Records that
// break the hierarchy invariants are repaired (dangling parents become
// roots, dangling dependencies and traces are dropped), logged, and the
// repair is written back in one transaction per project.
func (s *Store) Load(ctx context.Context) error {
	recs, err := s.backend.List(ctx, "", storage.KindProject)
	if err != nil {
		return apperr.Transient("list projects", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		var p model.Project
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			return apperr.Internal(fmt.Sprintf("decode project %s", rec.Key.ProjectID), err)
		}
		st := newProjectState(&p)
		repair, err := s.loadProject(ctx, st)
		if err != nil {
			return err
		}
		if len(repair.putReqs) > 0 || len(repair.delTraces) > 0 {
			if err := s.persist(ctx, p.ID, repair); err != nil {
				return err
			}
			s.logger.Info("project repaired", "project_id", p.ID,
				"requirements", len(repair.putReqs), "traces_dropped", len(repair.delTraces))
		}
		s.projects[p.ID] = st
	}
	s.logger.Info("store loaded", "projects", len(s.projects))
	return nil
}

// loadProject fills st from the backend and returns the records it had to
// repair.
func (s *Store) loadProject(ctx context.Context, st *projectState) (*changeset, error) {
	pid := st.project.ID
	repair := &changeset{}
	reqRecs, err := s.backend.List(ctx, pid, storage.KindRequirement)
	if err != nil {
		return nil, apperr.Transient("list requirements", err)
	}
	for _, rec := range reqRecs {
		var r model.Requirement
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return nil, apperr.Internal("decode requirement "+rec.Key.ID, err)
		}
		st.requirements[r.ID] = &r
		st.index.AddRequirement(r.ID, "")
	}

	now := s.now()
	for _, id := range sortedKeys(st.requirements) {
		r := st.requirements[id]
		changed := false
		if r.ParentID != "" {
			if err := st.index.ValidateParentAssignment(id, refOf(pid, r.ParentID)); err != nil {
				s.logger.Warn("dropping invalid parent", "project_id", pid, "requirement_id", id, "parent_id", r.ParentID, "error", err)
				r.AddHistory("repaired", "Dropped invalid parent "+r.ParentID, now)
				r.ParentID = ""
				changed = true
			} else {
				st.index.SetParent(id, r.ParentID)
			}
		}
		kept := make([]string, 0, len(r.Dependencies))
		for _, d := range r.Dependencies {
			if _, ok := st.requirements[d]; ok && d != r.ID {
				kept = append(kept, d)
				continue
			}
			s.logger.Warn("dropping invalid dependency", "project_id", pid, "requirement_id", id, "dependency", d)
			r.AddHistory("repaired", "Dropped invalid dependency "+d, now)
			changed = true
		}
		r.Dependencies = kept
		if changed {
			r.UpdatedAt = now
			repair.putReqs = append(repair.putReqs, r)
		}
	}

	traceRecs, err := s.backend.List(ctx, pid, storage.KindTrace)
	if err != nil {
		return nil, apperr.Transient("list traces", err)
	}
	for _, rec := range traceRecs {
		var t model.Trace
		if err := json.Unmarshal(rec.Data, &t); err != nil {
			return nil, apperr.Internal("decode trace "+rec.Key.ID, err)
		}
		if err := st.index.ValidateTraceEndpoints(refOf(pid, t.SourceID), refOf(pid, t.TargetID)); err != nil {
			s.logger.Warn("dropping invalid trace", "project_id", pid, "trace_id", rec.Key.ID, "error", err)
			repair.delTraces = append(repair.delTraces, rec.Key.ID)
			continue
		}
		st.traces[t.ID] = &t
		st.index.AddTrace(t.ID, t.SourceID, t.TargetID)
	}
	return repair, nil
}

func refOf(projectID, id string) graph.Ref {
	return graph.Ref{ProjectID: projectID, ID: id}
}
