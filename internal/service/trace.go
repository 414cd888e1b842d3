package service

import (
	"context"
	"maps"
	"strings"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/model"
)

type TraceInput struct {
	ID          string         `json:"trace_id"`
	SourceID    string         `json:"source_id"`
	TargetID    string         `json:"target_id"`
	TraceType   string         `json:"trace_type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

type TracePatch struct {
	TraceType   *string        `json:"trace_type"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Store) CreateTrace(ctx context.Context, projectID string, in TraceInput) (*model.Trace, error) {
	var out *model.Trace
	err := s.write(ctx, projectID, "create", model.EntityTrace, func(st *projectState) (*changeset, error) {
		t, err := s.buildTrace(st, in)
		if err != nil {
			return nil, err
		}
		cs := &changeset{putTraces: []*model.Trace{t}}
		cs.event(projectID, model.EntityTrace, t.ID, model.OpCreated, t.CreatedAt)
		out = t.Clone()
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) buildTrace(st *projectState, in TraceInput) (*model.Trace, error) {
	traceType := strings.TrimSpace(in.TraceType)
	if traceType == "" {
		return nil, apperr.Invalid("trace_type is required")
	}
	if in.SourceID == "" || in.TargetID == "" {
		return nil, apperr.Invalid("source_id and target_id are required")
	}
	id := in.ID
	if id == "" {
		id = s.newID()
	}
	if err := checkLocalID(id, "trace"); err != nil {
		return nil, err
	}
	if _, ok := st.traces[id]; ok {
		return nil, apperr.Conflict(apperr.ReasonDuplicateID, "trace already exists", id)
	}
	src, err := parseRef(st.project.ID, in.SourceID)
	if err != nil {
		return nil, err
	}
	dst, err := parseRef(st.project.ID, in.TargetID)
	if err != nil {
		return nil, err
	}
	if err := st.index.ValidateTraceEndpoints(src, dst); err != nil {
		return nil, err
	}
	now := s.now()
	return &model.Trace{
		ID:          id,
		ProjectID:   st.project.ID,
		SourceID:    src.ID,
		TargetID:    dst.ID,
		TraceType:   traceType,
		Description: in.Description,
		Metadata:    maps.Clone(in.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Store) GetTrace(projectID, id string) (*model.Trace, error) {
	var out *model.Trace
	err := s.read(projectID, func(st *projectState) error {
		t, ok := st.traces[id]
		if !ok {
			return apperr.NotFound("trace not found", id)
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

// ListTraces returns the project's traces ordered by id. A non-empty
// requirementID keeps only traces touching it, from either end.
func (s *Store) ListTraces(projectID, requirementID string) ([]*model.Trace, error) {
	var out []*model.Trace
	err := s.read(projectID, func(st *projectState) error {
		if requirementID != "" {
			if _, ok := st.requirements[requirementID]; !ok {
				return apperr.NotFound("requirement not found", requirementID)
			}
			ids := st.index.TracesOf(requirementID)
			out = make([]*model.Trace, 0, len(ids))
			for _, id := range ids {
				out = append(out, st.traces[id].Clone())
			}
			return nil
		}
		out = make([]*model.Trace, 0, len(st.traces))
		for _, id := range sortedKeys(st.traces) {
			out = append(out, st.traces[id].Clone())
		}
		return nil
	})
	return out, err
}

// UpdateTrace changes the classification or description; endpoints are fixed
// for the life of a trace.
func (s *Store) UpdateTrace(ctx context.Context, projectID, id string, patch TracePatch) (*model.Trace, error) {
	var out *model.Trace
	err := s.write(ctx, projectID, "update", model.EntityTrace, func(st *projectState) (*changeset, error) {
		cur, ok := st.traces[id]
		if !ok {
			return nil, apperr.NotFound("trace not found", id)
		}
		if patch.TraceType == nil && patch.Description == nil && patch.Metadata == nil {
			return nil, apperr.Invalid("no fields to update", id)
		}
		t := cur.Clone()
		if patch.TraceType != nil {
			tt := strings.TrimSpace(*patch.TraceType)
			if tt == "" {
				return nil, apperr.Invalid("trace_type is required", id)
			}
			t.TraceType = tt
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Metadata != nil {
			if t.Metadata == nil {
				t.Metadata = make(map[string]any, len(patch.Metadata))
			}
			maps.Copy(t.Metadata, patch.Metadata)
		}
		t.UpdatedAt = s.now()
		cs := &changeset{putTraces: []*model.Trace{t}}
		cs.event(projectID, model.EntityTrace, id, model.OpUpdated, t.UpdatedAt)
		out = t.Clone()
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteTrace(ctx context.Context, projectID, id string) error {
	return s.write(ctx, projectID, "delete", model.EntityTrace, func(st *projectState) (*changeset, error) {
		if _, ok := st.traces[id]; !ok {
			return nil, apperr.NotFound("trace not found", id)
		}
		cs := &changeset{delTraces: []string{id}}
		cs.event(projectID, model.EntityTrace, id, model.OpDeleted, s.now())
		return cs, nil
	})
}
