package service

import (
	"context"
	"maps"
	"sort"
	"strings"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/storage"
)

type ProjectInput struct {
	ID          string         `json:"project_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

type ProjectPatch struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

// nameTaken must be called with s.mu held.
func (s *Store) nameTaken(name, exceptID string) bool {
	for id, st := range s.projects {
		if id == exceptID {
			continue
		}
		st.mu.RLock()
		taken := strings.EqualFold(st.project.Name, name)
		st.mu.RUnlock()
		if taken {
			return true
		}
	}
	return false
}

func (s *Store) CreateProject(ctx context.Context, in ProjectInput) (*model.Project, error) {
	p, err := s.createProject(ctx, in)
	s.observe("create", model.EntityProject, err)
	return p, err
}

func (s *Store) createProject(ctx context.Context, in ProjectInput) (*model.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("project name is required")
	}
	id := in.ID
	if id == "" {
		id = s.newID()
	}
	if err := checkLocalID(id, "project"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; ok {
		return nil, apperr.Conflict(apperr.ReasonDuplicateID, "project already exists", id)
	}
	if s.nameTaken(name, "") {
		return nil, apperr.Conflict(apperr.ReasonDuplicateID, "project name already exists: "+name)
	}

	now := s.now()
	p := &model.Project{
		ID:          id,
		Name:        name,
		Description: in.Description,
		Metadata:    maps.Clone(in.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	st := newProjectState(p)
	cs := &changeset{project: p}
	cs.event(id, model.EntityProject, id, model.OpCreated, now)

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := s.commit(ctx, st, cs); err != nil {
		return nil, err
	}
	s.projects[id] = st
	return st.snapshotProject(), nil
}

func (s *Store) GetProject(id string) (*model.Project, error) {
	var p *model.Project
	err := s.read(id, func(st *projectState) error {
		p = st.snapshotProject()
		return nil
	})
	return p, err
}

// ListProjects returns every project, oldest first.
func (s *Store) ListProjects() []*model.Project {
	s.mu.RLock()
	states := make([]*projectState, 0, len(s.projects))
	for _, st := range s.projects {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]*model.Project, 0, len(states))
	for _, st := range states {
		st.mu.RLock()
		if !st.deleted {
			out = append(out, st.snapshotProject())
		}
		st.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (*model.Project, error) {
	p, err := s.updateProject(ctx, id, patch)
	s.observe("update", model.EntityProject, err)
	return p, err
}

func (s *Store) updateProject(ctx context.Context, id string, patch ProjectPatch) (*model.Project, error) {
	if patch.Name == nil && patch.Description == nil && patch.Metadata == nil {
		return nil, apperr.Invalid("no fields to update", id)
	}
	var st *projectState
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperr.Invalid("project name is required", id)
		}
		patch.Name = &name
		// renames hold the registry lock so names stay unique
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.nameTaken(name, id) {
			return nil, apperr.Conflict(apperr.ReasonDuplicateID, "project name already exists: "+name)
		}
		st = s.projects[id]
		if st == nil {
			return nil, apperr.NotFound("project not found", id)
		}
	} else {
		var err error
		if st, err = s.state(id); err != nil {
			return nil, err
		}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return nil, apperr.NotFound("project not found", id)
	}
	p := st.project.Clone()
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Metadata != nil {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, len(patch.Metadata))
		}
		maps.Copy(p.Metadata, patch.Metadata)
	}
	p.UpdatedAt = s.now()
	cs := &changeset{project: p}
	cs.event(id, model.EntityProject, id, model.OpUpdated, p.UpdatedAt)
	if err := s.commit(ctx, st, cs); err != nil {
		return nil, err
	}
	return st.snapshotProject(), nil
}

// DeleteProject removes the project with all its requirements and traces in
// one backend transaction.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	err := s.deleteProject(ctx, id)
	s.observe("delete", model.EntityProject, err)
	return err
}

func (s *Store) deleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.projects[id]
	if !ok {
		return apperr.NotFound("project not found", id)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	txCtx, cancel := commitContext(ctx)
	defer cancel()
	err := s.backend.Tx(txCtx, func(tx storage.Tx) error {
		return tx.DeleteProject(id)
	})
	if err != nil {
		return apperr.Transient("delete project", err)
	}
	st.deleted = true
	delete(s.projects, id)
	s.notifier.Publish(model.ChangeEvent{
		ProjectID:  id,
		EntityKind: model.EntityProject,
		EntityID:   id,
		Operation:  model.OpDeleted,
		Timestamp:  s.now(),
	})
	return nil
}
