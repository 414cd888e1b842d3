package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/graph"
	"github.com/codeMaster/reqtrace/internal/model"
)

type RequirementInput struct {
	ID           string                `json:"requirement_id"`
	Title        string                `json:"title"`
	Description  string                `json:"description"`
	Type         model.RequirementType `json:"requirement_type"`
	Priority     model.Priority        `json:"priority"`
	Status       model.Status          `json:"status"`
	ParentID     string                `json:"parent_id"`
	Dependencies []string              `json:"dependencies"`
	Tags         []string              `json:"tags"`
	CreatedBy    string                `json:"created_by"`
	Metadata     map[string]any        `json:"metadata"`
}

// RequirementPatch is a partial update; nil fields are left alone. An empty
// ParentID makes the requirement a root.
type RequirementPatch struct {
	Title        *string                `json:"title"`
	Description  *string                `json:"description"`
	Type         *model.RequirementType `json:"requirement_type"`
	Priority     *model.Priority        `json:"priority"`
	Status       *model.Status          `json:"status"`
	ParentID     *string                `json:"parent_id"`
	Dependencies *[]string              `json:"dependencies"`
	Tags         *[]string              `json:"tags"`
	Metadata     map[string]any         `json:"metadata"`
}

func (p RequirementPatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.Type == nil && p.Priority == nil &&
		p.Status == nil && p.ParentID == nil && p.Dependencies == nil && p.Tags == nil && p.Metadata == nil
}

type RequirementFilter struct {
	Status   model.Status
	Type     model.RequirementType
	Priority model.Priority
	Tag      string
}

func (f RequirementFilter) match(r *model.Requirement) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Priority != "" && r.Priority != f.Priority {
		return false
	}
	if f.Tag != "" && !slices.Contains(r.Tags, f.Tag) {
		return false
	}
	return true
}

func checkEnums(t model.RequirementType, p model.Priority, s model.Status, id string) error {
	if !t.Valid() {
		return apperr.Invalid(fmt.Sprintf("unknown requirement_type %q", t), id)
	}
	if !p.Valid() {
		return apperr.Invalid(fmt.Sprintf("unknown priority %q", p), id)
	}
	if !s.Valid() {
		return apperr.Invalid(fmt.Sprintf("unknown status %q", s), id)
	}
	return nil
}

// resolveDependencies checks every dependency against the index and returns
// the local ids in the given order.
func resolveDependencies(ix *graph.Index, selfID string, deps []string) ([]string, error) {
	out := make([]string, 0, len(deps))
	seen := make(map[string]bool, len(deps))
	for _, d := range deps {
		ref, err := parseRef(ix.ProjectID(), d)
		if err != nil {
			return nil, err
		}
		if ref.ProjectID == ix.ProjectID() && ref.ID == selfID {
			return nil, apperr.Conflict(apperr.ReasonInvalidReference, "requirement cannot depend on itself", selfID)
		}
		if err := ix.ValidateReference(ref); err != nil {
			return nil, err
		}
		if seen[ref.ID] {
			return nil, apperr.Invalid("duplicate dependency", ref.ID)
		}
		seen[ref.ID] = true
		out = append(out, ref.ID)
	}
	return out, nil
}

func (s *Store) CreateRequirement(ctx context.Context, projectID string, in RequirementInput) (*model.Requirement, error) {
	var out *model.Requirement
	err := s.write(ctx, projectID, "create", model.EntityRequirement, func(st *projectState) (*changeset, error) {
		r, err := s.buildRequirement(st, in)
		if err != nil {
			return nil, err
		}
		cs := &changeset{putReqs: []*model.Requirement{r}}
		cs.event(projectID, model.EntityRequirement, r.ID, model.OpCreated, r.CreatedAt)
		out = r.Clone()
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) buildRequirement(st *projectState, in RequirementInput) (*model.Requirement, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Invalid("title is required")
	}
	id := in.ID
	if id == "" {
		id = s.newID()
	}
	if err := checkRequirementID(id); err != nil {
		return nil, err
	}
	if _, ok := st.requirements[id]; ok {
		return nil, apperr.Conflict(apperr.ReasonDuplicateID, "requirement already exists", id)
	}
	if in.Type == "" {
		in.Type = model.TypeFunctional
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if in.Status == "" {
		in.Status = model.StatusNew
	}
	if err := checkEnums(in.Type, in.Priority, in.Status, id); err != nil {
		return nil, err
	}

	var parentID string
	if in.ParentID != "" {
		ref, err := parseRef(st.project.ID, in.ParentID)
		if err != nil {
			return nil, err
		}
		if ref.ProjectID == st.project.ID && ref.ID == id {
			return nil, apperr.Conflict(apperr.ReasonCycleDetected, "requirement cannot be its own parent", id)
		}
		if err := st.index.ValidateReference(ref); err != nil {
			return nil, err
		}
		parentID = ref.ID
	}
	deps, err := resolveDependencies(st.index, id, in.Dependencies)
	if err != nil {
		return nil, err
	}

	now := s.now()
	r := &model.Requirement{
		ID:           id,
		ProjectID:    st.project.ID,
		Title:        title,
		Description:  in.Description,
		Type:         in.Type,
		Priority:     in.Priority,
		Status:       in.Status,
		ParentID:     parentID,
		Dependencies: deps,
		Tags:         model.NormalizeTags(in.Tags),
		CreatedBy:    in.CreatedBy,
		Metadata:     maps.Clone(in.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.AddHistory("created", "Requirement created", now)
	return r, nil
}

func (s *Store) GetRequirement(projectID, id string) (*model.Requirement, error) {
	var out *model.Requirement
	err := s.read(projectID, func(st *projectState) error {
		r, ok := st.requirements[id]
		if !ok {
			return apperr.NotFound("requirement not found", id)
		}
		out = r.Clone()
		return nil
	})
	return out, err
}

// ListRequirements returns the matching requirements ordered by id.
func (s *Store) ListRequirements(projectID string, f RequirementFilter) ([]*model.Requirement, error) {
	var out []*model.Requirement
	err := s.read(projectID, func(st *projectState) error {
		out = make([]*model.Requirement, 0, len(st.requirements))
		for _, id := range sortedKeys(st.requirements) {
			if r := st.requirements[id]; f.match(r) {
				out = append(out, r.Clone())
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) UpdateRequirement(ctx context.Context, projectID, id string, patch RequirementPatch) (*model.Requirement, error) {
	var out *model.Requirement
	err := s.write(ctx, projectID, "update", model.EntityRequirement, func(st *projectState) (*changeset, error) {
		cur, ok := st.requirements[id]
		if !ok {
			return nil, apperr.NotFound("requirement not found", id)
		}
		if patch.empty() {
			return nil, apperr.Invalid("no fields to update", id)
		}
		r := cur.Clone()
		var changed []string

		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return nil, apperr.Invalid("title is required", id)
			}
			r.Title = title
			changed = append(changed, "title")
		}
		if patch.Description != nil {
			r.Description = *patch.Description
			changed = append(changed, "description")
		}
		if patch.Type != nil {
			r.Type = *patch.Type
			changed = append(changed, "requirement_type")
		}
		if patch.Priority != nil {
			r.Priority = *patch.Priority
			changed = append(changed, "priority")
		}
		if patch.Status != nil {
			r.Status = *patch.Status
			changed = append(changed, "status")
		}
		if err := checkEnums(r.Type, r.Priority, r.Status, id); err != nil {
			return nil, err
		}
		if patch.ParentID != nil {
			var ref graph.Ref
			if *patch.ParentID != "" {
				var err error
				if ref, err = parseRef(projectID, *patch.ParentID); err != nil {
					return nil, err
				}
			}
			if err := st.index.ValidateParentAssignment(id, ref); err != nil {
				return nil, err
			}
			r.ParentID = ref.ID
			changed = append(changed, "parent_id")
		}
		if patch.Dependencies != nil {
			deps, err := resolveDependencies(st.index, id, *patch.Dependencies)
			if err != nil {
				return nil, err
			}
			r.Dependencies = deps
			changed = append(changed, "dependencies")
		}
		if patch.Tags != nil {
			r.Tags = model.NormalizeTags(*patch.Tags)
			changed = append(changed, "tags")
		}
		if patch.Metadata != nil {
			if r.Metadata == nil {
				r.Metadata = make(map[string]any, len(patch.Metadata))
			}
			maps.Copy(r.Metadata, patch.Metadata)
			changed = append(changed, "metadata")
		}

		r.UpdatedAt = s.now()
		r.AddHistory("updated", "Updated "+strings.Join(changed, ", "), r.UpdatedAt)
		cs := &changeset{putReqs: []*model.Requirement{r}}
		cs.event(projectID, model.EntityRequirement, id, model.OpUpdated, r.UpdatedAt)
		out = r.Clone()
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dependents lists what still refers to a requirement.
type Dependents struct {
	Children   []string `json:"children"`
	Dependents []string `json:"dependents"`
	Traces     []string `json:"traces"`
}

func (d Dependents) empty() bool {
	return len(d.Children) == 0 && len(d.Dependents) == 0 && len(d.Traces) == 0
}

func (d Dependents) ids() []string {
	out := slices.Concat(d.Children, d.Dependents, d.Traces)
	slices.Sort(out)
	return slices.Compact(out)
}

func dependentsOf(st *projectState, id string) Dependents {
	d := Dependents{
		Children:   st.index.Children(id),
		Dependents: []string{},
		Traces:     st.index.TracesOf(id),
	}
	for _, rid := range sortedKeys(st.requirements) {
		if st.requirements[rid].DependsOn(id) {
			d.Dependents = append(d.Dependents, rid)
		}
	}
	return d
}

// DeleteRequirement refuses while children, dependents or traces still name
// the requirement. With cascade, children move to the deleted requirement's
// parent (or become roots), dependency entries are dropped and touching
// traces are deleted, all in the same transaction.
func (s *Store) DeleteRequirement(ctx context.Context, projectID, id string, cascade bool) error {
	return s.write(ctx, projectID, "delete", model.EntityRequirement, func(st *projectState) (*changeset, error) {
		victim, ok := st.requirements[id]
		if !ok {
			return nil, apperr.NotFound("requirement not found", id)
		}
		deps := dependentsOf(st, id)
		if !deps.empty() && !cascade {
			return nil, apperr.Conflict(apperr.ReasonHasDependents,
				"requirement is still referenced; delete with cascade to re-parent", append([]string{id}, deps.ids()...)...)
		}

		now := s.now()
		cs := &changeset{delReqs: []string{id}, delTraces: deps.Traces}
		cs.event(projectID, model.EntityRequirement, id, model.OpDeleted, now)

		touched := make(map[string]*model.Requirement)
		get := func(rid string) *model.Requirement {
			if r, ok := touched[rid]; ok {
				return r
			}
			r := st.requirements[rid].Clone()
			touched[rid] = r
			return r
		}
		for _, c := range deps.Children {
			r := get(c)
			r.ParentID = victim.ParentID
			dest := victim.ParentID
			if dest == "" {
				dest = graph.RootKey
			}
			r.AddHistory("reparented", fmt.Sprintf("Parent %s deleted; moved to %s", id, dest), now)
		}
		for _, d := range deps.Dependents {
			r := get(d)
			r.Dependencies = slices.DeleteFunc(r.Dependencies, func(x string) bool { return x == id })
			r.AddHistory("updated", fmt.Sprintf("Dependency %s deleted", id), now)
		}
		for _, rid := range sortedKeys(touched) {
			r := touched[rid]
			r.UpdatedAt = now
			cs.putReqs = append(cs.putReqs, r)
			cs.event(projectID, model.EntityRequirement, rid, model.OpUpdated, now)
		}
		for _, tid := range deps.Traces {
			cs.event(projectID, model.EntityTrace, tid, model.OpDeleted, now)
		}
		return cs, nil
	})
}

// AttachValidation stores report as the requirement's latest validation and
// logs it in the history.
func (s *Store) AttachValidation(ctx context.Context, projectID, id string, report model.ValidationReport) (*model.Requirement, error) {
	var out *model.Requirement
	err := s.write(ctx, projectID, "validate", model.EntityRequirement, func(st *projectState) (*changeset, error) {
		cur, ok := st.requirements[id]
		if !ok {
			return nil, apperr.NotFound("requirement not found", id)
		}
		r := s.withReport(cur, report)
		cs := &changeset{putReqs: []*model.Requirement{r}}
		cs.event(projectID, model.EntityRequirement, id, model.OpUpdated, r.UpdatedAt)
		out = r.Clone()
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) withReport(cur *model.Requirement, report model.ValidationReport) *model.Requirement {
	r := cur.Clone()
	now := s.now()
	report = report.Clone()
	if report.ValidatedAt.IsZero() {
		report.ValidatedAt = now
	}
	r.LastValidation = &report
	r.UpdatedAt = now
	verdict := "failed"
	if report.Passed {
		verdict = "passed"
	}
	r.AddHistory("validated", fmt.Sprintf("Validation score %.3f (%s, %d issues)", report.Score, verdict, len(report.Issues)), now)
	return r
}
