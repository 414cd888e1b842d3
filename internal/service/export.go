package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/graph"
	"github.com/codeMaster/reqtrace/internal/model"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

// Export sections; none selected means all.
const (
	SectionMetadata     = "metadata"
	SectionRequirements = "requirements"
	SectionTraces       = "traces"
)

// Snapshot is the portable form of one project.
type Snapshot struct {
	Project      *model.Project       `json:"project" yaml:"project"`
	Requirements []*model.Requirement `json:"requirements" yaml:"requirements"`
	Traces       []*model.Trace       `json:"traces" yaml:"traces"`
	Hierarchy    map[string][]string  `json:"hierarchy,omitempty" yaml:"hierarchy,omitempty"`
	ExportedAt   time.Time            `json:"exported_at" yaml:"exported_at"`
}

type ExportOptions struct {
	Format   string
	Sections []string
}

func (o ExportOptions) want(section string) bool {
	return len(o.Sections) == 0 || slices.Contains(o.Sections, section)
}

// Snapshot copies the project under its read lock.
func (s *Store) Snapshot(projectID string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.read(projectID, func(st *projectState) error {
		snap = &Snapshot{
			Project:      st.snapshotProject(),
			Requirements: make([]*model.Requirement, 0, len(st.requirements)),
			Traces:       make([]*model.Trace, 0, len(st.traces)),
			Hierarchy:    st.index.Hierarchy(),
			ExportedAt:   s.now(),
		}
		for _, id := range sortedKeys(st.requirements) {
			snap.Requirements = append(snap.Requirements, st.requirements[id].Clone())
		}
		for _, id := range sortedKeys(st.traces) {
			snap.Traces = append(snap.Traces, st.traces[id].Clone())
		}
		return nil
	})
	return snap, err
}

// Export renders the project and returns the document with its content type.
func (s *Store) Export(projectID string, opts ExportOptions) ([]byte, string, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = FormatJSON
	}
	switch format {
	case FormatJSON, FormatYAML, FormatMarkdown:
	default:
		return nil, "", apperr.Invalid("unsupported export format: " + opts.Format)
	}
	snap, err := s.Snapshot(projectID)
	if err != nil {
		return nil, "", err
	}
	if !opts.want(SectionRequirements) {
		snap.Requirements = []*model.Requirement{}
		snap.Hierarchy = nil
	}
	if !opts.want(SectionTraces) {
		snap.Traces = []*model.Trace{}
	}
	if !opts.want(SectionMetadata) {
		snap.Project.Metadata = nil
	}

	switch format {
	case FormatYAML:
		data, err := yaml.Marshal(snap)
		if err != nil {
			return nil, "", apperr.Internal("encode yaml", err)
		}
		return data, "application/yaml", nil
	case FormatMarkdown:
		return []byte(renderMarkdown(snap, opts)), "text/markdown; charset=utf-8", nil
	default:
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return nil, "", apperr.Internal("encode json", err)
		}
		return data, "application/json", nil
	}
}

var typeHeadings = []struct {
	t     model.RequirementType
	title string
}{
	{model.TypeFunctional, "Functional"},
	{model.TypeNonFunctional, "Non-Functional"},
	{model.TypeConstraint, "Constraint"},
}

func renderMarkdown(snap *Snapshot, opts ExportOptions) string {
	var b strings.Builder
	p := snap.Project
	fmt.Fprintf(&b, "# %s\n\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Description)
	}

	if opts.want(SectionMetadata) {
		b.WriteString("## Project Metadata\n\n")
		fmt.Fprintf(&b, "- **Project ID:** %s\n", p.ID)
		fmt.Fprintf(&b, "- **Created:** %s\n", p.CreatedAt.Format(time.DateTime))
		fmt.Fprintf(&b, "- **Last Updated:** %s\n", p.UpdatedAt.Format(time.DateTime))
		fmt.Fprintf(&b, "- **Requirements:** %d\n", p.RequirementCount)
		if len(p.Metadata) > 0 {
			b.WriteString("- **Custom Metadata:**\n")
			for _, k := range sortedKeys(p.Metadata) {
				fmt.Fprintf(&b, "  - **%s:** %v\n", k, p.Metadata[k])
			}
		}
		b.WriteString("\n")
	}

	titles := make(map[string]string, len(snap.Requirements))
	for _, r := range snap.Requirements {
		titles[r.ID] = r.Title
	}

	if opts.want(SectionRequirements) {
		b.WriteString("## Requirements\n\n")
		for _, h := range typeHeadings {
			var group []*model.Requirement
			for _, r := range snap.Requirements {
				if r.Type == h.t {
					group = append(group, r)
				}
			}
			if len(group) == 0 {
				continue
			}
			fmt.Fprintf(&b, "### %s Requirements\n\n", h.title)
			for _, r := range group {
				fmt.Fprintf(&b, "#### %s (ID: %s)\n\n", r.Title, r.ID)
				if r.Description != "" {
					fmt.Fprintf(&b, "%s\n\n", r.Description)
				}
				fmt.Fprintf(&b, "- **Status:** %s\n", r.Status)
				fmt.Fprintf(&b, "- **Priority:** %s\n", r.Priority)
				if r.ParentID != "" {
					fmt.Fprintf(&b, "- **Parent:** %s\n", r.ParentID)
				}
				if len(r.Tags) > 0 {
					fmt.Fprintf(&b, "- **Tags:** %s\n", strings.Join(r.Tags, ", "))
				}
				if len(r.Dependencies) > 0 {
					fmt.Fprintf(&b, "- **Dependencies:** %s\n", strings.Join(r.Dependencies, ", "))
				}
				if v := r.LastValidation; v != nil {
					fmt.Fprintf(&b, "- **Validation:** %.2f (%d issues)\n", v.Score, len(v.Issues))
				}
				b.WriteString("\n")
			}
		}
	}

	if opts.want(SectionTraces) && len(snap.Traces) > 0 {
		b.WriteString("## Requirement Traces\n\n")
		for _, t := range snap.Traces {
			fmt.Fprintf(&b, "- **%s:** %s → %s\n", t.TraceType, titleOr(titles, t.SourceID), titleOr(titles, t.TargetID))
			if t.Description != "" {
				fmt.Fprintf(&b, "  - %s\n", t.Description)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func titleOr(titles map[string]string, id string) string {
	if t, ok := titles[id]; ok {
		return t
	}
	return "Unknown (" + id + ")"
}

type ImportOptions struct {
	// ProjectID of the new project; generated when empty.
	ProjectID string
	// Name overrides the snapshot's project name.
	Name string
}

type ImportResult struct {
	Project      *model.Project `json:"project"`
	Requirements int            `json:"imported_requirements"`
	Traces       int            `json:"imported_traces"`
}

// Import creates a new project from a JSON snapshot. Every requirement and
// trace is checked against the same invariants as individual writes, and
// the project is stored in one transaction or not at all.
func (s *Store) Import(ctx context.Context, data []byte, opts ImportOptions) (*ImportResult, error) {
	res, err := s.importSnapshot(ctx, data, opts)
	s.observe("import", model.EntityProject, err)
	return res, err
}

func (s *Store) importSnapshot(ctx context.Context, data []byte, opts ImportOptions) (*ImportResult, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperr.Invalid("malformed snapshot: " + err.Error())
	}
	if snap.Project == nil {
		return nil, apperr.Invalid("snapshot has no project")
	}
	name := strings.TrimSpace(snap.Project.Name)
	if opts.Name != "" {
		name = strings.TrimSpace(opts.Name)
	}
	if name == "" {
		return nil, apperr.Invalid("project name is required")
	}
	id := opts.ProjectID
	if id == "" {
		id = s.newID()
	}
	if err := checkLocalID(id, "project"); err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Project{
		ID:          id,
		Name:        name,
		Description: snap.Project.Description,
		Metadata:    snap.Project.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	cs := &changeset{project: p}
	cs.event(id, model.EntityProject, id, model.OpCreated, now)
	if err := s.buildImport(cs, &snap, now); err != nil {
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
	st := newProjectState(p)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := s.commit(ctx, st, cs); err != nil {
		return nil, err
	}
	s.projects[id] = st
	return &ImportResult{Project: st.snapshotProject(), Requirements: len(cs.putReqs), Traces: len(cs.putTraces)}, nil
}

// buildImport validates the snapshot on a scratch index and fills cs.
func (s *Store) buildImport(cs *changeset, snap *Snapshot, now time.Time) error {
	projectID := cs.project.ID
	ix := graph.New(projectID)
	reqs := make(map[string]*model.Requirement, len(snap.Requirements))

	for _, in := range snap.Requirements {
		if in == nil || in.ID == "" {
			return apperr.Invalid("snapshot requirement without id")
		}
		if err := checkRequirementID(in.ID); err != nil {
			return err
		}
		if _, dup := reqs[in.ID]; dup {
			return apperr.Conflict(apperr.ReasonDuplicateID, "duplicate requirement in snapshot", in.ID)
		}
		if strings.TrimSpace(in.Title) == "" {
			return apperr.Invalid("title is required", in.ID)
		}
		r := in.Clone()
		r.ProjectID = projectID
		if r.Type == "" {
			r.Type = model.TypeFunctional
		}
		if r.Priority == "" {
			r.Priority = model.PriorityMedium
		}
		if r.Status == "" {
			r.Status = model.StatusNew
		}
		if err := checkEnums(r.Type, r.Priority, r.Status, r.ID); err != nil {
			return err
		}
		r.Tags = model.NormalizeTags(r.Tags)
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		r.AddHistory("imported", "Imported into project "+projectID, now)
		reqs[r.ID] = r
		ix.AddRequirement(r.ID, "")
	}

	for _, id := range sortedKeys(reqs) {
		r := reqs[id]
		if r.ParentID != "" {
			ref, err := parseRef(projectID, r.ParentID)
			if err != nil {
				return err
			}
			if err := ix.ValidateParentAssignment(id, ref); err != nil {
				return err
			}
			ix.SetParent(id, ref.ID)
			r.ParentID = ref.ID
		}
		deps, err := resolveDependencies(ix, id, r.Dependencies)
		if err != nil {
			return err
		}
		r.Dependencies = deps
		cs.putReqs = append(cs.putReqs, r)
		cs.event(projectID, model.EntityRequirement, id, model.OpCreated, now)
	}

	seen := make(map[string]bool, len(snap.Traces))
	for _, in := range snap.Traces {
		if in == nil || in.ID == "" {
			return apperr.Invalid("snapshot trace without id")
		}
		if err := checkLocalID(in.ID, "trace"); err != nil {
			return err
		}
		if seen[in.ID] {
			return apperr.Conflict(apperr.ReasonDuplicateID, "duplicate trace in snapshot", in.ID)
		}
		seen[in.ID] = true
		if strings.TrimSpace(in.TraceType) == "" {
			return apperr.Invalid("trace_type is required", in.ID)
		}
		src, err := parseRef(projectID, in.SourceID)
		if err != nil {
			return err
		}
		dst, err := parseRef(projectID, in.TargetID)
		if err != nil {
			return err
		}
		if err := ix.ValidateTraceEndpoints(src, dst); err != nil {
			return err
		}
		t := in.Clone()
		t.ProjectID = projectID
		t.SourceID, t.TargetID = src.ID, dst.ID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		ix.AddTrace(t.ID, t.SourceID, t.TargetID)
		cs.putTraces = append(cs.putTraces, t)
		cs.event(projectID, model.EntityTrace, t.ID, model.OpCreated, now)
	}
	return nil
}
