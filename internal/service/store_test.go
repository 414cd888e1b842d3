package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/notify"
	"github.com/codeMaster/reqtrace/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *Store
	events  *notify.Recorder
	backend *storage.Memory
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	var tick, ids int
	f := &fixture{events: &notify.Recorder{}, backend: storage.NewMemory()}
	o := Options{
		Backend:  f.backend,
		Notifier: f.events,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			ids++
			return fmt.Sprintf("gen-%d", ids)
		},
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.store = NewStore(o)
	return f
}

func (f *fixture) project(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.CreateProject(context.Background(), ProjectInput{ID: id, Name: "Project " + id})
	require.NoError(t, err)
}

func (f *fixture) req(t *testing.T, project, id, parent string, deps ...string) *model.Requirement {
	t.Helper()
	r, err := f.store.CreateRequirement(context.Background(), project, RequirementInput{
		ID:           id,
		Title:        "Requirement " + id,
		Description:  "The system shall do " + id,
		ParentID:     parent,
		Dependencies: deps,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) trace(t *testing.T, project, id, src, dst string) {
	t.Helper()
	_, err := f.store.CreateTrace(context.Background(), project, TraceInput{ID: id, SourceID: src, TargetID: dst, TraceType: "derives"})
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

func TestScenario_CycleThenCascadeDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "A", "")
	f.req(t, "P1", "B", "A")

	_, err := f.store.UpdateRequirement(ctx, "P1", "A", RequirementPatch{ParentID: ptr("B")})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrCycleDetected)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	err = f.store.DeleteRequirement(ctx, "P1", "A", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrHasDependents)
	assert.Contains(t, apperr.IDsOf(err), "B")

	require.NoError(t, f.store.DeleteRequirement(ctx, "P1", "A", true))

	b, err := f.store.GetRequirement("P1", "B")
	require.NoError(t, err)
	assert.Empty(t, b.ParentID)
	assert.Equal(t, "reparented", b.History[len(b.History)-1].Action)

	_, err = f.store.GetRequirement("P1", "A")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	h, err := f.store.Hierarchy("P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, h["root"])
}

func TestCascadeDelete_ReparentsAndDetaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "G", "")
	f.req(t, "P1", "A", "G")
	f.req(t, "P1", "B", "A")
	f.req(t, "P1", "C", "A")
	f.req(t, "P1", "D", "", "A")
	f.trace(t, "P1", "T1", "A", "D")
	f.trace(t, "P1", "T2", "D", "G")

	err := f.store.DeleteRequirement(ctx, "P1", "A", false)
	assert.ErrorIs(t, err, apperr.ErrHasDependents)
	assert.Equal(t, []string{"A", "B", "C", "D", "T1"}, apperr.IDsOf(err))

	f.events.Reset()
	require.NoError(t, f.store.DeleteRequirement(ctx, "P1", "A", true))

	children, err := f.store.Children("P1", "G")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "B", children[0].ID)
	assert.Equal(t, "C", children[1].ID)

	d, err := f.store.GetRequirement("P1", "D")
	require.NoError(t, err)
	assert.Empty(t, d.Dependencies)

	_, err = f.store.GetTrace("P1", "T1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.store.GetTrace("P1", "T2")
	assert.NoError(t, err)

	var kinds []string
	for _, ev := range f.events.Events() {
		kinds = append(kinds, fmt.Sprintf("%s:%s:%s", ev.EntityKind, ev.EntityID, ev.Operation))
	}
	assert.Equal(t, []string{
		"requirement:A:deleted",
		"requirement:B:updated",
		"requirement:C:updated",
		"requirement:D:updated",
		"trace:T1:deleted",
	}, kinds)
}

func TestParentAssignment_DescendantAlwaysCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "R", "")
	f.req(t, "P1", "C1", "R")
	f.req(t, "P1", "C2", "R")
	f.req(t, "P1", "G1", "C1")
	f.req(t, "P1", "G2", "G1")

	desc, err := f.store.Descendants("P1", "R")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2", "G1", "G2"}, desc)
	for _, d := range append(desc, "R") {
		_, err := f.store.UpdateRequirement(ctx, "P1", "R", RequirementPatch{ParentID: ptr(d)})
		assert.ErrorIs(t, err, apperr.ErrCycleDetected, d)
	}

	anc, err := f.store.Ancestors("P1", "G2")
	require.NoError(t, err)
	assert.Equal(t, []string{"G1", "C1", "R"}, anc)

	// moving to a sibling subtree is fine
	r, err := f.store.UpdateRequirement(ctx, "P1", "G1", RequirementPatch{ParentID: ptr("C2")})
	require.NoError(t, err)
	assert.Equal(t, "C2", r.ParentID)
	r, err = f.store.UpdateRequirement(ctx, "P1", "G1", RequirementPatch{ParentID: ptr("")})
	require.NoError(t, err)
	assert.Empty(t, r.ParentID)
}

func TestCrossProjectReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.project(t, "P2")
	f.req(t, "P1", "A", "")
	f.req(t, "P2", "X", "")

	_, err := f.store.CreateRequirement(ctx, "P1", RequirementInput{Title: "B", ParentID: "P2/X"})
	assert.ErrorIs(t, err, apperr.ErrCrossProjectReference)

	_, err = f.store.CreateRequirement(ctx, "P1", RequirementInput{Title: "B", Dependencies: []string{"P2/X"}})
	assert.ErrorIs(t, err, apperr.ErrCrossProjectReference)

	_, err = f.store.UpdateRequirement(ctx, "P1", "A", RequirementPatch{ParentID: ptr("P2/X")})
	assert.ErrorIs(t, err, apperr.ErrCrossProjectReference)

	_, err = f.store.CreateTrace(ctx, "P1", TraceInput{SourceID: "A", TargetID: "P2/X", TraceType: "derives"})
	assert.ErrorIs(t, err, apperr.ErrCrossProjectReference)

	// qualified references into the same project resolve normally
	b, err := f.store.CreateRequirement(ctx, "P1", RequirementInput{ID: "B", Title: "B", ParentID: "P1/A"})
	require.NoError(t, err)
	assert.Equal(t, "A", b.ParentID)
}

func TestRequirementValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "A", "")

	cases := []struct {
		name string
		in   RequirementInput
		want error
	}{
		{"missing title", RequirementInput{ID: "X"}, apperr.ErrValidationFailed},
		{"slash in id", RequirementInput{ID: "a/b", Title: "x"}, apperr.ErrValidationFailed},
		{"bad priority", RequirementInput{ID: "X", Title: "x", Priority: "urgent"}, apperr.ErrValidationFailed},
		{"bad type", RequirementInput{ID: "X", Title: "x", Type: "vague"}, apperr.ErrValidationFailed},
		{"duplicate id", RequirementInput{ID: "A", Title: "x"}, apperr.ErrDuplicateID},
		{"missing parent", RequirementInput{ID: "X", Title: "x", ParentID: "nope"}, apperr.ErrNotFound},
		{"self parent", RequirementInput{ID: "X", Title: "x", ParentID: "X"}, apperr.ErrCycleDetected},
		{"self dependency", RequirementInput{ID: "X", Title: "x", Dependencies: []string{"X"}}, apperr.ErrInvalidReference},
		{"duplicate dependency", RequirementInput{ID: "X", Title: "x", Dependencies: []string{"A", "A"}}, apperr.ErrValidationFailed},
		{"missing dependency", RequirementInput{ID: "X", Title: "x", Dependencies: []string{"nope"}}, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.store.CreateRequirement(ctx, "P1", tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.store.CreateRequirement(ctx, "nope", RequirementInput{Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.store.UpdateRequirement(ctx, "P1", "A", RequirementPatch{})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)
}

func TestReservedAndMalformedReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "A", "")
	f.req(t, "P1", "B", "A")

	_, err := f.store.CreateRequirement(ctx, "P1", RequirementInput{ID: "root", Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	for _, ref := range []string{"P1/", "/A"} {
		_, err = f.store.CreateRequirement(ctx, "P1", RequirementInput{ID: "X", Title: "x", ParentID: ref})
		assert.ErrorIs(t, err, apperr.ErrValidationFailed, ref)
		_, err = f.store.CreateRequirement(ctx, "P1", RequirementInput{ID: "X", Title: "x", Dependencies: []string{ref}})
		assert.ErrorIs(t, err, apperr.ErrValidationFailed, ref)
		_, err = f.store.CreateTrace(ctx, "P1", TraceInput{SourceID: "A", TargetID: ref, TraceType: "derives"})
		assert.ErrorIs(t, err, apperr.ErrValidationFailed, ref)
		_, err = f.store.UpdateRequirement(ctx, "P1", "B", RequirementPatch{ParentID: ptr(ref)})
		assert.ErrorIs(t, err, apperr.ErrValidationFailed, ref)
	}

	b, err := f.store.GetRequirement("P1", "B")
	require.NoError(t, err)
	assert.Equal(t, "A", b.ParentID)
	h, err := f.store.Hierarchy("P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, h["root"])
	assert.Equal(t, []string{"B"}, h["A"])
}

func TestTraceEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "A", "")
	f.req(t, "P1", "B", "")

	_, err := f.store.CreateTrace(ctx, "P1", TraceInput{SourceID: "A", TargetID: "A", TraceType: "derives"})
	assert.ErrorIs(t, err, apperr.ErrInvalidTrace)

	_, err = f.store.CreateTrace(ctx, "P1", TraceInput{SourceID: "A", TargetID: "Z", TraceType: "derives"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{"Z"}, apperr.IDsOf(err))

	_, err = f.store.CreateTrace(ctx, "P1", TraceInput{SourceID: "A", TargetID: "B"})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	f.trace(t, "P1", "T1", "A", "B")
	f.trace(t, "P1", "T2", "B", "A")

	tr, err := f.store.UpdateTrace(ctx, "P1", "T1", TracePatch{TraceType: ptr("conflicts-with"), Description: ptr("cycle ok")})
	require.NoError(t, err)
	assert.Equal(t, "conflicts-with", tr.TraceType)
	assert.Equal(t, "A", tr.SourceID)

	touching, err := f.store.ListTraces("P1", "B")
	require.NoError(t, err)
	assert.Len(t, touching, 2)

	require.NoError(t, f.store.DeleteTrace(ctx, "P1", "T2"))
	all, err := f.store.ListTraces("P1", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "T1", all[0].ID)
}

func TestImpactThroughStore(t *testing.T) {
	f := newFixture(t)
	f.project(t, "P1")
	f.req(t, "P1", "P", "")
	f.req(t, "P1", "R", "P")
	f.req(t, "P1", "C", "R")
	f.req(t, "P1", "S", "")
	f.req(t, "P1", "T", "")
	f.req(t, "P1", "U", "")
	f.req(t, "P1", "Far", "")
	f.trace(t, "P1", "t1", "R", "S")
	f.trace(t, "P1", "t2", "T", "R")
	f.trace(t, "P1", "t3", "S", "Far")

	imp, err := f.store.Impact("P1", "R", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "P", "S", "T"}, imp.All)
	assert.Equal(t, []string{"t1", "t2"}, imp.TraceIDs)
	assert.NotContains(t, imp.All, "U")
	assert.NotContains(t, imp.All, "R")

	imp, err = f.store.Impact("P1", "R", 2)
	require.NoError(t, err)
	assert.Contains(t, imp.All, "Far")

	_, err = f.store.Impact("P1", "missing", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteProject_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.project(t, "P2")
	f.req(t, "P1", "A", "")
	f.req(t, "P1", "B", "A")
	f.trace(t, "P1", "T1", "A", "B")
	f.req(t, "P2", "A", "")

	require.NoError(t, f.store.DeleteProject(ctx, "P1"))

	_, err := f.store.GetProject("P1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.store.GetRequirement("P1", "A")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.store.GetTrace("P1", "T1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	for _, kind := range []storage.Kind{storage.KindProject, storage.KindRequirement, storage.KindTrace} {
		recs, err := f.backend.List(ctx, "P1", kind)
		require.NoError(t, err)
		assert.Empty(t, recs, kind)
	}
	_, err = f.store.GetRequirement("P2", "A")
	assert.NoError(t, err)
	assert.Equal(t, 1, f.store.ProjectCount())

	assert.ErrorIs(t, f.store.DeleteProject(ctx, "P1"), apperr.ErrNotFound)
}

func TestBackendFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "A", "")
	f.events.Reset()

	f.backend.FailWrites = errors.New("disk full")
	_, err := f.store.CreateRequirement(ctx, "P1", RequirementInput{ID: "B", Title: "B", ParentID: "A"})
	assert.ErrorIs(t, err, apperr.ErrTransient)
	_, err = f.store.UpdateRequirement(ctx, "P1", "A", RequirementPatch{Status: ptr(model.StatusCompleted)})
	assert.ErrorIs(t, err, apperr.ErrTransient)
	assert.ErrorIs(t, f.store.DeleteProject(ctx, "P1"), apperr.ErrTransient)
	f.backend.FailWrites = nil

	_, err = f.store.GetRequirement("P1", "B")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	a, err := f.store.GetRequirement("P1", "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNew, a.Status)
	children, err := f.store.Children("P1", "A")
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.Empty(t, f.events.Events())
}

func TestCancelledContextStillCommits(t *testing.T) {
	backend, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "reqtrace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	f := newFixture(t, func(o *Options) { o.Backend = backend })
	f.project(t, "P1")
	f.project(t, "P2")
	f.req(t, "P1", "A", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.store.CreateRequirement(ctx, "P1", RequirementInput{ID: "B", Title: "B", ParentID: "A"})
	require.NoError(t, err)
	_, err = f.store.UpdateRequirement(ctx, "P1", "A", RequirementPatch{Status: ptr(model.StatusCompleted)})
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteProject(ctx, "P2"))

	fresh := NewStore(Options{Backend: backend})
	require.NoError(t, fresh.Load(context.Background()))
	b, err := fresh.GetRequirement("P1", "B")
	require.NoError(t, err)
	assert.Equal(t, "A", b.ParentID)
	a, err := fresh.GetRequirement("P1", "A")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, a.Status)
	_, err = fresh.GetProject("P2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateRequirement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "A", "")
	f.req(t, "P1", "B", "")

	r, err := f.store.UpdateRequirement(ctx, "P1", "B", RequirementPatch{
		Status:       ptr(model.StatusInProgress),
		Priority:     ptr(model.PriorityCritical),
		Tags:         &[]string{"api", "", "api", "auth"},
		Dependencies: &[]string{"A"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, r.Status)
	assert.Equal(t, model.PriorityCritical, r.Priority)
	assert.Equal(t, []string{"api", "auth"}, r.Tags)
	assert.Equal(t, []string{"A"}, r.Dependencies)
	last := r.History[len(r.History)-1]
	assert.Equal(t, "updated", last.Action)
	assert.Equal(t, "Updated priority, status, dependencies, tags", last.Description)

	// the returned copy is detached from the store
	r.Tags[0] = "mutated"
	again, err := f.store.GetRequirement("P1", "B")
	require.NoError(t, err)
	assert.Equal(t, "api", again.Tags[0])

	list, err := f.store.ListRequirements("P1", RequirementFilter{Tag: "auth"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "B", list[0].ID)

	list, err = f.store.ListRequirements("P1", RequirementFilter{Status: model.StatusNew})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A", list[0].ID)
}

func TestProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")

	_, err := f.store.CreateProject(ctx, ProjectInput{ID: "P2", Name: "project p1"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateID)
	_, err = f.store.CreateProject(ctx, ProjectInput{ID: "P1", Name: "Other"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateID)
	_, err = f.store.CreateProject(ctx, ProjectInput{Name: " "})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	p, err := f.store.CreateProject(ctx, ProjectInput{Name: "Generated"})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", p.ID)

	_, err = f.store.UpdateProject(ctx, "gen-1", ProjectPatch{Name: ptr("Project P1")})
	assert.ErrorIs(t, err, apperr.ErrDuplicateID)
	p, err = f.store.UpdateProject(ctx, "gen-1", ProjectPatch{Name: ptr("Renamed"), Description: ptr("d")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)

	f.req(t, "P1", "A", "")
	list := f.store.ListProjects()
	require.Len(t, list, 2)
	assert.Equal(t, "P1", list[0].ID)
	assert.Equal(t, 1, list[0].RequirementCount)
}

func TestEventsFollowCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "A", "")
	_, err := f.store.UpdateRequirement(ctx, "P1", "A", RequirementPatch{Title: ptr("A2")})
	require.NoError(t, err)
	_, err = f.store.CreateRequirement(ctx, "P1", RequirementInput{ID: "A", Title: "dup"})
	require.Error(t, err)
	require.NoError(t, f.store.DeleteRequirement(ctx, "P1", "A", false))

	evs := f.events.Events()
	require.Len(t, evs, 4)
	want := []struct {
		kind model.EntityKind
		op   model.Operation
	}{
		{model.EntityProject, model.OpCreated},
		{model.EntityRequirement, model.OpCreated},
		{model.EntityRequirement, model.OpUpdated},
		{model.EntityRequirement, model.OpDeleted},
	}
	for i, w := range want {
		assert.Equal(t, w.kind, evs[i].EntityKind)
		assert.Equal(t, w.op, evs[i].Operation)
		assert.Equal(t, uint64(i+1), evs[i].Seq)
		assert.Equal(t, "P1", evs[i].ProjectID)
	}
}

func TestConcurrentWritesSerializePerProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.project(t, "P2")
	f.req(t, "P1", "top", "")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.store.CreateRequirement(ctx, "P1", RequirementInput{ID: fmt.Sprintf("r%02d", i), Title: "x", ParentID: "top"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.store.CreateRequirement(ctx, "P2", RequirementInput{ID: fmt.Sprintf("r%02d", i), Title: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	children, err := f.store.Children("P1", "top")
	require.NoError(t, err)
	assert.Len(t, children, 50)
	p2, err := f.store.GetProject("P2")
	require.NoError(t, err)
	assert.Equal(t, 50, p2.RequirementCount)
}

func TestLoadRebuildsFromBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.project(t, "P1")
	f.req(t, "P1", "A", "")
	f.req(t, "P1", "B", "A")
	f.req(t, "P1", "C", "B", "A")
	f.trace(t, "P1", "T1", "C", "A")

	fresh := NewStore(Options{Backend: f.backend})
	require.NoError(t, fresh.Load(ctx))

	h, err := fresh.Hierarchy("P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, h["root"])
	assert.Equal(t, []string{"B"}, h["A"])
	assert.Equal(t, []string{"C"}, h["B"])

	c, err := fresh.GetRequirement("P1", "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, c.Dependencies)

	imp, err := fresh.Impact("P1", "A", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, imp.TraceIDs)

	_, err = fresh.CreateRequirement(ctx, "P1", RequirementInput{ID: "A", Title: "dup"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateID)
}

func TestLoadPersistsRepairs(t *testing.T) {
	backend := storage.NewMemory()
	ctx := context.Background()
	put := func(tx storage.Tx, key storage.Key, v any) {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, tx.Put(key, data))
	}
	require.NoError(t, backend.Tx(ctx, func(tx storage.Tx) error {
		put(tx, storage.Key{ProjectID: "P1", Kind: storage.KindProject, ID: "P1"}, &model.Project{ID: "P1", Name: "P1"})
		put(tx, storage.Key{ProjectID: "P1", Kind: storage.KindRequirement, ID: "A"},
			&model.Requirement{ID: "A", ProjectID: "P1", Title: "A", ParentID: "ghost"})
		put(tx, storage.Key{ProjectID: "P1", Kind: storage.KindRequirement, ID: "B"},
			&model.Requirement{ID: "B", ProjectID: "P1", Title: "B", ParentID: "A", Dependencies: []string{"ghost", "A"}})
		put(tx, storage.Key{ProjectID: "P1", Kind: storage.KindTrace, ID: "T1"},
			&model.Trace{ID: "T1", ProjectID: "P1", SourceID: "A", TargetID: "ghost", TraceType: "derives"})
		return nil
	}))

	s := NewStore(Options{Backend: backend})
	require.NoError(t, s.Load(ctx))
	a, err := s.GetRequirement("P1", "A")
	require.NoError(t, err)
	assert.Empty(t, a.ParentID)

	var stored model.Requirement
	data, err := backend.Get(ctx, storage.Key{ProjectID: "P1", Kind: storage.KindRequirement, ID: "A"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Empty(t, stored.ParentID)
	require.NotEmpty(t, stored.History)
	assert.Equal(t, "repaired", stored.History[len(stored.History)-1].Action)

	data, err = backend.Get(ctx, storage.Key{ProjectID: "P1", Kind: storage.KindRequirement, ID: "B"})
	require.NoError(t, err)
	stored = model.Requirement{}
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, "A", stored.ParentID)
	assert.Equal(t, []string{"A"}, stored.Dependencies)

	_, err = backend.Get(ctx, storage.Key{ProjectID: "P1", Kind: storage.KindTrace, ID: "T1"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
