// Package service holds the entity store: projects, requirements and traces
// kept in memory under per-project locks, written through to a storage
// backend and announced to a notifier after every commit.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/graph"
	"github.com/codeMaster/reqtrace/internal/metrics"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/notify"
	"github.com/codeMaster/reqtrace/internal/pool"
	"github.com/codeMaster/reqtrace/internal/refine"
	"github.com/codeMaster/reqtrace/internal/storage"
	"github.com/codeMaster/reqtrace/internal/validation"
	"github.com/google/uuid"
)

type Options struct {
	Backend   storage.Backend
	Notifier  notify.Notifier
	Validator *validation.Engine
	Refiner   refine.Refiner
	// Pool runs project-wide validation; nil validates inline.
	Pool   *pool.Pool
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

type Store struct {
	backend   storage.Backend
	notifier  notify.Notifier
	validator *validation.Engine
	refiner   refine.Refiner
	pool      *pool.Pool
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	// mu guards the projects map. Lock order is mu before projectState.mu.
	mu       sync.RWMutex
	projects map[string]*projectState
}

type projectState struct {
	mu           sync.RWMutex
	project      *model.Project
	requirements map[string]*model.Requirement
	traces       map[string]*model.Trace
	index        *graph.Index
	deleted      bool
}

func newProjectState(p *model.Project) *projectState {
	return &projectState{
		project:      p,
		requirements: make(map[string]*model.Requirement),
		traces:       make(map[string]*model.Trace),
		index:        graph.New(p.ID),
	}
}

func (st *projectState) snapshotProject() *model.Project {
	p := st.project.Clone()
	p.RequirementCount = len(st.requirements)
	return p
}

func NewStore(opts Options) *Store {
	if opts.Backend == nil {
		opts.Backend = storage.NewMemory()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopNotifier{}
	}
	if opts.Validator == nil {
		opts.Validator = validation.New(validation.DefaultThreshold)
	}
	if opts.Refiner == nil {
		opts.Refiner = refine.Disabled{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Store{
		backend:   opts.Backend,
		notifier:  opts.Notifier,
		validator: opts.Validator,
		refiner:   opts.Refiner,
		pool:      opts.Pool,
		logger:    opts.Logger.With("component", "store"),
		now:       opts.Now,
		newID:     opts.NewID,
		projects:  make(map[string]*projectState),
	}
}

// ProjectCount reports the number of live projects.
func (s *Store) ProjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects)
}

func (s *Store) state(projectID string) (*projectState, error) {
	s.mu.RLock()
	st, ok := s.projects[projectID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("project not found", projectID)
	}
	return st, nil
}

// read runs fn under the project's read lock.
func (s *Store) read(projectID string, fn func(st *projectState) error) error {
	st, err := s.state(projectID)
	if err != nil {
		return err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.deleted {
		return apperr.NotFound("project not found", projectID)
	}
	return fn(st)
}

// write runs fn under the project's write lock. fn validates and returns a
// changeset; nothing in memory changes unless the backend commit succeeds.
func (s *Store) write(ctx context.Context, projectID, op string, kind model.EntityKind, fn func(st *projectState) (*changeset, error)) error {
	st, err := s.state(projectID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return apperr.NotFound("project not found", projectID)
	}
	cs, err := fn(st)
	if err == nil {
		err = s.commit(ctx, st, cs)
	}
	s.observe(op, kind, err)
	return err
}

func (s *Store) observe(op string, kind model.EntityKind, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		s.logger.Info("write rejected", "op", op, "entity_kind", kind, "error", err)
	}
	metrics.StoreWrites.WithLabelValues(op, string(kind), result).Inc()
}

// changeset is everything one logical write persists.
type changeset struct {
	project   *model.Project
	putReqs   []*model.Requirement
	delReqs   []string
	putTraces []*model.Trace
	delTraces []string
	events    []model.ChangeEvent
}

func (cs *changeset) event(projectID string, kind model.EntityKind, id string, op model.Operation, at time.Time) {
	cs.events = append(cs.events, model.ChangeEvent{
		ProjectID:  projectID,
		EntityKind: kind,
		EntityID:   id,
		Operation:  op,
		Timestamp:  at,
	})
}

// commitTimeout bounds a backend commit once a write has passed its checks.
const commitTimeout = 30 * time.Second

// commitContext detaches a commit from the caller's cancellation: a write
// that passed validation either fully commits or fails on its own terms.
func commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}

func (s *Store) persist(ctx context.Context, projectID string, cs *changeset) error {
	ctx, cancel := commitContext(ctx)
	defer cancel()
	err := s.backend.Tx(ctx, func(tx storage.Tx) error {
		if cs.project != nil {
			if err := putJSON(tx, storage.Key{ProjectID: projectID, Kind: storage.KindProject, ID: projectID}, cs.project); err != nil {
				return err
			}
		}
		for _, id := range cs.delTraces {
			if err := tx.Delete(storage.Key{ProjectID: projectID, Kind: storage.KindTrace, ID: id}); err != nil {
				return err
			}
		}
		for _, id := range cs.delReqs {
			if err := tx.Delete(storage.Key{ProjectID: projectID, Kind: storage.KindRequirement, ID: id}); err != nil {
				return err
			}
		}
		for _, r := range cs.putReqs {
			if err := putJSON(tx, storage.Key{ProjectID: projectID, Kind: storage.KindRequirement, ID: r.ID}, r); err != nil {
				return err
			}
		}
		for _, t := range cs.putTraces {
			if err := putJSON(tx, storage.Key{ProjectID: projectID, Kind: storage.KindTrace, ID: t.ID}, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Transient("persist changes", err)
	}
	return nil
}

func putJSON(tx storage.Tx, key storage.Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Put(key, data)
}

// commit persists cs, then applies it to memory and the index and publishes
// its events, all while the caller holds the project write lock.
func (s *Store) commit(ctx context.Context, st *projectState, cs *changeset) error {
	if cs == nil {
		return nil
	}
	if err := s.persist(ctx, st.project.ID, cs); err != nil {
		return err
	}
	if cs.project != nil {
		st.project = cs.project
	}
	for _, id := range cs.delTraces {
		delete(st.traces, id)
		st.index.RemoveTrace(id)
	}
	for _, r := range cs.putReqs {
		if !st.index.Has(r.ID) {
			st.index.AddRequirement(r.ID, "")
		}
	}
	for _, id := range cs.delReqs {
		delete(st.requirements, id)
		st.index.RemoveRequirement(id)
	}
	for _, r := range cs.putReqs {
		st.requirements[r.ID] = r
		if st.index.Parent(r.ID) != r.ParentID {
			st.index.SetParent(r.ID, r.ParentID)
		}
	}
	for _, t := range cs.putTraces {
		if _, ok := st.traces[t.ID]; !ok {
			st.index.AddTrace(t.ID, t.SourceID, t.TargetID)
		}
		st.traces[t.ID] = t
	}
	for _, ev := range cs.events {
		s.notifier.Publish(ev)
	}
	return nil
}

// checkLocalID rejects ids that would read as project-qualified references.
func checkLocalID(id, what string) error {
	if strings.Contains(id, "/") {
		return apperr.Invalid(what+" id must not contain '/'", id)
	}
	if strings.TrimSpace(id) != id {
		return apperr.Invalid(what+" id must not have surrounding spaces", id)
	}
	return nil
}

// checkRequirementID also reserves the hierarchy's top-level key.
func checkRequirementID(id string) error {
	if err := checkLocalID(id, "requirement"); err != nil {
		return err
	}
	if id == graph.RootKey {
		return apperr.Invalid("requirement id "+graph.RootKey+" is reserved", id)
	}
	return nil
}

// parseRef reads "id" or "project/id"; either half left empty is malformed.
func parseRef(projectID, raw string) (graph.Ref, error) {
	ref := graph.ParseRef(projectID, raw)
	if ref.ProjectID == "" || ref.ID == "" {
		return graph.Ref{}, apperr.Invalid("malformed requirement reference "+strconv.Quote(raw), raw)
	}
	return ref, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
