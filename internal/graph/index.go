// Package graph indexes one project's requirement hierarchy (a forest of
// parent pointers) and its trace edges (a directed graph that may cycle).
//
// The two structures are walked by separate algorithms: hierarchy checks
// refuse cycles, trace traversal tolerates them. An Index is not safe for
// concurrent use; the owner serializes access with its project lock.
package graph

import (
	"iter"
	"sort"
	"strings"

	"github.com/codeMaster/reqtrace/internal/apperr"
)

// RootKey names the top-level bucket in Hierarchy.
const RootKey = "root"

// DefaultHops is the trace hop limit used when a caller passes none.
const DefaultHops = 1

// MaxHops bounds trace traversal.
const MaxHops = 100

// Ref is a possibly project-qualified requirement reference.
type Ref struct {
	ProjectID string
	ID        string
}

// ParseRef reads "id" or "project/id". Unqualified ids resolve to defaultProject.
func ParseRef(defaultProject, s string) Ref {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return Ref{ProjectID: s[:i], ID: s[i+1:]}
	}
	return Ref{ProjectID: defaultProject, ID: s}
}

func (r Ref) String() string {
	return r.ProjectID + "/" + r.ID
}

type edge struct {
	source string
	target string
}

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Index struct {
	projectID string
	nodes     set
	parent    map[string]string
	children  map[string]set
	traces    map[string]edge
	out       map[string]set // requirement -> trace ids where it is the source
	in        map[string]set // requirement -> trace ids where it is the target
}

func New(projectID string) *Index {
	return &Index{
		projectID: projectID,
		nodes:     make(set),
		parent:    make(map[string]string),
		children:  make(map[string]set),
		traces:    make(map[string]edge),
		out:       make(map[string]set),
		in:        make(map[string]set),
	}
}

func (ix *Index) ProjectID() string { return ix.projectID }

func (ix *Index) Has(id string) bool {
	_, ok := ix.nodes[id]
	return ok
}

func (ix *Index) Len() int { return len(ix.nodes) }

// Nodes returns every requirement id in ascending order.
func (ix *Index) Nodes() []string { return ix.nodes.sorted() }

// AddRequirement inserts a node. The caller has already validated parentID.
func (ix *Index) AddRequirement(id, parentID string) {
	ix.nodes[id] = struct{}{}
	ix.SetParent(id, parentID)
}

// RemoveRequirement drops a node together with its trace edges. Children
// left behind become roots; callers re-parent them first when they care.
func (ix *Index) RemoveRequirement(id string) {
	ix.SetParent(id, "")
	for c := range ix.children[id] {
		delete(ix.parent, c)
	}
	delete(ix.children, id)
	for tid := range ix.out[id] {
		ix.RemoveTrace(tid)
	}
	for tid := range ix.in[id] {
		ix.RemoveTrace(tid)
	}
	delete(ix.nodes, id)
}

func (ix *Index) SetParent(id, parentID string) {
	if old, ok := ix.parent[id]; ok {
		delete(ix.children[old], id)
		if len(ix.children[old]) == 0 {
			delete(ix.children, old)
		}
		delete(ix.parent, id)
	}
	if parentID == "" {
		return
	}
	ix.parent[id] = parentID
	if ix.children[parentID] == nil {
		ix.children[parentID] = make(set)
	}
	ix.children[parentID][id] = struct{}{}
}

func (ix *Index) Parent(id string) string { return ix.parent[id] }

// Children returns the direct children of id in ascending order.
func (ix *Index) Children(id string) []string { return ix.children[id].sorted() }

// Roots returns the top-level requirements in ascending order.
func (ix *Index) Roots() []string {
	roots := []string{}
	for id := range ix.nodes {
		if ix.parent[id] == "" {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

func (ix *Index) AddTrace(traceID, source, target string) {
	ix.traces[traceID] = edge{source: source, target: target}
	if ix.out[source] == nil {
		ix.out[source] = make(set)
	}
	ix.out[source][traceID] = struct{}{}
	if ix.in[target] == nil {
		ix.in[target] = make(set)
	}
	ix.in[target][traceID] = struct{}{}
}

func (ix *Index) RemoveTrace(traceID string) {
	e, ok := ix.traces[traceID]
	if !ok {
		return
	}
	delete(ix.traces, traceID)
	delete(ix.out[e.source], traceID)
	if len(ix.out[e.source]) == 0 {
		delete(ix.out, e.source)
	}
	delete(ix.in[e.target], traceID)
	if len(ix.in[e.target]) == 0 {
		delete(ix.in, e.target)
	}
}

// TracesOf returns the ids of traces that have id as source or target.
func (ix *Index) TracesOf(id string) []string {
	s := make(set, len(ix.out[id])+len(ix.in[id]))
	for tid := range ix.out[id] {
		s[tid] = struct{}{}
	}
	for tid := range ix.in[id] {
		s[tid] = struct{}{}
	}
	return s.sorted()
}

// ValidateReference checks that ref names an existing requirement of this project.
func (ix *Index) ValidateReference(ref Ref) error {
	if ref.ProjectID != ix.projectID {
		return apperr.Conflict(apperr.ReasonCrossProjectReference,
			"reference points outside project "+ix.projectID, ref.String())
	}
	if !ix.Has(ref.ID) {
		return apperr.NotFound("referenced requirement does not exist", ref.ID)
	}
	return nil
}

// ValidateParentAssignment walks upward from the new parent and fails when
// childID is among its ancestors. An empty parent ID makes the child a root.
func (ix *Index) ValidateParentAssignment(childID string, parent Ref) error {
	if parent.ID == "" {
		if !ix.Has(childID) {
			return apperr.NotFound("requirement does not exist", childID)
		}
		return nil
	}
	if err := ix.ValidateReference(parent); err != nil {
		return err
	}
	if !ix.Has(childID) {
		return apperr.NotFound("requirement does not exist", childID)
	}
	if parent.ID == childID {
		return apperr.Conflict(apperr.ReasonCycleDetected, "requirement cannot be its own parent", childID)
	}
	for a := range ix.Ancestors(parent.ID) {
		if a == childID {
			return apperr.Conflict(apperr.ReasonCycleDetected,
				"new parent is a descendant of the requirement", childID, parent.ID)
		}
	}
	return nil
}

// ValidateTraceEndpoints requires two distinct existing requirements of this project.
func (ix *Index) ValidateTraceEndpoints(source, target Ref) error {
	for _, r := range []Ref{source, target} {
		if r.ProjectID != ix.projectID {
			return apperr.Conflict(apperr.ReasonCrossProjectReference,
				"trace endpoint points outside project "+ix.projectID, r.String())
		}
	}
	if source.ID == target.ID {
		return apperr.Conflict(apperr.ReasonInvalidTrace, "trace source and target must differ", source.ID)
	}
	for _, r := range []Ref{source, target} {
		if !ix.Has(r.ID) {
			return apperr.NotFound("trace endpoint does not exist", r.ID)
		}
	}
	return nil
}

// Ancestors yields parent, grandparent, ... up to the root.
func (ix *Index) Ancestors(id string) iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := set{id: {}}
		for p := ix.parent[id]; p != ""; p = ix.parent[p] {
			if _, dup := seen[p]; dup {
				return
			}
			seen[p] = struct{}{}
			if !yield(p) {
				return
			}
		}
	}
}

// Descendants yields the subtree below id breadth-first; ids at equal depth
// come out in ascending order.
func (ix *Index) Descendants(id string) iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := set{id: {}}
		level := ix.Children(id)
		for len(level) > 0 {
			var next []string
			for _, c := range level {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				if !yield(c) {
					return
				}
				for gc := range ix.children[c] {
					next = append(next, gc)
				}
			}
			sort.Strings(next)
			level = next
		}
	}
}

// Traced is a requirement reached over trace edges.
type Traced struct {
	ID   string `json:"requirement_id"`
	Hops int    `json:"hops"`
}

// Impact is the answer to "what breaks if I change this".
type Impact struct {
	RequirementID string   `json:"requirement_id"`
	Hops          int      `json:"hops"`
	Ancestors     []string `json:"ancestors"`
	Descendants   []string `json:"descendants"`
	Traced        []Traced `json:"traced"`
	TraceIDs      []string `json:"trace_ids"`
	All           []string `json:"all"`
}

// ImpactSet unions ancestors, descendants and every requirement reachable
// over trace edges, in either direction, within hops.
func (ix *Index) ImpactSet(id string, hops int) Impact {
	if hops < 1 {
		hops = DefaultHops
	}
	if hops > MaxHops {
		hops = MaxHops
	}
	imp := Impact{RequirementID: id, Hops: hops, Ancestors: []string{}, Descendants: []string{}, Traced: []Traced{}}
	all := make(set)
	for a := range ix.Ancestors(id) {
		imp.Ancestors = append(imp.Ancestors, a)
		all[a] = struct{}{}
	}
	for d := range ix.Descendants(id) {
		imp.Descendants = append(imp.Descendants, d)
		all[d] = struct{}{}
	}

	visited := set{id: {}}
	used := make(set)
	frontier := []string{id}
	for hop := 1; hop <= hops && len(frontier) > 0; hop++ {
		var next []string
		for _, n := range frontier {
			for _, tid := range ix.TracesOf(n) {
				used[tid] = struct{}{}
				e := ix.traces[tid]
				other := e.target
				if other == n {
					other = e.source
				}
				if _, ok := visited[other]; ok {
					continue
				}
				visited[other] = struct{}{}
				imp.Traced = append(imp.Traced, Traced{ID: other, Hops: hop})
				all[other] = struct{}{}
				next = append(next, other)
			}
		}
		sort.Strings(next)
		frontier = next
	}
	imp.TraceIDs = used.sorted()
	imp.All = all.sorted()
	return imp
}

// Hierarchy maps each parent to its ordered children; top-level
// requirements sit under RootKey.
func (ix *Index) Hierarchy() map[string][]string {
	h := map[string][]string{RootKey: ix.Roots()}
	for p, cs := range ix.children {
		h[p] = cs.sorted()
	}
	return h
}
