// Package hub fans committed change events out to the client connections
// subscribed to their project.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/metrics"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/google/uuid"
)

const (
	DefaultBufferSize   = 256
	DefaultWriteTimeout = 5 * time.Second
)

// ErrBackpressure is reported when a connection's queue is full.
var ErrBackpressure = errors.New("hub: subscriber queue full")

// Sink is the write side of one client connection.
type Sink interface {
	Deliver(ctx context.Context, ev model.ChangeEvent) error
	Close() error
}

type Options struct {
	BufferSize   int
	WriteTimeout time.Duration
	Log          EventLog
	Logger       *slog.Logger
	// InstanceID defaults to a random uuid.
	InstanceID string
}

type Stats struct {
	Connections   int            `json:"connections"`
	Subscriptions int            `json:"subscriptions"`
	Projects      map[string]int `json:"projects"`
}

type conn struct {
	id    string
	sink  Sink
	queue chan model.ChangeEvent
	done  chan struct{}

	// guarded by Hub.mu
	projects map[string]struct{}

	mu   sync.Mutex
	last map[string]uint64
	// pending holds live events of a project whose replay is still being read.
	pending map[string][]model.ChangeEvent
}

// enqueue hands ev to the connection's writer, or parks it while the
// project's replay is in flight. False means the queue is full.
func (c *conn) enqueue(ev model.ChangeEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := c.pending[ev.ProjectID]; ok {
		if len(buf) >= cap(c.queue) {
			return false
		}
		c.pending[ev.ProjectID] = append(buf, ev)
		return true
	}
	return c.push(ev)
}

// push queues ev unless an event at or above its seq was already queued for
// the project, so replay and live delivery overlap without duplicates.
// c.mu must be held.
func (c *conn) push(ev model.ChangeEvent) bool {
	if ev.Seq <= c.last[ev.ProjectID] {
		return true
	}
	select {
	case c.queue <- ev:
		c.last[ev.ProjectID] = ev.Seq
		return true
	default:
		return false
	}
}

type Hub struct {
	instance     string
	bufferSize   int
	writeTimeout time.Duration
	log          EventLog
	logger       *slog.Logger

	mu       sync.RWMutex
	conns    map[string]*conn
	projects map[string]map[string]*conn

	seqMu sync.Mutex
	seq   map[string]uint64
}

func New(opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		instance:     opts.InstanceID,
		bufferSize:   opts.BufferSize,
		writeTimeout: opts.WriteTimeout,
		log:          opts.Log,
		logger:       opts.Logger.With("component", "hub"),
		conns:        make(map[string]*conn),
		projects:     make(map[string]map[string]*conn),
		seq:          make(map[string]uint64),
	}
}

// Instance identifies this hub; sequence numbers are only comparable
// between events stamped by the same instance.
func (h *Hub) Instance() string { return h.instance }

// Connect registers a connection and starts its writer.
func (h *Hub) Connect(id string, sink Sink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; ok {
		return apperr.Conflict(apperr.ReasonDuplicateID, "connection already registered", id)
	}
	c := &conn{
		id:       id,
		sink:     sink,
		queue:    make(chan model.ChangeEvent, h.bufferSize),
		done:     make(chan struct{}),
		projects: make(map[string]struct{}),
		last:     make(map[string]uint64),
		pending:  make(map[string][]model.ChangeEvent),
	}
	h.conns[id] = c
	metrics.HubConnections.Inc()
	go h.write(c)
	return nil
}

func (h *Hub) write(c *conn) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
			err := c.sink.Deliver(ctx, ev)
			cancel()
			if err != nil {
				reason := "write_failed"
				if errors.Is(err, context.DeadlineExceeded) {
					reason = "write_timeout"
				}
				h.drop(c.id, reason, err)
				return
			}
		}
	}
}

// Subscribe is SubscribeFrom with no replay.
func (h *Hub) Subscribe(connID, projectID string) error {
	return h.SubscribeFrom(connID, projectID, 0)
}

// SubscribeFrom admits the connection to projectID. When since is non-zero
// the logged events with a greater seq are queued first. The log is read
// without holding the hub lock; live events published meanwhile are parked
// on the connection and flushed after the replay.
func (h *Hub) SubscribeFrom(connID, projectID string, since uint64) error {
	replay := since > 0 && h.log != nil && since <= h.Seq(projectID)

	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return apperr.NotFound("connection not registered", connID)
	}
	c.mu.Lock()
	if c.last[projectID] < since {
		c.last[projectID] = since
	}
	if _, parked := c.pending[projectID]; replay && !parked {
		c.pending[projectID] = make([]model.ChangeEvent, 0)
	}
	c.mu.Unlock()
	if _, ok := c.projects[projectID]; !ok {
		c.projects[projectID] = struct{}{}
		if h.projects[projectID] == nil {
			h.projects[projectID] = make(map[string]*conn)
		}
		h.projects[projectID][connID] = c
		metrics.HubSubscriptions.Inc()
	}
	h.mu.Unlock()

	if !replay {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	events, err := h.log.Since(ctx, projectID, since)
	cancel()
	if err != nil {
		h.logger.Warn("replay read failed", "project_id", projectID, "since", since, "error", err)
	}

	c.mu.Lock()
	live := c.pending[projectID]
	delete(c.pending, projectID)
	overflow := false
	for _, ev := range append(events, live...) {
		if !c.push(ev) {
			overflow = true
			break
		}
	}
	c.mu.Unlock()

	if overflow {
		h.drop(connID, "backpressure", ErrBackpressure)
		return apperr.Transient("replay exceeded connection buffer", ErrBackpressure)
	}
	return nil
}

func (h *Hub) Unsubscribe(connID, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	if _, ok := c.projects[projectID]; !ok {
		return
	}
	delete(c.projects, projectID)
	delete(h.projects[projectID], connID)
	if len(h.projects[projectID]) == 0 {
		delete(h.projects, projectID)
	}
	metrics.HubSubscriptions.Dec()
}

// Seq returns the last sequence number stamped for projectID.
func (h *Hub) Seq(projectID string) uint64 {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	return h.seq[projectID]
}

// Publish stamps ev with the project's next sequence number, logs it for
// replay and queues it on every subscribed connection. Callers serialize
// publishes per project, so queue order equals publish order. A connection
// whose queue is full is disconnected; others are unaffected.
func (h *Hub) Publish(ev model.ChangeEvent) model.ChangeEvent {
	h.seqMu.Lock()
	h.seq[ev.ProjectID]++
	ev.Seq = h.seq[ev.ProjectID]
	h.seqMu.Unlock()

	if h.log != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		if err := h.log.Append(ctx, ev); err != nil {
			h.logger.Warn("event log append failed", "project_id", ev.ProjectID, "seq", ev.Seq, "error", err)
		}
		cancel()
	}
	metrics.HubEventsPublished.WithLabelValues(string(ev.EntityKind)).Inc()

	var dead []string
	h.mu.RLock()
	for id, c := range h.projects[ev.ProjectID] {
		if !c.enqueue(ev) {
			dead = append(dead, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range dead {
		h.drop(id, "backpressure", ErrBackpressure)
	}
	return ev
}

// Disconnect removes every subscription of the connection and stops its
// writer. It reports whether the connection was registered.
func (h *Hub) Disconnect(connID string) bool {
	return h.remove(connID) != nil
}

func (h *Hub) remove(connID string) *conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return nil
	}
	delete(h.conns, connID)
	for p := range c.projects {
		delete(h.projects[p], connID)
		if len(h.projects[p]) == 0 {
			delete(h.projects, p)
		}
		metrics.HubSubscriptions.Dec()
	}
	close(c.done)
	metrics.HubConnections.Dec()
	return c
}

func (h *Hub) drop(connID, reason string, err error) {
	c := h.remove(connID)
	if c == nil {
		return
	}
	metrics.HubDeliveryFailures.WithLabelValues(reason).Inc()
	h.logger.Warn("connection dropped", "conn_id", connID, "reason", reason, "error", err)
	if cerr := c.sink.Close(); cerr != nil {
		h.logger.Debug("sink close", "conn_id", connID, "error", cerr)
	}
}

// Subscribers lists the connection ids subscribed to projectID.
func (h *Hub) Subscribers(projectID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.projects[projectID]))
	for id := range h.projects[projectID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Connections: len(h.conns), Projects: make(map[string]int, len(h.projects))}
	for p, subs := range h.projects {
		st.Projects[p] = len(subs)
		st.Subscriptions += len(subs)
	}
	return st
}
