// Package notify holds the change-event sinks the store publishes to.
package notify

import (
	"log/slog"
	"sync"

	"github.com/codeMaster/reqtrace/internal/model"
)

// Notifier receives every committed change event. Implementations may stamp
// the event (the hub assigns Seq) and return the stamped copy.
type Notifier interface {
	Publish(ev model.ChangeEvent) model.ChangeEvent
}

// NoopNotifier is used when nothing listens for changes.
type NoopNotifier struct{}

func (NoopNotifier) Publish(ev model.ChangeEvent) model.ChangeEvent { return ev }

// Logging forwards to Next and logs each event at debug level.
type Logging struct {
	Next   Notifier
	Logger *slog.Logger
}

func NewLogging(next Notifier, logger *slog.Logger) *Logging {
	if next == nil {
		next = NoopNotifier{}
	}
	return &Logging{Next: next, Logger: logger.With("component", "notify")}
}

func (n *Logging) Publish(ev model.ChangeEvent) model.ChangeEvent {
	ev = n.Next.Publish(ev)
	n.Logger.Debug("change event",
		"project_id", ev.ProjectID,
		"entity_kind", ev.EntityKind,
		"entity_id", ev.EntityID,
		"operation", ev.Operation,
		"seq", ev.Seq,
	)
	return ev
}

// Recorder keeps published events in memory and numbers them per project.
type Recorder struct {
	mu     sync.Mutex
	seq    map[string]uint64
	events []model.ChangeEvent
}

func (r *Recorder) Publish(ev model.ChangeEvent) model.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seq == nil {
		r.seq = make(map[string]uint64)
	}
	r.seq[ev.ProjectID]++
	ev.Seq = r.seq[ev.ProjectID]
	r.events = append(r.events, ev)
	return ev
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []model.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChangeEvent(nil), r.events...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
