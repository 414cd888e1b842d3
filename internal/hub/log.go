package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/redis/go-redis/v9"
)

// EventLog retains recent events per project for replay on (re)subscribe.
type EventLog interface {
	Append(ctx context.Context, ev model.ChangeEvent) error
	// Since returns logged events of projectID with Seq > seq, oldest first.
	Since(ctx context.Context, projectID string, seq uint64) ([]model.ChangeEvent, error)
}

// MemoryLog keeps the last max events of each project.
type MemoryLog struct {
	mu     sync.Mutex
	max    int
	events map[string][]model.ChangeEvent
}

func NewMemoryLog(max int) *MemoryLog {
	if max <= 0 {
		max = 1000
	}
	return &MemoryLog{max: max, events: make(map[string][]model.ChangeEvent)}
}

func (l *MemoryLog) Append(_ context.Context, ev model.ChangeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	evs := append(l.events[ev.ProjectID], ev)
	if len(evs) > l.max {
		evs = evs[len(evs)-l.max:]
	}
	l.events[ev.ProjectID] = evs
	return nil
}

func (l *MemoryLog) Since(_ context.Context, projectID string, seq uint64) ([]model.ChangeEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.ChangeEvent
	for _, ev := range l.events[projectID] {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out, nil
}

// RedisLog keeps one capped list per project, namespaced by hub instance so
// sequence numbers from a previous process never mix with the current ones.
type RedisLog struct {
	rdb      *redis.Client
	instance string
	max      int64
	ttl      time.Duration
}

func NewRedisLog(rdb *redis.Client, instance string, max int64, ttl time.Duration) *RedisLog {
	if max <= 0 {
		max = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLog{rdb: rdb, instance: instance, max: max, ttl: ttl}
}

func (l *RedisLog) key(projectID string) string {
	return fmt.Sprintf("reqtrace:events:%s:%s", l.instance, projectID)
}

func (l *RedisLog) Append(ctx context.Context, ev model.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := l.key(ev.ProjectID)
	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, -l.max, -1)
	pipe.Expire(ctx, key, l.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (l *RedisLog) Since(ctx context.Context, projectID string, seq uint64) ([]model.ChangeEvent, error) {
	items, err := l.rdb.LRange(ctx, l.key(projectID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.ChangeEvent, 0, len(items))
	for _, item := range items {
		var ev model.ChangeEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out, nil
}
