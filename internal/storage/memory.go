package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// Memory keeps records in process memory. Used for the zero-config
// development mode and as the test backend.
type Memory struct {
	mu      sync.RWMutex
	records map[Key][]byte

	// FailWrites makes every Tx fail, for exercising the transient path.
	FailWrites error
}

func NewMemory() *Memory {
	return &Memory{records: make(map[Key][]byte)}
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *Memory) List(_ context.Context, projectID string, kind Kind) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for k, v := range m.records {
		if k.Kind != kind {
			continue
		}
		if projectID != "" && k.ProjectID != projectID {
			continue
		}
		out = append(out, Record{Key: k, Data: slices.Clone(v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.ProjectID != out[j].Key.ProjectID {
			return out[i].Key.ProjectID < out[j].Key.ProjectID
		}
		return out[i].Key.ID < out[j].Key.ID
	})
	return out, nil
}

type memOp struct {
	key           Key
	data          []byte
	del           bool
	deleteProject string
}

type memTx struct {
	ops []memOp
}

func (t *memTx) Put(key Key, data []byte) error {
	t.ops = append(t.ops, memOp{key: key, data: slices.Clone(data)})
	return nil
}

func (t *memTx) Delete(key Key) error {
	t.ops = append(t.ops, memOp{key: key, del: true})
	return nil
}

func (t *memTx) DeleteProject(projectID string) error {
	t.ops = append(t.ops, memOp{deleteProject: projectID})
	return nil
}

// Tx buffers the writes and applies them under one lock once fn succeeds.
func (m *Memory) Tx(_ context.Context, fn func(tx Tx) error) error {
	tx := &memTx{}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	for _, op := range tx.ops {
		switch {
		case op.deleteProject != "":
			for k := range m.records {
				if k.ProjectID == op.deleteProject {
					delete(m.records, k)
				}
			}
		case op.del:
			delete(m.records, op.key)
		default:
			m.records[op.key] = op.data
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Len reports the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
