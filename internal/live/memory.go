package live

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-process Handle. Writes deliver the new batch to every
// matching subscription before returning, in write order. Callbacks must not
// write back into the same Memory.
type Memory struct {
	writeMu sync.Mutex
	mu      sync.Mutex
	records map[Path]map[string]Record
	subs    map[int64]*memorySub
	nextID  int64
}

type memorySub struct {
	path    Path
	onBatch func(Batch)
	onError func(error)
	active  atomic.Bool
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[Path]map[string]Record),
		subs:    make(map[int64]*memorySub),
	}
}

func (m *Memory) Subscribe(path Path, onBatch func(Batch), onError func(error)) Unsubscribe {
	sub := &memorySub{path: path, onBatch: onBatch, onError: onError}
	sub.active.Store(true)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs[id] = sub
	batch := m.collect(path)
	m.mu.Unlock()

	m.deliver(sub, batch)

	return func() {
		sub.active.Store(false)
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Memory) Get(_ context.Context, path Path) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(path), nil
}

// Put stores or replaces a record at path (a concrete, non-group path).
// Account-scoped records keep their own optional SpaceID.
func (m *Memory) Put(path Path, record Record) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.AccountID = path.AccountID
	if !path.Collection.AccountScoped() {
		record.SpaceID = path.SpaceID
	}
	items := m.records[path]
	if items == nil {
		items = make(map[string]Record)
		m.records[path] = items
	}
	items[record.ID] = record
	m.mu.Unlock()

	m.broadcast(path)
}

func (m *Memory) Delete(path Path, id string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	delete(m.records[path], id)
	m.mu.Unlock()

	m.broadcast(path)
}

// Fail reports err to every subscription covering path.
func (m *Memory) Fail(path Path, err error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	for _, sub := range m.matching(path) {
		if sub.active.Load() && sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) broadcast(path Path) {
	for _, sub := range m.matching(path) {
		m.mu.Lock()
		batch := m.collect(sub.path)
		m.mu.Unlock()
		m.deliver(sub, batch)
	}
}

func (m *Memory) matching(path Path) []*memorySub {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.subs))
	for id, sub := range m.subs {
		if sub.path.Covers(path) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*memorySub, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.subs[id])
	}
	return out
}

func (m *Memory) deliver(sub *memorySub, batch Batch) {
	if sub.active.Load() && sub.onBatch != nil {
		sub.onBatch(batch)
	}
}

// collect must be called with mu held.
func (m *Memory) collect(path Path) Batch {
	batch := make(Batch, 0)
	for stored, items := range m.records {
		if !path.Covers(stored) {
			continue
		}
		for _, record := range items {
			batch = append(batch, record)
		}
	}
	sortBatch(batch)
	return batch
}

func sortBatch(batch Batch) {
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].CreatedAt.Equal(batch[j].CreatedAt) {
			return batch[i].CreatedAt.Before(batch[j].CreatedAt)
		}
		return batch[i].ID < batch[j].ID
	})
}
