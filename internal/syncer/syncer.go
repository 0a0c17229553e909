// Package syncer keeps the local state of one entity in step with its live
// sub-collections.
package syncer

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/state"
)

// Entity identifies a space, or a whole account when SpaceID is empty.
type Entity struct {
	AccountID string `json:"accountId"`
	SpaceID   string `json:"spaceId,omitempty"`
}

func (e Entity) Zero() bool {
	return strings.TrimSpace(e.AccountID) == ""
}

func (e Entity) AccountWide() bool {
	return e.SpaceID == ""
}

func (e Entity) String() string {
	if e.AccountWide() {
		return "accounts/" + e.AccountID
	}
	return "accounts/" + e.AccountID + "/spaces/" + e.SpaceID
}

func (e Entity) Path(c live.Collection) live.Path {
	return live.Path{AccountID: e.AccountID, SpaceID: e.SpaceID, Collection: c}
}

// ErrorFunc receives subscription failures. It is the side channel for
// attachment errors; they never reach dispatch.
type ErrorFunc func(c live.Collection, err error)

type Detach func()

// MapBatch keys a batch by record id. An empty batch maps to an empty,
// non-nil map. Ids are unique only within a space: on a duplicate id from
// the same space the later record wins, while a record from another space
// is kept under "spaceID/id".
func MapBatch(batch live.Batch) state.Records {
	out := make(state.Records, len(batch))
	for _, record := range batch {
		key := record.ID
		if prev, ok := out[key]; ok && prev.SpaceID != record.SpaceID {
			key = record.SpaceID + "/" + record.ID
		}
		out[key] = record
	}
	return out
}

type manager struct {
	mu       sync.Mutex
	stopped  bool
	unsubs   []live.Unsubscribe
	dispatch func(state.Action)
	onError  ErrorFunc
}

// Attach opens one subscription per space collection for entity and
// dispatches a SET action for every delivered batch. With no handle or no
// entity it dispatches RESET_STATE and subscribes to nothing. The returned
// Detach stops every subscription before returning; no dispatch happens
// after it.
func Attach(db live.Handle, entity Entity, dispatch func(state.Action), onError ErrorFunc) Detach {
	if db == nil || entity.Zero() {
		dispatch(state.Reset())
		return func() {}
	}
	if onError == nil {
		onError = func(c live.Collection, err error) {
			log.Printf("sync: %s %s: %v", entity, c, err)
		}
	}
	m := &manager{dispatch: dispatch, onError: onError}
	for _, c := range live.SpaceCollections {
		c := c
		unsub := db.Subscribe(entity.Path(c),
			func(batch live.Batch) { m.deliver(c, batch) },
			func(err error) { m.fail(c, err) },
		)
		m.mu.Lock()
		m.unsubs = append(m.unsubs, unsub)
		m.mu.Unlock()
	}
	return m.detach
}

func (m *manager) deliver(c live.Collection, batch live.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	action, err := state.SetAction(c, MapBatch(batch))
	if err != nil {
		m.onError(c, err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.onError(c, fmt.Errorf("dispatch panicked: %v", r))
		}
	}()
	m.dispatch(action)
}

func (m *manager) fail(c live.Collection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.onError(c, err)
}

func (m *manager) detach() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
