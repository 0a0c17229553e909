// Package session owns the live context of one account or space: its local
// state, its event bus, and its subscriptions. A Provider swaps sessions when
// the selected entity changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/eventbus"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/metrics"
	"github.com/ac484/Xuanwu-sub001/internal/rbac"
	"github.com/ac484/Xuanwu-sub001/internal/state"
	"github.com/ac484/Xuanwu-sub001/internal/store"
	"github.com/ac484/Xuanwu-sub001/internal/syncer"
)

type Entity = syncer.Entity

// DataStore is the write facade plus the one-shot lookups used to resolve an
// entity.
type DataStore interface {
	GetAccount(context.Context, string) (store.Account, error)
	GetSpace(context.Context, string, string) (store.Space, error)
	ListSpaces(context.Context, string) ([]store.Space, error)
	CreateTask(context.Context, store.Task) (store.Task, error)
	UpdateTask(context.Context, store.Task) error
	DeleteTask(context.Context, string, string, string) error
	CreateIssue(context.Context, store.Issue) (store.Issue, error)
	UpdateIssue(context.Context, store.Issue) error
	DeleteIssue(context.Context, string, string, string) error
	CreateFile(context.Context, store.File) (store.File, error)
	GetFile(context.Context, string, string, string) (store.File, error)
	DeleteFile(context.Context, string, string, string) error
	MountCapability(context.Context, string, string, string) error
	UnmountCapability(context.Context, string, string, string) error
	InsertDailyEntry(context.Context, store.DailyEntry) (store.DailyEntry, error)
	GetDailyLike(context.Context, string, string, string) (bool, int, error)
	SetDailyLike(context.Context, string, string, string, bool) error
}

type Blobs interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Attacher is a bus consumer mounted for the lifetime of each session, such
// as the audit handler.
type Attacher interface {
	Attach(bus *eventbus.Bus) func()
}

type Deps struct {
	DB        live.Handle
	Store     DataStore
	Blobs     Blobs
	Renderer  *capability.Renderer
	Metrics   *metrics.Metrics
	Attachers []Attacher
	Logf      func(string, ...any)
}

func (d Deps) logf(format string, args ...any) {
	if d.Logf != nil {
		d.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

type Session struct {
	entity Entity
	actor  rbac.Actor
	deps   Deps
	bus    *eventbus.Bus

	mu      sync.RWMutex
	closed  bool
	account store.Account
	space   store.Space
	spaces  []store.Space
	state   state.State
	syncErr map[live.Collection]string
	likes   map[string]LikeState

	detach    syncer.Detach
	unmount   []func()
	closeOnce sync.Once
}

// Resolve looks up the account, and the space for a space entity. Lookup
// failures wrap ErrNotFound or ErrNotResolvable.
func Resolve(ctx context.Context, ds DataStore, entity Entity) (store.Account, store.Space, []store.Space, error) {
	if ds == nil || entity.Zero() {
		return store.Account{}, store.Space{}, nil, ErrNotResolvable
	}
	account, err := ds.GetAccount(ctx, entity.AccountID)
	if err != nil {
		return store.Account{}, store.Space{}, nil, resolveError(entity, err)
	}
	spaces, err := ds.ListSpaces(ctx, entity.AccountID)
	if err != nil {
		return store.Account{}, store.Space{}, nil, resolveError(entity, err)
	}
	var space store.Space
	if !entity.AccountWide() {
		if space, err = ds.GetSpace(ctx, entity.AccountID, entity.SpaceID); err != nil {
			return store.Account{}, store.Space{}, nil, resolveError(entity, err)
		}
	}
	return account, space, spaces, nil
}

func resolveError(entity Entity, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resolve %s: %w", entity, ErrNotFound)
	}
	return fmt.Errorf("resolve %s: %w: %v", entity, ErrNotResolvable, err)
}

// Open resolves entity and mounts a session for it: empty state, a new bus
// with the attachers subscribed, then the live subscriptions.
func Open(ctx context.Context, deps Deps, entity Entity, actor rbac.Actor) (*Session, error) {
	account, space, spaces, err := Resolve(ctx, deps.Store, entity)
	if err != nil {
		return nil, err
	}

	s := &Session{
		entity:  entity,
		actor:   actor,
		deps:    deps,
		account: account,
		space:   space,
		spaces:  spaces,
		state:   state.Empty(),
		syncErr: make(map[live.Collection]string),
		likes:   make(map[string]LikeState),
	}
	s.bus = eventbus.New(
		eventbus.WithLogf(deps.logf),
		eventbus.WithFailureHook(func(ev eventbus.Event, _ error) { deps.Metrics.HandlerFailure(ev.Type) }),
	)
	for _, a := range deps.Attachers {
		s.unmount = append(s.unmount, a.Attach(s.bus))
	}
	deps.Metrics.SessionOpened()

	detach := syncer.Attach(deps.DB, entity, s.Dispatch, s.subscriptionFailed)
	s.mu.Lock()
	s.detach = detach
	s.mu.Unlock()
	return s, nil
}

func (s *Session) Entity() Entity {
	return s.entity
}

func (s *Session) Actor() rbac.Actor {
	return s.actor
}

func (s *Session) Bus() *eventbus.Bus {
	return s.bus
}

func (s *Session) Account() store.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// Space is the zero value for an account-wide session.
func (s *Session) Space() store.Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.space
}

func (s *Session) Spaces() []store.Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Space(nil), s.spaces...)
}

func (s *Session) State() state.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SyncErrors reports the collections whose subscription last failed.
func (s *Session) SyncErrors() map[live.Collection]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[live.Collection]string, len(s.syncErr))
	for c, msg := range s.syncErr {
		out[c] = msg
	}
	return out
}

// Dispatch applies action to the session state. It is a no-op once the
// session is closed.
func (s *Session) Dispatch(action state.Action) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = state.Reduce(s.state, action)
	c, isSet := action.Type.Collection()
	if isSet {
		delete(s.syncErr, c)
	}
	counts := s.state.Counts()
	s.mu.Unlock()

	if isSet {
		s.deps.Metrics.Batch(string(c))
	}
	s.bus.Publish(EventStateChanged, StateChange{Action: string(action.Type), Counts: counts})
}

func (s *Session) subscriptionFailed(c live.Collection, err error) {
	s.deps.logf("sync: %s %s: %v", s.entity, c, err)
	s.deps.Metrics.SubscriptionError(string(c))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.syncErr[c] = err.Error()
	s.mu.Unlock()
	s.bus.Publish(EventSyncError, SyncError{Collection: c, Message: err.Error()})
}

// LogEvent publishes an ad hoc audited event on the session bus.
func (s *Session) LogEvent(action string, target string, details map[string]any) {
	s.bus.Publish(LogEventPrefix+action, s.event(s.entity.SpaceID, target, "", nil, details))
}

func (s *Session) event(spaceID, target string, c live.Collection, record *live.Record, details map[string]any) DomainEvent {
	return DomainEvent{
		AccountID:  s.entity.AccountID,
		SpaceID:    spaceID,
		Actor:      s.actor.ID,
		Target:     target,
		Collection: c,
		Record:     record,
		Details:    details,
	}
}

// Render resolves key against the current session state.
func (s *Session) Render(ctx context.Context, key string, mode capability.Mode) capability.Panel {
	if s.deps.Renderer == nil {
		return capability.UnknownPanel(key, mode)
	}
	s.mu.RLock()
	in := capability.Input{
		Mode:    mode,
		Account: s.account,
		Space:   s.space,
		Spaces:  append([]store.Space(nil), s.spaces...),
		State:   s.state,
		Reader:  s.deps.DB,
	}
	s.mu.RUnlock()
	return s.deps.Renderer.Render(ctx, key, in)
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close stops every subscription, then drains and closes the bus. No
// dispatch reaches the session state after Close returns.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.RLock()
		detach := s.detach
		s.mu.RUnlock()
		if detach != nil {
			detach()
		}

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.bus.Close()
		for _, unmount := range s.unmount {
			unmount()
		}
		s.deps.Metrics.SessionClosed()
	})
}
