package session

import (
	"context"
	"errors"
	"sync"

	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/rbac"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusLoading  Status = "loading"
	StatusNotFound Status = "not_found"
	StatusReady    Status = "ready"
)

// Provider holds at most one mounted session and replaces it when a
// different entity is selected.
type Provider struct {
	deps  Deps
	actor rbac.Actor

	mu      sync.Mutex
	entity  Entity
	status  Status
	err     error
	current *Session
}

func NewProvider(deps Deps, actor rbac.Actor) *Provider {
	return &Provider{deps: deps, actor: actor, status: StatusIdle}
}

// Select mounts entity. Selecting the mounted entity again is a no-op. The
// previous session is closed, subscriptions first, before the next one is
// resolved. An entity that cannot be resolved leaves the provider in the
// loading or not_found status with no session.
func (p *Provider) Select(ctx context.Context, entity Entity) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.entity == entity {
		return p.status, nil
	}
	p.closeLocked()
	p.entity = entity

	s, err := Open(ctx, p.deps, entity, p.actor)
	switch {
	case err == nil:
		p.current = s
		p.status = StatusReady
	case errors.Is(err, ErrNotFound):
		p.status = StatusNotFound
	default:
		p.status = StatusLoading
	}
	p.err = err
	return p.status, err
}

func (p *Provider) Status() (Entity, Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entity, p.status, p.err
}

// Session returns the mounted session, or nil while none is mounted.
func (p *Provider) Session() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Render draws key with the mounted session, or a loading panel when there
// is none.
func (p *Provider) Render(ctx context.Context, key string, mode capability.Mode) capability.Panel {
	s := p.Session()
	if s == nil {
		if key == "" && p.deps.Renderer != nil {
			key = p.deps.Renderer.DefaultKey()
		}
		return capability.LoadingPanel(key, mode)
	}
	return s.Render(ctx, key, mode)
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	p.entity = Entity{}
	p.status = StatusIdle
	p.err = nil
}

func (p *Provider) closeLocked() {
	if p.current == nil {
		return
	}
	p.current.Close()
	p.current = nil
}
