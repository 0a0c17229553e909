// Package capability resolves pluggable dashboard modules by key and renders
// them for a single space or aggregated across an account.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/state"
	"github.com/ac484/Xuanwu-sub001/internal/store"
)

type Mode string

const (
	Single     Mode = "single"
	Aggregated Mode = "aggregated"
)

func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case "", Single:
		return Single, true
	case Aggregated:
		return Aggregated, true
	default:
		return "", false
	}
}

// Kind tells a rendered view apart from the placeholders the renderer
// substitutes for it.
type Kind string

const (
	KindView        Kind = "view"
	KindUnknown     Kind = "unknown"
	KindUnavailable Kind = "unavailable"
	KindFailed      Kind = "failed"
	KindLoading     Kind = "loading"
)

type Item struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Detail  string `json:"detail,omitempty"`
	SpaceID string `json:"spaceId,omitempty"`
}

type Panel struct {
	Capability string `json:"capability"`
	Mode       Mode   `json:"mode"`
	Kind       Kind   `json:"kind"`
	Title      string `json:"title"`
	Text       string `json:"text,omitempty"`
	Items      []Item `json:"items,omitempty"`
}

func (p Panel) Placeholder() bool {
	return p.Kind != KindView
}

// Reader is the one-shot read side of the live database handle.
type Reader interface {
	Get(ctx context.Context, path live.Path) (live.Batch, error)
}

// Input is everything a view may render from. Space is the zero value in
// aggregated mode.
type Input struct {
	Mode    Mode
	Account store.Account
	Space   store.Space
	Spaces  []store.Space
	State   state.State
	Reader  Reader
}

type View interface {
	Render(ctx context.Context, in Input) (Panel, error)
}

type ViewFunc func(ctx context.Context, in Input) (Panel, error)

func (f ViewFunc) Render(ctx context.Context, in Input) (Panel, error) {
	return f(ctx, in)
}

type Views struct {
	Single     View
	Aggregated View
}

func (v Views) For(mode Mode) View {
	if mode == Aggregated {
		return v.Aggregated
	}
	return v.Single
}

// Lazy defers building a view until it is first rendered. The loader runs at
// most once; its error is returned from every render.
func Lazy(load func() (View, error)) View {
	return &lazyView{load: load}
}

type lazyView struct {
	load func() (View, error)
	once sync.Once
	view View
	err  error
}

func (l *lazyView) Render(ctx context.Context, in Input) (Panel, error) {
	l.once.Do(func() {
		l.view, l.err = l.load()
		if l.err == nil && l.view == nil {
			l.err = fmt.Errorf("loader returned no view")
		}
	})
	if l.err != nil {
		return Panel{}, fmt.Errorf("load view: %w", l.err)
	}
	return l.view.Render(ctx, in)
}
