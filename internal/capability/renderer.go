package capability

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const DefaultKey = "overview"

type RendererOption func(*Renderer)

func WithDefaultKey(key string) RendererOption {
	return func(r *Renderer) {
		if key = strings.TrimSpace(key); key != "" {
			r.defaultKey = key
		}
	}
}

func WithLogf(logf func(string, ...any)) RendererOption {
	return func(r *Renderer) {
		if logf != nil {
			r.logf = logf
		}
	}
}

// WithRenderHook is called with every panel the renderer returns,
// placeholders included.
func WithRenderHook(fn func(Panel)) RendererOption {
	return func(r *Renderer) {
		r.onRender = fn
	}
}

type Renderer struct {
	registry   *Registry
	defaultKey string
	logf       func(string, ...any)
	onRender   func(Panel)
}

func NewRenderer(registry *Registry, opts ...RendererOption) *Renderer {
	r := &Renderer{
		registry:   registry,
		defaultKey: DefaultKey,
		logf:       log.Printf,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) Registry() *Registry {
	return r.registry
}

func (r *Renderer) DefaultKey() string {
	return r.defaultKey
}

// Resolve returns the view registered for key in mode. When there is none it
// returns the placeholder to show instead. An aggregated request never
// resolves to a single view.
func (r *Renderer) Resolve(key string, mode Mode) (Descriptor, View, *Panel) {
	if key = strings.TrimSpace(key); key == "" {
		key = r.defaultKey
	}
	if mode != Aggregated {
		mode = Single
	}
	desc, ok := r.registry.Lookup(key)
	if !ok {
		p := UnknownPanel(key, mode)
		return Descriptor{}, nil, &p
	}
	view := desc.Views.For(mode)
	if view == nil {
		p := placeholder(desc, mode, KindUnavailable, fmt.Sprintf("%s has no %s view", desc.Label, mode))
		return desc, nil, &p
	}
	return desc, view, nil
}

// Render never fails: every problem is turned into a placeholder panel.
func (r *Renderer) Render(ctx context.Context, key string, in Input) Panel {
	p := r.render(ctx, key, in)
	if r.onRender != nil {
		r.onRender(p)
	}
	return p
}

func (r *Renderer) render(ctx context.Context, key string, in Input) Panel {
	if in.Mode != Aggregated {
		in.Mode = Single
	}
	desc, view, fallback := r.Resolve(key, in.Mode)
	if fallback != nil {
		return *fallback
	}

	if in.Mode == Single && in.Space.ID != "" && desc.Key != r.defaultKey && !in.Space.Mounted(desc.Key) {
		return placeholder(desc, in.Mode, KindUnavailable, fmt.Sprintf("%s is not mounted on this space", desc.Label))
	}

	ok, err := r.registry.Available(desc.Key, in)
	if err != nil {
		r.logf("capability: %v", err)
		return placeholder(desc, in.Mode, KindFailed, fmt.Sprintf("%s failed to load", desc.Label))
	}
	if !ok {
		return placeholder(desc, in.Mode, KindUnavailable, fmt.Sprintf("%s is unavailable here", desc.Label))
	}

	p, err := safeRender(ctx, view, in)
	if err != nil {
		r.logf("capability: render %s (%s) failed: %v", desc.Key, in.Mode, err)
		return placeholder(desc, in.Mode, KindFailed, fmt.Sprintf("%s failed to load", desc.Label))
	}
	p.Capability = desc.Key
	p.Mode = in.Mode
	if p.Kind == "" {
		p.Kind = KindView
	}
	if p.Title == "" {
		p.Title = desc.Label
	}
	return p
}

func safeRender(ctx context.Context, view View, in Input) (p Panel, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return view.Render(ctx, in)
}

func placeholder(desc Descriptor, mode Mode, kind Kind, text string) Panel {
	return Panel{Capability: desc.Key, Mode: mode, Kind: kind, Title: desc.Label, Text: text}
}

func UnknownPanel(key string, mode Mode) Panel {
	return Panel{
		Capability: key,
		Mode:       mode,
		Kind:       KindUnknown,
		Title:      "Unknown capability",
		Text:       "Unknown capability: " + key,
	}
}

func LoadingPanel(key string, mode Mode) Panel {
	return Panel{Capability: key, Mode: mode, Kind: KindLoading, Title: "Loading", Text: "Loading..."}
}
