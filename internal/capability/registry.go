package capability

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var ErrDuplicateKey = errors.New("capability: duplicate key")

type Descriptor struct {
	Key   string
	Label string
	Icon  string
	Group string
	// When is an optional boolean expression over the render input; see
	// whenEnv for the available names.
	When  string
	Views Views
}

// Modes lists the modes the descriptor has a view for.
func (d Descriptor) Modes() []Mode {
	modes := make([]Mode, 0, 2)
	if d.Views.Single != nil {
		modes = append(modes, Single)
	}
	if d.Views.Aggregated != nil {
		modes = append(modes, Aggregated)
	}
	return modes
}

type Group struct {
	Name         string
	Capabilities []Descriptor
}

type entry struct {
	Descriptor
	when *vm.Program
}

// Registry is the read-only union of capability groups.
type Registry struct {
	entries map[string]entry
	order   []string
}

type whenAccount struct {
	ID   string `expr:"id"`
	Name string `expr:"name"`
}

type whenSpace struct {
	ID           string   `expr:"id"`
	Name         string   `expr:"name"`
	Visibility   string   `expr:"visibility"`
	Protocol     string   `expr:"protocol"`
	Capabilities []string `expr:"capabilities"`
	Archived     bool     `expr:"archived"`
}

type whenEnv struct {
	Mode       string         `expr:"mode"`
	Aggregated bool           `expr:"aggregated"`
	Account    whenAccount    `expr:"account"`
	Space      whenSpace      `expr:"space"`
	Counts     map[string]int `expr:"counts"`
}

func newWhenEnv(in Input) whenEnv {
	counts := make(map[string]int)
	for c, n := range in.State.Counts() {
		counts[string(c)] = n
	}
	return whenEnv{
		Mode:       string(in.Mode),
		Aggregated: in.Mode == Aggregated,
		Account:    whenAccount{ID: in.Account.ID, Name: in.Account.Name},
		Space: whenSpace{
			ID:           in.Space.ID,
			Name:         in.Space.Name,
			Visibility:   in.Space.Visibility,
			Protocol:     in.Space.Protocol,
			Capabilities: in.Space.Capabilities,
			Archived:     in.Space.Visibility == "archived",
		},
		Counts: counts,
	}
}

// NewRegistry merges groups in order. A key declared twice, within a group or
// across groups, is an error.
func NewRegistry(groups ...Group) (*Registry, error) {
	r := &Registry{entries: make(map[string]entry)}
	for _, group := range groups {
		for _, desc := range group.Capabilities {
			key := strings.TrimSpace(desc.Key)
			if key == "" {
				return nil, fmt.Errorf("register %s capability: key is required", group.Name)
			}
			if existing, ok := r.entries[key]; ok {
				return nil, fmt.Errorf("register %q in %s (already in %s): %w", key, group.Name, existing.Group, ErrDuplicateKey)
			}
			if desc.Views.Single == nil {
				return nil, fmt.Errorf("register %q: single view is required", key)
			}
			desc.Key = key
			desc.Group = group.Name
			if desc.Label == "" {
				desc.Label = key
			}

			e := entry{Descriptor: desc}
			if desc.When != "" {
				program, err := expr.Compile(desc.When, expr.Env(whenEnv{}), expr.AsBool())
				if err != nil {
					return nil, fmt.Errorf("compile %q availability: %w", key, err)
				}
				e.when = program
			}
			r.entries[key] = e
			r.order = append(r.order, key)
		}
	}
	return r, nil
}

func (r *Registry) Lookup(key string) (Descriptor, bool) {
	e, ok := r.entries[key]
	return e.Descriptor, ok
}

// Descriptors returns every capability in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key].Descriptor)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Available evaluates the capability's When predicate. Capabilities without
// one are always available.
func (r *Registry) Available(key string, in Input) (bool, error) {
	e, ok := r.entries[key]
	if !ok {
		return false, nil
	}
	if e.when == nil {
		return true, nil
	}
	out, err := expr.Run(e.when, newWhenEnv(in))
	if err != nil {
		return false, fmt.Errorf("evaluate %q availability: %w", key, err)
	}
	ok, _ = out.(bool)
	return ok, nil
}
