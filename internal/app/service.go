package app

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/config"
	"github.com/ac484/Xuanwu-sub001/internal/rbac"
	"github.com/ac484/Xuanwu-sub001/internal/search"
	"github.com/ac484/Xuanwu-sub001/internal/session"
	"github.com/ac484/Xuanwu-sub001/internal/store"
)

// Pinger is a dependency reported by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg    config.Config
	deps   session.Deps
	search *search.Service
	checks map[string]Pinger
}

// NewService wires the session dependencies every live connection shares.
// checks name the dependencies /api/ready pings.
func NewService(cfg config.Config, deps session.Deps, searchService *search.Service, checks map[string]Pinger) *Service {
	if checks == nil {
		checks = map[string]Pinger{}
	}
	return &Service{cfg: cfg, deps: deps, search: searchService, checks: checks}
}

// NewProvider returns a provider whose sessions act for actor. extra
// attachers are mounted on every session the provider opens, after the
// shared ones.
func (s *Service) NewProvider(actor rbac.Actor, extra ...session.Attacher) *session.Provider {
	deps := s.deps
	deps.Attachers = append(append([]session.Attacher(nil), s.deps.Attachers...), extra...)
	return session.NewProvider(deps, actor)
}

type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready pings every configured dependency.
func (s *Service) Ready(ctx context.Context) (bool, map[string]CheckResult) {
	ok := true
	results := make(map[string]CheckResult, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			ok = false
			results[name] = CheckResult{Status: "error", Error: err.Error()}
			continue
		}
		results[name] = CheckResult{Status: "ok"}
	}
	return ok, results
}

type CapabilityView struct {
	Key   string            `json:"key"`
	Label string            `json:"label"`
	Icon  string            `json:"icon"`
	Group string            `json:"group"`
	Modes []capability.Mode `json:"modes"`
	When  string            `json:"when,omitempty"`
}

func (s *Service) Capabilities() []CapabilityView {
	if s.deps.Renderer == nil {
		return []CapabilityView{}
	}
	descriptors := s.deps.Renderer.Registry().Descriptors()
	out := make([]CapabilityView, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, CapabilityView{Key: d.Key, Label: d.Label, Icon: d.Icon, Group: d.Group, Modes: d.Modes(), When: d.When})
	}
	return out
}

type SpaceView struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	Visibility   string    `json:"visibility"`
	Protocol     string    `json:"protocol"`
	Capabilities []string  `json:"capabilities"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type AccountView struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Slug   string      `json:"slug"`
	Spaces []SpaceView `json:"spaces"`
}

func spaceView(sp store.Space) SpaceView {
	caps := append([]string{}, sp.Capabilities...)
	sort.Strings(caps)
	return SpaceView{
		ID:           sp.ID,
		AccountID:    sp.AccountID,
		Name:         sp.Name,
		Slug:         sp.Slug,
		Description:  sp.Description,
		Visibility:   sp.Visibility,
		Protocol:     sp.Protocol,
		Capabilities: caps,
		UpdatedAt:    sp.UpdatedAt,
	}
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (AccountView, error) {
	account, err := s.deps.Store.GetAccount(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	spaces, err := s.deps.Store.ListSpaces(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	view := AccountView{ID: account.ID, Name: account.Name, Slug: account.Slug, Spaces: make([]SpaceView, 0, len(spaces))}
	for _, sp := range spaces {
		view.Spaces = append(view.Spaces, spaceView(sp))
	}
	return view, nil
}

func (s *Service) GetSpace(ctx context.Context, accountID, spaceID string) (SpaceView, error) {
	sp, err := s.deps.Store.GetSpace(ctx, accountID, spaceID)
	if err != nil {
		return SpaceView{}, err
	}
	return spaceView(sp), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if strings.TrimSpace(q.AccountID) == "" {
		return search.Response{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "account is required", nil)
	}
	if _, err := s.deps.Store.GetAccount(ctx, q.AccountID); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func (s *Service) DefaultCapability() string {
	if s.deps.Renderer == nil {
		return capability.DefaultKey
	}
	return s.deps.Renderer.DefaultKey()
}
