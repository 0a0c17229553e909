// Package live defines the database handle the sync core subscribes through,
// plus the in-memory, Redis-notified, and polling implementations of it.
package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Collection string

const (
	Tasks    Collection = "tasks"
	Issues   Collection = "issues"
	Files    Collection = "files"
	AuditLog Collection = "auditLog"
	DailyLog Collection = "dailyLog"
)

// SpaceCollections are the live sub-collections owned by a space.
var SpaceCollections = []Collection{Tasks, Issues, Files}

var ErrClosed = errors.New("live: handle closed")

// AccountScoped reports whether records of c live directly under an account.
func (c Collection) AccountScoped() bool {
	return c == AuditLog || c == DailyLog
}

func (c Collection) Known() bool {
	switch c {
	case Tasks, Issues, Files, AuditLog, DailyLog:
		return true
	default:
		return false
	}
}

// Path addresses a collection. An empty SpaceID on a space collection selects
// the collection group across every space of the account.
type Path struct {
	AccountID  string
	SpaceID    string
	Collection Collection
}

func (p Path) Group() bool {
	return !p.Collection.AccountScoped() && p.SpaceID == ""
}

func (p Path) Valid() bool {
	return strings.TrimSpace(p.AccountID) != "" && p.Collection.Known()
}

func (p Path) String() string {
	if p.Collection.AccountScoped() {
		return "accounts/" + p.AccountID + "/" + string(p.Collection)
	}
	space := p.SpaceID
	if space == "" {
		space = "*"
	}
	return "accounts/" + p.AccountID + "/spaces/" + space + "/" + string(p.Collection)
}

// Covers reports whether a record stored at q is part of p's result set.
func (p Path) Covers(q Path) bool {
	if p.AccountID != q.AccountID || p.Collection != q.Collection {
		return false
	}
	if p.Collection.AccountScoped() || p.SpaceID == "" {
		return true
	}
	return p.SpaceID == q.SpaceID
}

// WithGroup returns the path itself plus, for a space path, its account group.
func (p Path) WithGroup() []Path {
	if p.Collection.AccountScoped() || p.SpaceID == "" {
		return []Path{p}
	}
	group := p
	group.SpaceID = ""
	return []Path{p, group}
}

func ParsePath(raw string) (Path, error) {
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "accounts":
		p := Path{AccountID: parts[1], Collection: Collection(parts[2])}
		if !p.Collection.AccountScoped() || !p.Valid() {
			return Path{}, fmt.Errorf("invalid account path %q", raw)
		}
		return p, nil
	case len(parts) == 5 && parts[0] == "accounts" && parts[2] == "spaces":
		p := Path{AccountID: parts[1], SpaceID: parts[3], Collection: Collection(parts[4])}
		if p.SpaceID == "*" {
			p.SpaceID = ""
		}
		if p.Collection.AccountScoped() || !p.Valid() {
			return Path{}, fmt.Errorf("invalid space path %q", raw)
		}
		return p, nil
	default:
		return Path{}, fmt.Errorf("invalid path %q", raw)
	}
}

// Record is one stored row as delivered by a subscription.
type Record struct {
	ID        string         `json:"id"`
	AccountID string         `json:"accountId"`
	SpaceID   string         `json:"spaceId,omitempty"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Batch is the full current result set of a subscription.
type Batch []Record

type Unsubscribe func()

// Handle is the database collaborator consumed by the sync core. Every
// delivery carries the complete current batch for the path; errors go to
// onError and never stop other subscriptions.
type Handle interface {
	Subscribe(path Path, onBatch func(Batch), onError func(error)) Unsubscribe
	Get(ctx context.Context, path Path) (Batch, error)
}

// Notifier is implemented by handles that need to be told about writes made
// through the external write facade.
type Notifier interface {
	Touch(ctx context.Context, path Path) error
}

// Loader performs the one-shot query behind a subscription.
type Loader interface {
	LoadCollection(ctx context.Context, path Path) (Batch, error)
}

type LoaderFunc func(ctx context.Context, path Path) (Batch, error)

func (f LoaderFunc) LoadCollection(ctx context.Context, path Path) (Batch, error) {
	return f(ctx, path)
}
