package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/config"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/session"
	"github.com/ac484/Xuanwu-sub001/internal/store"
)

// fakeStore keeps accounts and spaces in maps and writes records into a
// live.Memory handle, so writes flow back through subscriptions.
type fakeStore struct {
	db *live.Memory

	mu       sync.Mutex
	accounts map[string]store.Account
	spaces   map[string]store.Space

	getAccountFn func(context.Context, string) (store.Account, error)
}

func newFakeStore(db *live.Memory) *fakeStore {
	return &fakeStore{
		db: db,
		accounts: map[string]store.Account{
			"acc_1": {ID: "acc_1", Name: "Acme", Slug: "acme"},
		},
		spaces: map[string]store.Space{
			"spc_a": {ID: "spc_a", AccountID: "acc_1", Name: "Alpha", Slug: "alpha", Visibility: store.VisibilityVisible, Capabilities: []string{"tasks", "overview"}},
		},
	}
}

func (f *fakeStore) GetAccount(ctx context.Context, id string) (store.Account, error) {
	if f.getAccountFn != nil {
		return f.getAccountFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return store.Account{}, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	return account, nil
}

func (f *fakeStore) GetSpace(_ context.Context, accountID, spaceID string) (store.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp, ok := f.spaces[spaceID]
	if !ok || sp.AccountID != accountID {
		return store.Space{}, fmt.Errorf("space %s: %w", spaceID, store.ErrNotFound)
	}
	return sp, nil
}

func (f *fakeStore) ListSpaces(_ context.Context, accountID string) ([]store.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Space{}
	for _, sp := range f.spaces {
		if sp.AccountID == accountID {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateTask(_ context.Context, task store.Task) (store.Task, error) {
	task.CreatedAt = time.Now().UTC()
	f.db.Put(live.Path{AccountID: task.AccountID, SpaceID: task.SpaceID, Collection: live.Tasks}, task.Record())
	return task, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, task store.Task) error {
	f.db.Put(live.Path{AccountID: task.AccountID, SpaceID: task.SpaceID, Collection: live.Tasks}, task.Record())
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, accountID, spaceID, id string) error {
	f.db.Delete(live.Path{AccountID: accountID, SpaceID: spaceID, Collection: live.Tasks}, id)
	return nil
}

func (f *fakeStore) CreateIssue(_ context.Context, issue store.Issue) (store.Issue, error) {
	return issue, nil
}

func (f *fakeStore) UpdateIssue(context.Context, store.Issue) error { return nil }

func (f *fakeStore) DeleteIssue(context.Context, string, string, string) error { return nil }

func (f *fakeStore) CreateFile(_ context.Context, file store.File) (store.File, error) {
	return file, nil
}

func (f *fakeStore) GetFile(context.Context, string, string, string) (store.File, error) {
	return store.File{}, store.ErrNotFound
}

func (f *fakeStore) DeleteFile(context.Context, string, string, string) error { return nil }

func (f *fakeStore) MountCapability(context.Context, string, string, string) error { return nil }

func (f *fakeStore) UnmountCapability(context.Context, string, string, string) error { return nil }

func (f *fakeStore) InsertDailyEntry(_ context.Context, entry store.DailyEntry) (store.DailyEntry, error) {
	entry.CreatedAt = time.Now().UTC()
	f.db.Put(live.Path{AccountID: entry.AccountID, Collection: live.DailyLog}, entry.Record())
	return entry, nil
}

func (f *fakeStore) GetDailyLike(context.Context, string, string, string) (bool, int, error) {
	return false, 0, store.ErrNotFound
}

func (f *fakeStore) SetDailyLike(context.Context, string, string, string, bool) error { return nil }

type pingFunc func(context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func quiet(string, ...any) {}

type testEnv struct {
	db      *live.Memory
	store   *fakeStore
	service *Service
	handler http.Handler
	server  *httptest.Server
}

func newTestEnv(t *testing.T, checks map[string]Pinger) *testEnv {
	t.Helper()
	registry, err := capability.Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	db := live.NewMemory()
	fs := newFakeStore(db)
	svc := NewService(config.Config{}, session.Deps{
		DB:       db,
		Store:    fs,
		Renderer: capability.NewRenderer(registry, capability.WithLogf(quiet)),
		Logf:     quiet,
	}, nil, checks)
	handler := NewHTTPServer(svc, "*", nil).Handler()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testEnv{db: db, store: fs, service: svc, handler: handler, server: server}
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

var errDown = errors.New("connection refused")
