package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/eventbus"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/rbac"
	"github.com/ac484/Xuanwu-sub001/internal/store"
)

// memStore is a write facade that stores into a live.Memory handle so that
// writes come back through the session's subscriptions.
type memStore struct {
	db *live.Memory

	mu       sync.Mutex
	accounts map[string]store.Account
	spaces   map[string]store.Space
	files    map[string]store.File
	likes    map[string]bool

	getAccountFn   func(context.Context, string) (store.Account, error)
	createTaskFn   func(context.Context, store.Task) (store.Task, error)
	createFileFn   func(context.Context, store.File) (store.File, error)
	setDailyLikeFn func(context.Context, string, string, string, bool) error
}

func newMemStore(db *live.Memory) *memStore {
	return &memStore{
		db: db,
		accounts: map[string]store.Account{
			"acc_1": {ID: "acc_1", Name: "Acme"},
		},
		spaces: map[string]store.Space{
			"spc_a": {ID: "spc_a", AccountID: "acc_1", Name: "Alpha", Visibility: store.VisibilityVisible, Capabilities: []string{"overview", "tasks"}},
			"spc_b": {ID: "spc_b", AccountID: "acc_1", Name: "Beta", Visibility: store.VisibilityVisible, Capabilities: []string{"overview"}},
		},
		files: map[string]store.File{},
		likes: map[string]bool{},
	}
}

func (f *memStore) GetAccount(ctx context.Context, id string) (store.Account, error) {
	if f.getAccountFn != nil {
		return f.getAccountFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return store.Account{}, fmt.Errorf("account: %w", store.ErrNotFound)
	}
	return account, nil
}

func (f *memStore) GetSpace(_ context.Context, accountID, spaceID string) (store.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	space, ok := f.spaces[spaceID]
	if !ok || space.AccountID != accountID {
		return store.Space{}, fmt.Errorf("space: %w", store.ErrNotFound)
	}
	return space, nil
}

func (f *memStore) ListSpaces(_ context.Context, accountID string) ([]store.Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Space, 0)
	for _, id := range []string{"spc_a", "spc_b"} {
		if sp, ok := f.spaces[id]; ok && sp.AccountID == accountID {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (f *memStore) CreateTask(ctx context.Context, task store.Task) (store.Task, error) {
	if f.createTaskFn != nil {
		return f.createTaskFn(ctx, task)
	}
	task.CreatedAt = time.Now().UTC()
	f.db.Put(live.Path{AccountID: task.AccountID, SpaceID: task.SpaceID, Collection: live.Tasks}, task.Record())
	return task, nil
}

func (f *memStore) UpdateTask(_ context.Context, task store.Task) error {
	f.db.Put(live.Path{AccountID: task.AccountID, SpaceID: task.SpaceID, Collection: live.Tasks}, task.Record())
	return nil
}

func (f *memStore) DeleteTask(_ context.Context, accountID, spaceID, id string) error {
	f.db.Delete(live.Path{AccountID: accountID, SpaceID: spaceID, Collection: live.Tasks}, id)
	return nil
}

func (f *memStore) CreateIssue(_ context.Context, issue store.Issue) (store.Issue, error) {
	issue.CreatedAt = time.Now().UTC()
	f.db.Put(live.Path{AccountID: issue.AccountID, SpaceID: issue.SpaceID, Collection: live.Issues}, issue.Record())
	return issue, nil
}

func (f *memStore) UpdateIssue(_ context.Context, issue store.Issue) error {
	f.db.Put(live.Path{AccountID: issue.AccountID, SpaceID: issue.SpaceID, Collection: live.Issues}, issue.Record())
	return nil
}

func (f *memStore) DeleteIssue(_ context.Context, accountID, spaceID, id string) error {
	f.db.Delete(live.Path{AccountID: accountID, SpaceID: spaceID, Collection: live.Issues}, id)
	return nil
}

func (f *memStore) CreateFile(ctx context.Context, file store.File) (store.File, error) {
	if f.createFileFn != nil {
		return f.createFileFn(ctx, file)
	}
	file.CreatedAt = time.Now().UTC()
	f.mu.Lock()
	f.files[file.ID] = file
	f.mu.Unlock()
	f.db.Put(live.Path{AccountID: file.AccountID, SpaceID: file.SpaceID, Collection: live.Files}, file.Record())
	return file, nil
}

func (f *memStore) GetFile(_ context.Context, accountID, spaceID, id string) (store.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok || file.AccountID != accountID || file.SpaceID != spaceID {
		return store.File{}, fmt.Errorf("file: %w", store.ErrNotFound)
	}
	return file, nil
}

func (f *memStore) DeleteFile(_ context.Context, accountID, spaceID, id string) error {
	f.mu.Lock()
	delete(f.files, id)
	f.mu.Unlock()
	f.db.Delete(live.Path{AccountID: accountID, SpaceID: spaceID, Collection: live.Files}, id)
	return nil
}

func (f *memStore) MountCapability(_ context.Context, _, spaceID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.spaces[spaceID]
	sp.Capabilities = append(sp.Capabilities, key)
	f.spaces[spaceID] = sp
	return nil
}

func (f *memStore) UnmountCapability(context.Context, string, string, string) error {
	return nil
}

func (f *memStore) InsertDailyEntry(_ context.Context, entry store.DailyEntry) (store.DailyEntry, error) {
	entry.CreatedAt = time.Now().UTC()
	f.db.Put(live.Path{AccountID: entry.AccountID, Collection: live.DailyLog}, entry.Record())
	return entry, nil
}

// GetDailyLike reads the like count from the daily log record in the live
// handle.
func (f *memStore) GetDailyLike(ctx context.Context, accountID, entryID, userID string) (bool, int, error) {
	batch, err := f.db.Get(ctx, live.Path{AccountID: accountID, Collection: live.DailyLog})
	if err != nil {
		return false, 0, err
	}
	for _, record := range batch {
		if record.ID != entryID {
			continue
		}
		count, _ := record.Fields["likeCount"].(int)
		f.mu.Lock()
		liked := f.likes[entryID+"/"+userID]
		f.mu.Unlock()
		return liked, count, nil
	}
	return false, 0, fmt.Errorf("daily entry %s: %w", entryID, store.ErrNotFound)
}

func (f *memStore) SetDailyLike(ctx context.Context, accountID, entryID, userID string, liked bool) error {
	if f.setDailyLikeFn != nil {
		return f.setDailyLikeFn(ctx, accountID, entryID, userID, liked)
	}
	f.mu.Lock()
	f.likes[entryID+"/"+userID] = liked
	f.mu.Unlock()
	return nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (b *fakeBlobs) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()
	return nil
}

func (b *fakeBlobs) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.removed = append(b.removed, key)
	b.mu.Unlock()
	return nil
}

func (b *fakeBlobs) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

// eventLog records every event of a bus.
type eventLog struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func watch(bus *eventbus.Bus) *eventLog {
	l := &eventLog{}
	bus.Subscribe(eventbus.Wildcard, func(_ context.Context, ev eventbus.Event) error {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
		return nil
	})
	return l
}

func (l *eventLog) ofType(eventType string) []eventbus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]eventbus.Event, 0)
	for _, ev := range l.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

var (
	editor = rbac.Actor{ID: "usr_editor", Role: rbac.RoleEditor}
	viewer = rbac.Actor{ID: "usr_viewer", Role: rbac.RoleViewer}
	member = rbac.Actor{ID: "usr_member", Role: rbac.RoleMember}
)

func testDeps(t *testing.T) (Deps, *live.Memory, *memStore) {
	t.Helper()
	registry, err := capability.Default()
	require.NoError(t, err)
	db := live.NewMemory()
	ds := newMemStore(db)
	return Deps{
		DB:       db,
		Store:    ds,
		Renderer: capability.NewRenderer(registry, capability.WithLogf(t.Logf)),
		Logf:     t.Logf,
	}, db, ds
}

func openSession(t *testing.T, deps Deps, entity Entity, actor rbac.Actor) *Session {
	t.Helper()
	s, err := Open(context.Background(), deps, entity, actor)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func taskPath(spaceID string) live.Path {
	return live.Path{AccountID: "acc_1", SpaceID: spaceID, Collection: live.Tasks}
}

func taskRecord(id string) live.Record {
	return live.Record{ID: id, Fields: map[string]any{"title": "Task " + id, "status": "open"}}
}
