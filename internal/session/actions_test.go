package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac484/Xuanwu-sub001/internal/blob"
	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/store"
)

func TestWriteActions_ViewerIsForbidden(t *testing.T) {
	deps, _, _ := testDeps(t)
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, viewer)
	events := watch(s.Bus())

	_, err := s.CreateTask(context.Background(), TaskInput{Title: "x"})

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "task.create", writeErr.Action)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, s.State().Tasks)
	s.Bus().Flush()
	assert.Len(t, events.ofType(EventNoticeError), 1)
	assert.Empty(t, events.ofType(EventTaskCreated))
}

func TestWriteActions_StoreFailureIsNotified(t *testing.T) {
	deps, _, ds := testDeps(t)
	ds.createTaskFn = func(context.Context, store.Task) (store.Task, error) {
		return store.Task{}, errors.New("insert task: deadlock detected")
	}
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, editor)
	events := watch(s.Bus())

	_, err := s.CreateTask(context.Background(), TaskInput{Title: "x"})
	require.Error(t, err)

	s.Bus().Flush()
	notices := events.ofType(EventNoticeError)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Payload.(Notice).Message, "deadlock detected")
}

func TestWriteActions_Validation(t *testing.T) {
	deps, _, _ := testDeps(t)
	space := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, editor)
	account := openSession(t, deps, Entity{AccountID: "acc_1"}, editor)
	ctx := context.Background()

	_, err := space.CreateTask(ctx, TaskInput{Title: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = space.CreateTask(ctx, TaskInput{SpaceID: "spc_b", Title: "x"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = account.CreateIssue(ctx, IssueInput{Title: "Leak"})
	assert.ErrorIs(t, err, ErrSpaceRequired)

	_, err = account.CreateIssue(ctx, IssueInput{SpaceID: "spc_zzz", Title: "Leak"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	issue, err := account.CreateIssue(ctx, IssueInput{SpaceID: "spc_b", Title: "Leak"})
	require.NoError(t, err)
	assert.Equal(t, "medium", issue.Severity)
	assert.Contains(t, account.State().Issues, issue.ID)
	assert.Empty(t, space.State().Issues)
}

func TestWriteActions_TaskUpdateAndDelete(t *testing.T) {
	deps, _, _ := testDeps(t)
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, editor)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, TaskInput{Title: "Frame"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTask(ctx, task.ID, TaskInput{Title: "Frame walls", Status: "done"}))
	assert.Equal(t, "done", s.State().Tasks[task.ID].Fields["status"])

	require.NoError(t, s.DeleteTask(ctx, "", task.ID))
	assert.Empty(t, s.State().Tasks)
}

func TestUploadFile(t *testing.T) {
	t.Run("without object storage", func(t *testing.T) {
		deps, _, _ := testDeps(t)
		s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, editor)
		_, err := s.UploadFile(context.Background(), FileInput{Name: "plan.pdf", Body: strings.NewReader("%PDF")})
		assert.ErrorIs(t, err, blob.ErrNotConfigured)
	})

	t.Run("stores object then record", func(t *testing.T) {
		deps, _, _ := testDeps(t)
		blobs := newFakeBlobs()
		deps.Blobs = blobs
		s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, editor)
		ctx := context.Background()

		file, err := s.UploadFile(ctx, FileInput{Name: "plan.pdf", ContentType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF")})
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF"), blobs.objects[file.ObjectKey])
		assert.Contains(t, s.State().Files, file.ID)

		url, err := s.FileURL(ctx, "", file.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://objects.test/"+file.ObjectKey, url)

		require.NoError(t, s.DeleteFile(ctx, "", file.ID))
		assert.Empty(t, s.State().Files)
		assert.Equal(t, []string{file.ObjectKey}, blobs.removed)
	})

	t.Run("failed record removes object", func(t *testing.T) {
		deps, _, ds := testDeps(t)
		blobs := newFakeBlobs()
		deps.Blobs = blobs
		ds.createFileFn = func(context.Context, store.File) (store.File, error) {
			return store.File{}, errors.New("insert file: disk full")
		}
		s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, editor)

		_, err := s.UploadFile(context.Background(), FileInput{Name: "plan.pdf", Body: strings.NewReader("%PDF")})
		require.Error(t, err)
		assert.Empty(t, blobs.objects)
		assert.Len(t, blobs.removed, 1)
	})
}

func TestMountCapability(t *testing.T) {
	deps, _, _ := testDeps(t)
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_b"}, editor)
	ctx := context.Background()

	before := s.Render(ctx, "tasks", capability.Single)
	assert.Equal(t, capability.KindUnavailable, before.Kind)

	require.NoError(t, s.MountCapability(ctx, "", "tasks"))
	after := s.Render(ctx, "tasks", capability.Single)
	assert.Equal(t, capability.KindView, after.Kind)
	assert.True(t, s.Space().Mounted("tasks"))

	err := s.MountCapability(ctx, "", "does-not-exist")
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, s.UnmountCapability(ctx, "", "tasks"))
	assert.False(t, s.Space().Mounted("tasks"))

	reader := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_b"}, member)
	assert.ErrorIs(t, reader.MountCapability(ctx, "", "files"), ErrForbidden)
}

func TestWriteDaily(t *testing.T) {
	deps, db, _ := testDeps(t)
	s := openSession(t, deps, Entity{AccountID: "acc_1"}, member)
	events := watch(s.Bus())

	entry, err := s.WriteDaily(context.Background(), "", "Crew of six on site")
	require.NoError(t, err)
	assert.Empty(t, entry.SpaceID)
	like, ok := s.Like(entry.ID)
	require.True(t, ok)
	assert.Equal(t, LikeState{}, like)

	batch, err := db.Get(context.Background(), live.Path{AccountID: "acc_1", Collection: live.DailyLog})
	require.NoError(t, err)
	require.Len(t, batch, 1)

	s.Bus().Flush()
	assert.Len(t, events.ofType(EventDailyCreated), 1)

	_, err = s.WriteDaily(context.Background(), "spc_zzz", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
