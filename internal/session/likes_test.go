package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/store"
)

func TestToggleLike_OptimisticThenRolledBackOnFailure(t *testing.T) {
	deps, _, ds := testDeps(t)
	release := make(chan error)
	ds.setDailyLikeFn = func(context.Context, string, string, string, bool) error {
		return <-release
	}
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, member)
	events := watch(s.Bus())
	s.TrackLike("dly_1", false, 3)

	type outcome struct {
		like LikeState
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		like, err := s.ToggleLike(context.Background(), "dly_1")
		done <- outcome{like, err}
	}()

	require.Eventually(t, func() bool {
		like, _ := s.Like("dly_1")
		return like == LikeState{Liked: true, Count: 4}
	}, time.Second, 5*time.Millisecond)

	release <- errors.New("backend unavailable")
	got := <-done

	require.Error(t, got.err)
	var writeErr *WriteError
	require.ErrorAs(t, got.err, &writeErr)
	assert.Equal(t, "daily.like", writeErr.Action)
	assert.Equal(t, LikeState{Liked: false, Count: 3}, got.like)
	like, _ := s.Like("dly_1")
	assert.Equal(t, LikeState{Liked: false, Count: 3}, like)

	s.Bus().Flush()
	changes := events.ofType(EventLikeChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, LikeState{Liked: true, Count: 4}, changes[0].Payload.(LikeChange).Like)
	assert.Equal(t, LikeState{Liked: false, Count: 3}, changes[1].Payload.(LikeChange).Like)
	notices := events.ofType(EventNoticeError)
	require.Len(t, notices, 1)
	assert.Equal(t, "daily.like", notices[0].Payload.(Notice).Action)
}

func TestToggleLike_PersistsAndFlipsBack(t *testing.T) {
	deps, _, ds := testDeps(t)
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, member)
	s.TrackLike("dly_1", false, 0)

	like, err := s.ToggleLike(context.Background(), "dly_1")
	require.NoError(t, err)
	assert.Equal(t, LikeState{Liked: true, Count: 1}, like)
	assert.True(t, ds.likes["dly_1/usr_member"])

	like, err = s.ToggleLike(context.Background(), "dly_1")
	require.NoError(t, err)
	assert.Equal(t, LikeState{Liked: false, Count: 0}, like)
	assert.False(t, ds.likes["dly_1/usr_member"])
}

func TestToggleLike_ViewerIsForbiddenWithoutOptimisticChange(t *testing.T) {
	deps, _, _ := testDeps(t)
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, viewer)
	s.TrackLike("dly_1", false, 3)

	like, err := s.ToggleLike(context.Background(), "dly_1")

	assert.True(t, IsForbidden(err))
	assert.Equal(t, LikeState{Liked: false, Count: 3}, like)
}

func TestToggleLike_LoadsUntrackedEntryFromStore(t *testing.T) {
	deps, db, ds := testDeps(t)
	db.Put(live.Path{AccountID: "acc_1", Collection: live.DailyLog}, live.Record{
		ID:        "dly_ext",
		AccountID: "acc_1",
		SpaceID:   "spc_b",
		Fields:    map[string]any{"body": "shipped", "likeCount": 3},
	})
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, member)

	like, err := s.ToggleLike(context.Background(), "dly_ext")
	require.NoError(t, err)
	assert.Equal(t, LikeState{Liked: true, Count: 4}, like)
	assert.True(t, ds.likes["dly_ext/usr_member"])

	like, err = s.ToggleLike(context.Background(), "dly_ext")
	require.NoError(t, err)
	assert.Equal(t, LikeState{Liked: false, Count: 3}, like)
}

func TestToggleLike_UnknownEntryFailsWithoutChange(t *testing.T) {
	deps, _, _ := testDeps(t)
	s := openSession(t, deps, Entity{AccountID: "acc_1", SpaceID: "spc_a"}, member)

	_, err := s.ToggleLike(context.Background(), "dly_missing")

	require.ErrorIs(t, err, store.ErrNotFound)
	_, tracked := s.Like("dly_missing")
	assert.False(t, tracked)
}
