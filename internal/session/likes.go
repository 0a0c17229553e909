package session

import (
	"context"

	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/rbac"
)

type LikeState struct {
	Liked bool `json:"liked"`
	Count int  `json:"count"`
}

// TrackLike sets the session's view of an entry's like state. Entries the
// session has not seen are loaded from the store on their first toggle.
func (s *Session) TrackLike(entryID string, liked bool, count int) {
	s.mu.Lock()
	s.likes[entryID] = LikeState{Liked: liked, Count: count}
	s.mu.Unlock()
}

func (s *Session) Like(entryID string) (LikeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	like, ok := s.likes[entryID]
	return like, ok
}

// ToggleLike flips the actor's like optimistically, then persists it. When
// the write fails the previous state is restored, unless something else
// changed it meanwhile.
func (s *Session) ToggleLike(ctx context.Context, entryID string) (LikeState, error) {
	var result LikeState
	err := s.write("daily.like", rbac.ActionReact, func() error {
		if err := s.loadLike(ctx, entryID); err != nil {
			return err
		}
		s.mu.Lock()
		prev := s.likes[entryID]
		next := LikeState{Liked: !prev.Liked, Count: prev.Count + 1}
		if prev.Liked {
			next.Count = prev.Count - 1
			if next.Count < 0 {
				next.Count = 0
			}
		}
		s.likes[entryID] = next
		s.mu.Unlock()
		s.bus.Publish(EventLikeChanged, LikeChange{EntryID: entryID, Like: next})

		if err := s.deps.Store.SetDailyLike(ctx, s.entity.AccountID, entryID, s.actor.ID, next.Liked); err != nil {
			s.mu.Lock()
			if s.likes[entryID] == next {
				s.likes[entryID] = prev
			}
			s.mu.Unlock()
			s.bus.Publish(EventLikeChanged, LikeChange{EntryID: entryID, Like: prev})
			result = prev
			return err
		}
		s.touch(ctx, s.path("", live.DailyLog))
		result = next
		return nil
	})
	if err != nil {
		if like, ok := s.Like(entryID); ok {
			result = like
		}
	}
	return result, err
}

// loadLike seeds an untracked entry from the persisted like count and the
// actor's own like.
func (s *Session) loadLike(ctx context.Context, entryID string) error {
	if _, ok := s.Like(entryID); ok {
		return nil
	}
	liked, count, err := s.deps.Store.GetDailyLike(ctx, s.entity.AccountID, entryID, s.actor.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.likes[entryID]; !ok {
		s.likes[entryID] = LikeState{Liked: liked, Count: count}
	}
	s.mu.Unlock()
	return nil
}
