package session

import (
	"errors"

	"github.com/ac484/Xuanwu-sub001/internal/live"
)

// Bus event types published by a session.
const (
	EventStateChanged = "state.changed"
	EventSyncError    = "sync.error"
	EventNoticeError  = "notice.error"
	EventLikeChanged  = "like.changed"

	EventTaskCreated         = "task.created"
	EventTaskUpdated         = "task.updated"
	EventTaskDeleted         = "task.deleted"
	EventIssueCreated        = "issue.created"
	EventIssueUpdated        = "issue.updated"
	EventIssueDeleted        = "issue.deleted"
	EventFileUploaded        = "file.uploaded"
	EventFileDeleted         = "file.deleted"
	EventCapabilityMounted   = "capability.mounted"
	EventCapabilityUnmounted = "capability.unmounted"
	EventDailyCreated        = "daily.created"

	// LogEventPrefix prefixes event types published through LogEvent.
	LogEventPrefix = "log."
)

var (
	ErrNotResolvable = errors.New("session: entity not resolvable")
	ErrNotFound      = errors.New("session: entity not found")
	ErrForbidden     = errors.New("session: forbidden")
	ErrClosed        = errors.New("session: closed")
	ErrSpaceRequired = errors.New("session: space is required")
	ErrInvalidInput  = errors.New("session: invalid input")
)

// DomainEvent is the payload of every task, issue, file, capability, daily,
// and LogEvent event.
type DomainEvent struct {
	AccountID  string          `json:"accountId"`
	SpaceID    string          `json:"spaceId,omitempty"`
	Actor      string          `json:"actor"`
	Target     string          `json:"target"`
	Collection live.Collection `json:"collection,omitempty"`
	Record     *live.Record    `json:"record,omitempty"`
	Details    map[string]any  `json:"details,omitempty"`
}

type StateChange struct {
	Action string                  `json:"action"`
	Counts map[live.Collection]int `json:"counts"`
}

type SyncError struct {
	Collection live.Collection `json:"collection"`
	Message    string          `json:"message"`
}

// Notice is a transient user-facing notification.
type Notice struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

type LikeChange struct {
	EntryID string    `json:"entryId"`
	Like    LikeState `json:"like"`
}

// WriteError is a failed user-initiated write.
type WriteError struct {
	Action string
	Err    error
}

func (e *WriteError) Error() string {
	return e.Action + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
