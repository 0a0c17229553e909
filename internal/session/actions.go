package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ac484/Xuanwu-sub001/internal/blob"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/rbac"
	"github.com/ac484/Xuanwu-sub001/internal/store"
	"github.com/ac484/Xuanwu-sub001/internal/util"
)

type TaskInput struct {
	SpaceID  string     `json:"spaceId"`
	Title    string     `json:"title"`
	Status   string     `json:"status"`
	Assignee string     `json:"assignee"`
	DueAt    *time.Time `json:"dueAt"`
}

type IssueInput struct {
	SpaceID  string `json:"spaceId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
	TaskID   string `json:"taskId"`
}

type FileInput struct {
	SpaceID     string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

const fileURLTTL = 15 * time.Minute

// write runs one user-initiated action. Failures are returned as *WriteError
// and announced on the bus as a notice.
func (s *Session) write(name string, permission rbac.Action, fn func() error) error {
	start := time.Now()
	err := s.guard(permission)
	if err == nil {
		err = fn()
	}
	s.deps.Metrics.WriteAction(name, start, err)
	if err == nil {
		return nil
	}
	s.bus.Publish(EventNoticeError, Notice{Action: name, Message: err.Error()})
	return &WriteError{Action: name, Err: err}
}

func (s *Session) guard(permission rbac.Action) error {
	if s.Closed() {
		return ErrClosed
	}
	if !s.actor.Can(permission) {
		return fmt.Errorf("%w: %s may not %s", ErrForbidden, s.actor.Role, permission)
	}
	return nil
}

// spaceFor picks the space an action writes to. A space session only writes
// to its own space; an account session needs one of its spaces named.
func (s *Session) spaceFor(spaceID string) (string, error) {
	spaceID = strings.TrimSpace(spaceID)
	if !s.entity.AccountWide() {
		if spaceID != "" && spaceID != s.entity.SpaceID {
			return "", fmt.Errorf("%w: space %s is outside %s", ErrForbidden, spaceID, s.entity)
		}
		return s.entity.SpaceID, nil
	}
	if spaceID == "" {
		return "", ErrSpaceRequired
	}
	for _, sp := range s.Spaces() {
		if sp.ID == spaceID {
			return spaceID, nil
		}
	}
	return "", fmt.Errorf("space %s: %w", spaceID, store.ErrNotFound)
}

// touch tells a notifying handle about a write. The write has already
// succeeded, so failures are only logged.
func (s *Session) touch(ctx context.Context, path live.Path) {
	notifier, ok := s.deps.DB.(live.Notifier)
	if !ok {
		return
	}
	if err := notifier.Touch(ctx, path); err != nil {
		s.deps.logf("sync: touch %s: %v", path, err)
	}
}

func (s *Session) path(spaceID string, c live.Collection) live.Path {
	return live.Path{AccountID: s.entity.AccountID, SpaceID: spaceID, Collection: c}
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func (s *Session) CreateTask(ctx context.Context, in TaskInput) (store.Task, error) {
	var created store.Task
	err := s.write("task.create", rbac.ActionWrite, func() error {
		spaceID, err := s.spaceFor(in.SpaceID)
		if err != nil {
			return err
		}
		if err := requireText("title", in.Title); err != nil {
			return err
		}
		created, err = s.deps.Store.CreateTask(ctx, store.Task{
			ID:        util.NewID("tsk"),
			AccountID: s.entity.AccountID,
			SpaceID:   spaceID,
			Title:     strings.TrimSpace(in.Title),
			Status:    orDefault(in.Status, "open"),
			Assignee:  in.Assignee,
			DueAt:     in.DueAt,
			CreatedBy: s.actor.ID,
		})
		if err != nil {
			return err
		}
		s.touch(ctx, s.path(spaceID, live.Tasks))
		record := created.Record()
		s.bus.Publish(EventTaskCreated, s.event(spaceID, created.ID, live.Tasks, &record, map[string]any{"title": created.Title}))
		return nil
	})
	return created, err
}

func (s *Session) UpdateTask(ctx context.Context, taskID string, in TaskInput) error {
	return s.write("task.update", rbac.ActionWrite, func() error {
		spaceID, err := s.spaceFor(in.SpaceID)
		if err != nil {
			return err
		}
		if err := requireText("title", in.Title); err != nil {
			return err
		}
		task := store.Task{
			ID:        taskID,
			AccountID: s.entity.AccountID,
			SpaceID:   spaceID,
			Title:     strings.TrimSpace(in.Title),
			Status:    orDefault(in.Status, "open"),
			Assignee:  in.Assignee,
			DueAt:     in.DueAt,
		}
		if err := s.deps.Store.UpdateTask(ctx, task); err != nil {
			return err
		}
		s.touch(ctx, s.path(spaceID, live.Tasks))
		record := task.Record()
		s.bus.Publish(EventTaskUpdated, s.event(spaceID, taskID, live.Tasks, &record, map[string]any{"status": task.Status}))
		return nil
	})
}

func (s *Session) DeleteTask(ctx context.Context, spaceID, taskID string) error {
	return s.write("task.delete", rbac.ActionWrite, func() error {
		spaceID, err := s.spaceFor(spaceID)
		if err != nil {
			return err
		}
		if err := s.deps.Store.DeleteTask(ctx, s.entity.AccountID, spaceID, taskID); err != nil {
			return err
		}
		s.touch(ctx, s.path(spaceID, live.Tasks))
		s.bus.Publish(EventTaskDeleted, s.event(spaceID, taskID, live.Tasks, nil, nil))
		return nil
	})
}

func (s *Session) CreateIssue(ctx context.Context, in IssueInput) (store.Issue, error) {
	var created store.Issue
	err := s.write("issue.create", rbac.ActionWrite, func() error {
		spaceID, err := s.spaceFor(in.SpaceID)
		if err != nil {
			return err
		}
		if err := requireText("title", in.Title); err != nil {
			return err
		}
		created, err = s.deps.Store.CreateIssue(ctx, store.Issue{
			ID:        util.NewID("iss"),
			AccountID: s.entity.AccountID,
			SpaceID:   spaceID,
			Title:     strings.TrimSpace(in.Title),
			Body:      in.Body,
			Severity:  orDefault(in.Severity, "medium"),
			Status:    orDefault(in.Status, "open"),
			TaskID:    in.TaskID,
			CreatedBy: s.actor.ID,
		})
		if err != nil {
			return err
		}
		s.touch(ctx, s.path(spaceID, live.Issues))
		record := created.Record()
		s.bus.Publish(EventIssueCreated, s.event(spaceID, created.ID, live.Issues, &record, map[string]any{"severity": created.Severity}))
		return nil
	})
	return created, err
}

func (s *Session) UpdateIssue(ctx context.Context, issueID string, in IssueInput) error {
	return s.write("issue.update", rbac.ActionWrite, func() error {
		spaceID, err := s.spaceFor(in.SpaceID)
		if err != nil {
			return err
		}
		if err := requireText("title", in.Title); err != nil {
			return err
		}
		issue := store.Issue{
			ID:        issueID,
			AccountID: s.entity.AccountID,
			SpaceID:   spaceID,
			Title:     strings.TrimSpace(in.Title),
			Body:      in.Body,
			Severity:  orDefault(in.Severity, "medium"),
			Status:    orDefault(in.Status, "open"),
			TaskID:    in.TaskID,
		}
		if err := s.deps.Store.UpdateIssue(ctx, issue); err != nil {
			return err
		}
		s.touch(ctx, s.path(spaceID, live.Issues))
		record := issue.Record()
		s.bus.Publish(EventIssueUpdated, s.event(spaceID, issueID, live.Issues, &record, map[string]any{"status": issue.Status}))
		return nil
	})
}

func (s *Session) DeleteIssue(ctx context.Context, spaceID, issueID string) error {
	return s.write("issue.delete", rbac.ActionWrite, func() error {
		spaceID, err := s.spaceFor(spaceID)
		if err != nil {
			return err
		}
		if err := s.deps.Store.DeleteIssue(ctx, s.entity.AccountID, spaceID, issueID); err != nil {
			return err
		}
		s.touch(ctx, s.path(spaceID, live.Issues))
		s.bus.Publish(EventIssueDeleted, s.event(spaceID, issueID, live.Issues, nil, nil))
		return nil
	})
}

// UploadFile stores the content first and the record second; a failed
// record insert removes the stored object again.
func (s *Session) UploadFile(ctx context.Context, in FileInput) (store.File, error) {
	var created store.File
	err := s.write("file.upload", rbac.ActionWrite, func() error {
		spaceID, err := s.spaceFor(in.SpaceID)
		if err != nil {
			return err
		}
		if err := requireText("name", in.Name); err != nil {
			return err
		}
		if s.deps.Blobs == nil {
			return blob.ErrNotConfigured
		}
		file := store.File{
			ID:          util.NewID("fil"),
			AccountID:   s.entity.AccountID,
			SpaceID:     spaceID,
			Name:        strings.TrimSpace(in.Name),
			ContentType: orDefault(in.ContentType, "application/octet-stream"),
			Size:        in.Size,
			UploadedBy:  s.actor.ID,
		}
		file.ObjectKey = blob.ObjectKey(file.AccountID, spaceID, file.ID, file.Name)
		if err := s.deps.Blobs.Put(ctx, file.ObjectKey, in.Body, in.Size, file.ContentType); err != nil {
			return err
		}
		created, err = s.deps.Store.CreateFile(ctx, file)
		if err != nil {
			if rmErr := s.deps.Blobs.Remove(ctx, file.ObjectKey); rmErr != nil {
				s.deps.logf("session: remove orphaned object %s: %v", file.ObjectKey, rmErr)
			}
			return err
		}
		s.touch(ctx, s.path(spaceID, live.Files))
		record := created.Record()
		s.bus.Publish(EventFileUploaded, s.event(spaceID, created.ID, live.Files, &record, map[string]any{"name": created.Name, "size": created.Size}))
		return nil
	})
	return created, err
}

func (s *Session) DeleteFile(ctx context.Context, spaceID, fileID string) error {
	return s.write("file.delete", rbac.ActionWrite, func() error {
		spaceID, err := s.spaceFor(spaceID)
		if err != nil {
			return err
		}
		file, err := s.deps.Store.GetFile(ctx, s.entity.AccountID, spaceID, fileID)
		if err != nil {
			return err
		}
		if err := s.deps.Store.DeleteFile(ctx, s.entity.AccountID, spaceID, fileID); err != nil {
			return err
		}
		if s.deps.Blobs != nil {
			if err := s.deps.Blobs.Remove(ctx, file.ObjectKey); err != nil {
				s.deps.logf("session: remove object %s: %v", file.ObjectKey, err)
			}
		}
		s.touch(ctx, s.path(spaceID, live.Files))
		s.bus.Publish(EventFileDeleted, s.event(spaceID, fileID, live.Files, nil, map[string]any{"name": file.Name}))
		return nil
	})
}

// FileURL returns a short-lived download link for a file of the session.
func (s *Session) FileURL(ctx context.Context, spaceID, fileID string) (string, error) {
	if err := s.guard(rbac.ActionRead); err != nil {
		return "", err
	}
	spaceID, err := s.spaceFor(spaceID)
	if err != nil {
		return "", err
	}
	if s.deps.Blobs == nil {
		return "", blob.ErrNotConfigured
	}
	file, err := s.deps.Store.GetFile(ctx, s.entity.AccountID, spaceID, fileID)
	if err != nil {
		return "", err
	}
	return s.deps.Blobs.URL(ctx, file.ObjectKey, fileURLTTL)
}

func (s *Session) MountCapability(ctx context.Context, spaceID, key string) error {
	return s.write("capability.mount", rbac.ActionMount, func() error {
		spaceID, err := s.spaceFor(spaceID)
		if err != nil {
			return err
		}
		if err := s.knownCapability(key); err != nil {
			return err
		}
		if err := s.deps.Store.MountCapability(ctx, s.entity.AccountID, spaceID, key); err != nil {
			return err
		}
		s.setMounted(spaceID, key, true)
		s.bus.Publish(EventCapabilityMounted, s.event(spaceID, key, "", nil, nil))
		return nil
	})
}

func (s *Session) UnmountCapability(ctx context.Context, spaceID, key string) error {
	return s.write("capability.unmount", rbac.ActionMount, func() error {
		spaceID, err := s.spaceFor(spaceID)
		if err != nil {
			return err
		}
		if err := s.deps.Store.UnmountCapability(ctx, s.entity.AccountID, spaceID, key); err != nil {
			return err
		}
		s.setMounted(spaceID, key, false)
		s.bus.Publish(EventCapabilityUnmounted, s.event(spaceID, key, "", nil, nil))
		return nil
	})
}

func (s *Session) knownCapability(key string) error {
	if s.deps.Renderer == nil {
		return nil
	}
	if _, ok := s.deps.Renderer.Registry().Lookup(key); !ok {
		return fmt.Errorf("%w: unknown capability %q", ErrInvalidInput, key)
	}
	return nil
}

// setMounted keeps the session's copy of the space in step with a mount
// change it made itself.
func (s *Session) setMounted(spaceID, key string, mounted bool) {
	update := func(sp *store.Space) {
		keys := make([]string, 0, len(sp.Capabilities)+1)
		for _, k := range sp.Capabilities {
			if k != key {
				keys = append(keys, k)
			}
		}
		if mounted {
			keys = append(keys, key)
		}
		sp.Capabilities = keys
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.space.ID == spaceID {
		update(&s.space)
	}
	spaces := make([]store.Space, len(s.spaces))
	copy(spaces, s.spaces)
	for i := range spaces {
		if spaces[i].ID == spaceID {
			update(&spaces[i])
		}
	}
	s.spaces = spaces
}

// WriteDaily posts a daily log entry. The space is optional for an
// account-wide session.
func (s *Session) WriteDaily(ctx context.Context, spaceID, content string) (store.DailyEntry, error) {
	var created store.DailyEntry
	err := s.write("daily.create", rbac.ActionReact, func() error {
		if err := requireText("content", content); err != nil {
			return err
		}
		var err error
		if !s.entity.AccountWide() || strings.TrimSpace(spaceID) != "" {
			if spaceID, err = s.spaceFor(spaceID); err != nil {
				return err
			}
		}
		created, err = s.deps.Store.InsertDailyEntry(ctx, store.DailyEntry{
			ID:        util.NewID("dly"),
			AccountID: s.entity.AccountID,
			SpaceID:   spaceID,
			Author:    s.actor.ID,
			Content:   strings.TrimSpace(content),
		})
		if err != nil {
			return err
		}
		s.TrackLike(created.ID, false, 0)
		s.touch(ctx, s.path("", live.DailyLog))
		record := created.Record()
		s.bus.Publish(EventDailyCreated, s.event(spaceID, created.ID, live.DailyLog, &record, nil))
		return nil
	})
	return created, err
}

// IsForbidden reports whether err was caused by a missing permission.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
