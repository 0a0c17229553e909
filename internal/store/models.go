package store

import (
	"errors"
	"time"

	"github.com/ac484/Xuanwu-sub001/internal/live"
)

var ErrNotFound = errors.New("not found")

const (
	VisibilityVisible  = "visible"
	VisibilityHidden   = "hidden"
	VisibilityArchived = "archived"
)

type Account struct {
	ID        string
	Name      string
	Slug      string
	Settings  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Space struct {
	ID           string
	AccountID    string
	Name         string
	Slug         string
	Description  string
	Visibility   string
	Protocol     string
	Capabilities []string
	SortOrder    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Mounted reports whether the capability key is mounted on the space.
func (s Space) Mounted(key string) bool {
	for _, mounted := range s.Capabilities {
		if mounted == key {
			return true
		}
	}
	return false
}

type Task struct {
	ID        string
	AccountID string
	SpaceID   string
	Title     string
	Status    string
	Assignee  string
	DueAt     *time.Time
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Issue struct {
	ID        string
	AccountID string
	SpaceID   string
	Title     string
	Body      string
	Severity  string
	Status    string
	TaskID    string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type File struct {
	ID          string
	AccountID   string
	SpaceID     string
	Name        string
	ContentType string
	Size        int64
	ObjectKey   string
	UploadedBy  string
	CreatedAt   time.Time
}

type AuditEntry struct {
	ID        string
	AccountID string
	SpaceID   string
	Actor     string
	Action    string
	Target    string
	Details   map[string]any
	CreatedAt time.Time
}

type DailyEntry struct {
	ID        string
	AccountID string
	SpaceID   string
	Author    string
	Content   string
	LikeCount int
	CreatedAt time.Time
}

func (t Task) Record() live.Record {
	fields := map[string]any{
		"title":     t.Title,
		"status":    t.Status,
		"assignee":  t.Assignee,
		"createdBy": t.CreatedBy,
		"updatedAt": t.UpdatedAt,
	}
	if t.DueAt != nil {
		fields["dueAt"] = *t.DueAt
	}
	return live.Record{ID: t.ID, AccountID: t.AccountID, SpaceID: t.SpaceID, Fields: fields, CreatedAt: t.CreatedAt}
}

func (i Issue) Record() live.Record {
	return live.Record{
		ID:        i.ID,
		AccountID: i.AccountID,
		SpaceID:   i.SpaceID,
		Fields: map[string]any{
			"title":     i.Title,
			"body":      i.Body,
			"severity":  i.Severity,
			"status":    i.Status,
			"taskId":    i.TaskID,
			"createdBy": i.CreatedBy,
			"updatedAt": i.UpdatedAt,
		},
		CreatedAt: i.CreatedAt,
	}
}

func (f File) Record() live.Record {
	return live.Record{
		ID:        f.ID,
		AccountID: f.AccountID,
		SpaceID:   f.SpaceID,
		Fields: map[string]any{
			"name":        f.Name,
			"contentType": f.ContentType,
			"size":        f.Size,
			"objectKey":   f.ObjectKey,
			"uploadedBy":  f.UploadedBy,
		},
		CreatedAt: f.CreatedAt,
	}
}

func (a AuditEntry) Record() live.Record {
	return live.Record{
		ID:        a.ID,
		AccountID: a.AccountID,
		SpaceID:   a.SpaceID,
		Fields: map[string]any{
			"actor":   a.Actor,
			"action":  a.Action,
			"target":  a.Target,
			"details": a.Details,
		},
		CreatedAt: a.CreatedAt,
	}
}

func (d DailyEntry) Record() live.Record {
	return live.Record{
		ID:        d.ID,
		AccountID: d.AccountID,
		SpaceID:   d.SpaceID,
		Fields: map[string]any{
			"author":    d.Author,
			"content":   d.Content,
			"likeCount": d.LikeCount,
		},
		CreatedAt: d.CreatedAt,
	}
}
