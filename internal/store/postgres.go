package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ac484/Xuanwu-sub001/internal/live"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var item Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, COALESCE(settings_json::text, '{}'), created_at, updated_at
		FROM accounts
		WHERE id=$1
	`, accountID).Scan(&item.ID, &item.Name, &item.Slug, &item.Settings, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Account{}, notFound(err, "account")
	}
	return item, nil
}

const spaceColumns = `
	s.id, s.account_id, s.name, s.slug, s.description, s.visibility, s.protocol, s.sort_order,
	s.created_at, s.updated_at,
	COALESCE((SELECT string_agg(sc.capability_key, ',' ORDER BY sc.mounted_at, sc.capability_key)
		FROM space_capabilities sc WHERE sc.space_id = s.id), '')
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpace(row rowScanner) (Space, error) {
	var item Space
	var capabilities string
	err := row.Scan(&item.ID, &item.AccountID, &item.Name, &item.Slug, &item.Description, &item.Visibility,
		&item.Protocol, &item.SortOrder, &item.CreatedAt, &item.UpdatedAt, &capabilities)
	if err != nil {
		return Space{}, err
	}
	item.Capabilities = splitKeys(capabilities)
	return item, nil
}

func splitKeys(joined string) []string {
	keys := make([]string, 0)
	for _, key := range strings.Split(joined, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *PostgresStore) ListSpaces(ctx context.Context, accountID string) ([]Space, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+spaceColumns+`
		FROM spaces s
		WHERE s.account_id=$1
		ORDER BY s.sort_order ASC, s.name ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	items := make([]Space, 0)
	for rows.Next() {
		item, err := scanSpace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSpace(ctx context.Context, accountID, spaceID string) (Space, error) {
	item, err := scanSpace(s.db.QueryRowContext(ctx, `
		SELECT `+spaceColumns+`
		FROM spaces s
		WHERE s.account_id=$1 AND s.id=$2
	`, accountID, spaceID))
	if err != nil {
		return Space{}, notFound(err, "space")
	}
	return item, nil
}

func (s *PostgresStore) MountCapability(ctx context.Context, accountID, spaceID, key string) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO space_capabilities (space_id, capability_key)
		SELECT id, $3 FROM spaces WHERE account_id=$1 AND id=$2
		ON CONFLICT (space_id, capability_key) DO NOTHING
	`, accountID, spaceID, key)
	if err != nil {
		return fmt.Errorf("mount capability: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		if _, err := s.GetSpace(ctx, accountID, spaceID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) UnmountCapability(ctx context.Context, accountID, spaceID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM space_capabilities sc
		USING spaces s
		WHERE sc.space_id = s.id AND s.account_id=$1 AND s.id=$2 AND sc.capability_key=$3
	`, accountID, spaceID, key)
	if err != nil {
		return fmt.Errorf("unmount capability: %w", err)
	}
	return nil
}

// LoadCollection returns the full current batch for path. It backs the live
// handles' subscriptions.
func (s *PostgresStore) LoadCollection(ctx context.Context, path live.Path) (live.Batch, error) {
	batch := make(live.Batch, 0)
	switch path.Collection {
	case live.Tasks:
		items, err := s.ListTasks(ctx, path.AccountID, path.SpaceID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			batch = append(batch, item.Record())
		}
	case live.Issues:
		items, err := s.ListIssues(ctx, path.AccountID, path.SpaceID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			batch = append(batch, item.Record())
		}
	case live.Files:
		items, err := s.ListFiles(ctx, path.AccountID, path.SpaceID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			batch = append(batch, item.Record())
		}
	case live.AuditLog:
		items, err := s.ListAuditEntries(ctx, path.AccountID, "", 500)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			batch = append(batch, item.Record())
		}
	case live.DailyLog:
		items, err := s.ListDailyEntries(ctx, path.AccountID, 500)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			batch = append(batch, item.Record())
		}
	default:
		return nil, fmt.Errorf("load collection: unknown collection %q", path.Collection)
	}
	return batch, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, accountID, spaceID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, space_id, title, status, assignee, due_at, created_by, created_at, updated_at
		FROM tasks
		WHERE account_id=$1 AND ($2::text = '' OR space_id=$2::text)
		ORDER BY created_at ASC, id ASC
	`, accountID, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		var due sql.NullTime
		if err := rows.Scan(&item.ID, &item.AccountID, &item.SpaceID, &item.Title, &item.Status, &item.Assignee,
			&due, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if due.Valid {
			at := due.Time
			item.DueAt = &at
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, item Task) (Task, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, account_id, space_id, title, status, assignee, due_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, item.ID, item.AccountID, item.SpaceID, item.Title, item.Status, item.Assignee, item.DueAt, item.CreatedBy).
		Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, item Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title=$4, status=$5, assignee=$6, due_at=$7, updated_at=NOW()
		WHERE account_id=$1 AND space_id=$2 AND id=$3
	`, item.AccountID, item.SpaceID, item.ID, item.Title, item.Status, item.Assignee, item.DueAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(result, "task")
}

func (s *PostgresStore) DeleteTask(ctx context.Context, accountID, spaceID, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE account_id=$1 AND space_id=$2 AND id=$3`, accountID, spaceID, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(result, "task")
}

func (s *PostgresStore) ListIssues(ctx context.Context, accountID, spaceID string) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, space_id, title, body, severity, status, COALESCE(task_id, ''), created_by, created_at, updated_at
		FROM issues
		WHERE account_id=$1 AND ($2::text = '' OR space_id=$2::text)
		ORDER BY created_at ASC, id ASC
	`, accountID, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	items := make([]Issue, 0)
	for rows.Next() {
		var item Issue
		if err := rows.Scan(&item.ID, &item.AccountID, &item.SpaceID, &item.Title, &item.Body, &item.Severity,
			&item.Status, &item.TaskID, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateIssue(ctx context.Context, item Issue) (Issue, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO issues (id, account_id, space_id, title, body, severity, status, task_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		RETURNING created_at, updated_at
	`, item.ID, item.AccountID, item.SpaceID, item.Title, item.Body, item.Severity, item.Status, item.TaskID, item.CreatedBy).
		Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateIssue(ctx context.Context, item Issue) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issues SET title=$4, body=$5, severity=$6, status=$7, task_id=NULLIF($8, ''), updated_at=NOW()
		WHERE account_id=$1 AND space_id=$2 AND id=$3
	`, item.AccountID, item.SpaceID, item.ID, item.Title, item.Body, item.Severity, item.Status, item.TaskID)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	return requireRow(result, "issue")
}

func (s *PostgresStore) DeleteIssue(ctx context.Context, accountID, spaceID, issueID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE account_id=$1 AND space_id=$2 AND id=$3`, accountID, spaceID, issueID)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return requireRow(result, "issue")
}

func (s *PostgresStore) ListFiles(ctx context.Context, accountID, spaceID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, space_id, name, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM files
		WHERE account_id=$1 AND ($2::text = '' OR space_id=$2::text)
		ORDER BY created_at ASC, id ASC
	`, accountID, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	items := make([]File, 0)
	for rows.Next() {
		var item File
		if err := rows.Scan(&item.ID, &item.AccountID, &item.SpaceID, &item.Name, &item.ContentType, &item.Size,
			&item.ObjectKey, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, accountID, spaceID, fileID string) (File, error) {
	var item File
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, space_id, name, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM files
		WHERE account_id=$1 AND space_id=$2 AND id=$3
	`, accountID, spaceID, fileID).Scan(&item.ID, &item.AccountID, &item.SpaceID, &item.Name, &item.ContentType,
		&item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return File{}, notFound(err, "file")
	}
	return item, nil
}

func (s *PostgresStore) CreateFile(ctx context.Context, item File) (File, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO files (id, account_id, space_id, name, content_type, size_bytes, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, item.ID, item.AccountID, item.SpaceID, item.Name, item.ContentType, item.Size, item.ObjectKey, item.UploadedBy).
		Scan(&item.CreatedAt)
	if err != nil {
		return File{}, fmt.Errorf("insert file: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteFile(ctx context.Context, accountID, spaceID, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE account_id=$1 AND space_id=$2 AND id=$3`, accountID, spaceID, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return requireRow(result, "file")
}

func (s *PostgresStore) InsertAuditEntry(ctx context.Context, entry AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, account_id, space_id, actor, action, target, details)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7::jsonb)
	`, entry.ID, entry.AccountID, entry.SpaceID, entry.Actor, entry.Action, entry.Target, string(details))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, accountID, spaceID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, COALESCE(space_id, ''), actor, action, target, COALESCE(details::text, '{}'), created_at
		FROM audit_log
		WHERE account_id=$1 AND ($2::text = '' OR space_id=$2::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, accountID, spaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var item AuditEntry
		var details string
		if err := rows.Scan(&item.ID, &item.AccountID, &item.SpaceID, &item.Actor, &item.Action, &item.Target,
			&details, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &item.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertDailyEntry(ctx context.Context, entry DailyEntry) (DailyEntry, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO daily_log (id, account_id, space_id, author, content)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING created_at
	`, entry.ID, entry.AccountID, entry.SpaceID, entry.Author, entry.Content).Scan(&entry.CreatedAt)
	if err != nil {
		return DailyEntry{}, fmt.Errorf("insert daily entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListDailyEntries(ctx context.Context, accountID string, limit int) ([]DailyEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, COALESCE(space_id, ''), author, content, like_count, created_at
		FROM daily_log
		WHERE account_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list daily entries: %w", err)
	}
	defer rows.Close()

	items := make([]DailyEntry, 0)
	for rows.Next() {
		var item DailyEntry
		if err := rows.Scan(&item.ID, &item.AccountID, &item.SpaceID, &item.Author, &item.Content, &item.LikeCount, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan daily entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily entries: %w", err)
	}
	return items, nil
}

// GetDailyLike reports whether userID likes a daily entry and the entry's
// current like count.
func (s *PostgresStore) GetDailyLike(ctx context.Context, accountID, entryID, userID string) (bool, int, error) {
	var liked bool
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM daily_likes WHERE entry_id=d.id AND user_id=$3), d.like_count
		FROM daily_log d
		WHERE d.account_id=$1 AND d.id=$2
	`, accountID, entryID, userID).Scan(&liked, &count)
	if err != nil {
		return false, 0, notFound(err, "daily entry")
	}
	return liked, count, nil
}

// SetDailyLike records or removes userID's like on a daily entry and keeps
// the entry's like_count in step.
func (s *PostgresStore) SetDailyLike(ctx context.Context, accountID, entryID, userID string, liked bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin like tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM daily_log WHERE account_id=$1 AND id=$2)`, accountID, entryID).Scan(&exists); err != nil {
		return fmt.Errorf("check daily entry: %w", err)
	}
	if !exists {
		return fmt.Errorf("daily entry: %w", ErrNotFound)
	}

	if liked {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_likes (entry_id, user_id) VALUES ($1, $2)
			ON CONFLICT (entry_id, user_id) DO NOTHING
		`, entryID, userID)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM daily_likes WHERE entry_id=$1 AND user_id=$2`, entryID, userID)
	}
	if err != nil {
		return fmt.Errorf("write daily like: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE daily_log SET like_count=(SELECT COUNT(*) FROM daily_likes WHERE entry_id=$1)
		WHERE id=$1
	`, entryID); err != nil {
		return fmt.Errorf("update like count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit like tx: %w", err)
	}
	return nil
}

func requireRow(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
