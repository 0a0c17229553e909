// Package audit turns the domain events a session publishes into append-only
// audit log entries.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/ac484/Xuanwu-sub001/internal/eventbus"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/session"
	"github.com/ac484/Xuanwu-sub001/internal/store"
	"github.com/ac484/Xuanwu-sub001/internal/util"
)

var auditedPrefixes = []string{"task.", "issue.", "file.", "capability.", session.LogEventPrefix}

// Audited reports whether events of eventType end up in the audit log.
func Audited(eventType string) bool {
	if eventType == session.EventDailyCreated {
		return true
	}
	for _, prefix := range auditedPrefixes {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

type Writer interface {
	InsertAuditEntry(ctx context.Context, entry store.AuditEntry) error
}

type Handler struct {
	writer   Writer
	notifier live.Notifier
}

// NewHandler records entries through w. A non-nil notifier is told about
// every appended entry so audit log subscribers reload.
func NewHandler(w Writer, notifier live.Notifier) *Handler {
	return &Handler{writer: w, notifier: notifier}
}

func (h *Handler) Attach(bus *eventbus.Bus) func() {
	return bus.Subscribe(eventbus.Wildcard, h.Handle)
}

func (h *Handler) Handle(ctx context.Context, ev eventbus.Event) error {
	if !Audited(ev.Type) {
		return nil
	}
	payload, ok := ev.Payload.(session.DomainEvent)
	if !ok {
		return nil
	}
	entry := store.AuditEntry{
		ID:        util.NewID("aud"),
		AccountID: payload.AccountID,
		SpaceID:   payload.SpaceID,
		Actor:     payload.Actor,
		Action:    ev.Type,
		Target:    payload.Target,
		Details:   payload.Details,
		CreatedAt: ev.At,
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	if err := h.writer.InsertAuditEntry(ctx, entry); err != nil {
		return fmt.Errorf("audit %s: %w", ev.Type, err)
	}
	if h.notifier != nil {
		path := live.Path{AccountID: payload.AccountID, Collection: live.AuditLog}
		if err := h.notifier.Touch(ctx, path); err != nil {
			return fmt.Errorf("announce audit entry: %w", err)
		}
	}
	return nil
}
