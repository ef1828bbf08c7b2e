// Package audit records administrative actions in the append-only
// system_audit_log table.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

type metaKey struct{}

// RequestMeta is the client network metadata attached to audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMeta returns a context carrying the caller's address and user agent.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, metaKey{}, RequestMeta{IP: ip, UserAgent: userAgent})
}

// MetaFrom returns the request metadata stored in ctx, if any.
func MetaFrom(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(metaKey{}).(RequestMeta)
	return m
}

// Actor identifies who performed an action. ID is zero for external approvers.
type Actor struct {
	ID    int64
	Label string
}

// Entry builds an audit entry for action on the given entity, stamped with
// the request metadata from ctx. changes is marshalled as JSON when non-nil.
// If that fails the entry is still returned, without changes, together with
// the marshal error.
func Entry(ctx context.Context, actor Actor, action, entityType string, entityID int64, entityName string, changes any) (*models.AuditEntry, error) {
	meta := MetaFrom(ctx)
	e := &models.AuditEntry{
		ActorLabel: actor.Label,
		Action:     action,
		EntityType: entityType,
		EntityName: entityName,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if actor.ID > 0 {
		id := actor.ID
		e.ActorID = &id
	}
	if entityID > 0 {
		id := entityID
		e.EntityID = &id
	}
	if changes != nil {
		b, err := json.Marshal(changes)
		if err != nil {
			return e, fmt.Errorf("marshal %s changes: %w", action, err)
		}
		e.Changes = b
	}
	return e, nil
}

// Recorder appends entries outside of any business transaction. A failed
// append is logged and never fails the caller's operation.
type Recorder struct {
	repo   repository.AuditRepo
	logger *slog.Logger
}

func NewRecorder(repo repository.AuditRepo, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Entry is like the package level Entry but logs a changes payload that
// could not be encoded instead of returning the error.
func (r *Recorder) Entry(ctx context.Context, actor Actor, action, entityType string, entityID int64, entityName string, changes any) *models.AuditEntry {
	e, err := Entry(ctx, actor, action, entityType, entityID, entityName, changes)
	if err != nil {
		logger := slog.Default()
		if r != nil {
			logger = r.logger
		}
		logger.Warn("audit changes dropped",
			slog.String("action", action),
			slog.String("entity_type", entityType),
			slog.Any("err", err),
		)
	}
	return e
}

// Record appends e. It returns the new entry id, or zero when the write failed.
func (r *Recorder) Record(ctx context.Context, e *models.AuditEntry) int64 {
	if r == nil || r.repo == nil || e == nil {
		return 0
	}

	id, err := r.repo.AppendAudit(ctx, e)
	if err != nil {
		r.logger.Error("audit append failed",
			slog.String("action", e.Action),
			slog.String("entity_type", e.EntityType),
			slog.Any("err", err),
		)
		return 0
	}
	return id
}

// List returns audit entries, newest first.
func (r *Recorder) List(ctx context.Context, f repository.AuditFilter, p repository.ListParams) ([]models.AuditEntry, error) {
	return r.repo.ListAudit(ctx, f, p)
}
