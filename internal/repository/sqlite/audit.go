package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const auditColumns = `id, actor_id, actor_label, action, entity_type, entity_id, entity_name, changes, ip_address, user_agent, notes, created`

func (r *SQLiteRepo) AppendAudit(ctx context.Context, e *models.AuditEntry) (int64, error) {
	return appendAudit(ctx, r.q(), e)
}

// appendAudit inserts e through q so callers can log inside their own transaction.
func appendAudit(ctx context.Context, q querier, e *models.AuditEntry) (int64, error) {
	if e == nil {
		return 0, fmt.Errorf("audit entry is nil")
	}

	var changes any
	if len(e.Changes) > 0 {
		changes = string(e.Changes)
	}
	if e.Created == 0 {
		e.Created = now()
	}

	res, err := q.ExecContext(ctx, `INSERT INTO system_audit_log (actor_id, actor_label, action, entity_type, entity_id, entity_name, changes, ip_address, user_agent, notes, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ActorID, e.ActorLabel, e.Action, e.EntityType, e.EntityID, e.EntityName, changes, e.IPAddress, e.UserAgent, e.Notes, e.Created)
	if err != nil {
		return 0, wrap("append audit", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// ListAudit returns entries newest first.
func (r *SQLiteRepo) ListAudit(ctx context.Context, f repository.AuditFilter, p repository.ListParams) ([]models.AuditEntry, error) {
	limit, offset := limits(p)

	rows, err := r.conn.QueryRows(ctx, `SELECT `+auditColumns+` FROM system_audit_log
		WHERE (? = '' OR entity_type = ?) AND (? = 0 OR entity_id = ?)
		ORDER BY created DESC, id DESC LIMIT ? OFFSET ?`,
		f.EntityType, f.EntityType, f.EntityID, f.EntityID, limit, offset)
	if err != nil {
		return nil, wrap("list audit", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e        models.AuditEntry
			actorID  sql.NullInt64
			entityID sql.NullInt64
			changes  sql.NullString
		)
		if err := rows.Scan(&e.ID, &actorID, &e.ActorLabel, &e.Action, &e.EntityType, &entityID, &e.EntityName, &changes,
			&e.IPAddress, &e.UserAgent, &e.Notes, &e.Created); err != nil {
			return nil, err
		}
		e.ActorID, e.EntityID = nullInt(actorID), nullInt(entityID)
		if changes.Valid && changes.String != "" {
			e.Changes = json.RawMessage(changes.String)
		}
		out = append(out, e)
	}

	return out, rows.Err()
}
