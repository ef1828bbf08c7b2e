package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const batchColumns = `id, client_id, week_start, token, token_expires_at, created_by, created`

// CreateBatch inserts the batch, links every timesheet through the join
// table, sets each timesheet's batch back-reference and appends audit, all
// in one transaction. Unknown or deleted timesheets roll the batch back.
func (r *SQLiteRepo) CreateBatch(ctx context.Context, b *models.ApprovalBatch, timesheetIDs []int64, audit *models.AuditEntry) (int64, error) {
	if b == nil {
		return 0, fmt.Errorf("batch is nil")
	}

	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if b.Created == 0 {
			b.Created = now()
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO approval_batches (client_id, week_start, token, token_expires_at, created_by, created) VALUES (?, ?, ?, ?, ?, ?)`,
			b.ClientID, b.WeekStart, b.Token, b.TokenExpiresAt, b.CreatedBy, b.Created)
		if err != nil {
			return err
		}
		if b.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		for _, tsID := range timesheetIDs {
			if err := affected(tx.ExecContext(ctx, `UPDATE timesheets SET batch_id = ?, updated = ? WHERE id = ? AND deleted_at IS NULL`, b.ID, now(), tsID)); err != nil {
				return fmt.Errorf("timesheet %d: %w", tsID, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO batch_timesheets (batch_id, timesheet_id) VALUES (?, ?)`, b.ID, tsID); err != nil {
				return err
			}
		}

		if audit != nil {
			audit.EntityID = &b.ID
			if _, err := appendAudit(ctx, tx, audit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrap("create batch", err)
	}

	return b.ID, nil
}

func (r *SQLiteRepo) GetBatch(ctx context.Context, id int64) (*models.ApprovalBatch, error) {
	b, err := scanBatch(r.conn.QueryRow(ctx, `SELECT `+batchColumns+` FROM approval_batches WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *SQLiteRepo) GetBatchByToken(ctx context.Context, token string) (*models.ApprovalBatch, error) {
	if token == "" {
		return nil, nil
	}

	b, err := scanBatch(r.conn.QueryRow(ctx, `SELECT `+batchColumns+` FROM approval_batches WHERE token = ?`, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// ListBatches lists batches newest first. A zero clientID lists every client.
func (r *SQLiteRepo) ListBatches(ctx context.Context, clientID int64, p repository.ListParams) ([]models.ApprovalBatch, error) {
	limit, offset := limits(p)

	rows, err := r.conn.QueryRows(ctx, `SELECT `+batchColumns+` FROM approval_batches
		WHERE (? = 0 OR client_id = ?) ORDER BY created DESC, id DESC LIMIT ? OFFSET ?`,
		clientID, clientID, limit, offset)
	if err != nil {
		return nil, wrap("list batches", err)
	}
	defer rows.Close()

	var out []models.ApprovalBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) HasBatchLink(ctx context.Context, batchID, timesheetID int64) (bool, error) {
	var one int
	err := r.conn.QueryRow(ctx, `SELECT 1 FROM batch_timesheets WHERE batch_id = ? AND timesheet_id = ?`, batchID, timesheetID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrap("check batch link", err)
	}
	return true, nil
}

// ListBatchTimesheets returns the union of joined and back-referenced
// timesheets, excluding soft-deleted rows.
func (r *SQLiteRepo) ListBatchTimesheets(ctx context.Context, batchID int64) ([]models.Timesheet, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT `+timesheetColumns+` FROM timesheets
		WHERE deleted_at IS NULL
		  AND (batch_id = ? OR id IN (SELECT timesheet_id FROM batch_timesheets WHERE batch_id = ?))
		ORDER BY id`, batchID, batchID)
	if err != nil {
		return nil, wrap("list batch timesheets", err)
	}

	return collectTimesheets(rows)
}

// RecordDecision writes the client decision onto the timesheet and appends
// the audit entry in the same transaction, returning the updated timesheet.
func (r *SQLiteRepo) RecordDecision(ctx context.Context, timesheetID int64, d models.ClientDecision, audit *models.AuditEntry) (*models.Timesheet, error) {
	var out *models.Timesheet

	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		var modifications any
		if len(d.Modifications) > 0 {
			modifications = string(d.Modifications)
		}

		err := affected(tx.ExecContext(ctx, `UPDATE timesheets SET approval_status = ?, client_approved_by = ?, client_approved_at = ?,
			client_rating = ?, client_comments = ?, client_modifications = ?, updated = ?
			WHERE id = ? AND deleted_at IS NULL`,
			string(d.Status), d.ApprovedBy, d.ApprovedAt, d.Rating, d.Comments, modifications, now(), timesheetID))
		if err != nil {
			return err
		}

		if audit != nil {
			if _, err := appendAudit(ctx, tx, audit); err != nil {
				return err
			}
		}

		out, err = getTimesheet(ctx, tx, timesheetID)
		return err
	})
	if err != nil {
		return nil, wrap("record decision", err)
	}

	return out, nil
}

func scanBatch(sc scanner) (*models.ApprovalBatch, error) {
	var (
		b         models.ApprovalBatch
		createdBy sql.NullInt64
	)
	if err := sc.Scan(&b.ID, &b.ClientID, &b.WeekStart, &b.Token, &b.TokenExpiresAt, &createdBy, &b.Created); err != nil {
		return nil, err
	}
	b.CreatedBy = nullInt(createdBy)

	return &b, nil
}
