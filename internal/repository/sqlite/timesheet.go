package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const timesheetColumns = `id, user_id, week_start, entries, approval_status, batch_id, client_approved_by, client_approved_at,
	client_rating, client_comments, client_modifications, receipts, created, updated, deleted_at, deleted_by`

func (r *SQLiteRepo) CreateTimesheet(ctx context.Context, t *models.Timesheet) (int64, error) {
	if t == nil {
		return 0, fmt.Errorf("timesheet is nil")
	}
	if t.ApprovalStatus == "" {
		t.ApprovalStatus = models.StatusPending
	}

	entries, err := marshalJSON(t.Entries, "[]")
	if err != nil {
		return 0, wrap("marshal entries", err)
	}
	receipts, err := marshalJSON(t.Receipts, "[]")
	if err != nil {
		return 0, wrap("marshal receipts", err)
	}

	ts := now()
	res, err := r.conn.Exec(ctx, `INSERT INTO timesheets (user_id, week_start, entries, approval_status, receipts, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.WeekStart, entries, string(t.ApprovalStatus), receipts, ts, ts)
	if err != nil {
		return 0, wrap("create timesheet", err)
	}

	t.Created, t.Updated = ts, ts
	return res.LastInsertId()
}

func (r *SQLiteRepo) GetTimesheet(ctx context.Context, id int64) (*models.Timesheet, error) {
	return getTimesheet(ctx, r.q(), id)
}

func getTimesheet(ctx context.Context, q querier, id int64) (*models.Timesheet, error) {
	t, err := scanTimesheet(q.QueryRowContext(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE id = ? AND deleted_at IS NULL`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *SQLiteRepo) ListTimesheets(ctx context.Context, f repository.TimesheetFilter, p repository.ListParams) ([]models.Timesheet, error) {
	limit, offset := limits(p)

	rows, err := r.conn.QueryRows(ctx, `SELECT `+timesheetColumns+` FROM timesheets
		WHERE deleted_at IS NULL
		  AND (? = 0 OR user_id = ?)
		  AND (? = '' OR week_start = ?)
		  AND (? = '' OR approval_status = ?)
		ORDER BY week_start DESC, id LIMIT ? OFFSET ?`,
		f.UserID, f.UserID, f.WeekStart, f.WeekStart, string(f.Status), string(f.Status), limit, offset)
	if err != nil {
		return nil, wrap("list timesheets", err)
	}

	return collectTimesheets(rows)
}

func (r *SQLiteRepo) TimesheetsWithReceipt(ctx context.Context, objectPath string) ([]models.Timesheet, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT `+timesheetColumns+` FROM timesheets
		WHERE deleted_at IS NULL
		  AND EXISTS (SELECT 1 FROM json_each(timesheets.receipts) WHERE json_each.value = ?)
		ORDER BY id`, objectPath)
	if err != nil {
		return nil, wrap("timesheets with receipt", err)
	}

	return collectTimesheets(rows)
}

// UpdateTimesheet writes the driver-editable fields and the approval status.
// Client decision fields are only written by RecordDecision.
func (r *SQLiteRepo) UpdateTimesheet(ctx context.Context, t *models.Timesheet) error {
	if t == nil {
		return fmt.Errorf("timesheet is nil")
	}

	entries, err := marshalJSON(t.Entries, "[]")
	if err != nil {
		return wrap("marshal entries", err)
	}

	t.Updated = now()
	err = affected(r.conn.Exec(ctx, `UPDATE timesheets SET week_start = ?, entries = ?, approval_status = ?, updated = ? WHERE id = ? AND deleted_at IS NULL`,
		t.WeekStart, entries, string(t.ApprovalStatus), t.Updated, t.ID))
	return wrap("update timesheet", err)
}

// AddReceipt appends objectPath to the timesheet's receipts unless it is
// already present.
func (r *SQLiteRepo) AddReceipt(ctx context.Context, timesheetID int64, objectPath string) error {
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT receipts FROM timesheets WHERE id = ? AND deleted_at IS NULL`, timesheetID).Scan(&raw)
		if err == sql.ErrNoRows {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}

		var receipts []string
		if err := json.Unmarshal([]byte(raw), &receipts); err != nil {
			return err
		}
		for _, p := range receipts {
			if p == objectPath {
				return nil
			}
		}

		out, err := marshalJSON(append(receipts, objectPath), "[]")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE timesheets SET receipts = ?, updated = ? WHERE id = ?`, out, now(), timesheetID)
		return err
	})
	return wrap("add receipt", err)
}

func collectTimesheets(rows *sql.Rows) ([]models.Timesheet, error) {
	defer rows.Close()

	var out []models.Timesheet
	for rows.Next() {
		t, err := scanTimesheet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}

	return out, rows.Err()
}

func scanTimesheet(sc scanner) (*models.Timesheet, error) {
	var (
		t             models.Timesheet
		entries       string
		status        string
		batchID       sql.NullInt64
		approvedBy    sql.NullString
		approvedAt    sql.NullInt64
		rating        sql.NullInt64
		comments      sql.NullString
		modifications sql.NullString
		receipts      string
		deletedAt     sql.NullInt64
		deletedBy     sql.NullInt64
	)
	if err := sc.Scan(&t.ID, &t.UserID, &t.WeekStart, &entries, &status, &batchID, &approvedBy, &approvedAt,
		&rating, &comments, &modifications, &receipts, &t.Created, &t.Updated, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(entries), &t.Entries); err != nil {
		return nil, fmt.Errorf("decode entries of timesheet %d: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(receipts), &t.Receipts); err != nil {
		return nil, fmt.Errorf("decode receipts of timesheet %d: %w", t.ID, err)
	}
	if t.Receipts == nil {
		t.Receipts = []string{}
	}

	t.ApprovalStatus = models.ApprovalStatus(status)
	t.BatchID = nullInt(batchID)
	t.ClientApprovedBy = nullString(approvedBy)
	t.ClientApprovedAt = nullInt(approvedAt)
	if rating.Valid {
		v := int(rating.Int64)
		t.ClientRating = &v
	}
	t.ClientComments = nullString(comments)
	if modifications.Valid && modifications.String != "" {
		t.ClientModifications = json.RawMessage(modifications.String)
	}
	t.DeletedAt, t.DeletedBy = nullInt(deletedAt), nullInt(deletedBy)

	return &t, nil
}
