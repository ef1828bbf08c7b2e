package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const rosterColumns = `id, client_id, user_id, week_start, shifts, notes, created, updated, deleted_at, deleted_by`

func (r *SQLiteRepo) CreateRoster(ctx context.Context, ro *models.Roster) (int64, error) {
	if ro == nil {
		return 0, fmt.Errorf("roster is nil")
	}

	shifts, err := marshalJSON(ro.Shifts, "[]")
	if err != nil {
		return 0, wrap("marshal shifts", err)
	}

	ts := now()
	res, err := r.conn.Exec(ctx, `INSERT INTO rosters (client_id, user_id, week_start, shifts, notes, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ro.ClientID, ro.UserID, ro.WeekStart, shifts, ro.Notes, ts, ts)
	if err != nil {
		return 0, wrap("create roster", err)
	}

	ro.Created, ro.Updated = ts, ts
	return res.LastInsertId()
}

func (r *SQLiteRepo) GetRoster(ctx context.Context, id int64) (*models.Roster, error) {
	ro, err := scanRoster(r.conn.QueryRow(ctx, `SELECT `+rosterColumns+` FROM rosters WHERE id = ? AND deleted_at IS NULL`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ro, err
}

// ListRosters returns active rosters matching every non-zero field of f.
func (r *SQLiteRepo) ListRosters(ctx context.Context, f repository.RosterFilter, p repository.ListParams) ([]models.Roster, error) {
	limit, offset := limits(p)

	rows, err := r.conn.QueryRows(ctx, `SELECT `+rosterColumns+` FROM rosters
		WHERE deleted_at IS NULL
		  AND (? = 0 OR client_id = ?)
		  AND (? = 0 OR user_id = ?)
		  AND (? = '' OR week_start = ?)
		ORDER BY week_start DESC, id LIMIT ? OFFSET ?`,
		f.ClientID, f.ClientID, f.UserID, f.UserID, f.WeekStart, f.WeekStart, limit, offset)
	if err != nil {
		return nil, wrap("list rosters", err)
	}
	defer rows.Close()

	var out []models.Roster
	for rows.Next() {
		ro, err := scanRoster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ro)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) UpdateRoster(ctx context.Context, ro *models.Roster) error {
	if ro == nil {
		return fmt.Errorf("roster is nil")
	}

	shifts, err := marshalJSON(ro.Shifts, "[]")
	if err != nil {
		return wrap("marshal shifts", err)
	}

	ro.Updated = now()
	err = affected(r.conn.Exec(ctx, `UPDATE rosters SET client_id = ?, user_id = ?, week_start = ?, shifts = ?, notes = ?, updated = ? WHERE id = ? AND deleted_at IS NULL`,
		ro.ClientID, ro.UserID, ro.WeekStart, shifts, ro.Notes, ro.Updated, ro.ID))
	return wrap("update roster", err)
}

func scanRoster(sc scanner) (*models.Roster, error) {
	var (
		ro        models.Roster
		shifts    string
		deletedAt sql.NullInt64
		deletedBy sql.NullInt64
	)
	if err := sc.Scan(&ro.ID, &ro.ClientID, &ro.UserID, &ro.WeekStart, &shifts, &ro.Notes, &ro.Created, &ro.Updated, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(shifts), &ro.Shifts); err != nil {
		return nil, fmt.Errorf("decode shifts of roster %d: %w", ro.ID, err)
	}
	ro.DeletedAt, ro.DeletedBy = nullInt(deletedAt), nullInt(deletedBy)

	return &ro, nil
}
