package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

type softDeleteKind struct {
	table       string
	labelColumn string
}

// softDeleteKinds registers every entity kind that is soft-deleted rather
// than removed. Table and column names never come from callers.
var softDeleteKinds = map[string]softDeleteKind{
	"clients":    {table: "clients", labelColumn: "company_name"},
	"rosters":    {table: "rosters", labelColumn: "week_start"},
	"timesheets": {table: "timesheets", labelColumn: "week_start"},
	"users":      {table: "users", labelColumn: "email"},
}

// SoftDeleteKinds returns the registered kinds in sorted order.
func SoftDeleteKinds() []string {
	out := make([]string, 0, len(softDeleteKinds))
	for k := range softDeleteKinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookupKind(kind string) (softDeleteKind, error) {
	k, ok := softDeleteKinds[kind]
	if !ok {
		return softDeleteKind{}, fmt.Errorf("%w: %q", repository.ErrUnknownKind, kind)
	}
	return k, nil
}

// SoftDelete marks the row with the deletion time and actor.
func (r *SQLiteRepo) SoftDelete(ctx context.Context, kind string, id, actorID int64) error {
	k, err := lookupKind(kind)
	if err != nil {
		return err
	}

	var actor any
	if actorID > 0 {
		actor = actorID
	}

	err = affected(r.conn.Exec(ctx, `UPDATE `+k.table+` SET deleted_at = ?, deleted_by = ? WHERE id = ?`, now(), actor, id))
	return wrap("soft delete "+kind, err)
}

// Restore clears the deletion marker. Restoring an active row is a no-op.
func (r *SQLiteRepo) Restore(ctx context.Context, kind string, id int64) error {
	k, err := lookupKind(kind)
	if err != nil {
		return err
	}

	err = affected(r.conn.Exec(ctx, `UPDATE `+k.table+` SET deleted_at = NULL, deleted_by = NULL WHERE id = ?`, id))
	return wrap("restore "+kind, err)
}

func (r *SQLiteRepo) ListDeleted(ctx context.Context, kind string) ([]models.DeletedItem, error) {
	k, err := lookupKind(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.QueryRows(ctx, `SELECT id, CAST(`+k.labelColumn+` AS TEXT), deleted_at, deleted_by FROM `+k.table+`
		WHERE deleted_at IS NOT NULL ORDER BY deleted_at DESC, id`)
	if err != nil {
		return nil, wrap("list deleted "+kind, err)
	}
	defer rows.Close()

	out := []models.DeletedItem{}
	for rows.Next() {
		var (
			item      = models.DeletedItem{Kind: kind}
			deletedBy sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.Label, &item.DeletedAt, &deletedBy); err != nil {
			return nil, err
		}
		item.DeletedBy = nullInt(deletedBy)
		out = append(out, item)
	}

	return out, rows.Err()
}
