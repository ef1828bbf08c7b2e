package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const clientColumns = `id, company_name, contact_name, email, phone, minimum_hours, created, updated, deleted_at, deleted_by`

func (r *SQLiteRepo) CreateClient(ctx context.Context, c *models.Client) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("client is nil")
	}
	ts := now()
	res, err := r.conn.Exec(ctx, `INSERT INTO clients (company_name, contact_name, email, phone, minimum_hours, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.CompanyName, c.ContactName, c.Email, c.Phone, c.MinimumHours, ts, ts)
	if err != nil {
		return 0, wrap("create client", err)
	}

	c.Created, c.Updated = ts, ts
	return res.LastInsertId()
}

func (r *SQLiteRepo) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	return getClient(ctx, r.q(), id)
}

func getClient(ctx context.Context, q querier, id int64) (*models.Client, error) {
	c, err := scanClient(q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ? AND deleted_at IS NULL`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepo) ListClients(ctx context.Context, p repository.ListParams) ([]models.Client, error) {
	limit, offset := limits(p)

	rows, err := r.conn.QueryRows(ctx, `SELECT `+clientColumns+` FROM clients WHERE deleted_at IS NULL ORDER BY company_name LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, wrap("list clients", err)
	}
	defer rows.Close()

	var out []models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) UpdateClient(ctx context.Context, c *models.Client) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}

	c.Updated = now()
	err := affected(r.conn.Exec(ctx, `UPDATE clients SET company_name = ?, contact_name = ?, email = ?, phone = ?, minimum_hours = ?, updated = ? WHERE id = ? AND deleted_at IS NULL`,
		c.CompanyName, c.ContactName, c.Email, c.Phone, c.MinimumHours, c.Updated, c.ID))
	return wrap("update client", err)
}

func scanClient(sc scanner) (*models.Client, error) {
	var (
		c         models.Client
		deletedAt sql.NullInt64
		deletedBy sql.NullInt64
	)
	if err := sc.Scan(&c.ID, &c.CompanyName, &c.ContactName, &c.Email, &c.Phone, &c.MinimumHours, &c.Created, &c.Updated, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}
	c.DeletedAt, c.DeletedBy = nullInt(deletedAt), nullInt(deletedBy)

	return &c, nil
}
