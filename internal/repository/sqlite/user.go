package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const userColumns = `id, email, name, role, client_id, phone, password_hash, created, updated, deleted_at, deleted_by`

func (r *SQLiteRepo) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	if u == nil {
		return 0, fmt.Errorf("user is nil")
	}

	ts := now()
	res, err := r.conn.Exec(ctx, `INSERT INTO users (email, name, role, client_id, phone, password_hash, created, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.Name, string(u.Role), u.ClientID, u.Phone, u.PasswordHash, ts, ts)
	if err != nil {
		return 0, wrap("create user", unique(err))
	}

	u.Created, u.Updated = ts, ts
	return res.LastInsertId()
}

func (r *SQLiteRepo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? AND deleted_at IS NULL`, id)
	return scanUserRow(row)
}

func (r *SQLiteRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? AND deleted_at IS NULL`, email)
	return scanUserRow(row)
}

// FindUserByEmail also sees soft-deleted users; emails stay unique across them.
func (r *SQLiteRepo) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUserRow(row)
}

// ListUsers lists active users, optionally restricted to one role.
func (r *SQLiteRepo) ListUsers(ctx context.Context, role models.Role, p repository.ListParams) ([]models.User, error) {
	limit, offset := limits(p)

	rows, err := r.conn.QueryRows(ctx, `SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL AND (? = '' OR role = ?) ORDER BY email LIMIT ? OFFSET ?`,
		string(role), string(role), limit, offset)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}

	return out, rows.Err()
}

func (r *SQLiteRepo) UpdateUser(ctx context.Context, u *models.User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}

	u.Updated = now()
	err := affected(r.conn.Exec(ctx, `UPDATE users SET email = ?, name = ?, role = ?, client_id = ?, phone = ?, password_hash = ?, updated = ? WHERE id = ? AND deleted_at IS NULL`,
		u.Email, u.Name, string(u.Role), u.ClientID, u.Phone, u.PasswordHash, u.Updated, u.ID))
	return wrap("update user", unique(err))
}

func scanUserRow(row *sql.Row) (*models.User, error) {
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func scanUser(sc scanner) (*models.User, error) {
	var (
		u         models.User
		role      string
		clientID  sql.NullInt64
		pw        sql.NullString
		deletedAt sql.NullInt64
		deletedBy sql.NullInt64
	)
	if err := sc.Scan(&u.ID, &u.Email, &u.Name, &role, &clientID, &u.Phone, &pw, &u.Created, &u.Updated, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}

	u.Role = models.Role(role)
	u.ClientID = nullInt(clientID)
	if pw.Valid {
		u.PasswordHash = pw.String
	}
	u.DeletedAt, u.DeletedBy = nullInt(deletedAt), nullInt(deletedBy)

	return &u, nil
}
