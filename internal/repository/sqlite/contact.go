package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

const contactColumns = `id, client_id, name, email, phone, is_primary, created`

// CreateContact inserts a contact. When the contact is marked primary the
// client's other contacts are demoted in the same transaction.
func (r *SQLiteRepo) CreateContact(ctx context.Context, c *models.ClientContact) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("contact is nil")
	}

	var id int64
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if c.IsPrimary {
			if _, err := tx.ExecContext(ctx, `UPDATE client_contacts SET is_primary = 0 WHERE client_id = ?`, c.ClientID); err != nil {
				return err
			}
		}

		c.Created = now()
		res, err := tx.ExecContext(ctx, `INSERT INTO client_contacts (client_id, name, email, phone, is_primary, created) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ClientID, c.Name, c.Email, c.Phone, c.IsPrimary, c.Created)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, wrap("create contact", err)
	}

	return id, nil
}

func (r *SQLiteRepo) GetContact(ctx context.Context, clientID, id int64) (*models.ClientContact, error) {
	c, err := scanContact(r.conn.QueryRow(ctx, `SELECT `+contactColumns+` FROM client_contacts WHERE client_id = ? AND id = ?`, clientID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepo) ListContacts(ctx context.Context, clientID int64) ([]models.ClientContact, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT `+contactColumns+` FROM client_contacts WHERE client_id = ? ORDER BY is_primary DESC, name`, clientID)
	if err != nil {
		return nil, wrap("list contacts", err)
	}
	defer rows.Close()

	var out []models.ClientContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}

	return out, rows.Err()
}

// UpdateContact updates the contact's details. The primary flag is only
// changed through SetPrimary.
func (r *SQLiteRepo) UpdateContact(ctx context.Context, c *models.ClientContact) error {
	if c == nil {
		return fmt.Errorf("contact is nil")
	}

	err := affected(r.conn.Exec(ctx, `UPDATE client_contacts SET name = ?, email = ?, phone = ? WHERE client_id = ? AND id = ?`,
		c.Name, c.Email, c.Phone, c.ClientID, c.ID))
	return wrap("update contact", err)
}

func (r *SQLiteRepo) DeleteContact(ctx context.Context, clientID, id int64) error {
	err := affected(r.conn.Exec(ctx, `DELETE FROM client_contacts WHERE client_id = ? AND id = ?`, clientID, id))
	return wrap("delete contact", err)
}

// SetPrimary clears the primary flag on every contact of the client and sets
// it on contactID. Both writes commit together or not at all.
func (r *SQLiteRepo) SetPrimary(ctx context.Context, clientID, contactID int64) error {
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM client_contacts WHERE client_id = ? AND id = ?`, clientID, contactID).Scan(&exists)
		if err == sql.ErrNoRows {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE client_contacts SET is_primary = 0 WHERE client_id = ?`, clientID); err != nil {
			return err
		}
		return affected(tx.ExecContext(ctx, `UPDATE client_contacts SET is_primary = 1 WHERE client_id = ? AND id = ?`, clientID, contactID))
	})
	return wrap("set primary contact", err)
}

func (r *SQLiteRepo) PrimaryContact(ctx context.Context, clientID int64) (*models.ClientContact, error) {
	c, err := scanContact(r.conn.QueryRow(ctx, `SELECT `+contactColumns+` FROM client_contacts WHERE client_id = ? AND is_primary = 1 LIMIT 1`, clientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanContact(sc scanner) (*models.ClientContact, error) {
	var c models.ClientContact
	if err := sc.Scan(&c.ID, &c.ClientID, &c.Name, &c.Email, &c.Phone, &c.IsPrimary, &c.Created); err != nil {
		return nil, err
	}
	return &c, nil
}
