package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGDirectory resolves contacts from the user_contact table.
type PGDirectory struct {
	pool *pgxpool.Pool
}

func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

func (d *PGDirectory) Lookup(ctx context.Context, userID uuid.UUID) (Contact, error) {
	var c Contact
	var email, phone *string
	err := d.pool.QueryRow(ctx,
		`SELECT email, phone FROM user_contact WHERE user_id = $1`, userID,
	).Scan(&email, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, fmt.Errorf("no contact for user %s", userID)
	}
	if err != nil {
		return Contact{}, err
	}
	if email != nil {
		c.Email = *email
	}
	if phone != nil {
		c.Phone = *phone
	}
	return c, nil
}
