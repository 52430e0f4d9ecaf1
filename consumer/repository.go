package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested consumer does not exist.
var ErrNotFound = errors.New("consumer: not found")

// Repository provides access to consumer profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileColumns = `id, full_name, address, city, state, postal_code, ssn, date_of_birth, email, created_at`

// GetByID fetches a consumer profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM consumers WHERE id = $1`

	profile, err := scanProfile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("consumer: query by id: %w", err)
	}
	return profile, nil
}

// Upsert stores the profile, replacing mutable fields of an existing row.
func (r *Repository) Upsert(ctx context.Context, p Profile) (Profile, error) {
	query := `
		INSERT INTO consumers (id, full_name, address, city, state, postal_code, ssn, date_of_birth, email)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    address = EXCLUDED.address,
		    city = EXCLUDED.city,
		    state = EXCLUDED.state,
		    postal_code = EXCLUDED.postal_code,
		    ssn = EXCLUDED.ssn,
		    date_of_birth = EXCLUDED.date_of_birth,
		    email = EXCLUDED.email
		RETURNING ` + profileColumns

	profile, err := scanProfile(r.pool.QueryRow(ctx, query,
		p.ID, p.FullName, p.Address, p.City, p.State, p.PostalCode, p.SSN, p.DateOfBirth, p.Email,
	))
	if err != nil {
		return Profile{}, fmt.Errorf("consumer: upsert: %w", err)
	}
	return profile, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.FullName, &p.Address, &p.City, &p.State, &p.PostalCode, &p.SSN, &p.DateOfBirth, &p.Email, &p.CreatedAt)
	return p, err
}
