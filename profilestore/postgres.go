package profilestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
)

// Postgres stores profiles in the profiles table.
type Postgres struct {
	db *sql.DB
}

// Open opens a lib/pq connection pool. sql.Open does not connect; call Ping
// to check reachability.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// NewPostgres returns a store backed by db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// FetchProfile returns the row for userID, or nil when there is none.
func (p *Postgres) FetchProfile(ctx context.Context, userID string) (*storeauth.Profile, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	var prof storeauth.Profile
	err := p.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, phone, created_at, updated_at
		 FROM profiles WHERE id = $1`,
		userID,
	).Scan(&prof.ID, &prof.FirstName, &prof.LastName, &prof.Phone, &prof.CreatedAt, &prof.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &prof, nil
}

// UpdateProfile upserts the row. Nil fields keep their stored value.
func (p *Postgres) UpdateProfile(ctx context.Context, userID string, update storeauth.ProfileUpdate) (*storeauth.Profile, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	var prof storeauth.Profile
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, first_name, last_name, phone)
		 VALUES ($1, COALESCE($2::text, ''), COALESCE($3::text, ''), COALESCE($4::text, ''))
		 ON CONFLICT (id) DO UPDATE SET
		     first_name = COALESCE($2, profiles.first_name),
		     last_name  = COALESCE($3, profiles.last_name),
		     phone      = COALESCE($4, profiles.phone),
		     updated_at = now()
		 RETURNING id, first_name, last_name, phone, created_at, updated_at`,
		userID, nullable(update.FirstName), nullable(update.LastName), nullable(update.Phone),
	).Scan(&prof.ID, &prof.FirstName, &prof.LastName, &prof.Phone, &prof.CreatedAt, &prof.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &prof, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
