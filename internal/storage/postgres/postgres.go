package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tgvault/tgvault/internal/config"
	"github.com/tgvault/tgvault/internal/storage"
	"github.com/tgvault/tgvault/internal/types"
)

type Postgres struct {
	Db *sql.DB
}

func NewPostgres(cfg *config.Config) (*Postgres, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.PGSQL.Host, cfg.PGSQL.Port, cfg.PGSQL.User, cfg.PGSQL.Password, cfg.PGSQL.DBName, cfg.PGSQL.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		return nil, err
	}

	pg := &Postgres{Db: db}
	if err := pg.CreateTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return pg, nil
}

func (p *Postgres) CreateTables() error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			first_name VARCHAR(255) NOT NULL DEFAULT '',
			last_name VARCHAR(255) NOT NULL DEFAULT '',
			language VARCHAR(16) NOT NULL DEFAULT 'en',
			tier VARCHAR(16) NOT NULL DEFAULT 'regular' CHECK (tier IN ('regular', 'premium')),
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		`,
		`
		CREATE TABLE IF NOT EXISTS stored_objects (
			object_key VARCHAR(512) PRIMARY KEY,
			owner_id BIGINT NOT NULL REFERENCES users(id),
			file_name VARCHAR(512) NOT NULL DEFAULT '',
			size BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_stored_objects_expires_at ON stored_objects (expires_at);`,
		`
		CREATE TABLE IF NOT EXISTS premium_requests (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			requested_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'resolved'))
		);
		`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_premium_requests_one_pending
			ON premium_requests (user_id) WHERE status = 'pending';`,
	}

	for _, q := range queries {
		if _, err := p.Db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// ------------------ Users ------------------

func (p *Postgres) UpsertUser(ctx context.Context, id int64, username, firstName, lastName string) (*types.User, error) {
	row := p.Db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET username=$2, first_name=$3, last_name=$4
		RETURNING id, username, first_name, last_name, language, tier, created_at
	`, id, username, firstName, lastName)

	return scanUser(row)
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (*types.User, error) {
	row := p.Db.QueryRowContext(ctx, `
		SELECT id, username, first_name, last_name, language, tier, created_at
		FROM users
		WHERE id=$1
	`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return u, err
}

func scanUser(row *sql.Row) (*types.User, error) {
	u := &types.User{}
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Language, &u.Tier, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *Postgres) SetTier(ctx context.Context, id int64, tier types.Tier) error {
	res, err := p.Db.ExecContext(ctx, `UPDATE users SET tier=$2 WHERE id=$1`, id, tier)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (p *Postgres) SetLanguage(ctx context.Context, id int64, language string) error {
	_, err := p.Db.ExecContext(ctx, `UPDATE users SET language=$2 WHERE id=$1`, id, language)
	return err
}

// ------------------ Stored objects ------------------

func (p *Postgres) CreateRecord(ctx context.Context, rec types.StoredObjectRecord) error {
	_, err := p.Db.ExecContext(ctx, `
		INSERT INTO stored_objects (object_key, owner_id, file_name, size, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ObjectKey, rec.OwnerID, rec.FileName, rec.Size, rec.CreatedAt, rec.ExpiresAt)
	return err
}

func (p *Postgres) ListExpired(ctx context.Context, now time.Time, limit int) ([]types.StoredObjectRecord, error) {
	rows, err := p.Db.QueryContext(ctx, `
		SELECT object_key, owner_id, file_name, size, created_at, expires_at
		FROM stored_objects
		WHERE expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (p *Postgres) DeleteRecord(ctx context.Context, objectKey string) error {
	_, err := p.Db.ExecContext(ctx, `DELETE FROM stored_objects WHERE object_key=$1`, objectKey)
	return err
}

func (p *Postgres) ListByOwner(ctx context.Context, ownerID int64) ([]types.StoredObjectRecord, error) {
	rows, err := p.Db.QueryContext(ctx, `
		SELECT object_key, owner_id, file_name, size, created_at, expires_at
		FROM stored_objects
		WHERE owner_id=$1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]types.StoredObjectRecord, error) {
	var records []types.StoredObjectRecord
	for rows.Next() {
		var rec types.StoredObjectRecord
		err := rows.Scan(&rec.ObjectKey, &rec.OwnerID, &rec.FileName, &rec.Size, &rec.CreatedAt, &rec.ExpiresAt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ------------------ Premium requests ------------------

func (p *Postgres) CreatePending(ctx context.Context, userID int64, requestedAt time.Time) (*types.PremiumRequest, error) {
	req := &types.PremiumRequest{UserID: userID, RequestedAt: requestedAt, Status: types.RequestPending}
	err := p.Db.QueryRowContext(ctx, `
		INSERT INTO premium_requests (user_id, requested_at)
		VALUES ($1, $2)
		RETURNING id
	`, userID, requestedAt).Scan(&req.ID)
	if err != nil {
		// The partial unique index guarantees one pending row per user.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, storage.ErrDuplicatePending
		}
		return nil, err
	}
	return req, nil
}

func (p *Postgres) GetPending(ctx context.Context, userID int64) (*types.PremiumRequest, error) {
	req := &types.PremiumRequest{}
	err := p.Db.QueryRowContext(ctx, `
		SELECT id, user_id, requested_at, status
		FROM premium_requests
		WHERE user_id=$1 AND status='pending'
	`, userID).Scan(&req.ID, &req.UserID, &req.RequestedAt, &req.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (p *Postgres) ResolvePending(ctx context.Context, userID int64) error {
	res, err := p.Db.ExecContext(ctx, `
		UPDATE premium_requests SET status='resolved'
		WHERE user_id=$1 AND status='pending'
	`, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
