package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenRepository interface {
	Latest(ctx context.Context) (*domain.AccessToken, error)
	Save(ctx context.Context, token *domain.AccessToken) error
}

type PGTokenRepository struct {
	db *pgxpool.Pool
}

func NewTokenRepository(db *pgxpool.Pool) TokenRepository {
	return &PGTokenRepository{db: db}
}

// Latest returns the newest token row, or nil when none was ever issued.
func (r *PGTokenRepository) Latest(ctx context.Context) (*domain.AccessToken, error) {
	var t domain.AccessToken
	err := r.db.QueryRow(ctx, `SELECT id, access_token, token_type, scope, expires_in, expires_at, created_at
		FROM gds_tokens ORDER BY id DESC LIMIT 1`).
		Scan(&t.ID, &t.Token, &t.TokenType, &t.Scope, &t.ExpiresIn, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Save inserts a new row; it supersedes older rows by ordering, they are
// never updated.
func (r *PGTokenRepository) Save(ctx context.Context, token *domain.AccessToken) error {
	return r.db.QueryRow(ctx, `INSERT INTO gds_tokens (access_token, token_type, scope, expires_in, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`, token.Token, token.TokenType, token.Scope, token.ExpiresIn, token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt)
}

var _ TokenRepository = (*PGTokenRepository)(nil)
