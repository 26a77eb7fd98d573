package download

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/billgate/billgate/pkg/pg"
)

// PgTokenStore implements TokenStore on PostgreSQL. The single-use property
// rests on Redeem being one conditional UPDATE: the row qualifies only
// while used_at is NULL, so exactly one concurrent redeemer sees a row.
type PgTokenStore struct {
	pool *pgxpool.Pool
}

func NewPgTokenStore(pool *pgxpool.Pool) *PgTokenStore {
	return &PgTokenStore{pool: pool}
}

const tokenColumns = `id, user_id, token, platform, expires_at, used_at, created_at`

func (s *PgTokenStore) Create(ctx context.Context, token *Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO download_tokens (id, user_id, token, platform, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		token.ID, token.UserID, token.Value, token.Platform, token.ExpiresAt, token.CreatedAt,
	)
	return err
}

func (s *PgTokenStore) scanToken(row interface{ Scan(...any) error }) (*Token, error) {
	var t Token
	err := row.Scan(&t.ID, &t.UserID, &t.Value, &t.Platform, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if pg.IsNotFoundError(err) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PgTokenStore) ByValue(ctx context.Context, value string) (*Token, error) {
	return s.scanToken(s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM download_tokens WHERE token = $1`, value))
}

func (s *PgTokenStore) Redeem(ctx context.Context, value string, now time.Time) (*Token, error) {
	token, err := s.scanToken(s.pool.QueryRow(ctx, `
		UPDATE download_tokens SET used_at = $2
		WHERE token = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING `+tokenColumns,
		value, now))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrTokenNotFound) {
		return nil, err
	}

	// No row matched the conditional update; classify why.
	existing, lookupErr := s.ByValue(ctx, value)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing.UsedAt != nil {
		return nil, ErrTokenAlreadyUsed
	}
	return nil, ErrTokenExpired
}

func (s *PgTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM download_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PgTokenStore) ByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM download_tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Token
	for rows.Next() {
		t, err := s.scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
