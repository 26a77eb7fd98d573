package download

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenStore defines token persistence. Redeem is the whole point of the
// interface: it must be a single conditional check-and-set, not a
// read-then-write pair, so concurrent redemption of one value cannot
// succeed twice.
type TokenStore interface {
	Create(ctx context.Context, token *Token) error

	// ByValue returns the token for a value or ErrTokenNotFound.
	ByValue(ctx context.Context, value string) (*Token, error)

	// Redeem atomically sets usedAt for the token iff it is still unused
	// and not yet expired at now. Returns the redeemed token, or
	// ErrTokenNotFound / ErrTokenExpired / ErrTokenAlreadyUsed.
	Redeem(ctx context.Context, value string, now time.Time) (*Token, error)

	// DeleteExpired removes tokens with expiresAt before now. Idempotent;
	// returns the number of rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// ByUserID lists a user's tokens, newest first.
	ByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
}
