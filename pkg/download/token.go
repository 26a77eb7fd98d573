package download

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/billgate/billgate/pkg/billing"
)

// tokenBytes is the entropy of a token value. 32 bytes is double the
// 128-bit unguessability floor and still URL-friendly after encoding.
const tokenBytes = 32

// Token grants one download of the platform artifact.
type Token struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Value     string // high-entropy random value, the lookup key
	Platform  billing.Platform
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// RedeemableAt reports whether the token can be redeemed at the given
// instant. The expiry boundary is exclusive: a token presented exactly at
// ExpiresAt is already expired.
func (t *Token) RedeemableAt(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// generateValue produces a cryptographically random token value.
func generateValue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
