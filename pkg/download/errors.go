package download

import "errors"

var (
	// ErrTokenNotFound means no token exists for the presented value.
	ErrTokenNotFound = errors.New("download token not found")

	// ErrTokenExpired is terminal: expired tokens are never revived.
	ErrTokenExpired = errors.New("download token expired")

	// ErrTokenAlreadyUsed is terminal: a redeemed token is permanently inert.
	ErrTokenAlreadyUsed = errors.New("download token already used")

	// ErrForbidden means the user has no active subscription granting
	// download access.
	ErrForbidden = errors.New("no active subscription")

	// ErrNoArtifact means no artifact is configured for the platform.
	ErrNoArtifact = errors.New("no artifact for platform")
)
