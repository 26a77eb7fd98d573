package ratelimiter

import "errors"

var (
	ErrStoreRequired   = errors.New("ratelimiter: store is required")
	ErrKeyRequired     = errors.New("ratelimiter: key is required")
	ErrInvalidLimit    = errors.New("ratelimiter: limit must be positive")
	ErrInvalidInterval = errors.New("ratelimiter: window must be positive")
)
