package config

import (
	"errors"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrNilConfig indicates that a nil pointer was passed to Load.
	ErrNilConfig = errors.New("config: nil target")
	// ErrFailedToParse wraps env parsing failures.
	ErrFailedToParse = errors.New("config: failed to parse environment")
)

var defaultEnvLoaded sync.Once

// Load parses environment variables into the provided configuration struct.
//
// The default .env file is loaded once per process before the first parse;
// a missing .env file is not an error.
func Load[T any](v *T) error {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional - absence is the normal production case.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilConfig
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrFailedToParse, err)
	}
	return nil
}

// MustLoad parses the environment into T and panics on failure.
// Intended for process startup where a broken configuration should
// prevent the service from starting at all.
func MustLoad[T any]() T {
	var v T
	if err := Load(&v); err != nil {
		panic(err)
	}
	return v
}
