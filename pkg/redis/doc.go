// Package redis provides a retrying connection helper for the go-redis
// client.
//
// Redis backs the rate limiter in front of the download token issuance
// boundary. Configuration is described by the Config struct whose fields are
// populated from environment variables via github.com/caarlos0/env.
package redis
