// Package ratelimiter provides fixed-window request rate limiting for the
// public token issuance and redemption endpoints.
//
// The limiter counts requests per key per window through a Store. The Redis
// store makes limits consistent across replicas by doing the count-and-expire
// in a single Lua script; the in-memory store serves tests and single-node
// development. The HTTP middleware fails open: a storage outage must not take
// the download path down with it.
package ratelimiter
