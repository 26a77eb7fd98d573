// Package download issues and redeems single-use download tokens.
//
// A token is a capability: possession of the unguessable value is sufficient
// to redeem it exactly once within its lifetime. Issuance is gated on the
// user holding an active subscription; redemption is an atomic conditional
// update, so any number of concurrent redemption attempts on the same value
// yield exactly one success and the rest ErrTokenAlreadyUsed. Expiry is
// exclusive: a token redeemed at or after its expiresAt instant is expired.
//
// Expired tokens are garbage-collected by the Sweeper, a ticker loop safe to
// run from any number of processes since the delete is idempotent.
//
// Successful redemptions resolve the protected artifact to a presigned S3
// URL through ArtifactStore.
package download
