// Package handler exposes the HTTP API: account registration, checkout,
// subscription management, download token issuance and redemption, and the
// Stripe webhook endpoint.
//
// Handlers stay thin. They parse input, call one service method and map the
// service error taxonomy onto HTTP statuses. Webhook signature verification
// happens here, before the reconciler ever sees the payload.
package handler
