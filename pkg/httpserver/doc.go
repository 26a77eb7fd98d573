// Package httpserver runs the HTTP boundary with graceful shutdown.
//
// Run blocks until the context is canceled, an interrupt signal arrives or
// the listener fails. In-flight requests get the configured shutdown window
// to finish before the process exits, which matters for webhook deliveries
// already past signature verification.
package httpserver
