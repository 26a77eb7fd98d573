// Package logger builds configured slog.Logger instances for billgate
// services.
//
// It wraps the standard library's log/slog with a small factory that picks
// the output format and level from options, so every process logs the same
// way without repeating handler setup:
//
//	log := logger.New(
//		logger.WithProduction("billgate"),
//	)
//	logger.SetAsDefault(log)
//
// The package also ships a handful of attribute helpers (logger.Error,
// logger.UserID, ...) that keep attribute keys consistent across the
// codebase.
package logger
