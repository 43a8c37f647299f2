// Package logging provides structured logging for Mortal Core.
//
// It wraps log/slog with the process defaults: JSON or text output,
// level filtering from configuration, and service/version attributes on
// every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("server started", "port", 8000)
//
// Passwords and raw tokens are never logged. Use TokenHint when a token
// needs to be correlated across entries.
package logging
