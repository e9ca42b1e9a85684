// Package logging provides structured logging configuration for mockstage.
//
// This package wraps log/slog so the supervisor, listeners and the proxy
// path all log the same way. Create a logger once in the CLI and hand it to
// each component through its WithLogger option:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("listener started", "protocol", "http", "port", 8001)
//
// Components default to logging.Nop() when no logger is given.
package logging
