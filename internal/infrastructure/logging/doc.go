// Package logging provides structured logging for the cloudsync daemon.
//
// It wraps log/slog so every record carries the service name and build
// version, with the level, encoding (JSON or text) and destination taken
// from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	cloudLog := logger.With("component", "cloud")
//	cloudLog.Info("connected", "broker", host)
//
// Never log secrets or derived credentials. The engine logs the broker
// host and client id, never the password.
package logging
