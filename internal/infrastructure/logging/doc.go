// Package logging wraps log/slog with the service's conventions: JSON
// in production, text for development, level filtering from the config,
// and service/version fields stamped on every record.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//
// Never log secrets or auth tokens; log hashes or prefixes instead.
package logging
