// Package logging builds the zap loggers used across booster.
//
// Production output is JSON and development output is colored console text.
// Both go to stderr by default. Worker hosts derive children tagged with
// the host ID and job kind, so every line written on behalf of an isolated
// context can be traced back to it.
//
//	logger := logging.FromConfig(cfg.Logging.Level, cfg.Logging.Development)
//	defer logger.Sync()
//	host := worker.Spawn(reg, worker.WithLogger(logger.Named("host")))
package logging
