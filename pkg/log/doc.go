/*
Package log provides structured logging for Warden using zerolog.

The package wraps zerolog behind a small API: a global logger initialized
once via Init, component child loggers via WithComponent, and helpers for
the fields that recur across the codebase (host, incident, deployment).

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("alerts")
	logger.Info().Str("metric", "cpu_usage").Msg("alert emitted")

Console output (human-readable, RFC3339 timestamps) is the default; JSON
output is intended for production where logs are shipped to an aggregator.
*/
package log
