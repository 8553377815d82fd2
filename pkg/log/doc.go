/*
Package log provides structured logging for Foreman built on zerolog.

A single global logger is initialized once at startup via Init and then
consumed through package-level helpers or component-scoped child loggers:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("service", name).Msg("team lead started")

Console output (with timestamps) is used for interactive runs; JSON
output is intended for aggregation. Child-logger helpers attach the
fields used throughout the engine: component, project_id, service and
task_id.
*/
package log
