/*
Package log provides structured logging for DRMS using zerolog.

It wraps zerolog to give every component (manager, dispatcher, archive
worker, reconciler, client) a logger tagged with its own "component"
field, so a single JSON log stream can be filtered by subsystem without
each call site repeating the tag.

# Usage

	logger := log.WithComponent("dispatcher")
	logger.Info().Str("session_id", id).Msg("session opened")
	logger.Error().Err(err).Int64("sunum", int64(sunum)).Msg("archive submission failed")

# Configuration

Level is set once at process startup via log.Init, which takes a Config
(cmd/drmsd builds it from its --log-level and --log-json flags) and
installs the result as zerolog's global logger. cmd/jsdtool does not use
this package.

# Related packages

  - pkg/metrics: records durations the way this package records events
  - pkg/events: publishes the same operational moments as subscribable events
*/
package log
