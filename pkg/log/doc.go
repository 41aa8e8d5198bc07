/*
Package log provides structured logging for ebspin using zerolog.

The package wraps a single global zerolog.Logger that is configured once by
the ebspin binary via Init. Packages derive child loggers carrying the
fields they care about instead of passing loggers around:

	logger := log.WithComponent("volume")
	logger.Info().Str("volume_id", id).Msg("Volume is available")

	logger := log.WithIdentity(uuid)
	logger.Warn().Strs("unexpected_tags", keys).Msg("Skipping snapshot")

# Output

Logs go to stderr so that stdout stays clean for command output (the
attached volume id, history tables). Two formats are supported:

  - Console (default): human readable, RFC3339 timestamps
  - JSON (--json-logs): one object per line, for journald/CloudWatch agents

# Levels

	debug  API calls, poll iterations
	info   resolution path, created/attached/deleted resources
	warn   skipped foreign snapshots, retried API calls
	error  per-resource cleanup failures (the sweep continues)

Fatal errors are not logged here; they are returned to the CLI which prints
the error kind and exits non-zero.
*/
package log
