/*
Package log provides structured logging for blwatch using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable levels, and optional file
sinks: an application log receiving every event and an error log receiving
error-and-above events, matching the APP_LOG_PATH / ERROR_LOG_PATH
configuration surface.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, AppLogPath: "logs/app.log"})
	defer log.Close()

	logger := log.WithComponent("worker")
	logger.Info().Str("ip", "192.0.2.1").Msg("probe completed")
*/
package log
