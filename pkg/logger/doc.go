// Package logger builds the service's *slog.Logger and defines the
// attribute helpers used across the mail queue.
//
// New applies Option values over a JSON, info level, stdout default.
// Environment presets (WithDevelopment, WithStaging, WithProduction, or
// WithEnvironment by name) set format, level and the service/env
// attributes. NewFromConfig does the same from APP_ENV, APP_NAME, LOG_LEVEL
// and LOG_FORMAT.
//
// Context extractors registered with WithContextExtractors or
// WithContextValue run on every record, so values carried in the context
// (the dispatch origin, the HTTP request id) appear without being passed to
// each call:
//
//	log := logger.NewFromConfig(cfg,
//	    logger.WithContextExtractors(mailqueue.OriginExtractor),
//	    logger.WithContextValue("request_id", middleware.RequestIDKey),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "message sent",
//	    logger.MessageID(42),
//	    logger.Attempt(1),
//	)
//
// Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("sweep finished", logger.Error(err))
//
// needs no nil check.
package logger
