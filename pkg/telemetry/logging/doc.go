// Package logging configures structured logging on log/slog.
//
// # Overview
//
// The logging package builds a *slog.Logger with:
//   - JSON, text, and console formats
//   - An optional log file written alongside stdout
//   - Request fields (request_id, provider, model, attempt) taken from the
//     context passed to the *Context logging methods
//   - Trace and span ids from the active OpenTelemetry span
//   - Masking of API keys and bearer tokens
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:         "info",
//	    Format:        "json",
//	    File:          "logs/tokengate.log",
//	    RedactSecrets: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Shutdown()
//	slog.SetDefault(logger.Logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "usage confirmed", "input_tokens", 120)
//	// ... request_id=req-123 input_tokens=120
package logging
