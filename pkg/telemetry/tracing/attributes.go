package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on tokengate spans.
const (
	AttrProvider  = "tokengate.provider"
	AttrModel     = "tokengate.model"
	AttrRequestID = "tokengate.request_id"
	AttrAttempt   = "tokengate.attempt"

	AttrTokensEstimated = "tokengate.tokens.estimated"
	AttrTokensInput     = "tokengate.tokens.input"
	AttrTokensOutput    = "tokengate.tokens.output"

	AttrWaitMs       = "tokengate.wait_ms"
	AttrErrorType    = "tokengate.error.type"
	AttrErrorMessage = "error.message"
)

// AttemptAttributes returns the attributes identifying one attempt.
func AttemptAttributes(provider, requestID string, attempt int, estimated int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrProvider, provider),
		attribute.String(AttrRequestID, requestID),
		attribute.Int(AttrAttempt, attempt),
		attribute.Int64(AttrTokensEstimated, estimated),
	}
}

// SetModelAttribute sets the model when known.
func SetModelAttribute(span trace.Span, model string) {
	if model != "" {
		span.SetAttributes(attribute.String(AttrModel, model))
	}
}

// SetTokenAttributes sets the actual token counts of a confirmed call.
func SetTokenAttributes(span trace.Span, input, output int64) {
	span.SetAttributes(
		attribute.Int64(AttrTokensInput, input),
		attribute.Int64(AttrTokensOutput, output),
	)
}

// SetErrorAttributes records err with a classification on span.
func SetErrorAttributes(span trace.Span, err error, errorType string) {
	if err == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrErrorType, errorType))
	SetError(span, err)
}
