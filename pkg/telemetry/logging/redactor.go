package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redactor masks credentials in log attributes.
//
// Attributes whose key names a secret (api_key, authorization, password,
// token) are replaced outright. String values are scanned for provider key
// and bearer token shapes.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor creates a Redactor with the built-in credential patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*redactPattern{
			// OpenAI / Anthropic style keys
			{regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`), "sk-***"},
			// Bearer tokens in headers or error messages
			{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`), "Bearer ***"},
		},
	}
}

// RedactString masks credential shapes in value.
func (r *Redactor) RedactString(value string) string {
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr masks a single attribute, descending into groups.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, "***")
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindGroup:
		attrs := v.Group()
		out := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	switch k {
	case "api_key", "apikey", "authorization", "password", "secret", "token":
		return true
	}
	return strings.HasSuffix(k, "_api_key") || strings.HasSuffix(k, "_password")
}

// RedactAPIKey masks all but the first four characters of a key.
func RedactAPIKey(apiKey string) string {
	if len(apiKey) <= 4 {
		return "***"
	}
	return apiKey[:4] + "***"
}
