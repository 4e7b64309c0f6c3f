package resolver

import (
	"strings"

	"github.com/toolgate/toolgate/engine/mcp"
)

// RedactedValue replaces sensitive values before a definition is logged or
// returned to a caller.
const RedactedValue = "[REDACTED]"

// sensitiveKeySubstrings identify env var and header keys whose values must
// never reach a log.
var sensitiveKeySubstrings = []string{
	"key",
	"secret",
	"password",
	"token",
	"auth",
	"credential",
	"private",
}

// IsSensitiveKey reports whether an env var or header key carries a secret,
// by case-insensitive substring match against the allow/deny table.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveKeySubstrings {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of the definition with every sensitive env var and
// header value replaced by the redaction marker. It is idempotent: a
// sanitized definition passes through unchanged. Only log and API-response
// paths use the sanitized copy; the agent engine receives the original.
func Sanitize(def *mcp.ServerDefinition) *mcp.ServerDefinition {
	if def == nil {
		return nil
	}
	clean := def.Clone()
	for k := range clean.Env {
		if IsSensitiveKey(k) {
			clean.Env[k] = RedactedValue
		}
	}
	for k := range clean.Headers {
		if IsSensitiveKey(k) {
			clean.Headers[k] = RedactedValue
		}
	}
	return clean
}

// SanitizeAll sanitizes every definition in a map, returning a new map.
func SanitizeAll(defs map[string]*mcp.ServerDefinition) map[string]*mcp.ServerDefinition {
	if defs == nil {
		return nil
	}
	out := make(map[string]*mcp.ServerDefinition, len(defs))
	for name, def := range defs {
		out[name] = Sanitize(def)
	}
	return out
}
