package resolver

import "fmt"

// ConfigParseError reports a malformed or schema-violating static
// configuration file. It is non-fatal: callers substitute an empty snapshot
// and continue.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("failed to parse static config %q: %v", e.Path, e.Err)
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// StoreUnavailableError reports a failed or timed-out tenant store lookup.
// The resolution service treats it as an empty tenant tier.
type StoreUnavailableError struct {
	TenantID string
	Err      error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("tenant store unavailable for tenant %q: %v", e.TenantID, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// ValidationError is the structured rejection reason for a single server
// definition. Validation is total: every malformed input maps to one of
// these, never to a panic or a partial definition.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("server %q rejected: %s", e.Name, e.Reason)
}

// ResolutionError reports an unrecoverable internal state. When it occurs
// the whole resolution is refused rather than returning an unknown tool set.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("configuration resolution failed: %v", e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
