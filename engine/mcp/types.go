package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"slices"
)

// TransportType represents the transport a tool-provider server speaks.
type TransportType string

const (
	// TransportStdio is a locally spawned process speaking over stdin/stdout
	TransportStdio TransportType = "stdio"
	// TransportSSE is a remote server speaking Server-Sent Events
	TransportSSE TransportType = "sse"
	// TransportHTTP is a remote server speaking plain HTTP
	TransportHTTP TransportType = "http"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportHTTP:
		return true
	}
	return false
}

// IsRemote reports whether the transport connects over the network.
func (t TransportType) IsRemote() bool {
	return t == TransportSSE || t == TransportHTTP
}

func (t TransportType) String() string {
	return string(t)
}

// Origin tags which configuration tier produced a definition. It is carried
// for audit purposes only; precedence is decided by merge order, never by
// inspecting this tag.
type Origin string

const (
	OriginStatic  Origin = "static"
	OriginTenant  Origin = "tenant"
	OriginRequest Origin = "request"
)

func (o Origin) String() string {
	return string(o)
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether a server name is non-empty and uses only
// letters, digits, underscore, and dash. Names outside this set never pass
// resolution, so write paths reject them up front.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// ServerDefinition is one tool-provider server's connection recipe. A
// definition is treated as immutable once validated; any normalization
// produces a new value via Clone.
type ServerDefinition struct {
	Name      string            `json:"name"`
	Transport TransportType     `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
	Origin    Origin            `json:"origin,omitempty"`
}

// IsEnabled reports whether the definition participates in merge output.
// An absent enabled field defaults to true.
func (d *ServerDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Validate checks the structural shape of the definition: required fields
// per transport, and rejection of fields that do not belong to the declared
// transport. Security checks (metacharacters, SSRF) are a separate concern
// applied post-merge by the resolver.
func (d *ServerDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("name is required")
	}
	if !d.Transport.IsValid() {
		return fmt.Errorf("invalid transport type: %s", d.Transport)
	}
	switch d.Transport {
	case TransportStdio:
		if d.Command == "" {
			return errors.New("command is required for stdio transport")
		}
		if d.URL != "" {
			return errors.New("url is not allowed for stdio transport")
		}
		if len(d.Headers) > 0 {
			return errors.New("headers are not allowed for stdio transport")
		}
	case TransportSSE, TransportHTTP:
		if d.URL == "" {
			return fmt.Errorf("url is required for %s transport", d.Transport)
		}
		if err := validateURL(d.URL); err != nil {
			return err
		}
		if d.Command != "" {
			return fmt.Errorf("command is not allowed for %s transport", d.Transport)
		}
		if len(d.Args) > 0 {
			return fmt.Errorf("args are not allowed for %s transport", d.Transport)
		}
		if len(d.Env) > 0 {
			return fmt.Errorf("env is not allowed for %s transport", d.Transport)
		}
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url must use http or https scheme, got: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("url must include a host")
	}
	return nil
}

// SetDefaults fills optional fields with their defaults.
func (d *ServerDefinition) SetDefaults() {
	if d.Enabled == nil {
		enabled := true
		d.Enabled = &enabled
	}
	switch d.Transport {
	case TransportStdio:
		if d.Env == nil {
			d.Env = make(map[string]string)
		}
	case TransportSSE, TransportHTTP:
		if d.Headers == nil {
			d.Headers = make(map[string]string)
		}
	}
}

// Clone returns a deep copy of the definition.
func (d *ServerDefinition) Clone() *ServerDefinition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Args = slices.Clone(d.Args)
	if d.Env != nil {
		clone.Env = maps.Clone(d.Env)
	}
	if d.Headers != nil {
		clone.Headers = maps.Clone(d.Headers)
	}
	if d.Enabled != nil {
		enabled := *d.Enabled
		clone.Enabled = &enabled
	}
	return &clone
}

// WithOrigin returns a copy of the definition tagged with the given tier.
func (d *ServerDefinition) WithOrigin(origin Origin) *ServerDefinition {
	clone := d.Clone()
	clone.Origin = origin
	return clone
}

// ToJSON serializes the definition to JSON
func (d *ServerDefinition) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// rawDefinition mirrors ServerDefinition on the wire, additionally accepting
// the `type` key used by static configuration files as a transport alias.
type rawDefinition struct {
	Name      string            `json:"name"`
	Transport TransportType     `json:"transport"`
	Type      TransportType     `json:"type"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	URL       string            `json:"url"`
	Env       map[string]string `json:"env"`
	Headers   map[string]string `json:"headers"`
	Enabled   *bool             `json:"enabled"`
}

// DecodeDefinition parses a single raw definition. The name argument is the
// map key the definition was found under; it wins over an absent inner name
// and must agree with a present one. The decoded definition is shape
// validated but not security validated.
func DecodeDefinition(name string, data []byte) (*ServerDefinition, error) {
	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}
	transport := raw.Transport
	if transport == "" {
		transport = raw.Type
	}
	if raw.Name != "" && name != "" && raw.Name != name {
		return nil, fmt.Errorf("definition name %q does not match key %q", raw.Name, name)
	}
	if name == "" {
		name = raw.Name
	}
	def := &ServerDefinition{
		Name:      name,
		Transport: transport,
		Command:   raw.Command,
		Args:      raw.Args,
		URL:       raw.URL,
		Env:       raw.Env,
		Headers:   raw.Headers,
		Enabled:   raw.Enabled,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// FromJSON deserializes and shape-validates a definition from JSON.
func FromJSON(data []byte) (*ServerDefinition, error) {
	return DecodeDefinition("", data)
}
