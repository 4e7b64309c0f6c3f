package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/toolgate/toolgate/engine/mcp"
	"github.com/toolgate/toolgate/pkg/logger"
)

// StaticSnapshot is the deployment-wide configuration after environment
// variable resolution. It is immutable for the lifetime of the process and
// replaced only by an explicit reload.
type StaticSnapshot struct {
	Servers  map[string]*mcp.ServerDefinition
	Warnings []string
	LoadedAt time.Time
}

// EmptySnapshot returns a snapshot with no servers, used when the static
// file is missing or failed to parse.
func EmptySnapshot() *StaticSnapshot {
	return &StaticSnapshot{
		Servers:  make(map[string]*mcp.ServerDefinition),
		LoadedAt: time.Now(),
	}
}

// StaticLoader parses the static configuration file and holds the current
// snapshot behind an atomic pointer: readers always see either the previous
// or the new snapshot, never a partially built one, with no lock on the
// read path.
type StaticLoader struct {
	path     string
	snapshot atomic.Pointer[StaticSnapshot]
}

// NewStaticLoader creates a loader for the given file path. The loader
// starts with an empty snapshot; call Load to populate it.
func NewStaticLoader(path string) *StaticLoader {
	l := &StaticLoader{path: path}
	l.snapshot.Store(EmptySnapshot())
	return l
}

// Snapshot returns the current snapshot. Never nil.
func (l *StaticLoader) Snapshot() *StaticSnapshot {
	return l.snapshot.Load()
}

// Load parses the configured file and atomically swaps the held snapshot.
// On failure the previous snapshot is kept and a *ConfigParseError is
// returned; callers treat it as non-fatal and continue with what they have.
func (l *StaticLoader) Load(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if l.path == "" {
		l.snapshot.Store(EmptySnapshot())
		return nil
	}

	snapshot, err := parseStaticFile(l.path)
	if err != nil {
		return err
	}

	for _, warning := range snapshot.Warnings {
		log.Warn("static config placeholder resolved to empty string", "placeholder", warning, "path", l.path)
	}
	log.Info("static config loaded", "path", l.path, "servers", len(snapshot.Servers))

	l.snapshot.Store(snapshot)
	return nil
}

// Reload reparses the file and swaps the snapshot. Identical to Load; the
// separate name marks the explicit reload operation exposed to admins.
func (l *StaticLoader) Reload(ctx context.Context) error {
	return l.Load(ctx)
}

// staticFile is the on-disk document shape. Unknown top-level keys are
// ignored for forward compatibility.
type staticFile struct {
	MCPServers map[string]staticEntry `json:"mcpServers"`
}

// staticEntry mirrors one raw server definition before environment
// placeholder expansion.
type staticEntry struct {
	Type      mcp.TransportType `json:"type"`
	Transport mcp.TransportType `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	URL       string            `json:"url"`
	Env       map[string]string `json:"env"`
	Headers   map[string]string `json:"headers"`
	Enabled   *bool             `json:"enabled"`
}

func parseStaticFile(path string) (*StaticSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigParseError{Path: path, Err: err}
	}

	var file staticFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &ConfigParseError{Path: path, Err: err}
	}

	snapshot := EmptySnapshot()
	expander := newEnvExpander()

	for name, entry := range file.MCPServers {
		transport := entry.Transport
		if transport == "" {
			transport = entry.Type
		}
		def := &mcp.ServerDefinition{
			Name:      expander.expand(name),
			Transport: transport,
			Command:   expander.expand(entry.Command),
			Args:      expander.expandSlice(entry.Args),
			URL:       expander.expand(entry.URL),
			Env:       expander.expandMap(entry.Env),
			Headers:   expander.expandMap(entry.Headers),
			Enabled:   entry.Enabled,
		}
		// Expansion can collapse two distinct keys into one, which would
		// silently drop an entry; treat it like any other invalid entry.
		if len(def.Env) != len(entry.Env) {
			return nil, &ConfigParseError{Path: path, Err: fmt.Errorf("server %q: env keys collide after placeholder expansion", name)}
		}
		if len(def.Headers) != len(entry.Headers) {
			return nil, &ConfigParseError{Path: path, Err: fmt.Errorf("server %q: header keys collide after placeholder expansion", name)}
		}
		if err := def.Validate(); err != nil {
			return nil, &ConfigParseError{Path: path, Err: fmt.Errorf("server %q: %w", name, err)}
		}
		snapshot.Servers[def.Name] = def
	}

	snapshot.Warnings = expander.unresolved
	return snapshot, nil
}

var envPlaceholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envExpander substitutes ${VAR_NAME} placeholders with the process's own
// environment. Unset variables expand to the empty string and are collected
// as soft warnings rather than failing the load.
type envExpander struct {
	unresolved []string
}

func newEnvExpander() *envExpander {
	return &envExpander{}
}

func (e *envExpander) expand(s string) string {
	return envPlaceholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		value, ok := os.LookupEnv(name)
		if !ok {
			e.unresolved = append(e.unresolved, name)
			return ""
		}
		return value
	})
}

func (e *envExpander) expandSlice(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = e.expand(v)
	}
	return out
}

func (e *envExpander) expandMap(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[e.expand(k)] = e.expand(v)
	}
	return out
}
