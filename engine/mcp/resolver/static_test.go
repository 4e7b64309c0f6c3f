package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/engine/mcp"
)

func writeStaticFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp_servers.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStaticLoader_Load(t *testing.T) {
	t.Run("Should load a valid static file", func(t *testing.T) {
		path := writeStaticFile(t, `{
			"mcpServers": {
				"github": {"type": "stdio", "command": "npx", "args": ["-y", "server-github"]},
				"search": {"type": "http", "url": "https://search.example.com/mcp"}
			}
		}`)
		loader := NewStaticLoader(path)

		require.NoError(t, loader.Load(t.Context()))

		snapshot := loader.Snapshot()
		require.Len(t, snapshot.Servers, 2)
		assert.Equal(t, mcp.TransportStdio, snapshot.Servers["github"].Transport)
		assert.Equal(t, "https://search.example.com/mcp", snapshot.Servers["search"].URL)
		assert.False(t, snapshot.LoadedAt.IsZero())
	})

	t.Run("Should ignore unknown top-level keys", func(t *testing.T) {
		path := writeStaticFile(t, `{
			"version": 3,
			"futureBlock": {"a": 1},
			"mcpServers": {
				"github": {"type": "stdio", "command": "npx"}
			}
		}`)
		loader := NewStaticLoader(path)

		require.NoError(t, loader.Load(t.Context()))
		assert.Len(t, loader.Snapshot().Servers, 1)
	})

	t.Run("Should expand environment placeholders", func(t *testing.T) {
		t.Setenv("GITHUB_PAT", "ghp_test123")
		path := writeStaticFile(t, `{
			"mcpServers": {
				"github": {
					"type": "stdio",
					"command": "npx",
					"env": {"GITHUB_TOKEN": "${GITHUB_PAT}"}
				}
			}
		}`)
		loader := NewStaticLoader(path)

		require.NoError(t, loader.Load(t.Context()))

		snapshot := loader.Snapshot()
		assert.Equal(t, "ghp_test123", snapshot.Servers["github"].Env["GITHUB_TOKEN"])
		assert.Empty(t, snapshot.Warnings)
	})

	t.Run("Should resolve unset placeholders to empty with a warning", func(t *testing.T) {
		path := writeStaticFile(t, `{
			"mcpServers": {
				"github": {
					"type": "stdio",
					"command": "npx",
					"env": {"GITHUB_TOKEN": "${DEFINITELY_NOT_SET_VAR_42}"}
				}
			}
		}`)
		loader := NewStaticLoader(path)

		require.NoError(t, loader.Load(t.Context()))

		snapshot := loader.Snapshot()
		assert.Equal(t, "", snapshot.Servers["github"].Env["GITHUB_TOKEN"])
		assert.Contains(t, snapshot.Warnings, "DEFINITELY_NOT_SET_VAR_42")
	})

	t.Run("Should reject env keys that collide after expansion", func(t *testing.T) {
		t.Setenv("TOKEN_PREFIX", "API")
		path := writeStaticFile(t, `{
			"mcpServers": {
				"github": {
					"type": "stdio",
					"command": "npx",
					"env": {"${TOKEN_PREFIX}_KEY": "a", "API_KEY": "b"}
				}
			}
		}`)
		loader := NewStaticLoader(path)

		err := loader.Load(t.Context())

		require.Error(t, err)
		var parseErr *ConfigParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Contains(t, parseErr.Error(), "collide")
	})

	t.Run("Should return ConfigParseError for malformed JSON", func(t *testing.T) {
		path := writeStaticFile(t, `{not json`)
		loader := NewStaticLoader(path)

		err := loader.Load(t.Context())

		require.Error(t, err)
		var parseErr *ConfigParseError
		assert.True(t, errors.As(err, &parseErr))
	})

	t.Run("Should return ConfigParseError for schema violations", func(t *testing.T) {
		// command on an http entry violates the transport field set
		path := writeStaticFile(t, `{
			"mcpServers": {
				"search": {"type": "http", "url": "https://example.com", "command": "npx"}
			}
		}`)
		loader := NewStaticLoader(path)

		err := loader.Load(t.Context())

		require.Error(t, err)
		var parseErr *ConfigParseError
		assert.True(t, errors.As(err, &parseErr))
	})

	t.Run("Should return ConfigParseError for a missing file", func(t *testing.T) {
		loader := NewStaticLoader("/nonexistent/mcp_servers.json")

		err := loader.Load(t.Context())

		require.Error(t, err)
		var parseErr *ConfigParseError
		assert.True(t, errors.As(err, &parseErr))
	})

	t.Run("Should keep previous snapshot when reload fails", func(t *testing.T) {
		path := writeStaticFile(t, `{
			"mcpServers": {"github": {"type": "stdio", "command": "npx"}}
		}`)
		loader := NewStaticLoader(path)
		require.NoError(t, loader.Load(t.Context()))

		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
		err := loader.Reload(t.Context())

		require.Error(t, err)
		assert.Len(t, loader.Snapshot().Servers, 1, "previous snapshot must survive a failed reload")
	})

	t.Run("Should swap snapshot atomically on reload", func(t *testing.T) {
		path := writeStaticFile(t, `{
			"mcpServers": {"github": {"type": "stdio", "command": "npx"}}
		}`)
		loader := NewStaticLoader(path)
		require.NoError(t, loader.Load(t.Context()))
		before := loader.Snapshot()

		require.NoError(t, os.WriteFile(path, []byte(`{
			"mcpServers": {
				"github": {"type": "stdio", "command": "npx"},
				"files": {"type": "stdio", "command": "mcp-files"}
			}
		}`), 0o600))
		require.NoError(t, loader.Reload(t.Context()))

		assert.Len(t, before.Servers, 1, "old snapshot value is immutable")
		assert.Len(t, loader.Snapshot().Servers, 2)
	})

	t.Run("Should start with an empty snapshot", func(t *testing.T) {
		loader := NewStaticLoader("whatever.json")

		snapshot := loader.Snapshot()

		require.NotNil(t, snapshot)
		assert.Empty(t, snapshot.Servers)
	})

	t.Run("Empty path loads an empty snapshot without error", func(t *testing.T) {
		loader := NewStaticLoader("")

		require.NoError(t, loader.Load(t.Context()))
		assert.Empty(t, loader.Snapshot().Servers)
	})
}
