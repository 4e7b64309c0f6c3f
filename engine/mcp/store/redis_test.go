package store

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/engine/mcp"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func stdioRecord(tenantID, name string) *TenantServerRecord {
	return &TenantServerRecord{
		TenantID: tenantID,
		Definition: &mcp.ServerDefinition{
			Name:      name,
			Transport: mcp.TransportStdio,
			Command:   "npx",
			Args:      []string{"-y", "server-" + name},
		},
	}
}

func TestValidTenantID(t *testing.T) {
	t.Run("Should accept safe tenant ids", func(t *testing.T) {
		assert.True(t, ValidTenantID("acme"))
		assert.True(t, ValidTenantID("acme-prod_01"))
	})

	t.Run("Should reject glob and separator characters", func(t *testing.T) {
		assert.False(t, ValidTenantID(""))
		assert.False(t, ValidTenantID("*"))
		assert.False(t, ValidTenantID("acme*"))
		assert.False(t, ValidTenantID("acme:server"))
		assert.False(t, ValidTenantID("acme?"))
		assert.False(t, ValidTenantID("a[b]c"))
	})
}

func TestRedisStore_ListForTenant(t *testing.T) {
	t.Run("Should return only the requested tenant's records", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		require.NoError(t, store.Put(t.Context(), stdioRecord("acme", "github")))
		require.NoError(t, store.Put(t.Context(), stdioRecord("acme", "files")))
		require.NoError(t, store.Put(t.Context(), stdioRecord("globex", "payments")))

		records, err := store.ListForTenant(t.Context(), "acme")

		require.NoError(t, err)
		require.Len(t, records, 2)
		for _, record := range records {
			assert.Equal(t, "acme", record.TenantID)
		}
	})

	t.Run("Should return empty for an unknown tenant", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		require.NoError(t, store.Put(t.Context(), stdioRecord("acme", "github")))

		records, err := store.ListForTenant(t.Context(), "globex")

		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("Should reject a tenant id with glob characters", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		require.NoError(t, store.Put(t.Context(), stdioRecord("acme", "github")))

		_, err := store.ListForTenant(t.Context(), "*")

		require.Error(t, err)
	})

	t.Run("Should skip corrupt records", func(t *testing.T) {
		store, mr := newTestRedisStore(t)
		require.NoError(t, store.Put(t.Context(), stdioRecord("acme", "github")))
		require.NoError(t, mr.Set("toolgate:tenant:acme:server:broken", "not json"))

		records, err := store.ListForTenant(t.Context(), "acme")

		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "github", records[0].Definition.Name)
	})

	t.Run("Should drop records whose body tenant disagrees with the key", func(t *testing.T) {
		store, mr := newTestRedisStore(t)
		smuggled := stdioRecord("globex", "payments")
		data, err := smuggled.Definition.ToJSON()
		require.NoError(t, err)
		body := fmt.Sprintf(`{"tenant_id": "globex", "definition": %s}`, data)
		require.NoError(t, mr.Set("toolgate:tenant:acme:server:payments", body))

		records, err := store.ListForTenant(t.Context(), "acme")

		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("Should paginate through many records", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		for i := range 250 {
			require.NoError(t, store.Put(t.Context(), stdioRecord("acme", fmt.Sprintf("server-%03d", i))))
		}

		records, err := store.ListForTenant(t.Context(), "acme")

		require.NoError(t, err)
		assert.Len(t, records, 250)
	})
}

func TestRedisStore_Put(t *testing.T) {
	t.Run("Should persist and set timestamps", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		record := stdioRecord("acme", "github")

		require.NoError(t, store.Put(t.Context(), record))

		assert.False(t, record.CreatedAt.IsZero())
		assert.False(t, record.UpdatedAt.IsZero())
		records, err := store.ListForTenant(t.Context(), "acme")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "github", records[0].Definition.Name)
	})

	t.Run("Should reject invalid definitions", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		record := &TenantServerRecord{
			TenantID: "acme",
			Definition: &mcp.ServerDefinition{
				Name:      "bad",
				Transport: mcp.TransportStdio,
			},
		}

		assert.Error(t, store.Put(t.Context(), record), "stdio without a command must not persist")
		assert.Error(t, store.Put(t.Context(), nil))
		assert.Error(t, store.Put(t.Context(), &TenantServerRecord{TenantID: "acme"}))
	})

	t.Run("Should reject invalid tenant ids", func(t *testing.T) {
		store, _ := newTestRedisStore(t)

		assert.Error(t, store.Put(t.Context(), stdioRecord("acme:*", "github")))
	})

	t.Run("Should reject names outside the safe charset", func(t *testing.T) {
		store, _ := newTestRedisStore(t)

		// Such a record would be rejected by every subsequent resolution,
		// so it must never persist in the first place
		for _, name := range []string{"bad name", "bad!name", "bad/name", ""} {
			assert.Error(t, store.Put(t.Context(), stdioRecord("acme", name)), "name %q", name)
		}
	})
}

func TestRedisStore_Delete(t *testing.T) {
	t.Run("Should delete an existing record", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		require.NoError(t, store.Put(t.Context(), stdioRecord("acme", "github")))

		require.NoError(t, store.Delete(t.Context(), "acme", "github"))

		records, err := store.ListForTenant(t.Context(), "acme")
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("Should report missing records", func(t *testing.T) {
		store, _ := newTestRedisStore(t)

		assert.Error(t, store.Delete(t.Context(), "acme", "missing"))
	})
}
