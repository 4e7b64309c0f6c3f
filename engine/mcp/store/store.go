package store

import (
	"context"
	"time"

	"github.com/toolgate/toolgate/engine/mcp"
)

// TenantServerRecord is the persisted form of a tenant-scoped server
// definition. Records are created and mutated only through the management
// CRUD surface; the resolution engine reads them.
type TenantServerRecord struct {
	TenantID   string                `json:"tenant_id"`
	Definition *mcp.ServerDefinition `json:"definition"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Store is the read path the resolution engine consumes. Every lookup is
// scoped by tenant id; there is no cross-tenant listing operation reachable
// from the resolution path.
type Store interface {
	ListForTenant(ctx context.Context, tenantID string) ([]*TenantServerRecord, error)
	Close() error
}
