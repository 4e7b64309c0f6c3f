package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/toolgate/toolgate/engine/mcp"
)

// MemoryStore is an in-memory Store implementation for tests and
// storage-less deployments.
type MemoryStore struct {
	records map[string]map[string]*TenantServerRecord
	mu      sync.RWMutex
}

// NewMemoryStore creates a new memory-based store instance
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]*TenantServerRecord),
	}
}

// ListForTenant returns the records scoped to one tenant.
func (m *MemoryStore) ListForTenant(_ context.Context, tenantID string) ([]*TenantServerRecord, error) {
	if !ValidTenantID(tenantID) {
		return nil, fmt.Errorf("invalid tenant id: %q", tenantID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*TenantServerRecord
	for _, record := range m.records[tenantID] {
		clone := *record
		clone.Definition = record.Definition.Clone()
		records = append(records, &clone)
	}
	return records, nil
}

// Put saves a record. Management surface and tests only.
func (m *MemoryStore) Put(_ context.Context, record *TenantServerRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if !ValidTenantID(record.TenantID) {
		return fmt.Errorf("invalid tenant id: %q", record.TenantID)
	}
	if record.Definition == nil || !mcp.ValidName(record.Definition.Name) {
		return errors.New("record definition with a [A-Za-z0-9_-]+ name is required")
	}
	if err := record.Definition.Validate(); err != nil {
		return fmt.Errorf("invalid definition: %w", err)
	}

	now := time.Now().UTC()
	clone := *record
	clone.Definition = record.Definition.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[clone.TenantID] == nil {
		m.records[clone.TenantID] = make(map[string]*TenantServerRecord)
	}
	m.records[clone.TenantID][clone.Definition.Name] = &clone
	return nil
}

// Delete removes a record. Management surface only.
func (m *MemoryStore) Delete(_ context.Context, tenantID, name string) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant id: %q", tenantID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tenantRecords := m.records[tenantID]
	if _, exists := tenantRecords[name]; !exists {
		return fmt.Errorf("server %q not found for tenant %q", name, tenantID)
	}
	delete(tenantRecords, name)
	return nil
}

// Close closes the memory store (no-op)
func (m *MemoryStore) Close() error {
	return nil
}
