package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/engine/mcp"
	"github.com/toolgate/toolgate/engine/mcp/store"
	"github.com/toolgate/toolgate/pkg/logger"
)

const defaultStoreTimeout = 50 * time.Millisecond

// RequestOverride is the raw per-request server map before per-entry
// decoding. A nil map means the request omitted the field entirely; a
// non-nil empty map means the request opted out of all server-side tools.
type RequestOverride map[string]json.RawMessage

// Service is the resolution façade: given a tenant identity and an optional
// request-supplied server map, it orchestrates the static loader, the tenant
// store, the merge engine, and security validation, and emits one sanitized
// audit log entry per call.
type Service struct {
	loader       *StaticLoader
	store        store.Store
	merger       *MergeEngine
	storeTimeout time.Duration
}

// NewService wires the resolution service. A zero storeTimeout uses the
// default of 50ms; the tenant lookup is never retried on this path.
func NewService(loader *StaticLoader, st store.Store, validator *SecurityValidator, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Service{
		loader:       loader,
		store:        st,
		merger:       NewMergeEngine(validator),
		storeTimeout: storeTimeout,
	}
}

// Resolve computes the effective tool-server configuration for one request.
// It completes even when the tenant store is unavailable (empty tenant tier)
// and when the static snapshot failed to load (empty static tier); malformed
// per-entry request data lands in the rejected list rather than failing the
// call. The returned configuration is unsanitized; use Sanitized() for
// anything that leaves the trust boundary.
func (s *Service) Resolve(ctx context.Context, tenantID string, override RequestOverride) (*MergedConfiguration, error) {
	log := logger.FromContext(ctx)
	resolutionID := uuid.NewString()

	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}

	snapshot := s.loader.Snapshot()
	if snapshot == nil {
		// The loader guarantees a non-nil snapshot; reaching this means
		// internal state is corrupted, so refuse the whole request.
		return nil, &ResolutionError{Err: errors.New("static snapshot pointer is nil")}
	}

	request := s.decodeOverride(override)

	var tenantTier map[string]*mcp.ServerDefinition
	if !request.optOut() {
		tenantTier = s.loadTenantTier(ctx, tenantID)
	}

	merged := s.merger.Merge(ctx, snapshot.Servers, tenantTier, request)

	incrementResolution()
	if request.optOut() {
		incrementRequestOptOut()
	}
	addServersAccepted(int64(len(merged.Servers)))
	addServersRejected(int64(len(merged.Rejected)))

	audit := merged.Sanitized()
	sanitized, err := json.Marshal(audit.Servers)
	if err != nil {
		sanitized = []byte("{}")
	}
	log.Info("tool-server configuration resolved",
		"resolution_id", resolutionID,
		"tenant_id", tenantID,
		"accepted", len(merged.Servers),
		"rejected", len(merged.Rejected),
		"servers", string(sanitized),
	)

	return merged, nil
}

// ReloadStatic reparses the static configuration file and swaps the
// snapshot. Parse failures keep the previous snapshot.
func (s *Service) ReloadStatic(ctx context.Context) error {
	log := logger.FromContext(ctx)
	if err := s.loader.Reload(ctx); err != nil {
		incrementStaticReloadFail()
		log.Error("static config reload failed", "error", err)
		return err
	}
	incrementStaticReload()
	return nil
}

// decodeOverride decodes each request entry independently so that one
// malformed entry cannot abort the resolution or leak past validation.
func (s *Service) decodeOverride(override RequestOverride) *RequestTier {
	if override == nil {
		return &RequestTier{Supplied: false}
	}
	tier := &RequestTier{
		Supplied: true,
		Servers:  make(map[string]*mcp.ServerDefinition, len(override)),
	}
	for name, raw := range override {
		def, err := mcp.DecodeDefinition(name, raw)
		if err != nil {
			tier.Rejected = append(tier.Rejected, Rejection{Name: name, Reason: err.Error()})
			continue
		}
		tier.Servers[name] = def
	}
	return tier
}

// loadTenantTier fetches the tenant's stored servers under a short timeout.
// Unavailability degrades to an empty tier: fewer tools, never a blocked or
// failed request.
func (s *Service) loadTenantTier(ctx context.Context, tenantID string) map[string]*mcp.ServerDefinition {
	log := logger.FromContext(ctx)
	if s.store == nil {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	records, err := s.store.ListForTenant(lookupCtx, tenantID)
	if err != nil {
		incrementStoreDegradation()
		degraded := &StoreUnavailableError{TenantID: tenantID, Err: err}
		log.Warn("tenant tier degraded to empty", "tenant_id", tenantID, "error", degraded)
		return nil
	}

	tier := make(map[string]*mcp.ServerDefinition, len(records))
	for _, record := range records {
		if record.Definition == nil {
			continue
		}
		if record.TenantID != tenantID {
			// Defense in depth: the store already scopes by tenant
			log.Warn("dropping cross-tenant record", "tenant_id", tenantID, "record_tenant", record.TenantID)
			continue
		}
		tier[record.Definition.Name] = record.Definition
	}
	return tier
}

// DescribeMetrics returns the resolver metrics in loggable form.
func DescribeMetrics() string {
	m := GetMetrics()
	return fmt.Sprintf(
		"resolutions=%d accepted=%d rejected=%d opt_outs=%d store_degradations=%d reloads=%d reload_failures=%d",
		m.Resolutions, m.ServersAccepted, m.ServersRejected,
		m.RequestOptOuts, m.StoreDegradations, m.StaticReloads, m.StaticReloadFails,
	)
}
