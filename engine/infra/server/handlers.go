package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/toolgate/toolgate/engine/mcp"
	"github.com/toolgate/toolgate/engine/mcp/resolver"
	"github.com/toolgate/toolgate/engine/mcp/store"
	"github.com/toolgate/toolgate/pkg/version"
)

// TenantHeader carries the caller's tenant identity. It is set by the
// authenticating gateway in front of this service, never by end users.
const TenantHeader = "X-Tenant-ID"

// resolveRequest is the optional body of a resolve call. MCPServers stays
// nil when the field is absent and becomes a non-nil empty map for an
// explicit "mcp_servers": {} opt-out; the two mean different things.
type resolveRequest struct {
	MCPServers resolver.RequestOverride `json:"mcp_servers"`
}

// Handlers provides the HTTP handlers for resolution and administration.
type Handlers struct {
	service *resolver.Service
	mgmt    ManagementStore
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *resolver.Service, mgmt ManagementStore) *Handlers {
	return &Handlers{service: service, mgmt: mgmt}
}

func (h *Handlers) writeErrorResponse(c *gin.Context, statusCode int, message string, details error) {
	response := gin.H{"error": message}
	if details != nil {
		response["details"] = details.Error()
	}
	c.JSON(statusCode, response)
}

// ResolveHandler handles POST /api/v1/resolve - computes the effective
// tool-server configuration for the calling tenant. The response carries the
// real credential values: the agent engine spawns and connects tool servers
// with them. Sanitization applies to the audit log and the admin list only.
func (h *Handlers) ResolveHandler(c *gin.Context) {
	tenantID := c.GetHeader(TenantHeader)
	if tenantID == "" {
		h.writeErrorResponse(c, http.StatusBadRequest, "missing "+TenantHeader+" header", nil)
		return
	}
	if !store.ValidTenantID(tenantID) {
		h.writeErrorResponse(c, http.StatusBadRequest, "invalid tenant id", nil)
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeErrorResponse(c, http.StatusBadRequest, "invalid JSON payload", err)
		return
	}

	merged, err := h.service.Resolve(c.Request.Context(), tenantID, req.MCPServers)
	if err != nil {
		h.writeErrorResponse(c, http.StatusInternalServerError, "resolution failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":   tenantID,
		"mcp_servers": merged.Servers,
		"rejected":    merged.Rejected,
	})
}

// ReloadHandler handles POST /admin/reload - reparses the static
// configuration file. A parse failure keeps the previous snapshot serving.
func (h *Handlers) ReloadHandler(c *gin.Context) {
	if err := h.service.ReloadStatic(c.Request.Context()); err != nil {
		h.writeErrorResponse(c, http.StatusUnprocessableEntity, "static config reload failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "static configuration reloaded"})
}

// MetricsHandler handles GET /admin/metrics
func (h *Handlers) MetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().UTC(),
		"metrics":   resolver.GetMetrics(),
	})
}

// HealthzHandler handles health check requests
func (h *Handlers) HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.Get().Version,
	})
}

// ListTenantServersHandler handles GET /admin/tenants/:tenant_id/servers
func (h *Handlers) ListTenantServersHandler(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !store.ValidTenantID(tenantID) {
		h.writeErrorResponse(c, http.StatusBadRequest, "invalid tenant id", nil)
		return
	}

	records, err := h.mgmt.ListForTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.writeErrorResponse(c, http.StatusInternalServerError, "failed to list tenant servers", err)
		return
	}

	servers := make(map[string]*mcp.ServerDefinition, len(records))
	for _, record := range records {
		if record.Definition == nil {
			continue
		}
		servers[record.Definition.Name] = record.Definition
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"servers":   resolver.SanitizeAll(servers),
	})
}

// PutTenantServerHandler handles PUT /admin/tenants/:tenant_id/servers/:name
func (h *Handlers) PutTenantServerHandler(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !store.ValidTenantID(tenantID) {
		h.writeErrorResponse(c, http.StatusBadRequest, "invalid tenant id", nil)
		return
	}
	name := c.Param("name")
	if !mcp.ValidName(name) {
		h.writeErrorResponse(c, http.StatusBadRequest, "invalid server name", nil)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.writeErrorResponse(c, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	def, err := mcp.DecodeDefinition(name, body)
	if err != nil {
		h.writeErrorResponse(c, http.StatusBadRequest, "invalid server definition", err)
		return
	}

	record := &store.TenantServerRecord{TenantID: tenantID, Definition: def}
	if err := h.mgmt.Put(c.Request.Context(), record); err != nil {
		h.writeErrorResponse(c, http.StatusInternalServerError, "failed to save server", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("server %q saved for tenant %q", name, tenantID),
		"name":    name,
	})
}

// DeleteTenantServerHandler handles DELETE /admin/tenants/:tenant_id/servers/:name
func (h *Handlers) DeleteTenantServerHandler(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !store.ValidTenantID(tenantID) {
		h.writeErrorResponse(c, http.StatusBadRequest, "invalid tenant id", nil)
		return
	}
	name := c.Param("name")

	if err := h.mgmt.Delete(c.Request.Context(), tenantID, name); err != nil {
		h.writeErrorResponse(c, http.StatusNotFound, "server not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("server %q removed for tenant %q", name, tenantID),
		"name":    name,
	})
}
