package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/toolgate/toolgate/engine/mcp/resolver"
	"github.com/toolgate/toolgate/engine/mcp/store"
	"github.com/toolgate/toolgate/pkg/logger"
)

// ManagementStore extends the read-only resolution store with the write
// operations the admin CRUD surface needs. Both store implementations
// satisfy it.
type ManagementStore interface {
	store.Store
	Put(ctx context.Context, record *store.TenantServerRecord) error
	Delete(ctx context.Context, tenantID, name string) error
}

// Server is the HTTP front of the resolution engine.
type Server struct {
	Router     *gin.Engine
	httpServer *http.Server
	config     *Config
	service    *resolver.Service
	handlers   *Handlers
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration

	// AdminAllowIPs restricts the /admin API to the listed IPs/CIDR blocks
	AdminAllowIPs []string

	// TrustedProxies for X-Forwarded-For header validation
	TrustedProxies []string
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// NewServer creates a new resolution server instance. The management store
// may be nil, which disables the admin CRUD routes.
func NewServer(config *Config, service *resolver.Service, mgmt ManagementStore) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			p := param.Path
			if param.Request != nil && param.Request.URL != nil {
				p = param.Request.URL.EscapedPath()
			}
			return fmt.Sprintf("[%s] %s %s %d %s\n",
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				p,
				param.StatusCode,
				param.Latency,
			)
		},
	}))
	router.Use(gin.Recovery())

	server := &Server{
		Router:   router,
		config:   config,
		service:  service,
		handlers: NewHandlers(service, mgmt),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all server routes
func (s *Server) setupRoutes() {
	s.Router.GET("/healthz", s.handlers.HealthzHandler)

	v1 := s.Router.Group("/api/v1")
	{
		v1.POST("/resolve", s.handlers.ResolveHandler)
	}

	// Admin API behind IP-based security middleware
	admin := s.Router.Group("/admin")
	admin.Use(s.adminSecurityMiddleware())
	{
		admin.POST("/reload", s.handlers.ReloadHandler)
		admin.GET("/metrics", s.handlers.MetricsHandler)

		if s.handlers.mgmt != nil {
			admin.GET("/tenants/:tenant_id/servers", s.handlers.ListTenantServersHandler)
			admin.PUT("/tenants/:tenant_id/servers/:name", s.handlers.PutTenantServerHandler)
			admin.DELETE("/tenants/:tenant_id/servers/:name", s.handlers.DeleteTenantServerHandler)
		}
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info("Starting resolution server", "host", s.config.Host, "port", s.config.Port)

	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("server configuration error: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		} else {
			errChan <- nil
		}
	}()

	// Check for immediate startup failures such as a busy port
	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Info("Resolution server started successfully")
	return s.waitForShutdown(ctx, errChan)
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info("Shutting down resolution server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		return err
	}

	log.Info("Resolution server stopped gracefully")
	return nil
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func (s *Server) waitForShutdown(ctx context.Context, errChan <-chan error) error {
	log := logger.FromContext(ctx)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ctx.Done():
		log.Debug("Context canceled, shutting down server")
		return s.Stop(ctx)
	case sig := <-quit:
		log.Info("Received shutdown signal", "signal", sig.String())
		return s.Stop(ctx)
	case err := <-errChan:
		if err != nil {
			log.Error("HTTP server failed", "error", err)
			if stopErr := s.Stop(ctx); stopErr != nil {
				log.Error("Failed to stop server after HTTP failure", "error", stopErr)
			}
			return err
		}
		return s.Stop(ctx)
	}
}

// adminSecurityMiddleware implements IP-based access checks for the admin API
func (s *Server) adminSecurityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.config.AdminAllowIPs) > 0 {
			clientIP := s.getClientIP(c)
			if !s.isIPAllowed(clientIP, s.config.AdminAllowIPs) {
				c.JSON(http.StatusForbidden, gin.H{
					"error": "Access denied: IP not allowed",
				})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// getClientIP extracts the real client IP from the request
func (s *Server) getClientIP(c *gin.Context) string {
	directIP, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		directIP = c.Request.RemoteAddr
	}

	// Forwarding headers are honored only when the direct peer is a
	// trusted proxy, otherwise any client could spoof an allowed IP.
	if s.isTrustedProxy(directIP) {
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			ips := strings.Split(xff, ",")
			if len(ips) > 0 {
				return strings.TrimSpace(ips[0])
			}
		}
		if xri := c.GetHeader("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	return directIP
}

// isIPAllowed checks if an IP is allowed based on the allow list
func (s *Server) isIPAllowed(clientIP string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	return ipMatchesList(ip, allowList)
}

// isTrustedProxy checks if an IP is in the trusted proxy list
func (s *Server) isTrustedProxy(clientIP string) bool {
	if len(s.config.TrustedProxies) == 0 {
		return false
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	return ipMatchesList(ip, s.config.TrustedProxies)
}

func ipMatchesList(ip net.IP, list []string) bool {
	for _, entry := range list {
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				continue
			}
			if cidr.Contains(ip) {
				return true
			}
		} else {
			listed := net.ParseIP(entry)
			if listed != nil && ip.Equal(listed) {
				return true
			}
		}
	}
	return false
}
