package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/engine/infra/server"
	"github.com/toolgate/toolgate/engine/mcp/resolver"
	"github.com/toolgate/toolgate/engine/mcp/store"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/version"
)

func main() {
	cmd := createRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolgate",
		Short: "Tool-server configuration resolution service",
		Long: `Toolgate resolves the effective tool-server configuration for agent
requests by merging deployment-wide static configuration, tenant-scoped
records, and per-request overrides, with security validation applied to
every resulting entry.`,
		RunE: runServer,
	}

	root.Flags().String("env-file", "", "Load environment variables from this file before reading configuration")
	root.Flags().Bool("debug", false, "Enable debug mode (sets log level to debug)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Printf("toolgate version %s\n", info.Version)
			fmt.Printf("commit: %s\n", info.CommitHash)
			fmt.Printf("built: %s\n", info.BuildDate)
		},
	}
	root.AddCommand(versionCmd)

	return root
}

func runServer(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if envFile, err := cmd.Flags().GetString("env-file"); err == nil && envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load environment file %q: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if debug, err := cmd.Flags().GetBool("debug"); err == nil && debug {
		cfg.Log.Level = "debug"
	}

	log := logger.SetupLogger(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Source)
	ctx = logger.ContextWithLogger(ctx, log)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close tenant store", "error", err)
		}
	}()

	loader := resolver.NewStaticLoader(cfg.Static.Path)
	if err := loader.Load(ctx); err != nil {
		var parseErr *resolver.ConfigParseError
		if !errors.As(err, &parseErr) {
			return fmt.Errorf("failed to load static configuration: %w", err)
		}
		// Serve with an empty static tier rather than refuse to start
		log.Warn("static configuration failed to parse, starting with empty static tier", "error", parseErr)
	}

	validator := resolver.NewSecurityValidator(nil, cfg.Resolver.DNSTimeout)
	service := resolver.NewService(loader, st, validator, cfg.Resolver.StoreTimeout)

	srv := server.NewServer(&server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AdminAllowIPs:   cfg.Server.AdminAllowIPs,
		TrustedProxies:  cfg.Server.TrustedProxies,
	}, service, st)

	log.Info("starting toolgate",
		"version", version.Get().Version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"static_path", cfg.Static.Path,
		"redis_enabled", cfg.Redis.Enabled,
	)
	err = srv.Start(ctx)
	log.Info("resolution metrics at shutdown", "metrics", resolver.DescribeMetrics())
	return err
}

// buildStore selects the tenant store backend. With Redis disabled the
// service runs on the in-memory store, which keeps the resolution path fully
// functional for single-process deployments and local development.
func buildStore(ctx context.Context, cfg *config.Config) (server.ManagementStore, error) {
	if !cfg.Redis.Enabled {
		return store.NewMemoryStore(), nil
	}
	redisStore, err := store.NewRedisStore(ctx, &store.RedisConfig{
		URL:          cfg.Redis.URL,
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tenant store: %w", err)
	}
	return redisStore, nil
}
