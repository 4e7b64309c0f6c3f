package config

import "time"

// Config is the full service configuration, loaded from defaults and
// TOOLGATE_* environment variables.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Redis    RedisConfig    `koanf:"redis"`
	Static   StaticConfig   `koanf:"static"`
	Resolver ResolverConfig `koanf:"resolver"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"             validate:"required"`
	Port            int           `koanf:"port"             validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// AdminAllowIPs restricts the /admin API to the listed IPs/CIDR blocks.
	AdminAllowIPs []string `koanf:"admin_allow_ips"`
	// TrustedProxies lists proxies whose forwarding headers are honored.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// RedisConfig holds tenant store connection settings. When Enabled is false
// the service runs with the in-memory store (no tenant tier persistence).
type RedisConfig struct {
	Enabled      bool          `koanf:"enabled"`
	URL          string        `koanf:"url"`
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"            validate:"gte=0"`
	PoolSize     int           `koanf:"pool_size"     validate:"gte=0"`
	DialTimeout  time.Duration `koanf:"dial_timeout"  validate:"gte=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout"  validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gte=0"`
}

// StaticConfig locates the deployment-wide configuration file.
type StaticConfig struct {
	Path string `koanf:"path"`
}

// ResolverConfig bounds the resolution hot path.
type ResolverConfig struct {
	StoreTimeout time.Duration `koanf:"store_timeout" validate:"gt=0"`
	DNSTimeout   time.Duration `koanf:"dns_timeout"   validate:"gt=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error disabled"`
	JSON   bool   `koanf:"json"`
	Source bool   `koanf:"source"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            6010,
			ShutdownTimeout: 10 * time.Second,
			AdminAllowIPs:   []string{"127.0.0.1/32", "::1/128"},
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Static: StaticConfig{
			Path: "",
		},
		Resolver: ResolverConfig{
			StoreTimeout: 50 * time.Millisecond,
			DNSTimeout:   3 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
