package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rendau/httpc/adapters/client/httpc"
	"github.com/rendau/httpc/tools"
)

const DefaultEnvFile = "configs/.env"

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogDev   bool   `mapstructure:"log_dev"`

	SocketTimeoutSeconds int64         `mapstructure:"socket_timeout_seconds"`
	SocketTimeout        time.Duration `mapstructure:"-"`
	HeaderBufSize        int           `mapstructure:"header_buf_size"`
	RecvBufSize          int           `mapstructure:"recv_buf_size"`
	UserAgent            string        `mapstructure:"user_agent"`
	H2RunTimeoutSeconds  int64         `mapstructure:"h2_run_timeout_seconds"`
	H2RunTimeout         time.Duration `mapstructure:"-"`

	TLSCaFile   string `mapstructure:"tls_ca_file"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	ResolverCache      string        `mapstructure:"resolver_cache"`
	ResolverTTLSeconds int64         `mapstructure:"resolver_ttl_seconds"`
	ResolverTTL        time.Duration `mapstructure:"-"`
	RedisAddr          string        `mapstructure:"redis_addr"`
	RedisPassword      string        `mapstructure:"redis_password"`
	RedisDb            int           `mapstructure:"redis_db"`

	JournalType string `mapstructure:"journal_type"`
	JournalPath string `mapstructure:"journal_path"`
	JournalDsn  string `mapstructure:"journal_dsn"`
}

// Load reads configs/.env (when present) and the environment.
func Load() (*Config, error) {
	return LoadFile(DefaultEnvFile)
}

func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("socket_timeout_seconds", int64(httpc.DefaultSocketTimeout/time.Second))
	v.SetDefault("header_buf_size", httpc.DefaultHeaderBufSize)
	v.SetDefault("recv_buf_size", httpc.DefaultRecvBufSize)
	v.SetDefault("user_agent", httpc.DefaultUserAgent)
	v.SetDefault("h2_run_timeout_seconds", int64(httpc.DefaultRunTimeout/time.Second))
	v.SetDefault("resolver_cache", "mem")
	v.SetDefault("resolver_ttl_seconds", 300)
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("journal_type", "none")
	v.SetDefault("journal_path", "./data/journal.db")

	v.AutomaticEnv()

	tools.SetViperDefaultsFromObj(v, Config{})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.SocketTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid socket_timeout_seconds (must be positive seconds)")
	}
	cfg.SocketTimeout = time.Duration(cfg.SocketTimeoutSeconds) * time.Second

	if cfg.H2RunTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid h2_run_timeout_seconds (must be positive seconds)")
	}
	cfg.H2RunTimeout = time.Duration(cfg.H2RunTimeoutSeconds) * time.Second

	if cfg.ResolverTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid resolver_ttl_seconds (must be positive seconds)")
	}
	cfg.ResolverTTL = time.Duration(cfg.ResolverTTLSeconds) * time.Second

	if cfg.HeaderBufSize <= 0 {
		return nil, fmt.Errorf("invalid header_buf_size (must be positive)")
	}
	if cfg.RecvBufSize <= 0 {
		return nil, fmt.Errorf("invalid recv_buf_size (must be positive)")
	}

	cfg.ResolverCache = strings.ToLower(strings.TrimSpace(cfg.ResolverCache))
	switch cfg.ResolverCache {
	case "", "none", "mem", "redis":
	default:
		return nil, fmt.Errorf("unknown resolver_cache %q", cfg.ResolverCache)
	}

	cfg.JournalType = strings.ToLower(strings.TrimSpace(cfg.JournalType))
	switch cfg.JournalType {
	case "", "none", "bbolt", "pg":
	default:
		return nil, fmt.Errorf("unknown journal_type %q", cfg.JournalType)
	}
	if cfg.JournalType == "pg" && cfg.JournalDsn == "" {
		return nil, fmt.Errorf("journal_dsn is required for pg journal")
	}

	return &cfg, nil
}

// TLSInfo reads the configured PEM files. It returns nil when none is set.
func (c *Config) TLSInfo() (*httpc.TLSInfoSt, error) {
	if c.TLSCaFile == "" && c.TLSCertFile == "" && c.TLSKeyFile == "" {
		return nil, nil
	}

	res := &httpc.TLSInfoSt{}

	var err error

	for _, f := range []struct {
		path string
		dst  *[]byte
	}{
		{c.TLSCaFile, &res.Cert},
		{c.TLSCertFile, &res.ClientCert},
		{c.TLSKeyFile, &res.PrivateKey},
	} {
		if f.path == "" {
			continue
		}
		if *f.dst, err = os.ReadFile(f.path); err != nil {
			return nil, fmt.Errorf("read tls file: %w", err)
		}
	}

	return res, nil
}
