package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rendau/httpc/adapters/client/httpc"
)

func TestLoadFile_defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.SocketTimeout != httpc.DefaultSocketTimeout {
		t.Errorf("unexpected socket timeout %v", cfg.SocketTimeout)
	}
	if cfg.HeaderBufSize != httpc.DefaultHeaderBufSize || cfg.RecvBufSize != httpc.DefaultRecvBufSize {
		t.Errorf("unexpected buffer sizes %d/%d", cfg.HeaderBufSize, cfg.RecvBufSize)
	}
	if cfg.UserAgent != httpc.DefaultUserAgent {
		t.Errorf("unexpected user agent %q", cfg.UserAgent)
	}
	if cfg.ResolverCache != "mem" || cfg.JournalType != "none" {
		t.Errorf("unexpected backends %q/%q", cfg.ResolverCache, cfg.JournalType)
	}
	if cfg.H2RunTimeout != httpc.DefaultRunTimeout || cfg.ResolverTTL != 5*time.Minute {
		t.Errorf("unexpected durations %v/%v", cfg.H2RunTimeout, cfg.ResolverTTL)
	}
}

func TestLoadFile_env(t *testing.T) {
	t.Setenv("SOCKET_TIMEOUT_SECONDS", "3")
	t.Setenv("JOURNAL_TYPE", "BBolt")
	t.Setenv("TLS_CA_FILE", "/tmp/ca.pem")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.SocketTimeout != 3*time.Second {
		t.Errorf("unexpected socket timeout %v", cfg.SocketTimeout)
	}
	if cfg.JournalType != "bbolt" {
		t.Errorf("unexpected journal type %q", cfg.JournalType)
	}
	if cfg.TLSCaFile != "/tmp/ca.pem" {
		t.Errorf("env-only key not picked up: %q", cfg.TLSCaFile)
	}
}

func TestLoadFile_envFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	if err := os.WriteFile(path, []byte("HTTPC_TEST_ENV_FILE_UA=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("HTTPC_TEST_ENV_FILE_UA") })

	if _, err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if os.Getenv("HTTPC_TEST_ENV_FILE_UA") != "from-file" {
		t.Fatalf("env file not loaded")
	}
}

func TestLoadFile_invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SOCKET_TIMEOUT_SECONDS", "0"},
		{"H2_RUN_TIMEOUT_SECONDS", "-1"},
		{"RESOLVER_TTL_SECONDS", "0"},
		{"HEADER_BUF_SIZE", "0"},
		{"RECV_BUF_SIZE", "-5"},
		{"RESOLVER_CACHE", "memcached"},
		{"JOURNAL_TYPE", "mongo"},
		{"JOURNAL_TYPE", "pg"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			if _, err := LoadFile(""); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestConfig_TLSInfo(t *testing.T) {
	cfg := &Config{}

	info, err := cfg.TLSInfo()
	if err != nil || info != nil {
		t.Fatalf("expected nil info, got %+v %v", info, err)
	}

	ca := filepath.Join(t.TempDir(), "ca.pem")
	if err = os.WriteFile(ca, []byte("pem"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg.TLSCaFile = ca

	info, err = cfg.TLSInfo()
	if err != nil {
		t.Fatalf("TLSInfo: %v", err)
	}
	if string(info.Cert) != "pem" || info.ClientCert != nil {
		t.Fatalf("unexpected info %+v", info)
	}

	cfg.TLSKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	if _, err = cfg.TLSInfo(); err == nil {
		t.Fatal("expected error for missing file")
	}
}
