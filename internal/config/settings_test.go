package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), FilePermissions); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

// clearEnv unsets the variables Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvHost, EnvPort, "PORT", EnvLogLevel, "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

// TestLoad_Precedence tests that flags override the environment, the
// environment overrides the file and the file overrides defaults
func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "7200")
	t.Setenv("PORT", "7300")
	t.Setenv("LOG_LEVEL", "WARN")

	path := writeFile(t, "echotest.yaml", `
host: 10.0.0.5
port: 7000
iterations: 50
response_timeout: 2s
log:
  level: debug
`)

	cfg := DefaultClientConfig()
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	BindClientFlags(fs, &cfg)
	if err := fs.Parse([]string{"--port", "7100", "-w", "4"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	if err := Load(path, &cfg, fs); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Host != "10.0.0.5" {
		t.Errorf("Expected host from file, got: %s", cfg.Host)
	}
	if cfg.Port != 7100 {
		t.Errorf("Expected port from flag 7100, got: %d", cfg.Port)
	}
	if cfg.Workers != 4 {
		t.Errorf("Expected workers from flag 4, got: %d", cfg.Workers)
	}
	if cfg.Iterations != 50 {
		t.Errorf("Expected iterations from file 50, got: %d", cfg.Iterations)
	}
	if cfg.ResponseTimeout != 2*time.Second {
		t.Errorf("Expected response timeout 2s, got: %v", cfg.ResponseTimeout)
	}
	if cfg.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("Expected default connect timeout, got: %v", cfg.ConnectTimeout)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "console" {
		t.Errorf("Expected warn level from env with console format, got: %+v", cfg.Log)
	}
}

// TestLoad_Environment tests the environment layer on its own and its
// fallback variables
func TestLoad_Environment(t *testing.T) {
	path := writeFile(t, "server.yaml", "host: 10.0.0.9\nport: 7000\nlog:\n  level: debug\n")

	tests := []struct {
		name      string
		env       map[string]string
		wantHost  string
		wantPort  int
		wantLevel string
	}{
		{"file only", nil, "10.0.0.9", 7000, "debug"},
		{"generic port", map[string]string{"PORT": "7300"}, "10.0.0.9", 7300, "debug"},
		{"prefixed port wins", map[string]string{"PORT": "7300", EnvPort: "7200"}, "10.0.0.9", 7200, "debug"},
		{"host and level", map[string]string{EnvHost: "0.0.0.0", EnvLogLevel: "error", "LOG_LEVEL": "warn"}, "0.0.0.0", 7000, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := DefaultServerConfig()
			if err := Load(path, &cfg, nil); err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}
			if cfg.Host != tt.wantHost {
				t.Errorf("Expected host %s, got: %s", tt.wantHost, cfg.Host)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("Expected port %d, got: %d", tt.wantPort, cfg.Port)
			}
			if cfg.Log.Level != tt.wantLevel {
				t.Errorf("Expected log level %s, got: %s", tt.wantLevel, cfg.Log.Level)
			}
		})
	}

	t.Run("no file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvPort, "7400")
		cfg := DefaultClientConfig()
		if err := Load("", &cfg, nil); err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		if cfg.Port != 7400 {
			t.Errorf("Expected port 7400 without a file, got: %d", cfg.Port)
		}
	})

	t.Run("bad port", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "http")
		cfg := DefaultClientConfig()
		if err := Load("", &cfg, nil); err == nil {
			t.Error("Expected error for a non-numeric port")
		}
	})
}

// TestLoad_JSON tests that JSON files are accepted
func TestLoad_JSON(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "server.json", `{"port": 9000, "workers": 2, "idle_timeout": "1m"}`)

	cfg := DefaultServerConfig()
	if err := Load(path, &cfg, nil); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Port != 9000 || cfg.Workers != 2 || cfg.IdleTimeout != time.Minute {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.MaxConnections != DefaultMaxConnections {
		t.Errorf("Expected default max connections, got: %d", cfg.MaxConnections)
	}
}

// TestLoad_Errors tests rejected config files
func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown key", "a.yaml", "hots: x\n"},
		{"bad duration", "b.yaml", "delay: soon\n"},
		{"unsupported extension", "c.toml", "port = 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClientConfig()
			if err := Load(writeFile(t, tt.file, tt.content), &cfg, nil); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}

	cfg := DefaultClientConfig()
	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg, nil); err == nil {
		t.Error("Expected error for missing file")
	}
	if err := Load("", &cfg, nil); err != nil {
		t.Errorf("Expected empty path to be a no-op, got: %v", err)
	}
}

// TestClientConfig_Validate tests client validation rules
func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ClientConfig)
		wantErr bool
	}{
		{"defaults", func(c *ClientConfig) {}, false},
		{"empty host", func(c *ClientConfig) { c.Host = "" }, true},
		{"port zero", func(c *ClientConfig) { c.Port = 0 }, true},
		{"port too high", func(c *ClientConfig) { c.Port = 65536 }, true},
		{"no iterations", func(c *ClientConfig) { c.Iterations = 0 }, true},
		{"no workers", func(c *ClientConfig) { c.Workers = 0 }, true},
		{"no pool", func(c *ClientConfig) { c.PoolSize = 0 }, true},
		{"zero connect timeout", func(c *ClientConfig) { c.ConnectTimeout = 0 }, true},
		{"zero response timeout", func(c *ClientConfig) { c.ResponseTimeout = 0 }, true},
		{"zero delay", func(c *ClientConfig) { c.Delay = 0 }, false},
		{"negative delay", func(c *ClientConfig) { c.Delay = -time.Second }, true},
		{"short rrn prefix", func(c *ClientConfig) { c.RRNPrefix = "5132" }, true},
		{"alpha rrn prefix", func(c *ClientConfig) { c.RRNPrefix = "51320A" }, true},
		{"bad log level", func(c *ClientConfig) { c.Log.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClientConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestServerConfig_Validate tests server validation rules
func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ServerConfig)
		wantErr bool
	}{
		{"defaults", func(c *ServerConfig) {}, false},
		{"no workers", func(c *ServerConfig) { c.Workers = 0 }, true},
		{"no connections", func(c *ServerConfig) { c.MaxConnections = 0 }, true},
		{"no backlog", func(c *ServerConfig) { c.Backlog = 0 }, true},
		{"no idle timeout", func(c *ServerConfig) { c.IdleTimeout = 0 }, true},
		{"negative crashes", func(c *ServerConfig) { c.MaxCrashes = -1 }, true},
		{"bad log format", func(c *ServerConfig) { c.Log.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestInitializeAt tests directory layout creation
func TestInitializeAt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".echotest")
	if err := InitializeAt(dir); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	if DatabasePath != filepath.Join(dir, "echotest.db") {
		t.Errorf("Unexpected database path: %s", DatabasePath)
	}
	if info, err := os.Stat(LogDir); err != nil || !info.IsDir() {
		t.Errorf("Expected log directory to exist: %v", err)
	}
	if got := ResolveConfigPath("explicit.yaml"); got != "explicit.yaml" {
		t.Errorf("Expected explicit path, got: %s", got)
	}
}
