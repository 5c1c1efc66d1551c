package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/echotest/internal/logging"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 6020
	DefaultConnectTimeout  = 5 * time.Second
	DefaultResponseTimeout = 5 * time.Second
	DefaultDelay           = time.Second
	DefaultRRNPrefix       = "513200"
	DefaultMaxConnections  = 200
	DefaultBacklog         = 128
	DefaultIdleTimeout     = 30 * time.Second
	DefaultMaxCrashes      = 5
)

// ClientConfig holds the settings of an echo test run.
type ClientConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	Iterations      int             `yaml:"iterations"`
	Workers         int             `yaml:"workers"`
	PoolSize        int             `yaml:"pool_size"`
	ConnectTimeout  time.Duration   `yaml:"connect_timeout"`
	ResponseTimeout time.Duration   `yaml:"response_timeout"`
	Delay           time.Duration   `yaml:"delay"`
	RRNPrefix       string          `yaml:"rrn_prefix"`
	DatabasePath    string          `yaml:"database"`
	NoStore         bool            `yaml:"no_store"`
	MetricsAddr     string          `yaml:"metrics_addr"`
	Log             logging.Options `yaml:"log"`
}

// ServerConfig holds the settings of the echo responder.
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	Workers        int             `yaml:"workers"`
	MaxConnections int             `yaml:"max_connections"`
	Backlog        int             `yaml:"backlog"`
	IdleTimeout    time.Duration   `yaml:"idle_timeout"`
	MaxCrashes     int             `yaml:"max_crashes"`
	MetricsAddr    string          `yaml:"metrics_addr"`
	Log            logging.Options `yaml:"log"`
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Iterations:      1,
		Workers:         1,
		PoolSize:        1,
		ConnectTimeout:  DefaultConnectTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		Delay:           DefaultDelay,
		RRNPrefix:       DefaultRRNPrefix,
		Log:             logging.Defaults(),
	}
}

// DefaultServerConfig returns the server defaults, one worker per CPU.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           DefaultPort,
		Workers:        runtime.NumCPU(),
		MaxConnections: DefaultMaxConnections,
		Backlog:        DefaultBacklog,
		IdleTimeout:    DefaultIdleTimeout,
		MaxCrashes:     DefaultMaxCrashes,
		Log:            logging.Defaults(),
	}
}

// Address returns host:port.
func (c *ClientConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the client settings
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool size must be at least 1")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("response timeout must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if len(c.RRNPrefix) != len(DefaultRRNPrefix) || strings.Trim(c.RRNPrefix, "0123456789") != "" {
		return fmt.Errorf("rrn prefix must be %d digits, got %q", len(DefaultRRNPrefix), c.RRNPrefix)
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the server settings
func (c *ServerConfig) Validate() error {
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max connections must be at least 1")
	}
	if c.Backlog < 1 {
		return fmt.Errorf("backlog must be at least 1")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.MaxCrashes < 0 {
		return fmt.Errorf("max crashes cannot be negative")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// BindClientFlags registers the client flags on fs, writing into c. The
// current values of c become the flag defaults.
func BindClientFlags(fs *pflag.FlagSet, c *ClientConfig) {
	fs.StringVarP(&c.Host, "host", "H", c.Host, "Server host")
	fs.IntVarP(&c.Port, "port", "P", c.Port, "Server port")
	fs.IntVarP(&c.Iterations, "iterations", "n", c.Iterations, "Number of echo tests to send")
	fs.IntVarP(&c.Workers, "workers", "w", c.Workers, "Concurrent workers")
	fs.IntVar(&c.PoolSize, "pool-size", c.PoolSize, "Persistent connections to open")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "Timeout for each connection attempt")
	fs.DurationVar(&c.ResponseTimeout, "response-timeout", c.ResponseTimeout, "Timeout waiting for each response")
	fs.DurationVarP(&c.Delay, "delay", "d", c.Delay, "Pause between iterations of one worker")
	fs.StringVar(&c.RRNPrefix, "rrn-prefix", c.RRNPrefix, "Six digit prefix of field 37")
	fs.StringVar(&c.DatabasePath, "db", c.DatabasePath, "SQLite database for run history")
	fs.BoolVar(&c.NoStore, "no-store", c.NoStore, "Do not save the run to the database")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Expose Prometheus metrics on this address")
	bindLogFlags(fs, &c.Log)
}

// BindServerFlags registers the server flags on fs, writing into c.
func BindServerFlags(fs *pflag.FlagSet, c *ServerConfig) {
	fs.StringVarP(&c.Host, "host", "H", c.Host, "Listen host")
	fs.IntVarP(&c.Port, "port", "P", c.Port, "Listen port")
	fs.IntVarP(&c.Workers, "workers", "w", c.Workers, "Worker processes sharing the port")
	fs.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections, "Concurrent connections per worker")
	fs.IntVar(&c.Backlog, "backlog", c.Backlog, "Pending connection queue length of the listener")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Close connections idle for this long")
	fs.IntVar(&c.MaxCrashes, "max-crashes", c.MaxCrashes, "Crashes after which a worker slot is not restarted")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Expose Prometheus metrics on this address")
	bindLogFlags(fs, &c.Log)
}

func bindLogFlags(fs *pflag.FlagSet, o *logging.Options) {
	fs.StringVar(&o.Level, "log-level", o.Level, "Log level (debug/info/warn/error)")
	fs.StringVar(&o.Format, "log-format", o.Format, "Log format (console/json)")
	fs.StringVar(&o.File, "log-file", o.File, "Also write logs to this file")
}

// Environment variables read by Load. The ECHOTEST_ names win over the
// generic ones.
const (
	EnvHost     = "ECHOTEST_HOST"
	EnvPort     = "ECHOTEST_PORT"
	EnvLogLevel = "ECHOTEST_LOG_LEVEL"
)

// Load fills target, which must hold flag-bound values, from the YAML (or
// JSON) file at path and then from the environment. Values set on the command
// line win over both; values set nowhere keep their defaults. An empty path
// skips the file.
func Load(path string, target any, fs *pflag.FlagSet) error {
	// The file and the environment overwrite the bound fields, so remember
	// what the command line said first.
	changed := make(map[string]string)
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			changed[f.Name] = f.Value.String()
		})
	}

	if path != "" {
		if err := decodeFile(path, target); err != nil {
			return err
		}
	}
	if err := applyEnv(target); err != nil {
		return err
	}

	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("failed to reapply flag --%s: %w", name, err)
		}
	}
	return nil
}

func decodeFile(path string, target any) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(target any) error {
	var (
		host *string
		port *int
		log  *logging.Options
	)
	switch c := target.(type) {
	case *ClientConfig:
		host, port, log = &c.Host, &c.Port, &c.Log
	case *ServerConfig:
		host, port, log = &c.Host, &c.Port, &c.Log
	default:
		return nil
	}

	if v := lookupEnv(EnvHost); v != "" {
		*host = v
	}
	if v := lookupEnv(EnvPort, "PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid port in environment: %q", v)
		}
		*port = n
	}
	if v := lookupEnv(EnvLogLevel, "LOG_LEVEL"); v != "" {
		log.Level = strings.ToLower(v)
	}
	return nil
}

// lookupEnv returns the first non-empty value among keys.
func lookupEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
