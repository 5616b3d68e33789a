package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sqlxray/sqlxray/pkg/util"
)

// Duration decodes YAML strings like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PoolConfig tunes the per-target connection pools.
type PoolConfig struct {
	MaxConns        int      `yaml:"max_conns"`
	RetryAttempts   int      `yaml:"retry_attempts"`
	ConnectTimeout  Duration `yaml:"connect_timeout"`
	QueryTimeout    Duration `yaml:"query_timeout"`
	RecycleInterval Duration `yaml:"recycle_interval"`
}

// ScannerConfig tunes the scan engine.
type ScannerConfig struct {
	BatchSize    int      `yaml:"batch_size"`
	TableTimeout Duration `yaml:"table_timeout"`
	BatchPause   Duration `yaml:"batch_pause"`
}

// Target is one database covered by the scheduled rescan.
type Target struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	TLS      bool   `yaml:"tls"`
	ScanType string `yaml:"scan_type"`
}

// RescanConfig drives the periodic background rescan of known targets.
type RescanConfig struct {
	Every   Duration `yaml:"every"`
	Targets []Target `yaml:"targets"`
}

// Config holds server configuration. Environment variables provide the
// defaults; a YAML file, when given, overrides them.
type Config struct {
	Addr     string        `yaml:"addr"`
	MongoURL string        `yaml:"mongo_url"`
	MongoDB  string        `yaml:"mongo_db"`
	Pool     PoolConfig    `yaml:"pool"`
	Scanner  ScannerConfig `yaml:"scanner"`
	Rescan   RescanConfig  `yaml:"rescan"`
}

// Default builds a Config from the environment.
func Default() Config {
	return Config{
		Addr:     util.GetEnv("XRAY_ADDR", ":8080"),
		MongoURL: util.GetEnv("MONGO_URL", "mongodb://localhost:27017"),
		MongoDB:  util.GetEnv("MONGO_DB", "sqlxray"),
		Pool: PoolConfig{
			MaxConns:      envInt("XRAY_POOL_MAX_CONNS", 0),
			RetryAttempts: envInt("XRAY_RETRY_ATTEMPTS", 0),
		},
	}
}

// Load reads the YAML file at path over the environment defaults. An empty
// path returns the defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
