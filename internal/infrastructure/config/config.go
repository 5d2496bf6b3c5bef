// Package config loads CIS's node configuration through a layered viper
// stack: built-in defaults, then an optional global ~/.cis/config.yaml,
// then a project-local ./cis.yaml merged on top, then environment
// variables prefixed CIS_. This mirrors the teacher gateway's config
// loading order so operators get the same "closer wins" mental model.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object for a single CIS node.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Session   SessionConfig   `mapstructure:"session"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DHT       DHTConfig       `mapstructure:"dht"`
	Memory    MemoryConfig    `mapstructure:"memory"`
}

// NodeConfig locates this node's long-term identity key material.
type NodeConfig struct {
	KeyPath   string `mapstructure:"key_path"`   // Ed25519 seed file
	DataDir   string `mapstructure:"data_dir"`   // workspace root for agent sessions
	ClusterID string `mapstructure:"cluster_id"` // human label, not part of NodeId derivation
}

// LogConfig controls the zap logger built in internal/infrastructure/logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig points at the SQLite store backing dag_runs, memory_entries,
// conflicts, vector_clocks, and sessions (spec.md §6).
type DatabaseConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// SandboxConfig lists the filesystem roots a skill may touch and the
// process-wide file-descriptor cap (spec.md §4.1).
type SandboxConfig struct {
	WritableRoots []string `mapstructure:"writable_roots"`
	ReadableRoots []string `mapstructure:"readable_roots"`
	AllowSymlinks bool     `mapstructure:"allow_symlinks"`
	MaxFD         uint32   `mapstructure:"max_fd"`
}

// SessionConfig sizes the PTY-backed agent session pool (spec.md §4.5).
type SessionConfig struct {
	MaxAgents        int           `mapstructure:"max_agents"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	HealthCheckEvery time.Duration `mapstructure:"health_check_every"`
	DefaultRuntime   string        `mapstructure:"default_runtime"`
}

// SchedulerConfig tunes the multi-agent DAG executor (spec.md §4.7).
type SchedulerConfig struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
	SchedulingMode     string        `mapstructure:"scheduling_mode"` // event_driven | polling
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	EnableContextInject bool         `mapstructure:"enable_context_injection"`
}

// DHTConfig configures Kademlia bootstrap and timing.
type DHTConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	Alpha          int      `mapstructure:"alpha"`
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// MemoryConfig controls private-entry encryption.
type MemoryConfig struct {
	EncryptionVersion int `mapstructure:"encryption_version"` // 1 or 2
}

// Load builds a Config using the layered strategy described in the package doc.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".cis")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{".", "./config"} {
		localPath := filepath.Join(localDir, "cis.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("CIS")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.key_path", filepath.Join(os.Getenv("HOME"), ".cis", "identity.key"))
	v.SetDefault("node.data_dir", filepath.Join(os.Getenv("HOME"), ".cis", "data"))
	v.SetDefault("node.cluster_id", "default")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.dsn", "cis.db")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("sandbox.writable_roots", []string{filepath.Join(os.Getenv("HOME"), ".cis", "workspaces")})
	v.SetDefault("sandbox.readable_roots", []string{filepath.Join(os.Getenv("HOME"), ".cis", "workspaces")})
	v.SetDefault("sandbox.allow_symlinks", false)
	v.SetDefault("sandbox.max_fd", 256)

	v.SetDefault("session.max_agents", 8)
	v.SetDefault("session.idle_timeout", "10m")
	v.SetDefault("session.health_check_every", "30s")
	v.SetDefault("session.default_runtime", "claude")

	v.SetDefault("scheduler.max_concurrent_tasks", 4)
	v.SetDefault("scheduler.task_timeout", "5m")
	v.SetDefault("scheduler.scheduling_mode", "event_driven")
	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.enable_context_injection", true)

	v.SetDefault("dht.listen_addr", "0.0.0.0:7946")
	v.SetDefault("dht.alpha", 3)
	v.SetDefault("dht.default_ttl", "24h")
	v.SetDefault("dht.sweep_interval", "1m")

	v.SetDefault("memory.encryption_version", 2)
}
