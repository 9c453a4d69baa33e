// Package config provides configuration loading and validation for
// proxnixd.
//
// Configuration is loaded from a YAML file passed on the command line.
// Values have sensible defaults and are validated on load.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds daemon configuration: paths, listener settings, the
// hypervisor CLI's binary locations, and timeouts.
//
// Use DefaultConfig() to get a configuration with all defaults set, then
// Load() to read and apply overrides from a YAML file.
type Config struct {
	ConfigPath string

	BaseRepoPath string // per-commit checkout root, <BaseRepoPath>/<commit_hash>
	AuditLogPath string

	WebhookListen  string
	ControlListen  string
	MetricsListen  string

	QmPath string

	ProxmoxCommandTimeout time.Duration
	HealthLoopInterval    time.Duration

	DefaultStorageLocation string
	DefaultNetworkBridge   string
	DefaultSCSIHW          string
}

// FileConfig represents supported YAML config overrides. Empty fields are
// ignored, leaving the corresponding default in place.
type FileConfig struct {
	BaseRepoPath string `yaml:"base_repo_path"`
	AuditLogPath string `yaml:"audit_log_path"`

	WebhookListen string `yaml:"webhook_listen"`
	ControlListen string `yaml:"control_listen"`
	MetricsListen string `yaml:"metrics_listen"`

	QmPath string `yaml:"qm_path"`

	ProxmoxCommandTimeout string `yaml:"proxmox_command_timeout"`
	HealthLoopInterval    string `yaml:"health_loop_interval"`

	DefaultStorageLocation string `yaml:"default_storage_location"`
	DefaultNetworkBridge   string `yaml:"default_network_bridge"`
	DefaultSCSIHW          string `yaml:"default_scsi_hw"`
}

// DefaultConfig returns a Config struct with all default values set.
func DefaultConfig() Config {
	return Config{
		ConfigPath: "/etc/proxnix/config.yaml",

		BaseRepoPath: "/tmp/proxnix/repos",
		AuditLogPath: "/var/lib/proxnix/proxnix.db",

		WebhookListen: "0.0.0.0:6780",
		ControlListen: "",
		MetricsListen: "",

		QmPath: "qm",

		ProxmoxCommandTimeout: 2 * time.Minute,
		HealthLoopInterval:    10 * time.Second,

		DefaultStorageLocation: "local-lvm",
		DefaultNetworkBridge:   "vmbr0",
		DefaultSCSIHW:          "virtio-scsi-pci",
	}
}

// Load reads the YAML config file at path and applies overrides to the
// defaults, then validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		cfg.ConfigPath = path
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	if err := applyFileConfig(&cfg, fileCfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) error {
	if fileCfg.BaseRepoPath != "" {
		cfg.BaseRepoPath = fileCfg.BaseRepoPath
	}
	if fileCfg.AuditLogPath != "" {
		cfg.AuditLogPath = fileCfg.AuditLogPath
	}
	if fileCfg.WebhookListen != "" {
		cfg.WebhookListen = fileCfg.WebhookListen
	}
	if fileCfg.ControlListen != "" {
		cfg.ControlListen = fileCfg.ControlListen
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.QmPath != "" {
		cfg.QmPath = fileCfg.QmPath
	}
	if fileCfg.ProxmoxCommandTimeout != "" {
		d, err := parseDurationField(fileCfg.ProxmoxCommandTimeout, "proxmox_command_timeout")
		if err != nil {
			return err
		}
		cfg.ProxmoxCommandTimeout = d
	}
	if fileCfg.HealthLoopInterval != "" {
		d, err := parseDurationField(fileCfg.HealthLoopInterval, "health_loop_interval")
		if err != nil {
			return err
		}
		cfg.HealthLoopInterval = d
	}
	if fileCfg.DefaultStorageLocation != "" {
		cfg.DefaultStorageLocation = fileCfg.DefaultStorageLocation
	}
	if fileCfg.DefaultNetworkBridge != "" {
		cfg.DefaultNetworkBridge = fileCfg.DefaultNetworkBridge
	}
	if fileCfg.DefaultSCSIHW != "" {
		cfg.DefaultSCSIHW = fileCfg.DefaultSCSIHW
	}
	return nil
}

func parseDurationField(value, field string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	return d, nil
}

// Validate checks that required fields are non-empty, listen addresses are
// host:port, and timeouts are non-negative.
func (c Config) Validate() error {
	if c.BaseRepoPath == "" {
		return fmt.Errorf("base_repo_path is required")
	}
	if c.AuditLogPath == "" {
		return fmt.Errorf("audit_log_path is required")
	}
	if c.QmPath == "" {
		return fmt.Errorf("qm_path is required")
	}
	if c.WebhookListen == "" {
		return fmt.Errorf("webhook_listen is required")
	}
	if _, _, err := net.SplitHostPort(c.WebhookListen); err != nil {
		return fmt.Errorf("webhook_listen must be host:port: %w", err)
	}
	if strings.TrimSpace(c.ControlListen) != "" {
		if _, _, err := net.SplitHostPort(c.ControlListen); err != nil {
			return fmt.Errorf("control_listen must be host:port: %w", err)
		}
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must bind to loopback only, got %q", host)
		}
	}
	if c.ProxmoxCommandTimeout < 0 {
		return fmt.Errorf("proxmox_command_timeout must be non-negative")
	}
	if c.HealthLoopInterval <= 0 {
		return fmt.Errorf("health_loop_interval must be positive")
	}
	if c.DefaultStorageLocation == "" {
		return fmt.Errorf("default_storage_location is required")
	}
	if c.DefaultNetworkBridge == "" {
		return fmt.Errorf("default_network_bridge is required")
	}
	if c.DefaultSCSIHW == "" {
		return fmt.Errorf("default_scsi_hw is required")
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// InitDir is the well-known directory --init ensures exists before
// symlinking the provided config path into it. Variable (not const) so
// tests can redirect it under a temp directory.
var InitDir = "/var/lib/proxnix"

// InitLinkPath is the well-known location --init symlinks the provided
// config path into.
var InitLinkPath = filepath.Join(InitDir, "config.yaml")
