// Package config loads and validates pacsflow configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Default values applied when a setting is absent from file and environment.
const (
	DefaultToolkit            = "dcm4che"
	DefaultAETSource          = "HMD_IMPORTER"
	DefaultAETDest            = "HMD_IMPORTED"
	DefaultPACSHost           = "192.168.1.70"
	DefaultPACSPort           = 5555
	DefaultPACSRESTHost       = "192.168.1.70:8080"
	DefaultBatchSize          = 200
	DefaultAllowedExtensions  = ".dcm"
	DefaultTSMode             = "AUTO"
	DefaultSendMode           = "MANIFEST_FILES"
	DefaultIUIDUpdateMode     = "REALTIME"
	DefaultRestrictExtensions = true
	DefaultIncludeNoExtension = true
	DefaultCollectSizeBytes   = false
	DefaultUseShellWrapper    = true
	DefaultPreferJavaDirect   = true
)

// Validation errors.
var (
	ErrUnknownToolkit = errors.New("toolkit must be dcm4che or dcmtk")
	ErrBatchSize      = errors.New("batch_size_default must be >= 1")
	ErrEmptyAET       = errors.New("aet_source and aet_dest must not be empty")
)

// Config is the full pacsflow option set. Field tags use mapstructure for
// viper unmarshalling.
type Config struct {
	Toolkit            string `mapstructure:"toolkit"`
	AETSource          string `mapstructure:"aet_source"`
	AETDest            string `mapstructure:"aet_dest"`
	PACSHost           string `mapstructure:"pacs_host"`
	PACSPort           int    `mapstructure:"pacs_port"`
	PACSRESTHost       string `mapstructure:"pacs_rest_host"`
	RunsBaseDir        string `mapstructure:"runs_base_dir"`
	BatchSizeDefault   int    `mapstructure:"batch_size_default"`
	AllowedExtensions  string `mapstructure:"allowed_extensions"`
	RestrictExtensions bool   `mapstructure:"restrict_extensions"`
	IncludeNoExtension bool   `mapstructure:"include_no_extension"`
	CollectSizeBytes   bool   `mapstructure:"collect_size_bytes"`
	TSMode             string `mapstructure:"ts_mode"`

	Dcm4cheSendMode        string `mapstructure:"dcm4che_send_mode"`
	Dcm4cheIUIDUpdateMode  string `mapstructure:"dcm4che_iuid_update_mode"`
	Dcm4cheUseShellWrapper bool   `mapstructure:"dcm4che_use_shell_wrapper"`
	Dcm4chePreferJavaDirect bool  `mapstructure:"dcm4che_prefer_java_direct"`

	// MetricsListen enables the Prometheus scrape endpoint when non-empty
	// (host:port).
	MetricsListen string `mapstructure:"metrics_listen"`

	// Resolved at startup from the local toolkits/ directory; never read
	// from the config file.
	Dcm4cheBinPath string `mapstructure:"-"`
	DcmtkBinPath   string `mapstructure:"-"`
}

// Validate checks invariants that must hold before any workflow starts.
func (c *Config) Validate() error {
	toolkit := strings.ToLower(strings.TrimSpace(c.Toolkit))
	if toolkit != "dcm4che" && toolkit != "dcmtk" {
		return fmt.Errorf("%w: got %q", ErrUnknownToolkit, c.Toolkit)
	}

	if c.BatchSizeDefault < 1 {
		return ErrBatchSize
	}

	if strings.TrimSpace(c.AETSource) == "" || strings.TrimSpace(c.AETDest) == "" {
		return ErrEmptyAET
	}

	return nil
}

// AllowedExtensionSet parses the comma-separated extension list into a
// lowercase, dot-prefixed set.
func (c *Config) AllowedExtensionSet() map[string]struct{} {
	out := make(map[string]struct{})

	for _, token := range strings.Split(c.AllowedExtensions, ",") {
		t := strings.ToLower(strings.TrimSpace(token))
		if t == "" {
			continue
		}

		if !strings.HasPrefix(t, ".") {
			t = "." + t
		}

		out[t] = struct{}{}
	}

	return out
}

// StoreEndpoint renders the dcm4che C-STORE connect argument (AET@host:port).
func (c *Config) StoreEndpoint() string {
	return fmt.Sprintf("%s@%s:%d", c.AETDest, c.PACSHost, c.PACSPort)
}

// ResolveRunsBase returns the absolute runs directory: runs_base_dir when
// set (resolved against baseDir when relative), else <baseDir>/runs.
func (c *Config) ResolveRunsBase(baseDir string) string {
	trimmed := strings.TrimSpace(c.RunsBaseDir)
	if trimmed == "" {
		return filepath.Join(baseDir, "runs")
	}

	if filepath.IsAbs(trimmed) {
		return trimmed
	}

	return filepath.Join(baseDir, trimmed)
}
