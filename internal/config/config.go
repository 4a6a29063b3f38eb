// Package config handles loading coursetrack.toml configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/campushq/coursetrack/internal/paths"
	istrings "github.com/campushq/coursetrack/internal/strings"
)

// Config represents the coursetrack.toml configuration file.
type Config struct {
	Site    Site    `toml:"site"`
	Browser Browser `toml:"browser"`
	Session Session `toml:"session"`
	Store   Store   `toml:"store"`
	Server  Server  `toml:"server"`
}

// Site describes the learning site being tracked.
type Site struct {
	// BaseURL is the site root without any session segment.
	BaseURL string `toml:"base-url"`
	// LoginDomain hosts the interactive sign-in flow.
	LoginDomain string `toml:"login-domain"`
	// MFADomains host the second-factor prompt.
	MFADomains []string `toml:"mfa-domains"`
	// ExpiryMarkers are page-text fragments that indicate a dead session.
	ExpiryMarkers []string `toml:"expiry-markers"`
	// Timezone is the IANA zone used when parsing site dates.
	Timezone string `toml:"timezone"`
}

// Browser configures the WebDriver connection.
type Browser struct {
	// DriverURL is the WebDriver remote endpoint.
	DriverURL string `toml:"driver-url"`
	// Headless controls whether background sync runs a visible browser.
	Headless *bool `toml:"headless"`
}

// Session tunes the session lifecycle.
type Session struct {
	// SnapshotPath is where exported session state is persisted.
	SnapshotPath string `toml:"snapshot-path"`
	// MFATimeoutSeconds bounds the wait for second-factor approval.
	MFATimeoutSeconds int `toml:"mfa-timeout-seconds"`
	// KeepAliveSeconds is the minimum spacing between keep-alive touches.
	KeepAliveSeconds int `toml:"keep-alive-seconds"`
	// MaxRefreshes bounds in-place session refreshes per run.
	MaxRefreshes int `toml:"max-refreshes"`
	// PageTimeoutSeconds bounds each page load.
	PageTimeoutSeconds int `toml:"page-timeout-seconds"`
}

// Store configures the assignment database.
type Store struct {
	Path string `toml:"path"`
}

// Server configures the HTTP API.
type Server struct {
	Listen string `toml:"listen"`
}

// Load loads configuration from the given directory and the global config
// file, applying defaults for anything neither file defines.
func Load(dir string) (*Config, error) {
	globalPath, err := globalConfigPath()
	if err != nil {
		return nil, err
	}

	globalCfg, globalMeta, err := loadConfigFile(globalPath)
	if err != nil {
		return nil, err
	}

	projectCfg, projectMeta, err := loadConfigFile(filepath.Join(dir, "coursetrack.toml"))
	if err != nil {
		return nil, err
	}

	merged := mergeConfigs(globalCfg, projectCfg, globalMeta, projectMeta)
	if err := applyDefaults(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func globalConfigPath() (string, error) {
	return paths.DefaultConfigPath()
}

func loadConfigFile(path string) (*Config, toml.MetaData, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, toml.MetaData{}, nil
	}
	if err != nil {
		return nil, toml.MetaData{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, toml.MetaData{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return &cfg, meta, nil
}

func mergeConfigs(globalCfg, projectCfg *Config, globalMeta, projectMeta toml.MetaData) *Config {
	if globalCfg == nil {
		globalCfg = &Config{}
	}
	if projectCfg == nil {
		projectCfg = &Config{}
	}

	merged := Config{}
	merged.Site.BaseURL = mergeString(projectMeta.IsDefined("site", "base-url"), projectCfg.Site.BaseURL, globalCfg.Site.BaseURL)
	merged.Site.LoginDomain = mergeString(projectMeta.IsDefined("site", "login-domain"), projectCfg.Site.LoginDomain, globalCfg.Site.LoginDomain)
	merged.Site.Timezone = mergeString(projectMeta.IsDefined("site", "timezone"), projectCfg.Site.Timezone, globalCfg.Site.Timezone)
	merged.Site.MFADomains = mergeStrings(projectMeta.IsDefined("site", "mfa-domains"), projectCfg.Site.MFADomains, globalMeta.IsDefined("site", "mfa-domains"), globalCfg.Site.MFADomains)
	merged.Site.ExpiryMarkers = mergeStrings(projectMeta.IsDefined("site", "expiry-markers"), projectCfg.Site.ExpiryMarkers, globalMeta.IsDefined("site", "expiry-markers"), globalCfg.Site.ExpiryMarkers)

	merged.Browser.DriverURL = mergeString(projectMeta.IsDefined("browser", "driver-url"), projectCfg.Browser.DriverURL, globalCfg.Browser.DriverURL)
	if projectMeta.IsDefined("browser", "headless") {
		merged.Browser.Headless = projectCfg.Browser.Headless
	} else if globalMeta.IsDefined("browser", "headless") {
		merged.Browser.Headless = globalCfg.Browser.Headless
	}

	merged.Session.SnapshotPath = mergeString(projectMeta.IsDefined("session", "snapshot-path"), projectCfg.Session.SnapshotPath, globalCfg.Session.SnapshotPath)
	merged.Session.MFATimeoutSeconds = mergeInt(projectMeta.IsDefined("session", "mfa-timeout-seconds"), projectCfg.Session.MFATimeoutSeconds, globalCfg.Session.MFATimeoutSeconds)
	merged.Session.KeepAliveSeconds = mergeInt(projectMeta.IsDefined("session", "keep-alive-seconds"), projectCfg.Session.KeepAliveSeconds, globalCfg.Session.KeepAliveSeconds)
	merged.Session.MaxRefreshes = mergeInt(projectMeta.IsDefined("session", "max-refreshes"), projectCfg.Session.MaxRefreshes, globalCfg.Session.MaxRefreshes)
	merged.Session.PageTimeoutSeconds = mergeInt(projectMeta.IsDefined("session", "page-timeout-seconds"), projectCfg.Session.PageTimeoutSeconds, globalCfg.Session.PageTimeoutSeconds)

	merged.Store.Path = mergeString(projectMeta.IsDefined("store", "path"), projectCfg.Store.Path, globalCfg.Store.Path)
	merged.Server.Listen = mergeString(projectMeta.IsDefined("server", "listen"), projectCfg.Server.Listen, globalCfg.Server.Listen)

	return &merged
}

func mergeString(projectDefined bool, projectValue, globalValue string) string {
	value := globalValue
	if projectDefined {
		value = projectValue
	}
	return strings.TrimSpace(value)
}

func mergeStrings(projectDefined bool, projectValue []string, globalDefined bool, globalValue []string) []string {
	if projectDefined {
		return append([]string(nil), projectValue...)
	}
	if globalDefined {
		return append([]string(nil), globalValue...)
	}
	return nil
}

func mergeInt(projectDefined bool, projectValue, globalValue int) int {
	if projectDefined {
		return projectValue
	}
	return globalValue
}

func applyDefaults(cfg *Config) error {
	if cfg.Site.BaseURL == "" {
		cfg.Site.BaseURL = "https://learningsuite.byu.edu"
	}
	cfg.Site.BaseURL = istrings.TrimTrailingSlash(cfg.Site.BaseURL)
	if cfg.Site.LoginDomain == "" {
		cfg.Site.LoginDomain = "cas.byu.edu"
	}
	if cfg.Site.MFADomains == nil {
		cfg.Site.MFADomains = []string{"duosecurity.com", "duo.com"}
	}
	if cfg.Site.ExpiryMarkers == nil {
		cfg.Site.ExpiryMarkers = []string{
			"session has expired",
			"please log in",
			"sign in to continue",
		}
	}
	if cfg.Site.Timezone == "" {
		cfg.Site.Timezone = "America/Denver"
	}
	if cfg.Browser.DriverURL == "" {
		cfg.Browser.DriverURL = "http://localhost:4444/wd/hub"
	}
	if cfg.Browser.Headless == nil {
		headless := true
		cfg.Browser.Headless = &headless
	}
	if cfg.Session.MFATimeoutSeconds == 0 {
		cfg.Session.MFATimeoutSeconds = 120
	}
	if cfg.Session.KeepAliveSeconds == 0 {
		cfg.Session.KeepAliveSeconds = 60
	}
	if cfg.Session.MaxRefreshes == 0 {
		cfg.Session.MaxRefreshes = 3
	}
	if cfg.Session.PageTimeoutSeconds == 0 {
		cfg.Session.PageTimeoutSeconds = 30
	}

	dataDir, err := paths.DefaultDataDir()
	if err != nil {
		return err
	}
	if cfg.Session.SnapshotPath == "" {
		cfg.Session.SnapshotPath = filepath.Join(dataDir, "session.json")
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(dataDir, "assignments.db")
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8321"
	}
	return nil
}
