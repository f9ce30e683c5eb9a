package main

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aktagon/image-harvester/internal/acquire"
	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/classify"
	"github.com/aktagon/image-harvester/internal/convert"
	"github.com/aktagon/image-harvester/internal/logging"
	"github.com/aktagon/image-harvester/internal/probe"
	"github.com/aktagon/image-harvester/internal/store"
)

const defaultConfigDir = ".image-harvester/"

//go:embed config/settings.yaml
var defaultSettings string

// GetConfigPath returns the full path to a config file
func GetConfigPath(filename string) string {
	return filepath.Join(defaultConfigDir, filename)
}

// Settings represents the YAML configuration structure
type Settings struct {
	Target struct {
		BaseURL         string `yaml:"base_url"`
		OutputDirectory string `yaml:"output_directory"`
	} `yaml:"target"`

	Acquire struct {
		Engine          string        `yaml:"engine"`
		Headless        bool          `yaml:"headless"`
		NoSandbox       bool          `yaml:"no_sandbox"`
		BrowserPath     string        `yaml:"browser_path"`
		Stealth         bool          `yaml:"stealth"`
		PageTimeout     time.Duration `yaml:"page_timeout"`
		ExcludePatterns []string      `yaml:"exclude_patterns"`
		Scroll          struct {
			Step          int           `yaml:"step"`
			MaxSteps      int           `yaml:"max_steps"`
			StallLimit    int           `yaml:"stall_limit"`
			Quiet         time.Duration `yaml:"quiet"`
			SettleTimeout time.Duration `yaml:"settle_timeout"`
		} `yaml:"scroll"`
		Consent struct {
			Selectors []string `yaml:"selectors"`
			Labels    []string `yaml:"labels"`
		} `yaml:"consent"`
		Proxy struct {
			Server   string `yaml:"server"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"proxy"`
		Download struct {
			Concurrency   int           `yaml:"concurrency"`
			Delay         time.Duration `yaml:"delay"`
			Retries       int           `yaml:"retries"`
			RetryDelay    time.Duration `yaml:"retry_delay"`
			MaxBytes      int64         `yaml:"max_bytes"`
			NameFormat    string        `yaml:"name_format"`
			DedupeContent bool          `yaml:"dedupe_content"`
		} `yaml:"download"`
	} `yaml:"acquire"`

	Chain struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		Backoff        string        `yaml:"backoff"`
		BaseDelay      time.Duration `yaml:"base_delay"`
		MaxDelay       time.Duration `yaml:"max_delay"`
		AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	} `yaml:"chain"`

	Probe struct {
		Enabled          bool            `yaml:"enabled"`
		Timeout          time.Duration   `yaml:"timeout"`
		BlockedCountries []string        `yaml:"blocked_countries"`
		OnBlocked        string          `yaml:"on_blocked"`
		Endpoints        []ProbeEndpoint `yaml:"endpoints"`
	} `yaml:"probe"`

	Classify struct {
		Enabled                 bool                `yaml:"enabled"`
		Model                   string              `yaml:"model"`
		MaxTokens               int                 `yaml:"max_tokens"`
		Temperature             float64             `yaml:"temperature"`
		Threshold               int                 `yaml:"threshold"`
		ConsecutiveFailureLimit int                 `yaml:"consecutive_failure_limit"`
		RequestsPerMinute       int                 `yaml:"requests_per_minute"`
		Concurrency             int                 `yaml:"concurrency"`
		Timeout                 time.Duration       `yaml:"timeout"`
		ContextChars            int                 `yaml:"context_chars"`
		CollisionFormat         string              `yaml:"collision_format"`
		Categories              map[string][]string `yaml:"categories"`
	} `yaml:"classify"`

	Convert struct {
		Enabled      bool     `yaml:"enabled"`
		Engines      []string `yaml:"engines"`
		Width        int      `yaml:"width"`
		Height       int      `yaml:"height"`
		Quality      string   `yaml:"quality"`
		KeepOriginal bool     `yaml:"keep_original"`
		Concurrency  int      `yaml:"concurrency"`
	} `yaml:"convert"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// ProbeEndpoint names a geolocation provider and where to reach it
type ProbeEndpoint struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ConfigOverrides holds command line values that win over the settings file
type ConfigOverrides struct {
	SettingsPath *string
	OutputDir    *string
	Engine       *string
	LogFormat    *string
	Debug        bool
}

// LoadConfig bootstraps the config directory, loads settings and applies
// overrides.
func LoadConfig(overrides *ConfigOverrides) (*Settings, error) {
	if err := ensureConfigExists(); err != nil {
		return nil, fmt.Errorf("ensuring config files exist: %w", err)
	}

	var (
		settings *Settings
		err      error
	)
	if overrides != nil && overrides.SettingsPath != nil {
		// Explicit settings file must exist
		settings, err = loadSettingsRequired(*overrides.SettingsPath)
	} else {
		settings, err = loadSettings(GetConfigPath("settings.yaml"))
	}
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	settings.apply(overrides)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// loadSettings loads settings from YAML file with fallback to the embedded defaults
func loadSettings(settingsPath string) (*Settings, error) {
	data, err := os.ReadFile(settingsPath)
	if errors.Is(err, os.ErrNotExist) {
		return parseSettings([]byte(defaultSettings))
	}
	if err != nil {
		return nil, err
	}
	return parseSettings(data)
}

// loadSettingsRequired loads settings from YAML file, failing if file doesn't exist
func loadSettingsRequired(settingsPath string) (*Settings, error) {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, err
	}
	return parseSettings(data)
}

// parseSettings decodes data over the embedded defaults, so a partial file
// only changes what it names.
func parseSettings(data []byte) (*Settings, error) {
	var settings Settings
	if err := yaml.Unmarshal([]byte(defaultSettings), &settings); err != nil {
		return nil, fmt.Errorf("parsing embedded settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}
	return &settings, nil
}

// ensureConfigExists creates config directory and writes settings.yaml if needed
func ensureConfigExists() error {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write settings.yaml - this should be customized by users
	settingsFile := GetConfigPath("settings.yaml")
	if _, err := os.Stat(settingsFile); os.IsNotExist(err) {
		if err := os.WriteFile(settingsFile, []byte(defaultSettings), 0644); err != nil {
			return fmt.Errorf("writing settings.yaml: %w", err)
		}
	}
	return nil
}

func (s *Settings) apply(o *ConfigOverrides) {
	if o == nil {
		return
	}
	if o.OutputDir != nil && *o.OutputDir != "" {
		s.Target.OutputDirectory = *o.OutputDir
	}
	if o.Engine != nil && *o.Engine != "" {
		s.Acquire.Engine = *o.Engine
	}
	if o.LogFormat != nil && *o.LogFormat != "" {
		s.Logging.Format = *o.LogFormat
	}
	if o.Debug {
		s.Logging.Level = "debug"
	}
}

// Validate rejects settings no component could run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Target.OutputDirectory == "" {
		errs = append(errs, errors.New("target.output_directory is required"))
	}
	switch strings.ToLower(s.Acquire.Engine) {
	case "auto", "rendered", "direct":
	default:
		errs = append(errs, fmt.Errorf("acquire.engine %q must be auto, rendered or direct", s.Acquire.Engine))
	}
	if _, err := s.backoff(); err != nil {
		errs = append(errs, err)
	}
	if _, err := probe.NewGate(s.Probe.BlockedCountries, s.Probe.OnBlocked); err != nil {
		errs = append(errs, fmt.Errorf("probe: %w", err))
	}
	if t := s.Classify.Threshold; t < 0 || t > 10 {
		errs = append(errs, fmt.Errorf("classify.threshold %d must be between 0 and 10", t))
	}
	if f := s.Classify.CollisionFormat; f != "" {
		if !strings.Contains(f, "%s") || !strings.Contains(f, "%d") {
			errs = append(errs, fmt.Errorf("classify.collision_format %q needs %%s and %%d", f))
		} else if got := store.Disambiguate("x.png", f, 2); strings.Contains(got, "%!") {
			errs = append(errs, fmt.Errorf("classify.collision_format %q renders as %q", f, got))
		}
	}
	if _, err := convert.ParseQuality(s.Convert.Quality); err != nil {
		errs = append(errs, fmt.Errorf("convert: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Settings) backoff() (chain.Backoff, error) {
	return chain.ParseBackoff(s.Chain.Backoff, s.Chain.BaseDelay, s.Chain.MaxDelay)
}

// LogLevel returns the configured slog level.
func (s *Settings) LogLevel() slog.Level {
	return logging.ParseLevel(s.Logging.Level)
}

func (s *Settings) acquireConfig() acquire.Config {
	a := s.Acquire
	backoff, _ := s.backoff()
	return acquire.Config{
		Engine:      strings.ToLower(a.Engine),
		Headless:    a.Headless,
		NoSandbox:   a.NoSandbox,
		BrowserPath: a.BrowserPath,
		Stealth:     a.Stealth,
		Proxy: acquire.Proxy{
			Server:   a.Proxy.Server,
			Username: a.Proxy.Username,
			Password: a.Proxy.Password,
		},
		Scroll: acquire.ScrollConfig{
			Step:          a.Scroll.Step,
			MaxSteps:      a.Scroll.MaxSteps,
			StallLimit:    a.Scroll.StallLimit,
			Quiet:         a.Scroll.Quiet,
			SettleTimeout: a.Scroll.SettleTimeout,
		},
		ConsentSelectors: a.Consent.Selectors,
		ConsentLabels:    a.Consent.Labels,
		ExcludePatterns:  a.ExcludePatterns,
		PageTimeout:      a.PageTimeout,
		ContextChars:     s.Classify.ContextChars,
		Download: acquire.DownloadConfig{
			Concurrency:     a.Download.Concurrency,
			Delay:           a.Download.Delay,
			Retries:         a.Download.Retries,
			RetryDelay:      a.Download.RetryDelay,
			MaxBytes:        a.Download.MaxBytes,
			NameFormat:      a.Download.NameFormat,
			CollisionFormat: s.Classify.CollisionFormat,
			DedupeContent:   a.Download.DedupeContent,
		},
		MaxAttempts:    s.Chain.MaxAttempts,
		Backoff:        backoff,
		AttemptTimeout: s.Chain.AttemptTimeout,
	}
}

func (s *Settings) probeConfig() probe.Config {
	var endpoints []probe.Endpoint
	for _, ep := range s.Probe.Endpoints {
		endpoints = append(endpoints, probe.Endpoint{Name: ep.Name, URL: ep.URL})
	}
	backoff, _ := s.backoff()
	return probe.Config{
		Endpoints:   endpoints,
		Timeout:     s.Probe.Timeout,
		MaxAttempts: s.Chain.MaxAttempts,
		Backoff:     backoff,
	}
}

func (s *Settings) classifyConfig() classify.Config {
	c := s.Classify
	backoff, _ := s.backoff()
	return classify.Config{
		Threshold:               c.Threshold,
		CollisionFormat:         c.CollisionFormat,
		ConsecutiveFailureLimit: c.ConsecutiveFailureLimit,
		Concurrency:             c.Concurrency,
		RequestsPerMinute:       c.RequestsPerMinute,
		OracleTimeout:           c.Timeout,
		MaxAttempts:             s.Chain.MaxAttempts,
		Backoff:                 backoff,
	}
}

func (s *Settings) llmConfig(apiKey string) classify.LLMConfig {
	return classify.LLMConfig{
		APIKey:      apiKey,
		Model:       s.Classify.Model,
		MaxTokens:   s.Classify.MaxTokens,
		Temperature: s.Classify.Temperature,
	}
}

func (s *Settings) convertConfig() convert.Config {
	c := s.Convert
	return convert.Config{
		Engines:      c.Engines,
		Width:        c.Width,
		Height:       c.Height,
		Quality:      c.Quality,
		KeepOriginal: c.KeepOriginal,
		Concurrency:  c.Concurrency,
		ChromePath:   s.Acquire.BrowserPath,
		NoSandbox:    s.Acquire.NoSandbox,
	}
}
