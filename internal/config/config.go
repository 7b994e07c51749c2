// Package config loads the minbar YAML configuration and applies
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the minbar pipeline.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
	Endpoint Endpoint `yaml:"endpoint"`
	Headers  Headers  `yaml:"headers"`
	Feed     Feed     `yaml:"feed"`
	HTTP     HTTP     `yaml:"http"`
	Browser  Browser  `yaml:"browser"`
	Batch    Batch    `yaml:"batch"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Endpoint maps endpoint types to URL templates. Templates carry {days},
// {secid}, and {cb} placeholders filled at request time.
type Endpoint struct {
	Templates map[string]string `yaml:"templates"`
}

// Headers maps endpoint types to ordered header-profile pools. Each profile
// is one complete header set (User-Agent, Host, Referer, Cookie, ...).
type Headers struct {
	Pools map[string][]map[string]string `yaml:"pools"`
}

// Feed configures the primary TCP quote-feed tier.
type Feed struct {
	Servers        []string      `yaml:"servers"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxRowsPerCall int           `yaml:"max_rows_per_call"`
	RowsPerDay     int           `yaml:"rows_per_day"`
}

// HTTP configures the HTTP fetch tier.
type HTTP struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	Timeout     time.Duration `yaml:"timeout"`
	DelayMin    time.Duration `yaml:"delay_min"`
	DelayMax    time.Duration `yaml:"delay_max"`
	MinBodyLen  int           `yaml:"min_body_len"`
}

// Browser configures the headless-browser fallback tier.
type Browser struct {
	Enabled    bool          `yaml:"enabled"`
	Headless   bool          `yaml:"headless"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
	SettleMin  time.Duration `yaml:"settle_min"`
	SettleMax  time.Duration `yaml:"settle_max"`
	UserAgents []string      `yaml:"user_agents"`
}

// Batch configures the download scheduler.
type Batch struct {
	MaxDaysPerCall int           `yaml:"max_days_per_call"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	PaceDelay      time.Duration `yaml:"pace_delay"`
	CronSpec       string        `yaml:"cron_spec"`
}

// ---------------------------------------------------------------------------
// YAML duration parsing
// ---------------------------------------------------------------------------

// duration accepts "5s"-style YAML scalars. yaml.v3 has no native
// time.Duration support.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

// UnmarshalYAML decodes Feed through a mirror struct so duration fields
// accept "5s"-style values.
func (f *Feed) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Servers        []string `yaml:"servers"`
		ConnectTimeout duration `yaml:"connect_timeout"`
		MaxRowsPerCall int      `yaml:"max_rows_per_call"`
		RowsPerDay     int      `yaml:"rows_per_day"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*f = Feed{
		Servers:        r.Servers,
		ConnectTimeout: time.Duration(r.ConnectTimeout),
		MaxRowsPerCall: r.MaxRowsPerCall,
		RowsPerDay:     r.RowsPerDay,
	}
	return nil
}

// UnmarshalYAML decodes HTTP through a mirror struct.
func (h *HTTP) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		MaxAttempts int      `yaml:"max_attempts"`
		BackoffBase duration `yaml:"backoff_base"`
		Timeout     duration `yaml:"timeout"`
		DelayMin    duration `yaml:"delay_min"`
		DelayMax    duration `yaml:"delay_max"`
		MinBodyLen  int      `yaml:"min_body_len"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*h = HTTP{
		MaxAttempts: r.MaxAttempts,
		BackoffBase: time.Duration(r.BackoffBase),
		Timeout:     time.Duration(r.Timeout),
		DelayMin:    time.Duration(r.DelayMin),
		DelayMax:    time.Duration(r.DelayMax),
		MinBodyLen:  r.MinBodyLen,
	}
	return nil
}

// UnmarshalYAML decodes Browser through a mirror struct.
func (b *Browser) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Enabled    bool     `yaml:"enabled"`
		Headless   bool     `yaml:"headless"`
		NavTimeout duration `yaml:"nav_timeout"`
		SettleMin  duration `yaml:"settle_min"`
		SettleMax  duration `yaml:"settle_max"`
		UserAgents []string `yaml:"user_agents"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*b = Browser{
		Enabled:    r.Enabled,
		Headless:   r.Headless,
		NavTimeout: time.Duration(r.NavTimeout),
		SettleMin:  time.Duration(r.SettleMin),
		SettleMax:  time.Duration(r.SettleMax),
		UserAgents: r.UserAgents,
	}
	return nil
}

// UnmarshalYAML decodes Batch through a mirror struct.
func (b *Batch) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		MaxDaysPerCall int      `yaml:"max_days_per_call"`
		RetryAttempts  int      `yaml:"retry_attempts"`
		RetryDelay     duration `yaml:"retry_delay"`
		PaceDelay      duration `yaml:"pace_delay"`
		CronSpec       string   `yaml:"cron_spec"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*b = Batch{
		MaxDaysPerCall: r.MaxDaysPerCall,
		RetryAttempts:  r.RetryAttempts,
		RetryDelay:     time.Duration(r.RetryDelay),
		PaceDelay:      time.Duration(r.PaceDelay),
		CronSpec:       r.CronSpec,
	}
	return nil
}

// Endpoint types used by the acquisition pipeline.
const (
	EndpointStock1mDays = "stock_1m_multiple_days"
	EndpointBoard1mDays = "board_1m_multiple_days"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Feed.ConnectTimeout == 0 {
		cfg.Feed.ConnectTimeout = 5 * time.Second
	}
	if cfg.Feed.MaxRowsPerCall == 0 {
		cfg.Feed.MaxRowsPerCall = 800
	}
	if cfg.Feed.RowsPerDay == 0 {
		cfg.Feed.RowsPerDay = 240
	}
	if cfg.HTTP.MaxAttempts == 0 {
		cfg.HTTP.MaxAttempts = 4
	}
	if cfg.HTTP.BackoffBase == 0 {
		cfg.HTTP.BackoffBase = 2 * time.Second
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 20 * time.Second
	}
	if cfg.HTTP.DelayMin == 0 {
		cfg.HTTP.DelayMin = 3 * time.Second
	}
	if cfg.HTTP.DelayMax == 0 {
		cfg.HTTP.DelayMax = 5 * time.Second
	}
	if cfg.HTTP.MinBodyLen == 0 {
		cfg.HTTP.MinBodyLen = 100
	}
	if cfg.Browser.NavTimeout == 0 {
		cfg.Browser.NavTimeout = 30 * time.Second
	}
	if cfg.Browser.SettleMin == 0 {
		cfg.Browser.SettleMin = 3 * time.Second
	}
	if cfg.Browser.SettleMax == 0 {
		cfg.Browser.SettleMax = 6 * time.Second
	}
	if cfg.Batch.MaxDaysPerCall == 0 {
		cfg.Batch.MaxDaysPerCall = 5
	}
	if cfg.Batch.RetryAttempts == 0 {
		cfg.Batch.RetryAttempts = 3
	}
	if cfg.Batch.RetryDelay == 0 {
		cfg.Batch.RetryDelay = 5 * time.Second
	}
	if cfg.Batch.PaceDelay == 0 {
		cfg.Batch.PaceDelay = 2 * time.Second
	}
	if cfg.Batch.CronSpec == "" {
		// Weekdays at 15:35, just after settlement.
		cfg.Batch.CronSpec = "35 15 * * 1-5"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MINBAR_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MINBAR_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("MINBAR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MINBAR_FEED_SERVERS"); v != "" {
		cfg.Feed.Servers = strings.Split(v, ",")
	}
	if v := os.Getenv("MINBAR_BROWSER_HEADLESS"); v != "" {
		cfg.Browser.Headless = v == "true" || v == "1"
	}
	if v := os.Getenv("MINBAR_COOKIE"); v != "" {
		for _, pool := range cfg.Headers.Pools {
			for _, profile := range pool {
				profile["Cookie"] = v
			}
		}
	}
}

// Validate rejects configurations the pipeline cannot start with. Missing
// endpoint templates or empty header pools are fatal at process start; all
// other failures are handled at run time.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("config: storage.data_dir is required")
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("config: storage.sqlite_path is required")
	}
	for _, typ := range []string{EndpointStock1mDays, EndpointBoard1mDays} {
		tmpl, ok := c.Endpoint.Templates[typ]
		if !ok || tmpl == "" {
			return fmt.Errorf("config: endpoint template %q is missing", typ)
		}
		if !strings.Contains(tmpl, "{secid}") {
			return fmt.Errorf("config: endpoint template %q lacks {secid} placeholder", typ)
		}
		if len(c.Headers.Pools[typ]) == 0 {
			return fmt.Errorf("config: header pool %q is empty", typ)
		}
	}
	return nil
}

// BuildURL renders the endpoint template for the given type, substituting
// the day count, security id, and JSONP callback token.
func (c *Config) BuildURL(endpointType string, days int, secid, callback string) string {
	tmpl := c.Endpoint.Templates[endpointType]
	r := strings.NewReplacer(
		"{days}", fmt.Sprintf("%d", days),
		"{secid}", secid,
		"{cb}", callback,
	)
	return r.Replace(tmpl)
}
