package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration loaded from fathom.yaml.
type Config struct {
	Mode string `mapstructure:"mode"`

	Providers struct {
		APIKey           string `mapstructure:"api_key"`
		BaseURL          string `mapstructure:"base_url"`
		SearchBaseURL    string `mapstructure:"search_base_url"`
		ReasonerModel    string `mapstructure:"reasoner_model"`
		ResearcherModel  string `mapstructure:"researcher_model"`
		FactCheckerModel string `mapstructure:"fact_checker_model"`
	} `mapstructure:"providers"`

	Validation struct {
		Concurrency     int     `mapstructure:"concurrency"`
		TimeoutMs       int     `mapstructure:"timeout_ms"`
		ProbesPerSecond float64 `mapstructure:"probes_per_second"`
	} `mapstructure:"validation"`

	Breaker struct {
		WarningPct  float64 `mapstructure:"warning_pct"`
		CriticalPct float64 `mapstructure:"critical_pct"`
		StopPct     float64 `mapstructure:"stop_pct"`
	} `mapstructure:"breaker"`

	Selector struct {
		ElevationMinRemaining float64 `mapstructure:"elevation_min_remaining"`
		ElevationCostMultiple float64 `mapstructure:"elevation_cost_multiple"`
	} `mapstructure:"selector"`

	Observability struct {
		Metrics struct {
			Enabled bool `mapstructure:"enabled"`
			Port    int  `mapstructure:"port"`
		} `mapstructure:"metrics"`
		Logging struct {
			Level  string `mapstructure:"level"`
			Format string `mapstructure:"format"`
		} `mapstructure:"logging"`
	} `mapstructure:"observability"`

	PricingPath string `mapstructure:"pricing_path"`
}

// Load reads configuration from CONFIG_PATH or ./config/fathom.yaml and
// applies environment overrides.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/fathom.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	var c Config
	if err := v.ReadInConfig(); err != nil {
		// Missing config falls back to defaults; unreadable config is fatal.
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&c)
	applyEnvOverrides(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Mode == "" {
		c.Mode = "standard"
	}
	if c.Providers.ReasonerModel == "" {
		c.Providers.ReasonerModel = "gpt-4o-mini"
	}
	if c.Providers.ResearcherModel == "" {
		c.Providers.ResearcherModel = "sonar-pro"
	}
	if c.Providers.FactCheckerModel == "" {
		c.Providers.FactCheckerModel = "gpt-4o-mini"
	}
	if c.Validation.Concurrency <= 0 {
		c.Validation.Concurrency = 10
	}
	if c.Validation.TimeoutMs <= 0 {
		c.Validation.TimeoutMs = 3000
	}
	if c.Validation.ProbesPerSecond <= 0 {
		c.Validation.ProbesPerSecond = 20
	}
	if c.Breaker.WarningPct <= 0 {
		c.Breaker.WarningPct = 0.70
	}
	if c.Breaker.CriticalPct <= 0 {
		c.Breaker.CriticalPct = 0.85
	}
	if c.Breaker.StopPct <= 0 {
		c.Breaker.StopPct = 0.93
	}
	if c.Selector.ElevationMinRemaining <= 0 {
		c.Selector.ElevationMinRemaining = 0.35
	}
	if c.Selector.ElevationCostMultiple <= 0 {
		c.Selector.ElevationCostMultiple = 2.0
	}
	if c.Observability.Metrics.Port <= 0 {
		c.Observability.Metrics.Port = 2112
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.PricingPath == "" {
		c.PricingPath = "./config/models.yaml"
	}
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("FATHOM_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.APIKey = v
	}
	if v := os.Getenv("FATHOM_METRICS_PORT"); v != "" {
		var p int
		_, _ = fmt.Sscanf(v, "%d", &p)
		if p > 0 {
			c.Observability.Metrics.Port = p
		}
	}
	if v := os.Getenv("MODELS_CONFIG_PATH"); v != "" {
		c.PricingPath = v
	}
}

// ValidateTimeout returns the probe timeout as a duration.
func (c *Config) ValidateTimeout() time.Duration {
	return time.Duration(c.Validation.TimeoutMs) * time.Millisecond
}
