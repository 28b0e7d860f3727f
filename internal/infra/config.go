package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Secrets are overridable via
// environment variables after the YAML file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Database struct {
		Driver      string `yaml:"driver"`       // "sqlite" or "postgres"
		SQLitePath  string `yaml:"sqlite_path"`  // Path to the sqlite file
		PostgresDSN string `yaml:"postgres_dsn"` // Overridable via DATABASE_URL
	} `yaml:"database"`

	Engine struct {
		TickIntervalSec   int `yaml:"tick_interval_sec"`   // Scheduler cycle interval
		InstrumentDelayMs int `yaml:"instrument_delay_ms"` // Delay between tokens within a cycle
	} `yaml:"engine"`

	Jupiter struct {
		PriceAPIURL string `yaml:"price_api_url"`
		TokenAPIURL string `yaml:"token_api_url"`
	} `yaml:"jupiter"`

	Custody struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"` // Overridable via CUSTODY_API_KEY
	} `yaml:"custody"`

	Solana struct {
		RPCURL string `yaml:"rpc_url"` // Overridable via SOLANA_RPC_URL
	} `yaml:"solana"`

	Telegram struct {
		APIURL   string `yaml:"api_url"`
		BotToken string `yaml:"bot_token"` // Overridable via TELEGRAM_BOT_TOKEN
	} `yaml:"telegram"`

	Feed struct {
		Enabled   bool     `yaml:"enabled"`
		WSURL     string   `yaml:"ws_url"`
		MaxAgeSec int      `yaml:"max_age_sec"` // Streamed price freshness window
		Tokens    []string `yaml:"tokens"`      // Mint addresses to subscribe to
	} `yaml:"feed"`

	Assets struct {
		IconDir string `yaml:"icon_dir"`
	} `yaml:"assets"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads the YAML config file and applies defaults and
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "Limit Go"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/limitgo.db"
	}
	if c.Engine.TickIntervalSec <= 0 {
		c.Engine.TickIntervalSec = 30
	}
	if c.Engine.InstrumentDelayMs <= 0 {
		c.Engine.InstrumentDelayMs = 200
	}
	if c.Jupiter.PriceAPIURL == "" {
		c.Jupiter.PriceAPIURL = "https://price.jup.ag/v1"
	}
	if c.Jupiter.TokenAPIURL == "" {
		c.Jupiter.TokenAPIURL = "https://api.jup.ag/tokens/v1"
	}
	if c.Solana.RPCURL == "" {
		c.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Feed.MaxAgeSec <= 0 {
		c.Feed.MaxAgeSec = 15
	}
	if c.Assets.IconDir == "" {
		c.Assets.IconDir = "assets/icons"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.PostgresDSN = v
	}
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		c.Solana.RPCURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("CUSTODY_API_KEY"); v != "" {
		c.Custody.APIKey = v
	}
	if v := os.Getenv("ENGINE_TICK_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Engine.TickIntervalSec = sec
		}
	}
}

func (c *Config) validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("postgres driver selected but no DSN configured")
	}
	if c.Custody.BaseURL == "" {
		return fmt.Errorf("custody base_url is required")
	}
	return nil
}

// TickInterval returns the scheduler cycle interval as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickIntervalSec) * time.Second
}

// InstrumentDelay returns the pause between instruments within a cycle.
func (c *Config) InstrumentDelay() time.Duration {
	return time.Duration(c.Engine.InstrumentDelayMs) * time.Millisecond
}
