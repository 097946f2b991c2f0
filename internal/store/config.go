package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"agent-trading-floor/internal/types"
)

type Config struct {
	Market         string `yaml:"market"`
	DataSource     string `yaml:"data_source"`
	PollSeconds    int    `yaml:"poll_seconds"`
	DataDir        string `yaml:"data_dir"`
	InitialBalance string `yaml:"initial_balance"`
	Spread         string `yaml:"spread"`

	Agents []types.AgentSpec `yaml:"agents"`

	Round struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		ToolBudget     int `yaml:"tool_budget"`
	} `yaml:"round"`

	Snapshot struct {
		Resolution string `yaml:"resolution"`
	} `yaml:"snapshot"`

	Price struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"price"`

	LLM struct {
		Provider    string  `yaml:"provider"`
		BaseURL     string  `yaml:"base_url"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
		System      string  `yaml:"system"`
	} `yaml:"llm"`

	News struct {
		Enabled      bool `yaml:"enabled"`
		MaxHeadlines int  `yaml:"max_headlines"`
	} `yaml:"news"`

	Notify struct {
		Enabled   bool   `yaml:"enabled"`
		URL       string `yaml:"url"`
		TokenEnv  string `yaml:"token_env"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"notify"`
}

func (c *Config) Validate() error {
	if c.Market != "NSE" && c.Market != "US" {
		return fmt.Errorf("invalid market '%s': must be 'NSE' or 'US'", c.Market)
	}
	if c.DataSource != "STATIC" && c.DataSource != "LIVE" {
		return fmt.Errorf("invalid data_source '%s': must be 'STATIC' or 'LIVE'", c.DataSource)
	}
	if len(c.Agents) == 0 {
		return errors.New("agents cannot be empty")
	}
	seen := map[string]bool{}
	for _, a := range c.Agents {
		if a.Name == "" {
			return errors.New("agent name cannot be empty")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name '%s'", a.Name)
		}
		seen[a.Name] = true
	}
	if _, err := decimal.NewFromString(c.InitialBalance); err != nil {
		return fmt.Errorf("invalid initial_balance '%s': %w", c.InitialBalance, err)
	}
	spread, err := decimal.NewFromString(c.Spread)
	if err != nil {
		return fmt.Errorf("invalid spread '%s': %w", c.Spread, err)
	}
	if spread.IsNegative() || spread.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("spread must be in [0,1), got %s", c.Spread)
	}
	if c.Round.ToolBudget <= 0 {
		return fmt.Errorf("round.tool_budget must be positive, got %d", c.Round.ToolBudget)
	}
	if _, err := time.ParseDuration(c.Snapshot.Resolution); err != nil {
		return fmt.Errorf("invalid snapshot.resolution '%s': %w", c.Snapshot.Resolution, err)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.PollSeconds == 0 {
		c.PollSeconds = 60
	}
	if c.DataSource == "" {
		c.DataSource = "STATIC"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.InitialBalance == "" {
		c.InitialBalance = "10000"
	}
	if c.Spread == "" {
		c.Spread = "0.002"
	}
	if c.Round.TimeoutSeconds == 0 {
		c.Round.TimeoutSeconds = 120
	}
	if c.Round.ToolBudget == 0 {
		c.Round.ToolBudget = 20
	}
	if c.Snapshot.Resolution == "" {
		c.Snapshot.Resolution = "1m"
	}
	if c.Price.CacheTTLSeconds == 0 {
		c.Price.CacheTTLSeconds = 60
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.News.MaxHeadlines == 0 {
		c.News.MaxHeadlines = 5
	}
	if c.Notify.TimeoutMS == 0 {
		c.Notify.TimeoutMS = 5000
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

// InitialBalanceDecimal returns the parsed initial balance. Validate has
// already checked the string.
func (c *Config) InitialBalanceDecimal() decimal.Decimal {
	d, _ := decimal.NewFromString(c.InitialBalance)
	return d
}

// SpreadDecimal returns the parsed execution spread.
func (c *Config) SpreadDecimal() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Spread)
	return d
}

// SnapshotResolution returns the parsed candle bucket size.
func (c *Config) SnapshotResolution() time.Duration {
	d, _ := time.ParseDuration(c.Snapshot.Resolution)
	return d
}

// RoundTimeout returns the oracle consultation deadline for one round.
func (c *Config) RoundTimeout() time.Duration {
	return time.Duration(c.Round.TimeoutSeconds) * time.Second
}
