// Package config loads process settings from the environment and the project
// manifest (diamond.yaml or diamond.toml).
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/martin-labs/diamondctl/pkg/ledger"
)

// Config holds process configuration.
type Config struct {
	Network     string `env:"DIAMOND_NETWORK" envDefault:"local"`
	Production  bool   `env:"PRODUCTION"`
	ProjectRoot string `env:"DIAMOND_PROJECT" envDefault:"."`
	// Manifest overrides the manifest lookup in ProjectRoot.
	Manifest string `env:"DIAMOND_MANIFEST"`

	LedgerDir     string `env:"LEDGER_DIR" envDefault:"deployments/_deployment_logs"`
	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"file"`
	DatabaseURL   string `env:"DATABASE_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	EtherscanAPIKey string `env:"ETHERSCAN_API_KEY"`
	EtherscanURL    string `env:"ETHERSCAN_API_URL"`

	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"DIAMOND_LOCK_TTL" envDefault:"15m"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// ChainState is where development networks persist between runs.
	// Empty means ProjectRoot/.diamondctl/<network>.chain.json.
	ChainState string `env:"DIAMOND_CHAIN_STATE"`

	Archive Archive `envPrefix:"ARCHIVE_"`
}

// Archive configures ledger snapshots.
type Archive struct {
	Type     string `env:"TYPE" envDefault:"fs"`
	Dir      string `env:"DIR"`
	Bucket   string `env:"BUCKET"`
	Region   string `env:"REGION"`
	Endpoint string `env:"ENDPOINT"`
	Prefix   string `env:"PREFIX" envDefault:"ledger/"`
}

// Load reads the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, cfg.validate()
}

// LoadFrom reads environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.LedgerBackend {
	case "file":
	case "sqlite", "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: LEDGER_BACKEND=%s requires DATABASE_URL", c.LedgerBackend)
		}
	default:
		return fmt.Errorf("config: unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	return nil
}

// ChainStatePath resolves ChainState.
func (c *Config) ChainStatePath() string {
	if c.ChainState != "" {
		return c.ChainState
	}
	return filepath.Join(c.ProjectRoot, ".diamondctl", c.Network+".chain.json")
}

// LedgerContext is the ledger partition selected by the environment.
func (c *Config) LedgerContext() ledger.Context {
	return ledger.Context{Network: c.Network, Environment: ledger.EnvironmentFor(c.Production)}
}
