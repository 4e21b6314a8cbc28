// Package daemon wires StarkPass together: configuration, storage, the
// wallet session, the ledger strategy, the profile aggregator and the HTTP
// server.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/starkpass/starkpass/internal/app/ledger"
	"github.com/starkpass/starkpass/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────
// ~/.starkpass/config.toml is decoded over DefaultConfig(); STARKPASS_*
// environment variables override both.

// Config is the full daemon configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Wallet  WalletConfig  `toml:"wallet"`
	Storage StorageConfig `toml:"storage"`
	Content ContentConfig `toml:"content"`
	Log     LogConfig     `toml:"log"`
	Tracing TracingConfig `toml:"tracing"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host    string `toml:"host" env:"STARKPASS_API_HOST"`
	Port    int    `toml:"port" env:"STARKPASS_API_PORT"`
	Metrics bool   `toml:"metrics" env:"STARKPASS_API_METRICS"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LedgerConfig selects and configures the ledger strategy.
type LedgerConfig struct {
	Mode               string        `toml:"mode" env:"STARKPASS_LEDGER_MODE"`
	RPCURL             string        `toml:"rpc_url" env:"STARKPASS_LEDGER_RPC_URL"`
	BadgeContract      string        `toml:"badge_contract" env:"STARKPASS_LEDGER_BADGE_CONTRACT"`
	CredentialContract string        `toml:"credential_contract" env:"STARKPASS_LEDGER_CREDENTIAL_CONTRACT"`
	ChainID            int64         `toml:"chain_id" env:"STARKPASS_LEDGER_CHAIN_ID"`
	KeyFile            string        `toml:"key_file" env:"STARKPASS_LEDGER_KEY_FILE"`
	Confirmations      uint64        `toml:"confirmations" env:"STARKPASS_LEDGER_CONFIRMATIONS"`
	PollInterval       time.Duration `toml:"poll_interval" env:"STARKPASS_LEDGER_POLL_INTERVAL"`
	MintTimeout        time.Duration `toml:"mint_timeout" env:"STARKPASS_LEDGER_MINT_TIMEOUT"`
	RatePerSecond      float64       `toml:"rate_per_second" env:"STARKPASS_LEDGER_RATE_PER_SECOND"`
	MockReadLatency    time.Duration `toml:"mock_read_latency" env:"STARKPASS_LEDGER_MOCK_READ_LATENCY"`
	MockMintLatency    time.Duration `toml:"mock_mint_latency" env:"STARKPASS_LEDGER_MOCK_MINT_LATENCY"`
}

// WalletConfig configures the installable connectors.
type WalletConfig struct {
	// KeyFile enables the key file connector when set.
	KeyFile string `toml:"key_file" env:"STARKPASS_WALLET_KEY_FILE"`
	Network string `toml:"network" env:"STARKPASS_WALLET_NETWORK"`
}

// StorageConfig locates the sqlite database.
type StorageConfig struct {
	Dir string `toml:"dir" env:"STARKPASS_STORAGE_DIR"`
}

// ContentConfig overrides the embedded quest and campaign catalog.
type ContentConfig struct {
	File string `toml:"file" env:"STARKPASS_CONTENT_FILE"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level" env:"STARKPASS_LOG_LEVEL"`
}

// TracingConfig configures the in-process span buffer.
type TracingConfig struct {
	Enabled  bool `toml:"enabled" env:"STARKPASS_TRACING_ENABLED"`
	MaxSpans int  `toml:"max_spans" env:"STARKPASS_TRACING_MAX_SPANS"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	mock := ledger.DefaultMockConfig()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Ledger: LedgerConfig{
			Mode:            string(ledger.ModeMock),
			Confirmations:   1,
			PollInterval:    2 * time.Second,
			MintTimeout:     ledger.DefaultMintTimeout,
			RatePerSecond:   2,
			MockReadLatency: mock.ReadLatency,
			MockMintLatency: mock.MintLatency,
		},
		Wallet: WalletConfig{
			Network: domain.NetworkSepolia,
		},
		Storage: StorageConfig{
			Dir: Home(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Enabled:  true,
			MaxSpans: 1_000,
		},
	}
}

// Home returns the StarkPass home directory: $STARKPASS_HOME or ~/.starkpass.
func Home() string {
	if h := os.Getenv("STARKPASS_HOME"); h != "" {
		return h
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".starkpass")
	}
	return ".starkpass"
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadConfig reads path (a missing file is fine), then applies environment
// overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	mode, err := ledger.ParseMode(c.Ledger.Mode)
	if err != nil {
		return err
	}
	if mode == ledger.ModeRemote {
		if c.Ledger.RPCURL == "" {
			return errors.New("ledger.rpc_url is required in remote mode")
		}
		if c.Ledger.BadgeContract == "" || c.Ledger.CredentialContract == "" {
			return errors.New("ledger.badge_contract and ledger.credential_contract are required in remote mode")
		}
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Storage.Dir == "" {
		return errors.New("storage.dir is required")
	}
	return nil
}

// WriteTOML encodes c as TOML.
func (c Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
