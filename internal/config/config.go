// Package config loads the keeper configuration from an optional YAML file
// and KEEPER_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key: ledger.rpc_url -> KEEPER_LEDGER_RPC_URL.
const EnvPrefix = "KEEPER"

var (
	addressPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	privateKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
	subjectPattern    = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+)*$`)
)

// Config represents the keeper configuration. Treat it as immutable after Load.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Price   PriceConfig   `mapstructure:"price"`
	Keeper  KeeperConfig  `mapstructure:"keeper"`
	Storage StorageConfig `mapstructure:"storage"`
	Events  EventsConfig  `mapstructure:"events"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := c.Price.Validate(); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	if err := c.Keeper.Validate(); err != nil {
		return fmt.Errorf("keeper: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return c.Events.Validate()
}

// AppConfig holds process-level settings.
type AppConfig struct {
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	LogFile         string        `mapstructure:"log_file"`
	HTTPAddr        string        `mapstructure:"http_addr"` // empty disables the ops server
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Validate validates the application configuration.
func (c *AppConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
		validation.Field(&c.LogFormat, validation.In("json", "console")),
		validation.Field(&c.ShutdownTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// LedgerConfig holds the ledger contract and signing settings.
type LedgerConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	WSURL               string        `mapstructure:"ws_url"` // optional; speeds up confirmations
	ContractAddress     string        `mapstructure:"contract_address"`
	ChainID             int64         `mapstructure:"chain_id"` // 0 reads eth_chainId
	PrivateKey          string        `mapstructure:"private_key"`
	GasLimit            uint64        `mapstructure:"gas_limit"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout      time.Duration `mapstructure:"confirm_timeout"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RPCURL, validation.Required, validation.By(urlWithScheme("http", "https"))),
		validation.Field(&c.WSURL, validation.By(urlWithScheme("ws", "wss"))),
		validation.Field(&c.ContractAddress, validation.Required, validation.Match(addressPattern)),
		validation.Field(&c.ChainID, validation.Min(int64(0))),
		validation.Field(&c.PrivateKey, validation.Match(privateKeyPattern).Error("must be 32 hex-encoded bytes")),
		validation.Field(&c.GasLimit, validation.Required, validation.Min(uint64(21000))),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ConfirmTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ReceiptPollInterval, validation.Required, validation.Min(100*time.Millisecond)),
	)
}

// PriceConfig holds the price oracle settings.
type PriceConfig struct {
	RPCURL        string `mapstructure:"rpc_url"` // defaults to ledger.rpc_url
	OracleAddress string `mapstructure:"oracle_address"`
}

// Validate validates the price configuration.
func (c *PriceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RPCURL, validation.Required, validation.By(urlWithScheme("http", "https"))),
		validation.Field(&c.OracleAddress, validation.Required, validation.Match(addressPattern)),
	)
}

// KeeperConfig holds the cycle settings.
type KeeperConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	ScanBatchSize    int           `mapstructure:"scan_batch_size"`
	ProcessBatchSize int           `mapstructure:"process_batch_size"` // repay-batch chunk size
	MinHealthFactor  int64         `mapstructure:"min_health_factor"`  // percent
	PacingDelay      time.Duration `mapstructure:"pacing_delay"`       // negative disables pacing
	DryRun           bool          `mapstructure:"dry_run"`
}

// Validate validates the keeper configuration.
func (c *KeeperConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ScanBatchSize, validation.Required, validation.Min(1), validation.Max(1000)),
		validation.Field(&c.ProcessBatchSize, validation.Required, validation.Min(1), validation.Max(500)),
		validation.Field(&c.MinHealthFactor, validation.Required, validation.Min(int64(1))),
	)
}

// StorageConfig selects the audit stores. Empty DSNs select in-memory stores.
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PostgresDSN, validation.By(urlWithScheme("postgres", "postgresql"))),
		validation.Field(&c.ClickhouseDSN, validation.By(urlWithScheme("clickhouse", "clickhouses"))),
	)
}

// EventsConfig holds the NATS settings. An empty URL disables publishing.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.NATSURL, validation.By(urlWithScheme("nats", "tls"))),
		validation.Field(&c.SubjectPrefix, validation.Required, validation.Match(subjectPattern)),
	)
}

// setDefaults registers every key so AutomaticEnv can bind it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.log_file", "")
	v.SetDefault("app.http_addr", ":9090")
	v.SetDefault("app.shutdown_timeout", 5*time.Minute)

	v.SetDefault("ledger.rpc_url", "")
	v.SetDefault("ledger.ws_url", "")
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.chain_id", 0)
	v.SetDefault("ledger.private_key", "")
	v.SetDefault("ledger.gas_limit", 500_000)
	v.SetDefault("ledger.max_retries", 0)
	v.SetDefault("ledger.request_timeout", 30*time.Second)
	v.SetDefault("ledger.confirm_timeout", 3*time.Minute)
	v.SetDefault("ledger.receipt_poll_interval", 2*time.Second)

	v.SetDefault("price.rpc_url", "")
	v.SetDefault("price.oracle_address", "")

	v.SetDefault("keeper.interval", 30*time.Minute)
	v.SetDefault("keeper.scan_batch_size", 100)
	v.SetDefault("keeper.process_batch_size", 20)
	v.SetDefault("keeper.min_health_factor", 150)
	v.SetDefault("keeper.pacing_delay", 500*time.Millisecond)
	v.SetDefault("keeper.dry_run", false)

	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "vault_keeper")
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Price.RPCURL == "" {
		cfg.Price.RPCURL = cfg.Ledger.RPCURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// CanSign reports whether a signing key is configured.
func (c *Config) CanSign() bool {
	return c.Ledger.PrivateKey != ""
}

func urlWithScheme(schemes ...string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		u, err := url.Parse(s)
		if err != nil {
			return errors.New("must be a valid URL")
		}
		for _, scheme := range schemes {
			if u.Scheme == scheme && u.Host != "" {
				return nil
			}
		}
		return fmt.Errorf("must be a %s URL", strings.Join(schemes, " or "))
	}
}
