package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile         = "RELAY_CONFIG_FILE"
	defaultConfigFileName = "relay.yaml"
)

const (
	defaultHTTPAddr          = ":8080"
	defaultDBDriver          = "sqlite"
	defaultDBDSN             = "relay-gateway.db"
	defaultGatewayID         = "relay-core"
	defaultLeaseDuration     = 60 * time.Second
	defaultHeartbeatInterval = 20 * time.Second
	defaultSweepInterval     = 30 * time.Second
	defaultCooldownBase      = 30 * time.Second
	defaultCooldownCap       = 30 * time.Minute
	defaultRetryCeiling      = 3
	defaultQueueSize         = 256
)

// CatalogEntry declares one dispatchable (provider, model) pair.
type CatalogEntry struct {
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	Capabilities []string `yaml:"capabilities"`
	Priority     int      `yaml:"priority"`
}

type Config struct {
	HTTPAddr          string        `env:"RELAY_HTTP_ADDR"`
	DBDriver          string        `env:"RELAY_DB_DRIVER"`
	DBDSN             string        `env:"RELAY_DB_DSN"`
	GatewayID         string        `env:"RELAY_GATEWAY_ID"`
	MasterKey         string        `env:"RELAY_MASTER_KEY"`
	LeaseDuration     time.Duration `env:"RELAY_LEASE_DURATION"`
	HeartbeatInterval time.Duration `env:"RELAY_HEARTBEAT_INTERVAL"`
	SweepInterval     time.Duration `env:"RELAY_SWEEP_INTERVAL"`
	CooldownBase      time.Duration `env:"RELAY_COOLDOWN_BASE"`
	CooldownCap       time.Duration `env:"RELAY_COOLDOWN_CAP"`
	RetryCeiling      int           `env:"RELAY_RETRY_CEILING"`
	QueueSize         int           `env:"RELAY_QUEUE_SIZE"`
	ProviderAllowlist []string      `env:"RELAY_PROVIDER_ALLOWLIST"`
	WebhookURLs       []string      `env:"RELAY_TELEMETRY_WEBHOOK_URLS"`
	DefaultModel      string        `env:"RELAY_DEFAULT_MODEL"`
	Catalog           []CatalogEntry
}

type fileConfig struct {
	HTTPAddr          string         `yaml:"http_addr"`
	DBDriver          string         `yaml:"db_driver"`
	DBDSN             string         `yaml:"db_dsn"`
	GatewayID         string         `yaml:"gateway_id"`
	MasterKey         string         `yaml:"master_key"`
	LeaseDuration     string         `yaml:"lease_duration"`
	HeartbeatInterval string         `yaml:"heartbeat_interval"`
	SweepInterval     string         `yaml:"sweep_interval"`
	CooldownBase      string         `yaml:"cooldown_base"`
	CooldownCap       string         `yaml:"cooldown_cap"`
	RetryCeiling      *int           `yaml:"retry_ceiling"`
	QueueSize         *int           `yaml:"queue_size"`
	ProviderAllowlist []string       `yaml:"provider_allowlist"`
	WebhookURLs       []string       `yaml:"telemetry_webhook_urls"`
	DefaultModel      string         `yaml:"default_model"`
	Catalog           []CatalogEntry `yaml:"model_catalog"`
}

// Load builds the config from defaults, then the YAML file (if present),
// then environment overrides.
func Load() (Config, error) {
	cfg := defaults()

	path := strings.TrimSpace(os.Getenv(EnvConfigFile))
	if path == "" {
		path = defaultConfigFileName
	}
	if err := applyFile(&cfg, path, path != defaultConfigFileName); err != nil {
		return Config{}, err
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		HTTPAddr:          defaultHTTPAddr,
		DBDriver:          defaultDBDriver,
		DBDSN:             defaultDBDSN,
		GatewayID:         defaultGatewayID,
		LeaseDuration:     defaultLeaseDuration,
		HeartbeatInterval: defaultHeartbeatInterval,
		SweepInterval:     defaultSweepInterval,
		CooldownBase:      defaultCooldownBase,
		CooldownCap:       defaultCooldownCap,
		RetryCeiling:      defaultRetryCeiling,
		QueueSize:         defaultQueueSize,
		ProviderAllowlist: []string{"anthropic", "openai", "google"},
	}
}

func applyFile(cfg *Config, path string, required bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	applyString(&cfg.HTTPAddr, fc.HTTPAddr)
	applyString(&cfg.DBDriver, fc.DBDriver)
	applyString(&cfg.DBDSN, fc.DBDSN)
	applyString(&cfg.GatewayID, fc.GatewayID)
	applyString(&cfg.MasterKey, fc.MasterKey)
	applyString(&cfg.DefaultModel, fc.DefaultModel)
	if err := applyDuration(&cfg.LeaseDuration, fc.LeaseDuration, "lease_duration"); err != nil {
		return err
	}
	if err := applyDuration(&cfg.HeartbeatInterval, fc.HeartbeatInterval, "heartbeat_interval"); err != nil {
		return err
	}
	if err := applyDuration(&cfg.SweepInterval, fc.SweepInterval, "sweep_interval"); err != nil {
		return err
	}
	if err := applyDuration(&cfg.CooldownBase, fc.CooldownBase, "cooldown_base"); err != nil {
		return err
	}
	if err := applyDuration(&cfg.CooldownCap, fc.CooldownCap, "cooldown_cap"); err != nil {
		return err
	}
	if fc.RetryCeiling != nil {
		cfg.RetryCeiling = *fc.RetryCeiling
	}
	if fc.QueueSize != nil {
		cfg.QueueSize = *fc.QueueSize
	}
	if len(fc.ProviderAllowlist) > 0 {
		cfg.ProviderAllowlist = fc.ProviderAllowlist
	}
	if len(fc.WebhookURLs) > 0 {
		cfg.WebhookURLs = fc.WebhookURLs
	}
	if len(fc.Catalog) > 0 {
		cfg.Catalog = fc.Catalog
	}
	return nil
}

func applyString(dst *string, value string) {
	if strings.TrimSpace(value) != "" {
		*dst = strings.TrimSpace(value)
	}
}

func applyDuration(dst *time.Duration, value, field string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config field %s: %w", field, err)
	}
	*dst = parsed
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("db_driver must be sqlite or postgres")
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("db_dsn must not be empty")
	}
	if strings.TrimSpace(c.GatewayID) == "" {
		return fmt.Errorf("gateway_id must not be empty")
	}
	if strings.TrimSpace(c.MasterKey) == "" {
		return fmt.Errorf("master_key must not be empty")
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("lease_duration must be > 0")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseDuration {
		return fmt.Errorf("heartbeat_interval must be > 0 and shorter than lease_duration")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be > 0")
	}
	if c.CooldownBase <= 0 || c.CooldownCap < c.CooldownBase {
		return fmt.Errorf("cooldown_base must be > 0 and cooldown_cap >= cooldown_base")
	}
	if c.RetryCeiling < 0 {
		return fmt.Errorf("retry_ceiling must be >= 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0")
	}
	if len(c.ProviderAllowlist) == 0 {
		return fmt.Errorf("provider_allowlist must not be empty")
	}
	for _, entry := range c.Catalog {
		if strings.TrimSpace(entry.Provider) == "" || strings.TrimSpace(entry.Model) == "" {
			return fmt.Errorf("model_catalog entries require provider and model")
		}
	}
	return nil
}
