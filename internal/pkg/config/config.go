package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses "250ms"/"5s" style values from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Service struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

type HTTP struct {
	Addr                  string `yaml:"addr"`
	RequireIdempotencyKey bool   `yaml:"require_idempotency_key"`
}

type Inventory struct {
	BaseURL        string   `yaml:"base_url"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	RequestTimeout Duration `yaml:"request_timeout"`
	MaxAttempts    int      `yaml:"max_attempts"`
	BackoffBase    Duration `yaml:"backoff_base"`
	BackoffMax     Duration `yaml:"backoff_max"`
}

type Payment struct {
	SuccessRatio float64 `yaml:"success_ratio"`
	// ForcedOutcome pins the simulator: "approved", "declined" or empty.
	ForcedOutcome string `yaml:"forced_outcome"`
}

type Store struct {
	// Driver selects the order store: "memory" or "mysql".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Ledger struct {
	// Backend selects the idempotency ledger: "memory", "redis" or "mysql".
	// "mysql" shares the store DSN.
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Tracing struct {
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Config struct {
	Service   Service   `yaml:"service"`
	HTTP      HTTP      `yaml:"http"`
	Inventory Inventory `yaml:"inventory"`
	Payment   Payment   `yaml:"payment"`
	Store     Store     `yaml:"store"`
	Ledger    Ledger    `yaml:"ledger"`
	Kafka     Kafka     `yaml:"kafka"`
	Tracing   Tracing   `yaml:"tracing"`
	Log       Log       `yaml:"log"`
	Currency  string    `yaml:"currency"`
}

func defaults() Config {
	return Config{
		Service:  Service{Name: "checkout", Env: "dev"},
		HTTP:     HTTP{Addr: ":8080"},
		Payment:  Payment{SuccessRatio: 0.9},
		Store:    Store{Driver: "memory"},
		Ledger:   Ledger{Backend: "memory"},
		Log:      Log{Level: "info"},
		Currency: "USD",
	}
}

// Load reads the YAML file at path (skipped when empty or missing) and then
// applies CHECKOUT_* environment overrides on top.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// run on defaults + env
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Inventory.BaseURL == "" {
		return fmt.Errorf("config: inventory.base_url is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Ledger.Backend {
	case "memory":
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("config: ledger.redis_addr is required for the redis backend")
		}
	case "mysql":
		if c.Store.Driver != "mysql" {
			return fmt.Errorf("config: the mysql ledger backend requires the mysql store driver")
		}
	default:
		return fmt.Errorf("config: unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Payment.SuccessRatio < 0 || c.Payment.SuccessRatio > 1 {
		return fmt.Errorf("config: payment.success_ratio must be within [0,1]")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka.topic is required when brokers are set")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Service.Name, "CHECKOUT_SERVICE_NAME")
	setString(&cfg.Service.Env, "CHECKOUT_ENV")
	setString(&cfg.HTTP.Addr, "CHECKOUT_HTTP_ADDR")
	setBool(&cfg.HTTP.RequireIdempotencyKey, "CHECKOUT_REQUIRE_IDEMPOTENCY_KEY")
	setString(&cfg.Inventory.BaseURL, "CHECKOUT_INVENTORY_BASE_URL")
	setDuration(&cfg.Inventory.ConnectTimeout, "CHECKOUT_INVENTORY_CONNECT_TIMEOUT")
	setDuration(&cfg.Inventory.RequestTimeout, "CHECKOUT_INVENTORY_REQUEST_TIMEOUT")
	setInt(&cfg.Inventory.MaxAttempts, "CHECKOUT_INVENTORY_MAX_ATTEMPTS")
	setDuration(&cfg.Inventory.BackoffBase, "CHECKOUT_INVENTORY_BACKOFF_BASE")
	setDuration(&cfg.Inventory.BackoffMax, "CHECKOUT_INVENTORY_BACKOFF_MAX")
	setFloat(&cfg.Payment.SuccessRatio, "CHECKOUT_PAYMENT_SUCCESS_RATIO")
	setString(&cfg.Payment.ForcedOutcome, "CHECKOUT_PAYMENT_FORCED_OUTCOME")
	setString(&cfg.Store.Driver, "CHECKOUT_STORE_DRIVER")
	setString(&cfg.Store.DSN, "CHECKOUT_STORE_DSN")
	setString(&cfg.Ledger.Backend, "CHECKOUT_LEDGER_BACKEND")
	setString(&cfg.Ledger.RedisAddr, "CHECKOUT_LEDGER_REDIS_ADDR")
	setStrings(&cfg.Kafka.Brokers, "CHECKOUT_KAFKA_BROKERS")
	setString(&cfg.Kafka.Topic, "CHECKOUT_KAFKA_TOPIC")
	setString(&cfg.Tracing.JaegerEndpoint, "CHECKOUT_JAEGER_ENDPOINT")
	setString(&cfg.Log.Level, "CHECKOUT_LOG_LEVEL")
	setString(&cfg.Currency, "CHECKOUT_CURRENCY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = Duration(parsed)
		}
	}
}
