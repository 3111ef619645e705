package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log            LogConfig                 `mapstructure:"log"`
	HTTP           HTTPConfig                `mapstructure:"http"`
	Broker         BrokerConfig              `mapstructure:"broker"`
	Kafka          KafkaConfig               `mapstructure:"kafka"`
	NATS           NATSConfig                `mapstructure:"nats"`
	SchemaRegistry SchemaRegistryConfig      `mapstructure:"schema_registry"`
	Redis          RedisConfig               `mapstructure:"redis"`
	RateLimit      RateLimitConfig           `mapstructure:"rate_limit"`
	Auth           AuthConfig                `mapstructure:"auth"`
	MySQL          DatabaseConfig            `mapstructure:"mysql"`
	ClickHouse     ClickHouseConfig          `mapstructure:"clickhouse"`
	Deliveries     DeliveriesConfig          `mapstructure:"deliveries"`
	Endpoints      map[string]EndpointConfig `mapstructure:"endpoints"`

	// Dir is the directory of the loaded config file; relative schema paths resolve against it.
	Dir string `mapstructure:"-"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json | console
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	BodyLimit       string        `mapstructure:"body_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type BrokerConfig struct {
	Kind string `mapstructure:"kind"` // kafka | nats
}

type KafkaConfig struct {
	Brokers                []string      `mapstructure:"brokers"`
	ClientID               string        `mapstructure:"client_id"`
	RequiredAcks           string        `mapstructure:"required_acks"` // none | one | all
	MaxAttempts            int           `mapstructure:"max_attempts"`
	BatchSize              int           `mapstructure:"batch_size"`
	BatchTimeout           time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout           time.Duration `mapstructure:"write_timeout"`
	Compression            string        `mapstructure:"compression"` // gzip | snappy | lz4 | zstd
	Balancer               string        `mapstructure:"balancer"`    // murmur2 | hash | round_robin | least_bytes
	AllowAutoTopicCreation bool          `mapstructure:"allow_auto_topic_creation"`
	TLS                    TLSConfig     `mapstructure:"tls"`
	SASL                   SASLConfig    `mapstructure:"sasl"`
	Breaker                BreakerConfig `mapstructure:"breaker"`
}

type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACert             string `mapstructure:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert"`
	ClientKey          string `mapstructure:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type BreakerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	FailThreshold int  `mapstructure:"fail_threshold"`
	OpenForMs     int  `mapstructure:"open_for_ms"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	Stream        string        `mapstructure:"stream"`
	MaxPending    int           `mapstructure:"max_pending"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Token         string        `mapstructure:"token"`
}

type SchemaRegistryConfig struct {
	URL          string        `mapstructure:"url"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Timeout      time.Duration `mapstructure:"timeout"`
	AutoRegister bool          `mapstructure:"auto_register"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type RateLimitConfig struct {
	RPS    int           `mapstructure:"rps"`
	Window time.Duration `mapstructure:"window"`
}

type AuthConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	Source     string            `mapstructure:"source"` // static | mysql
	StaticKeys []StaticKeyConfig `mapstructure:"static_keys"`
}

type StaticKeyConfig struct {
	Key          string `mapstructure:"key"`
	Name         string `mapstructure:"name"`
	RateLimitRPS int    `mapstructure:"rate_limit_rps"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type ClickHouseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	DatabaseConfig `mapstructure:",squash"`
}

type DeliveriesConfig struct {
	Buffer    int           `mapstructure:"buffer"`
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// EndpointConfig is one destination as written in the config file.
type EndpointConfig struct {
	Topic    string        `mapstructure:"topic"`
	Blocking bool          `mapstructure:"blocking"`
	Strict   bool          `mapstructure:"strict"`
	Schema   *SchemaConfig `mapstructure:"schema"`
}

// SchemaConfig holds an Avro schema either as a file path or inline text.
type SchemaConfig struct {
	Path   string `mapstructure:"path"`
	Inline string `mapstructure:"inline"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (INGESTGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	// env override (INGESTGW_*), nested keys use "_" instead of "."
	v.SetEnvPrefix("INGESTGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if path != "" {
		cfg.Dir = filepath.Dir(path)
	}
	return cfg, nil
}
