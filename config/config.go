package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Events     EventsConfig     `mapstructure:"events"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// EncryptionConfig feeds the argon2id derivation of the AES-256 key that
// protects wallet secret material.
type EncryptionConfig struct {
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
}

// SettlementConfig configures the external settlement-network client.
type SettlementConfig struct {
	// Mode "immediate" settles transfers synchronously inside the ledger
	// (no external network); "network" submits to the gateway and leaves
	// resolution to the sweeper.
	Mode           string          `mapstructure:"mode"`
	GatewayURL     string          `mapstructure:"gateway_url"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	FallbackFees   map[string]string `mapstructure:"fallback_fees"` // kind -> fee
}

// Immediate reports whether transfers settle without the external network.
func (s SettlementConfig) Immediate() bool {
	return s.Mode == "immediate"
}

type OracleConfig struct {
	DefaultRate string        `mapstructure:"default_rate"` // 1 AC = X fiat
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	FeeCacheTTL time.Duration `mapstructure:"fee_cache_ttl"`
}

type SweeperConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	StalenessCeiling time.Duration `mapstructure:"staleness_ceiling"`
	BatchSize        int           `mapstructure:"batch_size"`
	Retention        time.Duration `mapstructure:"retention"` // 0 disables archival
}

type LedgerConfig struct {
	CommissionRate string `mapstructure:"commission_rate"`
}

type EventsConfig struct {
	DispatcherURL string `mapstructure:"dispatcher_url"` // empty disables outbound events
	SigningSecret string `mapstructure:"signing_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: AGL_ (AgroLedger).
// Nested keys use underscore: AGL_DATABASE_HOST, AGL_SETTLEMENT_MODE, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "agroledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("encryption.passphrase", "")
	v.SetDefault("encryption.salt", "")
	v.SetDefault("settlement.mode", "immediate")
	v.SetDefault("settlement.gateway_url", "")
	v.SetDefault("settlement.request_timeout", "15s")
	v.SetDefault("settlement.fallback_fees", map[string]string{
		"transfer": "0.002",
		"default":  "0.005",
	})
	v.SetDefault("oracle.default_rate", "1000.00")
	v.SetDefault("oracle.cache_ttl", "5m")
	v.SetDefault("oracle.fee_cache_ttl", "10m")
	v.SetDefault("sweeper.interval", "5m")
	v.SetDefault("sweeper.grace_period", "1m")
	v.SetDefault("sweeper.staleness_ceiling", "24h")
	v.SetDefault("sweeper.batch_size", 50)
	v.SetDefault("sweeper.retention", "2160h") // 90 days
	v.SetDefault("ledger.commission_rate", "0.05")
	v.SetDefault("events.dispatcher_url", "")
	v.SetDefault("events.signing_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: AGL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("AGL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
