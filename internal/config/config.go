package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CUSTODIA"

type HTTPConfig struct {
	Addr          string        `mapstructure:"addr"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	RateBurst     int           `mapstructure:"rate_burst"`
	RatePerSecond int           `mapstructure:"rate_per_second"`

	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For is
	// honoured. Empty means the socket peer is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	Secret            string        `mapstructure:"secret"`
	Issuer            string        `mapstructure:"issuer"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	CookieName        string        `mapstructure:"cookie_name"`
	CookieSecure      bool          `mapstructure:"cookie_secure"`
	BootstrapEmail    string        `mapstructure:"bootstrap_email"`
	BootstrapPassword string        `mapstructure:"bootstrap_password"`
}

type LoginConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	RedisAddr   string        `mapstructure:"redis_addr"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

type AppConfig struct {
	ServiceName string         `mapstructure:"service_name"`
	Env         string         `mapstructure:"env"`
	LogLevel    string         `mapstructure:"log_level"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	GRPC        GRPCConfig     `mapstructure:"grpc"`
	Database    DatabaseConfig `mapstructure:"database"`
	Auth        AuthConfig     `mapstructure:"auth"`
	Login       LoginConfig    `mapstructure:"login"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
}

// Load reads defaults, then the optional YAML file at path, then CUSTODIA_*
// environment variables (CUSTODIA_AUTH_SECRET overrides auth.secret).
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.HTTP.TrustedProxies = splitList(cfg.HTTP.TrustedProxies)
	return &cfg, nil
}

// Validate rejects configurations the API must not start with.
func (c *AppConfig) Validate() error {
	if len(c.Auth.Secret) < 32 {
		return errors.New("auth.secret must be set and at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Login.MaxAttempts <= 0 || c.Login.Window <= 0 {
		return errors.New("login.max_attempts and login.window must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		return errors.New("kafka.audit_topic is required when brokers are set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "custodia-backoffice")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.max_body_bytes", 64<<10)
	v.SetDefault("http.rate_burst", 40)
	v.SetDefault("http.rate_per_second", 20)
	v.SetDefault("http.trusted_proxies", []string{})
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "custodia-backoffice")
	v.SetDefault("auth.token_ttl", "8h")
	v.SetDefault("auth.cookie_name", "custodia_session")
	v.SetDefault("auth.cookie_secure", true)
	v.SetDefault("auth.bootstrap_email", "")
	v.SetDefault("auth.bootstrap_password", "")
	v.SetDefault("login.max_attempts", 10)
	v.SetDefault("login.window", "15m")
	v.SetDefault("login.redis_addr", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.audit_topic", "backoffice.audit")
}

// splitList accepts both YAML lists and a single comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
