// Package config loads process configuration from the environment
// using viper.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppCfg struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

type MongoCfg struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisCfg struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	URI  string `mapstructure:"uri"`
}

type JWTCfg struct {
	Secret              string `mapstructure:"secret"`
	SigningMethod       string `mapstructure:"signing_method"`
	ExpiresIn           string `mapstructure:"expires_in"`
	RefreshExpiresIn    string `mapstructure:"refresh_expires_in"`
	AccessCookieName    string `mapstructure:"access_cookie_name"`
}

type ChatCfg struct {
	PerPage        int `mapstructure:"per_page"`
	HistoryPerPage int `mapstructure:"history_per_page"`
	MaxPins        int `mapstructure:"max_pins"`
}

type TLSCfg struct {
	KeyFile  string `mapstructure:"key_file"`
	CertFile string `mapstructure:"cert_file"`
}

type KafkaCfg struct {
	Brokers string `mapstructure:"brokers"` // comma-separated host:port list
	Topic   string `mapstructure:"topic"`
}

type Config struct {
	App      AppCfg   `mapstructure:"app"`
	Mongo    MongoCfg `mapstructure:"mongo"`
	Redis    RedisCfg `mapstructure:"redis"`
	JWT      JWTCfg   `mapstructure:"jwt"`
	Chat     ChatCfg  `mapstructure:"chat"`
	TLS      TLSCfg   `mapstructure:"tls"`
	Kafka    KafkaCfg `mapstructure:"kafka"`
	AuthSalt string   `mapstructure:"auth_salt"`

	// Derived.
	IdleTimeout time.Duration
}

// Load reads configuration from the environment, binding the
// APP_HOST/APP_PORT/MONGO_URI/... variables.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.BindEnv("app.host", "APP_HOST")
	v.BindEnv("app.port", "APP_PORT")
	v.BindEnv("mongo.uri", "MONGO_URI")
	v.BindEnv("mongo.database", "MONGO_DATABASE")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.uri", "REDIS_URI")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("jwt.signing_method", "JWT_SIGNING_METHOD")
	v.BindEnv("jwt.expires_in", "JWT_EXPIRES_IN")
	v.BindEnv("jwt.refresh_expires_in", "JWT_REFRESH_EXPIRES_IN")
	v.BindEnv("jwt.access_cookie_name", "APP_ACCESS_COOKIE")
	v.BindEnv("auth_salt", "AUTH_SALT")
	v.BindEnv("chat.per_page", "CHAT_PER_PAGE")
	v.BindEnv("chat.history_per_page", "CHAT_HISTORY")
	v.BindEnv("chat.max_pins", "CHAT_MAX_PINS")
	v.BindEnv("tls.key_file", "TLS_KEY_FILE")
	v.BindEnv("tls.cert_file", "TLS_CERT_FILE")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_DELIVERY_TOPIC")

	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", "8080")
	v.SetDefault("mongo.database", "cipherline")
	v.SetDefault("jwt.signing_method", "HS256")
	v.SetDefault("jwt.access_cookie_name", "x-access-token")
	v.SetDefault("chat.per_page", 10)
	v.SetDefault("chat.history_per_page", 20)
	v.SetDefault("chat.max_pins", 5)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat.delivery")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.IdleTimeout = 960 * time.Second
	return &cfg, nil
}
