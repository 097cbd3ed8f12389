package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	StaticPath     string        `mapstructure:"static_path"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	Secret         string        `mapstructure:"secret"`
	StoreURL       string        `mapstructure:"store_url"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PresenceWindow time.Duration `mapstructure:"presence_window"`
	TypingTTL      time.Duration `mapstructure:"typing_ttl"`
	RingTimeout    time.Duration `mapstructure:"ring_timeout"`
	EventRateLimit int           `mapstructure:"event_rate_limit"`
	EventRateEvery time.Duration `mapstructure:"event_rate_every"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("store_url", "http://localhost:8000")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("presence_window", "30s")
	v.SetDefault("typing_ttl", "3s")
	v.SetDefault("ring_timeout", "45s")
	v.SetDefault("event_rate_limit", 30)
	v.SetDefault("event_rate_every", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
