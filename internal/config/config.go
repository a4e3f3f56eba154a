package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type TurnConfig struct {
	Secret   string        `mapstructure:"secret"`
	Realm    string        `mapstructure:"realm"`
	Username string        `mapstructure:"username"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	RoomCapacity int           `mapstructure:"room_capacity"`
	ChannelCount int           `mapstructure:"channel_count"`
	ICEDebounce  time.Duration `mapstructure:"ice_debounce"`
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinWindow   time.Duration `mapstructure:"join_window"`
	StunURLs     []string      `mapstructure:"stun_urls"`
	Turn         TurnConfig    `mapstructure:"turn"`
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
	v.SetDefault("room_capacity", 10)
	v.SetDefault("channel_count", 9)
	v.SetDefault("ice_debounce", "3s")
	v.SetDefault("join_limit", 10)
	v.SetDefault("join_window", "10s")
	v.SetDefault("stun_urls", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})
	v.SetDefault("turn.ttl", "24h")
	v.SetDefault("turn.username", "webrtc")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
