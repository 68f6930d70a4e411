package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

type ICE struct {
	STUNURLs       []string `mapstructure:"stun_urls"`
	TURNURLs       []string `mapstructure:"turn_urls"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
}

// Servers returns the ICE server list handed to clients on join.
func (i ICE) Servers() []protocol.ICEServer {
	out := make([]protocol.ICEServer, 0, 2)
	if len(i.STUNURLs) > 0 {
		out = append(out, protocol.ICEServer{URLs: i.STUNURLs})
	}
	if len(i.TURNURLs) > 0 {
		out = append(out, protocol.ICEServer{
			URLs:       i.TURNURLs,
			Username:   i.TURNUsername,
			Credential: i.TURNCredential,
		})
	}
	return out
}

type Admission struct {
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	// RoomTTL is how long admission state of an empty room is kept.
	RoomTTL      time.Duration `mapstructure:"room_ttl"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	ICE        ICE           `mapstructure:"ice"`
	Admission  Admission     `mapstructure:"admission"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "nexmeet-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.turn_urls", []string{})
	v.SetDefault("admission.wait_timeout", "25s")
	v.SetDefault("admission.rate_limit", 5)
	v.SetDefault("admission.rate_interval", "1m")
	v.SetDefault("admission.room_ttl", "6h")
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
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

	v.SetEnvPrefix("NEXMEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PingPeriod >= cfg.PongWait {
		return nil, fmt.Errorf("ping_period (%s) must be less than pong_wait (%s)", cfg.PingPeriod, cfg.PongWait)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
