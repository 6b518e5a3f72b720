// Package config loads the relay configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full relay configuration.
type Config struct {
	Env string `mapstructure:"env"`

	Backend  BackendConfig  `mapstructure:"backend"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Store    StoreConfig    `mapstructure:"store"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Uploader UploaderConfig `mapstructure:"uploader"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
	Bucket     string `mapstructure:"bucket"`
}

// StoreConfig selects the identity store: "file" (YAML document at Path) or
// "redis".
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_address"`
	RedisDB   int    `mapstructure:"redis_db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CaptureConfig struct {
	FFmpegBin     string        `mapstructure:"ffmpeg_bin"`
	RTSPTransport string        `mapstructure:"rtsp_transport"`
	SnapshotPath  string        `mapstructure:"snapshot_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type UploaderConfig struct {
	Bin     string        `mapstructure:"bin"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ScheduleConfig struct {
	PairingPoll time.Duration `mapstructure:"pairing_poll"`
	ConfigPoll  time.Duration `mapstructure:"config_poll"`
	Health      time.Duration `mapstructure:"health"`
}

type HTTPConfig struct {
	Addr          string `mapstructure:"addr"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// IsDev reports whether the relay runs in development mode.
func (c *Config) IsDev() bool { return c.Env == "dev" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "prod")

	v.SetDefault("backend.url", "https://coop-app-backend.fly.dev")
	v.SetDefault("backend.timeout", 15*time.Second)

	v.SetDefault("supabase.bucket", "snapshots")

	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "coop-relay-identity.yaml")
	v.SetDefault("store.redis_address", "127.0.0.1:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key_prefix", "coop_relay")

	v.SetDefault("capture.ffmpeg_bin", "ffmpeg")
	v.SetDefault("capture.rtsp_transport", "tcp")
	v.SetDefault("capture.snapshot_path", "tmp/snapshot.jpg")
	v.SetDefault("capture.timeout", 30*time.Second)

	v.SetDefault("uploader.bin", "./coop-relay-uploader")
	v.SetDefault("uploader.timeout", 60*time.Second)

	v.SetDefault("schedule.pairing_poll", 5*time.Second)
	v.SetDefault("schedule.config_poll", 30*time.Second)
	v.SetDefault("schedule.health", 2*time.Minute)

	v.SetDefault("http.addr", "127.0.0.1:8787")
	v.SetDefault("http.max_concurrent", 32)
}

// Load reads path (optional; "" means defaults plus environment only) and
// applies environment overrides. Nested keys map to COOP_RELAY_<SECTION>_<KEY>;
// the uploader's own variables COOP_BACKEND_URL, SUPABASE_URL and
// SUPABASE_SERVICE_KEY are honoured as well.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COOP_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"env":                  "ENV",
		"backend.url":          "COOP_BACKEND_URL",
		"supabase.url":         "SUPABASE_URL",
		"supabase.service_key": "SUPABASE_SERVICE_KEY",
	} {
		if err := v.BindEnv(key, "COOP_RELAY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config '%s': %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url: invalid %q", c.Backend.URL))
	}
	switch c.Store.Driver {
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path: required for file driver"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_address: required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown %q (want file|redis)", c.Store.Driver))
	}
	if c.Capture.SnapshotPath == "" {
		errs = append(errs, errors.New("capture.snapshot_path: required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr: required"))
	}
	return errors.Join(errs...)
}
