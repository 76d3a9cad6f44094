// Package config loads runtime settings from defaults, an optional config
// file, environment variables, and bound command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TEXTDETECT"

type Config struct {
	Addr           string        `mapstructure:"addr"`
	ModelPath      string        `mapstructure:"model_path"`
	OrtLibPath     string        `mapstructure:"ort_lib_path"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	Environment    string        `mapstructure:"environment"`
}

// Load reads configuration. Precedence, lowest to highest: defaults,
// config.yaml in the working directory, TEXTDETECT_* environment variables
// (a .env file is honored when present), flags bound by the caller.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetDefault("addr", "127.0.0.1:8080")
	viper.SetDefault("model_path", "best_roboflow.onnx")
	viper.SetDefault("ort_lib_path", "")
	viper.SetDefault("fetch_timeout", 10*time.Second)
	viper.SetDefault("max_upload_bytes", int64(10<<20))
	viper.SetDefault("environment", "prod")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
