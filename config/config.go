// autoeditor/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Client
	APIBase         string        `mapstructure:"API_BASE"`
	HTTPTimeout     time.Duration `mapstructure:"HTTP_TIMEOUT"`
	PollInterval    time.Duration `mapstructure:"POLL_INTERVAL"`
	PollBackoff     time.Duration `mapstructure:"POLL_BACKOFF"`
	MinStepDuration time.Duration `mapstructure:"MIN_STEP_DURATION"`
	MaxVideoSize    int64         `mapstructure:"MAX_VIDEO_SIZE"`
	MaxScriptSize   int64         `mapstructure:"MAX_SCRIPT_SIZE"`
	MaxScriptText   int           `mapstructure:"MAX_SCRIPT_TEXT"`
	RequestRate     float64       `mapstructure:"REQUEST_RATE"`
	RequestBurst    int           `mapstructure:"REQUEST_BURST"`
	SessionFile     string        `mapstructure:"SESSION_FILE"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogFormat       string        `mapstructure:"LOG_FORMAT"`
	Debug           bool          `mapstructure:"DEBUG"`

	// Local job API emulator
	Port             string        `mapstructure:"PORT"`
	BaseURL          string        `mapstructure:"BASE"`
	AuthEnable       bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey          string        `mapstructure:"AUTH_KEY"`
	MaxConcurrency   int           `mapstructure:"MAX_CONCURRENCY"`
	StepDuration     time.Duration `mapstructure:"STEP_DURATION"`
	OutputLifetime   time.Duration `mapstructure:"OUTPUT_LIFETIME"`
	FFBin            string        `mapstructure:"FF_BIN"`
	FFArgs           string        `mapstructure:"FF_ARGS"`
	FFTimeout        time.Duration `mapstructure:"FF_TIMEOUT"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	DataDir          string        `mapstructure:"DATA_DIR"`
}

// stringToDurationHookFunc parses Go duration strings ("2s", "1h23m").
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable size strings ("500MB") into int64 bytes.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let the default decoder try.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "autoeditor_session.toml")
	}
	return filepath.Join(dir, "autoeditor", "session.toml")
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	vp := viper.New()

	vp.SetDefault("API_BASE", "http://localhost:8080")
	vp.SetDefault("HTTP_TIMEOUT", "30m")
	vp.SetDefault("POLL_INTERVAL", "2s")
	vp.SetDefault("POLL_BACKOFF", "5s")
	vp.SetDefault("MIN_STEP_DURATION", "2s")
	vp.SetDefault("MAX_VIDEO_SIZE", "500MB")
	vp.SetDefault("MAX_SCRIPT_SIZE", "10MB")
	vp.SetDefault("MAX_SCRIPT_TEXT", 10000)
	vp.SetDefault("REQUEST_RATE", 5.0)
	vp.SetDefault("REQUEST_BURST", 2)
	vp.SetDefault("SESSION_FILE", defaultSessionFile())
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "text")
	vp.SetDefault("DEBUG", false)

	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("MAX_CONCURRENCY", 1)
	vp.SetDefault("STEP_DURATION", "3s")
	vp.SetDefault("OUTPUT_LIFETIME", "1h")
	vp.SetDefault("FF_BIN", "")
	vp.SetDefault("FF_ARGS", "-i ${INPUT_MEDIA} -c copy")
	vp.SetDefault("FF_TIMEOUT", "12m")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "0B")
	vp.SetDefault("THROTTLE_FREEDISK", "0B")
	vp.SetDefault("DATA_DIR", "")

	if path != "" {
		vp.SetConfigFile(path)
	} else {
		vp.SetConfigName("autoeditor_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("$HOME/.config/autoeditor/")
		vp.AddConfigPath("/etc/autoeditor/")
	}

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("AUTOEDITOR")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", cfg.MaxConcurrency)
	}
	cfg.APIBase = strings.TrimSuffix(cfg.APIBase, "/")
	return &cfg, nil
}
