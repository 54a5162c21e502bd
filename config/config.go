// framepipe/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	FFBin            string        `mapstructure:"FF_BIN"`
	FFTimeout        time.Duration `mapstructure:"FF_TIMEOUT"`
	Port             string        `mapstructure:"PORT"`
	BaseURL          string        `mapstructure:"BASE"`
	FrameRoot        string        `mapstructure:"FRAME_ROOT"`
	SourceDir        string        `mapstructure:"SOURCE_DIR"`
	ClipDir          string        `mapstructure:"CLIP_DIR"`
	HWAccelPriority  []string      `mapstructure:"HW_ACCEL_PRIORITY"`
	DefaultFPS       int           `mapstructure:"DEFAULT_FPS"`
	MaxFPS           int           `mapstructure:"MAX_FPS"`
	StartGrace       time.Duration `mapstructure:"START_GRACE"`
	StopTimeout      time.Duration `mapstructure:"STOP_TIMEOUT"`
	ProbeTimeout     time.Duration `mapstructure:"PROBE_TIMEOUT"`
	ProbeCacheTTL    time.Duration `mapstructure:"PROBE_CACHE_TTL"`
	StaleAfter       time.Duration `mapstructure:"STALE_AFTER"`
	SweepSchedule    string        `mapstructure:"SWEEP_SCHEDULE"`
	SourceLifetime   time.Duration `mapstructure:"SOURCE_LIFETIME"`
	MaxInputSize     int64         `mapstructure:"MAX_INPUT_SIZE"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	DecoderLogLevel  string        `mapstructure:"DECODER_LOGLEVEL"`
	DecoderInputArgs string        `mapstructure:"DECODER_INPUT_ARGS"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	LogConsole       bool          `mapstructure:"LOG_CONSOLE"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to time.Duration.
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to int64s for byte sizes.
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

// SetDefaults registers every key with its default value on vp.
func SetDefaults(vp *viper.Viper) {
	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FF_TIMEOUT", "2m")
	vp.SetDefault("PORT", "8002")
	vp.SetDefault("BASE", "")
	vp.SetDefault("FRAME_ROOT", "/app/frames")
	vp.SetDefault("SOURCE_DIR", "/app/videos")
	vp.SetDefault("CLIP_DIR", "/app/clips")
	vp.SetDefault("HW_ACCEL_PRIORITY", "cuda,qsv,vaapi,none")
	vp.SetDefault("DEFAULT_FPS", 1)
	vp.SetDefault("MAX_FPS", 60)
	vp.SetDefault("START_GRACE", "2s")
	vp.SetDefault("STOP_TIMEOUT", "5s")
	vp.SetDefault("PROBE_TIMEOUT", "10s")
	vp.SetDefault("PROBE_CACHE_TTL", "1m")
	vp.SetDefault("STALE_AFTER", "5m")
	vp.SetDefault("SWEEP_SCHEDULE", "@every 10m")
	vp.SetDefault("SOURCE_LIFETIME", "1h")
	vp.SetDefault("MAX_INPUT_SIZE", "2GB")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "64MB")
	vp.SetDefault("THROTTLE_FREEDISK", "64MB")
	vp.SetDefault("DECODER_LOGLEVEL", "error")
	vp.SetDefault("DECODER_INPUT_ARGS", "")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_CONSOLE", false)
}

// Load reads the defaults, an optional yaml file and FRAMEPIPE_* environment
// variables, in increasing order of precedence. A non-empty configFile
// replaces the default search paths.
func Load(configFile string) (*Config, error) {
	vp := viper.New()
	SetDefaults(vp)

	if configFile != "" {
		vp.SetConfigFile(configFile)
	} else {
		vp.SetConfigName("framepipe_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/framepipe/")
	}

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("FRAMEPIPE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}

	for i, name := range cfg.HWAccelPriority {
		cfg.HWAccelPriority[i] = strings.TrimSpace(name)
	}

	return &cfg, nil
}
