// Package config загружает конфигурацию сервиса через viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/momentics/govna-tdr/internal/util"
	"github.com/momentics/govna-tdr/pkg/govna"
)

// Config - вся конфигурация сервиса.
type Config struct {
	Server ServerConfig
	Serial util.PortOptions
	Sweep  SweepConfig
	TDR    TDRConfig
}

// ServerConfig - параметры HTTP-сервера.
type ServerConfig struct {
	Addr     string
	Env      string
	LogLevel zerolog.Level
}

// SweepConfig - параметры канала и сегментированного сканирования.
type SweepConfig struct {
	CommandTimeout time.Duration
	RetryBound     int
	RetryDelay     time.Duration
	SegmentPoints  int
	PlausibleLimit float64
}

// TDRConfig - параметры TDR по умолчанию.
type TDRConfig struct {
	VelocityFactor float64
	Window         govna.Window
	FFTSize        int
}

var keys = []string{
	"LISTEN_ADDR", "ENVIRONMENT", "LOG_LEVEL",
	"SERIAL_BAUD", "SERIAL_DATA_BITS", "SERIAL_STOP_BITS", "SERIAL_PARITY",
	"COMMAND_TIMEOUT", "RETRY_BOUND", "RETRY_DELAY", "SEGMENT_POINTS", "PLAUSIBLE_LIMIT",
	"VELOCITY_FACTOR", "TDR_WINDOW", "TDR_FFT_SIZE",
}

// Load читает конфигурацию из переменных окружения и файла .env.<ENVIRONMENT>.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("ENVIRONMENT", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERIAL_BAUD", util.DefaultBaudRate)
	v.SetDefault("SERIAL_DATA_BITS", 8)
	v.SetDefault("SERIAL_STOP_BITS", 1)
	v.SetDefault("SERIAL_PARITY", "N")
	v.SetDefault("COMMAND_TIMEOUT", govna.DefaultCommandTimeout)
	v.SetDefault("RETRY_BOUND", govna.DefaultRetryBound)
	v.SetDefault("RETRY_DELAY", 200*time.Millisecond)
	v.SetDefault("SEGMENT_POINTS", 0)
	v.SetDefault("PLAUSIBLE_LIMIT", govna.DefaultPlausibleLimit)
	v.SetDefault("VELOCITY_FACTOR", 0.66)
	v.SetDefault("TDR_WINDOW", "hamming")
	v.SetDefault("TDR_FFT_SIZE", govna.DefaultFFTSize)

	// Переменные окружения имеют приоритет над файлом .env
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	env := v.GetString("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	v.SetConfigName(".env." + env)
	v.SetConfigType("env")
	v.AddConfigPath(".")
	// Файла может не быть
	_ = v.ReadInConfig()

	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString("LOG_LEVEL")))
	if err != nil {
		return nil, fmt.Errorf("некорректный LOG_LEVEL: %w", err)
	}
	window, err := govna.ParseWindow(v.GetString("TDR_WINDOW"))
	if err != nil {
		return nil, err
	}

	var cfg Config
	cfg.Server = ServerConfig{
		Addr:     v.GetString("LISTEN_ADDR"),
		Env:      env,
		LogLevel: level,
	}
	cfg.Serial = util.PortOptions{
		BaudRate: v.GetInt("SERIAL_BAUD"),
		DataBits: v.GetInt("SERIAL_DATA_BITS"),
		StopBits: v.GetInt("SERIAL_STOP_BITS"),
		Parity:   v.GetString("SERIAL_PARITY"),
	}
	if cfg.Serial, err = cfg.Serial.Normalize(); err != nil {
		return nil, err
	}
	cfg.Sweep = SweepConfig{
		CommandTimeout: v.GetDuration("COMMAND_TIMEOUT"),
		RetryBound:     v.GetInt("RETRY_BOUND"),
		RetryDelay:     v.GetDuration("RETRY_DELAY"),
		SegmentPoints:  v.GetInt("SEGMENT_POINTS"),
		PlausibleLimit: v.GetFloat64("PLAUSIBLE_LIMIT"),
	}
	cfg.TDR = TDRConfig{
		VelocityFactor: v.GetFloat64("VELOCITY_FACTOR"),
		Window:         window,
		FFTSize:        v.GetInt("TDR_FFT_SIZE"),
	}

	if cfg.Sweep.RetryBound < 0 {
		return nil, fmt.Errorf("некорректный RETRY_BOUND %d", cfg.Sweep.RetryBound)
	}
	if cfg.TDR.VelocityFactor <= 0 || cfg.TDR.VelocityFactor > 1 {
		return nil, fmt.Errorf("некорректный VELOCITY_FACTOR %v: %w", cfg.TDR.VelocityFactor, govna.ErrInvalidVelocityFactor)
	}

	log.Debug().
		Str("addr", cfg.Server.Addr).
		Dur("command_timeout", cfg.Sweep.CommandTimeout).
		Int("retry_bound", cfg.Sweep.RetryBound).
		Str("tdr_window", cfg.TDR.Window.String()).
		Msg("конфигурация загружена")

	return &cfg, nil
}

// CoordinatorOptions преобразует параметры сканирования в опции координатора.
// SegmentPoints = 0 оставляет значение, сообщенное прибором.
func (c *Config) CoordinatorOptions() []govna.CoordinatorOption {
	opts := []govna.CoordinatorOption{
		govna.WithRetryBound(c.Sweep.RetryBound),
		govna.WithRetryDelay(c.Sweep.RetryDelay),
		govna.WithPlausibleLimit(c.Sweep.PlausibleLimit),
	}
	if c.Sweep.SegmentPoints > 0 {
		opts = append(opts, govna.WithMaxSegmentPoints(c.Sweep.SegmentPoints))
	}
	return opts
}

// TDROptions преобразует параметры TDR в опции расчета.
func (c *Config) TDROptions() []govna.TDROption {
	return []govna.TDROption{govna.WithWindow(c.TDR.Window), govna.WithFFTSize(c.TDR.FFTSize)}
}
