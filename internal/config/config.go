// Package config loads the configuration surface of §6.3: audio capture
// and endpointing parameters, debounce/guard/timeout durations.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Audio holds capture and endpointing parameters.
type Audio struct {
	SampleRate        int
	SilenceThreshold  time.Duration
	MaxDuration       time.Duration
	MinDuration       time.Duration
	WakeTimeout       time.Duration
	EnergyThreshold   float64
}

// Config is the full configuration surface of spec §6.3.
type Config struct {
	Audio Audio

	InstructionDebounce time.Duration
	AutoPlayGuard       time.Duration
	PendingActionTTL    time.Duration
	ReplyTimeout        time.Duration

	ServerHost string
	ServerPort int
	LogLevel   string
}

// Default returns the defaults named in spec §6.3.
func Default() Config {
	return Config{
		Audio: Audio{
			SampleRate:       16000,
			SilenceThreshold: 500 * time.Millisecond,
			MaxDuration:      10 * time.Second,
			MinDuration:      300 * time.Millisecond,
			WakeTimeout:      5 * time.Second,
			EnergyThreshold:  0.02,
		},
		InstructionDebounce: 1500 * time.Millisecond,
		AutoPlayGuard:       1500 * time.Millisecond,
		PendingActionTTL:    30 * time.Second,
		ReplyTimeout:        10 * time.Second,
		ServerHost:          "0.0.0.0",
		ServerPort:          4399,
		LogLevel:            "info",
	}
}

// Load layers environment variables (prefixed ORCH_, e.g.
// ORCH_AUDIO_SILENCETHRESHOLDMS) over the spec defaults, first loading a
// .env file if one is present in the working directory — matching the
// teacher's own cmd/agent bootstrap.
func Load() Config {
	_ = godotenv.Load()

	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("audio.samplerate", cfg.Audio.SampleRate)
	v.SetDefault("audio.silencethresholdms", cfg.Audio.SilenceThreshold.Milliseconds())
	v.SetDefault("audio.maxdurationms", cfg.Audio.MaxDuration.Milliseconds())
	v.SetDefault("audio.mindurationms", cfg.Audio.MinDuration.Milliseconds())
	v.SetDefault("audio.waketimeoutms", cfg.Audio.WakeTimeout.Milliseconds())
	v.SetDefault("audio.energythreshold", cfg.Audio.EnergyThreshold)
	v.SetDefault("debounce.instructionms", cfg.InstructionDebounce.Milliseconds())
	v.SetDefault("autoplay.guardms", cfg.AutoPlayGuard.Milliseconds())
	v.SetDefault("pendingaction.timeoutsec", int64(cfg.PendingActionTTL.Seconds()))
	v.SetDefault("reply.timeoutsec", int64(cfg.ReplyTimeout.Seconds()))
	v.SetDefault("server.host", cfg.ServerHost)
	v.SetDefault("server.port", cfg.ServerPort)
	v.SetDefault("log.level", cfg.LogLevel)

	cfg.Audio.SampleRate = v.GetInt("audio.samplerate")
	cfg.Audio.SilenceThreshold = time.Duration(v.GetInt64("audio.silencethresholdms")) * time.Millisecond
	cfg.Audio.MaxDuration = time.Duration(v.GetInt64("audio.maxdurationms")) * time.Millisecond
	cfg.Audio.MinDuration = time.Duration(v.GetInt64("audio.mindurationms")) * time.Millisecond
	cfg.Audio.WakeTimeout = time.Duration(v.GetInt64("audio.waketimeoutms")) * time.Millisecond
	cfg.Audio.EnergyThreshold = v.GetFloat64("audio.energythreshold")
	cfg.InstructionDebounce = time.Duration(v.GetInt64("debounce.instructionms")) * time.Millisecond
	cfg.AutoPlayGuard = time.Duration(v.GetInt64("autoplay.guardms")) * time.Millisecond
	cfg.PendingActionTTL = time.Duration(v.GetInt64("pendingaction.timeoutsec")) * time.Second
	cfg.ReplyTimeout = time.Duration(v.GetInt64("reply.timeoutsec")) * time.Second
	cfg.ServerHost = v.GetString("server.host")
	cfg.ServerPort = v.GetInt("server.port")
	cfg.LogLevel = v.GetString("log.level")

	return cfg
}
