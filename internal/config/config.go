package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/satindergrewal/narrator/internal/audio"
)

// Config holds all runtime configuration.
type Config struct {
	// Server
	Port int

	// Audio format of incoming chunks
	SampleRate int
	Channels   int

	// Playback
	Lookahead     time.Duration // margin before the first scheduled start
	ScheduleAhead time.Duration // how far ahead chunks are queued on the device
	TickInterval  time.Duration // position timer period

	// Export and streaming
	MP3Bitrate      int // kbps, MP3 download
	StreamBitrate   int // kbps, live HTTP/WebRTC listeners
	FinalizeTimeout time.Duration
	FFmpegPath      string

	// Chunk ingestion
	NATSURL      string
	NATSSubject  string
	NATSEmbedded bool
	NATSPort     int

	LogLevel string
	LogFile  string
}

var defaults = map[string]any{
	"port":             8080,
	"sample_rate":      audio.DefaultSampleRate,
	"channels":         audio.DefaultChannels,
	"lookahead":        50 * time.Millisecond,
	"schedule_ahead":   500 * time.Millisecond,
	"tick_interval":    100 * time.Millisecond,
	"mp3_bitrate":      128,
	"stream_bitrate":   128,
	"finalize_timeout": 30 * time.Second,
	"ffmpeg_path":      "ffmpeg",
	"nats_url":         "",
	"nats_subject":     "narration.chunks",
	"nats_embedded":    false,
	"nats_port":        4222,
	"log_level":        "info",
	"log_file":         "",
}

// flag name -> config key
var flagKeys = map[string]string{
	"port":             "port",
	"sample-rate":      "sample_rate",
	"channels":         "channels",
	"lookahead":        "lookahead",
	"schedule-ahead":   "schedule_ahead",
	"tick-interval":    "tick_interval",
	"mp3-bitrate":      "mp3_bitrate",
	"stream-bitrate":   "stream_bitrate",
	"finalize-timeout": "finalize_timeout",
	"ffmpeg":           "ffmpeg_path",
	"nats-url":         "nats_url",
	"nats-subject":     "nats_subject",
	"nats-embedded":    "nats_embedded",
	"nats-port":        "nats_port",
	"log-level":        "log_level",
	"log-file":         "log_file",
}

// Load resolves configuration from defaults, an optional config file, the
// environment (NARRATOR_*) and command-line args, in increasing precedence.
// Values that fail to parse fall back to their defaults.
func Load(args []string) (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	fs := pflag.NewFlagSet("narrator", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "Path to config file")
	fs.IntP("port", "p", 8080, "HTTP listen port")
	fs.Int("sample-rate", audio.DefaultSampleRate, "PCM sample rate of incoming chunks")
	fs.Int("channels", audio.DefaultChannels, "PCM channel count of incoming chunks")
	fs.Duration("lookahead", 50*time.Millisecond, "Scheduling margin before the first buffer")
	fs.Duration("schedule-ahead", 500*time.Millisecond, "How far ahead chunks are queued (0 = all)")
	fs.Duration("tick-interval", 100*time.Millisecond, "Playback position timer period")
	fs.Int("mp3-bitrate", 128, "MP3 export bitrate in kbps")
	fs.Int("stream-bitrate", 128, "Live stream bitrate in kbps")
	fs.Duration("finalize-timeout", 30*time.Second, "Maximum wait for MP3 encoding")
	fs.String("ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	fs.String("nats-url", "", "NATS server URL for chunk ingestion")
	fs.String("nats-subject", "narration.chunks", "NATS subject carrying chunks")
	fs.Bool("nats-embedded", false, "Run an in-process NATS server")
	fs.Int("nats-port", 4222, "Port for the embedded NATS server")
	fs.StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	fs.String("log-file", "", "Log file path")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return Config{}, err
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("narrator")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "narrator"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("NARRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return Config{
		Port:            intValue(v, "port"),
		SampleRate:      intValue(v, "sample_rate"),
		Channels:        intValue(v, "channels"),
		Lookahead:       durationValue(v, "lookahead"),
		ScheduleAhead:   durationValue(v, "schedule_ahead"),
		TickInterval:    durationValue(v, "tick_interval"),
		MP3Bitrate:      intValue(v, "mp3_bitrate"),
		StreamBitrate:   intValue(v, "stream_bitrate"),
		FinalizeTimeout: durationValue(v, "finalize_timeout"),
		FFmpegPath:      v.GetString("ffmpeg_path"),
		NATSURL:         v.GetString("nats_url"),
		NATSSubject:     v.GetString("nats_subject"),
		NATSEmbedded:    boolValue(v, "nats_embedded"),
		NATSPort:        intValue(v, "nats_port"),
		LogLevel:        v.GetString("log_level"),
		LogFile:         v.GetString("log_file"),
	}, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if err := c.Format().Validate(); err != nil {
		return err
	}
	if c.MP3Bitrate <= 0 || c.StreamBitrate <= 0 {
		return fmt.Errorf("config: bitrates must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Lookahead < 0 || c.ScheduleAhead < 0 {
		return fmt.Errorf("config: negative scheduling margin")
	}
	return nil
}

// Format returns the PCM format of incoming chunks.
func (c Config) Format() audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

func intValue(v *viper.Viper, key string) int {
	n, err := cast.ToIntE(v.Get(key))
	if err != nil {
		return defaults[key].(int)
	}
	return n
}

// durationValue accepts a time.Duration or a string with a unit ("50ms").
// Bare numbers fall back to the default rather than being read as
// nanoseconds.
func durationValue(v *viper.Viper, key string) time.Duration {
	switch raw := v.Get(key).(type) {
	case time.Duration:
		return raw
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil {
			return d
		}
	}
	return defaults[key].(time.Duration)
}

func boolValue(v *viper.Viper, key string) bool {
	b, err := cast.ToBoolE(v.Get(key))
	if err != nil {
		return defaults[key].(bool)
	}
	return b
}
