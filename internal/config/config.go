package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ersozo/re-dashboard/internal/protocol"
	"github.com/ersozo/re-dashboard/internal/reconnect"
)

// Mode value that picks live or historical from the end time.
const ModeAuto = "auto"

// Transports accepted by channel.transport.
const (
	TransportGorilla = "gorilla"
	TransportCoder   = "coder"
)

type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Session   SessionConfig   `yaml:"session"`
	Channel   ChannelConfig   `yaml:"channel"`
	Publisher PublisherConfig `yaml:"publisher"`
	Log       LogConfig       `yaml:"log"`
	Status    StatusConfig    `yaml:"status"`
}

type BackendConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// SessionConfig selects what to show. Start and End accept RFC 3339 or
// "2006-01-02 15:04" in local time; empty means the current day.
type SessionConfig struct {
	Units       []string `yaml:"units"`
	Start       string   `yaml:"start"`
	End         string   `yaml:"end"`
	Mode        string   `yaml:"mode"`
	View        string   `yaml:"view"`
	WorkingMode string   `yaml:"working_mode"`
}

type ChannelConfig struct {
	Transport         string        `yaml:"transport"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

type PublisherConfig struct {
	UpdatingWindow time.Duration `yaml:"updating_window"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StatusConfig controls the diagnostics HTTP server. An empty Listen
// disables it.
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:         "http://127.0.0.1:8000",
			HTTPTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			Mode:        ModeAuto,
			View:        string(protocol.ViewStandard),
			WorkingMode: string(protocol.WorkingMode1),
		},
		Channel: ChannelConfig{
			Transport:         TransportGorilla,
			HeartbeatInterval: 30 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadTimeout:       90 * time.Second,
			ReconnectBase:     reconnect.DefaultBaseDelay,
			ReconnectMax:      reconnect.DefaultMaxDelay,
			MaxAttempts:       reconnect.DefaultMaxAttempts,
		},
		Publisher: PublisherConfig{
			UpdatingWindow: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored; existing variables are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from RED_* environment variables.
func (c *Config) ApplyEnv() error {
	c.Backend.URL = getEnv("RED_BACKEND_URL", c.Backend.URL)
	c.Backend.Token = getEnv("RED_TOKEN", c.Backend.Token)
	if s := os.Getenv("RED_UNITS"); s != "" {
		c.Session.Units = SplitList(s)
	}
	c.Session.Start = getEnv("RED_START", c.Session.Start)
	c.Session.End = getEnv("RED_END", c.Session.End)
	c.Session.Mode = getEnv("RED_MODE", c.Session.Mode)
	c.Session.View = getEnv("RED_VIEW", c.Session.View)
	c.Session.WorkingMode = getEnv("RED_WORKING_MODE", c.Session.WorkingMode)
	c.Channel.Transport = getEnv("RED_TRANSPORT", c.Channel.Transport)
	c.Log.Level = getEnv("RED_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("RED_LOG_FORMAT", c.Log.Format)
	c.Status.Listen = getEnv("RED_STATUS_ADDR", c.Status.Listen)

	var err error
	if c.Backend.HTTPTimeout, err = getEnvDuration("RED_HTTP_TIMEOUT", c.Backend.HTTPTimeout); err != nil {
		return err
	}
	if c.Channel.HeartbeatInterval, err = getEnvDuration("RED_HEARTBEAT_INTERVAL", c.Channel.HeartbeatInterval); err != nil {
		return err
	}
	if c.Channel.MaxAttempts, err = getEnvInt("RED_MAX_ATTEMPTS", c.Channel.MaxAttempts); err != nil {
		return err
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("config: backend.url is required")
	}
	switch c.Session.Mode {
	case ModeAuto, string(protocol.ModeLive), string(protocol.ModeHistorical):
	default:
		return fmt.Errorf("config: session.mode %q must be live, historical or auto", c.Session.Mode)
	}
	switch protocol.ViewKind(c.Session.View) {
	case protocol.ViewStandard, protocol.ViewHourly, protocol.ViewReport:
	default:
		return fmt.Errorf("config: session.view %q must be standard, hourly or report", c.Session.View)
	}
	switch c.Channel.Transport {
	case TransportGorilla, TransportCoder:
	default:
		return fmt.Errorf("config: channel.transport %q must be gorilla or coder", c.Channel.Transport)
	}
	if c.Channel.ReconnectBase <= 0 || c.Channel.ReconnectMax < c.Channel.ReconnectBase {
		return errors.New("config: channel.reconnect_base must be positive and not above reconnect_max")
	}
	if c.Channel.MaxAttempts < 0 {
		return errors.New("config: channel.max_attempts must not be negative")
	}
	return nil
}

// Policy returns the reconnection policy described by the channel section.
func (c *Config) Policy() reconnect.Policy {
	return reconnect.Policy{
		BaseDelay:   c.Channel.ReconnectBase,
		MaxDelay:    c.Channel.ReconnectMax,
		MaxAttempts: c.Channel.MaxAttempts,
	}
}

// TimeRange resolves the configured start and end. Missing bounds default to
// the local day containing now.
func (c *Config) TimeRange(now time.Time) (protocol.TimeRange, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	r := protocol.TimeRange{Start: day, End: day.Add(24 * time.Hour)}

	if c.Session.Start != "" {
		t, err := ParseTime(c.Session.Start, now.Location())
		if err != nil {
			return r, fmt.Errorf("config: session.start: %w", err)
		}
		r.Start = t
	}
	if c.Session.End != "" {
		t, err := ParseTime(c.Session.End, now.Location())
		if err != nil {
			return r, fmt.Errorf("config: session.end: %w", err)
		}
		r.End = t
	}
	return r, r.Validate()
}

// ResolveMode turns the configured mode into live or historical.
func (c *Config) ResolveMode(end, now time.Time) protocol.Mode {
	if c.Session.Mode == ModeAuto {
		return protocol.InferMode(end, now)
	}
	return protocol.Mode(c.Session.Mode)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 or a local "2006-01-02 15:04" style value.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
