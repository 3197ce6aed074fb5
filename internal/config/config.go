// Package config loads gateway settings from the environment, an optional
// .env file and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/omochice/pvpgn-gateway/internal/backend"
	"github.com/omochice/pvpgn-gateway/internal/logger"
	"github.com/omochice/pvpgn-gateway/internal/server"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GATEWAY_"

// DefaultEnvFile is read by Load when no file is named. It may be absent.
const DefaultEnvFile = ".env"

// Config holds the gateway configuration.
type Config struct {
	// Front end
	Addr         string        `env:"ADDR"          envDefault:":8080"`
	TCPAddr      string        `env:"TCP_ADDR"`
	StaticDir    string        `env:"STATIC_DIR"`
	DetectWindow time.Duration `env:"DETECT_WINDOW" envDefault:"1s"`
	QueueSize    int           `env:"QUEUE_SIZE"    envDefault:"64"`

	// Observability
	LogLevel      string `env:"LOG_LEVEL"      envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT"     envDefault:"text"`
	EnableMetrics bool   `env:"ENABLE_METRICS" envDefault:"true"`
	EnableHealth  bool   `env:"ENABLE_HEALTH"  envDefault:"true"`

	// Backend. Zero keep-alive interval or idle timeout disables the feature.
	Channel           string        `env:"CHANNEL"             envDefault:"Tah'kaka chat"`
	LoginTimeout      time.Duration `env:"LOGIN_TIMEOUT"       envDefault:"20s"`
	KeepAliveInterval time.Duration `env:"KEEPALIVE_INTERVAL"  envDefault:"60s"`
	KeepAliveCommand  string        `env:"KEEPALIVE_COMMAND"   envDefault:"/nop"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT"        envDefault:"5m"`
	DialTimeout       time.Duration `env:"DIAL_TIMEOUT"        envDefault:"15s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"       envDefault:"10s"`
	MaxLinesPerRead   int           `env:"MAX_LINES_PER_READ"  envDefault:"1000"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads the configuration from the process environment and the named
// .env files. Variables already set in the environment win over file
// values. With no files, DefaultEnvFile is read if it exists.
func Load(files ...string) (Config, error) {
	environ, err := readEnvFiles(files)
	if err != nil {
		return Config{}, err
	}
	for k, v := range env.ToMap(os.Environ()) {
		environ[k] = v
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	optional := len(files) == 0
	if optional {
		files = []string{DefaultEnvFile}
	}

	environ, err := godotenv.Read(files...)
	switch {
	case err == nil:
		return environ, nil
	case optional && errors.Is(err, fs.ErrNotExist):
		return map[string]string{}, nil
	default:
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
}

// BindFlags registers a flag for every setting on flags, defaulting to the
// current values, so parsed flags override the environment.
func (c *Config) BindFlags(flags *flag.FlagSet) {
	flags.StringVarP(&c.Addr, "addr", "a", c.Addr, "Listen address for HTTP, WebSocket and TCP clients")
	flags.StringVar(&c.TCPAddr, "tcp-addr", c.TCPAddr, "Extra listen address for raw TCP line clients only (disabled if empty)")
	flags.StringVar(&c.StaticDir, "static", c.StaticDir, "Directory served at / (disabled if empty)")
	flags.DurationVar(&c.DetectWindow, "detect-window", c.DetectWindow, "Silence after which a connection is treated as a TCP client")
	flags.IntVar(&c.QueueSize, "queue-size", c.QueueSize, "Outgoing frames buffered per client")

	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text, json)")
	flags.BoolVar(&c.EnableMetrics, "metrics", c.EnableMetrics, "Expose /metrics")
	flags.BoolVar(&c.EnableHealth, "health", c.EnableHealth, "Expose /healthz")

	flags.StringVar(&c.Channel, "channel", c.Channel, "Channel joined after login")
	flags.DurationVar(&c.LoginTimeout, "login-timeout", c.LoginTimeout, "Time allowed for the credential handshake")
	flags.DurationVar(&c.KeepAliveInterval, "keepalive", c.KeepAliveInterval, "Keep-alive interval (0 disables)")
	flags.StringVar(&c.KeepAliveCommand, "keepalive-command", c.KeepAliveCommand, "Command sent as keep-alive")
	flags.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Backend inactivity timeout (0 disables)")
	flags.DurationVar(&c.DialTimeout, "dial-timeout", c.DialTimeout, "Backend dial timeout")
	flags.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "Backend write timeout")
	flags.IntVar(&c.MaxLinesPerRead, "max-lines", c.MaxLinesPerRead, "Lines allowed in one backend read before the link is dropped")

	flags.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Grace period for closing sessions on exit")
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if strings.TrimSpace(c.Channel) == "" {
		errs = append(errs, errors.New("channel must not be empty"))
	}
	if strings.ContainsAny(c.Channel+c.KeepAliveCommand, "\r\n") {
		errs = append(errs, errors.New("channel and keep-alive command must be single lines"))
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"login-timeout", c.LoginTimeout},
		{"dial-timeout", c.DialTimeout},
		{"write-timeout", c.WriteTimeout},
		{"shutdown-timeout", c.ShutdownTimeout},
		{"detect-window", c.DetectWindow},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.d))
		}
	}
	if c.KeepAliveInterval < 0 || c.IdleTimeout < 0 {
		errs = append(errs, errors.New("keepalive and idle-timeout must not be negative"))
	}
	if c.MaxLinesPerRead <= 0 {
		errs = append(errs, fmt.Errorf("max-lines must be positive, got %d", c.MaxLinesPerRead))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue-size must be positive, got %d", c.QueueSize))
	}
	return errors.Join(errs...)
}

// BackendOptions converts the backend settings.
func (c Config) BackendOptions() backend.Options {
	opts := backend.Options{
		Channel:           c.Channel,
		LoginTimeout:      c.LoginTimeout,
		KeepAliveInterval: c.KeepAliveInterval,
		KeepAliveCommand:  c.KeepAliveCommand,
		IdleTimeout:       c.IdleTimeout,
		DialTimeout:       c.DialTimeout,
		WriteTimeout:      c.WriteTimeout,
		MaxLinesPerRead:   c.MaxLinesPerRead,
	}
	if opts.KeepAliveInterval == 0 {
		opts.KeepAliveInterval = -1
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = -1
	}
	return opts
}

// ServerConfig converts the front-end settings.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		Addr:          c.Addr,
		TCPAddr:       c.TCPAddr,
		StaticDir:     c.StaticDir,
		DetectWindow:  c.DetectWindow,
		EnableMetrics: c.EnableMetrics,
		EnableHealth:  c.EnableHealth,
	}
}
