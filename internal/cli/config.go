package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arloliu/go-linebridge/devicesim"
	"github.com/arloliu/go-linebridge/session"
)

// EnvPrefix prefixes every environment variable read by the CLI, e.g. LINEBRIDGE_DEVICE_PORT.
const EnvPrefix = "LINEBRIDGE"

// Config is the CLI configuration.
type Config struct {
	Device    DeviceConfig    `mapstructure:"device"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// DeviceConfig configures the connect command.
type DeviceConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	MaxLineLength  int           `mapstructure:"max_line_length"`
	Reconnect      bool          `mapstructure:"reconnect"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	SendStdin      bool          `mapstructure:"send_stdin"`
	VolumeFeedback bool          `mapstructure:"volume_feedback"`
}

// LogConfig selects and configures the logging backend.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Backend    string `mapstructure:"backend"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

// SimulatorConfig configures the simulate command.
type SimulatorConfig struct {
	Listen      string        `mapstructure:"listen"`
	Script      []string      `mapstructure:"script"`
	ScriptFile  string        `mapstructure:"script_file"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	Delay       time.Duration `mapstructure:"delay"`
	LineDelay   time.Duration `mapstructure:"line_delay"`
	EmptyWrites bool          `mapstructure:"empty_writes"`
	LineEnding  string        `mapstructure:"line_ending"`
	Echo        bool          `mapstructure:"echo"`
	Repeat      bool          `mapstructure:"repeat"`
}

// NewDefaultConfig returns the configuration used when nothing else is set.
func NewDefaultConfig() *Config {
	firmware := devicesim.FirmwarePolicy()

	return &Config{
		Device: DeviceConfig{
			Host:           "127.0.0.1",
			Port:           5000,
			ConnectTimeout: session.DefaultConnectTimeout,
			WriteTimeout:   session.DefaultWriteTimeout,
			ReadBufferSize: session.DefaultReadBufferSize,
			MaxLineLength:  session.DefaultMaxLineLength,
			ReconnectDelay: 2 * time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			Backend:   "slog",
			Format:    "json",
			MaxSizeMB: 100,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Simulator: SimulatorConfig{
			Listen:     "127.0.0.1:5000",
			Script:     devicesim.DefaultScript(),
			ChunkSize:  firmware.ChunkSize,
			Delay:      firmware.Delay,
			LineDelay:  firmware.LineDelay,
			LineEnding: "crlf",
		},
	}
}

// InitViper creates and returns a configured *viper.Viper.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via bindFlags)
//  2. Environment variables (LINEBRIDGE_DEVICE_HOST, LINEBRIDGE_LOG_LEVEL, etc.)
//  3. the config file, when configFile is not empty
//  4. Defaults from NewDefaultConfig()
func InitViper(configFile string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() using dotted-key notation,
// which also makes every key visible to AutomaticEnv during Unmarshal.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("device.host", d.Device.Host)
	v.SetDefault("device.port", d.Device.Port)
	v.SetDefault("device.connect_timeout", d.Device.ConnectTimeout)
	v.SetDefault("device.write_timeout", d.Device.WriteTimeout)
	v.SetDefault("device.read_buffer_size", d.Device.ReadBufferSize)
	v.SetDefault("device.max_line_length", d.Device.MaxLineLength)
	v.SetDefault("device.reconnect", d.Device.Reconnect)
	v.SetDefault("device.reconnect_delay", d.Device.ReconnectDelay)
	v.SetDefault("device.max_attempts", d.Device.MaxAttempts)
	v.SetDefault("device.send_stdin", d.Device.SendStdin)
	v.SetDefault("device.volume_feedback", d.Device.VolumeFeedback)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.backend", d.Log.Backend)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("simulator.listen", d.Simulator.Listen)
	v.SetDefault("simulator.script", d.Simulator.Script)
	v.SetDefault("simulator.script_file", d.Simulator.ScriptFile)
	v.SetDefault("simulator.chunk_size", d.Simulator.ChunkSize)
	v.SetDefault("simulator.delay", d.Simulator.Delay)
	v.SetDefault("simulator.line_delay", d.Simulator.LineDelay)
	v.SetDefault("simulator.empty_writes", d.Simulator.EmptyWrites)
	v.SetDefault("simulator.line_ending", d.Simulator.LineEnding)
	v.SetDefault("simulator.echo", d.Simulator.Echo)
	v.SetDefault("simulator.repeat", d.Simulator.Repeat)
}

// LoadConfig decodes v into a Config.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return cfg, nil
}

// SessionConfig builds the session configuration for the device section.
func (c *Config) SessionConfig(opts ...session.ConnOption) (*session.Config, error) {
	d := c.Device
	all := []session.ConnOption{
		session.WithConnectTimeout(d.ConnectTimeout),
		session.WithWriteTimeout(d.WriteTimeout),
		session.WithReadBufferSize(d.ReadBufferSize),
		session.WithMaxLineLength(d.MaxLineLength),
	}

	return session.NewConfig(d.Host, d.Port, append(all, opts...)...)
}

// Policy builds the fragmentation policy of the simulator section.
func (c *Config) Policy() (devicesim.Policy, error) {
	s := c.Simulator

	var ending string
	switch strings.ToLower(s.LineEnding) {
	case "", "lf":
		ending = "\n"
	case "crlf":
		ending = "\r\n"
	default:
		return devicesim.Policy{}, fmt.Errorf("unknown line ending %q, want lf or crlf", s.LineEnding)
	}

	p := devicesim.Policy{
		ChunkSize:   s.ChunkSize,
		Delay:       s.Delay,
		LineDelay:   s.LineDelay,
		EmptyWrites: s.EmptyWrites,
		LineEnding:  ending,
	}

	return p, p.Validate()
}

// ScriptLines returns the simulator script, read from ScriptFile when set.
func (c *Config) ScriptLines() ([]string, error) {
	if c.Simulator.ScriptFile == "" {
		if len(c.Simulator.Script) == 0 {
			return nil, errors.New("simulator script is empty")
		}

		return c.Simulator.Script, nil
	}

	data, err := os.ReadFile(c.Simulator.ScriptFile)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, fmt.Errorf("script %s is empty", c.Simulator.ScriptFile)
	}

	return lines, nil
}
