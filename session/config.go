package session

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-linebridge/line"
	"github.com/arloliu/go-linebridge/logger"
)

// Default values.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultCloseTimeout   = 3 * time.Second
	DefaultWriteTimeout   = time.Duration(0) // no write deadline
	DefaultKeepAlive      = 30 * time.Second

	DefaultReadBufferSize = 1024
	DefaultMaxLineLength  = line.DefaultMaxLineLength
)

// Range limits.
const (
	MinConnectTimeout = 10 * time.Millisecond
	MaxConnectTimeout = 120 * time.Second

	MinCloseTimeout = 10 * time.Millisecond
	MaxCloseTimeout = 60 * time.Second

	MaxWriteTimeout = 120 * time.Second

	MinReadBufferSize = 1
	MaxReadBufferSize = 1024 * 1024
)

// Config holds the configuration of a Session.
type Config struct {
	host string
	port int

	connectTimeout time.Duration
	closeTimeout   time.Duration
	writeTimeout   time.Duration
	keepAlive      time.Duration

	readBufferSize int
	maxLineLength  int

	logger logger.Logger
}

// NewConfig creates a session configuration for the device at host:port.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(host string, port int, opts ...ConnOption) (*Config, error) {
	cfg := &Config{
		connectTimeout: DefaultConnectTimeout,
		closeTimeout:   DefaultCloseTimeout,
		writeTimeout:   DefaultWriteTimeout,
		keepAlive:      DefaultKeepAlive,
		readBufferSize: DefaultReadBufferSize,
		maxLineLength:  DefaultMaxLineLength,
		logger:         logger.GetLogger(),
	}

	if err := cfg.setHost(host); err != nil {
		return nil, err
	}
	if err := cfg.setPort(port); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// setHost checks the host syntax only. Names are resolved by the dial, under the
// connect timeout, so that an unresolvable name is a connect failure like any other.
func (cfg *Config) setHost(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		cfg.host = host
		return nil
	}

	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return fmt.Errorf("session: empty host")
	}
	if strings.ContainsAny(host, ":/ \t\r\n") {
		return fmt.Errorf("session: invalid host %q", host)
	}
	cfg.host = host

	return nil
}

func (cfg *Config) setPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("session: port %d out of range [1, 65535]", port)
	}
	cfg.port = port

	return nil
}

// Host returns the configured host address.
func (cfg *Config) Host() string { return cfg.host }

// Port returns the configured TCP port.
func (cfg *Config) Port() int { return cfg.port }

// Addr returns "host:port".
func (cfg *Config) Addr() string { return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port)) }

// ConnectTimeout returns the TCP dial timeout.
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// CloseTimeout returns how long Close waits for the connection to tear down.
func (cfg *Config) CloseTimeout() time.Duration { return cfg.closeTimeout }

// WriteTimeout returns the per-send write deadline, zero when disabled.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// KeepAlive returns the TCP keep-alive period; negative disables keep-alive probes.
func (cfg *Config) KeepAlive() time.Duration { return cfg.keepAlive }

// ReadBufferSize returns the size of the buffer handed to each socket read.
func (cfg *Config) ReadBufferSize() int { return cfg.readBufferSize }

// MaxLineLength returns the soft cap on inbound line length.
func (cfg *Config) MaxLineLength() int { return cfg.maxLineLength }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// ConnOption is a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc func(*Config) error

func (f connOptFunc) apply(cfg *Config) error { return f(cfg) }

// WithConnectTimeout sets the TCP dial timeout.
// It must be in [MinConnectTimeout, MaxConnectTimeout]. Defaults to DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < MinConnectTimeout || d > MaxConnectTimeout {
			return fmt.Errorf("session: connect timeout %v out of range [%v, %v]", d, MinConnectTimeout, MaxConnectTimeout)
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for teardown.
// It must be in [MinCloseTimeout, MaxCloseTimeout]. Defaults to DefaultCloseTimeout.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < MinCloseTimeout || d > MaxCloseTimeout {
			return fmt.Errorf("session: close timeout %v out of range [%v, %v]", d, MinCloseTimeout, MaxCloseTimeout)
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithWriteTimeout sets a write deadline applied to every Send. Zero disables it.
func WithWriteTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < 0 || d > MaxWriteTimeout {
			return fmt.Errorf("session: write timeout %v out of range [0, %v]", d, MaxWriteTimeout)
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive period. Zero selects the system default,
// a negative value disables keep-alive probes.
func WithKeepAlive(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.keepAlive = d
		return nil
	})
}

// WithReadBufferSize sets the size of the buffer used for each socket read.
// It must be in [MinReadBufferSize, MaxReadBufferSize]. Defaults to DefaultReadBufferSize.
func WithReadBufferSize(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < MinReadBufferSize || n > MaxReadBufferSize {
			return fmt.Errorf("session: read buffer size %d out of range [%d, %d]", n, MinReadBufferSize, MaxReadBufferSize)
		}
		cfg.readBufferSize = n

		return nil
	})
}

// WithMaxLineLength sets the soft cap on inbound line length, delimiter excluded.
// It must be in [1, line.MaxLineLengthLimit]. Defaults to DefaultMaxLineLength.
func WithMaxLineLength(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 1 || n > line.MaxLineLengthLimit {
			return fmt.Errorf("session: max line length %d out of range [1, %d]", n, line.MaxLineLengthLimit)
		}
		cfg.maxLineLength = n

		return nil
	})
}

// WithLogger sets the logger. A nil logger keeps the package default.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}
