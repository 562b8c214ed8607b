package cli

import (
	"fmt"
	"io"

	"github.com/arloliu/go-linebridge/logger"
)

type syncer interface {
	Sync() error
}

// newLogger builds the logger selected by cfg and installs it as the package default.
// The returned function flushes buffered output and must be called before exit.
func newLogger(cfg LogConfig, w io.Writer) (logger.Logger, func(), error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var l logger.Logger
	switch cfg.Backend {
	case "", "slog":
		if cfg.File != "" {
			return nil, nil, fmt.Errorf("log file rotation requires the zap backend")
		}
		l = logger.NewSlogWriter(w, level, false)
	case "zap":
		l = logger.NewZap(logger.ZapConfig{
			Level:      level,
			Format:     cfg.Format,
			File:       cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			Output:     w,
		})
	default:
		return nil, nil, fmt.Errorf("unknown log backend %q, want slog or zap", cfg.Backend)
	}

	logger.SetDefault(l)

	flush := func() {
		if s, ok := l.(syncer); ok {
			_ = s.Sync()
		}
	}

	return l, flush, nil
}
