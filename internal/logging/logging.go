package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects where diagnostics go and how they look.
type Config struct {
	Level  string // trace|debug|info|warn|error; empty is info
	Format string // console|json; empty is console
	File   string // optional rotated log file, always JSON
}

const (
	fileMaxSizeMB  = 20
	fileMaxBackups = 3
	fileMaxAgeDays = 14
)

// New builds the process logger writing to stderr and, when cfg.File is set,
// to a rotated file. The returned closer flushes and closes the file.
func New(cfg Config, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if s := strings.TrimSpace(cfg.Level); s != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil || l == zerolog.NoLevel {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log level %q", cfg.Level)
		}
		level = l
	}

	var console io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console", "text":
		console = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}
	case "json":
		console = stderr
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log format %q (expected console/json)", cfg.Format)
	}

	var (
		out    io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if f := strings.TrimSpace(cfg.File); f != "" {
		lj := &lumberjack.Logger{
			Filename:   f,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
			MaxAge:     fileMaxAgeDays,
		}
		out = zerolog.MultiLevelWriter(console, lj)
		closer = lj
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
