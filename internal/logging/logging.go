// Package logging builds the process logger and exposes its level as a
// command-line flag.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	Format string
	Level  zapcore.Level
}

// NewConfig returns the defaults: console output at info level.
func NewConfig() Config {
	return Config{Format: "console", Level: zapcore.InfoLevel}
}

// New builds a logger writing to w.
func (c Config) New(w io.Writer) (*zap.Logger, error) {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339))
	}
	ec.EncodeDuration = func(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(d.String())
	}

	var encoder zapcore.Encoder
	switch c.Format {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(ec)
	case "json":
		encoder = zapcore.NewJSONEncoder(ec)
	case "logfmt":
		encoder = zaplogfmt.NewEncoder(ec)
	default:
		return nil, fmt.Errorf("unknown log format '%s'; supported formats are console, json, logfmt", c.Format)
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), c.Level)), nil
}

// NewStderr builds a logger writing to standard error.
func (c Config) NewStderr() (*zap.Logger, error) {
	return c.New(os.Stderr)
}

// Flags registers --log-level and --log-format on fs.
func (c *Config) Flags(fs *pflag.FlagSet) {
	fs.Var((*levelValue)(&c.Level), "log-level", "log level: debug, info, warn, error")
	fs.StringVar(&c.Format, "log-format", c.Format, "log format: console, json, logfmt")
}

type levelValue zapcore.Level

func (l *levelValue) String() string {
	return zapcore.Level(*l).String()
}

func (l *levelValue) Set(s string) error {
	var level zapcore.Level
	if err := level.Set(s); err != nil {
		return fmt.Errorf("unknown log level; supported levels are debug, info, warn, error")
	}
	*l = levelValue(level)
	return nil
}

func (l *levelValue) Type() string {
	return "Log-Level"
}
