package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FormatType format for logging
type FormatType string

const (
	// FormatTypeText logging as text
	FormatTypeText FormatType = "text"
	// FormatTypeJSON JSON format
	FormatTypeJSON FormatType = "json"
)

const (
	defaultMaxFileSizeMB = 50
	defaultMaxBackups    = 5
)

type Config struct {
	Level     string     `yaml:"level" default:"info"`
	Format    FormatType `yaml:"format" default:"text"`
	Timestamp bool       `yaml:"timestamp" default:"true"`
	// File enables logging into a rotated file instead of stdout
	File string `yaml:"file"`
}

// Validate checks level and format values
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level '%s': %w", c.Level, err)
	}

	if c.Format != FormatTypeText && c.Format != FormatTypeJSON {
		return fmt.Errorf("invalid log format '%s', use 'text' or 'json'", c.Format)
	}

	return nil
}

// Logger is the global logging instance
// nolint:gochecknoglobals
var logger *logrus.Logger

// nolint:gochecknoinits
func init() {
	logger = logrus.New()

	ConfigureLogger(Config{
		Level:     "info",
		Format:    FormatTypeText,
		Timestamp: true,
	})
}

// Log returns the global logger
func Log() *logrus.Logger {
	return logger
}

// PrefixedLog return the global logger with prefix
func PrefixedLog(prefix string) *logrus.Entry {
	return logger.WithField("prefix", prefix)
}

// EscapeInput removes line breaks from input
func EscapeInput(input string) string {
	result := strings.ReplaceAll(input, "\n", "")
	result = strings.ReplaceAll(result, "\r", "")

	return result
}

// ConfigureLogger applies configuration to the global logger
func ConfigureLogger(lc Config) {
	if level, err := logrus.ParseLevel(lc.Level); err != nil {
		logger.Fatalf("invalid log level %s %v", lc.Level, err)
	} else {
		logger.SetLevel(level)
	}

	switch lc.Format {
	case FormatTypeJSON:
		logger.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: !lc.Timestamp})
	default:
		logFormatter := &prefixed.TextFormatter{
			TimestampFormat:  "2006-01-02 15:04:05",
			FullTimestamp:    true,
			ForceFormatting:  true,
			ForceColors:      false,
			QuoteEmptyFields: true,
			DisableTimestamp: !lc.Timestamp,
		}

		logFormatter.SetColorScheme(&prefixed.ColorScheme{
			PrefixStyle:    "blue+b",
			TimestampStyle: "white+h",
		})

		logger.SetFormatter(logFormatter)
	}

	logger.SetOutput(output(lc))
}

func output(lc Config) io.Writer {
	if lc.File == "" {
		return os.Stdout
	}

	return &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    defaultMaxFileSizeMB,
		MaxBackups: defaultMaxBackups,
		Compress:   true,
	}
}

// Silence disables the logger output
func Silence() {
	logger.Out = io.Discard
}
