// Package accesslog writes one line per API request in JSON or Apache
// combined format.
package accesslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is the interface for access loggers.
type Logger interface {
	Log(entry Entry) error
	Close() error
}

// Entry represents a single access log entry.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	ClientIP   string    `json:"client_ip"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Route      string    `json:"route,omitempty"`
	Protocol   string    `json:"protocol"`
	StatusCode int       `json:"status_code"`
	BytesSent  int       `json:"bytes_sent"`
	DurationMS float64   `json:"duration_ms"`
	RequestID  string    `json:"request_id,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Referer    string    `json:"referer,omitempty"`
}

// Config holds access log configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Format  string `yaml:"format" json:"format"` // json, apache, combined
	Output  string `yaml:"output" json:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a disabled JSON access log on stdout.
func DefaultConfig() Config {
	return Config{
		Format: "json",
		Output: "stdout",
	}
}

// Validate checks the format name.
func (c Config) Validate() error {
	switch c.Format {
	case "json", "apache", "combined", "":
		return nil
	default:
		return fmt.Errorf("unknown access log format %q", c.Format)
	}
}

// New creates a new access logger based on configuration.
func New(cfg Config) (Logger, error) {
	if !cfg.Enabled {
		return NoopLogger{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	if cfg.Format == "apache" || cfg.Format == "combined" {
		return NewApacheLogger(output), nil
	}
	return NewJSONLogger(output), nil
}

func openOutput(output string) (io.WriteCloser, error) {
	switch output {
	case "stdout", "":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return nil, fmt.Errorf("create access log directory: %w", err)
		}
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open access log: %w", err)
		}
		return f, nil
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

// NoopLogger discards entries.
type NoopLogger struct{}

func (NoopLogger) Log(Entry) error { return nil }
func (NoopLogger) Close() error    { return nil }

// JSONLogger logs entries as JSON lines.
type JSONLogger struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

// NewJSONLogger creates a new JSON access logger.
func NewJSONLogger(w io.WriteCloser) *JSONLogger {
	return &JSONLogger{writer: w}
}

// Log writes a log entry in JSON format.
func (l *JSONLogger) Log(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.writer.Write(append(data, '\n'))
	return err
}

// Close closes the logger.
func (l *JSONLogger) Close() error {
	return l.writer.Close()
}

// ApacheLogger logs entries in Apache combined format.
type ApacheLogger struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

// NewApacheLogger creates a new Apache format access logger.
func NewApacheLogger(w io.WriteCloser) *ApacheLogger {
	return &ApacheLogger{writer: w}
}

// Log writes a log entry in Apache combined format:
// %h %l %u %t "%r" %>s %b "%{Referer}i" "%{User-agent}i"
func (l *ApacheLogger) Log(entry Entry) error {
	line := fmt.Sprintf("%s - - [%s] \"%s %s %s\" %d %s \"%s\" \"%s\"\n",
		dash(entry.ClientIP),
		entry.Timestamp.Format("02/Jan/2006:15:04:05 -0700"),
		entry.Method,
		entry.Path,
		entry.Protocol,
		entry.StatusCode,
		bytesField(entry.BytesSent),
		dash(entry.Referer),
		dash(entry.UserAgent),
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.writer, line)
	return err
}

// Close closes the logger.
func (l *ApacheLogger) Close() error {
	return l.writer.Close()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func bytesField(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
