package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level LogLevel) *Logger {
	return NewLogger(&Config{
		Level:   level,
		Format:  "text",
		Output:  buf,
		Sync:    true,
		NoColor: true,
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	deviceLogger := logger.WithDevice("lun0")
	deviceLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "device=lun0") {
		t.Errorf("Expected device=lun0 in output, got: %s", output)
	}
	if deviceLogger.Device() != "lun0" {
		t.Errorf("Device() = %q, want lun0", deviceLogger.Device())
	}

	buf.Reset()
	workerLogger := deviceLogger.WithWorker(1)
	workerLogger.Info("worker message")

	output = buf.String()
	if !strings.Contains(output, "device=lun0") {
		t.Errorf("Expected device=lun0 in worker logger output, got: %s", output)
	}
	if !strings.Contains(output, "worker=1") {
		t.Errorf("Expected worker=1 in output, got: %s", output)
	}
	if workerLogger.Device() != "lun0" {
		t.Errorf("worker logger lost device name")
	}

	buf.Reset()
	deviceLogger.WithTemplate("rdwr").WithComponent("relay").Info("relay started")
	output = buf.String()
	if !strings.Contains(output, "template=rdwr") || !strings.Contains(output, "component=relay") {
		t.Errorf("Expected template and component fields, got: %s", output)
	}
}

func TestLoggerWithCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.WithCommand(123, "READ").Debug("executing command")

	output := buf.String()
	if !strings.Contains(output, "tag=123") {
		t.Errorf("Expected tag=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=READ") {
		t.Errorf("Expected op=READ in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	testErr := errors.New("test error")
	logger.WithError(testErr).Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestLoggerKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.Info("pool started", "workers", 4, "err", errors.New("boom"), 17, "dropped")

	output := buf.String()
	if !strings.Contains(output, "workers=4") {
		t.Errorf("Expected workers=4 in output, got: %s", output)
	}
	if !strings.Contains(output, "boom") {
		t.Errorf("Expected error value in output, got: %s", output)
	}
	if strings.Contains(output, "dropped") {
		t.Errorf("Non-string key should be skipped, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Errorf("Expected no output below warn level, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("Expected warn message in output, got: %s", buf.String())
	}

	buf.Reset()
	logger.Error("failed", "attempts", 3)
	if !strings.Contains(buf.String(), "attempts=3") {
		t.Errorf("Expected error message with attempts, got: %s", buf.String())
	}
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	defer SetDefault(prev)

	SetDefault(newTestLogger(&buf, LevelInfo))
	Info("global message", "key", "value")

	if !strings.Contains(buf.String(), "global message") {
		t.Errorf("Expected global message in output, got: %s", buf.String())
	}
}

func TestAsyncWriterClose(t *testing.T) {
	var buf bytes.Buffer
	aw := newAsyncWriter(&buf, 4)

	if _, err := aw.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if buf.String() != "hello\n" {
		t.Errorf("Close() did not flush pending writes, got %q", buf.String())
	}
	if _, err := aw.Write([]byte("late")); err == nil {
		t.Error("Write() after Close() should fail")
	}
}

func TestNopLogger(t *testing.T) {
	logger := Nop()
	logger.WithWorker(3).Error("never printed")
}
