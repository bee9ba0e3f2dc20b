package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	config := DefaultConfig()
	config.Output = &buf
	if mutate != nil {
		mutate(config)
	}
	return New(config), &buf
}

func TestLogger_Levels(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Level = INFO })
	compLogger := logger.WithComponent(ComponentApp)

	compLogger.Debug("This should not appear")
	compLogger.Info("This should appear")
	compLogger.Warn("This should appear")
	compLogger.Error("This should appear")

	output := buf.String()
	if strings.Contains(output, "This should not appear") {
		t.Error("DEBUG message should be filtered out")
	}
	if got := strings.Count(output, "This should appear"); got != 3 {
		t.Errorf("expected 3 INFO/WARN/ERROR lines, got %d", got)
	}
}

func TestLogger_Components(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.WithComponent(ComponentApp).Info("App message")
	logger.WithComponent(ComponentUnpack).Info("Unpack message")

	output := buf.String()
	if !strings.Contains(output, "App message") {
		t.Error("App message should appear")
	}
	if strings.Contains(output, "Unpack message") {
		t.Error("Unpack is disabled by default")
	}

	logger.EnableComponent(ComponentUnpack)
	logger.WithComponent(ComponentUnpack).Info("Unpack enabled")
	if !strings.Contains(buf.String(), "[unpack] Unpack enabled") {
		t.Error("EnableComponent had no effect")
	}
	if !logger.Enabled(INFO, ComponentUnpack) || logger.Enabled(DEBUG, ComponentUnpack) {
		t.Error("Enabled() disagrees with configuration")
	}
}

func TestLogger_JSON(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Format = FormatJSON })

	logger.WithComponent(ComponentApp).Info("Test message", map[string]interface{}{
		"key":   "value",
		"error": errors.New("boom"),
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if entry["level"] != "INFO" || entry["component"] != "app" || entry["message"] != "Test message" {
		t.Errorf("unexpected entry: %v", entry)
	}
	fields, _ := entry["fields"].(map[string]interface{})
	if fields["error"] != "boom" || fields["key"] != "value" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

func TestLogger_TextFieldsSorted(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	logger.WithComponent(ComponentApp).Info("msg", map[string]interface{}{
		"url":   "https://example.com",
		"count": 42,
		"b":     true,
	})

	want := "[INFO] [app] msg b=true count=42 url=https://example.com\n"
	if got := buf.String(); got != want {
		t.Errorf("text output = %q, want %q", got, want)
	}
}

func TestLogger_ColorFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Format = FormatColor })
	logger.WithComponent(ComponentApp).Warn("careful")
	if !strings.Contains(buf.String(), "\033[93m[WARN]") {
		t.Errorf("color output = %q", buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)

	base := logger.WithComponent(ComponentApp).With(map[string]interface{}{"provider": "inline"})
	base.Info("one", map[string]interface{}{"attempt": 2})
	base.With(map[string]interface{}{"provider": "nonce"}).Info("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", lines)
	}
	if lines[0] != "[INFO] [app] one attempt=2 provider=inline" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "[INFO] [app] two provider=nonce" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestLogger_Timestamp(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.Timestamp = true })
	logger.WithComponent(ComponentApp).Info("Test message")

	// YYYY-MM-DD HH:MM:SS [INFO] ...
	output := buf.String()
	if len(output) < 20 || output[4] != '-' || output[10] != ' ' || output[13] != ':' {
		t.Errorf("timestamp missing: %q", output)
	}
}

func TestLogger_Caller(t *testing.T) {
	logger, buf := newBufferLogger(t, func(c *Config) { c.ShowCaller = true })
	logger.WithComponent(ComponentApp).Info("Test message")

	if !strings.Contains(buf.String(), "(logger_test.go:") {
		t.Errorf("caller missing: %q", buf.String())
	}
}

func TestLogger_Discard(t *testing.T) {
	l := Discard()
	if l.Enabled(ERROR, ComponentApp) {
		t.Error("Discard logger should not be enabled")
	}
	l.WithComponent(ComponentApp).Error("dropped")
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	logger, buf := newBufferLogger(t, nil)
	SetGlobalLogger(logger)

	WithComponent(ComponentApp).Info("Global logger test")
	if !strings.Contains(buf.String(), "Global logger test") {
		t.Error("Global logger should work")
	}
}

func TestLogger_Concurrency(t *testing.T) {
	logger, buf := newBufferLogger(t, nil)
	compLogger := logger.WithComponent(ComponentApp)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			compLogger.Info("Concurrent message", map[string]interface{}{
				"goroutine": i,
			})
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("Expected 10 log lines, got %d", len(lines))
	}
}

func TestLevelString(t *testing.T) {
	expected := map[Level]string{
		TRACE:     "TRACE",
		DEBUG:     "DEBUG",
		INFO:      "INFO",
		WARN:      "WARN",
		ERROR:     "ERROR",
		Level(42): "Level(42)",
	}
	for level, want := range expected {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %s, want %s", int(level), got, want)
		}
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	levels := map[string]Level{"trace": TRACE, "Debug": DEBUG, "": INFO, "warning": WARN, "ERROR": ERROR}
	for in, want := range levels {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel accepted unknown level")
	}

	formats := map[string]Format{"text": FormatText, "JSON": FormatJSON, "colored": FormatColor}
	for in, want := range formats {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat accepted unknown format")
	}
}

func TestEnvironmentConfig(t *testing.T) {
	env := map[string]string{
		"MIRRORRESOLVE_LOG_LEVEL":      "debug",
		"MIRRORRESOLVE_LOG_FORMAT":     "json",
		"MIRRORRESOLVE_LOG_OUTPUT":     "null",
		"MIRRORRESOLVE_LOG_COMPONENTS": "provider, orchestrator,",
		"MIRRORRESOLVE_LOG_TIMESTAMP":  "1",
	}
	config := environmentConfig(func(k string) string { return env[k] })

	if config.Level != "debug" || config.Format != "json" || config.Output != "null" || !config.Timestamp {
		t.Errorf("unexpected config: %+v", config)
	}
	if len(config.Components) != 2 || !config.Components["provider"] || !config.Components["orchestrator"] {
		t.Errorf("unexpected components: %v", config.Components)
	}
	if err := config.ValidateConfig(); err != nil {
		t.Errorf("ValidateConfig() error = %v", err)
	}

	lc, err := config.ToLoggerConfig()
	if err != nil {
		t.Fatalf("ToLoggerConfig() error = %v", err)
	}
	if lc.Level != DEBUG || lc.Format != FormatJSON || lc.Components[ComponentApp] {
		t.Errorf("unexpected logger config: %+v", lc)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LogConfig)
		wantErr bool
	}{
		{"default", func(*LogConfig) {}, false},
		{"file output", func(c *LogConfig) { c.Output = "file:/tmp/x.log" }, false},
		{"all components", func(c *LogConfig) { c.Components = map[string]bool{"all": true} }, false},
		{"bad level", func(c *LogConfig) { c.Level = "loud" }, true},
		{"bad format", func(c *LogConfig) { c.Format = "xml" }, true},
		{"bad output", func(c *LogConfig) { c.Output = "syslog" }, true},
		{"empty file", func(c *LogConfig) { c.Output = "file:" }, true},
		{"unknown component", func(c *LogConfig) { c.Components = map[string]bool{"innertube": true} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultLogConfig()
			tt.mutate(c)
			if err := c.ValidateConfig(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.json")

	c := DefaultLogConfig()
	c.Level = "TRACE"
	c.Components = map[string]bool{"all": true}
	c.Output = "file:" + filepath.Join(dir, "logs", "out.log")
	if err := c.SaveConfigToFile(path); err != nil {
		t.Fatalf("SaveConfigToFile() error = %v", err)
	}

	loaded, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile() error = %v", err)
	}
	l, err := CreateLoggerFromConfig(loaded)
	if err != nil {
		t.Fatalf("CreateLoggerFromConfig() error = %v", err)
	}
	l.WithComponent(ComponentCipher).Trace("written to file")
	if f, ok := l.config.Output.(*os.File); ok {
		f.Close()
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs", "out.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "[TRACE] [cipher] written to file") {
		t.Errorf("log file = %q", data)
	}
}

func TestLoadConfigFromFile_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	if err := os.WriteFile(path, []byte(`{"level":"warn"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile() error = %v", err)
	}
	if c.Level != "warn" || c.Format != "text" || !c.Components["app"] {
		t.Errorf("defaults not kept: %+v", c)
	}

	if err := os.WriteFile(path, []byte(`{"level":`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFromFile(path); err == nil {
		t.Error("LoadConfigFromFile accepted truncated JSON")
	}
}

func TestLoadConfigFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.yaml")
	if err := os.WriteFile(path, []byte("level: debug\nformat: json\ncomponents:\n  provider: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile() error = %v", err)
	}
	if c.Level != "debug" || c.Format != "json" || !c.Components["provider"] || len(c.Components) != 1 {
		t.Errorf("LoadConfigFromFile() = %+v", c)
	}

	out := filepath.Join(dir, "saved.yml")
	if err := c.SaveConfigToFile(out); err != nil {
		t.Fatalf("SaveConfigToFile() error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "level: debug") {
		t.Errorf("saved yaml = %q", data)
	}
	again, err := LoadConfigFromFile(out)
	if err != nil || again.Format != "json" {
		t.Errorf("reload = %+v, %v", again, err)
	}

	if err := os.WriteFile(path, []byte("level: [debug"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFromFile(path); err == nil {
		t.Error("LoadConfigFromFile accepted malformed YAML")
	}
}

func TestComponentsAllThenNamed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	if err := os.WriteFile(path, []byte(`{"components":{"all":true,"cipher":false}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		c, err := LoadConfigFromFile(path)
		if err != nil {
			t.Fatalf("LoadConfigFromFile() error = %v", err)
		}
		lc, err := c.ToLoggerConfig()
		if err != nil {
			t.Fatalf("ToLoggerConfig() error = %v", err)
		}
		for _, comp := range Components {
			if want := comp != ComponentCipher; lc.Components[comp] != want {
				t.Fatalf("run %d: component %s = %v, want %v", i, comp, lc.Components[comp], want)
			}
		}
	}
}

func TestComponentsSectionReplacesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	if err := os.WriteFile(path, []byte(`{"components":{"all":true}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Components) != 1 || !c.Components["all"] {
		t.Errorf("Components = %v, want only all", c.Components)
	}
	lc, err := c.ToLoggerConfig()
	if err != nil {
		t.Fatal(err)
	}
	for _, comp := range Components {
		if !lc.Components[comp] {
			t.Errorf("component %s disabled", comp)
		}
	}
}
