package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by EnvironmentConfig.
const EnvPrefix = "MIRRORRESOLVE_LOG_"

// LogConfig is the serializable form of Config, used by config files and the environment.
type LogConfig struct {
	Level      string          `json:"level" yaml:"level"`
	Format     string          `json:"format" yaml:"format"`
	Output     string          `json:"output" yaml:"output"`
	Components map[string]bool `json:"components" yaml:"components"`
	ShowCaller bool            `json:"show_caller" yaml:"show_caller"`
	Timestamp  bool            `json:"timestamp" yaml:"timestamp"`
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *LogConfig {
	components := make(map[string]bool, len(Components))
	for _, c := range Components {
		components[string(c)] = c == ComponentApp
	}
	return &LogConfig{
		Level:      "INFO",
		Format:     "text",
		Output:     "stderr",
		Components: components,
	}
}

// LoadConfigFromFile loads configuration from a JSON file, or a YAML one when the
// name ends in .yaml or .yml. Keys absent from the file keep their defaults.
func LoadConfigFromFile(filename string) (*LogConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultLogConfig()
	defaults := config.Components
	config.Components = nil
	unmarshal := json.Unmarshal
	if isYAML(filename) {
		unmarshal = yaml.Unmarshal
	}
	if err := unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	// A components section replaces the defaults rather than merging into them.
	if config.Components == nil {
		config.Components = defaults
	}
	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfigToFile saves configuration as JSON, or YAML for .yaml and .yml names.
func (c *LogConfig) SaveConfigToFile(filename string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ToLoggerConfig converts LogConfig to logger.Config
func (c *LogConfig) ToLoggerConfig() (*Config, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	output, err := parseOutput(c.Output)
	if err != nil {
		return nil, err
	}

	// "all" is applied first so that named components override it.
	components := make(map[Component]bool, len(Components))
	if enabled, ok := c.Components["all"]; ok {
		for _, comp := range Components {
			components[comp] = enabled
		}
	}
	for name, enabled := range c.Components {
		if name != "all" {
			components[Component(name)] = enabled
		}
	}

	return &Config{
		Level:      level,
		Format:     format,
		Output:     output,
		Components: components,
		ShowCaller: c.ShowCaller,
		Timestamp:  c.Timestamp,
	}, nil
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(levelStr string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// ParseFormat parses a format name.
func ParseFormat(formatStr string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(formatStr)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colored":
		return FormatColor, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", formatStr)
	}
}

// parseOutput accepts stdout, stderr, null/none or file:<path>.
func parseOutput(outputStr string) (io.Writer, error) {
	switch strings.ToLower(outputStr) {
	case "stderr", "":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "null", "none":
		return io.Discard, nil
	}
	filePath, ok := strings.CutPrefix(outputStr, "file:")
	if !ok {
		return nil, fmt.Errorf("unknown output: %s", outputStr)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// CreateLoggerFromConfig creates a logger from LogConfig
func CreateLoggerFromConfig(config *LogConfig) (*Logger, error) {
	loggerConfig, err := config.ToLoggerConfig()
	if err != nil {
		return nil, fmt.Errorf("convert config: %w", err)
	}
	return New(loggerConfig), nil
}

// EnvironmentConfig overlays MIRRORRESOLVE_LOG_* variables on the defaults.
//
//	MIRRORRESOLVE_LOG_LEVEL       TRACE, DEBUG, INFO, WARN or ERROR
//	MIRRORRESOLVE_LOG_FORMAT      text, json or color
//	MIRRORRESOLVE_LOG_OUTPUT      stderr, stdout, null or file:<path>
//	MIRRORRESOLVE_LOG_COMPONENTS  comma separated list, or "all"
//	MIRRORRESOLVE_LOG_CALLER      true/1
//	MIRRORRESOLVE_LOG_TIMESTAMP   true/1
func EnvironmentConfig() *LogConfig {
	return environmentConfig(os.Getenv)
}

func environmentConfig(getenv func(string) string) *LogConfig {
	config := DefaultLogConfig()

	if level := getenv(EnvPrefix + "LEVEL"); level != "" {
		config.Level = level
	}
	if format := getenv(EnvPrefix + "FORMAT"); format != "" {
		config.Format = format
	}
	if output := getenv(EnvPrefix + "OUTPUT"); output != "" {
		config.Output = output
	}
	if caller := getenv(EnvPrefix + "CALLER"); caller != "" {
		config.ShowCaller = caller == "true" || caller == "1"
	}
	if timestamp := getenv(EnvPrefix + "TIMESTAMP"); timestamp != "" {
		config.Timestamp = timestamp == "true" || timestamp == "1"
	}
	if components := getenv(EnvPrefix + "COMPONENTS"); components != "" {
		config.Components = make(map[string]bool)
		for _, comp := range strings.Split(components, ",") {
			if comp = strings.TrimSpace(comp); comp != "" {
				config.Components[comp] = true
			}
		}
	}

	return config
}

// ValidateConfig validates the configuration without opening any output.
func (c *LogConfig) ValidateConfig() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	if _, err := ParseFormat(c.Format); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}
	switch out := strings.ToLower(c.Output); {
	case out == "", out == "stderr", out == "stdout", out == "null", out == "none":
	case strings.HasPrefix(c.Output, "file:") && len(c.Output) > len("file:"):
	default:
		return fmt.Errorf("invalid output: %s", c.Output)
	}
	for name := range c.Components {
		if name == "all" {
			continue
		}
		if !knownComponent(Component(name)) {
			return fmt.Errorf("invalid component: %s", name)
		}
	}
	return nil
}

func knownComponent(c Component) bool {
	for _, known := range Components {
		if c == known {
			return true
		}
	}
	return false
}
