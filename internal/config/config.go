package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for scriptagent.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Agent     AgentConfig               `json:"agent"`
	Security  SecurityConfig            `json:"security"`
	Tools     ToolsConfig               `json:"tools"`
	Memory    MemoryConfig              `json:"memory"`
	Channels  ChannelsConfig            `json:"channels"`
	Schedules []ScheduleConfig          `json:"schedules,omitempty"`
	Metrics   MetricsConfig             `json:"metrics"`
	Telemetry TelemetryConfig           `json:"telemetry"`
}

type GeneralConfig struct {
	DataDir         string   `json:"dataDir"`
	LogLevel        string   `json:"logLevel"`
	LogFile         string   `json:"logFile,omitempty"`
	DefaultProvider string   `json:"defaultProvider"`
	FailoverChain   []string `json:"failoverChain,omitempty"` // provider failover order
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
}

// AgentConfig tunes the task pipeline.
type AgentConfig struct {
	Role                string  `json:"role"`
	MaxTokens           int     `json:"maxTokens"`
	Temperature         float64 `json:"temperature"`
	Transaction         string  `json:"transaction"` // "partial" | "atomic"
	ToolTimeoutSeconds  int     `json:"toolTimeoutSeconds"`
	ModelTimeoutSeconds int     `json:"modelTimeoutSeconds"`
	MaxCalls            int     `json:"maxCalls"`
}

// SecurityConfig configures the candidate gate. Patterns are literal
// substrings unless prefixed with "re:".
type SecurityConfig struct {
	AllowPatterns []string `json:"allowPatterns,omitempty"` // added to the per-tool "<name>(" patterns
	DenyPatterns  []string `json:"denyPatterns"`
	AuditLog      bool     `json:"auditLog"`
}

type ToolsConfig struct {
	Enabled []string        `json:"enabled"`
	Notes   NotesToolConfig `json:"notes"`
}

type NotesToolConfig struct {
	MaxNoteBytes int `json:"maxNoteBytes"`
	MaxNotes     int `json:"maxNotes"`
}

type MemoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	APIKey  string `json:"apiKey,omitempty"`
}

// ScheduleConfig runs Task on a 5-field cron Spec while the gateway is up.
type ScheduleConfig struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"`
	Task    string `json:"task"`
	Enabled bool   `json:"enabled"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// TelemetryConfig configures OTLP/HTTP trace export.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty"` // host:port of the OTLP/HTTP collector
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"serviceName"`
	SampleRatio float64 `json:"sampleRatio"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.scriptagent).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scriptagent"
	}
	return filepath.Join(home, ".scriptagent")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a JSON or YAML config file (chosen by extension), substitutes
// environment variables, applies it over Defaults and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	Resolve(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Resolve expands ~/ paths and ${VAR} references left in secret fields.
// Load calls it; callers falling back to Defaults() should call it too.
func Resolve(cfg *Config) {
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)

	for name, pc := range cfg.Providers {
		pc.APIKey = resolveSecret(pc.APIKey)
		cfg.Providers[name] = pc
	}
	cfg.Channels.Telegram.Token = resolveSecret(cfg.Channels.Telegram.Token)
	cfg.Channels.HTTP.APIKey = resolveSecret(cfg.Channels.HTTP.APIKey)
}

// resolveSecret expands s and drops it entirely if a reference is still
// unresolved, so a literal "${HF_TOKEN}" is never sent as a credential.
func resolveSecret(s string) string {
	s = ExpandEnvVars(s)
	if envVarPattern.MatchString(s) {
		return ""
	}
	return s
}

// yamlToJSON re-encodes a YAML document as JSON so a single set of struct
// tags drives both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg to path, as YAML when the extension asks for it.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	if isYAML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if cfg.Agent.MaxTokens < 1 || cfg.Agent.MaxTokens > 32768 {
		errs = append(errs, "agent.maxTokens must be between 1 and 32768")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, "agent.temperature must be between 0 and 2")
	}
	switch cfg.Agent.Transaction {
	case "partial", "atomic":
	default:
		errs = append(errs, "agent.transaction must be one of: partial, atomic")
	}
	if cfg.Agent.ToolTimeoutSeconds < 1 {
		errs = append(errs, "agent.toolTimeoutSeconds must be >= 1")
	}
	if cfg.Agent.ModelTimeoutSeconds < 1 {
		errs = append(errs, "agent.modelTimeoutSeconds must be >= 1")
	}
	if cfg.Agent.MaxCalls < 1 || cfg.Agent.MaxCalls > 1000 {
		errs = append(errs, "agent.maxCalls must be between 1 and 1000")
	}

	for _, p := range cfg.Security.DenyPatterns {
		if p == "" {
			errs = append(errs, "security.denyPatterns must not contain empty patterns")
			continue
		}
		if expr, ok := strings.CutPrefix(p, "re:"); ok {
			if _, err := regexp.Compile(expr); err != nil {
				errs = append(errs, fmt.Sprintf("security.denyPatterns: invalid regexp %q: %v", expr, err))
			}
		}
	}

	if len(cfg.Tools.Enabled) == 0 {
		errs = append(errs, "tools.enabled must list at least one tool")
	}
	if cfg.Tools.Notes.MaxNoteBytes < 1 {
		errs = append(errs, "tools.notes.maxNoteBytes must be >= 1")
	}
	if cfg.Tools.Notes.MaxNotes < 1 {
		errs = append(errs, "tools.notes.maxNotes must be >= 1")
	}

	if cfg.Memory.Enabled && cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required when memory is enabled")
	}

	if cfg.Channels.HTTP.Port < 0 || cfg.Channels.HTTP.Port > 65535 {
		errs = append(errs, "channels.http.port must be between 0 and 65535")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	seen := make(map[string]bool, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		if s.Name == "" || s.Spec == "" || s.Task == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d]: name, spec and task are required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("schedules[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		errs = append(errs, "telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry.sampleRatio must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
