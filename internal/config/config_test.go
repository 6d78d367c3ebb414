package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidate_MaxTokens_Bounds(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.MaxTokens = 0
	assert.Error(t, Validate(cfg))

	cfg.Agent.MaxTokens = 40000
	assert.Error(t, Validate(cfg))

	cfg.Agent.MaxTokens = 1
	assert.NoError(t, Validate(cfg))

	cfg.Agent.MaxTokens = 32768
	assert.NoError(t, Validate(cfg))
}

func TestValidate_Temperature(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.Temperature = -0.1
	assert.Error(t, Validate(cfg))

	cfg.Agent.Temperature = 2.5
	assert.Error(t, Validate(cfg))
}

func TestValidate_TransactionModes(t *testing.T) {
	for _, mode := range []string{"partial", "atomic"} {
		cfg := Defaults()
		cfg.Agent.Transaction = mode
		assert.NoError(t, Validate(cfg), "mode %q should be valid", mode)
	}

	cfg := Defaults()
	cfg.Agent.Transaction = "eventual"
	assert.Error(t, Validate(cfg))
}

func TestValidate_ToolTimeoutAndMaxCalls(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.ToolTimeoutSeconds = 0
	assert.Error(t, Validate(cfg))

	cfg = Defaults()
	cfg.Agent.MaxCalls = 0
	assert.Error(t, Validate(cfg))
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.HTTP.Port = -1
	assert.Error(t, Validate(cfg))

	cfg.Channels.HTTP.Port = 70000
	assert.Error(t, Validate(cfg))
}

func TestValidate_InvalidDenyRegexp(t *testing.T) {
	cfg := Defaults()
	cfg.Security.DenyPatterns = append(cfg.Security.DenyPatterns, "re:([")
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid regexp")
}

func TestValidate_LiteralDenyPatternWithParens(t *testing.T) {
	cfg := Defaults()
	cfg.Security.DenyPatterns = append(cfg.Security.DenyPatterns, "open(")
	assert.NoError(t, Validate(cfg))
}

func TestValidate_NoTools(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.Enabled = nil
	assert.Error(t, Validate(cfg))
}

func TestValidate_NoteBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.Notes.MaxNoteBytes = 0
	assert.Error(t, Validate(cfg))

	cfg = Defaults()
	cfg.Tools.Notes.MaxNotes = 0
	assert.Error(t, Validate(cfg))
}

func TestValidate_UnknownProviders(t *testing.T) {
	cfg := Defaults()
	cfg.General.DefaultProvider = "nope"
	assert.Error(t, Validate(cfg))

	cfg = Defaults()
	cfg.General.FailoverChain = []string{"huggingface", "missing"}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestValidate_Schedules(t *testing.T) {
	cfg := Defaults()
	cfg.Schedules = []ScheduleConfig{
		{Name: "daily", Spec: "0 9 * * *", Task: "Calculate 1+1"},
		{Name: "daily", Spec: "0 10 * * *", Task: "Calculate 2+2"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")

	cfg.Schedules = []ScheduleConfig{{Name: "empty"}}
	assert.Error(t, Validate(cfg))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	cfg.Agent.MaxCalls = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general.logLevel")
	assert.Contains(t, err.Error(), "agent.maxCalls")
}

func TestValidate_TelemetryRequiresEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Telemetry.Enabled = true
	assert.Error(t, Validate(cfg))

	cfg.Telemetry.Endpoint = "localhost:4318"
	assert.NoError(t, Validate(cfg))
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	original := Defaults()
	original.Agent.Transaction = "atomic"

	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "atomic", loaded.Agent.Transaction)
}

func TestLoadSave_YAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := Defaults()
	original.Agent.MaxCalls = 7
	original.Schedules = []ScheduleConfig{{Name: "tick", Spec: "*/5 * * * *", Task: "Calculate 3*3", Enabled: true}}

	require.NoError(t, Save(path, original))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "maxCalls: 7")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Agent.MaxCalls)
	require.Len(t, loaded.Schedules, 1)
	assert.Equal(t, "tick", loaded.Schedules[0].Name)
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := "agent:\n  transaction: atomic\nchannels:\n  telegram:\n    allowFrom: [\"123\", 456]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "atomic", cfg.Agent.Transaction)
	assert.Equal(t, 500, cfg.Agent.MaxTokens)
	assert.Equal(t, FlexStringList{"123", "456"}, cfg.Channels.Telegram.AllowFrom)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	assert.Error(t, err)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json}"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"agent": {"maxCalls": 0}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.maxCalls")
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_SCRIPTAGENT_ROLE", "Ledger Agent")
	t.Setenv("TEST_SCRIPTAGENT_KEY", "hf-secret")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"agent": {"role": "${TEST_SCRIPTAGENT_ROLE}"},
		"providers": {"huggingface": {"enabled": true, "apiBase": "https://router.huggingface.co/v1", "apiKey": "${TEST_SCRIPTAGENT_KEY}"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Ledger Agent", cfg.Agent.Role)
	assert.Equal(t, "hf-secret", cfg.Providers["huggingface"].APIKey)
}

func TestResolve_DropsUnresolvedSecrets(t *testing.T) {
	os.Unsetenv("HF_TOKEN")
	cfg := Defaults()
	Resolve(cfg)
	assert.Empty(t, cfg.Providers["huggingface"].APIKey)
}

func TestResolve_ExpandsHomePaths(t *testing.T) {
	cfg := Defaults()
	Resolve(cfg)
	assert.NotContains(t, cfg.Memory.DBPath, "~")
	assert.True(t, filepath.IsAbs(cfg.Memory.DBPath))
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "agent.transaction")
	require.NoError(t, err)
	assert.Equal(t, "partial", val)

	val, err = GetByPath(cfg, "security.denyPatterns.1")
	require.NoError(t, err)
	assert.Equal(t, "eval", val)
}

func TestGetByPath_InvalidPath(t *testing.T) {
	_, err := GetByPath(Defaults(), "nonexistent.path")
	assert.Error(t, err)

	_, err = GetByPath(Defaults(), "security.denyPatterns.99")
	assert.Error(t, err)
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, SetByPath(cfg, "general.defaultProvider", "groq"))
	assert.Equal(t, "groq", cfg.General.DefaultProvider)
}

func TestSetByPath_EmptyPath(t *testing.T) {
	assert.Error(t, SetByPath(Defaults(), "", "x"))
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, SetByPath(cfg, "memory.enabled", "false"))
	assert.False(t, cfg.Memory.Enabled)
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, SetByPath(cfg, "agent.maxCalls", "50"))
	assert.Equal(t, 50, cfg.Agent.MaxCalls)
}

func TestSetByPath_ListFromCommaString(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, SetByPath(cfg, "tools.enabled", "calculate, save_note"))
	assert.Equal(t, []string{"calculate", "save_note"}, cfg.Tools.Enabled)
}

func TestSetByPath_NewProvider(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, SetByPath(cfg, "providers.openai.apiKey", "sk-test"))
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
	assert.Contains(t, cfg.Providers, "huggingface")
}

func TestSetByPath_TypeMismatch(t *testing.T) {
	cfg := Defaults()
	err := SetByPath(cfg, "agent.maxCalls", "many")
	assert.Error(t, err)
	assert.Equal(t, 32, cfg.Agent.MaxCalls, "failed set must leave config untouched")
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Channels.HTTP.APIKey = "http-gateway-key-12345678"
	cfg.Providers["openai"] = ProviderConfig{Enabled: true, APIKey: "sk-1234567890abcdefghijklmnop"}

	sanitized := Sanitize(cfg)

	assert.NotEqual(t, cfg.Channels.Telegram.Token, sanitized.Channels.Telegram.Token)
	assert.NotEqual(t, cfg.Channels.HTTP.APIKey, sanitized.Channels.HTTP.APIKey)
	assert.Equal(t, "sk-1****mnop", sanitized.Providers["openai"].APIKey)
	assert.Equal(t, "123456789:ABCdefGHIjklMNOpqrSTUvwxyz", cfg.Channels.Telegram.Token, "original config should not be modified")
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	assert.Equal(t, "***", Sanitize(cfg).Channels.Telegram.Token)
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	require.NotEmpty(t, paths)
	for _, expected := range []string{"general.dataDir", "agent.transaction", "memory.enabled", "tools.notes.maxNotes"} {
		assert.Contains(t, paths, expected)
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var list FlexStringList
	require.NoError(t, json.Unmarshal([]byte(`["hello", 123, "world", 456.0]`), &list))
	assert.Equal(t, FlexStringList{"hello", "123", "world", "456"}, list)
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	assert.Error(t, json.Unmarshal([]byte(`not json`), &list))
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	assert.Equal(t, `{"apiKey": "sk-abc123"}`, ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`))
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	assert.Equal(t, `{"port": "8080"}`, ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`))
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	assert.Equal(t, `{"port": "9090"}`, ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`))
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	assert.Equal(t, `"${TOTALLY_UNSET_VAR_XYZ}"`, ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`))
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	assert.Equal(t, `"fallback"`, ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`))
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	assert.Equal(t, input, ExpandEnvVars(input))
}

// --- Defaults ---

func TestDefaults_MatchModelSettings(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 500, cfg.Agent.MaxTokens)
	assert.InDelta(t, 0.7, cfg.Agent.Temperature, 1e-9)
	assert.Equal(t, []string{"exec", "eval", "__", "import"}, cfg.Security.DenyPatterns)
	assert.Equal(t, []string{"calculate", "save_note"}, cfg.Tools.Enabled)
	assert.Equal(t, "huggingface", cfg.General.DefaultProvider)
}
