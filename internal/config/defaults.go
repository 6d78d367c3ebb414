package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:         "~/.scriptagent",
			LogLevel:        "info",
			DefaultProvider: "huggingface",
		},
		Providers: map[string]ProviderConfig{
			"huggingface": {
				Enabled:      true,
				APIBase:      "https://router.huggingface.co/v1",
				APIKey:       "${HF_TOKEN}",
				DefaultModel: "Qwen/Qwen2.5-Coder-32B-Instruct",
			},
			"groq": {
				Enabled:      false,
				APIBase:      "https://api.groq.com/openai/v1",
				APIKey:       "${GROQ_API_KEY}",
				DefaultModel: "llama-3.3-70b-versatile",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "qwen2.5-coder:7b",
			},
		},
		Agent: AgentConfig{
			Role:                "Task Agent",
			MaxTokens:           500,
			Temperature:         0.7,
			Transaction:         "partial",
			ToolTimeoutSeconds:  30,
			ModelTimeoutSeconds: 120,
			MaxCalls:            32,
		},
		Security: SecurityConfig{
			DenyPatterns: defaultDenyPatterns(),
			AuditLog:     true,
		},
		Tools: ToolsConfig{
			Enabled: []string{"calculate", "save_note"},
			Notes: NotesToolConfig{
				MaxNoteBytes: 4096,
				MaxNotes:     1000,
			},
		},
		Memory: MemoryConfig{
			Enabled: true,
			DBPath:  "~/.scriptagent/agent.db",
		},
		Channels: ChannelsConfig{
			HTTP: HTTPConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    8080,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "scriptagent",
			SampleRatio: 1,
		},
	}
}

func defaultDenyPatterns() []string {
	return []string{"exec", "eval", "__", "import"}
}
