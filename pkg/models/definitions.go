package models

import "time"

// AdapterKind selects whether an agent consumes MCP tool sessions directly
// (native) or through a flattened function-call surface (wrapper).
type AdapterKind string

const (
	AdapterNative  AdapterKind = "native-mcp"
	AdapterWrapper AdapterKind = "function-call"
)

// AgentDefinition configures one agent: which model it drives, which tool
// servers it may reach, and how it talks to the model (native vs wrapper).
type AgentDefinition struct {
	Name           string      `yaml:"name" json:"name"`
	Description    string      `yaml:"description,omitempty" json:"description,omitempty"`
	ModelName      string      `yaml:"model" json:"model"`
	Adapter        AdapterKind `yaml:"adapter" json:"adapter"`
	SystemPrompt   string      `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	ToolServers    []string    `yaml:"tool_servers,omitempty" json:"tool_servers,omitempty"`
	MaxIterations  int         `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	MaxToolCalls   int         `yaml:"max_tool_calls,omitempty" json:"max_tool_calls,omitempty"`
	CacheResponses bool        `yaml:"cache_responses,omitempty" json:"cache_responses,omitempty"`
}

// ModelDefinition describes one model and the provider that serves it.
type ModelDefinition struct {
	Name          string `yaml:"name" json:"name"`
	Provider      string `yaml:"provider" json:"provider"`
	ModelID       string `yaml:"model_id" json:"model_id"`
	SupportsMCP   bool   `yaml:"supports_mcp" json:"supports_mcp"`
	SupportsTools bool   `yaml:"supports_tools" json:"supports_tools"`
	MaxTokens     int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKeyEnv     string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
}

// ToolServerTransport names how a tool server is reached.
type ToolServerTransport string

const (
	TransportStdio ToolServerTransport = "stdio"
	TransportSSE   ToolServerTransport = "sse"
)

// ToolServerDefinition configures one MCP tool server.
type ToolServerDefinition struct {
	Name         string              `yaml:"name" json:"name"`
	Transport    ToolServerTransport `yaml:"transport" json:"transport"`
	Command      string              `yaml:"command,omitempty" json:"command,omitempty"`
	Args         []string            `yaml:"args,omitempty" json:"args,omitempty"`
	Env          map[string]string   `yaml:"env,omitempty" json:"env,omitempty"`
	WorkDir      string              `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	URL          string              `yaml:"url,omitempty" json:"url,omitempty"`
	Headers      map[string]string   `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout      time.Duration       `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	AutoStart    bool                `yaml:"auto_start,omitempty" json:"auto_start,omitempty"`
	WrapAsFunctions bool             `yaml:"wrap_as_functions" json:"wrap_as_functions"`
}
