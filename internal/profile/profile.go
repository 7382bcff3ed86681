package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LLMProfile holds the configuration for one LLM provider role.
type LLMProfile struct {
	Provider string // openai, deepseek, siliconflow, openrouter, ollama, ...
	APIKey   string
	BaseURL  string // optional, has a default per provider
	Model    string
	Timeout  int // request timeout in seconds
}

// Profile is configuration to start the main server.
type Profile struct {
	// FastLLM is the "fast structured" role: intent classification,
	// dimension assessment, fact extraction.
	FastLLM LLMProfile
	// FluentLLM is the "high fluency" role: dialogue and creative rewriting.
	FluentLLM LLMProfile

	// Warm and cold tier connections.
	RedisURL string
	MongoURI string
	MongoDB  string

	// Outbound webhook for approved actions.
	WebhookURL string

	// Shared machine-to-machine tokens.
	MCPToken    string
	BridgeToken string

	// BridgeValidationID is the fixed identifier returned by /api/mcp/validate.
	BridgeValidationID string

	// ToolGatewayURL is the HTTP facade for direct-automation tool calls.
	ToolGatewayURL string

	Mode    string
	Addr    string
	Data    string
	Version string
	Port    int

	// Feature flags.
	MemoryEnabled  bool
	ImplicitMemory bool
	DirectTools    []string // enabled tool families; empty means all
}

// Provider default configurations. Used when the base URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai":      {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o"},
	"deepseek":    {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
	"siliconflow": {BaseURL: "https://api.siliconflow.cn/v1", Model: "Qwen/Qwen2.5-72B-Instruct"},
	"openrouter":  {BaseURL: "https://openrouter.ai/api/v1", Model: "deepseek/deepseek-chat"},
	"ollama":      {BaseURL: "http://localhost:11434", Model: "llama3.1"},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled reports whether at least the fast LLM role is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.FastLLM.APIKey != "" || p.FastLLM.Provider == "ollama"
}

// DirectToolEnabled reports whether a tool family is enabled by configuration.
// An empty DirectTools list enables every family.
func (p *Profile) DirectToolEnabled(family string) bool {
	if len(p.DirectTools) == 0 {
		return true
	}
	for _, f := range p.DirectTools {
		if f == family {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func loadLLMProfile(prefix, defaultProvider string) LLMProfile {
	lp := LLMProfile{
		Provider: getEnvOrDefault(prefix+"_PROVIDER", defaultProvider),
		APIKey:   getEnvOrDefault(prefix+"_API_KEY", ""),
		BaseURL:  getEnvOrDefault(prefix+"_BASE_URL", ""),
		Model:    getEnvOrDefault(prefix+"_MODEL", ""),
		Timeout:  getEnvOrDefaultInt(prefix+"_TIMEOUT_SECONDS", 30),
	}
	if defaults, ok := llmProviderDefaults[lp.Provider]; ok {
		if lp.BaseURL == "" {
			lp.BaseURL = defaults.BaseURL
		}
		if lp.Model == "" {
			lp.Model = defaults.Model
		}
	}
	return lp
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.FastLLM = loadLLMProfile("PORTER_FAST_LLM", "siliconflow")
	p.FluentLLM = loadLLMProfile("PORTER_FLUENT_LLM", "deepseek")

	p.RedisURL = getEnvOrDefault("PORTER_REDIS_URL", "redis://localhost:6379/0")
	p.MongoURI = getEnvOrDefault("PORTER_MONGO_URI", "mongodb://localhost:27017")
	p.MongoDB = getEnvOrDefault("PORTER_MONGO_DB", "porter")

	p.WebhookURL = getEnvOrDefault("PORTER_WEBHOOK_URL", "")
	p.MCPToken = getEnvOrDefault("PORTER_MCP_TOKEN", "")
	p.BridgeToken = getEnvOrDefault("PORTER_BRIDGE_TOKEN", "")
	p.BridgeValidationID = getEnvOrDefault("PORTER_BRIDGE_VALIDATION_ID", "")
	p.ToolGatewayURL = getEnvOrDefault("PORTER_TOOL_GATEWAY_URL", "")

	p.MemoryEnabled = getEnvOrDefault("PORTER_MEMORY_ENABLED", "true") == "true"
	p.ImplicitMemory = getEnvOrDefault("PORTER_IMPLICIT_MEMORY", "false") == "true"
	if families := getEnvOrDefault("PORTER_DIRECT_TOOLS", ""); families != "" {
		for _, f := range strings.Split(families, ",") {
			if f = strings.TrimSpace(f); f != "" {
				p.DirectTools = append(p.DirectTools, f)
			}
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if a relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.MCPToken == "" && p.Mode == "prod" {
		return errors.New("PORTER_MCP_TOKEN must be set in prod mode")
	}
	if p.BridgeToken == "" && p.Mode == "prod" {
		return errors.New("PORTER_BRIDGE_TOKEN must be set in prod mode")
	}
	return nil
}

// MemoryFile is the path of the semantic memory document.
func (p *Profile) MemoryFile() string {
	return filepath.Join(p.Data, "semantic_memory.json")
}
