// Package llm provides the provider-agnostic completion client.
//
// Every supported provider speaks the OpenAI-compatible chat protocol, so a
// single client covers them all. The gateway runs two logical roles on top of
// this package: a "fast structured" service for classification and extraction,
// and a "high fluency" service for dialogue and creative rewriting.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Options tunes a single completion call.
type Options struct {
	Temperature float32
	MaxTokens   int
	// JSONMode asks the provider to emit a single JSON object.
	JSONMode bool
}

// Service is the LLM service interface.
type Service interface {
	// Complete performs a single system+user exchange and returns the text.
	Complete(ctx context.Context, system, user string, opts Options) (string, error)

	// Chat performs a multi-message exchange.
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)

	// Warmup sends a lightweight ping request to establish the connection.
	Warmup(ctx context.Context)
}

// ErrBusy is returned when the per-provider concurrency cap is exhausted.
var ErrBusy = fmt.Errorf("llm: provider concurrency cap reached")

// UsageRecorder receives token and latency accounting for each completed
// call. The metrics exporter satisfies it.
type UsageRecorder interface {
	RecordLLMUsage(model, role string, promptTokens, completionTokens int, latency time.Duration)
}

// Config represents LLM service configuration.
type Config struct {
	Provider    string // openai, deepseek, siliconflow, openrouter, ollama, ...
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     int     // request timeout in seconds (default: 30)
	MaxInFlight int64   // concurrent call cap (default: 8)

	// Role labels this service's usage metrics ("fast", "fluent").
	Role  string
	Usage UsageRecorder // optional
}

type service struct {
	client      *openai.Client
	inflight    *semaphore.Weighted
	model       string
	provider    string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	role        string
	usage       UsageRecorder
}

// NewService creates a new LLM Service.
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	} else {
		switch cfg.Provider {
		case "deepseek":
			clientConfig.BaseURL = "https://api.deepseek.com"
		case "siliconflow":
			clientConfig.BaseURL = "https://api.siliconflow.cn/v1"
		case "openrouter":
			clientConfig.BaseURL = "https://openrouter.ai/api/v1"
		case "ollama":
			clientConfig.BaseURL = "http://localhost:11434/v1"
		case "openai", "":
			// library default
		default:
			slog.Info("using generic OpenAI-compatible provider", "provider", cfg.Provider)
		}
	}
	clientConfig.HTTPClient = newHTTPClient()

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 8
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		inflight:    semaphore.NewWeighted(maxInFlight),
		model:       cfg.Model,
		provider:    cfg.Provider,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     time.Duration(timeout) * time.Second,
		role:        cfg.Role,
		usage:       cfg.Usage,
	}, nil
}

func (s *service) Complete(ctx context.Context, system, user string, opts Options) (string, error) {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: user})
	return s.Chat(ctx, messages, opts)
}

func (s *service) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if !s.inflight.TryAcquire(1) {
		return "", ErrBusy
	}
	defer s.inflight.Release(1)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = s.temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    convertMessages(messages),
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("llm: chat request failed", "provider", s.provider, "error", err)
		return "", fmt.Errorf("llm chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("llm: empty response", "provider", s.provider)
		return "", fmt.Errorf("empty response from LLM")
	}

	if s.usage != nil {
		s.usage.RecordLLMUsage(s.model, s.role, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, time.Since(start))
	}
	slog.Debug("llm: chat response received",
		"provider", s.provider,
		"model", s.model,
		"content_length", len(resp.Choices[0].Message.Content),
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

// Warmup sends a minimal request to establish the HTTP connection.
// Best-effort: failures only log.
func (s *service) Warmup(ctx context.Context) {
	_, err := s.Complete(ctx, "", "ping", Options{MaxTokens: 1})
	if err != nil {
		slog.Debug("llm: warmup failed", "provider", s.provider, "error", err)
	}
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// newHTTPClient builds an HTTP client with connection reuse tuned for
// long-lived provider endpoints.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 60 * time.Second,
			}).DialContext,
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}
