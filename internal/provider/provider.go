// Package provider wraps the LLM backend behind a small client used by the
// orchestrator, the conversation memory summarizer, and the tool set.
//
// All calls go through Genkit. The client owns the call policy: a per-call
// timeout, a token-bucket rate limiter shared across callers, and a bounded
// retry (a failed generation is retried exactly once before it is reported
// as ErrProvider).
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/storihq/stori-rag/internal/log"
)

// ErrProvider indicates the LLM backend failed after the retry budget was
// exhausted. Callers treat it as transient and convert it into a recorded
// failed response rather than propagating it.
var ErrProvider = errors.New("provider call failed")

// Role identifies the author of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the generation prompt.
type Message struct {
	Role Role
	Text string
}

// Completion is the result of a generation call.
type Completion struct {
	Text string
}

// Config holds client construction options.
type Config struct {
	Model       ai.Model      // required
	Temperature float32       // 0 disables the option
	MaxTokens   int           // 0 disables the option
	Timeout     time.Duration // per-attempt deadline; default 30s
	RateLimit   float64       // requests per second; 0 disables limiting
	Retry       RetryConfig
}

// Client is the LLM provider client. Safe for concurrent use.
type Client struct {
	g       *genkit.Genkit
	model   ai.Model
	cfg     Config
	limiter *rate.Limiter
	logger  log.Logger
}

// New creates a provider client. logger may be nil.
func New(g *genkit.Genkit, cfg Config, logger log.Logger) (*Client, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = log.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		g:       g,
		model:   cfg.Model,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With("component", "provider"),
	}, nil
}

// Complete runs one generation request: system instruction plus an ordered
// message list. The last message is expected to be the new user input.
func (c *Client) Complete(ctx context.Context, system string, msgs []Message) (*Completion, error) {
	aiMsgs := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		role := ai.RoleUser
		if m.Role == RoleAssistant {
			role = ai.RoleModel
		}
		aiMsgs = append(aiMsgs, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(m.Text)},
		})
	}

	opts := []ai.GenerateOption{
		ai.WithModel(c.model),
		ai.WithMessages(aiMsgs...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	if genCfg := c.generationConfig(); genCfg != nil {
		opts = append(opts, ai.WithConfig(genCfg))
	}

	resp, err := c.generateWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Completion{Text: strings.TrimSpace(resp.Text())}, nil
}

// generationConfig builds the model tuning map, or nil when nothing is set.
// Plugins decode the map into their native config type.
func (c *Client) generationConfig() map[string]any {
	m := map[string]any{}
	if c.cfg.Temperature > 0 {
		m["temperature"] = c.cfg.Temperature
	}
	if c.cfg.MaxTokens > 0 {
		m["maxOutputTokens"] = c.cfg.MaxTokens
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// generate performs a single attempt with rate limiting and timeout applied.
func (c *Client) generate(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := genkit.Generate(attemptCtx, c.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return resp, nil
}
