// Package coordinator implements the multi-role LLM coordinator (C6):
// the Planner that turns a Task instruction into a StrategicPlan, and the
// Actor/Extractor that turn a plan step and the current BrowserState into
// the next Action or a final extraction.
package coordinator

import (
	"context"
	"fmt"

	"github.com/browserpilot/engine/llm"
	"github.com/browserpilot/engine/session"
	"github.com/browserpilot/engine/session/retry"
)

// Coordinator drives the Plan -> Act -> Report loop's LLM-facing half. It
// is stateless across calls; all session state lives in the session.Session
// the FSM passes in. The instruction, DOM, and content it receives have
// already passed through the guardrail at the session actor, one level up
// the call chain, so it never sees raw untrusted text.
type Coordinator struct {
	registry *llm.Registry
	tok      llm.Tokenizer
}

// New builds a Coordinator over the given provider registry.
func New(registry *llm.Registry) *Coordinator {
	return &Coordinator{
		registry: registry,
		tok:      llm.NewTiktokenTokenizer("claude-sonnet-4"),
	}
}

func retryPolicy(s session.RetryStrategy) retry.Policy {
	return retry.Policy{
		MaxAttempts:    s.MaxAttempts,
		InitialDelay:   s.InitialDelay,
		MaxDelay:       s.MaxDelay,
		BackoffFactor:  s.BackoffFactor,
		JitterFraction: s.JitterFraction,
	}
}

// provider resolves the LLM capability for one call. A session-scoped
// apiKey (carried on the execute request, never persisted) takes
// precedence and is used to build a fresh, credential-bound adapter on the
// spot; an empty apiKey falls back to the process-wide registry entry
// built from the process's own default credential.
func (c *Coordinator) provider(cfg session.Config, apiKey string) (llm.Provider, error) {
	name := cfg.Provider
	if name == "" {
		name = "anthropic"
	}
	if apiKey != "" {
		switch name {
		case "openai":
			return llm.NewOpenAIProvider(apiKey), nil
		default:
			return llm.NewAnthropicProvider(apiKey), nil
		}
	}
	p, ok := c.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("coordinator: unknown provider %q", name)
	}
	return p, nil
}

// Plan produces a StrategicPlan for the given task instruction and
// current browser state. Both are expected to have already passed through
// the guardrail; Plan itself does not sanitize.
func (c *Coordinator) Plan(ctx context.Context, sess *session.Session, task *session.Task, apiKey string) (*session.StrategicPlan, int, error) {
	prompt := buildPlanningPrompt(task.Instruction, sess.BrowserState.DOM, sess.BrowserState.URL)

	p, err := c.provider(sess.Config, apiKey)
	if err != nil {
		return nil, 0, err
	}

	r := retry.New(retryPolicy(sess.Config.Retry))
	var tokensUsed int
	result2, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		resp, err := p.Chat(ctx, llm.ChatRequest{
			Model:     modelFor(sess.Config),
			Messages:  []llm.Message{{Role: llm.RoleSystem, Content: planningSystemPrompt}, {Role: llm.RoleUser, Content: prompt}},
			MaxTokens: 1024,
		})
		if err != nil {
			return nil, err
		}
		tokensUsed = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		if tokensUsed == 0 {
			tokensUsed = c.tok.CountTokens(prompt) + c.tok.CountTokens(resp.Text)
		}
		return resp.Text, nil
	})
	if err != nil {
		return nil, tokensUsed, err
	}

	plan, err := ParsePlan(result2.(string))
	if err != nil {
		return nil, tokensUsed, fmt.Errorf("parse plan: %w", err)
	}
	return plan, tokensUsed, nil
}

// NextAction asks the LLM for the single next Action given the current
// plan step and browser state. It returns a session.Action with Type
// "complete" (session.ActionDone) when the LLM reports the task complete.
func (c *Coordinator) NextAction(ctx context.Context, sess *session.Session, task *session.Task, apiKey string) (session.Action, int, error) {
	prompt := buildActionPrompt(task, sess.BrowserState.DOM, sess.BrowserState.URL)

	p, err := c.provider(sess.Config, apiKey)
	if err != nil {
		return session.Action{}, 0, err
	}

	r := retry.New(retryPolicy(sess.Config.Retry))
	var tokensUsed int
	result, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		msgs := []llm.Message{{Role: llm.RoleSystem, Content: actionSystemPrompt}, {Role: llm.RoleUser, Content: prompt}}
		if sess.Config.EnableVision && p.SupportsVision() && sess.BrowserState.ScreenshotB64 != "" {
			msgs[len(msgs)-1].Attachments = []llm.Attachment{{MediaType: "image/png", DataB64: sess.BrowserState.ScreenshotB64}}
		}
		resp, err := p.Chat(ctx, llm.ChatRequest{Model: modelFor(sess.Config), Messages: msgs, MaxTokens: 512})
		if err != nil {
			return nil, err
		}
		tokensUsed = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		if tokensUsed == 0 {
			tokensUsed = c.tok.CountTokens(prompt) + c.tok.CountTokens(resp.Text)
		}
		return resp.Text, nil
	})
	if err != nil {
		return session.Action{}, tokensUsed, err
	}

	action, err := ParseAction(result.(string), task.ID)
	if err != nil {
		return session.Action{}, tokensUsed, fmt.Errorf("parse action: %w", err)
	}
	return action, tokensUsed, nil
}

// Extract asks the LLM to summarize the final DOM/extraction text into
// a text result for the task; its only caller is Engine.Extract. The DOM
// is expected to have already passed through the guardrail.
func (c *Coordinator) Extract(ctx context.Context, sess *session.Session, task *session.Task, apiKey string) (string, int, error) {
	p, err := c.provider(sess.Config, apiKey)
	if err != nil {
		return "", 0, err
	}

	prompt := buildExtractPrompt(task.Instruction, sess.BrowserState.DOM)
	resp, err := p.Chat(ctx, llm.ChatRequest{
		Model:     modelFor(sess.Config),
		Messages:  []llm.Message{{Role: llm.RoleSystem, Content: extractSystemPrompt}, {Role: llm.RoleUser, Content: prompt}},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", 0, err
	}
	tokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	return resp.Text, tokens, nil
}

// ExtractFields implements the Extractor role (§4.6) against arbitrary
// caller-supplied content rather than the active task's browser state,
// backing the /extract route: given a set of field names and a content
// blob, it asks the LLM for a JSON object mapping each field to its
// extracted value (or null when absent) plus a confidence score.
func (c *Coordinator) ExtractFields(ctx context.Context, cfg session.Config, apiKey string, fields []string, content, prompt string) (map[string]any, float64, int, error) {
	p, err := c.provider(cfg, apiKey)
	if err != nil {
		return nil, 0, 0, err
	}

	userPrompt := buildFieldExtractionPrompt(fields, content, prompt)
	resp, err := p.Chat(ctx, llm.ChatRequest{
		Model:       modelFor(cfg),
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: fieldExtractionSystemPrompt}, {Role: llm.RoleUser, Content: userPrompt}},
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	tokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	if tokens == 0 {
		tokens = c.tok.CountTokens(userPrompt) + c.tok.CountTokens(resp.Text)
	}

	data, confidence, err := ParseExtraction(resp.Text, fields)
	if err != nil {
		return nil, 0, tokens, fmt.Errorf("parse extraction: %w", err)
	}
	return data, confidence, tokens, nil
}

func modelFor(cfg session.Config) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	if cfg.Provider == "openai" {
		return "gpt-4o"
	}
	return "claude-sonnet-4-20250514"
}
