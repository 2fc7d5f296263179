// Package llm provides the narrow chat-completion capability (C9) the
// coordinator depends on, plus concrete adapters over the Anthropic and
// OpenAI wire protocols and a tiktoken-backed token estimator (C10).
package llm

import "context"

// Role is the speaker of one Message in a chat exchange.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is an inline image attached to a Message, used only when a
// session's config enables vision and the chosen model supports it.
type Attachment struct {
	MediaType string `json:"mediaType"` // e.g. "image/png"
	DataB64   string `json:"data"`
}

// Message is one turn in the conversation sent to a Provider.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Usage reports token consumption for one Chat call, when the vendor
// reports it. Providers leave it zero when the vendor omits usage; the
// coordinator then estimates the count with a Tokenizer.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// ChatRequest is the input to Provider.Chat.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"maxTokens"`
	Temperature float64   `json:"temperature"`
}

// ChatResponse is the output of Provider.Chat.
type ChatResponse struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Provider is the single capability the coordinator (C6) depends on. It
// intentionally exposes nothing vendor-specific: every SDK error is
// translated to a plain Go error whose message the retry classifier
// pattern-matches on ("rate limit", "timeout", "forbidden", ...).
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Name() string
	SupportsVision() bool
}

// Registry resolves a provider name (as carried on a session's
// config.provider field) to a concrete Provider instance.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a Provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get resolves a provider name to a Provider, or reports ok=false.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
