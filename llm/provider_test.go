package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockProvider{name: "anthropic", response: "ok"})

	p, ok := r.Get("anthropic")
	require.True(t, ok)
	resp, err := p.Chat(context.Background(), ChatRequest{Model: "x", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestMockProvider_PropagatesError(t *testing.T) {
	p := &mockProvider{name: "flaky", err: errors.New("boom")}
	_, err := p.Chat(context.Background(), ChatRequest{})
	assert.Error(t, err)
}

func TestEstimateTokenizer_CJKAndASCII(t *testing.T) {
	tok := estimateTokenizer{}
	assert.Greater(t, tok.CountTokens("hello world"), 0)
	assert.Greater(t, tok.CountTokens("你好世界"), 0)
	assert.Equal(t, 0, tok.CountTokens(""))
}

func TestEstimateTokenizer_CountMessages(t *testing.T) {
	tok := estimateTokenizer{}
	msgs := []Message{{Role: RoleUser, Content: "hello"}, {Role: RoleAssistant, Content: "world"}}
	assert.Greater(t, tok.CountMessages(msgs), tok.CountTokens("hello")+tok.CountTokens("world"))
}
