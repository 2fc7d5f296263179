package llm

import "context"

// mockProvider is a deterministic, in-memory Provider used across this
// package's and the coordinator's tests, mirroring the teacher's
// testutil mock-provider convention without depending on any vendor SDK.
type mockProvider struct {
	name     string
	response string
	err      error
	calls    int
}

func (m *mockProvider) Name() string        { return m.name }
func (m *mockProvider) SupportsVision() bool { return false }

func (m *mockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	m.calls++
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	return ChatResponse{Text: m.response, Usage: Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}
