package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserpilot/engine/llm"
	"github.com/browserpilot/engine/session"
)

type stubProvider struct {
	name     string
	response string
	err      error
}

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) SupportsVision() bool { return false }
func (s *stubProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if s.err != nil {
		return llm.ChatResponse{}, s.err
	}
	return llm.ChatResponse{Text: s.response, Usage: llm.Usage{PromptTokens: 5, CompletionTokens: 5}}, nil
}

func newTestCoordinator(response string) (*Coordinator, *session.Session) {
	reg := llm.NewRegistry()
	reg.Register(&stubProvider{name: "anthropic", response: response})
	c := New(reg)
	sess := session.NewSession(session.DefaultConfig())
	sess.BrowserState = session.BrowserState{URL: "https://example.com", DOM: "<html>hello</html>"}
	return c, sess
}

func TestCoordinator_PlanParsesFencedJSON(t *testing.T) {
	fenced := "```json\n{\"rationale\": \"go to page\", \"steps\": [\"click login\"], \"done\": false}\n```"
	c, sess := newTestCoordinator(fenced)
	task := sess.NewTask("log in")

	plan, tokens, err := c.Plan(context.Background(), sess, task, "")
	require.NoError(t, err)
	assert.Equal(t, "go to page", plan.Rationale)
	assert.Equal(t, []string{"click login"}, plan.Steps)
	assert.Greater(t, tokens, 0)
}

func TestCoordinator_NextActionParsesJSON(t *testing.T) {
	raw := `{"type": "click", "selector": "#submit", "rationale": "submit form"}`
	c, sess := newTestCoordinator(raw)
	task := sess.NewTask("submit the form")

	action, _, err := c.NextAction(context.Background(), sess, task, "")
	require.NoError(t, err)
	assert.Equal(t, session.ActionClick, action.Type)
	assert.Equal(t, "#submit", action.Selector)
	assert.Equal(t, task.ID, action.TaskID)
}

func TestCoordinator_NextActionPropagatesProviderError(t *testing.T) {
	reg := llm.NewRegistry()
	reg.Register(&stubProvider{name: "anthropic", err: assertErrCoordinator})
	c := New(reg)
	sess := session.NewSession(session.Config{Provider: "anthropic", Retry: session.RetryStrategy{MaxAttempts: 1, BackoffFactor: 2}})
	task := sess.NewTask("do something")

	_, _, err := c.NextAction(context.Background(), sess, task, "")
	require.Error(t, err)
}

type coordinatorTestError string

func (e coordinatorTestError) Error() string { return string(e) }

var assertErrCoordinator = coordinatorTestError("forbidden: bad api key")
