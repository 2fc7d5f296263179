package handlers

import "github.com/browserpilot/engine/session"

// CreateSessionRequest is the body of POST /sessions/create.
type CreateSessionRequest struct {
	ExtensionID string          `json:"extensionId,omitempty"`
	Config      *session.Config `json:"config,omitempty"`
}

// CreateSessionResponse answers POST /sessions/create. DurableObjectID
// mirrors SessionID: this engine has no separate durable-object identity,
// but the field is kept on the wire for clients written against the
// original two-ID contract.
type CreateSessionResponse struct {
	SessionID       string `json:"sessionId"`
	DurableObjectID string `json:"durableObjectId"`
}

// ExecuteRequest is the body of POST /sessions/{id}/execute.
type ExecuteRequest struct {
	Task     string          `json:"task"`
	APIKey   string          `json:"apiKey"`
	Vision   bool            `json:"vision,omitempty"`
	Model    string          `json:"model,omitempty"`
	Provider string          `json:"provider,omitempty"`
	Config   *session.Config `json:"config,omitempty"`
}

// TaskResponse answers execute and follow-up.
type TaskResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId"`
}

// FollowUpRequest is the body of POST /sessions/{id}/follow-up.
type FollowUpRequest struct {
	Task string `json:"task"`
}

// NextActionResponse answers GET /sessions/{id}/next-action.
type NextActionResponse struct {
	Action       *session.Action `json:"action,omitempty"`
	Waiting      bool            `json:"waiting"`
	TaskComplete bool            `json:"taskComplete"`
}

// ActionResultRequest is the body of POST /sessions/{id}/action-result.
// ActionID is optional: when omitted, the handler fills it from the
// session's currently pending action, since a session has exactly one
// action in flight at a time.
type ActionResultRequest struct {
	ActionID   string `json:"actionId,omitempty"`
	Success    bool   `json:"success"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	DOMState   string `json:"domState,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
}

// SuccessResponse is the trivial {success:true} envelope shared by
// action-result, state, pause, resume, and cancel.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// HistoryResponse answers GET /sessions/{id}/history.
type HistoryResponse struct {
	SessionID        string                        `json:"sessionId"`
	Tasks            []session.Task                `json:"tasks"`
	CurrentTaskIndex int                            `json:"currentTaskIndex"`
	ExecutionState   session.LifecycleState        `json:"executionState"`
	ActionHistory    []session.ActionHistoryEntry  `json:"actionHistory"`
	PlannerHistory   []session.PlannerHistoryEntry `json:"plannerHistory"`
	SecurityEvents   []session.SecurityEvent       `json:"securityEvents"`
	Metrics          session.Metrics               `json:"metrics"`
	StepCount        int                           `json:"stepCount"`
}

// ReplayResponse answers POST /sessions/{id}/replay.
type ReplayResponse struct {
	Success  bool   `json:"success"`
	ReplayID string `json:"replayId"`
}

// ExtractRequest is the body of POST /sessions/{id}/extract.
type ExtractRequest struct {
	Fields           []string `json:"fields"`
	Content          string   `json:"content"`
	ExtractionPrompt string   `json:"extractionPrompt,omitempty"`
}

// ExtractResponse answers POST /sessions/{id}/extract.
type ExtractResponse struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
}

// ErrorResponse is the error envelope every route falls back to on
// failure. Error is always the human message spec.md's {error: string}
// mandates; Code and Retryable are additive fields carried from
// types.Error for clients that want structured handling.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
