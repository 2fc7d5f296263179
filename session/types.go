// Package session implements the stateful orchestration engine for
// LLM-driven browser-automation sessions: the finite-state machine, the
// Plan -> Act -> Report loop, and the supporting guardrail, retry, cache,
// queue, and event-bus subsystems it is built from.
package session

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleState is one of the finite states a Session can occupy.
type LifecycleState string

const (
	StateIdle              LifecycleState = "IDLE"
	StatePlanning          LifecycleState = "PLANNING"
	StateExecuting         LifecycleState = "EXECUTING"
	StateWaitingForBrowser LifecycleState = "WAITING_FOR_BROWSER"
	StatePaused            LifecycleState = "PAUSED"
	StateCompleted         LifecycleState = "COMPLETED"
	StateError             LifecycleState = "ERROR"
)

// RetryStrategy configures the backoff behavior of the retry executor (C2)
// applied to a session's planning and next-action LLM calls. Action
// failures reported by the browser are not retried through it.
type RetryStrategy struct {
	MaxAttempts     int           `json:"maxAttempts"`
	InitialDelay    time.Duration `json:"initialDelay"`
	MaxDelay        time.Duration `json:"maxDelay"`
	BackoffFactor   float64       `json:"backoffFactor"`
	JitterFraction  float64       `json:"jitterFraction"`
}

// DefaultRetryStrategy mirrors the backoff defaults used across the engine
// when a caller's execute body omits config.retry.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		MaxAttempts:    4,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.2,
	}
}

// CacheStrategy configures the tiered content cache (C3).
type CacheStrategy struct {
	DOMCapacity        int           `json:"domCapacity"`
	DOMTTL             time.Duration `json:"domTTL"`
	ScreenshotCapacity int           `json:"screenshotCapacity"`
	ScreenshotTTL      time.Duration `json:"screenshotTTL"`
	APICapacity        int           `json:"apiCapacity"`
	APITTL             time.Duration `json:"apiTTL"`

	// CompressionEnabled gates the tiered cache's store-time compression
	// transform; CompressionThreshold is the payload byte length above
	// which a stored entry is compressed rather than kept raw.
	CompressionEnabled   bool `json:"compressionEnabled"`
	CompressionThreshold int  `json:"compressionThreshold"`
}

// DefaultCacheStrategy mirrors the tiered cache defaults used when a
// caller's execute body omits config.cache.
func DefaultCacheStrategy() CacheStrategy {
	return CacheStrategy{
		DOMCapacity:          64,
		DOMTTL:               2 * time.Minute,
		ScreenshotCapacity:   16,
		ScreenshotTTL:        time.Minute,
		APICapacity:          128,
		APITTL:               5 * time.Minute,
		CompressionEnabled:   true,
		CompressionThreshold: 2048,
	}
}

// Config holds the per-session tunables a caller may override in an
// execute request; any zero field is filled from the process-wide default.
type Config struct {
	MaxSteps         int           `json:"maxSteps"`
	MaxFailures      int           `json:"maxFailures"`
	PlanningInterval int           `json:"planningInterval"`
	StepTimeout      time.Duration `json:"stepTimeout"`
	GuardrailStrict  bool          `json:"guardrailStrict"`
	EnableVision     bool          `json:"enableVision"`
	EnableReplay     bool          `json:"enableReplay"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Retry            RetryStrategy `json:"retry"`
	Cache            CacheStrategy `json:"cache"`

	// ToolsEnabled whitelists the ActionTypes the planner may emit; empty
	// means every action type in the vocabulary is permitted. MaxActionsPerStep
	// caps how many actions a single planning cycle may enqueue before the
	// Actor rejects further ones with types.ErrToolValidation.
	ToolsEnabled      []string `json:"toolsEnabled,omitempty"`
	MaxActionsPerStep int      `json:"maxActionsPerStep"`

	// APIKey is the session-scoped LLM credential carried on the execute
	// request body. It is deliberately excluded from persistence (see
	// Engine.Restore): a restored session resumes accepting ingress
	// against the process's default-credentialed provider until its next
	// execute supplies a fresh key.
	APIKey string `json:"-"`
}

// DefaultConfig returns the process-wide session configuration defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:         40,
		MaxFailures:      3,
		PlanningInterval: 5,
		StepTimeout:      45 * time.Second,
		GuardrailStrict:  true,
		EnableVision:     false,
		EnableReplay:     true,
		Provider:         "anthropic",
		Retry:            DefaultRetryStrategy(),
		Cache:            DefaultCacheStrategy(),
		MaxActionsPerStep: 1,
	}
}

// Metrics accumulates counters over a Session's lifetime. It is mutated
// only by the FSM's single actor goroutine, so no lock is required.
type Metrics struct {
	StepsTaken          int           `json:"stepsTaken"`
	ActionsSucceeded    int           `json:"actionsSucceeded"`
	ActionsFailed       int           `json:"actionsFailed"`
	RetriesAttempted    int           `json:"retriesAttempted"`
	PlanningCycles      int           `json:"planningCycles"`
	ThreatsBlocked      int           `json:"threatsBlocked"`
	CacheHits           int           `json:"cacheHits"`
	CacheMisses         int           `json:"cacheMisses"`
	LLMTokens           int           `json:"llmTokens"`
	TotalDuration       time.Duration `json:"totalDuration"`
}

// BrowserState is the caller-reported snapshot of the controlled browser
// that accompanies an action-result report.
type BrowserState struct {
	URL          string            `json:"url"`
	Title        string            `json:"title"`
	DOM          string            `json:"dom,omitempty"`
	ScreenshotB64 string           `json:"screenshot,omitempty"`
	Viewport     [2]int            `json:"viewport,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CapturedAt   time.Time         `json:"capturedAt"`
}

// ActionType enumerates the fixed browser-operation vocabulary the
// coordinator may emit (spec.md §3): navigate, click, type, hover, select,
// scroll variants, tab ops, wait, screenshot, extract, cache_content, key
// ops, dropdown, search_google, pagination, complete.
type ActionType string

const (
	ActionNavigate     ActionType = "navigate"
	ActionClick        ActionType = "click"
	ActionText         ActionType = "type"
	ActionHover        ActionType = "hover"
	ActionSelect       ActionType = "select"
	ActionScrollUp     ActionType = "scroll_up"
	ActionScrollDown   ActionType = "scroll_down"
	ActionScrollTo     ActionType = "scroll_to"
	ActionTabOpen      ActionType = "tab_open"
	ActionTabClose     ActionType = "tab_close"
	ActionTabSwitch    ActionType = "tab_switch"
	ActionWait         ActionType = "wait"
	ActionScreenshot   ActionType = "screenshot"
	ActionExtract      ActionType = "extract"
	ActionCacheContent ActionType = "cache_content"
	ActionKeyPress     ActionType = "key_press"
	ActionDropdown     ActionType = "dropdown"
	ActionSearchGoogle ActionType = "search_google"
	ActionPagination   ActionType = "pagination"
	// ActionDone is the terminal action type ("complete" on the wire): the
	// Actor marks the task complete with the carried result instead of
	// dispatching a browser directive (§4.6).
	ActionDone ActionType = "complete"
)

// actionVocabulary is the full fixed set of ActionTypes a planner may emit,
// used both to validate an incoming action's type and, intersected with
// Config.ToolsEnabled, to enforce the configured whitelist (§4.6).
var actionVocabulary = map[ActionType]bool{
	ActionNavigate: true, ActionClick: true, ActionText: true, ActionHover: true,
	ActionSelect: true, ActionScrollUp: true, ActionScrollDown: true, ActionScrollTo: true,
	ActionTabOpen: true, ActionTabClose: true, ActionTabSwitch: true, ActionWait: true,
	ActionScreenshot: true, ActionExtract: true, ActionCacheContent: true,
	ActionKeyPress: true, ActionDropdown: true, ActionSearchGoogle: true,
	ActionPagination: true, ActionDone: true,
}

// ValidActionType reports whether t is a member of the fixed action
// vocabulary.
func ValidActionType(t ActionType) bool {
	return actionVocabulary[t]
}

// AllowedByWhitelist reports whether t may be emitted under the
// Config.ToolsEnabled whitelist. An empty whitelist permits every action
// type in the vocabulary.
func (c Config) AllowedByWhitelist(t ActionType) bool {
	if len(c.ToolsEnabled) == 0 {
		return true
	}
	for _, allowed := range c.ToolsEnabled {
		if ActionType(allowed) == t {
			return true
		}
	}
	return false
}

// Action is a single browser operation emitted by the coordinator for the
// boundary adapter to carry out and report back on.
type Action struct {
	ID         string            `json:"id"`
	TaskID     string            `json:"taskId"`
	Type       ActionType        `json:"type"`
	Selector   string            `json:"selector,omitempty"`
	Value      string            `json:"value,omitempty"`
	Rationale  string            `json:"rationale,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Ident satisfies queue.Identifiable, letting the action queue track a
// pending Action without importing the session package.
func (a Action) Ident() string { return a.ID }

// ResultStatus is the outcome of carrying out an Action.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
	ResultTimeout ResultStatus = "timeout"
)

// Result reports the outcome of an Action, including the resulting browser
// state, back into the session.
type Result struct {
	ActionID   string       `json:"actionId"`
	Status     ResultStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	State      BrowserState `json:"state"`
	ReportedAt time.Time    `json:"reportedAt"`
}

// ActionRef satisfies queue.Reporter, letting the action queue match a
// Result against its pending Action without importing the session package.
func (r Result) ActionRef() string { return r.ActionID }

// TaskStatus tracks a Task through the FSM.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is one unit of work within a Session: the original instruction plus
// the plan and actions produced while carrying it out. A Session may
// accumulate several Tasks via follow-up requests.
type Task struct {
	ID          string     `json:"id"`
	Instruction string     `json:"instruction"`
	Status      TaskStatus `json:"status"`
	Plan        *StrategicPlan `json:"plan,omitempty"`
	Actions     []Action   `json:"actions,omitempty"`
	Results     []Result   `json:"results,omitempty"`
	Extracted   string     `json:"extracted,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// StrategicPlan is the coordinator's structured interpretation of a Task:
// a short rationale plus the ordered steps it intends to execute before
// the next forced plan refresh.
type StrategicPlan struct {
	Rationale string   `json:"rationale"`
	Steps     []string `json:"steps"`
	Done       bool     `json:"done"`
	CreatedAt time.Time `json:"createdAt"`
}

// PlannerHistoryEntry records one planning cycle's output against the task
// and step it was produced for, so a caller (or the replay export) can
// reconstruct how a session's plan evolved rather than seeing only the
// current StrategicPlan.
type PlannerHistoryEntry struct {
	TaskID    string         `json:"taskId"`
	StepsAt   int            `json:"stepsAt"`
	Plan      StrategicPlan  `json:"plan"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SecuritySeverity mirrors guardrail.Severity without importing the
// guardrail package into the session's persisted types, keeping
// session.Session storable independent of the guardrail's pattern set.
type SecuritySeverity string

const (
	SecuritySeverityLow      SecuritySeverity = "low"
	SecuritySeverityMedium   SecuritySeverity = "medium"
	SecuritySeverityHigh     SecuritySeverity = "high"
	SecuritySeverityCritical SecuritySeverity = "critical"
)

// SecurityEvent is one guardrail interception recorded against a Session:
// a threat category the filter found in an instruction, DOM snapshot, or
// extraction payload before it reached the LLM.
type SecurityEvent struct {
	TaskID     string           `json:"taskId,omitempty"`
	Source     string           `json:"source"`
	Categories []string         `json:"categories"`
	Severity   SecuritySeverity `json:"severity"`
	DetectedAt time.Time        `json:"detectedAt"`
}

// Session is the top-level aggregate the FSM operates on: its lifecycle
// state, configuration, accumulated tasks, browser state, and metrics.
type Session struct {
	ID          string         `json:"id"`
	State       LifecycleState `json:"state"`
	Config      Config         `json:"config"`
	Tasks       []Task         `json:"tasks"`
	ActiveTaskID string        `json:"activeTaskId,omitempty"`
	BrowserState BrowserState  `json:"browserState"`
	Metrics     Metrics        `json:"metrics"`
	PendingActionID string     `json:"pendingActionId,omitempty"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	LastError   string         `json:"lastError,omitempty"`
	SecurityEvents []SecurityEvent `json:"securityEvents,omitempty"`
	PlannerHistory []PlannerHistoryEntry `json:"plannerHistory,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// NewSession constructs a fresh IDLE session for the given config, with a
// freshly generated UUID identifier.
func NewSession(cfg Config) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		State:     StateIdle,
		Config:    cfg,
		Tasks:     make([]Task, 0, 4),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ActiveTask returns the Task currently driving the session, if any.
func (s *Session) ActiveTask() *Task {
	if s.ActiveTaskID == "" {
		return nil
	}
	for i := range s.Tasks {
		if s.Tasks[i].ID == s.ActiveTaskID {
			return &s.Tasks[i]
		}
	}
	return nil
}

// ActionHistoryEntry pairs one emitted Action with the Result it provoked
// (if any), flattened across every Task a Session has run, for the
// replay export (§4.7).
type ActionHistoryEntry struct {
	TaskID string  `json:"taskId"`
	Action Action  `json:"action"`
	Result *Result `json:"result,omitempty"`
}

// ReplayExport is the session snapshot (terminal or in progress) written under the
// "replay:{sessionId}" store key and mirrored into the relational replay
// archive on demand (the `replay` ingress route).
type ReplayExport struct {
	SessionID    string               `json:"sessionId"`
	State        LifecycleState       `json:"state"`
	ActionHistory []ActionHistoryEntry `json:"actionHistory"`
	FinalState   BrowserState         `json:"finalState"`
	Metrics      Metrics              `json:"metrics"`
	ExportedAt   time.Time            `json:"exportedAt"`
}

// BuildActionHistory flattens every Task's Actions against their matching
// Results (by ActionID) in emission order, for use by the replay export
// and the /history route alike.
func (s *Session) BuildActionHistory() []ActionHistoryEntry {
	entries := make([]ActionHistoryEntry, 0)
	for _, t := range s.Tasks {
		resultsByAction := make(map[string]*Result, len(t.Results))
		for i := range t.Results {
			resultsByAction[t.Results[i].ActionID] = &t.Results[i]
		}
		for _, a := range t.Actions {
			entry := ActionHistoryEntry{TaskID: t.ID, Action: a}
			if r, ok := resultsByAction[a.ID]; ok {
				entry.Result = r
			}
			entries = append(entries, entry)
		}
	}
	return entries
}

// NewTask appends a pending Task for the given instruction and returns it.
func (s *Session) NewTask(instruction string) *Task {
	now := time.Now()
	t := Task{
		ID:          uuid.NewString(),
		Instruction: instruction,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.Tasks = append(s.Tasks, t)
	return &s.Tasks[len(s.Tasks)-1]
}
