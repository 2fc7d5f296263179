package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/browserpilot/engine/internal/channel"
	"github.com/browserpilot/engine/session/cache"
	"github.com/browserpilot/engine/session/events"
	"github.com/browserpilot/engine/session/guardrail"
	"github.com/browserpilot/engine/session/queue"
	"github.com/browserpilot/engine/session/retry"
	"github.com/browserpilot/engine/types"
)

// Coordinator is the narrow slice of session/coordinator.Coordinator the
// actor depends on. Declaring it here rather than importing the
// coordinator package keeps session free of a dependency on its own
// subpackage; Engine is wired with a concrete *coordinator.Coordinator by
// its caller.
type Coordinator interface {
	Plan(ctx context.Context, sess *Session, task *Task, apiKey string) (*StrategicPlan, int, error)
	NextAction(ctx context.Context, sess *Session, task *Task, apiKey string) (Action, int, error)
	Extract(ctx context.Context, sess *Session, task *Task, apiKey string) (string, int, error)
	ExtractFields(ctx context.Context, cfg Config, apiKey string, fields []string, content, prompt string) (map[string]any, float64, int, error)
}

// ExecuteRequest carries the fields the boundary adapter's execute route
// accepts beyond the bare instruction: the session-scoped LLM credential
// and optional per-call overrides of the session's default config.
type ExecuteRequest struct {
	Instruction string
	APIKey      string
	Vision      bool
	Model       string
	Provider    string
	Config      *Config
}

// Store is the narrow slice of storage.Store the actor depends on.
type Store interface {
	SaveSession(ctx context.Context, id string, blob []byte) error
	LoadSession(ctx context.Context, id string) ([]byte, error)
	SaveReplay(ctx context.Context, id string, blob []byte) error
}

// mailboxConfig is the TunableChannel sizing applied to every actor's
// mailbox; sessions are low-volume (one request in flight per HTTP call)
// so the default starts small and is left to grow only under genuine
// follow-up bursts.
var mailboxConfig = channel.TunableConfig{
	InitialSize:  8,
	MinSize:      4,
	MaxSize:      256,
	GrowFactor:   2.0,
	ShrinkFactor: 0.5,
	SampleWindow: 30 * time.Second,
}

type opKind string

const (
	opExecute       opKind = "execute"
	opFollowUp      opKind = "follow_up"
	opNextAction    opKind = "next_action"
	opActionResult  opKind = "action_result"
	opPause         opKind = "pause"
	opResume        opKind = "resume"
	opCancel        opKind = "cancel"
	opSnapshot      opKind = "snapshot"
	opExtract       opKind = "extract"
	opExtractFields opKind = "extract_fields"
	opUpdateState   opKind = "update_state"
	opReplay        opKind = "replay"
	opPlanCycleDone opKind = "plan_cycle_done" // internal, self-sent by the detached planning goroutine
)

// executeOp is the opExecute/opFollowUp payload: the instruction plus the
// execute-route overrides, tagged with whether this starts the session's
// very first task (isFirst=false rejects a request while a task is active).
type executeOp struct {
	req     ExecuteRequest
	isFirst bool
}

// extractFieldsOp is the opExtractFields payload.
type extractFieldsOp struct {
	fields  []string
	content string
	prompt  string
}

type extractFieldsResult struct {
	data       map[string]any
	confidence float64
}

type envelope struct {
	kind    opKind
	payload any
	respCh  chan actorReply
}

type actorReply struct {
	value any
	err   error
}

// planCycleResult carries a detached planning cycle's outcome back into
// the actor's mailbox as a single self-addressed event.
type planCycleResult struct {
	taskID string
	plan   *StrategicPlan
	action Action
	done   bool
	tokens int
	err    error
}

// Engine owns one actor per live Session and is the entry point the
// boundary adapter (C8) drives: every public method sends a request into
// the session's mailbox and blocks for the actor's reply, so session
// state is only ever touched by its own actor goroutine.
type Engine struct {
	mu     sync.RWMutex
	actors map[string]*actor

	store  Store
	coord  Coordinator
	bus    *events.Bus
	logger *zap.Logger

	// filter is the shared C1 content filter every actor runs task
	// instructions, DOM snapshots, and extraction payloads through before
	// they reach the coordinator. It is stateless and safe to share across
	// every session's actor goroutine.
	filter *guardrail.SessionFilter
}

// NewEngine builds an Engine over a durable Store and a Coordinator,
// publishing lifecycle events to a single shared Bus that the boundary
// adapter's SSE route and the metrics collector both subscribe to.
func NewEngine(store Store, coord Coordinator, bus *events.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		actors: make(map[string]*actor),
		store:  store,
		coord:  coord,
		bus:    bus,
		logger: logger,
		filter: guardrail.NewSessionFilter(),
	}
}

// Events exposes the Engine's shared bus for subscription by the SSE
// route and the metrics collector.
func (e *Engine) Events() *events.Bus { return e.bus }

// CreateSession starts a new IDLE session and its actor goroutine.
func (e *Engine) CreateSession(cfg Config) *Session {
	sess := NewSession(cfg)
	a := newActor(sess, e)
	e.mu.Lock()
	e.actors[sess.ID] = a
	e.mu.Unlock()
	go a.run()
	return sess
}

// Restore rehydrates a previously persisted session from the Store and
// starts its actor, used on process startup to resume sessions that
// outlive a single process lifetime. The coordinator is attached lazily:
// since it requires an API credential that is never persisted, the
// restored session simply resumes accepting ingress against the Engine's
// shared coordinator.
func (e *Engine) Restore(ctx context.Context, id string) (*Session, error) {
	blob, err := e.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		return nil, fmt.Errorf("engine: restore session %s: %w", id, err)
	}
	a := newActor(&sess, e)
	e.mu.Lock()
	e.actors[id] = a
	e.mu.Unlock()
	go a.run()
	return &sess, nil
}

func (e *Engine) actorFor(id string) (*actor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actors[id]
	return a, ok
}

// send dispatches op+payload into the session's mailbox and blocks for the
// actor's reply, translating an unknown session id into a structured
// ErrSessionNotFound.
func (e *Engine) send(ctx context.Context, id string, kind opKind, payload any) (any, error) {
	a, ok := e.actorFor(id)
	if !ok {
		return nil, types.NewError(types.ErrSessionNotFound, fmt.Sprintf("session %s not found", id)).WithHTTPStatus(404)
	}
	env := &envelope{kind: kind, payload: payload, respCh: make(chan actorReply, 1)}
	if err := a.mailbox.Send(ctx, env); err != nil {
		return nil, err
	}
	select {
	case reply := <-env.respCh:
		return reply.value, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Execute starts the session's first task, transitioning IDLE -> PLANNING
// and kicking off the detached planning cycle. It does not block on the
// LLM call: the returned Task is status "running" with no plan yet.
func (e *Engine) Execute(ctx context.Context, id string, req ExecuteRequest) (*Task, error) {
	v, err := e.send(ctx, id, opExecute, executeOp{req: req, isFirst: true})
	if err != nil {
		return nil, err
	}
	return v.(*Task), nil
}

// FollowUp starts a new task on an existing session when the session has
// no task currently running. It does not queue: while a task is still
// running it returns an AGENT_BUSY error (HTTP 409) and the instruction is
// dropped. It reuses the credential and overrides captured by the
// session's most recent Execute call.
func (e *Engine) FollowUp(ctx context.Context, id, instruction string) (*Task, error) {
	v, err := e.send(ctx, id, opFollowUp, executeOp{req: ExecuteRequest{Instruction: instruction}, isFirst: false})
	if err != nil {
		return nil, err
	}
	return v.(*Task), nil
}

// ExtractFields asks the coordinator to pull a set of named fields out of
// arbitrary caller-supplied content, used by the stateless /extract route
// (it does not require an active task or touch the FSM's lifecycle state).
func (e *Engine) ExtractFields(ctx context.Context, id string, fields []string, content, prompt string) (map[string]any, float64, error) {
	v, err := e.send(ctx, id, opExtractFields, extractFieldsOp{fields: fields, content: content, prompt: prompt})
	if err != nil {
		return nil, 0, err
	}
	r := v.(extractFieldsResult)
	return r.data, r.confidence, nil
}

// NextAction pops the single queued Action the boundary adapter should
// carry out in the real browser. It returns ok=false when the session has
// no action waiting (the caller should report {waiting:true}).
func (e *Engine) NextAction(ctx context.Context, id string) (Action, bool, error) {
	v, err := e.send(ctx, id, opNextAction, nil)
	if err != nil {
		if types.GetErrorCode(err) == types.ErrNoActionPending {
			return Action{}, false, nil
		}
		return Action{}, false, err
	}
	return v.(Action), true, nil
}

// ActionResult reports the outcome of the action last returned by
// NextAction, driving the retry/cache/FSM logic that decides the
// session's next state.
func (e *Engine) ActionResult(ctx context.Context, id string, result Result) error {
	_, err := e.send(ctx, id, opActionResult, result)
	return err
}

// UpdateBrowserState applies a standalone `state` ingress report (not tied
// to an in-flight action), used when the client pushes a page snapshot
// ahead of the next poll.
func (e *Engine) UpdateBrowserState(ctx context.Context, id string, state BrowserState) error {
	_, err := e.send(ctx, id, opUpdateState, state)
	return err
}

// Pause, Resume and Cancel drive the corresponding FSM triggers.
func (e *Engine) Pause(ctx context.Context, id string) (*Session, error) {
	v, err := e.send(ctx, id, opPause, nil)
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (e *Engine) Resume(ctx context.Context, id string) (*Session, error) {
	v, err := e.send(ctx, id, opResume, nil)
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (e *Engine) Cancel(ctx context.Context, id string) (*Session, error) {
	v, err := e.send(ctx, id, opCancel, nil)
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// State returns a point-in-time snapshot of the session.
func (e *Engine) State(ctx context.Context, id string) (*Session, error) {
	v, err := e.send(ctx, id, opSnapshot, nil)
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Replay exports the session's full action history, final browser state,
// and metrics, and persists the export under the store's "replay:{id}"
// key (§4.7, §6). It does not require the session to be terminal: callers
// may replay an in-progress session's history to date.
func (e *Engine) Replay(ctx context.Context, id string) (*ReplayExport, error) {
	v, err := e.send(ctx, id, opReplay, nil)
	if err != nil {
		return nil, err
	}
	return v.(*ReplayExport), nil
}

// Extract asks the coordinator to summarize the active task's current
// browser state. The /extract route does not call it; that route uses
// ExtractFields.
func (e *Engine) Extract(ctx context.Context, id string) (string, error) {
	v, err := e.send(ctx, id, opExtract, nil)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// actor is the single goroutine that owns a Session's mutable state. Every
// field it touches during run() is only ever read or written from within
// run() itself; Engine communicates with it exclusively through mailbox.
type actor struct {
	id      string
	sess    *Session
	mailbox *channel.TunableChannel[*envelope]
	cache   *cache.TieredCache
	queue   *queue.ActionQueue[Action, Result]
	engine  *Engine

	// apiKey is the credential captured from the session's most recent
	// Execute call. It lives only in actor memory, never in the
	// persisted Session blob: a restored session waits for its next
	// execute to supply one (or falls back to the process-wide default
	// the coordinator's registry was built with).
	apiKey string

	planningInFlight atomic.Bool

	// actionsThisStep counts actions enqueued since startPlanningCycle last
	// advanced the step counter, enforcing Config.MaxActionsPerStep (§3, §4.6).
	actionsThisStep int
}

func newActor(sess *Session, e *Engine) *actor {
	return &actor{
		id:      sess.ID,
		sess:    sess,
		mailbox: channel.NewTunableChannel[*envelope](mailboxConfig),
		cache: cache.New(cache.Config{
			DOMCapacity:          sess.Config.Cache.DOMCapacity,
			DOMTTL:               sess.Config.Cache.DOMTTL,
			ScreenshotCapacity:   sess.Config.Cache.ScreenshotCapacity,
			ScreenshotTTL:        sess.Config.Cache.ScreenshotTTL,
			APICapacity:          sess.Config.Cache.APICapacity,
			APITTL:               sess.Config.Cache.APITTL,
			CompressionEnabled:   sess.Config.Cache.CompressionEnabled,
			CompressionThreshold: sess.Config.Cache.CompressionThreshold,
		}),
		queue:  queue.New[Action, Result](),
		engine: e,
	}
}

func (a *actor) run() {
	ctx := context.Background()
	for env := range a.mailbox.Chan() {
		env.respCh <- a.handle(ctx, env)
	}
}

func (a *actor) handle(ctx context.Context, env *envelope) actorReply {
	switch env.kind {
	case opExecute:
		op := env.payload.(executeOp)
		return a.handleNewTask(ctx, op.req, op.isFirst)
	case opFollowUp:
		op := env.payload.(executeOp)
		return a.handleNewTask(ctx, op.req, op.isFirst)
	case opNextAction:
		return a.handleNextAction(ctx)
	case opActionResult:
		return a.handleActionResult(ctx, env.payload.(Result))
	case opUpdateState:
		state := env.payload.(BrowserState)
		a.applyNavigation(state.URL)
		a.sess.BrowserState = state
		a.sess.UpdatedAt = time.Now()
		a.persist(ctx)
		return actorReply{value: a.snapshot()}
	case opPause:
		return a.handleTrigger(ctx, TriggerPause)
	case opResume:
		return a.handleResume(ctx)
	case opCancel:
		return a.handleTrigger(ctx, TriggerCancel)
	case opSnapshot:
		return actorReply{value: a.snapshot()}
	case opExtract:
		return a.handleExtract(ctx)
	case opExtractFields:
		return a.handleExtractFields(ctx, env.payload.(extractFieldsOp))
	case opReplay:
		return a.handleReplay(ctx)
	case opPlanCycleDone:
		return a.handlePlanCycleDone(ctx, env.payload.(planCycleResult))
	default:
		return actorReply{err: fmt.Errorf("session: unknown actor op %q", env.kind)}
	}
}

func (a *actor) snapshot() *Session {
	cp := *a.sess
	cp.Tasks = append([]Task(nil), a.sess.Tasks...)
	return &cp
}

func (a *actor) handleNewTask(ctx context.Context, req ExecuteRequest, isFirst bool) actorReply {
	if req.Instruction == "" {
		return actorReply{err: types.NewError(types.ErrInvalidTaskInput, "instruction must not be empty").WithHTTPStatus(400)}
	}
	if active := a.sess.ActiveTask(); !isFirst && active != nil && active.Status == TaskActive {
		return actorReply{err: types.NewError(types.ErrAgentBusy, "session already has an active task in flight").WithHTTPStatus(409)}
	}
	to, ok := CanTransition(a.sess.State, TriggerExecute)
	if !ok {
		return actorReply{err: types.NewError(types.ErrInvalidTransition, fmt.Sprintf("cannot start a task from state %s", a.sess.State)).WithHTTPStatus(409)}
	}

	if isFirst {
		if req.APIKey != "" {
			a.apiKey = req.APIKey
		}
		if req.Model != "" {
			a.sess.Config.Model = req.Model
		}
		if req.Provider != "" {
			a.sess.Config.Provider = req.Provider
		}
		if req.Vision {
			a.sess.Config.EnableVision = true
		}
		if req.Config != nil {
			a.sess.Config = mergeConfig(a.sess.Config, *req.Config)
		}
	}

	task := a.sess.NewTask(req.Instruction)
	task.Status = TaskActive
	a.sess.ActiveTaskID = task.ID
	a.sess.ConsecutiveFailures = 0
	a.transition(to, "task started")
	a.persist(ctx)
	a.startPlanningCycle(task)
	return actorReply{value: task}
}

func (a *actor) handleResume(ctx context.Context) actorReply {
	from := a.sess.State
	to, ok := CanTransition(from, TriggerResume)
	if !ok {
		return actorReply{err: types.NewError(types.ErrSessionNotPausable, fmt.Sprintf("cannot resume from state %s", from)).WithHTTPStatus(409)}
	}
	a.transition(to, "resumed")
	a.queue.Drain()
	a.sess.PendingActionID = ""
	if task := a.sess.ActiveTask(); task != nil {
		a.startPlanningCycle(task)
	}
	a.persist(ctx)
	return actorReply{value: a.snapshot()}
}

func (a *actor) handleTrigger(ctx context.Context, trigger string) actorReply {
	to, ok := CanTransition(a.sess.State, trigger)
	if !ok {
		return actorReply{err: types.NewError(types.ErrInvalidTransition, fmt.Sprintf("trigger %q not valid from state %s", trigger, a.sess.State)).WithHTTPStatus(409)}
	}
	a.transition(to, trigger)
	if trigger == TriggerCancel {
		if task := a.sess.ActiveTask(); task != nil && task.Status == TaskActive {
			task.Status = TaskCancelled
			task.UpdatedAt = time.Now()
		}
		a.queue.Drain()
	}
	a.persist(ctx)
	return actorReply{value: a.snapshot()}
}

// startPlanningCycle spawns the detached planning-cycle goroutine described
// by spec.md §4.7/§5: it increments the step counter synchronously (so
// concurrent cycles can never double-count), fails the task outright if
// that crosses Config.MaxSteps, and otherwise asks the coordinator for a
// (possibly plan-refreshing) next Action without blocking the actor's
// mailbox loop. A CompareAndSwap guard makes a double-spawn (execute
// racing a just-finished action-result) a no-op.
func (a *actor) startPlanningCycle(task *Task) {
	if !a.planningInFlight.CompareAndSwap(false, true) {
		return
	}

	a.sess.Metrics.StepsTaken++
	a.actionsThisStep = 0
	if a.sess.Metrics.StepsTaken > a.sess.Config.MaxSteps {
		a.planningInFlight.Store(false)
		task.Status = TaskFailed
		task.UpdatedAt = time.Now()
		a.sess.LastError = "max_steps_reached"
		if to, ok := CanTransition(a.sess.State, TriggerMaxSteps); ok {
			a.transition(to, "max steps reached")
		}
		return
	}

	refreshPlan := task.Plan == nil || (a.sess.Config.PlanningInterval > 0 && a.sess.Metrics.StepsTaken%a.sess.Config.PlanningInterval == 0)
	snapshot, sanitizedTask := a.sanitizeForPlanning(task)
	coord := a.engine.coord

	go func() {
		defer a.planningInFlight.Store(false)
		res := planCycleResult{taskID: task.ID}

		if refreshPlan {
			plan, tokens, err := coord.Plan(context.Background(), snapshot, sanitizedTask, a.apiKey)
			res.tokens += tokens
			if err != nil {
				res.err = err
				a.sendSelf(opPlanCycleDone, res)
				return
			}
			res.plan = plan
			if plan.Done {
				res.done = true
				a.sendSelf(opPlanCycleDone, res)
				return
			}
		}

		action, tokens, err := coord.NextAction(context.Background(), snapshot, sanitizedTask, a.apiKey)
		res.tokens += tokens
		if err != nil {
			res.err = err
			a.sendSelf(opPlanCycleDone, res)
			return
		}
		// An Action of type "complete" is still queued like any other: the
		// client polls it, carries out the (no-op) confirmation, and
		// reports success, at which point handlePlanCycleDone's sibling
		// handleActionResult recognizes ActionDone and completes the task.
		// res.done here is reserved for the Plan-level "taskComplete"
		// shortcut above, which skips the action entirely.
		res.action = action
		a.sendSelf(opPlanCycleDone, res)
	}()
}

// sanitizeForPlanning runs the task instruction and current DOM through
// the guardrail before either reaches the coordinator, recording a
// SecurityEvent and a KindThreatBlocked publication for anything found. It
// never mutates the real task or session BrowserState: the LLM sees the
// sanitized text, but the persisted Session and Task retain what the
// browser and caller actually sent, for audit and replay.
func (a *actor) sanitizeForPlanning(task *Task) (*Session, *Task) {
	strict := a.sess.Config.GuardrailStrict

	instrResult := a.engine.filter.Sanitize(task.Instruction, strict)
	if len(instrResult.ThreatsFound) > 0 {
		a.recordSecurityEvent(task.ID, "instruction", instrResult)
	}
	domResult := a.engine.filter.Sanitize(a.sess.BrowserState.DOM, strict)
	if len(domResult.ThreatsFound) > 0 {
		a.recordSecurityEvent(task.ID, "dom", domResult)
	}

	snapshot := a.snapshot()
	snapshot.BrowserState.DOM = domResult.Text

	sanitizedTask := *task
	sanitizedTask.Instruction = instrResult.Text
	return snapshot, &sanitizedTask
}

// recordSecurityEvent appends a SecurityEvent to the real session, bumps
// Metrics.ThreatsBlocked, and publishes KindThreatBlocked so the metrics
// collector and any SSE subscriber can react without polling.
func (a *actor) recordSecurityEvent(taskID, source string, result guardrail.SanitizeResult) {
	cats := make([]string, 0, len(result.ThreatsFound))
	for _, c := range result.ThreatsFound {
		cats = append(cats, string(c))
	}
	severity := sessionSeverity(result.MaxSeverity)
	a.sess.Metrics.ThreatsBlocked += len(result.Findings)
	a.sess.SecurityEvents = append(a.sess.SecurityEvents, SecurityEvent{
		TaskID:     taskID,
		Source:     source,
		Categories: cats,
		Severity:   severity,
		DetectedAt: time.Now(),
	})
	a.publish(events.KindThreatBlocked, map[string]any{
		"taskId":     taskID,
		"source":     source,
		"categories": cats,
		"severity":   string(severity),
	})
}

func sessionSeverity(s guardrail.Severity) SecuritySeverity {
	switch s {
	case guardrail.SeverityCritical:
		return SecuritySeverityCritical
	case guardrail.SeverityHigh:
		return SecuritySeverityHigh
	case guardrail.SeverityMedium:
		return SecuritySeverityMedium
	default:
		return SecuritySeverityLow
	}
}

// sendSelf delivers an internally-generated envelope back into the
// actor's own mailbox and waits for it to be processed, giving the
// detached planning goroutine a rendezvous with the actor loop without
// ever touching session state itself.
func (a *actor) sendSelf(kind opKind, payload any) {
	env := &envelope{kind: kind, payload: payload, respCh: make(chan actorReply, 1)}
	if err := a.mailbox.Send(context.Background(), env); err != nil {
		return
	}
	<-env.respCh
}

func (a *actor) handlePlanCycleDone(ctx context.Context, res planCycleResult) actorReply {
	task := a.findTask(res.taskID)
	if task == nil {
		return actorReply{}
	}
	a.sess.Metrics.LLMTokens += res.tokens
	a.sess.Metrics.PlanningCycles++

	if res.err != nil {
		a.sess.LastError = res.err.Error()
		a.publish(events.KindError, map[string]any{"error": res.err.Error(), "phase": "planning"})
		if to, ok := CanTransition(a.sess.State, TriggerPlanError); ok {
			a.transition(to, "planning failed")
		}
		task.Status = TaskFailed
		task.UpdatedAt = time.Now()
		a.persist(ctx)
		return actorReply{}
	}

	if res.plan != nil {
		task.Plan = res.plan
		task.UpdatedAt = time.Now()
		a.sess.PlannerHistory = append(a.sess.PlannerHistory, PlannerHistoryEntry{
			TaskID:    task.ID,
			StepsAt:   a.sess.Metrics.StepsTaken,
			Plan:      *res.plan,
			CreatedAt: time.Now(),
		})
		a.publish(events.KindPlanCreated, map[string]any{"taskId": task.ID, "rationale": res.plan.Rationale})
	}

	if res.done {
		a.completeTask(task)
		a.persist(ctx)
		return actorReply{}
	}

	if err := a.validateAction(res.action); err != nil {
		a.sess.LastError = err.Error()
		a.publish(events.KindError, map[string]any{"error": err.Error(), "phase": "validation"})
		if to, ok := CanTransition(a.sess.State, TriggerPlanError); ok {
			a.transition(to, "action validation failed")
		}
		task.Status = TaskFailed
		task.UpdatedAt = time.Now()
		a.persist(ctx)
		return actorReply{}
	}
	a.actionsThisStep++

	if err := a.queue.Enqueue(res.action); err != nil {
		a.sess.LastError = err.Error()
		a.persist(ctx)
		return actorReply{}
	}
	task.Actions = append(task.Actions, res.action)
	task.UpdatedAt = time.Now()

	if to, ok := CanTransition(a.sess.State, TriggerPlanAction); ok {
		a.transition(to, "action enqueued")
	}
	a.publish(events.KindActionEmitted, map[string]any{"taskId": task.ID, "actionId": res.action.ID, "type": string(res.action.Type)})
	a.persist(ctx)
	return actorReply{}
}

// validateAction is the Actor's §4.6 responsibility: reject an action whose
// type falls outside the fixed vocabulary or the session's configured
// ToolsEnabled whitelist, or that would exceed MaxActionsPerStep for the
// step currently in flight.
func (a *actor) validateAction(action Action) error {
	if !ValidActionType(action.Type) {
		return types.NewError(types.ErrToolValidation, fmt.Sprintf("action type %q is not in the vocabulary", action.Type)).WithHTTPStatus(422)
	}
	if !a.sess.Config.AllowedByWhitelist(action.Type) {
		return types.NewError(types.ErrToolValidation, fmt.Sprintf("action type %q is not in the configured whitelist", action.Type)).WithHTTPStatus(422)
	}
	if limit := a.sess.Config.MaxActionsPerStep; limit > 0 && a.actionsThisStep >= limit {
		return types.NewError(types.ErrToolValidation, "max actions per step exceeded").WithHTTPStatus(422)
	}
	return nil
}

func (a *actor) findTask(id string) *Task {
	for i := range a.sess.Tasks {
		if a.sess.Tasks[i].ID == id {
			return &a.sess.Tasks[i]
		}
	}
	return nil
}

// handleNextAction pops the action the most recent planning cycle queued.
// It never calls the coordinator itself: by the time WAITING_FOR_BROWSER
// is observable the action already exists in the queue.
func (a *actor) handleNextAction(ctx context.Context) actorReply {
	if a.sess.State != StateWaitingForBrowser {
		return actorReply{err: types.NewError(types.ErrNoActionPending, fmt.Sprintf("no action queued in state %s", a.sess.State)).WithHTTPStatus(200)}
	}
	action, ok := a.queue.Pending()
	if !ok {
		return actorReply{err: types.NewError(types.ErrNoActionPending, "no action queued").WithHTTPStatus(200)}
	}

	if a.sess.BrowserState.DOM != "" {
		key := cache.Key(a.sess.BrowserState.DOM)
		if _, hit := a.cache.Get(cache.TierDOM, key); !hit {
			a.cache.Put(cache.TierDOM, key, []byte(a.sess.BrowserState.DOM))
		}
	}

	a.sess.PendingActionID = action.ID
	if to, ok := CanTransition(a.sess.State, TriggerActionPolled); ok {
		a.transition(to, "action polled")
	}
	a.persist(ctx)
	return actorReply{value: action}
}

func (a *actor) handleActionResult(ctx context.Context, result Result) actorReply {
	if a.sess.State != StateExecuting {
		return actorReply{err: types.NewError(types.ErrNoActionPending, fmt.Sprintf("no action in flight in state %s", a.sess.State)).WithHTTPStatus(409)}
	}
	if err := a.queue.Report(ctx, result); err != nil {
		return actorReply{err: err}
	}

	task := a.sess.ActiveTask()
	if task != nil {
		task.Results = append(task.Results, result)
		task.UpdatedAt = time.Now()
	}
	a.applyNavigation(result.State.URL)
	a.sess.BrowserState = result.State
	a.sess.PendingActionID = ""
	a.publish(events.KindActionResult, map[string]any{"actionId": result.ActionID, "status": string(result.Status)})

	if result.Status == ResultSuccess && task != nil && lastActionType(task) == ActionDone {
		a.sess.Metrics.ActionsSucceeded++
		a.sess.ConsecutiveFailures = 0
		if to, ok := CanTransition(a.sess.State, TriggerActionDone); ok {
			a.transition(to, "done action confirmed")
		}
		a.completeTask(task)
		a.persist(ctx)
		return actorReply{value: a.snapshot()}
	}

	if result.Status == ResultSuccess {
		a.sess.Metrics.ActionsSucceeded++
		a.sess.ConsecutiveFailures = 0
	} else {
		a.sess.Metrics.ActionsFailed++
		a.sess.ConsecutiveFailures++
		cat := retry.Classify(errors.New(result.Error))
		if cat == retry.CategoryRateLimit || cat == retry.CategoryNetwork || cat == retry.CategoryTimeout {
			a.sess.Metrics.RetriesAttempted++
		}
	}

	if a.sess.ConsecutiveFailures >= a.sess.Config.MaxFailures {
		a.sess.LastError = result.Error
		if task != nil {
			task.Status = TaskFailed
			task.UpdatedAt = time.Now()
		}
		if to, ok := CanTransition(a.sess.State, TriggerActionFatal); ok {
			a.transition(to, "consecutive failures exceeded threshold")
		}
		a.persist(ctx)
		return actorReply{value: a.snapshot()}
	}

	if to, ok := CanTransition(a.sess.State, TriggerActionRecoverable); ok {
		a.transition(to, "action result recorded")
	}
	a.persist(ctx)
	if task != nil {
		a.startPlanningCycle(task)
	}
	return actorReply{value: a.snapshot()}
}

// applyNavigation runs the §4.3 navigation-invalidation rule against the
// session's current BrowserState.URL and the newly reported one, before
// the caller overwrites BrowserState. It is a no-op when the URL is empty
// or unchanged, so a same-URL state refresh (e.g. a DOM-only update after
// a click) never evicts the cache.
func (a *actor) applyNavigation(newURL string) {
	if newURL == "" || newURL == a.sess.BrowserState.URL {
		return
	}
	a.cache.InvalidateOnNavigation(a.sess.BrowserState.URL, newURL)
}

// lastActionType returns the Type of the most recently emitted Action on
// task, or the zero ActionType if it has none yet.
func lastActionType(task *Task) ActionType {
	if len(task.Actions) == 0 {
		return ""
	}
	return task.Actions[len(task.Actions)-1].Type
}

func (a *actor) completeTask(task *Task) {
	task.Status = TaskCompleted
	task.UpdatedAt = time.Now()
	a.sess.ActiveTaskID = ""
	if to, ok := CanTransition(a.sess.State, TriggerPlanComplete); ok {
		a.transition(to, "task completed")
	}
	a.publish(events.KindTaskCompleted, map[string]any{"taskId": task.ID})
}

func (a *actor) handleExtract(ctx context.Context) actorReply {
	task := a.sess.ActiveTask()
	if task == nil {
		return actorReply{err: types.NewError(types.ErrInvalidTaskInput, "no active task to extract from").WithHTTPStatus(409)}
	}

	strict := a.sess.Config.GuardrailStrict
	domResult := a.engine.filter.Sanitize(a.sess.BrowserState.DOM, strict)
	if len(domResult.ThreatsFound) > 0 {
		a.recordSecurityEvent(task.ID, "dom", domResult)
	}
	snapshot := a.snapshot()
	snapshot.BrowserState.DOM = domResult.Text

	text, tokens, err := a.engine.coord.Extract(ctx, snapshot, task, a.apiKey)
	a.sess.Metrics.LLMTokens += tokens
	if err != nil {
		return actorReply{err: err}
	}
	task.Extracted = text
	task.UpdatedAt = time.Now()
	a.persist(ctx)
	return actorReply{value: text}
}

// handleExtractFields drives the /extract route's free-form field
// extraction. It is deliberately stateless with respect to the FSM: it
// never transitions the session and works whether or not a task is
// active, only consuming the session's LLM credential and metrics.
func (a *actor) handleExtractFields(ctx context.Context, op extractFieldsOp) actorReply {
	strict := a.sess.Config.GuardrailStrict
	contentResult := a.engine.filter.Sanitize(op.content, strict)
	if len(contentResult.ThreatsFound) > 0 {
		a.recordSecurityEvent("", "extract_fields", contentResult)
	}

	data, confidence, tokens, err := a.engine.coord.ExtractFields(ctx, a.sess.Config, a.apiKey, op.fields, contentResult.Text, op.prompt)
	a.sess.Metrics.LLMTokens += tokens
	if err != nil {
		return actorReply{err: err}
	}
	a.persist(ctx)
	return actorReply{value: extractFieldsResult{data: data, confidence: confidence}}
}

func (a *actor) handleReplay(ctx context.Context) actorReply {
	export := &ReplayExport{
		SessionID:     a.sess.ID,
		State:         a.sess.State,
		ActionHistory: a.sess.BuildActionHistory(),
		FinalState:    a.sess.BrowserState,
		Metrics:       a.sess.Metrics,
		ExportedAt:    time.Now(),
	}
	blob, err := json.Marshal(export)
	if err != nil {
		return actorReply{err: fmt.Errorf("session: marshal replay export: %w", err)}
	}
	if a.engine.store != nil {
		if err := a.engine.store.SaveReplay(ctx, a.id, blob); err != nil {
			return actorReply{err: err}
		}
	}
	return actorReply{value: export}
}

// mergeConfig overlays any non-zero field of patch onto base, used when an
// execute request's optional "config" body field partially overrides a
// session's defaults.
func mergeConfig(base, patch Config) Config {
	if patch.MaxSteps != 0 {
		base.MaxSteps = patch.MaxSteps
	}
	if patch.MaxFailures != 0 {
		base.MaxFailures = patch.MaxFailures
	}
	if patch.PlanningInterval != 0 {
		base.PlanningInterval = patch.PlanningInterval
	}
	if patch.StepTimeout != 0 {
		base.StepTimeout = patch.StepTimeout
	}
	if patch.GuardrailStrict {
		base.GuardrailStrict = true
	}
	if patch.EnableVision {
		base.EnableVision = true
	}
	if patch.EnableReplay {
		base.EnableReplay = true
	}
	if patch.Provider != "" {
		base.Provider = patch.Provider
	}
	if patch.Model != "" {
		base.Model = patch.Model
	}
	if patch.Retry.MaxAttempts != 0 {
		base.Retry = patch.Retry
	}
	if patch.Cache.DOMCapacity != 0 {
		base.Cache = patch.Cache
	}
	if len(patch.ToolsEnabled) != 0 {
		base.ToolsEnabled = patch.ToolsEnabled
	}
	if patch.MaxActionsPerStep != 0 {
		base.MaxActionsPerStep = patch.MaxActionsPerStep
	}
	return base
}

func (a *actor) transition(to LifecycleState, reason string) {
	from := a.sess.State
	a.sess.State = to
	a.sess.UpdatedAt = time.Now()
	a.publish(events.KindStateChanged, map[string]any{"from": string(from), "to": string(to), "reason": reason})
}

func (a *actor) publish(kind events.Kind, payload map[string]any) {
	if a.engine.bus == nil {
		return
	}
	a.engine.bus.Publish(events.Event{SessionID: a.id, Kind: kind, Payload: payload})
}

func (a *actor) persist(ctx context.Context) {
	if a.engine.store == nil {
		return
	}
	blob, err := json.Marshal(a.sess)
	if err != nil {
		return
	}
	_ = a.engine.store.SaveSession(ctx, a.id, blob)
}
