package session

// Transition is one edge of the FSM's transition table: From state plus
// a Trigger name maps to To state. A (state, trigger) pair absent from
// transitionTable is rejected by CanTransition; callers translate that
// into a client-facing types.ErrInvalidTransition.
type Transition struct {
	From    LifecycleState
	Trigger string
	To      LifecycleState
}

// Triggers driving the FSM, named after the ingress call or internal
// planning-cycle event that fires them.
const (
	TriggerExecute           = "execute"          // IDLE/COMPLETED -> PLANNING
	TriggerPlanAction        = "plan_action"       // PLANNING -> WAITING_FOR_BROWSER: planner enqueued a non-terminal action
	TriggerPlanComplete      = "plan_complete"     // PLANNING -> COMPLETED: planner reported taskComplete
	TriggerPlanError         = "plan_error"        // PLANNING -> ERROR: planner call failed after retries
	TriggerMaxSteps          = "max_steps"         // PLANNING -> ERROR: step counter reached Config.MaxSteps
	TriggerActionPolled      = "action_polled"     // WAITING_FOR_BROWSER -> EXECUTING: next-action delivered the queued action
	TriggerActionRecoverable = "action_recoverable" // EXECUTING -> PLANNING: action-result arrived, consecutiveFailures below threshold
	TriggerActionFatal       = "action_fatal"      // EXECUTING -> ERROR: consecutiveFailures reached Config.MaxFailures
	TriggerActionDone        = "action_done"       // EXECUTING -> COMPLETED: a queued Action of type "complete" succeeded
	TriggerPause             = "pause"
	TriggerResume            = "resume"
	TriggerCancel            = "cancel"
)

// transitionTable enumerates every legal (From, Trigger) -> To edge.
var transitionTable = []Transition{
	{StateIdle, TriggerExecute, StatePlanning},
	{StateCompleted, TriggerExecute, StatePlanning}, // a follow-up after completion starts a new task

	{StatePlanning, TriggerPlanAction, StateWaitingForBrowser},
	{StatePlanning, TriggerPlanComplete, StateCompleted},
	{StatePlanning, TriggerPlanError, StateError},
	{StatePlanning, TriggerMaxSteps, StateError},

	{StateWaitingForBrowser, TriggerActionPolled, StateExecuting},

	{StateExecuting, TriggerActionRecoverable, StatePlanning},
	{StateExecuting, TriggerActionFatal, StateError},
	{StateExecuting, TriggerActionDone, StateCompleted},

	{StatePaused, TriggerResume, StatePlanning},
	{StateError, TriggerResume, StatePlanning}, // operator-initiated retry from ERROR
}

// nonTerminalStates admits "pause" and "cancel" from anywhere the session
// is still doing useful work, mirroring spec's "any non-terminal -> X".
var nonTerminalStates = []LifecycleState{
	StateIdle, StatePlanning, StateExecuting, StateWaitingForBrowser, StatePaused,
}

func init() {
	for _, s := range nonTerminalStates {
		transitionTable = append(transitionTable,
			Transition{s, TriggerPause, StatePaused},
			Transition{s, TriggerCancel, StateCompleted},
		)
	}
}

// CanTransition reports whether trigger is legal from state from, and
// returns the resulting state.
func CanTransition(from LifecycleState, trigger string) (LifecycleState, bool) {
	for _, t := range transitionTable {
		if t.From == from && t.Trigger == trigger {
			return t.To, true
		}
	}
	return "", false
}

// IsTerminal reports whether state has no outgoing transitions that
// continue the session's own work (COMPLETED and ERROR are terminal;
// ERROR still admits an operator-initiated "resume").
func IsTerminal(state LifecycleState) bool {
	return state == StateCompleted || state == StateError
}
