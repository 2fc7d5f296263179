package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/browserpilot/engine/session"
	"github.com/browserpilot/engine/session/replay"
	"github.com/browserpilot/engine/types"
)

// SessionHandler drives every /sessions/{id}/* route by translating one
// ingress call into one session.Engine operation (C8).
type SessionHandler struct {
	engine  *session.Engine
	archive *replay.Archive // optional; nil disables the relational mirror
	logger  *zap.Logger
}

// NewSessionHandler wires the boundary adapter to an Engine. archive may
// be nil when the process was started without a replay DSN.
func NewSessionHandler(engine *session.Engine, archive *replay.Archive, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{engine: engine, archive: archive, logger: logger.With(zap.String("component", "session_handler"))}
}

// HandleCreate serves POST /sessions/create.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	cfg := session.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}

	sess := h.engine.CreateSession(cfg)
	WriteJSON(w, http.StatusOK, CreateSessionResponse{SessionID: sess.ID, DurableObjectID: sess.ID})
}

// HandleExecute serves POST /sessions/{id}/execute.
func (h *SessionHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	task, err := h.engine.Execute(r.Context(), id, session.ExecuteRequest{
		Instruction: req.Task,
		APIKey:      req.APIKey,
		Vision:      req.Vision,
		Model:       req.Model,
		Provider:    req.Provider,
		Config:      req.Config,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, TaskResponse{Success: true, TaskID: task.ID})
}

// HandleFollowUp serves POST /sessions/{id}/follow-up.
func (h *SessionHandler) HandleFollowUp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req FollowUpRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	task, err := h.engine.FollowUp(r.Context(), id, req.Task)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, TaskResponse{Success: true, TaskID: task.ID})
}

// HandleNextAction serves GET /sessions/{id}/next-action.
func (h *SessionHandler) HandleNextAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action, ok, err := h.engine.NextAction(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if !ok {
		sess, err := h.engine.State(r.Context(), id)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		terminal := sess.State == session.StateCompleted || sess.State == session.StateError
		WriteJSON(w, http.StatusOK, NextActionResponse{Waiting: true, TaskComplete: terminal})
		return
	}
	WriteJSON(w, http.StatusOK, NextActionResponse{Action: &action, Waiting: false, TaskComplete: false})
}

// HandleActionResult serves POST /sessions/{id}/action-result.
func (h *SessionHandler) HandleActionResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ActionResultRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	actionID := req.ActionID
	if actionID == "" {
		sess, err := h.engine.State(r.Context(), id)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		actionID = sess.PendingActionID
	}

	status := session.ResultSuccess
	if !req.Success {
		status = session.ResultFailure
	}

	result := session.Result{
		ActionID: actionID,
		Status:   status,
		Error:    req.Error,
		State: session.BrowserState{
			URL:           req.URL,
			Title:         req.Title,
			DOM:           req.DOMState,
			ScreenshotB64: req.Screenshot,
			CapturedAt:    time.Now(),
		},
		ReportedAt: time.Now(),
	}

	if err := h.engine.ActionResult(r.Context(), id, result); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// HandleState serves POST /sessions/{id}/state, a standalone BrowserState
// push not tied to an in-flight action.
func (h *SessionHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var state session.BrowserState
	if err := DecodeJSONBody(w, r, &state, h.logger); err != nil {
		return
	}
	if state.CapturedAt.IsZero() {
		state.CapturedAt = time.Now()
	}
	if err := h.engine.UpdateBrowserState(r.Context(), id, state); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// HandlePause, HandleResume and HandleCancel each drive one FSM trigger and
// return {success:true}.
func (h *SessionHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.simpleTrigger(w, r, h.engine.Pause)
}

func (h *SessionHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.simpleTrigger(w, r, h.engine.Resume)
}

func (h *SessionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.simpleTrigger(w, r, h.engine.Cancel)
}

func (h *SessionHandler) simpleTrigger(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*session.Session, error)) {
	id := r.PathValue("id")
	if _, err := op(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// HandleHistory serves GET /sessions/{id}/history.
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.engine.State(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	currentIndex := len(sess.Tasks) - 1
	for i := range sess.Tasks {
		if sess.Tasks[i].ID == sess.ActiveTaskID {
			currentIndex = i
			break
		}
	}

	WriteJSON(w, http.StatusOK, HistoryResponse{
		SessionID:        sess.ID,
		Tasks:            sess.Tasks,
		CurrentTaskIndex: currentIndex,
		ExecutionState:   sess.State,
		ActionHistory:    sess.BuildActionHistory(),
		PlannerHistory:   sess.PlannerHistory,
		SecurityEvents:   sess.SecurityEvents,
		Metrics:          sess.Metrics,
		StepCount:        sess.Metrics.StepsTaken,
	})
}

// HandleEvents serves GET /sessions/{id}/events, a Server-Sent-Events
// stream of every events.Event published on the engine's shared bus,
// filtered to the requested session.
func (h *SessionHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming unsupported").WithHTTPStatus(http.StatusInternalServerError), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := h.engine.Events().Subscribe()
	defer unsub()

	bw := bufio.NewWriter(w)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.SessionID != id {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(bw, "data: %s\n\n", payload)
			bw.Flush()
			flusher.Flush()
		}
	}
}

// HandleReplay serves POST /sessions/{id}/replay: it exports the session's
// history, persists it under the store's replay:{id} key (done inside the
// engine), and mirrors it into the relational archive (C12) when one is
// configured.
func (h *SessionHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	export, err := h.engine.Replay(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if h.archive != nil {
		if err := h.archive.Save(r.Context(), export); err != nil {
			h.logger.Warn("failed to mirror replay export into archive", zap.String("sessionId", id), zap.Error(err))
		}
	}

	WriteJSON(w, http.StatusOK, ReplayResponse{Success: true, ReplayID: export.SessionID})
}

// HandleExtract serves POST /sessions/{id}/extract.
func (h *SessionHandler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ExtractRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	data, confidence, err := h.engine.ExtractFields(r.Context(), id, req.Fields, req.Content, req.ExtractionPrompt)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, ExtractResponse{Success: true, Data: data, Confidence: confidence})
}
