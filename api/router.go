package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/browserpilot/engine/api/handlers"
	"github.com/browserpilot/engine/session"
	"github.com/browserpilot/engine/session/replay"
)

// BuildInfo carries the version metadata cmd/browserpilot injects at link
// time, surfaced by GET /version.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// NewRouter builds the boundary adapter's http.Handler: one net/http
// ServeMux route per spec.md §6 entry, dispatched via Go 1.22+
// method+wildcard patterns. archive may be nil to disable the relational
// replay mirror. readinessChecks are consulted by GET /ready.
func NewRouter(engine *session.Engine, archive *replay.Archive, logger *zap.Logger, version BuildInfo, readinessChecks ...handlers.HealthCheck) http.Handler {
	sessions := handlers.NewSessionHandler(engine, archive, logger)
	health := handlers.NewHealthHandler(logger)
	for _, c := range readinessChecks {
		health.RegisterCheck(c)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(version.Version, version.BuildTime, version.GitCommit))

	mux.HandleFunc("POST /sessions/create", sessions.HandleCreate)
	mux.HandleFunc("POST /sessions/{id}/execute", sessions.HandleExecute)
	mux.HandleFunc("POST /sessions/{id}/follow-up", sessions.HandleFollowUp)
	mux.HandleFunc("GET /sessions/{id}/next-action", sessions.HandleNextAction)
	mux.HandleFunc("POST /sessions/{id}/action-result", sessions.HandleActionResult)
	mux.HandleFunc("POST /sessions/{id}/state", sessions.HandleState)
	mux.HandleFunc("POST /sessions/{id}/pause", sessions.HandlePause)
	mux.HandleFunc("POST /sessions/{id}/resume", sessions.HandleResume)
	mux.HandleFunc("POST /sessions/{id}/cancel", sessions.HandleCancel)
	mux.HandleFunc("GET /sessions/{id}/history", sessions.HandleHistory)
	mux.HandleFunc("GET /sessions/{id}/events", sessions.HandleEvents)
	mux.HandleFunc("POST /sessions/{id}/replay", sessions.HandleReplay)
	mux.HandleFunc("POST /sessions/{id}/extract", sessions.HandleExtract)

	return mux
}
