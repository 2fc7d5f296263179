package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/browserpilot/engine/types"
)

// WriteJSON writes v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into spec.md's {error: string} envelope,
// deriving the HTTP status from a *types.Error's code when present and
// falling back to 500 for anything else.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: err.Error()}

	if te, ok := err.(*types.Error); ok {
		resp.Error = te.Message
		resp.Code = string(te.Code)
		resp.Retryable = te.Retryable
		status = te.HTTPStatus
		if status == 0 {
			status = mapErrorCodeToStatus(te.Code)
		}
	}

	if logger != nil {
		logger.Warn("request failed", zap.Error(err), zap.Int("status", status))
	}
	WriteJSON(w, status, resp)
}

// DecodeJSONBody decodes r.Body into dst, writing a 400 error response and
// returning a non-nil error on malformed JSON.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty").WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, err, logger)
		return err
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err).WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

func mapErrorCodeToStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrInvalidTaskInput, types.ErrToolValidation:
		return http.StatusBadRequest
	case types.ErrAuthentication, types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden, types.ErrGuardrailsViolated, types.ErrGuardrailTripwire:
		return http.StatusForbidden
	case types.ErrSessionNotFound, types.ErrModelNotFound, types.ErrReplayNotFound:
		return http.StatusNotFound
	case types.ErrSessionNotPausable, types.ErrNoActionPending:
		return http.StatusConflict
	case types.ErrRateLimit, types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrContextTooLong:
		return http.StatusRequestEntityTooLarge
	case types.ErrContentFiltered:
		return http.StatusUnprocessableEntity
	case types.ErrTimeout, types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrModelOverloaded, types.ErrServiceUnavailable, types.ErrProviderUnavailable, types.ErrStoreUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ResponseWriter wraps http.ResponseWriter to capture the status code
// written, used by tracing and metrics middleware.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	written    bool
}

// NewResponseWriter wraps w, defaulting StatusCode to 200 until WriteHeader
// is observed.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.StatusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
