package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
)

// writeJSON writes body with status. body is merged with "success".
func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["success"] = status < http.StatusBadRequest
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	var valErr *cgerrors.ValidationError
	var rateErr *cgerrors.RateLimitedError
	var nfErr *cgerrors.NotFoundError
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &nfErr):
		return http.StatusNotFound
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes err with the status statusFor picks. Internal
// errors are not echoed to the client.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}
	if reason := cgerrors.Reason(err); reason != cgerrors.ReasonInternal {
		body["reason"] = reason
	}

	var rateErr *cgerrors.RateLimitedError
	if errors.As(err, &rateErr) {
		secs := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		body = map[string]any{"error": "internal error"}
	}
	writeJSON(w, status, body)
}

// pathID parses the {id} route variable.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryLimit parses ?limit=, falling back to def.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
