package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate"
)

func (s *Server) postSensor(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	res, err := s.engine.IngestRaw(r.Context(), raw)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	body := map[string]any{
		"processed": res.Accepted,
		"accepted":  res.Accepted,
		"newCount":  res.NewCount,
	}
	if res.Accepted {
		body["delta"] = res.Delta
	} else {
		body["reason"] = res.Reason
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listPlatforms(w http.ResponseWriter, r *http.Request) {
	zones, err := s.engine.Zones(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platforms": zones})
}

func (s *Server) getPlatform(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid platform ID")
		return
	}
	z, err := s.engine.Zone(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platform": z})
}

func (s *Server) listPlatformEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid platform ID")
		return
	}
	events, err := s.engine.AuditLog(r.Context(), id, queryLimit(r, 100))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	status := http.StatusOK
	if h.Status != crowdgate.HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"health": h})
}

func (s *Server) listRedirects(w http.ResponseWriter, r *http.Request) {
	redirects, err := s.engine.ActiveRedirects(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redirects": redirects})
}

func (s *Server) clearRedirect(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid platform ID")
		return
	}
	redirect, err := s.engine.ClearRedirect(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Redirect cleared", "redirect": redirect})
}

func (s *Server) listEscalations(w http.ResponseWriter, r *http.Request) {
	escalations, err := s.engine.RecentEscalations(r.Context(), queryLimit(r, crowdgate.DefaultEscalationLimit))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": escalations})
}

func (s *Server) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid escalation ID")
		return
	}
	if err := s.engine.ResolveEscalation(r.Context(), id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Escalation resolved"})
}

type areaRequest struct {
	Area *float64 `json:"area"`
}

func (s *Server) setArea(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid platform ID")
		return
	}

	var req areaRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Area == nil || *req.Area <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid area. Must be a positive number.")
		return
	}

	if err := s.engine.SetZoneArea(r.Context(), id, *req.Area); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Platform area updated"})
}

func (s *Server) resetPlatform(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid platform ID")
		return
	}
	if err := s.engine.ResetZone(r.Context(), id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Platform count reset"})
}
