package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/nurse-dispatch/internal/engine"
	"github.com/example/nurse-dispatch/internal/models"
	"github.com/example/nurse-dispatch/internal/observability"
	"github.com/example/nurse-dispatch/internal/request"
)

type coordinatePayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type locationResponse struct {
	OK          bool   `json:"ok"`
	Throttled   bool   `json:"throttled"`
	LastUpdated string `json:"last_updated"`
}

type actionPayload struct {
	Action  string `json:"action"`
	NurseID string `json:"nurse_id,omitempty"`
}

func (s *Server) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	actor, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nurseID := mux.Vars(r)["nurse_id"]
	if actor.Role != models.RoleAdmin && actor.UserID != nurseID {
		s.writeError(w, r, fmt.Errorf("%w: cannot report for nurse %s", engine.ErrForbidden, nurseID))
		return
	}

	var body coordinatePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeInvalid(w, "malformed body: "+err.Error())
		return
	}
	coord := models.Coordinate{Lat: body.Lat, Lng: body.Lng}
	if err := coord.Validate(); err != nil {
		s.writeInvalid(w, err.Error())
		return
	}

	now := time.Now().UTC()
	receipt, err := s.deps.Locations.Record(r.Context(), nurseID, coord, now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if receipt.Accepted {
		observability.LocationReports.WithLabelValues("accepted").Inc()
		if receipt.First {
			observability.NursesReporting.Inc()
		}
		if s.deps.Producer != nil {
			loc := models.NurseLocation{NurseID: nurseID, Coord: coord, UpdatedAt: now}
			if err := s.deps.Producer.Publish(r.Context(), loc); err != nil {
				s.logger.Warn("location publish failed", "nurse_id", nurseID, "error", err)
			}
		}
	} else {
		observability.LocationReports.WithLabelValues("throttled").Inc()
	}

	s.writeJSON(w, http.StatusOK, locationResponse{
		OK:          true,
		Throttled:   receipt.Throttled,
		LastUpdated: receipt.LastUpdated.Format(time.RFC3339),
	})
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if actor.Role != models.RolePatient {
		s.writeError(w, r, fmt.Errorf("%w: only patients open requests", engine.ErrForbidden))
		return
	}

	var body coordinatePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeInvalid(w, "malformed body: "+err.Error())
		return
	}
	coord := models.Coordinate{Lat: body.Lat, Lng: body.Lng}
	if err := coord.Validate(); err != nil {
		s.writeInvalid(w, err.Error())
		return
	}

	req, err := s.deps.Requests.Create(r.Context(), actor.UserID, coord)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	actor, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.deps.Requests.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !mayView(actor, req) {
		s.writeError(w, r, fmt.Errorf("%w: not a participant", engine.ErrForbidden))
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRequestAction(w http.ResponseWriter, r *http.Request) {
	actor, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var body actionPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeInvalid(w, "malformed body: "+err.Error())
		return
	}
	act, err := parseAction(body)
	if err != nil {
		s.writeInvalid(w, err.Error())
		return
	}

	updated, err := s.deps.Engine.Apply(r.Context(), mux.Vars(r)["id"], actor, act)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	actor, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if actor.Role != models.RoleAdmin {
		s.writeError(w, r, fmt.Errorf("%w: dispatch queries are admin-only", engine.ErrForbidden))
		return
	}

	proposals, err := s.deps.Matcher.FindCandidates(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"candidates": proposals})
}

func (s *Server) handleAdminPing(w http.ResponseWriter, r *http.Request) {
	actor, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if actor.Role != models.RoleAdmin {
		s.writeError(w, r, fmt.Errorf("%w: admin only", engine.ErrForbidden))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	actor, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nurseID := mux.Vars(r)["nurse_id"]
	if actor.Role != models.RoleAdmin && actor.UserID != nurseID {
		s.writeError(w, r, fmt.Errorf("%w: cannot attach to nurse %s", engine.ErrForbidden, nurseID))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	s.deps.Sessions.Add(nurseID, conn)
	go func() {
		// sessions are push-only; the read loop just detects the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.deps.Sessions.Remove(nurseID, conn)
				_ = conn.Close()
				return
			}
		}
	}()
}

func parseAction(body actionPayload) (engine.Action, error) {
	switch body.Action {
	case "assign":
		if body.NurseID == "" {
			return nil, errors.New("assign requires nurse_id")
		}
		return engine.Assign{NurseID: body.NurseID}, nil
	case "accept":
		return engine.Accept{}, nil
	case "complete":
		return engine.Complete{}, nil
	case "cancel":
		return engine.Cancel{}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", body.Action)
	}
}

func mayView(actor models.Actor, req models.ServiceRequest) bool {
	if actor.Role == models.RoleAdmin {
		return true
	}
	return actor.UserID == req.PatientID || (req.AssignedNurseID != "" && actor.UserID == req.AssignedNurseID)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeInvalid(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, request.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, request.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		// timeouts surface as server errors per the boundary contract
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
