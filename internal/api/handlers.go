package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sweeney/relay-board/internal/relay"
	"github.com/sweeney/relay-board/internal/status"
)

// RelayResponse is returned after switching a single relay.
type RelayResponse struct {
	Relay int    `json:"relay"`
	State string `json:"state"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// StatusResponse lists the state of every relay.
type StatusResponse struct {
	Relays []RelayState `json:"relays"`
}

// RelayState is one entry of StatusResponse.
type RelayState struct {
	ID    int    `json:"id"`
	State string `json:"state"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

const invalidRelayMessage = "Invalid relay ID"

// Health reports liveness. It never touches the board.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleOn(w http.ResponseWriter, r *http.Request) {
	s.switchRelay(w, r, relay.StateOn, s.relays.On)
}

func (s *Server) handleOff(w http.ResponseWriter, r *http.Request) {
	s.switchRelay(w, r, relay.StateOff, s.relays.Off)
}

func (s *Server) switchRelay(w http.ResponseWriter, r *http.Request, state relay.State, fn func(int) error) {
	id, ok := s.relayID(r)
	if !ok {
		http.Error(w, invalidRelayMessage, http.StatusBadRequest)
		return
	}
	if err := fn(id); err != nil {
		s.boardError(w, r, err)
		return
	}
	s.logger.Info("relay switched", "relay", id, "state", state, "request_id", RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, RelayResponse{Relay: id, State: string(state)})
}

func (s *Server) handleAllOff(w http.ResponseWriter, r *http.Request) {
	if err := s.relays.AllOff(); err != nil {
		s.boardError(w, r, err)
		return
	}
	s.logger.Info("all relays off", "request_id", RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "all relays off"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	states, err := s.relays.Status()
	if err != nil {
		s.boardError(w, r, err)
		return
	}
	resp := StatusResponse{Relays: make([]RelayState, len(states))}
	for i, st := range states {
		resp.Relays[i] = RelayState{ID: st.ID, State: string(st.State)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

// relayID parses the {id} path segment and checks it against the layout.
func (s *Server) relayID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || !s.relays.Valid(id) {
		return 0, false
	}
	return id, true
}

func (s *Server) boardError(w http.ResponseWriter, r *http.Request, err error) {
	if relay.IsInvalidRelay(err) {
		http.Error(w, invalidRelayMessage, http.StatusBadRequest)
		return
	}
	s.logger.Error("relay operation failed", "path", r.URL.Path, "error", err, "request_id", RequestIDFrom(r.Context()))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
