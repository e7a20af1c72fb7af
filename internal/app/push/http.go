package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ems-pm/project/internal/contracts"
	"github.com/ems-pm/project/internal/messaging"
	"github.com/ems-pm/project/internal/platform/httpx"
	"github.com/ems-pm/project/internal/platform/logging"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	Hub       *Hub
	KeepAlive time.Duration
	Logger    *zap.Logger
}

func NewHandler(hub *Hub, keepAlive time.Duration, logger *zap.Logger) *Handler {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	logger = logging.OrNop(logger)
	return &Handler{Hub: hub, KeepAlive: keepAlive, Logger: logger}
}

// Router serves the push channel. Mount it under /socket.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/events", h.handleEvents)
	r.Post("/join", h.handleJoin)
	r.Post("/leave", h.handleLeave)
	return r
}

type membershipRequest struct {
	SessionID  string          `json:"session_id"`
	EmployeeID json.RawMessage `json:"employee_id"`
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var autoJoin string
	if raw := strings.TrimSpace(r.URL.Query().Get("employee_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "employee_id must be a positive integer")
			return
		}
		autoJoin = messaging.EmployeeTopic(id)
	}

	session := h.Hub.Open()
	defer h.Hub.Close(session.ID)

	if autoJoin != "" {
		if err := h.Hub.Join(session.ID, autoJoin); err != nil {
			h.Logger.Error("auto join failed", zap.String("topic", autoJoin), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "stream subscription failed")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, contracts.EventConnected, contracts.ConnectedEvent{SessionID: session.ID}); err != nil {
		return
	}
	flusher.Flush()
	h.Logger.Debug("push session opened", zap.String("session_id", session.ID))

	ticker := time.NewTicker(h.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.Logger.Debug("push session closed", zap.String("session_id", session.ID))
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case env := <-session.Events():
			if err := writeEvent(w, env.Event, env.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
	return err
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	sessionID, topic, ok := h.decodeMembership(w, r)
	if !ok {
		return
	}
	if err := h.Hub.Join(sessionID, topic); err != nil {
		h.writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	sessionID, topic, ok := h.decodeMembership(w, r)
	if !ok {
		return
	}
	if err := h.Hub.Leave(sessionID, topic); err != nil {
		h.writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeMembership(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return "", "", false
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return "", "", false
	}
	employeeID, err := parseEmployeeID(req.EmployeeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	return sessionID, messaging.EmployeeTopic(employeeID), true
}

// parseEmployeeID accepts a JSON number or a numeric string.
func parseEmployeeID(raw json.RawMessage) (int64, error) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return 0, errors.New("employee_id is required")
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("employee_id must be a positive integer")
	}
	return id, nil
}

func (h *Handler) writeHubError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownSession) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.Logger.Error("push membership change failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	httpx.WriteJSON(w, status, map[string]any{"success": false, "message": message})
}
