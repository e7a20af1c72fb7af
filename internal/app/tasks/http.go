package tasks

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ems-pm/project/internal/platform/httpx"
	"github.com/ems-pm/project/internal/platform/logging"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	Service *Service
	Logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	logger = logging.OrNop(logger)
	return &Handler{Service: service, Logger: logger}
}

// Router serves the task routes. Mount it under /tasks.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/ongoing", h.handleOngoing)
	r.Get("/list", h.handleEmployees)
	r.Get("/employee/{employeeID}", h.handleByEmployee)
	r.Put("/{taskID}", h.handleUpdate)
	r.Patch("/{taskID}/reassign", h.handleReassign)
	r.Patch("/{taskID}/status", h.handleStatus)
	r.Delete("/{taskID}", h.handleDelete)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeErr(w, err)
		return
	}
	task, err := h.Service.Create(r.Context(), in)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "task": task})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	// A project_id that is not an integer lists every task.
	var projectID *int64
	raw := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		projectID = &id
	}
	tasks, err := h.Service.ListByProject(r.Context(), projectID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "tasks": tasks})
}

func (h *Handler) handleOngoing(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Service.ListOngoing(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "tasks": tasks})
}

func (h *Handler) handleEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Service.ListEmployees(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "employees": employees})
}

func (h *Handler) handleByEmployee(w http.ResponseWriter, r *http.Request) {
	employeeID, err := strconv.ParseInt(chi.URLParam(r, "employeeID"), 10, 64)
	if err != nil {
		h.writeErr(w, invalid(ErrInvalidEmployeeID))
		return
	}
	tasks, err := h.Service.ListByEmployee(r.Context(), employeeID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "tasks": tasks})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	var req taskRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeErr(w, err)
		return
	}
	task, err := h.Service.Update(r.Context(), taskID, in)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
}

func (h *Handler) handleReassign(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	var req reassignRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.Service.Reassign(r.Context(), taskID, toInt64s(req.EmployeeIDs))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"employee_ids":   out.EmployeeIDs,
		"employee_names": out.EmployeeNames,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.Service.ChangeStatus(r.Context(), taskID, req.Status)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}
	if err := h.Service.Delete(r.Context(), taskID); err != nil {
		h.writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Task deleted successfully"})
}

func (h *Handler) taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil || id <= 0 {
		h.writeErr(w, invalid(ErrInvalidTaskID))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var (
		ve *ValidationError
		nf *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &nf):
		h.writeError(w, http.StatusNotFound, nf.Error())
	default:
		h.Logger.Error("task request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	httpx.WriteJSON(w, status, map[string]any{"success": false, "message": message})
}
