// Package server exposes the chat agent and the task store over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"taskagent/internal/agent"
	"taskagent/internal/models"
	"taskagent/internal/services"
)

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	Agent   agent.TaskAgent
	Tasks   services.TaskService
	Backend string
}

// NewRouter builds the chi router with middleware and all routes mounted.
func NewRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger)
	r.Use(Recoverer)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Patch("/tasks/{id}", h.UpdateTask)
		r.Delete("/tasks/{id}", h.DeleteTask)
	})
	return r
}

type healthResponse struct {
	Status          string `json:"status"`
	Backend         string `json:"backend"`
	AgentConfigured bool   `json:"agent_configured"`
}

// Health reports liveness and whether the agent backend is usable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:          "ok",
		Backend:         h.Backend,
		AgentConfigured: h.Agent.Configured(),
	})
}

// Chat forwards the message to the agent. The agent is fail-soft, so any
// well-formed request gets a 200 with an assistant message.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[models.ChatRequest](w, r)
	if !ok {
		return
	}
	reply := h.Agent.ProcessMessage(r.Context(), req.Message)
	writeJSON(w, r, http.StatusOK, reply)
}

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.ListTasks(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tasks)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, task)
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[models.TaskCreate](w, r)
	if !ok {
		return
	}
	task, err := h.Tasks.CreateTask(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, task)
}

func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[models.TaskUpdate](w, r)
	if !ok {
		return
	}
	task, err := h.Tasks.UpdateTask(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, task)
}

func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Shutdown releases the agent. Callers defer it next to http.Server.Shutdown.
func (h *Handlers) Shutdown(ctx context.Context) error {
	return h.Agent.Cleanup(ctx)
}
