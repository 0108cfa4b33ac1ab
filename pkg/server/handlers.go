package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hostwarden/control-plane/internal/reasoning"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Handler builds the thin HTTP surface: a health check, a manual
// monitoring-task trigger, and a streaming reasoning endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/tasks/{taskID}/run", s.handleRunTask)
	r.Post("/reason", s.handleReason)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.Runner.ExecuteTask(r.Context(), taskID); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "triggered", "task_id": taskID})
}

type reasonRequest struct {
	UserInput string                `json:"user_input"`
	Provider  models.LLMProvider    `json:"provider,omitempty"`
	Model     string                `json:"model,omitempty"`
	Mode      string                `json:"mode"`
	OSHint    string                `json:"os_hint,omitempty"`
	History   []models.ChatMessage  `json:"history,omitempty"`
}

// handleReason streams the reasoning loop's output as Server-Sent Events,
// one "data:" frame per chunk.
func (s *Server) handleReason(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ch, err := s.Engine.Reason(r.Context(), reasoning.Request{
		UserInput: req.UserInput,
		Provider:  req.Provider,
		Model:     req.Model,
		Mode:      reasoning.Mode(req.Mode),
		OSHint:    req.OSHint,
		History:   req.History,
	})
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range ch {
		if chunk.Err != nil {
			log.Warn().Err(chunk.Err).Msg("reasoning stream terminated with error")
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonEscape(chunk.Err.Error()))
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", jsonEscape(chunk.Text))
		flusher.Flush()
	}
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
