// Package httpapi provides the AutoDuty HTTP API server.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeff4444/autoduty-backend/engine"
	"github.com/jeff4444/autoduty-backend/eventbus"
	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/store"
)

// Server exposes incident intake, inspection, approval and live streaming.
type Server struct {
	engine *engine.Engine
	store  store.IncidentStore
	bus    eventbus.Bus
	router chi.Router
}

// New creates a Server around an engine and its store/bus.
func New(eng *engine.Engine, st store.IncidentStore, bus eventbus.Bus) *Server {
	s := &Server{engine: eng, store: st, bus: bus}
	s.router = s.buildRouter()
	return s
}

// Router returns the HTTP handler for mounting or serving.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/incident", s.handleCreateIncident)
	r.Get("/incidents", s.handleListIncidents)
	r.Get("/incidents/{id}", s.handleGetIncident)
	r.Post("/incidents/{id}/approve", s.handleApproveIncident)
	r.With(middleware.NoCache).Get("/incidents/{id}/stream", s.handleStreamIncident)

	r.Get("/settings", s.handleGetSettings)
	r.Post("/settings", s.handleUpdateSettings)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createIncidentResponse struct {
	ID     string       `json:"id"`
	Status model.Status `json:"status"`
}

type settingsPayload struct {
	AIModel string `json:"ai_model"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var report engine.ErrorReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if report.ErrorType == "" || report.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "error_type and repo_url are required")
		return
	}

	inc, err := s.engine.CreateIncident(report)
	if err != nil {
		if errors.Is(err, engine.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create incident")
		log.Printf("httpapi: creating incident: %v", err)
		return
	}

	writeJSON(w, http.StatusCreated, createIncidentResponse{ID: inc.ID, Status: inc.Status})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		log.Printf("httpapi: listing incidents: %v", err)
		return
	}
	if incidents == nil {
		incidents = []model.Summary{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleApproveIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.engine.ApproveIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "incident not found")
		case errors.Is(err, engine.ErrNotApprovable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to create pull request")
			log.Printf("httpapi: approving incident: %v", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleStreamIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inc, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying the audit log: events published in between
	// would otherwise be in neither the replay nor the live stream. The
	// subscriber channel buffers them until the replay is written out.
	ch := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, ch)

	events, _ := s.store.Events(id)
	for _, e := range events {
		writeSSE(w, e)
	}
	if len(events) == 0 {
		writeSSE(w, model.AgentEvent{
			IncidentID: id,
			Timestamp:  time.Now().UTC(),
			Kind:       "status_change",
			Payload:    map[string]any{"status": string(inc.Status)},
		})
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsPayload{AIModel: s.engine.Model()})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.AIModel == "" {
		writeError(w, http.StatusBadRequest, "ai_model is required")
		return
	}
	s.engine.SetModel(payload.AIModel)
	log.Printf("httpapi: AI model switched to %s", payload.AIModel)
	writeJSON(w, http.StatusOK, settingsPayload{AIModel: s.engine.Model()})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event model.AgentEvent) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Kind, string(data))
}
