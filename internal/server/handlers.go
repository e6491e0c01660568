package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/haasonsaas/mcptap/internal/chaos"
	"github.com/haasonsaas/mcptap/internal/journal"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps journal sentinel errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, journal.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, journal.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, journal.ErrInvalidTransition):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	project, err := s.store.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if projects == nil {
		projects = []*journal.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createAgentRequest struct {
	Name        string          `json:"name"`
	Target      string          `json:"target"`
	ChaosConfig json.RawMessage `json:"chaos_config,omitempty"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if len(req.ChaosConfig) > 0 {
		if _, err := chaos.ParseConfig(req.ChaosConfig); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "chaos config: " + err.Error()})
			return
		}
	}
	agent, err := s.store.CreateAgent(r.Context(), r.PathValue("id"), req.Name, req.Target, req.ChaosConfig)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if agents == nil {
		agents = []*journal.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := journal.RunFilter{
		AgentID:   q.Get("agent_id"),
		Status:    journal.RunStatus(q.Get("status")),
		Kind:      journal.RunKind(q.Get("kind")),
		TargetSub: q.Get("target"),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []*journal.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	var events []*journal.Event
	var err error
	if kind := q.Get("kind"); kind != "" {
		events, err = s.store.GetEventsByKind(r.Context(), runID, journal.EventKind(kind))
	} else {
		events, err = s.store.GetEvents(r.Context(), runID, limit, offset)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if events == nil {
		events = []*journal.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleLaunchStress starts a sweep in the background. The created run
// is announced on the agent and global topics, so a subscriber learns
// the run id without polling.
func (s *Server) handleLaunchStress(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	go func() {
		if _, err := s.runner.Sweep(context.Background(), agent.Target, agent.ID); err != nil {
			s.logger.Error("stress sweep failed", "agent_id", agent.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "started",
		"agent_id": agent.ID,
	})
}

func (s *Server) handleLatestStress(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestStressRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   run.ID,
		"status":   run.Status,
		"counters": run.Counters,
		"score":    run.Counters.StressScore,
		"ended_at": run.EndedAt,
	})
}

type notifyRequest struct {
	RunID  string           `json:"run_id"`
	Events []*journal.Event `json:"events"`
}

// handleNotify ingests an event batch from an out-of-process proxy
// sharing this journal over HTTP.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.RunID == "" || len(req.Events) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "run_id and events are required"})
		return
	}
	if _, err := s.store.GetRun(r.Context(), req.RunID); err != nil {
		writeStoreError(w, err)
		return
	}

	inserted := make([]int64, 0, len(req.Events))
	for _, ev := range req.Events {
		ev.RunID = req.RunID
		id, err := s.store.InsertEvent(r.Context(), ev)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		inserted = append(inserted, id)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event_ids": inserted})
}
