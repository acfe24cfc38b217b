package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/hivemind/internal/agent"
	"github.com/nidhogg/hivemind/internal/engine"
	"github.com/nidhogg/hivemind/internal/graph"
	"github.com/nidhogg/hivemind/internal/memory"
	"github.com/nidhogg/hivemind/internal/registry"
	"go.uber.org/zap"
)

// Handler is the thin HTTP binding of the routing core for the external
// admin/UI collaborator. It holds no state of its own.
type Handler struct {
	directory *agent.Directory
	registry  *registry.Registry
	graph     *graph.Graph
	memory    *memory.Log
	engine    *engine.Engine
	logger    *zap.Logger
}

// NewHandler creates an API handler over the core components.
func NewHandler(directory *agent.Directory, reg *registry.Registry, g *graph.Graph, mem *memory.Log, eng *engine.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		directory: directory,
		registry:  reg,
		graph:     g,
		memory:    mem,
		engine:    eng,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Agent administration
		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.registerAgent)
		r.Get("/agents/{id}", h.getAgent)
		r.Delete("/agents/{id}", h.deregisterAgent)

		// Skill administration
		r.Get("/skills", h.listSkills)
		r.Post("/skills", h.registerSkill)
		r.Post("/skills/{name}/agents", h.attachAgent)
		r.Delete("/skills/{name}/agents/{agentID}", h.detachAgent)

		// Connector administration and introspection
		r.Get("/connectors", h.listConnectors)
		r.Post("/connectors", h.upsertConnector)

		// Routing
		r.Post("/route", h.route)
		r.Post("/tasks/{taskID}/outcome", h.reportOutcome)
		r.Post("/tasks/{taskID}/cancel", h.cancelTask)
		r.Get("/history", h.routingHistory)

		// Memory introspection
		r.Post("/memory/similar", h.findSimilar)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"open_tasks": h.engine.OpenCount(),
	})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.List())
}

type registerAgentRequest struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	kind := agent.Kind(req.Kind)
	if kind == "" {
		kind = agent.KindWorker
	}

	a, err := h.directory.Register(req.ID, kind)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, a.Snapshot())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.directory.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.Snapshot())
}

func (h *Handler) deregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.Deactivate(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

type registerSkillRequest struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Triggers []string `json:"trigger_keywords"`
}

func (h *Handler) registerSkill(w http.ResponseWriter, r *http.Request) {
	var req registerSkillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	s, err := h.registry.RegisterSkill(req.Name, req.Category, req.Triggers)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

type attachAgentRequest struct {
	AgentID string `json:"agent_id"`
}

func (h *Handler) attachAgent(w http.ResponseWriter, r *http.Request) {
	var req attachAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.registry.AttachAgent(chi.URLParam(r, "name"), req.AgentID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

func (h *Handler) detachAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DetachAgent(chi.URLParam(r, "name"), chi.URLParam(r, "agentID")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
}

func (h *Handler) listConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.graph.Snapshot())
}

type upsertConnectorRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

func (h *Handler) upsertConnector(w http.ResponseWriter, r *http.Request) {
	var req upsertConnectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.From == "" || req.To == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from and to are required"})
		return
	}
	kind := graph.Kind(req.Kind)
	if kind == "" {
		kind = graph.KindPeer
	}
	writeJSON(w, http.StatusOK, h.graph.Upsert(req.From, req.To, kind))
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request) {
	var task engine.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	d, err := h.engine.Route(r.Context(), task)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type outcomeRequest struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Learning   string  `json:"learning,omitempty"`
}

func (h *Handler) reportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	taskID := chi.URLParam(r, "taskID")
	if err := h.engine.ReportOutcome(r.Context(), taskID, req.Success, req.Confidence, req.Learning); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := h.engine.CancelTask(r.Context(), taskID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) routingHistory(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.engine.RoutingHistory(agentID, limit))
}

type similarRequest struct {
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
}

func (h *Handler) findSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	if req.MinSimilarity <= 0 {
		req.MinSimilarity = 0.3
	}

	fp := memory.NewFingerprint(req.Description, req.Category)
	scored, err := h.memory.FindSimilar(r.Context(), fp, req.TopK, req.MinSimilarity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, scored)
}

// statusFor maps core error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrUnknownAgent),
		errors.Is(err, registry.ErrUnknownSkill),
		errors.Is(err, engine.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrDuplicateAgent),
		errors.Is(err, registry.ErrDuplicateSkill):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoCandidate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
