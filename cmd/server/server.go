package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/liamcoop/grl/grl"
	"github.com/liamcoop/grl/internal/config"
	"github.com/liamcoop/grl/internal/logger"
	"github.com/liamcoop/grl/internal/metrics"
	"github.com/liamcoop/grl/multitenantengine"
	"github.com/liamcoop/grl/rules"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Server serves the tenant, rule and execution API
type Server struct {
	manager     *multitenantengine.Manager
	metrics     *metrics.Metrics
	parser      *grl.Parser
	ping        func(context.Context) error
	slowRequest time.Duration
	router      *chi.Mux
}

// NewServer wires the routes. ping reports database health; nil means the
// server has no database to check.
func NewServer(manager *multitenantengine.Manager, m *metrics.Metrics, ping func(context.Context) error, cfg config.ServerConfig) *Server {
	s := &Server{
		manager:     manager,
		metrics:     m,
		parser:      grl.NewParser(),
		ping:        ping,
		slowRequest: cfg.SlowRequest,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/api/v1/parse", s.handleParse)

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Use(requireUUID("tenantId", "tenant not found"))

			r.Get("/", s.handleGetTenant)
			r.Delete("/", s.handleDeleteTenant)

			r.Post("/schema", s.handleUpdateSchema)
			r.Get("/schema", s.handleGetSchema)

			r.Post("/execute", s.handleExecute)

			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Route("/rules/{ruleId}", func(r chi.Router) {
				r.Use(requireUUID("ruleId", "rule not found"))
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
			})
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// instrument records latency per route pattern and counts slow requests
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(r.Method, route, status, elapsed)

		if s.slowRequest > 0 && elapsed > s.slowRequest {
			logger.WarnSlowRequest()
			logger.Warn("slow request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration", elapsed.String(),
				"request_id", middleware.GetReqID(r.Context()))
		}
		logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed.String())
	})
}

// requireUUID answers 404 when the URL parameter is not a UUID
func requireUUID(param, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := uuid.Parse(chi.URLParam(r, param)); err != nil {
				respondError(w, http.StatusNotFound, message, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := len(s.manager.ListTenants())
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			logger.Error("health check failed", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:        "unhealthy",
				TenantsLoaded: loaded,
				Error:         err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", TenantsLoaded: loaded})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !decode(w, r, &req) {
		return
	}

	parsed, err := s.parser.ParseRules(req.Source)
	resp := ParseResponse{Rules: make([]ParsedRule, 0, len(parsed))}
	for _, rule := range parsed {
		resp.Rules = append(resp.Rules, toParsedRule(rule))
	}

	status := http.StatusOK
	if err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				resp.Errors = append(resp.Errors, e.Error())
			}
		} else {
			resp.Errors = []string{err.Error()}
		}
		status = http.StatusBadRequest
		logger.WarnHttp4xx()
	}
	respondJSON(w, status, resp)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.manager.Tenants()
	if err != nil {
		respondManagerError(w, "failed to list tenants", err)
		return
	}

	resp := TenantsListResponse{Tenants: make([]TenantResponse, 0, len(tenants))}
	for _, t := range tenants {
		resp.Tenants = append(resp.Tenants, toTenantResponse(t))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID != "" {
		if _, err := uuid.Parse(req.ID); err != nil {
			respondError(w, http.StatusBadRequest, "id must be a UUID", err)
			return
		}
	}

	tenant, err := s.manager.CreateTenant(req.ID, req.Name, req.Schema)
	if err != nil {
		respondManagerError(w, "failed to create tenant", err)
		return
	}
	respondJSON(w, http.StatusCreated, toTenantResponse(tenant))
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.manager.GetTenant(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondManagerError(w, "failed to get tenant", err)
		return
	}
	respondJSON(w, http.StatusOK, toTenantResponse(tenant))
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteTenant(chi.URLParam(r, "tenantId")); err != nil {
		respondManagerError(w, "failed to delete tenant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req UpdateSchemaRequest
	if !decode(w, r, &req) {
		return
	}

	sv, err := s.manager.UpdateTenantSchema(tenantID, req.Definition)
	if err != nil {
		respondManagerError(w, "failed to update schema", err)
		return
	}

	resp := toSchemaResponse(sv)
	if te, err := s.manager.GetEngine(tenantID); err == nil {
		n := te.RuleCount()
		resp.RulesRecompiled = &n
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	sv, err := s.manager.Schema(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondManagerError(w, "failed to get schema", err)
		return
	}
	respondJSON(w, http.StatusOK, toSchemaResponse(sv))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Facts == nil {
		respondError(w, http.StatusBadRequest, "facts are required", nil)
		return
	}

	exec, err := s.manager.Execute(chi.URLParam(r, "tenantId"), req.Facts)
	if err != nil {
		respondManagerError(w, "execution failed", err)
		return
	}
	respondJSON(w, http.StatusOK, toExecuteResponse(exec))
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		respondError(w, http.StatusBadRequest, "source is required", nil)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	record, err := s.manager.AddRule(chi.URLParam(r, "tenantId"), req.Source, active)
	if err != nil {
		respondManagerError(w, "failed to add rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, toRuleResponse(record))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	records, err := s.manager.ListRules(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondManagerError(w, "failed to list rules", err)
		return
	}

	resp := RulesListResponse{Rules: make([]RuleResponse, 0, len(records))}
	for _, rec := range records {
		resp.Rules = append(resp.Rules, toRuleResponse(rec))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	record, err := s.manager.GetRule(chi.URLParam(r, "tenantId"), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondManagerError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, toRuleResponse(record))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req UpdateRuleRequest
	if !decode(w, r, &req) {
		return
	}

	existing, err := s.manager.GetRule(tenantID, ruleID)
	if err != nil {
		respondManagerError(w, "failed to update rule", err)
		return
	}
	source := existing.Source
	if req.Source != "" {
		source = req.Source
	}
	active := existing.Active
	if req.Active != nil {
		active = *req.Active
	}

	record, err := s.manager.UpdateRule(tenantID, ruleID, source, active)
	if err != nil {
		respondManagerError(w, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, toRuleResponse(record))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteRule(chi.URLParam(r, "tenantId"), chi.URLParam(r, "ruleId")); err != nil {
		respondManagerError(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into v, answering 400 on failure
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// statusFor maps manager and store errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, multitenantengine.ErrTenantNotFound),
		errors.Is(err, multitenantengine.ErrSchemaNotFound),
		errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, multitenantengine.ErrTenantExists),
		errors.Is(err, rules.ErrRuleExists),
		errors.Is(err, rules.ErrDuplicateRuleName):
		return http.StatusConflict
	case errors.Is(err, grl.ErrSyntax),
		errors.Is(err, multitenantengine.ErrRuleRejected),
		errors.Is(err, multitenantengine.ErrInvalidSchema),
		errors.Is(err, multitenantengine.ErrInvalidTenant),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, rules.ErrInvalidAssignment):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondManagerError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(message, "error", err)
	}
	respondError(w, status, message, err)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
	case status >= 400:
		logger.WarnHttp4xx()
	}

	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

