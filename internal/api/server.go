package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wialon-bridge/internal/db"
	"wialon-bridge/internal/ingest"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Server represents the HTTP server
type Server struct {
	db       *db.Database
	pipeline *ingest.Pipeline
	router   *mux.Router
	log      *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(database *db.Database, pipeline *ingest.Pipeline, log *slog.Logger) *Server {
	s := &Server{
		db:       database,
		pipeline: pipeline,
		router:   mux.NewRouter(),
		log:      log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Webhook endpoints
	s.router.HandleFunc("/webhook/wialon", s.handleWebhook).Methods("POST")
	s.router.HandleFunc("/webhook/wialon/test", s.handleWebhookTest).Methods("POST")

	// Health and metrics
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Dashboard endpoints
	s.router.HandleFunc("/api/v1/devices", s.handleListDevices).Methods("GET")
	s.router.HandleFunc("/api/v1/devices/{unit_id}", s.handleGetDevice).Methods("GET")
	s.router.HandleFunc("/api/v1/tracking/latest", s.handleLatestTracking).Methods("GET")
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/v1/logs", s.handleLogs).Methods("GET")

	s.router.Use(s.loggingMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// buildRequest flattens an HTTP request into the pipeline's view of it.
// The body is read up front so form payloads survive both decoding and
// the audit sample.
func buildRequest(r *http.Request) *ingest.Request {
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))

	params := url.Values{}
	for k, vs := range r.URL.Query() {
		params[k] = vs
	}

	form := url.Values{}
	if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if parsed, err := url.ParseQuery(string(body)); err == nil {
			form = parsed
			for k, vs := range parsed {
				params[k] = append(params[k], vs...)
			}
		}
	}

	return &ingest.Request{
		Endpoint:      r.URL.Path,
		Method:        r.Method,
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		RemoteAddr:    clientAddr(r),
		UserAgent:     r.UserAgent(),
		AuthHeader:    r.Header.Get("Authorization"),
		Params:        params,
		Form:          form,
		Body:          body,
	}
}

// clientAddr prefers the first forwarded address so rate limits apply to
// the retranslator, not the proxy in front of this service.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		addr, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(addr)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Handlers

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	req := buildRequest(r)
	res := s.pipeline.Handle(r.Context(), req)

	switch res.Outcome {
	case ingest.OutcomeSuccess:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":             "success",
			"processed_count":    res.ProcessedCount,
			"processing_time_ms": res.ElapsedMillis,
		})
	case ingest.OutcomeRateLimited:
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
	case ingest.OutcomeUnauthenticated:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication failed"})
	case ingest.OutcomeNoValidData:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No valid data found in request"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}

// handleWebhookTest records whatever arrives without authentication or
// processing. Useful when pointing a new retranslator at the service.
func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	req := buildRequest(r)
	s.pipeline.Capture(req, headerDump(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func headerDump(r *http.Request) string {
	var b strings.Builder
	for _, k := range []string{"Content-Type", "Authorization", "User-Agent", "X-Forwarded-For"} {
		if v := r.Header.Get(k); v != "" {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(k + "=" + v)
		}
	}
	return b.String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	recent, err := s.db.CountRecentWebhooks(time.Now().UTC().Add(-5 * time.Minute))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"database":        "connected",
		"recent_webhooks": recent,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	devices, err := s.db.ListDevices(limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	device, err := s.db.GetDevice(vars["unit_id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "device not found")
		return
	}
	respondJSON(w, http.StatusOK, device)
}

func (s *Server) handleLatestTracking(w http.ResponseWriter, r *http.Request) {
	positions, err := s.db.LatestPerDevice()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	logs, err := s.db.RecentWebhookLogs(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
