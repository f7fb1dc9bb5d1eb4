package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/parishems/compliance/internal/config"
	"github.com/parishems/compliance/internal/jobs"
	"gorm.io/gorm"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const healthPingTimeout = 2 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	Database      string           `json:"database"`
	Queue         *jobs.QueueStats `json:"queue,omitempty"`
	RulesLoadedAt *time.Time       `json:"rules_loaded_at,omitempty"`
}

// HTTPHandler handles HTTP endpoints outside the API
type HTTPHandler struct {
	db    *gorm.DB
	queue *jobs.EvaluationQueue
	rules *config.RulesStore
}

// NewHTTPHandler creates a new HTTP handler. Every dependency is optional.
func NewHTTPHandler(db *gorm.DB, queue *jobs.EvaluationQueue, rules *config.RulesStore) *HTTPHandler {
	return &HTTPHandler{db: db, queue: queue, rules: rules}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
}

// handleHealth reports ok, or degraded with a 503 when the database is
// unreachable or the evaluation queue has stopped.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{Status: "ok", Version: Version, Database: "unconfigured"}
	status := http.StatusOK

	if h.db != nil {
		response.Database = "ok"
		if err := h.pingDB(r.Context()); err != nil {
			log.Printf("Health check: database ping failed: %v", err)
			response.Database = "unreachable"
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if h.queue != nil {
		stats := h.queue.Stats()
		response.Queue = &stats
		if !h.queue.Healthy() {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if h.rules != nil {
		if at := h.rules.LoadedAt(); !at.IsZero() {
			response.RulesLoadedAt = &at
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

func (h *HTTPHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
