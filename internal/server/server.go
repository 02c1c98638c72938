// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/pool-listener/internal/metrics"
	"github.com/smartdevs17/pool-listener/internal/models"
	"github.com/smartdevs17/pool-listener/internal/monitor"
	"github.com/smartdevs17/pool-listener/internal/notification"
	"github.com/smartdevs17/pool-listener/internal/processor"
	"github.com/smartdevs17/pool-listener/internal/storage"
	"github.com/smartdevs17/pool-listener/pkg/utils"
)

// Version is reported by the health endpoints
var Version = "1.0.0"

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
}

// HTTPServer exposes health, metrics and read-only pool state
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	monitor        monitor.Monitor
	processor      *processor.TransitionProcessor
	notification   *notification.NotificationManager
	metricsManager *metrics.Manager
	logger         *logrus.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewHTTPServer creates a new HTTP server. processor, notification and
// metricsManager may be nil.
func NewHTTPServer(
	config *ServerConfig,
	storage storage.Storage,
	monitor monitor.Monitor,
	processor *processor.TransitionProcessor,
	notification *notification.NotificationManager,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if config == nil || storage == nil || monitor == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Server requires config, storage and monitor", "")
	}

	server := &HTTPServer{
		config:         config,
		storage:        storage,
		monitor:        monitor,
		processor:      processor,
		notification:   notification,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		done:           make(chan struct{}),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// Handler returns the routed handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Pool endpoints
	api.HandleFunc("/pools", s.listPoolsHandler).Methods("GET")
	api.HandleFunc("/pools/{address}", s.getPoolHandler).Methods("GET")
	api.HandleFunc("/pools/{address}/notifications", s.poolNotificationsHandler).Methods("GET")

	// Notification endpoints
	api.HandleFunc("/notifications", s.listNotificationsHandler).Methods("GET")
	api.HandleFunc("/notifications/channels", s.listChannelsHandler).Methods("GET")
	api.HandleFunc("/notifications/test", s.testNotificationHandler).Methods("POST")

	// Monitor endpoints
	api.HandleFunc("/monitor/status", s.monitorStatusHandler).Methods("GET")
	api.HandleFunc("/monitor/start", s.startMonitorHandler).Methods("POST")
	api.HandleFunc("/monitor/stop", s.stopMonitorHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.updateComponentHealth()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("error", err.Error()).Error("HTTP server error")
			errChan <- err
		}
	}()

	// catch immediate bind failures
	select {
	case err := <-errChan:
		return utils.WrapError(utils.ErrCodeInternal, "Failed to start HTTP server", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.updateComponentHealth()
		}
	}
}

func (s *HTTPServer) updateComponentHealth() {
	s.metricsManager.UpdateSystemMetrics()
	s.metricsManager.UpdateComponentHealth("storage", s.storage.GetHealth().Healthy)
	s.metricsManager.UpdateComponentHealth("monitor", s.monitor.GetHealth().Healthy)
	if s.notification != nil {
		s.metricsManager.UpdateComponentHealth("notification", s.notification.GetHealth().Healthy)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	s.stopOnce.Do(func() { close(s.done) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.monitor.GetHealth()
	status, code := "healthy", http.StatusOK
	if !health.Healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   Version,
		"issues":    health.Issues,
	})
}

func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	monitorHealth := s.monitor.GetHealth()
	storageHealth := s.storage.GetHealth()

	components := map[string]interface{}{
		"storage": storageHealth,
		"monitor": monitorHealth,
	}
	healthy := monitorHealth.Healthy && storageHealth.Healthy
	if s.notification != nil {
		nh := s.notification.GetHealth()
		components["notification"] = nh
		healthy = healthy && nh.Healthy
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    Version,
		"components": components,
	})
}

func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"storage":         storageStats,
		"monitor":         s.monitor.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.processor != nil {
		stats["processor"] = s.processor.GetStats()
	}
	if s.notification != nil {
		stats["notification"] = s.notification.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Pool Handlers

func (s *HTTPServer) listPoolsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.PoolFilter{
		Limit:  parseInt(query.Get("limit"), 100),
		Offset: parseInt(query.Get("offset"), 0),
	}

	if v := query.Get("state"); v != "" {
		state := models.PoolState(v)
		if !state.Valid() {
			s.writeError(w, http.StatusBadRequest, "Unknown pool state", fmt.Errorf("state %q", v))
			return
		}
		filter.State = &state
	}

	pools, err := s.storage.ListPools(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve pools", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pools":  pools,
		"count":  len(pools),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *HTTPServer) getPoolHandler(w http.ResponseWriter, r *http.Request) {
	address, ok := s.pathAddress(w, r)
	if !ok {
		return
	}

	pool, err := s.storage.GetPool(r.Context(), address)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Pool not found", err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve pool", err)
		return
	}

	s.writeJSON(w, http.StatusOK, pool)
}

func (s *HTTPServer) poolNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	address, ok := s.pathAddress(w, r)
	if !ok {
		return
	}

	filter := models.NotificationFilter{
		PoolAddress: &address,
		Limit:       parseInt(r.URL.Query().Get("limit"), 100),
	}
	s.writeNotifications(w, r, filter)
}

// Notification Handlers

func (s *HTTPServer) listNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.NotificationFilter{Limit: parseInt(query.Get("limit"), 100)}

	if v := query.Get("pool"); v != "" {
		if !utils.IsValidAddress(v) {
			s.writeError(w, http.StatusBadRequest, "Invalid pool address", nil)
			return
		}
		address := utils.NormalizeAddress(v)
		filter.PoolAddress = &address
	}
	if v := query.Get("kind"); v != "" {
		kind := models.NotificationKind(v)
		filter.Kind = &kind
	}
	if v := query.Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid success flag", err)
			return
		}
		filter.Success = &success
	}

	s.writeNotifications(w, r, filter)
}

func (s *HTTPServer) writeNotifications(w http.ResponseWriter, r *http.Request, filter models.NotificationFilter) {
	records, err := s.storage.ListNotifications(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve notifications", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"count":         len(records),
	})
}

func (s *HTTPServer) listChannelsHandler(w http.ResponseWriter, r *http.Request) {
	channels := []string{}
	if s.notification != nil {
		channels = s.notification.Channels()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"channels": channels,
		"count":    len(channels),
	})
}

type testNotificationRequest struct {
	PoolAddress string   `json:"pool_address"`
	Channels    []string `json:"channels"`
}

// testNotificationHandler sends a discovery message for a stored pool, or a
// placeholder pool, without recording it
func (s *HTTPServer) testNotificationHandler(w http.ResponseWriter, r *http.Request) {
	if s.notification == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Notifications are disabled", nil)
		return
	}

	var req testNotificationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	pool := &models.Pool{
		Address: "0x0000000000000000000000000000000000000001",
		State:   models.PoolStateDiscovered,
		FeeTier: 3000,
	}
	if req.PoolAddress != "" {
		stored, err := s.storage.GetPool(r.Context(), utils.NormalizeAddress(req.PoolAddress))
		if err != nil {
			s.writeError(w, http.StatusNotFound, "Pool not found", err)
			return
		}
		pool = stored
	}

	channels := req.Channels
	if len(channels) == 0 {
		channels = s.notification.Channels()
	}

	results := s.notification.Send(r.Context(), models.NotificationKindPoolDiscovered, pool, channels)
	out := make([]map[string]interface{}, 0, len(results))
	for _, res := range results {
		entry := map[string]interface{}{
			"channel":     res.Channel,
			"success":     res.Success,
			"duration_ms": res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		}
		out = append(out, entry)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}

// Monitor Handlers

func (s *HTTPServer) monitorStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.monitor.IsRunning(),
		"stats":   s.monitor.GetStats(),
		"health":  s.monitor.GetHealth(),
	})
}

func (s *HTTPServer) startMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor.IsRunning() {
		s.writeError(w, http.StatusConflict, "Monitor is already running", nil)
		return
	}

	// the loops must outlive this request
	if err := s.monitor.Start(context.WithoutCancel(r.Context())); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to start monitor", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Monitor started successfully",
	})
}

func (s *HTTPServer) stopMonitorHandler(w http.ResponseWriter, r *http.Request) {
	if !s.monitor.IsRunning() {
		s.writeError(w, http.StatusConflict, "Monitor is not running", nil)
		return
	}

	if err := s.monitor.Stop(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to stop monitor", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Monitor stopped successfully",
	})
}

// Utility Methods

func (s *HTTPServer) pathAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := mux.Vars(r)["address"]
	if !utils.IsValidAddress(address) {
		s.writeError(w, http.StatusBadRequest, "Invalid pool address", nil)
		return "", false
	}
	return utils.NormalizeAddress(address), true
}

func parseInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err.Error(),
		}).Warn("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
