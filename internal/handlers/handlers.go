// Package handlers содержит HTTP обработчики: управление паузой, кадры,
// поток кадров, статистику и записанные отсчеты
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"flowscope/internal/metrics"
	"flowscope/internal/models"
)

// Controller управляет сессией
type Controller interface {
	ID() string
	Pause() models.ControlState
	Resume() models.ControlState
	Toggle() models.ControlState
	State() models.ControlState
	Stats() models.StatsResponse
}

// SampleStore хранилище записанных отсчетов
type SampleStore interface {
	LatestSamples(ctx context.Context, count int64) ([]models.Sample, error)
	Ping(ctx context.Context) error
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	control   Controller
	hub       *FrameHub
	store     SampleStore
	log       logrus.FieldLogger
	startTime time.Time
}

// NewHandler создает новый обработчик; store может быть nil
func NewHandler(control Controller, hub *FrameHub, store SampleStore, log logrus.FieldLogger) *Handler {
	return &Handler{
		control:   control,
		hub:       hub,
		store:     store,
		log:       log,
		startTime: time.Now(),
	}
}

// Router собирает маршруты API
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/control", h.StateHandler).Methods("GET")
	router.HandleFunc("/control/toggle", h.ToggleHandler).Methods("POST")
	router.HandleFunc("/control/pause", h.PauseHandler).Methods("POST")
	router.HandleFunc("/control/resume", h.ResumeHandler).Methods("POST")
	router.HandleFunc("/frame", h.FrameHandler).Methods("GET")
	router.HandleFunc("/stream", h.hub.ServeWS).Methods("GET")
	router.HandleFunc("/samples/latest", h.LatestSamplesHandler).Methods("GET")
	router.HandleFunc("/stats", h.StatsHandler).Methods("GET")
	router.HandleFunc("/health", h.HealthHandler).Methods("GET")
	router.Handle("/prometheus", promhttp.Handler())

	router.Use(h.loggingMiddleware)
	return router
}

// StateHandler обрабатывает GET /control
func (h *Handler) StateHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, h.control.State(), http.StatusOK)
	metrics.RequestsTotal.WithLabelValues("/control", r.Method, "200").Inc()
}

// ToggleHandler обрабатывает POST /control/toggle
func (h *Handler) ToggleHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, h.control.Toggle(), http.StatusOK)
	metrics.RequestsTotal.WithLabelValues("/control/toggle", r.Method, "200").Inc()
}

// PauseHandler обрабатывает POST /control/pause
func (h *Handler) PauseHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, h.control.Pause(), http.StatusOK)
	metrics.RequestsTotal.WithLabelValues("/control/pause", r.Method, "200").Inc()
}

// ResumeHandler обрабатывает POST /control/resume
func (h *Handler) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, h.control.Resume(), http.StatusOK)
	metrics.RequestsTotal.WithLabelValues("/control/resume", r.Method, "200").Inc()
}

// FrameHandler обрабатывает GET /frame - последний кадр
func (h *Handler) FrameHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/frame", r.Method))
	defer timer.ObserveDuration()

	frame, ok := h.hub.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		metrics.RequestsTotal.WithLabelValues("/frame", r.Method, "204").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/frame", r.Method, "200").Inc()
	h.respondJSON(w, frame, http.StatusOK)
}

// LatestSamplesHandler возвращает записанные отсчеты из Redis
func (h *Handler) LatestSamplesHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/samples/latest", r.Method))
	defer timer.ObserveDuration()

	count := int64(50)
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		if c, err := strconv.ParseInt(countStr, 10, 64); err == nil && c > 0 && c <= 1000 {
			count = c
		}
	}

	if h.store == nil {
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		metrics.RequestsTotal.WithLabelValues("/samples/latest", r.Method, "503").Inc()
		return
	}

	samples, err := h.store.LatestSamples(r.Context(), count)
	if err != nil {
		h.respondError(w, "Failed to get samples: "+err.Error(), http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("/samples/latest", r.Method, "500").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/samples/latest", r.Method, "200").Inc()
	h.respondJSON(w, samples, http.StatusOK)
}

// StatsHandler обрабатывает GET /stats - статистика сессии
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/stats", r.Method))
	defer timer.ObserveDuration()

	metrics.RequestsTotal.WithLabelValues("/stats", r.Method, "200").Inc()
	h.respondJSON(w, h.control.Stats(), http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disabled"
	if h.store != nil {
		redisStatus = "disconnected"
		if h.store.Ping(r.Context()) == nil {
			redisStatus = "connected"
		}
	}

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Session:   h.control.ID(),
		Redis:     redisStatus,
		Uptime:    time.Since(h.startTime).String(),
	}

	h.respondJSON(w, status, http.StatusOK)
}

// loggingMiddleware логирует HTTP запросы
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	body, err := json.Marshal(data)
	if err != nil {
		h.log.WithError(err).Error("failed to encode response")
		h.respondError(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
