// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество HTTP запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowscope_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность HTTP запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowscope_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// SamplesAccepted количество принятых в окно отсчетов
	SamplesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_samples_accepted_total",
			Help: "Total number of samples appended to the rolling window",
		},
	)

	// LinesRead количество прочитанных строк
	LinesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_lines_read_total",
			Help: "Total number of raw lines read from the source",
		},
	)

	// MalformedLines количество отброшенных строк
	MalformedLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_malformed_lines_total",
			Help: "Total number of lines discarded by the parser",
		},
	)

	// EmptyPolls количество опросов без новых данных
	EmptyPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_empty_polls_total",
			Help: "Total number of polls that produced no usable record",
		},
	)

	// SourceErrors количество отказов источника
	SourceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_source_errors_total",
			Help: "Total number of source failures",
		},
	)

	// Reconnects количество переподключений источника
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_source_reconnects_total",
			Help: "Total number of successful source reconnects",
		},
	)

	// RecorderErrors ошибки записи отсчетов в Redis
	RecorderErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowscope_recorder_errors_total",
			Help: "Total number of failed sample recordings",
		},
	)

	// LatestValue последнее значение основной серии
	LatestValue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowscope_latest_value",
			Help: "Latest (smoothed) primary value",
		},
	)

	// LatestSecondary последнее значение второй серии
	LatestSecondary = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowscope_latest_secondary",
			Help: "Latest secondary value",
		},
	)

	// SampleRate частота принятых отсчетов в секунду
	SampleRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowscope_sample_rate",
			Help: "Accepted samples per second",
		},
	)

	// Paused 1 если сессия на паузе
	Paused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowscope_paused",
			Help: "1 when polling is paused",
		},
	)

	// StreamClients количество подключенных WebSocket клиентов
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowscope_stream_clients",
			Help: "Number of connected frame stream clients",
		},
	)

	// TickLatency время выполнения одного тика
	TickLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowscope_tick_latency_seconds",
			Help:    "Tick computation latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05},
		},
	)
)

// ObserveDrain обновляет счетчики по итогам опроса
func ObserveDrain(lines, malformed int, ok bool, err error) {
	LinesRead.Add(float64(lines))
	MalformedLines.Add(float64(malformed))
	switch {
	case err != nil:
		SourceErrors.Inc()
	case !ok:
		EmptyPolls.Inc()
	}
}

// ObserveSample обновляет метрики принятого отсчета
func ObserveSample(value, secondary float64, hasSecondary bool) {
	SamplesAccepted.Inc()
	LatestValue.Set(value)
	if hasSecondary {
		LatestSecondary.Set(secondary)
	}
}

// SetPaused отражает состояние паузы
func SetPaused(paused bool) {
	if paused {
		Paused.Set(1)
		return
	}
	Paused.Set(0)
}
