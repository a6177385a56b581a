package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 答题相关指标
	AttemptsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Exam start requests by outcome",
		},
		[]string{"outcome"},
	)

	AnswersSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_answers_saved_total",
			Help: "Answer saves by result",
		},
		[]string{"result"},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Exam submissions by result",
		},
		[]string{"result"},
	)

	SubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_submit_duration_seconds",
			Help:    "Time spent persisting a submission, retries included",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 20, 60},
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exam_active_sessions",
			Help: "Exam sessions currently held in memory",
		},
	)

	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exam_live_connections",
			Help: "Open websocket connections on the live attempt hub",
		},
	)

	PersistRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_persist_retries_total",
			Help: "Failed persistence attempts that were retried or gave up",
		},
		[]string{"op"},
	)
)

var initOnce sync.Once

// Init 注册全部指标，可重复调用
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptsStarted,
			AnswersSaved,
			Submissions,
			SubmitDuration,
			ActiveSessions,
			LiveConnections,
			PersistRetries,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
