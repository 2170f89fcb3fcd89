package monitoring

import (
	"strconv"
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

	// AssessmentSubmissions result: accepted, denied, invalid, conflict, error
	AssessmentSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_submissions_total",
			Help: "Assessment submissions by skill and result",
		},
		[]string{"skill", "result"},
	)

	ScoringOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_scoring_outcomes_total",
			Help: "Scoring collaborator outcomes by skill and kind (scored, degraded)",
		},
		[]string{"skill", "kind"},
	)

	ScoringDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assessment_scoring_duration_seconds",
			Help:    "Duration of scoring collaborator calls",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30},
		},
		[]string{"skill"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AssessmentSubmissions)
	prometheus.MustRegister(ScoringOutcomes)
	prometheus.MustRegister(ScoringDuration)
}

func ObserveSubmission(skill, result string) {
	AssessmentSubmissions.WithLabelValues(skill, result).Inc()
}

func ObserveScoring(skill, kind string, elapsed time.Duration) {
	ScoringOutcomes.WithLabelValues(skill, kind).Inc()
	ScoringDuration.WithLabelValues(skill).Observe(elapsed.Seconds())
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		// 未匹配路由统一归为一个 endpoint，避免标签基数膨胀
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
