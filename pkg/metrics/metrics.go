// Package metrics 注册流水线与 HTTP 层的 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type collectors struct {
	once sync.Once

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	indexedChunks prometheus.Gauge
	qaRecords     prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

var m collectors

func (c *collectors) init() {
	c.once.Do(func() {
		buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
		c.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "chatwithcode_stage_duration_seconds", Help: "流水线各阶段耗时", Buckets: buckets,
		}, []string{"stage"})
		c.stageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatwithcode_stage_errors_total", Help: "流水线各阶段失败次数",
		}, []string{"stage"})
		c.indexedChunks = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatwithcode_indexed_chunks", Help: "当前已发布向量库中的分块数",
		})
		c.qaRecords = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatwithcode_qa_records_total", Help: "写入问答日志的记录数",
		})
		c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatwithcode_http_requests_total", Help: "HTTP 请求数",
		}, []string{"method", "path", "status"})
		c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "chatwithcode_http_request_duration_seconds", Help: "HTTP 请求耗时", Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"})

		prometheus.MustRegister(
			c.stageDuration, c.stageErrors, c.indexedChunks, c.qaRecords,
			c.httpRequests, c.httpDuration,
		)
	})
}

// ObserveStage 记录一个阶段的耗时，err 非空时同时计入失败次数。
func ObserveStage(stage string, d time.Duration, err error) {
	m.init()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

func SetIndexedChunks(n int) { m.init(); m.indexedChunks.Set(float64(n)) }

func IncQARecords() { m.init(); m.qaRecords.Inc() }

// ObserveHTTP 记录一次 HTTP 请求。
func ObserveHTTP(method, path string, status int, d time.Duration) {
	m.init()
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler 返回 /metrics 的 HTTP handler。
func Handler() http.Handler {
	m.init()
	return promhttp.Handler()
}
