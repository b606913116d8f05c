// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインやHTTP層から利用する。
type MetricsCollector interface {
	RecordFetchSuccess()
	RecordFetchFailure(stage string)
	RecordFetchLatency(duration time.Duration)
	RecordRun(outcome string)
	RecordItem(outcome string)
	RecordProviderCall(provider string, duration time.Duration, ok bool)
	RecordHTTPStatus(statusCode int)
}

// パイプライン実行の結果ラベル
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

// 記事処理の結果ラベル
const (
	ItemPublished = "published"
	ItemRewrite   = "rewrite_failed"
	ItemConflict  = "conflict"
	ItemFailed    = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess    prometheus.Counter
	fetchFail       *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	runs            *prometheus.CounterVec
	items           *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronique_fetch_success_total",
			Help: "フィード取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronique_fetch_fail_total",
			Help: "フィード取得失敗の合計数（段階別）",
		}, []string{"stage"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronique_fetch_latency_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronique_pipeline_runs_total",
			Help: "パイプライン実行の合計数（結果別）",
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronique_pipeline_items_total",
			Help: "処理された記事の合計数（結果別）",
		}, []string{"outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronique_llm_calls_total",
			Help: "LLMプロバイダ呼び出しの合計数",
		}, []string{"provider", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chronique_llm_latency_seconds",
			Help:    "LLMプロバイダ呼び出しのレイテンシ（秒）",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 120},
		}, []string{"provider"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronique_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.fetchLatency,
		c.runs,
		c.items,
		c.providerCalls,
		c.providerLatency,
		c.httpStatus,
	)

	return c
}

// RecordFetchSuccess はフィード取得成功を記録する。
func (c *Collector) RecordFetchSuccess() {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフィード取得失敗を段階別に記録する。
func (c *Collector) RecordFetchFailure(stage string) {
	c.fetchFail.WithLabelValues(stage).Inc()
}

// RecordFetchLatency はフィード取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordRun はパイプライン実行の結果を記録する。
func (c *Collector) RecordRun(outcome string) {
	c.runs.WithLabelValues(outcome).Inc()
}

// RecordItem は記事1件の処理結果を記録する。
func (c *Collector) RecordItem(outcome string) {
	c.items.WithLabelValues(outcome).Inc()
}

// RecordProviderCall はLLM呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordProviderCall(provider string, duration time.Duration, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.providerCalls.WithLabelValues(provider, result).Inc()
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
