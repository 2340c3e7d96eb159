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
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignup()
	RecordLogin(result string)
	RecordTwoFactorEvent(event string)
	RecordHTTPRequest(statusCode int, duration time.Duration)
	RecordFitTokensPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signups         prometheus.Counter
	logins          *prometheus.CounterVec
	twoFactorEvents *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    prometheus.Histogram
	fitTokensPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "welldoc_signups_total",
			Help: "新規登録の合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "welldoc_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		twoFactorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "welldoc_two_factor_events_total",
			Help: "種類別の2要素認証イベント数",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "welldoc_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "welldoc_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		fitTokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "welldoc_fit_tokens_purged_total",
			Help: "クリーンアップで削除された未ログインのGoogle Fit連携数",
		}),
	}

	reg.MustRegister(
		c.signups,
		c.logins,
		c.twoFactorEvents,
		c.httpRequests,
		c.httpDuration,
		c.fitTokensPurged,
	)

	return c
}

// RecordSignup は新規登録を記録する。
func (c *Collector) RecordSignup() {
	c.signups.Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordTwoFactorEvent は2要素認証イベントを記録する。
func (c *Collector) RecordTwoFactorEvent(event string) {
	c.twoFactorEvents.WithLabelValues(event).Inc()
}

// RecordHTTPRequest はHTTPレスポンスのステータスコードと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpDuration.Observe(duration.Seconds())
}

// RecordFitTokensPurged はクリーンアップで削除した連携数を記録する。
func (c *Collector) RecordFitTokensPurged(count int64) {
	c.fitTokensPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスでスクレイプを受けるために使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
