// Package metrics はPrometheusメトリクスを定義する
//
// セッション状態、フレーム生成数、再接続回数、配信アダプタ数など
// ストリーム管理の観測に必要な値を公開する。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions は状態ごとのセッション数
	Sessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kanshi_sessions",
			Help: "Number of stream sessions by state",
		},
		[]string{"state"},
	)

	// FramesTotal はカメラごとの生成フレーム数
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanshi_frames_total",
			Help: "Total number of frames produced per camera",
		},
		[]string{"camera"},
	)

	// ReconnectsTotal はスーパーバイザーによる再接続試行数
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanshi_reconnects_total",
			Help: "Total number of supervisor driven reconnect attempts",
		},
		[]string{"camera"},
	)

	// PipelineErrorsTotal は分類ごとのパイプラインエラー数
	PipelineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanshi_pipeline_errors_total",
			Help: "Total number of fatal pipeline errors by kind",
		},
		[]string{"camera", "kind"},
	)

	// SkippedFramesTotal は一時的なデコード失敗で読み飛ばしたフレーム数
	SkippedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanshi_skipped_frames_total",
			Help: "Total number of frames skipped because of transient stage failures",
		},
		[]string{"camera"},
	)

	// PushAdapters はトランスポート種別ごとの連続配信アダプタ数
	PushAdapters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kanshi_push_adapters",
			Help: "Number of active continuous delivery adapters",
		},
		[]string{"transport"},
	)

	// APIRequestsTotal はHTTPリクエスト数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanshi_api_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	// APIRequestDuration はHTTPリクエストの処理時間
	// 連続配信のリクエストは接続が切れるまでの時間になる
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kanshi_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// PlaceholderFramesTotal は代替フレームの送信数
	PlaceholderFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kanshi_placeholder_frames_total",
			Help: "Total number of placeholder frames sent to continuous consumers",
		},
		[]string{"camera"},
	)
)

// RecordAPIRequest はHTTPリクエストの結果を記録する
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStateChange はセッション状態の遷移をゲージに反映する
func RecordStateChange(from, to string) {
	if from != "" {
		Sessions.WithLabelValues(from).Dec()
	}
	if to != "" {
		Sessions.WithLabelValues(to).Inc()
	}
}
