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
// ワークフロー、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordReadingSubmitted()
	RecordAnalysisFailure(reason string)
	RecordAnalysisLatency(duration time.Duration)
	RecordProvisioning(mode, state string)
	RecordOrphanedIdentity(source string)
	RecordRollback(succeeded bool)
	RecordHTTPStatus(statusCode int)
	RecordTokensCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	readingsSubmitted prometheus.Counter
	analysisFail      *prometheus.CounterVec
	analysisLatency   prometheus.Histogram
	provisioning      *prometheus.CounterVec
	orphans           *prometheus.CounterVec
	rollbacks         *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	tokensCleaned     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		readingsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glucotrack_readings_submitted_total",
			Help: "保存された測定値の合計数",
		}),
		analysisFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glucotrack_analysis_fail_total",
			Help: "解析に失敗しフォールバック文言を使用した回数",
		}, []string{"reason"}),
		analysisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "glucotrack_analysis_latency_seconds",
			Help:    "解析サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glucotrack_provisioning_total",
			Help: "患者プロビジョニングの最終状態別の回数",
		}, []string{"mode", "state"}),
		orphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glucotrack_orphaned_identities_total",
			Help: "プロフィールを持たないまま残ったidentityの数",
		}, []string{"source"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glucotrack_rollbacks_total",
			Help: "identity削除による補償処理の結果別の回数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "glucotrack_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		tokensCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glucotrack_refresh_tokens_cleaned_total",
			Help: "クリーンアップで削除されたリフレッシュトークンの合計数",
		}),
	}

	reg.MustRegister(
		c.readingsSubmitted,
		c.analysisFail,
		c.analysisLatency,
		c.provisioning,
		c.orphans,
		c.rollbacks,
		c.httpStatus,
		c.tokensCleaned,
	)

	return c
}

// RecordReadingSubmitted は測定値の保存を記録する。
func (c *Collector) RecordReadingSubmitted() {
	c.readingsSubmitted.Inc()
}

// RecordAnalysisFailure は解析失敗を記録する。
func (c *Collector) RecordAnalysisFailure(reason string) {
	c.analysisFail.WithLabelValues(reason).Inc()
}

// RecordAnalysisLatency は解析のレイテンシを記録する。
func (c *Collector) RecordAnalysisLatency(duration time.Duration) {
	c.analysisLatency.Observe(duration.Seconds())
}

// RecordProvisioning はプロビジョニングの最終状態を記録する。
func (c *Collector) RecordProvisioning(mode, state string) {
	c.provisioning.WithLabelValues(mode, state).Inc()
}

// RecordOrphanedIdentity はプロフィールなしで残ったidentityを記録する。
func (c *Collector) RecordOrphanedIdentity(source string) {
	c.orphans.WithLabelValues(source).Inc()
}

// RecordRollback は補償処理の結果を記録する。
func (c *Collector) RecordRollback(succeeded bool) {
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	c.rollbacks.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTokensCleaned は削除されたリフレッシュトークン数を記録する。
func (c *Collector) RecordTokensCleaned(count int64) {
	c.tokensCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordReadingSubmitted()             {}
func (Nop) RecordAnalysisFailure(string)        {}
func (Nop) RecordAnalysisLatency(time.Duration) {}
func (Nop) RecordProvisioning(string, string)   {}
func (Nop) RecordOrphanedIdentity(string)       {}
func (Nop) RecordRollback(bool)                 {}
func (Nop) RecordHTTPStatus(int)                {}
func (Nop) RecordTokensCleaned(int64)           {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
