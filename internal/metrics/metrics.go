// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲート・認証アダプター・ワーカーから利用する。
type MetricsCollector interface {
	RecordGateDecision(state string)
	RecordSignIn(result string)
	RecordUpstreamFailure(operation string)
	RecordPartialFailure(operation string)
	RecordReconcile(kind string, outcome string)
	RecordKeyRotation(outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gateDecisions    *prometheus.CounterVec
	signIns          *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	partialFailures  *prometheus.CounterVec
	reconcile        *prometheus.CounterVec
	keyRotations     *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_gate_decisions_total",
			Help: "アクセスゲートの判定結果別の件数",
		}, []string{"state"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_sign_ins_total",
			Help: "サインイン試行の結果別の件数",
		}, []string{"result"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_upstream_failures_total",
			Help: "IDプロバイダー・ストアへの呼び出し失敗の件数",
		}, []string{"operation"}),
		partialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_partial_failures_total",
			Help: "複数ステップ操作の部分失敗の件数",
		}, []string{"operation"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_reconcile_tasks_total",
			Help: "整合性回復タスクの処理結果別の件数",
		}, []string{"kind", "outcome"}),
		keyRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_key_rotations_total",
			Help: "署名鍵ローテーションの結果別の件数",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.gateDecisions,
		c.signIns,
		c.upstreamFailures,
		c.partialFailures,
		c.reconcile,
		c.keyRotations,
		c.httpStatus,
	)

	return c
}

// RecordGateDecision はゲートの判定結果を記録する。
func (c *Collector) RecordGateDecision(state string) {
	c.gateDecisions.WithLabelValues(state).Inc()
}

// RecordSignIn はサインイン結果を記録する。
func (c *Collector) RecordSignIn(result string) {
	c.signIns.WithLabelValues(result).Inc()
}

// RecordUpstreamFailure は上流呼び出しの失敗を記録する。
func (c *Collector) RecordUpstreamFailure(operation string) {
	c.upstreamFailures.WithLabelValues(operation).Inc()
}

// RecordPartialFailure は部分失敗を記録する。
func (c *Collector) RecordPartialFailure(operation string) {
	c.partialFailures.WithLabelValues(operation).Inc()
}

// RecordReconcile は整合性回復タスクの処理結果を記録する。
func (c *Collector) RecordReconcile(kind string, outcome string) {
	c.reconcile.WithLabelValues(kind, outcome).Inc()
}

// RecordKeyRotation は鍵ローテーションの結果を記録する。
func (c *Collector) RecordKeyRotation(outcome string) {
	c.keyRotations.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordGateDecision(string)      {}
func (Nop) RecordSignIn(string)            {}
func (Nop) RecordUpstreamFailure(string)   {}
func (Nop) RecordPartialFailure(string)    {}
func (Nop) RecordReconcile(string, string) {}
func (Nop) RecordKeyRotation(string)       {}
func (Nop) RecordHTTPStatus(int)           {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
