// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、イベントサービス、クリーンアップワーカーから利用する。
type MetricsCollector interface {
	RecordRegistration()
	RecordLoginSuccess(strategy string)
	RecordLoginFailure(strategy, reason string)
	RecordSessionCreated()
	RecordEventCreated()
	RecordOwnershipDenial(operation string)
	RecordExpiredSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations   prometheus.Counter
	loginSuccess    *prometheus.CounterVec
	loginFailure    *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	eventsCreated   prometheus.Counter
	ownershipDenial *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventman_registrations_total",
			Help: "ローカルユーザー登録の合計数",
		}),
		loginSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventman_login_success_total",
			Help: "ストラテジー別のログイン成功の合計数",
		}, []string{"strategy"}),
		loginFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventman_login_failure_total",
			Help: "ストラテジー・理由別のログイン失敗の合計数",
		}, []string{"strategy", "reason"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventman_sessions_created_total",
			Help: "発行されたセッションの合計数",
		}),
		eventsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventman_events_created_total",
			Help: "作成されたイベントの合計数",
		}),
		ownershipDenial: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventman_ownership_denials_total",
			Help: "操作別の所有権違反による拒否の合計数",
		}, []string{"operation"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventman_sessions_cleaned_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.loginSuccess,
		c.loginFailure,
		c.sessionsCreated,
		c.eventsCreated,
		c.ownershipDenial,
		c.sessionsCleaned,
	)

	return c
}

// RecordRegistration はローカルユーザー登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess(strategy string) {
	c.loginSuccess.WithLabelValues(strategy).Inc()
}

// RecordLoginFailure はログイン失敗を内部理由付きで記録する。
// 理由は外部向けレスポンスには出さず、メトリクスとログのみに残る。
func (c *Collector) RecordLoginFailure(strategy, reason string) {
	c.loginFailure.WithLabelValues(strategy, reason).Inc()
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordEventCreated はイベント作成を記録する。
func (c *Collector) RecordEventCreated() {
	c.eventsCreated.Inc()
}

// RecordOwnershipDenial は所有権違反による拒否を記録する。
func (c *Collector) RecordOwnershipDenial(operation string) {
	c.ownershipDenial.WithLabelValues(operation).Inc()
}

// RecordExpiredSessionsCleaned は削除された期限切れセッション数を記録する。
func (c *Collector) RecordExpiredSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
