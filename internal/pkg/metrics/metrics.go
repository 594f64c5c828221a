package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按方法、路由、状态码统计请求数。
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gc_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration 请求耗时。
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gc_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// LoginAttemptsTotal 登录结果: success / invalid_credentials / inactive / rate_limited / error。
	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gc_login_attempts_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	// RegistrationsTotal 注册流程各阶段结果。
	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gc_registrations_total",
			Help: "Registration flow events by stage and result.",
		},
		[]string{"stage", "result"},
	)

	// OTPDispatchTotal 验证码邮件发送结果。
	OTPDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gc_otp_dispatch_total",
			Help: "Verification code emails by result.",
		},
		[]string{"result"},
	)

	// AdminActionsTotal 后台账户操作次数。
	AdminActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gc_admin_actions_total",
			Help: "Administrative account mutations by action.",
		},
		[]string{"action"},
	)
)

var initOnce sync.Once

// InitMetrics 注册全部指标到默认 registry，可重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			LoginAttemptsTotal,
			RegistrationsTotal,
			OTPDispatchTotal,
			AdminActionsTotal,
		)
	})
}
