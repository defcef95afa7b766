// Package metrics exposes authentication counters in Prometheus format.
//
// Collectors are instance-scoped rather than package globals so two engines
// in one process (or one test binary) never fight over registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters incremented by the Engine. A nil *Metrics is
// valid and counts nothing.
type Metrics struct {
	registry *prometheus.Registry

	LoginSuccess    prometheus.Counter
	LoginFailure    prometheus.Counter
	Lockouts        prometheus.Counter
	RateLimited     *prometheus.CounterVec
	Registrations   prometheus.Counter
	TokenIssued     prometheus.Counter
	TokenRotated    prometheus.Counter
	TokenReuse      prometheus.Counter
	SessionsRevoked prometheus.Counter
	PasswordResets  prometheus.Counter
	AuthorizeDenied prometheus.Counter
	StorageFailures prometheus.Counter
}

// New creates and registers the collector set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LoginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_login_success_total",
			Help: "Successful logins.",
		}),
		LoginFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_login_failure_total",
			Help: "Failed login attempts, all causes.",
		}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_lockouts_total",
			Help: "Accounts transitioned to locked.",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"class"}),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_registrations_total",
			Help: "Accounts created.",
		}),
		TokenIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_tokens_issued_total",
			Help: "Access/refresh token pairs issued.",
		}),
		TokenRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_tokens_rotated_total",
			Help: "Refresh tokens rotated.",
		}),
		TokenReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_token_reuse_total",
			Help: "Refresh token reuse (replay) detections.",
		}),
		SessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_sessions_revoked_total",
			Help: "Refresh sessions revoked, individually or en masse.",
		}),
		PasswordResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_password_resets_total",
			Help: "Completed password resets.",
		}),
		AuthorizeDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_authorize_denied_total",
			Help: "Authorization checks denied.",
		}),
		StorageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_storage_failures_total",
			Help: "Operations failed closed on backend errors.",
		}),
	}

	m.registry.MustRegister(
		m.LoginSuccess, m.LoginFailure, m.Lockouts, m.RateLimited,
		m.Registrations, m.TokenIssued, m.TokenRotated, m.TokenReuse,
		m.SessionsRevoked, m.PasswordResets, m.AuthorizeDenied,
		m.StorageFailures,
	)
	return m
}

// The Inc* helpers tolerate a nil receiver so the Engine never has to
// branch on whether metrics were configured.

func (m *Metrics) IncLoginSuccess() {
	if m != nil {
		m.LoginSuccess.Inc()
	}
}

func (m *Metrics) IncLoginFailure() {
	if m != nil {
		m.LoginFailure.Inc()
	}
}

func (m *Metrics) IncLockouts() {
	if m != nil {
		m.Lockouts.Inc()
	}
}

func (m *Metrics) IncRateLimited(class string) {
	if m != nil {
		m.RateLimited.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) IncRegistrations() {
	if m != nil {
		m.Registrations.Inc()
	}
}

func (m *Metrics) IncTokenIssued() {
	if m != nil {
		m.TokenIssued.Inc()
	}
}

func (m *Metrics) IncTokenRotated() {
	if m != nil {
		m.TokenRotated.Inc()
	}
}

func (m *Metrics) IncTokenReuse() {
	if m != nil {
		m.TokenReuse.Inc()
	}
}

func (m *Metrics) AddSessionsRevoked(n int64) {
	if m != nil && n > 0 {
		m.SessionsRevoked.Add(float64(n))
	}
}

func (m *Metrics) IncPasswordResets() {
	if m != nil {
		m.PasswordResets.Inc()
	}
}

func (m *Metrics) IncAuthorizeDenied() {
	if m != nil {
		m.AuthorizeDenied.Inc()
	}
}

func (m *Metrics) IncStorageFailures() {
	if m != nil {
		m.StorageFailures.Inc()
	}
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that aggregate
// several collector sets behind one endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
