package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	m := New()

	m.IncLoginSuccess()
	m.IncLoginSuccess()
	m.IncRateLimited("login")
	m.AddSessionsRevoked(3)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			got[fam.GetName()] += metric.GetCounter().GetValue()
		}
	}

	if got["authcore_login_success_total"] != 2 {
		t.Fatalf("login success = %v", got["authcore_login_success_total"])
	}
	if got["authcore_rate_limited_total"] != 1 {
		t.Fatalf("rate limited = %v", got["authcore_rate_limited_total"])
	}
	if got["authcore_sessions_revoked_total"] != 3 {
		t.Fatalf("sessions revoked = %v", got["authcore_sessions_revoked_total"])
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncLoginSuccess()
	m.IncLoginFailure()
	m.IncLockouts()
	m.IncRateLimited("register")
	m.IncRegistrations()
	m.IncTokenIssued()
	m.IncTokenRotated()
	m.IncTokenReuse()
	m.AddSessionsRevoked(1)
	m.IncPasswordResets()
	m.IncAuthorizeDenied()
	m.IncStorageFailures()
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.IncRegistrations()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authcore_registrations_total 1") {
		t.Fatalf("exposition missing counter:\n%s", rec.Body.String())
	}
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.IncLoginSuccess()
	b.IncLoginSuccess()
	// Separate registries; construction of the second must not panic and
	// counts stay independent.
	families, err := a.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "authcore_login_success_total" {
			if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Fatalf("instance a sees %v", v)
			}
		}
	}
}
