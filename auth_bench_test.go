package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/permission"
)

func BenchmarkAuthorizeRequest(b *testing.B) {
	h := newHarness(b)
	h.seed(b, "admin-1", "admin@example.com", permission.RoleAdmin, permission.Overrides{})
	tokens := h.login(b, "admin@example.com")
	req := Requirement{Permissions: permission.NewSet(permission.UserView, permission.AnalyticsView)}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.engine.AuthorizeRequest(context.Background(), tokens.AccessToken, req); err != nil {
			b.Fatalf("authorize failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	h := newHarness(b, func(c *Config) { c.RateLimit.RefreshLimit = 1 << 30 })
	h.seed(b, "u-1", "user@example.com", permission.RoleUser, permission.Overrides{})
	refresh := h.login(b, "user@example.com").RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := h.engine.Refresh(context.Background(), refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = next.RefreshToken
	}
}

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricLoginSuccess)
	}
}

func BenchmarkMetricsIncDisabled(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricLoginSuccess)
	}
}

var hotMetricIDs = [...]MetricID{
	MetricAuthorizeAllowed,
	MetricAuthorizeForbidden,
	MetricLoginSuccess,
	MetricLoginFailure,
	MetricRefreshSuccess,
	MetricSessionCreated,
}

func BenchmarkMetricsIncMixedParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(hotMetricIDs[idx])
			idx++
			if idx == len(hotMetricIDs) {
				idx = 0
			}
		}
	})
}

func BenchmarkMetricsObserveLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	d := 3 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricValidateLatency, d)
		}
	})
}
