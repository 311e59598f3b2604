package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
)

func TestServer_NotFoundAndMethodNotAllowed(t *testing.T) {
	server := newTestServer(&mockOrgService{}, nil)

	rec := do(t, server, "GET", "/nope", 0, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeError(t, rec)
	assert.Equal(t, "route not found", body.Message)
	assert.NotEmpty(t, body.CorrelationID)

	rec = do(t, server, "PATCH", "/organizations/acme", 1, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_CorrelationIDPropagates(t *testing.T) {
	svc := &mockOrgService{
		getOrganizationFunc: func(name string) (*orgs.Organization, error) {
			return nil, apperrors.NotFoundf("organization %q not found", name)
		},
	}
	req := httptest.NewRequest("GET", "/organizations/acme", nil)
	req.Header.Set(httputil.CorrelationIDHeader, "req-42")
	rec := httptest.NewRecorder()
	newTestServer(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(httputil.CorrelationIDHeader))
	assert.Equal(t, "req-42", decodeError(t, rec).CorrelationID)
}

func TestServer_RecoversFromPanic(t *testing.T) {
	svc := &mockOrgService{
		getOrganizationFunc: func(name string) (*orgs.Organization, error) {
			panic("boom")
		},
	}
	rec := do(t, newTestServer(svc, nil), "GET", "/organizations/acme", 0, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_InvalidIdentityHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/organizations", nil)
	req.Header.Set(middleware.UserIDHeader, "not-a-number")
	rec := httptest.NewRecorder()
	newTestServer(&mockOrgService{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_RateLimitAppliesAfterIdentity(t *testing.T) {
	limiter := middleware.NewMemoryLimiter(middleware.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	rl := middleware.NewRateLimitMiddleware(limiter, limiter, nil)

	server := NewServer(Config{
		Orgs:      &mockOrgService{},
		Identity:  middleware.HeaderIdentity,
		RateLimit: rl.Handler,
		Logger:    observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}),
	})

	assert.Equal(t, http.StatusOK, do(t, server, "GET", "/organizations", 1, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, server, "GET", "/organizations", 1, nil).Code)
	// a different user has its own window
	assert.Equal(t, http.StatusOK, do(t, server, "GET", "/organizations", 2, nil).Code)
}

func TestServer_HTTPMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	server := NewServer(Config{
		Orgs:     &mockOrgService{},
		Identity: middleware.HeaderIdentity,
		Metrics:  metrics,
		Logger:   observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}),
	})
	do(t, server, "GET", "/organizations/acme", 0, nil)

	count, err := testutil.GatherAndCount(registry, "tenancy_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := registry.Gather()
	require.NoError(t, err)
	var sawRouteTemplate bool
	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if strings.Contains(l.GetValue(), "{name}") {
					sawRouteTemplate = true
				}
			}
		}
	}
	assert.True(t, sawRouteTemplate)
}
