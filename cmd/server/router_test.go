package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyesee/license-server-go/internal/config"
	"github.com/eyesee/license-server-go/internal/license"
	"github.com/eyesee/license-server-go/internal/middleware"
	"github.com/eyesee/license-server-go/internal/repository"
	"github.com/eyesee/license-server-go/internal/service"
)

const testAdminPassword = "router-test-password"

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) http.Handler {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		AppEnv:                "development",
		StoreBackend:          config.StoreBolt,
		BoltPath:              filepath.Join(dir, "licenses.db"),
		AdminPassword:         testAdminPassword,
		OfflineToleranceHours: 24,
		PublicRateLimitPerMin: 60,
		MetricsEnabled:        true,
		StaticDir:             dir,
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := repository.OpenBolt(cfg.BoltPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := cfg.Products()
	require.NoError(t, err)
	codec := license.NewCodec(registry)

	return newRouter(routerDeps{
		cfg:            cfg,
		store:          store,
		licenseService: service.NewLicenseService(store, codec, cfg.OfflineTolerance()),
		adminService:   service.NewAdminService(store, codec),
		limiter:        middleware.NewRateLimiter(),
	})
}

func serve(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil)

	rec := serve(h, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "bolt", body["backend"])
}

func TestServiceInfo(t *testing.T) {
	h := newTestServer(t, nil)

	rec := serve(h, "GET", "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), serviceName)
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	h := newTestServer(t, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(h, "GET", "/api/admin/stats", "", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "GET", "/api/admin/stats", "", "nope").Code)
	assert.Equal(t, http.StatusOK, serve(h, "GET", "/api/admin/stats", "", testAdminPassword).Code)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) { cfg.AdminPassword = "" })

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "GET", "/api/admin/stats", "", "anything").Code)
}

func TestEndToEndActivation(t *testing.T) {
	h := newTestServer(t, nil)

	rec := serve(h, "POST", "/api/admin/generate-keys", `{"productCode":"VC01","count":1}`, testAdminPassword)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var generated struct {
		Keys []struct {
			Key string `json:"key"`
		} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
	require.Len(t, generated.Keys, 1)
	key := generated.Keys[0].Key

	rec = serve(h, "POST", "/api/license/activate", `{"licenseKey":"`+strings.ToLower(key)+`","hardwareId":"e2e-device-0001"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	rec = serve(h, "GET", "/api/license/validate/E2E-DEVICE-0001?productCode=VC01", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)
}

func TestPublicRateLimit(t *testing.T) {
	h := newTestServer(t, func(cfg *config.Config) { cfg.PublicRateLimitPerMin = 2 })

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(h, "GET", "/api/license/status", "", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "GET", "/api/license/status", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, "GET", "/health", "", "").Code)
}

func TestForwardedHeadersNeedTrust(t *testing.T) {
	statusFrom := func(h http.Handler, forwardedFor string) int {
		req := httptest.NewRequest("GET", "/api/license/status", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("untrusted headers share the connection limit", func(t *testing.T) {
		h := newTestServer(t, func(cfg *config.Config) { cfg.PublicRateLimitPerMin = 1 })

		assert.Equal(t, http.StatusOK, statusFrom(h, "10.0.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, statusFrom(h, "10.0.0.2"))
	})

	t.Run("trusted proxy headers identify the client", func(t *testing.T) {
		h := newTestServer(t, func(cfg *config.Config) {
			cfg.PublicRateLimitPerMin = 1
			cfg.TrustProxyHeaders = true
		})

		assert.Equal(t, http.StatusOK, statusFrom(h, "10.0.0.1"))
		assert.Equal(t, http.StatusOK, statusFrom(h, "10.0.0.2"))
		assert.Equal(t, http.StatusTooManyRequests, statusFrom(h, "10.0.0.1"))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil)
	serve(h, "GET", "/api/license/status", "", "")

	rec := serve(h, "GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/api/license/status",status="200"}`)

	h = newTestServer(t, func(cfg *config.Config) { cfg.MetricsEnabled = false })
	assert.Equal(t, http.StatusNotFound, serve(h, "GET", "/metrics", "", "").Code)
}

func TestAdminPanel(t *testing.T) {
	var staticDir string
	h := newTestServer(t, func(cfg *config.Config) { staticDir = cfg.StaticDir })
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<h1>License admin</h1>"), 0644))

	rec := serve(h, "GET", "/admin/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "License admin")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestOpenStoreBolt(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.StoreBolt, BoltPath: filepath.Join(t.TempDir(), "nested", "l.db")}
	store, err := openStore(t.Context(), cfg)
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	assert.NoError(t, store.Ping(ctx))

	_, err = openStore(t.Context(), &config.Config{StoreBackend: "memory"})
	assert.Error(t, err)
}
