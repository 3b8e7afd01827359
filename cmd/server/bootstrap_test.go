package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/app"
	"github.com/charlesng35/campusync/internal/monitoring"
)

func testConfig(driver, path string) *app.Config {
	return &app.Config{
		Server: app.ServerConfig{Port: 0, LogLevel: "info"},
		Store: app.StoreConfig{
			Driver:     driver,
			Path:       path,
			QuotaBytes: 1 << 20,
		},
		Cache: app.CacheConfig{DefaultTTL: time.Minute, MaxAge: time.Hour},
		Queue: app.QueueConfig{
			Capacity:        10,
			MaxAge:          time.Hour,
			BaseDelay:       time.Second,
			MaxDelay:        time.Minute,
			MaxRetries:      3,
			DeliveryTimeout: time.Second,
		},
		Connectivity: app.ConnectivityConfig{AssumeOnline: false},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Maintenance: app.MaintenanceConfig{
			Enabled:    true,
			CacheSweep: "@hourly",
			QueuePrune: "@every 15m",
			QueueFlush: "@every 1m",
		},
	}
}

func TestBootstrapRuntimeWithEachStore(t *testing.T) {
	cases := map[string]func(t *testing.T) *app.Config{
		"memory": func(t *testing.T) *app.Config { return testConfig("memory", "") },
		"bolt": func(t *testing.T) *app.Config {
			return testConfig("bolt", filepath.Join(t.TempDir(), "campusync.db"))
		},
		"sqlite": func(t *testing.T) *app.Config {
			return testConfig("sqlite", filepath.Join(t.TempDir(), "campusync.sqlite"))
		},
	}

	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := build(t)
			stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
			require.NoError(t, err)
			defer stack.Shutdown(context.Background(), zap.NewNop())

			require.NotNil(t, stack.Router)
			require.NotNil(t, stack.Cleaner)
			require.Same(t, stack.Monitoring, monitoring.CurrentModule())

			body := []byte(`{"title":"Statistics","teacherId":"t-1","startsAt":"2030-01-02T09:00:00Z","durationMinutes":50}`)
			req := httptest.NewRequest(http.MethodPost, "/api/collections/classes", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			stack.Router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			rec = httptest.NewRecorder()
			stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/collections/classes/stats", nil))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Contains(t, rec.Body.String(), `"total":1`)

			rec = httptest.NewRecorder()
			stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
			require.Contains(t, rec.Body.String(), "offline")
		})
	}
}

func TestBootstrapRuntimeRejectsUnknownDriver(t *testing.T) {
	_, err := bootstrapRuntime(context.Background(), testConfig("cassandra", ""), zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported store driver")
}

func TestShutdownDetachesMonitoring(t *testing.T) {
	stack, err := bootstrapRuntime(context.Background(), testConfig("memory", ""), zap.NewNop())
	require.NoError(t, err)

	stack.Shutdown(context.Background(), zap.NewNop())
	require.Nil(t, monitoring.CurrentModule())
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}
