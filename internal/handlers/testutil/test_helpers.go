package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusync/internal/api"
	"github.com/charlesng35/campusync/internal/app"
	"github.com/charlesng35/campusync/internal/connectivity"
	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/internal/monitoring/checks"
	"github.com/charlesng35/campusync/internal/offline"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/internal/realtime"
	"github.com/charlesng35/campusync/internal/services"
	"github.com/charlesng35/campusync/internal/store"
	"github.com/charlesng35/campusync/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory store for handler tests.
type Env struct {
	T          *testing.T
	Router     *gin.Engine
	Runtime    *offline.Runtime
	Portal     *services.Portal
	Hub        *realtime.Hub
	Monitoring *monitoring.Module
	Config     *app.Config
	Sender     *RecordingSender
}

// Option customises NewEnv.
type Option func(*envOptions)

type envOptions struct {
	online bool
}

// WithOnline starts the runtime with the network reported as online.
func WithOnline() Option {
	return func(o *envOptions) {
		o.online = true
	}
}

// RecordingSender captures delivered queue items.
type RecordingSender struct {
	mu    sync.Mutex
	items []queue.Item
	err   error
}

// Send records item, failing with the configured error when set.
func (s *RecordingSender) Send(_ context.Context, item queue.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, item)
	return nil
}

// Fail makes subsequent deliveries return err.
func (s *RecordingSender) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Items returns a copy of the delivered items.
func (s *RecordingSender) Items() []queue.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.Item(nil), s.items...)
}

// NewEnv provisions a fresh handler test environment. The runtime starts offline
// unless WithOnline is given, so writes stay queued.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var options envOptions
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sender := &RecordingSender{}
	s := store.NewMemoryStore()
	rt, err := offline.NewRuntime(ctx, s, sender, offline.Options{
		Queue: queue.DefaultConfig(),
		Connectivity: []connectivity.Option{
			connectivity.WithInitialStatus(connectivity.Status{IsOnline: options.online, EffectiveType: connectivity.Effective4G}),
		},
	})
	require.NoError(t, err)
	rt.Start(ctx)
	t.Cleanup(rt.Close)

	portal, err := services.NewPortal(rt, services.PortalOptions{})
	require.NoError(t, err)

	hub := realtime.NewHub()
	t.Cleanup(hub.Bridge(rt.Bus))

	mod, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	mod.Health().RegisterReadiness(checks.Store(s, 0, time.Second))
	mod.Health().RegisterReadiness(checks.Connectivity(rt.Monitor))

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}

	router, err := api.NewRouter(api.Dependencies{
		Config:     cfg,
		Runtime:    rt,
		Portal:     portal,
		Hub:        hub,
		Monitoring: mod,
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		Router:     router,
		Runtime:    rt,
		Portal:     portal,
		Hub:        hub,
		Monitoring: mod,
		Config:     cfg,
		Sender:     sender,
	}
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, JSON encoding body when set.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// MustSucceed executes a request, asserts the expected status and a success envelope.
func (e *Env) MustSucceed(method, path string, body any, status int) APIResponse {
	e.T.Helper()

	w := e.Request(method, path, body)
	require.Equal(e.T, status, w.Code, w.Body.String())
	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())
	return resp
}
