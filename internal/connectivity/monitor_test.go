package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/campusync/pkg/logger"
)

type collected struct {
	mu       sync.Mutex
	statuses []Status
}

func (c *collected) listen(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, s)
}

func (c *collected) all() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Status(nil), c.statuses...)
}

func TestSubscribeReceivesCurrentStatusImmediately(t *testing.T) {
	monitor := NewMonitor(WithInitialStatus(Status{IsOnline: false, EffectiveType: Effective3G}))

	var got collected
	unsubscribe := monitor.Subscribe(got.listen)
	defer unsubscribe()

	require.Equal(t, []Status{{IsOnline: false, EffectiveType: Effective3G}}, got.all())
}

func TestListenersNotifiedOnlyOnChange(t *testing.T) {
	monitor := NewMonitor()
	var got collected
	unsubscribe := monitor.Subscribe(got.listen)

	monitor.SetOnline(true)
	monitor.SetOnline(false)
	monitor.SetOnline(false)
	monitor.SetConnection("wifi", Effective4G)
	monitor.SetConnection("wifi", Effective4G)

	require.Equal(t, []Status{
		{IsOnline: true},
		{IsOnline: false},
		{IsOnline: false, ConnectionType: "wifi", EffectiveType: Effective4G},
	}, got.all())

	unsubscribe()
	unsubscribe()
	monitor.SetOnline(true)
	require.Len(t, got.all(), 3)
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	restore := logger.Replace(zap.New(core))
	defer restore()

	monitor := NewMonitor()
	calls := 0
	monitor.Subscribe(func(s Status) {
		if !s.IsOnline {
			panic("listener bug")
		}
	})
	monitor.Subscribe(func(Status) { calls++ })

	monitor.SetOnline(false)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, logs.FilterMessage("connectivity listener panicked").Len())
	require.False(t, monitor.IsOnline())
}

func TestStatusIsACopy(t *testing.T) {
	monitor := NewMonitor()
	status := monitor.Status()
	status.IsOnline = false
	require.True(t, monitor.IsOnline())
}

func TestConnectionSpeedHelpers(t *testing.T) {
	cases := []struct {
		effective string
		slow      bool
		fast      bool
	}{
		{EffectiveSlow2G, true, false},
		{Effective2G, true, false},
		{Effective3G, false, false},
		{Effective4G, false, true},
		{"", false, true},
	}

	monitor := NewMonitor()
	for _, tc := range cases {
		monitor.SetConnection("cellular", tc.effective)
		require.Equal(t, tc.slow, monitor.IsSlowConnection(), tc.effective)
		require.Equal(t, tc.fast, monitor.IsFastConnection(), tc.effective)
	}
}

func TestReportReplacesStatus(t *testing.T) {
	monitor := NewMonitor()
	monitor.Report(Status{IsOnline: false, ConnectionType: "none"})
	require.Equal(t, Status{IsOnline: false, ConnectionType: "none"}, monitor.Status())
}

type scriptedSource struct {
	online bool
	done   chan struct{}
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Run(ctx context.Context, report Reporter) {
	report.SetOnline(s.online)
	<-ctx.Done()
	close(s.done)
}

func TestInitializeStartsSourcesOnce(t *testing.T) {
	source := &scriptedSource{online: false, done: make(chan struct{})}
	monitor := NewMonitor(WithSource(source))

	monitor.Initialize(context.Background())
	monitor.Initialize(context.Background())
	require.Eventually(t, func() bool { return !monitor.IsOnline() }, time.Second, 5*time.Millisecond)

	monitor.Close()
	select {
	case <-source.done:
	default:
		t.Fatal("source still running after Close")
	}
}

func TestEffectiveTypeFor(t *testing.T) {
	require.Equal(t, Effective4G, EffectiveTypeFor(50*time.Millisecond))
	require.Equal(t, Effective3G, EffectiveTypeFor(270*time.Millisecond))
	require.Equal(t, Effective2G, EffectiveTypeFor(1400*time.Millisecond))
	require.Equal(t, EffectiveSlow2G, EffectiveTypeFor(3*time.Second))
}

func TestProberReportsReachability(t *testing.T) {
	var failing bool
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		if failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	monitor := NewMonitor(WithInitialStatus(Status{IsOnline: false, ConnectionType: "ethernet"}))
	prober := NewProber(server.Client(), server.URL, time.Hour, time.Second)

	prober.Apply(context.Background(), monitor)
	status := monitor.Status()
	require.True(t, status.IsOnline)
	require.Equal(t, "ethernet", status.ConnectionType)
	require.Equal(t, Effective4G, status.EffectiveType)

	mu.Lock()
	failing = true
	mu.Unlock()
	prober.Apply(context.Background(), monitor)
	require.False(t, monitor.IsOnline())
}

func TestProberUnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	monitor := NewMonitor()
	NewProber(nil, url, 0, 200*time.Millisecond).Apply(context.Background(), monitor)
	require.False(t, monitor.IsOnline())
}
