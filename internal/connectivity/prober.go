package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/campusync/pkg/logger"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// EffectiveTypeFor maps a round-trip time onto an effective bandwidth class.
func EffectiveTypeFor(rtt time.Duration) string {
	switch {
	case rtt >= 2000*time.Millisecond:
		return EffectiveSlow2G
	case rtt >= 1400*time.Millisecond:
		return Effective2G
	case rtt >= 270*time.Millisecond:
		return Effective3G
	}
	return Effective4G
}

// Prober checks reachability by periodically requesting a URL.
type Prober struct {
	client   *http.Client
	url      string
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// NewProber builds a prober for url. Zero durations fall back to defaults.
func NewProber(client *http.Client, url string, interval, timeout time.Duration) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Prober{
		client:   client,
		url:      url,
		interval: interval,
		timeout:  timeout,
		log:      logger.WithModule("connectivity.prober"),
	}
}

// Name identifies the source in logs.
func (p *Prober) Name() string {
	return "http-probe"
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context, report Reporter) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Apply(ctx, report)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Apply runs one probe and reports its outcome.
func (p *Prober) Apply(ctx context.Context, report Reporter) {
	rtt, err := p.Probe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Debug("probe failed", zap.String("url", p.url), zap.Error(err))
		report.SetOnline(false)
		return
	}

	status := report.Status()
	status.IsOnline = true
	status.EffectiveType = EffectiveTypeFor(rtt)
	report.Report(status)
}

// Probe performs a single request and returns its round-trip time. Any response
// below 500 counts as reachable.
func (p *Prober) Probe(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("connectivity: build probe: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("connectivity: probe %s: %w", p.url, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	rtt := time.Since(start)

	if resp.StatusCode >= http.StatusInternalServerError {
		return rtt, fmt.Errorf("connectivity: probe %s: status %d", p.url, resp.StatusCode)
	}
	return rtt, nil
}
