// Package probe checks whether the general backend and the analytics service
// are reachable. Probes never return errors; every failure becomes a Status
// with Available set to false, so callers can poll them safely.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pabbly/hookdash/pkg/health"
	"github.com/pabbly/hookdash/pkg/logger"
	"github.com/pabbly/hookdash/pkg/metrics"
	"github.com/pabbly/hookdash/pkg/resilience"
)

const (
	UpstreamBackend   = "backend"
	UpstreamAnalytics = "analytics"
)

// Status is the outcome of a single probe.
type Status struct {
	Available bool   `json:"available"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config holds the two base URLs and the key sent to the analytics service.
type Config struct {
	BackendURL   string
	AnalyticsURL string
	APIKey       string
	Timeout      time.Duration
}

// Prober runs the health probes.
type Prober struct {
	cfg     Config
	http    *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Prober)

func WithHTTPClient(hc *http.Client) Option {
	return func(p *Prober) { p.http = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Prober) { p.metrics = m }
}

func New(cfg Config, opts ...Option) *Prober {
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	cfg.AnalyticsURL = strings.TrimRight(cfg.AnalyticsURL, "/")
	p := &Prober{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger.WithComponent("probe"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckBackendHealth GETs <backend>/health.
func (p *Prober) CheckBackendHealth(ctx context.Context) Status {
	return p.check(ctx, UpstreamBackend, p.cfg.BackendURL+"/health", nil)
}

// CheckAnalyticsAPI GETs <analytics>/health with the x-api-key header.
func (p *Prober) CheckAnalyticsAPI(ctx context.Context) Status {
	h := http.Header{}
	if p.cfg.APIKey != "" {
		h.Set("x-api-key", p.cfg.APIKey)
	}
	return p.check(ctx, UpstreamAnalytics, p.cfg.AnalyticsURL+"/health", h)
}

// All runs both probes and keys the results by upstream name.
func (p *Prober) All(ctx context.Context) map[string]Status {
	out := make(map[string]Status, 2)
	done := make(chan struct{})
	var backend Status
	go func() {
		defer close(done)
		backend = p.CheckBackendHealth(ctx)
	}()
	out[UpstreamAnalytics] = p.CheckAnalyticsAPI(ctx)
	<-done
	out[UpstreamBackend] = backend
	return out
}

func (p *Prober) check(ctx context.Context, upstream, url string, header http.Header) (st Status) {
	defer func() {
		if r := recover(); r != nil {
			st = Status{Error: fmt.Sprint(r)}
		}
		if !st.Available {
			p.logger.Warn("upstream unavailable", "upstream", upstream, "error", st.Error)
		}
		if p.metrics != nil {
			v := 0.0
			if st.Available {
				v = 1
			}
			p.metrics.ProbeAvailable.WithLabelValues(upstream).Set(v)
		}
	}()

	var data any
	err := resilience.WithTimeout(ctx, p.cfg.Timeout, upstream+" health", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(body) > 0 && json.Unmarshal(body, &data) != nil {
			data = string(body)
		}
		return nil
	})
	if err != nil {
		return Status{Error: err.Error()}
	}
	return Status{Available: true, Data: data}
}

// Checks adapts the probes to health checks for the readiness report. An
// unavailable upstream degrades the service rather than taking it down.
func (p *Prober) Checks() map[string]health.Check {
	adapt := func(probe func(context.Context) Status) health.Check {
		return func(ctx context.Context) health.ComponentHealth {
			st := probe(ctx)
			if st.Available {
				return health.ComponentHealth{Status: health.StatusUp}
			}
			return health.ComponentHealth{Status: health.StatusDegraded, Message: st.Error}
		}
	}
	return map[string]health.Check{
		UpstreamBackend:   adapt(p.CheckBackendHealth),
		UpstreamAnalytics: adapt(p.CheckAnalyticsAPI),
	}
}
