package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

// loadTargets are the dashboard requests a worker cycles through. The date
// ranges repeat so a cached dashboard shows hits.
var loadTargets = []string{
	"/api/analytics?startDate=2024-01-01&endDate=2024-03-31",
	"/api/analytics?startDate=2024-04-01&endDate=2024-06-30",
	"/api/analytics?startDate=2024-01-01&endDate=2024-12-31",
	"/api/analytics/summary",
	"/api/connections?orderBy=name&rowsPerPage=25",
	"/api/activity-logs?status=all",
	"/health/upstream",
}

type loadConfig struct {
	BaseURL     string
	Token       string
	Concurrency int
	Duration    time.Duration
	Targets     []string
}

type loadStats struct {
	total     atomic.Int64
	success   atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 10000),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[status]++
	s.mu.Unlock()
}

func newLoadTestCmd(opts *options) *cobra.Command {
	cfg := loadConfig{Targets: loadTargets}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive concurrent traffic at a running dashboard and report latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Token = opts.token
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== Dashboard Load Test ===")
			fmt.Fprintf(out, "Target:      %s\n", cfg.BaseURL)
			fmt.Fprintf(out, "Concurrency: %d\n", cfg.Concurrency)
			fmt.Fprintf(out, "Duration:    %s\n", cfg.Duration)
			fmt.Fprintln(out)

			stats := runLoadTest(cmd.Context(), cfg)
			return printLoadReport(out, stats, cfg.Duration)
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "dashboard base URL")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent workers")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	return cmd
}

func runLoadTest(ctx context.Context, cfg loadConfig) *loadStats {
	stats := newLoadStats()
	hc := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < max(cfg.Concurrency, 1); w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for ctx.Err() == nil {
				target := cfg.Targets[next%len(cfg.Targets)]
				next++

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+target, nil)
				if err != nil {
					stats.record(0, 0, err)
					return
				}
				if cfg.Token != "" {
					req.Header.Set("Authorization", "Bearer "+cfg.Token)
				}
				start := time.Now()
				resp, err := hc.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						stats.record(time.Since(start), 0, err)
					}
					continue
				}
				if cachedResponse(resp.Body) {
					stats.cacheHits.Add(1)
				}
				resp.Body.Close()
				stats.record(time.Since(start), resp.StatusCode, nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

// cachedResponse drains body and reports whether it is an analytics load
// served from the cache.
func cachedResponse(body io.Reader) bool {
	var env struct {
		Data struct {
			Cached bool `json:"cached"`
		} `json:"data"`
	}
	data, _ := io.ReadAll(body)
	if json.Unmarshal(data, &env) != nil {
		return false
	}
	return env.Data.Cached
}

func printLoadReport(out io.Writer, stats *loadStats, duration time.Duration) error {
	total := stats.total.Load()
	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %d\n", total)
	fmt.Fprintf(out, "Successful:      %d\n", stats.success.Load())
	fmt.Fprintf(out, "Errors:          %d\n", stats.failed.Load())
	fmt.Fprintf(out, "Cache Hits:      %d\n", stats.cacheHits.Load())
	if total > 0 {
		fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(stats.failed.Load())/float64(total)*100)
		fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := slices.Clone(stats.latencies)
	codes := make(map[int]int64, len(stats.codes))
	for k, v := range stats.codes {
		codes[k] = v
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "=== Latency ===")
		fmt.Fprintf(out, "Min:    %s\n", latencies[0])
		fmt.Fprintf(out, "Avg:    %s\n", avg)
		fmt.Fprintf(out, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(out, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(out, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(out, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	slices.Sort(keys)
	for _, code := range keys {
		fmt.Fprintf(out, "  %d: %d\n", code, codes[code])
	}

	if total == 0 {
		return errors.New("no requests completed; is the dashboard running?")
	}
	return nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
