// Package loadgen drives synthetic traffic at a running instance of the
// service so dashboards and exemplar checks have recent data to query.
package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	StatusClasses map[string]int64
	Elapsed       time.Duration
}

type target struct {
	method string
	path   string
	body   string
	weight int
}

// Profiles describe what fraction of traffic hits which endpoint. Login
// attempts deliberately carry wrong credentials: a 401 is the expected
// answer and still exercises the rate limiter and audit path.
var profiles = map[string][]target{
	"health": {
		{method: http.MethodGet, path: "/health/live", weight: 1},
		{method: http.MethodGet, path: "/health/ready", weight: 1},
	},
	"auth": {
		{method: http.MethodPost, path: "/api/v1/auth/login", body: `{"email":"loadgen@example.com","password":"not-the-password"}`, weight: 3},
		{method: http.MethodGet, path: "/api/v1/auth/providers", weight: 2},
		{method: http.MethodGet, path: "/api/v1/session/validate", weight: 2},
	},
	"mixed": {
		{method: http.MethodGet, path: "/health/live", weight: 2},
		{method: http.MethodGet, path: "/api/v1/auth/providers", weight: 3},
		{method: http.MethodPost, path: "/api/v1/auth/login", body: `{"email":"loadgen@example.com","password":"not-the-password"}`, weight: 2},
		{method: http.MethodGet, path: "/api/v1/session/validate", weight: 2},
		{method: http.MethodGet, path: "/api/v1/me", weight: 1},
	},
}

// Run generates traffic per cfg until the duration elapses or ctx is
// cancelled. Transport errors and 5xx answers count as failures; 4xx answers
// are expected for unauthenticated probes and do not.
func Run(ctx context.Context, cfg Config) (Result, error) {
	profile := normalizeProfile(cfg.Profile)
	targets, ok := profiles[profile]
	if !ok {
		return Result{}, fmt.Errorf("unknown traffic profile %q", cfg.Profile)
	}
	if cfg.RPS <= 0 || cfg.Concurrency <= 0 || cfg.Duration <= 0 {
		return Result{}, fmt.Errorf("rps, concurrency, and duration must be positive")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	picker := newWeightedPicker(targets, cfg.Seed)
	client := &http.Client{Timeout: 10 * time.Second}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		mu      sync.Mutex
		res     = Result{StatusClasses: make(map[string]int64)}
		tickets = make(chan struct{}, cfg.RPS)
	)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		interval := time.Second / time.Duration(cfg.RPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(tickets)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case tickets <- struct{}{}:
				default:
				}
			}
		}
	})

	start := time.Now()
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for range tickets {
				t := picker.next()
				class, failed := fire(gctx, client, base, t)
				mu.Lock()
				res.TotalRequests++
				res.StatusClasses[class]++
				if failed {
					res.Failures++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func fire(ctx context.Context, client *http.Client, base string, t target) (string, bool) {
	var body *bytes.Reader
	if t.body != "" {
		body = bytes.NewReader([]byte(t.body))
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, base+t.path, body)
	if err != nil {
		return "other", true
	}
	if t.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return "other", true
	}
	defer func() { _ = resp.Body.Close() }()
	class := classifyStatusClass(resp.StatusCode)
	return class, resp.StatusCode >= 500
}

type weightedPicker struct {
	mu      sync.Mutex
	rng     *rand.Rand
	targets []target
	total   int
}

func newWeightedPicker(targets []target, seed int64) *weightedPicker {
	sorted := make([]target, len(targets))
	copy(sorted, targets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].path < sorted[j].path })
	total := 0
	for _, t := range sorted {
		total += t.weight
	}
	return &weightedPicker{rng: rand.New(rand.NewSource(seed)), targets: sorted, total: total}
}

func (p *weightedPicker) next() target {
	p.mu.Lock()
	n := p.rng.Intn(p.total)
	p.mu.Unlock()
	for _, t := range p.targets {
		if n < t.weight {
			return t
		}
		n -= t.weight
	}
	return p.targets[len(p.targets)-1]
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "mixed"
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
