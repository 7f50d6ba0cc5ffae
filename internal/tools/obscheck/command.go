// Package obscheck exercises the deployed telemetry pipeline: it drives auth
// traffic at a running instance, lifts a trace id off a latency exemplar in
// Mimir, and confirms the same trace is stored in Tempo and attached to the
// service's logs in Loki.
package obscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brewlog/auth-service/internal/tools/common"
	"github.com/brewlog/auth-service/internal/tools/loadgen"
	"github.com/brewlog/auth-service/internal/tools/ui"
)

type options struct {
	grafanaURL      string
	grafanaUser     string
	grafanaPassword string
	serviceName     string
	window          time.Duration
	ci              bool
	baseURL         string
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "obscheck", Short: "Verify metrics, traces and logs correlation"}
	cmd.PersistentFlags().StringVar(&opts.grafanaURL, "grafana-url", "http://localhost:3000", "Grafana base URL")
	cmd.PersistentFlags().StringVar(&opts.grafanaUser, "grafana-user", "admin", "Grafana username")
	cmd.PersistentFlags().StringVar(&opts.grafanaPassword, "grafana-password", "admin", "Grafana password")
	cmd.PersistentFlags().StringVar(&opts.serviceName, "service-name", "auth-service", "OTel service name")
	cmd.PersistentFlags().DurationVar(&opts.window, "window", 20*time.Minute, "query lookback window")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL for traffic")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate auth traffic and validate the exemplar->trace->log path",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runChecked(opts, "obscheck run", correlationCheck(opts))
			if opts.ci {
				common.PrintCIResult(err == nil, "obscheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

// correlationCheck is the whole pipeline walk. Login traffic deliberately
// fails authentication, so the trail it leaves crosses the rate limiter and
// the audit path before reaching the exporters.
func correlationCheck(opts *options) func(context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		traffic, err := loadgen.Run(ctx, loadgen.Config{
			BaseURL:     opts.baseURL,
			Profile:     "auth",
			Duration:    6 * time.Second,
			RPS:         20,
			Concurrency: 6,
			Seed:        42,
		})
		if err != nil {
			return nil, err
		}
		details := []string{fmt.Sprintf("auth traffic: %d requests, %d failures", traffic.TotalRequests, traffic.Failures)}

		cutoff := time.Now().Add(-2 * time.Minute)
		// Headroom for one metrics export interval.
		time.Sleep(8 * time.Second)

		grafana, err := newGrafanaClient(opts)
		if err != nil {
			return details, err
		}

		traceID, err := grafana.latestExemplarTraceID(ctx, opts.window, cutoff)
		if err != nil {
			return details, err
		}
		details = append(details, "exemplar trace_id="+traceID)

		if err := grafana.waitForTempoTrace(ctx, traceID); err != nil {
			return details, err
		}
		details = append(details, "tempo: trace stored")

		if err := grafana.findCorrelatedLogs(ctx, opts.serviceName, traceID); err != nil {
			return details, err
		}
		details = append(details, "loki: logs carry the trace")
		return details, nil
	}
}

func runChecked(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

// grafanaClient talks to the datasource proxy endpoints, so one set of
// credentials covers Mimir, Tempo and Loki.
type grafanaClient struct {
	base     *url.URL
	user     string
	password string
	client   *http.Client
}

func newGrafanaClient(opts *options) (*grafanaClient, error) {
	base, err := url.Parse(opts.grafanaURL)
	if err != nil {
		return nil, fmt.Errorf("parse grafana url: %w", err)
	}
	return &grafanaClient{
		base:     base,
		user:     opts.grafanaUser,
		password: opts.grafanaPassword,
		client:   &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (g *grafanaClient) getJSON(ctx context.Context, path string, out any) error {
	rel, err := url.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base.ResolveReference(rel).String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.user, g.password)
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("grafana answered %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type exemplarResponse struct {
	Data []struct {
		Exemplars []struct {
			Labels    map[string]string `json:"labels"`
			Timestamp float64           `json:"timestamp"`
		} `json:"exemplars"`
	} `json:"data"`
}

// latestExemplarTraceID queries Mimir for exemplars on the server latency
// histogram and returns the newest trace id minted after notBefore, so a
// stale exemplar from an earlier run cannot satisfy the check.
func (g *grafanaClient) latestExemplarTraceID(ctx context.Context, window time.Duration, notBefore time.Time) (string, error) {
	end := time.Now().Unix()
	start := time.Now().Add(-window).Unix()
	path := fmt.Sprintf("/api/datasources/proxy/uid/mimir/api/v1/query_exemplars?query=http_server_request_duration_seconds_bucket&start=%d&end=%d", start, end)

	var payload exemplarResponse
	if err := g.getJSON(ctx, path, &payload); err != nil {
		return "", err
	}

	var newestID string
	var newestTS float64
	for _, series := range payload.Data {
		for _, ex := range series.Exemplars {
			if ex.Timestamp <= 0 || int64(ex.Timestamp) < notBefore.Unix() {
				continue
			}
			if id := ex.Labels["trace_id"]; len(id) == 32 && ex.Timestamp > newestTS {
				newestTS = ex.Timestamp
				newestID = id
			}
		}
	}
	if newestID == "" {
		return "", fmt.Errorf("no recent trace_id exemplar found")
	}
	return newestID, nil
}

type tempoTrace struct {
	Batches []json.RawMessage `json:"batches"`
}

// waitForTempoTrace polls Tempo until the trace is queryable. Ingestion lags
// the exemplar by a few seconds.
func (g *grafanaClient) waitForTempoTrace(ctx context.Context, traceID string) error {
	path := "/api/datasources/proxy/uid/tempo/api/traces/" + traceID
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		var trace tempoTrace
		if err := g.getJSON(ctx, path, &trace); err != nil {
			lastErr = err
			continue
		}
		if len(trace.Batches) > 0 {
			return nil
		}
		lastErr = fmt.Errorf("tempo trace %s has no batches yet", traceID)
	}
	return lastErr
}

type lokiResponse struct {
	Data struct {
		Result []json.RawMessage `json:"result"`
	} `json:"data"`
}

// findCorrelatedLogs asks Loki for log lines carrying the trace id, first
// scoped to the service and then across all streams in case the service
// label was renamed in the collector.
func (g *grafanaClient) findCorrelatedLogs(ctx context.Context, serviceName, traceID string) error {
	endNS := time.Now().UnixNano()
	startNS := endNS - int64(30*time.Minute)
	queries := []string{
		fmt.Sprintf("{service_name=%q} | json | trace_id=%q", serviceName, traceID),
		fmt.Sprintf("{service_name=~\".+\"} | json | trace_id=%q", traceID),
	}
	for _, raw := range queries {
		path := fmt.Sprintf("/api/datasources/proxy/uid/loki/loki/api/v1/query_range?query=%s&start=%d&end=%d&limit=1&direction=backward", url.QueryEscape(raw), startNS, endNS)
		var payload lokiResponse
		if err := g.getJSON(ctx, path, &payload); err != nil {
			return err
		}
		if len(payload.Data.Result) > 0 {
			return nil
		}
	}
	return fmt.Errorf("no correlated loki logs found for trace_id %s", traceID)
}
