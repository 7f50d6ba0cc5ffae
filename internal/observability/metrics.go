package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brewlog/auth-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	loginCounter     metric.Int64Counter
	refreshCounter   metric.Int64Counter
	validateCounter  metric.Int64Counter
	oauthFlowCounter metric.Int64Counter
	rateLimitCounter metric.Int64Counter
	auditCounter     metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("auth-service")
	loginCounter, err := meter.Int64Counter("auth.login.attempts")
	if err != nil {
		return nil, err
	}
	refreshCounter, err := meter.Int64Counter("auth.session.refresh.attempts")
	if err != nil {
		return nil, err
	}
	validateCounter, err := meter.Int64Counter("auth.session.validate.checks")
	if err != nil {
		return nil, err
	}
	oauthFlowCounter, err := meter.Int64Counter("auth.oauth.flow.transitions")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("auth.rate_limit.decisions")
	if err != nil {
		return nil, err
	}
	auditCounter, err := meter.Int64Counter("auth.audit.events")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		loginCounter:     loginCounter,
		refreshCounter:   refreshCounter,
		validateCounter:  validateCounter,
		oauthFlowCounter: oauthFlowCounter,
		rateLimitCounter: rateLimitCounter,
		auditCounter:     auditCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordLogin(ctx context.Context, method, status string) {
	m := current()
	if m == nil {
		return
	}
	m.loginCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}

func RecordSessionRefresh(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordSessionValidate(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.validateCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordOAuthFlowTransition tracks callback state machine progress per
// provider: state_verified, code_exchanged, session_created,
// awaiting_user_choice, linked, separate_created, or a terminal error kind.
func RecordOAuthFlowTransition(ctx context.Context, provider, transition string) {
	m := current()
	if m == nil {
		return
	}
	m.oauthFlowCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("transition", transition),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}

func RecordAuditEvent(ctx context.Context, event, severity string) {
	m := current()
	if m == nil {
		return
	}
	m.auditCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("severity", severity),
	))
}

// RecordRepositoryOperation is emitted by every repository method so storage
// errors are visible without log scraping.
var repoOnce sync.Once
var repoCounter metric.Int64Counter

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	repoOnce.Do(func() {
		counter, err := otel.Meter("auth-service").Int64Counter("repository.operations")
		if err == nil {
			repoCounter = counter
		}
	})
	if repoCounter == nil {
		return
	}
	repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordRateLimitRetryAfter buckets Retry-After durations for alerting on
// lockout storms.
var retryAfterOnce sync.Once
var retryAfterHistogram metric.Float64Histogram

func RecordRateLimitRetryAfter(ctx context.Context, scope string, d time.Duration) {
	retryAfterOnce.Do(func() {
		hist, err := otel.Meter("auth-service").Float64Histogram("auth.rate_limit.retry_after_seconds")
		if err == nil {
			retryAfterHistogram = hist
		}
	})
	if retryAfterHistogram == nil {
		return
	}
	retryAfterHistogram.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("scope", scope)))
}
