package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckResult is one dependency's readiness answer.
type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// ProbeRunner runs all checkers with a shared per-probe timeout.
type ProbeRunner struct {
	checkers []Checker
	timeout  time.Duration
}

func NewProbeRunner(timeout time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{checkers: checkers, timeout: timeout}
}

// Ready reports whether every dependency answered, with per-check detail.
func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	results := make([]CheckResult, 0, len(p.checkers))
	ready := true
	for _, checker := range p.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		err := checker.Check(checkCtx)
		cancel()
		result := CheckResult{
			Name:      checker.Name(),
			Healthy:   err == nil,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
			ready = false
		}
		results = append(results, result)
	}
	return ready, results
}

type dbChecker struct{ db *gorm.DB }

func NewDBChecker(db *gorm.DB) Checker { return &dbChecker{db: db} }

func (c *dbChecker) Name() string { return "database" }

func (c *dbChecker) Check(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type redisChecker struct{ client redis.UniversalClient }

func NewRedisChecker(client redis.UniversalClient) Checker { return &redisChecker{client: client} }

func (c *redisChecker) Name() string { return "redis" }

func (c *redisChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
