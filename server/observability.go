package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hellofresh/health-go/v4"
	healthRedis "github.com/hellofresh/health-go/v4/checks/redis"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthCheckTimeout = 2 * time.Second

// NewObservability serves liveness, readiness and metrics. Readiness
// includes a redis check so a gate whose store is gone reports degraded.
func NewObservability(config Config, healthz http.Handler, redisAddr string) (*http.Server, error) {
	h, err := health.New(
		health.WithComponent(health.Component{Name: "api-gate", Version: "v1"}),
		health.WithChecks(health.Config{
			Name:      "redis",
			Timeout:   healthCheckTimeout,
			SkipOnErr: false,
			Check:     healthRedis.New(healthRedis.Config{DSN: fmt.Sprintf("redis://%s", redisAddr)}),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize health checks: %w", err)
	}

	router := http.NewServeMux()
	router.Handle("/healthz", healthz)
	router.Handle("/readyz", h.Handler())
	router.Handle("/metrics", promhttp.Handler())

	return newServer(config, router), nil
}
