package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/diploma-bazar/api-gate/app/gate"
	"github.com/diploma-bazar/api-gate/app/identity"
	"github.com/diploma-bazar/api-gate/app/ratelimit"
	"github.com/diploma-bazar/api-gate/app/secret"
	"github.com/diploma-bazar/api-gate/app/token"
	"github.com/diploma-bazar/api-gate/server"
)

type input struct {
	Config   string `required:"true"`
	Upstream string `required:"true"`
	Server   struct {
		Address         string        `default:":8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"5s"`
		WriteTimeout    time.Duration `split_words:"true" default:"10s"`
		IdleTimeout     time.Duration `split_words:"true" default:"15s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
	Observability struct {
		Address string `default:":9090"`
	}
	Redis struct {
		Host string `default:"localhost"`
		Port int    `default:"6379"`
	}
	Provider struct {
		VerifyURL string `split_words:"true"`
	}
	Secrets struct {
		JWTSecretName string        `split_words:"true" default:"JWT_SECRET"`
		APIKeysName   string        `split_words:"true" default:"API_KEYS"`
		GoogleProject string        `split_words:"true"`
		Tries         int           `default:"3"`
		Backoff       time.Duration `default:"1s"`
	}
	StoreTimeout time.Duration `split_words:"true" default:"2s"`
}

var (
	// Health check
	healthy int32
	app     = "api_gate"
	// Metrics
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_gate_requests_total",
		Help: "The total number of gated requests",
	}, []string{"method", "path", "code"})
	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "api_gate_request_duration_seconds",
		Help:    "The histogram of gated request duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

func main() {
	_ = godotenv.Load()

	var i input
	if err := envconfig.Process(app, &i); err != nil {
		log.Fatalf("failed to load input: %v\n", err)
	}

	cfg, err := gate.ParseConfig(strings.NewReader(i.Config))
	if err != nil {
		log.Fatalf("failed to parse gate config: %v\n", err)
	}

	upstream, err := url.Parse(i.Upstream)
	if err != nil {
		log.Fatalf("failed to parse upstream url: %v\n", err)
	}

	ctx := context.Background()

	secrets, closeSecrets, err := newSecretSource(ctx, &i)
	if err != nil {
		log.Fatalf("failed to initialize secret source: %v\n", err)
	}

	defer closeSecrets()

	verifier := newVerifier(ctx, &i, secrets)

	if keys, err := secrets.Get(ctx, i.Secrets.APIKeysName); err == nil {
		cfg.Security.APIKeys.Keys = append(cfg.Security.APIKeys.Keys, strings.Split(string(keys), ",")...)
	}

	resolver, err := identity.NewResolver(cfg.Security, verifier)
	if err != nil {
		log.Fatalf("failed to initialize security resolver: %v\n", err)
	}

	var (
		redisAddr = fmt.Sprintf("%s:%d", i.Redis.Host, i.Redis.Port)
		client    = redis.NewClient(&redis.Options{Addr: redisAddr})
		store     = ratelimit.NewRedisStore(client, cfg.Escalation)
		policies  = ratelimit.NewPolicies(cfg.DefaultPolicy, cfg.EndpointPolicies)
	)

	var cache *ratelimit.Cache
	if cfg.Cache.Enabled {
		cache = ratelimit.NewCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, cfg.Cache.SweepChance)
	}

	var (
		evaluator  = ratelimit.NewEvaluator(store, policies, cache, i.StoreTimeout)
		violations = ratelimit.NewViolationLogger(store)
		g          = gate.New(resolver, evaluator, violations, cfg)
	)

	mux := http.NewServeMux()
	mux.Handle("/api/ratelimit/status", g.StatusHandler())
	mux.Handle("/", httputil.NewSingleHostReverseProxy(upstream))

	h := g.Middleware(mux)
	h = gate.WithMetrics(requestsTotal, requestDuration)(h)
	h = gate.WithLogging()(h)

	var (
		done = make(chan bool)
		quit = make(chan os.Signal, 1)
	)

	serverConfig := server.Config{
		Address:         i.Server.Address,
		ReadTimeout:     i.Server.ReadTimeout,
		WriteTimeout:    i.Server.WriteTimeout,
		IdleTimeout:     i.Server.IdleTimeout,
		ShutdownTimeout: i.Server.ShutdownTimeout,
	}

	observabilityConfig := serverConfig
	observabilityConfig.Address = i.Observability.Address

	observability, err := server.NewObservability(observabilityConfig, healthz(), redisAddr)
	if err != nil {
		log.Fatalf("failed to initialize observability server: %v\n", err)
	}

	go func() {
		log.Println("starting observability server at", i.Observability.Address)

		if errs := observability.ListenAndServe(); errs != nil && errs != http.ErrServerClosed {
			log.Fatalf("failed to start observability server on %s: %v\n", i.Observability.Address, errs)
		}
	}()

	main := server.New(serverConfig, h)

	signal.Notify(quit, os.Interrupt)

	go func() {
		<-quit
		log.Println("server is shutting down...")
		atomic.StoreInt32(&healthy, 0)

		ctx, cancel := context.WithTimeout(context.Background(), i.Server.ShutdownTimeout)
		defer cancel()

		main.SetKeepAlivesEnabled(false)
		observability.SetKeepAlivesEnabled(false)

		if err := main.Shutdown(ctx); err != nil {
			log.Fatalf("failed to gracefully shutdown the server: %v\n", err)
		}

		if err := observability.Shutdown(ctx); err != nil {
			log.Fatalf("failed to gracefully shutdown observability server: %v\n", err)
		}

		close(done)
	}()

	log.Println("gate is ready to handle requests at", i.Server.Address)
	atomic.StoreInt32(&healthy, 1)

	if err := main.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("failed to listen on %s: %v\n", i.Server.Address, err)
	}

	<-done
	log.Println("server stopped")
}

func newSecretSource(ctx context.Context, i *input) (secret.Source, func(), error) {
	if i.Secrets.GoogleProject == "" {
		return secret.NewEnvSource(), func() {}, nil
	}

	gsm, err := secret.NewGoogleSecretManager(ctx, i.Secrets.GoogleProject)
	if err != nil {
		return nil, nil, err
	}

	return secret.NewBackoffSource(i.Secrets.Tries, i.Secrets.Backoff, gsm), gsm.Close, nil
}

func newVerifier(ctx context.Context, i *input, secrets secret.Source) token.Verifier {
	var chain token.Chain

	if s, err := secrets.Get(ctx, i.Secrets.JWTSecretName); err == nil {
		chain = append(chain, token.NewHMACVerifier(s))
	} else {
		log.Warnf("jwt secret %q unavailable, local token verification disabled: %v", i.Secrets.JWTSecretName, err)
	}

	if i.Provider.VerifyURL != "" {
		chain = append(chain, token.NewProviderVerifier(i.Provider.VerifyURL, &http.Client{Timeout: 10 * time.Second}))
	}

	if len(chain) == 0 {
		return nil
	}

	return chain
}

func healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&healthy) == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
}
