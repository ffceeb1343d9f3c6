// Command gateway is the boundary HTTP surface: it accepts findings CSV
// uploads and spawns the run supervisor, and serves read-only views over
// the run engine's persisted filesystem state.
package main

import (
	"context"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/remediation-run-engine/apps/gateway/config"
	"github.com/antinvestor/remediation-run-engine/apps/gateway/handlers"
	"github.com/antinvestor/remediation-run-engine/apps/gateway/middleware"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[appconfig.GatewayConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "remediation_gateway"
	}

	// Create service with Frame - minimal dependencies. This boundary has
	// neither OIDC interceptors nor a queue manager: guardrails below cover
	// its authentication and abuse-prevention needs.
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	store := statestore.New(cfg.RunsDir, cfg.StateFilePath)

	runsHandler := handlers.NewRunsHandler(&cfg, store)
	reviewHandler := handlers.NewReviewHandler(store)
	metricsHandler := handlers.NewMetricsHandler(&cfg, store)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"gateway"}`))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"gateway"}`))
	})

	mux.HandleFunc("GET /runs", runsHandler.List)
	mux.HandleFunc("POST /runs", runsHandler.Create)
	mux.HandleFunc("GET /runs/{id}", runsHandler.Get)
	mux.HandleFunc("POST /sessions/{id}/review", reviewHandler.Apply)
	mux.HandleFunc("GET /eval", metricsHandler.Eval)
	mux.HandleFunc("GET /ops", metricsHandler.Ops)
	mux.HandleFunc("GET /status", metricsHandler.Status)

	guardrails := middleware.NewGuardrails(cfg.BearerToken, cfg.AllowedOrigin)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurstSize)
	defer rateLimiter.Stop()

	guarded := guardrails.Middleware(mux)
	var handlerChain http.Handler = rateLimiter.Middleware(guarded)

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(handlerChain),
	}

	svc.Init(ctx, serviceOptions...)

	log.Info("Starting remediation gateway service...")
	if err := svc.Run(ctx, ""); err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}
