package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mfcnet/internal/api"
	"mfcnet/internal/config"
	"mfcnet/internal/metrics"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()
	limiter := api.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)

	// Allocation (rate limited per client)
	mux.Handle("/v1/allocate", limiter.Middleware(http.HandlerFunc(srvDeps.AllocateHandler)))
	mux.HandleFunc("/v1/allocations", srvDeps.AllocationsHandler)
	mux.HandleFunc("/v1/allocations/stream", srvDeps.AllocationStreamHandler)
	mux.HandleFunc("/v1/allocations/ws", srvDeps.AllocationsWSHandler)
	mux.HandleFunc("/v1/allocations/", srvDeps.AllocationByIDHandler)

	// Rebalancing advisor
	mux.HandleFunc("/v1/recommendations", srvDeps.RecommendationsHandler)

	// Reference data
	mux.HandleFunc("/v1/facilities", srvDeps.FacilitiesHandler)
	mux.HandleFunc("/v1/facilities/", srvDeps.FacilityByIDHandler)
	mux.HandleFunc("/v1/products", srvDeps.ProductsHandler)
	mux.HandleFunc("/v1/agents", srvDeps.AgentsHandler)
	mux.HandleFunc("/v1/agents/", srvDeps.AgentByIDHandler)
	mux.HandleFunc("/v1/stock", srvDeps.StockHandler)
	mux.HandleFunc("/v1/stock/restock", srvDeps.RestockHandler)
	mux.HandleFunc("/v1/stock/transfer", srvDeps.TransferHandler)
	mux.HandleFunc("/v1/forecasts", srvDeps.ForecastsHandler)

	// Webhook subscriptions and admin
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", srvDeps.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/", srvDeps.WebhookDeliveryRetryHandler)

	// Health and introspection
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.HandleFunc("/version", srvDeps.VersionHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	handler := logMiddleware(api.MetricsMiddleware(mux))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", cfg.Addr)
	// Start webhook worker
	if srvDeps.Pub != nil {
		worker := srvDeps.NewWebhookWorker()
		worker.Start()
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
