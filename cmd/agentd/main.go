// Command agentd runs the policy-gated database agent's HTTP server,
// grounded on the teacher's services/escrow-gateway/main.go: configure
// logging, initialize telemetry, load config, wire the application, serve
// behind otelhttp, and shut down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"private-db-agent/internal/app"
	"private-db-agent/internal/telemetry"
	"private-db-agent/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	env := strings.TrimSpace(os.Getenv("NODE_ENV"))
	logging.Setup("private-db-agent", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "private-db-agent",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("wire application: %v", err)
	}

	addr := ":" + getenvDefault("PORT", "8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(application.Server, "private-db-agent"),
	}

	go func() {
		log.Printf("private-db-agent listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down private-db-agent")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful http shutdown failed: %v", err)
	}
	if err := application.Close(ctx); err != nil {
		log.Printf("graceful application shutdown failed: %v", err)
	}
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
