// server runs the planning board: REST and WebSocket on HTTP_ADDR, gRPC health on GRPC_ADDR.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"planning-board/internal/config"
	"planning-board/internal/server"
	"planning-board/internal/server/middleware"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout     = 15 * time.Second
	healthCheckInterval = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	app.sweeper.Start(ctx)
	go app.health.Run(ctx, healthCheckInterval)

	mux := http.NewServeMux()
	app.board.RegisterRoutes(mux)
	app.health.RegisterRoutes(mux)
	mux.Handle("GET /ws", app.ws)

	probes := map[string]bool{"/healthz": true, "/readyz": true}
	public := map[string]bool{"/healthz": true, "/readyz": true, "/ws": true}
	quiet := map[string]bool{"/healthz": true, "/readyz": true, "/ws": true}
	handler := middleware.Chain(mux,
		middleware.WithClientIPContext,
		middleware.Auth(app.authenticator, public),
		middleware.Logging(probes),
		middleware.RequestEvents(app.events, quiet),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(handler, "planning-board"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s (storage=%s)", cfg.HTTPAddr, app.storage)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	grpcServer := server.NewGRPCServer(server.Deps{Health: app.health})
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
		go func() {
			log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := app.ws.Shutdown(shutdownCtx); err != nil {
		log.Printf("websocket shutdown: %v", err)
	}
	app.sweeper.Stop()
	grpcServer.GracefulStop()
	app.close(shutdownCtx)
	log.Println("server stopped")
}
