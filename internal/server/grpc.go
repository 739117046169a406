// Package server assembles the gRPC server that carries the standard health service.
package server

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	healthhandler "planning-board/internal/health/handler"
)

// Deps holds the services registered on the gRPC server.
type Deps struct {
	// Health backs grpc.health.v1.Health. Required.
	Health *healthhandler.Server
}

// NewGRPCServer returns a gRPC server with OTel instrumentation and request logging, and registers services.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(LoggingUnary(map[string]bool{healthpb.Health_Check_FullMethodName: true})),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the gRPC services with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health.GRPC())
	}
}

// LoggingUnary logs failed RPCs and every RPC not listed in skipMethods.
func LoggingUnary(skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil || !skipMethods[info.FullMethod] {
			log.Printf("grpc: %s code=%s duration=%s", info.FullMethod, status.Code(err), time.Since(start).Round(time.Microsecond))
		}
		return resp, err
	}
}
