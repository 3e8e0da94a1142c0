package main

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	nativecommon "poolrewards/native/common"
	"poolrewards/native/controller"
)

// healthService is the gRPC health name orchestrators probe.
const healthService = "poolrewards.controller"

// newHealthServer builds a gRPC server exposing only the standard health
// service.
func newHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// healthStatus reports SERVING while state is readable and the controller
// accepts operations.
func healthStatus(ctrl *controller.Controller, pauses nativecommon.PauseView) healthpb.HealthCheckResponse_ServingStatus {
	if _, err := ctrl.BlockHeight(); err != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	if nativecommon.Guard(pauses, "controller") != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// watchHealth refreshes the health status until ctx ends.
func watchHealth(ctx context.Context, hs *health.Server, ctrl *controller.Controller, pauses nativecommon.PauseView, every time.Duration) {
	update := func() {
		status := healthStatus(ctrl, pauses)
		hs.SetServingStatus("", status)
		hs.SetServingStatus(healthService, status)
	}
	update()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
