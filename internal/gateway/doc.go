// Package gateway hosts a huddle room behind its network servers.
//
// # Overview
//
// The gateway owns the room and everything clients and orchestrators talk
// to: the HTTP server carrying the participant WebSocket, the token
// endpoint and probes, and a gRPC server carrying the standard health
// service.
//
// # HTTP Endpoints
//
//   - GET /ws - participant WebSocket (token query parameter or bearer header)
//   - GET /api/token?room=&username= - issue a participant token
//   - GET /api/events - page the room's audit ledger (participant token)
//   - GET /health - liveness check
//   - GET /ready - readiness, 200 once the room coordinator runs
//   - GET /metrics - Prometheus metrics when metrics.enabled is set
//
// # gRPC Health
//
// The server registers grpc.health.v1.Health. The empty service name is
// always SERVING while the server is up; "huddle.Room" follows room
// readiness.
//
// # Listeners
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens on :50051 (gRPC) and :80 (HTTP); otherwise it listens on
// server.grpc_addr and server.http_addr.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Cancelling ctx shuts down with a fresh context bounded by
// sessions.shutdown_timeout.
package gateway
