// ABOUTME: Gateway orchestrator that hosts the room behind HTTP, WebSocket and gRPC health servers
// ABOUTME: Owns listeners (TCP or tsnet), the room lifecycle and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-huddle/internal/auth"
	"github.com/2389/coven-huddle/internal/config"
	"github.com/2389/coven-huddle/internal/coordinator"
	"github.com/2389/coven-huddle/internal/llm"
	"github.com/2389/coven-huddle/internal/metrics"
	"github.com/2389/coven-huddle/internal/poll"
	"github.com/2389/coven-huddle/internal/room"
	"github.com/2389/coven-huddle/internal/store"
	"github.com/2389/coven-huddle/internal/transport"
)

// HealthService is the gRPC health service name reporting room readiness.
const HealthService = "huddle.Room"

// eventPager is implemented by ledgers that can page through history.
type eventPager interface {
	Events(ctx context.Context, p store.EventsParams) (*store.EventsResult, error)
}

// Gateway hosts one room: participants reach it over HTTP and WebSocket,
// orchestrators probe it over gRPC health.
type Gateway struct {
	config      *config.Config
	room        *room.Room
	hub         *transport.Hub
	ledger      store.Ledger
	verifier    *auth.JWTVerifier
	metrics     *metrics.Metrics
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// publicURL is the WebSocket address handed out by the token endpoint
	publicURL string
}

// Option customizes gateway construction.
type Option func(*options)

type options struct {
	provider llm.Provider
	ledger   store.Ledger
	speaker  coordinator.Speaker
}

// WithProvider replaces the configured OpenAI-compatible provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithLedger replaces the ledger opened from ledger.path.
func WithLedger(l store.Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// WithSpeaker voices coordinator replies.
func WithSpeaker(s coordinator.Speaker) Option {
	return func(o *options) { o.speaker = s }
}

// initLedger opens the SQLite ledger, or a NopLedger when no path is set.
func initLedger(cfg *config.Config, logger *slog.Logger) (store.Ledger, error) {
	if cfg.Ledger.Path == "" {
		logger.Info("ledger disabled")
		return store.NopLedger{}, nil
	}
	s, err := store.NewSQLiteStore(cfg.Ledger.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return s, nil
}

// createGRPCServer creates the gRPC server with the standard health service.
func createGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)
	return server, hs
}

// New builds the gateway and its room from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}

	provider := o.provider
	if provider == nil {
		provider, err = llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("creating language model provider: %w", err)
		}
	}

	ledger := o.ledger
	if ledger == nil {
		if ledger, err = initLedger(cfg, logger); err != nil {
			return nil, err
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New("huddle")
	}

	hub := transport.NewHub(transport.HubConfig{
		ReplayTTL:    cfg.RPC.ReplayTTL,
		Authenticate: auth.Authenticator(verifier, cfg.Room.Name),
	}, logger)

	rm, err := room.New(room.Config{
		Name: cfg.Room.Name,
		Coordinator: coordinator.Config{
			TickInterval:     cfg.Coordinator.TickInterval,
			SilenceThreshold: cfg.Coordinator.SilenceThreshold,
			Instructions:     cfg.Coordinator.Instructions,
			Model:            cfg.LLM.Model,
			MaxToolRounds:    cfg.Coordinator.MaxToolRounds,
		},
		Poll: poll.Config{
			DefaultTimeout: cfg.Poll.DefaultTimeout,
			MaxTimeout:     cfg.Poll.MaxTimeout,
		},
		SummaryModel: cfg.LLM.SummaryModel,
		DrainTimeout: cfg.Sessions.DrainTimeout,
		RPCRate:      cfg.RPC.RatePerSecond,
		RPCBurst:     cfg.RPC.Burst,
	}, room.Deps{
		Transport: hub,
		Provider:  provider,
		Ledger:    ledger,
		Metrics:   m,
		Speaker:   o.speaker,
		Logger:    logger,
	})
	if err != nil {
		_ = hub.Close()
		_ = ledger.Close()
		return nil, fmt.Errorf("creating room: %w", err)
	}

	grpcServer, hs := createGRPCServer()
	gw := &Gateway{
		config:     cfg,
		room:       rm,
		hub:        hub,
		ledger:     ledger,
		verifier:   verifier,
		metrics:    m,
		grpcServer: grpcServer,
		health:     hs,
		logger:     logger.With("component", "gateway"),
		publicURL:  cfg.Server.PublicURL,
	}

	mux := http.NewServeMux()

	// Probes are unauthenticated
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/ready", gw.handleReady)

	// The hub authenticates upgrades itself with the participant token
	mux.Handle("/ws", hub)
	mux.HandleFunc("/api/token", gw.handleToken)
	mux.HandleFunc("/api/events", gw.handleEvents)

	if m != nil {
		mux.Handle(cfg.Metrics.Path, m.Handler())
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Room returns the hosted room.
func (g *Gateway) Room() *room.Room { return g.room }

// listeners are the sockets the room is served on. grpc is nil when the
// health endpoint is turned off.
type listeners struct {
	grpc net.Listener
	http net.Listener
}

func (l listeners) close() {
	if l.grpc != nil {
		_ = l.grpc.Close()
	}
	if l.http != nil {
		_ = l.http.Close()
	}
}

// listen binds the room's sockets, on the tailnet when tailscale is enabled
// and on the configured TCP addresses otherwise.
func (g *Gateway) listen(ctx context.Context) (listeners, error) {
	srv := g.config.Server
	if !g.config.Tailscale.Enabled {
		return g.listenTCP(srv.GRPCAddr, srv.HTTPAddr)
	}
	if srv.GRPCAddr != "" || srv.HTTPAddr != "" {
		g.logger.Warn("tailscale is enabled, server addresses are not used",
			"grpc_addr", srv.GRPCAddr,
			"http_addr", srv.HTTPAddr,
		)
	}
	return g.listenTailnet(ctx)
}

func (g *Gateway) listenTCP(grpcAddr, httpAddr string) (listeners, error) {
	var ls listeners
	var err error
	if grpcAddr != "" {
		if ls.grpc, err = net.Listen("tcp", grpcAddr); err != nil {
			return listeners{}, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}
	if ls.http, err = net.Listen("tcp", httpAddr); err != nil {
		ls.close()
		return listeners{}, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ls, nil
}

// startServers launches the room loop and both servers. Failures arrive
// on the returned channel.
func (g *Gateway) startServers(ctx context.Context, ls listeners) <-chan error {
	errCh := make(chan error, 3)
	fail := func(name string, err error) { errCh <- fmt.Errorf("%s: %w", name, err) }

	go func() {
		if err := g.room.Run(ctx); err != nil {
			fail("room", err)
		}
	}()
	if ls.grpc != nil {
		go func() {
			g.logger.Info("serving gRPC health", "addr", ls.grpc.Addr().String())
			if err := g.grpcServer.Serve(ls.grpc); err != nil {
				fail("gRPC server", err)
			}
		}()
	}
	go func() {
		g.logger.Info("serving participants", "addr", ls.http.Addr().String(), "room", g.config.Room.Name)
		if err := g.httpServer.Serve(ls.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail("HTTP server", err)
		}
	}()
	return errCh
}

// watchReadiness mirrors room readiness into the gRPC health service.
func (g *Gateway) watchReadiness(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_NOT_SERVING
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if g.room.Ready() {
				status = healthpb.HealthCheckResponse_SERVING
			}
			if status != last {
				g.health.SetServingStatus(HealthService, status)
				g.logger.Debug("room health changed", "status", status.String())
				last = status
			}
		}
	}
}

// awaitStop blocks until ctx ends or a server fails. It returns the first
// failure and logs any that arrived with it.
func (g *Gateway) awaitStop(ctx context.Context, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("stop requested, closing room")
		return nil
	case err := <-errCh:
		g.logger.Error("room server failed", "error", err)
		for {
			select {
			case more := <-errCh:
				g.logger.Error("room server failed", "error", more)
			default:
				return err
			}
		}
	}
}

// Run serves the room until ctx ends or a server fails, then shuts down.
// A server failure takes precedence over shutdown errors.
func (g *Gateway) Run(ctx context.Context) error {
	ls, err := g.listen(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	errCh := g.startServers(runCtx, ls)
	go g.watchReadiness(runCtx)

	serveErr := g.awaitStop(runCtx, errCh)
	cancel()

	// ctx is already done here, so shutdown gets its own deadline.
	timeout := g.config.Sessions.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	stopCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()
	shutdownErr := g.Shutdown(stopCtx)

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// tailnetStateDir is where the tsnet node keeps its identity.
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for tailnet state, set tailscale.state_dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "huddle", "tailscale"), nil
}

// tailnetAuthKey prefers the configured key over TS_AUTHKEY.
func tailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("joining the tailnet needs tailscale.auth_key or TS_AUTHKEY")
}

// listenTailnet joins the tailnet as its own node and binds the room there.
func (g *Gateway) listenTailnet(ctx context.Context) (listeners, error) {
	ts := g.config.Tailscale

	dir, err := tailnetStateDir(ts.StateDir)
	if err != nil {
		return listeners{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return listeners{}, fmt.Errorf("creating tailnet state dir: %w", err)
	}
	key, err := tailnetAuthKey(ts.AuthKey)
	if err != nil {
		return listeners{}, err
	}

	node := &tsnet.Server{Hostname: ts.Hostname, Dir: dir, Ephemeral: ts.Ephemeral, AuthKey: key}
	g.tsnetServer = node

	g.logger.Info("joining tailnet", "hostname", ts.Hostname, "ephemeral", ts.Ephemeral)
	status, err := node.Up(ctx)
	if err != nil {
		_ = node.Close()
		return listeners{}, fmt.Errorf("joining tailnet: %w", err)
	}
	g.announceTailnet(status)

	var ls listeners
	if ls.grpc, err = node.Listen("tcp", ":50051"); err != nil {
		_ = node.Close()
		return listeners{}, fmt.Errorf("listening on tailnet gRPC port: %w", err)
	}
	if ls.http, err = node.Listen("tcp", ":80"); err != nil {
		ls.close()
		_ = node.Close()
		return listeners{}, fmt.Errorf("listening on tailnet HTTP port: %w", err)
	}
	return ls, nil
}

// announceTailnet logs where participants can reach the room and, without
// a configured public URL, hands out the tailnet name in tokens.
func (g *Gateway) announceTailnet(status *ipnstate.Status) {
	var ip, dns string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dns = status.Self.DNSName
	}
	g.logger.Info("room reachable on tailnet", "ip", ip, "dns_name", dns)

	if g.publicURL == "" && dns != "" {
		g.publicURL = tailnetURL(dns)
		g.logger.Info("participants will connect via tailnet", "url", g.publicURL)
	}
}

// stopGRPC waits for health streams to finish unless ctx ends first.
func (g *Gateway) stopGRPC(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// Shutdown stops accepting participants, then stops the room. The room
// closes the transport and the ledger. Every step runs.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("stopping room server")
	g.health.Shutdown()

	var errs []error
	step := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("stopping HTTP", g.httpServer.Shutdown(ctx))
	g.stopGRPC(ctx)
	step("stopping room", g.room.Shutdown(ctx))
	if g.tsnetServer != nil {
		step("leaving tailnet", g.tsnetServer.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
