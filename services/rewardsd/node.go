package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"poolrewards/config"
	"poolrewards/core/events"
	"poolrewards/core/state"
	"poolrewards/gateway/middleware"
	"poolrewards/gateway/routes"
	"poolrewards/integrations/webhooks"
	nativecommon "poolrewards/native/common"
	"poolrewards/native/controller"
	"poolrewards/native/lending"
	"poolrewards/observability"
	rewardsdconfig "poolrewards/services/rewardsd/config"
	"poolrewards/storage"
	"poolrewards/storage/journal"
)

// node holds the wired runtime of the daemon.
type node struct {
	db         storage.Database
	controller *controller.Controller
	pauses     *nativecommon.Pauses
	stream     *routes.Stream
	journal    *journal.Journal
	webhooks   []*webhooks.Dispatcher
}

func (n *node) Close() {
	for _, d := range n.webhooks {
		d.Close()
	}
	if n.journal != nil {
		_ = n.journal.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
}

func openDatabase(dataDir string) (storage.Database, error) {
	if dataDir == "" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(filepath.Join(dataDir, "state"))
}

// buildNode opens storage, registers the genesis distributors and markets
// and writes the genesis on first start.
func buildNode(cfg rewardsdconfig.Config, logger *slog.Logger) (*node, error) {
	genesis, err := config.Load(cfg.GenesisPath)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}
	resolved, err := genesis.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve genesis: %w", err)
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	n := &node{db: db, pauses: nativecommon.NewPauses(cfg.Paused...), stream: routes.NewStream(logger)}

	sinks := events.Fanout{n.stream, observability.Events()}
	if cfg.Journal.DSN != "" {
		j, err := journal.Open(cfg.Journal.DSN, logger)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.journal = j
		sinks = append(sinks, j)
	}
	for _, hook := range cfg.Webhooks {
		d, err := webhooks.NewDispatcher(hook.URL, []byte(hook.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithEventPrefixes(hook.Events...),
			webhooks.WithRetryPolicy(hook.MaxAttempts, hook.MinBackoff, hook.MaxBackoff))
		if err != nil {
			n.Close()
			return nil, err
		}
		n.webhooks = append(n.webhooks, d)
		sinks = append(sinks, d)
	}

	mgr := state.NewManager(db)
	if err := state.EnsureStateVersion(mgr); err != nil {
		n.Close()
		return nil, err
	}
	ctrl := controller.New(resolved.Controller, mgr, lending.NewEngine())
	ctrl.SetLogger(logger)
	ctrl.SetEmitter(sinks)
	ctrl.SetPauses(n.pauses)
	for _, d := range resolved.NewDistributors() {
		d.SetLogger(logger)
		if err := ctrl.AddDistributor(d); err != nil {
			n.Close()
			return nil, fmt.Errorf("register distributor: %w", err)
		}
	}
	ctrl.ConfigureMarkets(resolved.Genesis.Markets)
	applied, err := ctrl.ApplyGenesis(resolved.Genesis)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	height, err := ctrl.BlockHeight()
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("read block height: %w", err)
	}
	logger.Info("controller ready",
		slog.String("controller", resolved.Controller.String()),
		slog.Int("distributors", len(resolved.Distributors)),
		slog.Int("markets", len(resolved.Genesis.Markets)),
		slog.Bool("genesis_applied", applied),
		slog.Uint64("height", height))
	n.controller = ctrl
	return n, nil
}

// handler assembles the HTTP surface from the daemon config.
func (n *node) handler(cfg rewardsdconfig.Config, logger *slog.Logger) (http.Handler, error) {
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, l := range cfg.RateLimits {
		limits[l.ID] = middleware.RateLimit{RatePerSecond: l.PerSecond(), Burst: l.Burst}
	}
	rc := routes.Config{
		Controller: n.controller,
		Stream:     n.stream,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.Observability.ServiceName,
			LogRequests: cfg.Observability.LogRequests,
		}, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		},
		Logger: logger,
	}
	if n.journal != nil {
		rc.Journal = n.journal
	}
	return routes.New(rc)
}
