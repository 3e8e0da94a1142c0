package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poolrewards/gateway/middleware"
	"poolrewards/native/controller"
)

// Rate limit keys.
const (
	RateLimitRead  = "read"
	RateLimitWrite = "write"
)

type Config struct {
	Controller    *controller.Controller
	Stream        *Stream
	Journal       EventLog
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	Now           func() time.Time
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Controller == nil {
		return nil, errors.New("routes: controller required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	auth := cfg.Authenticator
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Logger)
	}
	obs := cfg.Observability
	if obs == nil {
		obs = middleware.NewObservability(middleware.ObservabilityConfig{}, cfg.Logger)
	}
	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}

	rr := &rewardsRoutes{ctrl: cfg.Controller, now: cfg.Now}
	mr := &marketRoutes{ctrl: cfg.Controller, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		height, err := cfg.Controller.BlockHeight()
		if err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": height})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(middleware.RequestIDs)

		v1.Group(func(read chi.Router) {
			read.Use(limit(RateLimitRead))
			read.With(obs.Middleware("rewards", "distributors")).
				Get("/distributors", rr.listDistributors)
			read.With(obs.Middleware("rewards", "market_side")).
				Get("/distributors/{distributor}/markets/{market}/{side}", rr.marketSide)
			read.With(obs.Middleware("rewards", "snapshot")).
				Get("/distributors/{distributor}/markets/{market}/{side}/snapshots/{account}", rr.snapshot)
			read.With(obs.Middleware("rewards", "accrued")).
				Get("/distributors/{distributor}/accrued/{account}", rr.accrued)
			read.With(obs.Middleware("rewards", "export")).
				Get("/distributors/{distributor}/exports/accrued.{format}", rr.exportAccrued)
			read.With(obs.Middleware("lending", "market")).
				Get("/markets/{market}", mr.market)
			read.With(obs.Middleware("lending", "position")).
				Get("/markets/{market}/positions/{account}", mr.position)
		})

		v1.Group(func(write chi.Router) {
			write.Use(limit(RateLimitWrite))
			write.With(auth.Middleware(middleware.ScopeMarketsWrite), obs.Middleware("lending", "operation")).
				Post("/markets/{market}/operations", mr.operate)
			write.With(auth.Middleware(middleware.ScopeRewardsAdmin), obs.Middleware("rewards", "speeds")).
				Put("/distributors/{distributor}/markets/{market}/speeds", rr.setSpeeds)
		})

		if cfg.Journal != nil {
			jr := &journalRoutes{log: cfg.Journal}
			v1.With(limit(RateLimitRead), obs.Middleware("journal", "events")).Get("/events", jr.list)
		}
		if cfg.Stream != nil {
			v1.With(limit(RateLimitRead)).Handle("/events/ws", cfg.Stream)
		}
	})

	return r, nil
}
