package api

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	connectcors "connectrpc.com/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/outcomesignal/entitlements-api/internal/domain/entitlements"
	"github.com/outcomesignal/entitlements-api/internal/domain/expiration"
	"github.com/outcomesignal/entitlements-api/pkg/interceptors"
	"github.com/outcomesignal/entitlements-api/pkg/observability"
)

// SetupRouter configures all routes and returns the HTTP service
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	jwtSecret := []byte(deps.Config.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		deps.Logger.Warn("JWT secret is empty; every caller is treated as anonymous")
	}

	tracer := otel.GetTracerProvider().Tracer("entitlements/api")

	chain := []connect.Interceptor{
		interceptors.NewRequestIDInterceptor("X-Request-ID"),
		interceptors.NewTracingInterceptor(tracer),
	}
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter := rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
		chain = append(chain, interceptors.NewRateLimitInterceptor(limiter))
	}
	chain = append(chain,
		interceptors.NewRecoveryInterceptor(deps.Logger),
		interceptors.NewAuthInterceptor(jwtSecret, entitlements.PublicProcedures...),
		interceptors.NewLoggingInterceptor(deps.Logger),
		observability.NewMetricsInterceptor(),
	)
	interceptorChain := connect.WithInterceptors(chain...)

	registerConnectRoutes(mux, deps, interceptorChain)
	registerJobRoutes(mux, deps)
	registerUtilityRoutes(mux, deps)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   connectcors.AllowedMethods(),
		AllowedHeaders:   append(connectcors.AllowedHeaders(), "Authorization", "X-Request-ID"),
		ExposedHeaders:   append(connectcors.ExposedHeaders(), "X-Request-ID"),
		AllowCredentials: true,
	})

	return corsHandler.Handler(mux)
}

// registerConnectRoutes registers the Connect RPC services
func registerConnectRoutes(mux *http.ServeMux, deps *Dependencies, opts connect.HandlerOption) {
	path, h := entitlements.NewServiceHandler(deps.EntitlementHandler, opts)
	mux.Handle(path, h)
	deps.Logger.Info("registered Connect RPC service", "path", path)
}

// registerJobRoutes exposes the trial expiration trigger for external
// schedulers. It is authenticated by the service key, not by user JWTs.
func registerJobRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.Handle(expiration.TriggerPath, deps.ExpirationHandler)
	deps.Logger.Info("registered job trigger", "path", expiration.TriggerPath)
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Health(r.Context()); err != nil {
			deps.Logger.WarnContext(r.Context(), "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	deps.Logger.Info("registered health check", "path", "/health")

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	deps.Logger.Info("registered readiness check", "path", "/ready")

	if deps.Config.Observability.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		deps.Logger.Info("registered metrics endpoint", "path", "/metrics")
	}
}

// Health reports whether the store and, when configured, Redis respond.
func (d *Dependencies) Health(ctx context.Context) error {
	if d.DB == nil {
		return errors.New("database not initialized")
	}
	if err := d.DB.Health(ctx); err != nil {
		return err
	}
	if d.redis != nil {
		if err := d.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
