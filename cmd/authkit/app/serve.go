package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	authkit "github.com/chimerakang/authkit-go"
	"github.com/chimerakang/authkit-go/audit"
	"github.com/chimerakang/authkit-go/auth"
	"github.com/chimerakang/authkit-go/backend/local"
	"github.com/chimerakang/authkit-go/cache"
	"github.com/chimerakang/authkit-go/config"
	"github.com/chimerakang/authkit-go/metrics"
	"github.com/chimerakang/authkit-go/middleware/ginmw"
	"github.com/chimerakang/authkit-go/middleware/grpcmw"
	"github.com/chimerakang/authkit-go/ratelimit"
	"github.com/chimerakang/authkit-go/token"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
	auditBuffer     = 1024
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication service",
		Long: `Start the HTTP authentication service.

Routes:
  GET  /healthz        liveness
  GET  /metrics        Prometheus metrics (when metrics.enabled)
  POST /auth/login     exchange username and password for a token
  POST /auth/refresh   renew the presented token
  GET  /auth/me        claims of the presented token

When admin.username is set, /admin/users manages the local accounts
behind HTTP basic auth with the admin credentials.

When grpc.listen is set, a gRPC health service is served there behind
the same rate limit and token interceptors.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), s, slog.Default())
		},
	}
}

// server is the assembled service.
type server struct {
	client   *authkit.Client
	router   *gin.Engine
	grpc     *grpc.Server
	cache    *cache.TokenCache
	limits   *ratelimit.Limits
	provider *local.Provider
	closers  []io.Closer
}

func (s *server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

// buildServer wires every component from settings. The caller must Close
// the result.
func buildServer(ctx context.Context, st *config.Settings, logger *slog.Logger) (*server, error) {
	cfg := st.Config().WithDefaults()
	srv := &server{}

	var met *metrics.Metrics
	var reg *prometheus.Registry
	if st.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		met = metrics.NewWithRegistry(reg)
	}

	var auditLog *audit.Logger
	if st.Audit.Enabled {
		auditLog = audit.New(auditBuffer, audit.WithSlogHandler(logger.With("component", "audit")))
		srv.closers = append(srv.closers, auditLog)
	}

	store, err := openStore(ctx, st.Store.Path)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		srv.closers = append(srv.closers, c)
	}
	srv.provider = local.NewProvider(store)
	n, err := config.Seed(ctx, srv.provider, st.Users)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	if n > 0 {
		logger.Info("seeded users", "count", n)
	}

	codec, err := token.NewCodec(cfg.Secret, token.WithIssuer(cfg.Issuer), token.WithLogger(logger))
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	coord, err := auth.NewCoordinator(cfg.TokenLifetime,
		auth.WithBackend(srv.provider),
		auth.WithIssuer(codec),
		auth.WithLogger(logger),
		auth.WithMetrics(met),
		auth.WithAudit(auditLog),
	)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.cache = cache.New(cfg.CacheTTL, cache.WithMaxEntries(cfg.CacheMaxEntries), cache.WithMetrics(met))
	srv.limits = ratelimit.NewLimits(cfg.GeneralRateLimit, cfg.AuthRateLimit, ratelimit.WithMetrics(met))

	srv.client, err = authkit.NewClient(cfg,
		authkit.WithLogger(logger),
		authkit.WithTokenVerifier(auth.NewValidator(codec, srv.cache, auth.WithValidatorMetrics(met))),
		authkit.WithTokenIssuer(codec),
		authkit.WithAuthenticator(coord),
		authkit.WithRateLimiter(srv.limits),
	)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.router, err = newRouter(srv.client, st.HTTP.TrustedProxies, reg, auditLog)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	if st.Admin.Username != "" {
		master, err := local.NewMasterAuth(st.Admin.Username, st.Admin.PasswordHash)
		if err != nil {
			_ = srv.Close()
			return nil, err
		}
		mountAdmin(srv.router, srv.client, &admin{provider: srv.provider, master: master, audit: auditLog})
	}
	srv.grpc = newGRPCServer(srv.client)
	return srv, nil
}

func openStore(ctx context.Context, path string) (local.Store, error) {
	if path == "" {
		return local.NewMemoryStore(), nil
	}
	return local.OpenSQLite(ctx, path)
}

// newRouter builds the HTTP routes. Client addresses for rate limiting come
// from forwarding headers only when the peer is one of trustedProxies.
func newRouter(client *authkit.Client, trustedProxies []string, reg *prometheus.Registry, auditLog *audit.Logger) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("http trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	g := r.Group("/auth")
	g.POST("/login", auditRejected(auditLog), ginmw.RateLimit(client, authkit.LimitAuth), ginmw.LoginHandler(client))

	authed := g.Group("", ginmw.RateLimit(client, authkit.LimitGeneral), ginmw.Auth(client))
	authed.POST("/refresh", ginmw.RateLimit(client, authkit.LimitAuth), ginmw.RefreshHandler(client))
	authed.GET("/me", ginmw.MeHandler())
	return r, nil
}

// auditRejected records rate-limit rejections by the handlers after it.
func auditRejected(l *audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() == http.StatusTooManyRequests {
			l.LogContext(c.Request.Context(), audit.Event{
				Action:    audit.ActionRateLimited,
				Resource:  c.FullPath(),
				Result:    audit.ResultDenied,
				ClientKey: c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
			})
		}
	}
}

func newGRPCServer(client *authkit.Client) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcmw.UnaryRateLimit(client, authkit.LimitGeneral),
			grpcmw.UnaryAuth(client, grpcmw.WithExcludedMethods(
				healthpb.Health_Check_FullMethodName,
			)),
		),
		grpc.ChainStreamInterceptor(
			grpcmw.StreamRateLimit(client, authkit.LimitGeneral),
			grpcmw.StreamAuth(client, grpcmw.WithExcludedMethods(
				healthpb.Health_Watch_FullMethodName,
			)),
		),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

func runServe(ctx context.Context, st *config.Settings, logger *slog.Logger) error {
	srv, err := buildServer(ctx, st, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	var lis net.Listener
	if st.GRPC.Listen != "" {
		if lis, err = net.Listen("tcp", st.GRPC.Listen); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.cache.Run(ctx, sweepInterval)
		return nil
	})
	g.Go(func() error {
		srv.limits.Run(ctx, sweepInterval)
		return nil
	})

	httpServer := &http.Server{
		Addr:              st.HTTP.Listen,
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("http server listening", "addr", st.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if lis != nil {
		g.Go(func() error {
			logger.Info("grpc server listening", "addr", lis.Addr().String())
			return srv.grpc.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			srv.grpc.GracefulStop()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
