package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"fixflow/internal/auth"
	"fixflow/internal/config"
	"fixflow/internal/infrastructure"
	"fixflow/internal/license"
	"fixflow/internal/repository/pg"
	"fixflow/internal/security"
	transport "fixflow/internal/transport/http"
	"fixflow/internal/ws"
)

// App wires the trust and access core together and runs its loops
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	manager  *license.Manager
	hub      *ws.Hub
	server   *http.Server
	meter    *sdkmetric.MeterProvider
	throttle *auth.AttemptThrottle
}

// New builds the application from configuration
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)

	pool, err := pg.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	keys, err := security.NewDerivedKeyProvider([]byte(cfg.Security.MasterSecret))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create key provider: %w", err)
	}

	credRepo := pg.NewWebAuthnRepository(pool)
	ceremony, err := auth.NewWebAuthnCeremony(auth.WebAuthnConfig{
		RPDisplayName: cfg.Auth.Issuer,
		RPID:          cfg.Auth.RPID,
		RPOrigins:     []string{cfg.Auth.RPOrigin},
	}, credRepo, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	throttle := auth.NewAttemptThrottle(cfg.Auth.MaxLoginAttempts, cfg.Auth.LoginBlockWindow, cfg.Auth.LoginAttemptSpan)

	authService := auth.NewService(auth.ServiceDeps{
		Users:    pg.NewUserRepository(pool),
		Totp:     pg.NewTotpRepository(pool),
		Hasher:   auth.NewPasswordHasher(),
		Engine:   auth.NewTotpEngine(cfg.Auth.Issuer),
		Ceremony: ceremony,
		Tokens:   auth.NewPartialAuthTokenizer(keys, cfg.Auth.PartialAuthTTL),
		Sessions: auth.NewSessionIssuer(keys, cfg.Auth.Issuer, cfg.Auth.SessionTTL),
		Audit:    auth.NewAuditLogger(pg.NewAuditRepository(pool), logger),
		Throttle: throttle,
		Logger:   logger,
	})

	licenseMetrics, err := license.NewMetrics()
	if err != nil {
		pool.Close()
		return nil, err
	}
	manager := license.NewManager(
		pg.NewLicenseStore(pool),
		license.NewAuthorityClient(cfg.License.AuthorityURL, cfg.License.RequestTimeout, logger),
		security.NewFingerprintManager(),
		license.Config{
			GracePeriodDays:   cfg.License.GracePeriodDays,
			PhoneHomeInterval: cfg.License.PhoneHomeInterval,
		},
		licenseMetrics,
		logger,
	)

	hub := ws.NewHub(cfg.Security.AllowedOrigins, logger)
	manager.OnChange(hub.Broadcast)

	router := transport.NewRouter(transport.RouterDeps{
		Auth:    transport.NewAuthHandler(authService, logger),
		License: transport.NewLicenseHandler(manager, logger),
		Health:  transport.NewHealthHandler(pool, manager),
		WS:      hub,
		Logger:  logger,
		Rate:    cfg.Security.RateLimit,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		manager:  manager,
		hub:      hub,
		server:   server,
		meter:    meterProvider,
		throttle: throttle,
	}, nil
}

// Run starts the HTTP server and the phone-home scheduler, blocking
// until the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.manager.Load(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := a.manager.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) shutdown() error {
	a.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(ctx)
	a.hub.Close(ctx)
	a.throttle.Stop()
	if mErr := a.meter.Shutdown(ctx); err == nil {
		err = mErr
	}
	a.pool.Close()
	return err
}
