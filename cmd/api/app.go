package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lostfound/auth"
	"lostfound/caption"
	"lostfound/config"
	"lostfound/db"
	"lostfound/events"
	"lostfound/intake"
	"lostfound/matching"
	"lostfound/report"
)

// App owns the process-wide resources behind the HTTP server.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	server *Server
	relay  *events.Relay
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, logger: logger, pool: pool}
	app.redis = app.connectRedis(ctx)

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, config.Duration(cfg.Auth.TokenTTL, auth.DefaultTTL))
	if err != nil {
		app.Close()
		return nil, err
	}

	captioner, err := app.buildCaptioner(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	repo := report.NewRepository(pool)
	writer := events.NewWriter()
	searcher := matching.NewSearcher(repo, matching.SearchOptions{
		Limit:    cfg.Matching.Limit,
		TextMode: matching.TextMode(cfg.Matching.TextMode),
		OpenOnly: cfg.Matching.OpenOnly,
	}).WithLogger(logger.Named("search"))

	linkOpts := matching.LinkOptions{
		Timeline:    writer,
		Outbox:      writer,
		Timeout:     config.Duration(cfg.Matching.ConfirmTimeout, matching.DefaultConfirmTimeout),
		LockTimeout: config.Duration(cfg.Matching.LockTimeout, matching.DefaultLockTimeout),
		Logger:      logger.Named("matching"),
	}

	intakeSvc := intake.NewService(pool, repo, searcher, writer, writer).
		WithLogger(logger.Named("intake"))
	if _, off := captioner.(caption.Disabled); !off {
		intakeSvc.WithCaptioner(captioner, config.Duration(cfg.Caption.Timeout, intake.DefaultCaptionTimeout))
	}

	app.server = &Server{
		intake:    intakeSvc,
		reports:   repo,
		searcher:  searcher,
		confirmer: matching.NewConfirmer(pool, repo, linkOpts),
		resolver:  matching.NewResolver(pool, repo, linkOpts),
		captioner: captioner,
		tokens:    tokens,
		health:    pool,
		logger:    logger,
		maxBody:   cfg.Server.MaxBodyBytes,
	}
	app.relay = app.buildRelay()
	return app, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnIdleTime: config.Duration(cfg.Database.MaxConnIdleTime, 0),
		MaxConnLifetime: config.Duration(cfg.Database.MaxConnLifetime, 0),
	})
}

// connectRedis returns nil when no address is configured or the server is
// unreachable; Redis only backs optional features.
func (a *App) connectRedis(ctx context.Context) *redis.Client {
	addr := a.cfg.Cache.RedisAddr
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		a.logger.Warn("redis unreachable, continuing without it", zap.String("addr", addr), zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}

// buildCaptioner returns caption.Disabled when no provider is configured.
func (a *App) buildCaptioner(ctx context.Context) (caption.Captioner, error) {
	cc := a.cfg.Caption
	var base caption.Captioner
	switch cc.Provider {
	case "":
		return caption.Disabled{}, nil
	case "gemini":
		g, err := caption.NewGemini(ctx, cc.APIKey, cc.Model)
		if err != nil {
			return nil, err
		}
		base = g
	case "huggingface":
		base = caption.NewHuggingFace(cc.Endpoint, cc.APIKey)
	default:
		return nil, fmt.Errorf("unknown caption provider %q", cc.Provider)
	}
	a.logger.Info("captioning enabled", zap.String("provider", cc.Provider))

	if a.redis == nil {
		return base, nil
	}
	ttl := config.Duration(a.cfg.Cache.TTL, 7*24*time.Hour)
	return caption.NewCached(base, caption.NewRedisCache(a.redis), ttl).WithLogger(a.logger.Named("caption")), nil
}

func (a *App) buildRelay() *events.Relay {
	oc := a.cfg.Outbox
	if !oc.Enabled {
		return nil
	}
	var pub events.Publisher = events.NewLogPublisher(a.logger.Named("outbox"))
	if a.redis != nil {
		pub = events.NewRedisPublisher(a.redis, oc.ChannelPrefix)
	}
	return events.NewRelay(a.pool, events.NewOutbox(), pub).
		WithInterval(config.Duration(oc.PollInterval, events.DefaultRelayInterval)).
		WithMaxAttempts(oc.MaxAttempts).
		WithLogger(a.logger.Named("relay"))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      a.server.Routes(),
		ReadTimeout:  config.Duration(a.cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(a.cfg.Server.WriteTimeout, 30*time.Second),
	}
	shutdownTimeout := config.Duration(a.cfg.Server.ShutdownTimeout, 10*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required (or set DATABASE_URL)")
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	names, err := db.Migrations()
	if err != nil {
		return err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("schema applied", zap.Strings("migrations", names))
	return nil
}

func issueToken(cfg *config.Config, userID string) (string, error) {
	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, config.Duration(cfg.Auth.TokenTTL, auth.DefaultTTL))
	if err != nil {
		return "", err
	}
	return tokens.Issue(userID)
}
