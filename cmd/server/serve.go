package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"community-events/internal/config"
	"community-events/internal/grpcstream"
	"community-events/internal/identity"
	idpostgres "community-events/internal/identity/postgres"
	"community-events/internal/kv"
	kvpostgres "community-events/internal/kv/postgres"
	kvredis "community-events/internal/kv/redis"
	"community-events/internal/kv/sqlite"
	"community-events/internal/middleware"
	"community-events/internal/session"
	"community-events/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "LOG_LEVEL")
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

// resources owns every connection opened for a run.
type resources struct {
	pool    *pgxpool.Pool
	closers []func()
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (r *resources) postgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if r.pool != nil {
		return r.pool, nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "error creating postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "error reaching postgres")
	}
	r.pool = pool
	r.closers = append(r.closers, pool.Close)
	return pool, nil
}

func (r *resources) backend(ctx context.Context, cfg *config.Config, log *zap.Logger) (kv.Backend, error) {
	switch cfg.KVDriver {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrap(err, "error reaching redis")
		}
		r.closers = append(r.closers, func() { client.Close() })
		log.Info("using redis storage", zap.String("addr", cfg.RedisAddr))
		return kvredis.NewStorage(client), nil

	case config.DriverPostgres:
		pool, err := r.postgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st := kvpostgres.NewStorage(pool)
		if err := st.Migrate(ctx); err != nil {
			return nil, err
		}
		log.Info("using postgres storage")
		return st, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() { st.Close() })
		log.Info("using sqlite storage", zap.String("path", cfg.SQLitePath))
		return st, nil
	}

	log.Warn("using in-memory storage, events are lost on restart")
	return kv.NewMemory(), nil
}

func (r *resources) moderators(ctx context.Context, cfg *config.Config) (identity.ModeratorLookup, error) {
	if cfg.ModeratorsDriver != config.ModeratorsPostgres {
		return identity.NewStaticModerators(cfg.Moderators...), nil
	}
	pool, err := r.postgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	mods := idpostgres.NewModeratorStore(pool)
	return mods, mods.Migrate(ctx)
}

func editModerator(ctx context.Context, cfg *config.Config, community, username string, add bool) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to manage moderators")
	}
	res := &resources{}
	defer res.close()

	pool, err := res.postgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	mods := idpostgres.NewModeratorStore(pool)
	if err := mods.Migrate(ctx); err != nil {
		return err
	}
	if add {
		return mods.Add(ctx, community, username)
	}
	return mods.Remove(ctx, community, username)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := &resources{}
	defer res.close()

	backend, err := res.backend(ctx, cfg, log)
	if err != nil {
		return err
	}
	mods, err := res.moderators(ctx, cfg)
	if err != nil {
		return err
	}

	sessions := &session.Factory{
		Backend:   backend,
		Identity:  &identity.ContextProvider{Moderators: mods},
		Community: cfg.Community,
		QueueSize: cfg.SessionQueue,
		Timeout:   cfg.StoreTimeout,
		Retries:   cfg.StoreRetries,
		Logger:    log,
	}

	rl := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go rl.Sweep(ctx)

	grpcSrv := grpc.NewServer(
		grpcstream.ServerOption(),
		grpc.ChainStreamInterceptor(
			middleware.StreamRateLimit(rl),
			middleware.StreamAuth(cfg.JWTSecret),
		),
	)
	grpcstream.NewServer(sessions, log.Named("grpc")).Register(grpcSrv)

	lis, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return errors.Wrap(err, "error listening for grpc")
	}

	httpSrv := &http.Server{
		Addr: ":" + cfg.WebPort,
		Handler: web.NewServer(sessions, web.Options{
			Secret:  cfg.JWTSecret,
			Limiter: rl,
			Origins: cfg.WebOrigins,
			Logger:  log.Named("web"),
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// websockets outlive Shutdown unless their contexts end with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("grpc listening", zap.String("port", cfg.Port))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		log.Info("http listening", zap.String("port", cfg.WebPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		err := httpSrv.Shutdown(sctx)
		select {
		case <-stopped:
		case <-sctx.Done():
			grpcSrv.Stop()
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
