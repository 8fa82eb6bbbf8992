package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/trivia/internal/api"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/game"
	"github.com/victornm/trivia/internal/gateway"
	"github.com/victornm/trivia/internal/leaderboard"
	"github.com/victornm/trivia/internal/questionset"
	"github.com/victornm/trivia/internal/registry"
	"github.com/victornm/trivia/internal/results"
	"github.com/victornm/trivia/internal/telemetry"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log telemetry.LogConfig

	Redis struct {
		Registry    RedisConfig
		Leaderboard RedisConfig
		Pubsub      RedisConfig
		Gateway     RedisConfig
	}

	Postgres struct {
		Questions PostgresConfig
		Results   PostgresConfig
	}

	QuestionSets struct {
		// Driver is postgres or file.
		Driver string
		File   string
	}

	Registry struct {
		// Driver is memory or redis.
		Driver string
		TTL    time.Duration
	}

	Leaderboard struct {
		TTL time.Duration
	}

	Game game.Settings
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			registry    redis.UniversalClient
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
			gateway     redis.UniversalClient
		}

		postgres struct {
			questions *pgxpool.Pool
			results   *pgxpool.Pool
		}
	}

	service struct {
		gateway     *gateway.Redis
		registry    registry.Registry
		questions   questionset.Store
		games       *game.Controller
		leaderboard *leaderboard.Service
		results     *results.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	ctx  context.Context
	stop context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.ctx, s.stop = context.WithCancel(context.Background())
	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, c RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(name, r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	if s.c.Registry.Driver == DriverRedis {
		s.infra.redis.registry, err = connect("registry", s.c.Redis.Registry)
		if err != nil {
			return fmt.Errorf("registry: %w", err)
		}
	}

	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	s.infra.redis.gateway, err = connect("gateway", s.c.Redis.Gateway)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(c PostgresConfig) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	if s.c.QuestionSets.Driver != DriverFile {
		s.infra.postgres.questions, err = connect(s.c.Postgres.Questions)
		if err != nil {
			return fmt.Errorf("questions: %w", err)
		}
	}

	s.infra.postgres.results, err = connect(s.c.Postgres.Results)
	if err != nil {
		return fmt.Errorf("results: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	switch s.c.QuestionSets.Driver {
	case DriverFile:
		f, err := questionset.LoadFile(s.c.QuestionSets.File)
		if err != nil {
			return fmt.Errorf("question sets: %w", err)
		}
		s.service.questions = f
	default:
		s.service.questions = questionset.NewPostgres(questionset.PostgresConfig{
			DB: s.infra.postgres.questions,
		})
	}

	var lease time.Duration
	switch s.c.Registry.Driver {
	case DriverRedis:
		r := registry.NewRedis(registry.RedisConfig{
			Redis:  s.infra.redis.registry,
			Prefix: s.c.Redis.Registry.Prefix,
			TTL:    s.c.Registry.TTL,
		})
		s.service.registry, lease = r, r.LeaseInterval()
	default:
		s.service.registry = registry.NewMemory()
	}

	s.service.gateway = gateway.NewRedis(gateway.RedisConfig{
		Redis:  s.infra.redis.gateway,
		Prefix: s.c.Redis.Gateway.Prefix,
	})

	s.service.games = game.NewController(game.Config{
		Gateway:       s.service.gateway,
		Registry:      s.service.registry,
		LeaseInterval: lease,
		Questions:     s.service.questions,
		EventBus:      s.eb,
		Settings:      s.c.Game,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
		TTL:      s.c.Leaderboard.TTL,
	})

	s.service.results = results.NewService(results.Config{
		DB:       s.infra.postgres.results,
		EventBus: s.eb,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Games:        s.service.games,
		Leaderboard:  s.service.leaderboard,
		Questions:    s.service.questions,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := s.ctx

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, "server: gateway bridge started")
		if err := s.service.gateway.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		select {
		case <-s.service.gateway.Ready():
			s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		case <-ctx.Done():
		}
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.health.Shutdown()

	// Sessions post their final notices through the gateway, so they end before it stops.
	if err := s.service.games.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown games failed", "error", err)
	}

	s.stop()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.close()

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) close() {
	for _, r := range []redis.UniversalClient{
		s.infra.redis.registry,
		s.infra.redis.leaderboard,
		s.infra.redis.pubsub,
		s.infra.redis.gateway,
	} {
		if r != nil {
			_ = r.Close()
		}
	}

	for _, db := range []*pgxpool.Pool{s.infra.postgres.questions, s.infra.postgres.results} {
		if db != nil {
			db.Close()
		}
	}
}
