package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/novatest/internal/api"
	"github.com/victornm/novatest/internal/catalog"
	"github.com/victornm/novatest/internal/config"
	"github.com/victornm/novatest/internal/event"
	"github.com/victornm/novatest/internal/food"
	"github.com/victornm/novatest/internal/genai"
	"github.com/victornm/novatest/internal/purchase"
	"github.com/victornm/novatest/internal/quiz"
	"github.com/victornm/novatest/internal/report"
	"github.com/victornm/novatest/internal/session"
	"github.com/victornm/novatest/internal/storage"
	"github.com/victornm/novatest/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log config.Log

	Storage struct {
		// Driver is one of memory, redis, postgres.
		Driver string
		Prefix string
		// TTL of records in Redis, zero keeps them forever.
		TTL time.Duration
	}

	Redis struct {
		Addrs []string
		Pass  string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Pubsub struct {
		Enabled bool
		Prefix  string
	}

	Auth struct {
		Secret string
		TTL    time.Duration
	}

	GenAI struct {
		APIKey  string
		BaseURL string
		Model   string
		Timeout time.Duration
	}

	Catalog struct {
		// Path of a catalog file replacing the built-in one.
		Path string
	}
}

// DefaultConfig is the configuration used for every key missing from the file and environment.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Storage.Driver = storage.DriverMemory
	c.Storage.Prefix = "nova"
	c.Pubsub.Prefix = "nova"
	c.GenAI.Model = "gemini-2.5-flash"
	c.GenAI.Timeout = 60 * time.Second
	return c
}

type Server struct {
	c Config

	eb      *event.Bus
	catalog *catalog.Catalog
	storage storage.Storage

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		sessions *session.Manager
		purchase *purchase.Service
		quiz     *quiz.Service
		report   *report.Service
		food     *food.Service
	}

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initCatalog(); err != nil {
		return nil, fmt.Errorf("server: init catalog: %w", err)
	}

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	telemetry.NewMetrics(prometheus.DefaultRegisterer).Subscribe(s.eb)

	s.initService()

	if err := s.initAPI(); err != nil {
		return nil, fmt.Errorf("server: init api: %w", err)
	}
	return s, nil
}

func (s *Server) initCatalog() error {
	if s.c.Catalog.Path == "" {
		c, err := catalog.Default()
		if err != nil {
			return err
		}
		s.catalog = c
		return nil
	}

	f, err := os.Open(s.c.Catalog.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	c, err := catalog.Load(f)
	if err != nil {
		return err
	}
	s.catalog = c
	return nil
}

func (s *Server) initInfra() error {
	needRedis := s.c.Storage.Driver == storage.DriverRedis || s.c.Pubsub.Enabled
	if needRedis {
		if err := s.initRedis(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	switch s.c.Storage.Driver {
	case storage.DriverMemory, "":
		s.storage = storage.NewMemory()

	case storage.DriverRedis:
		s.storage = storage.NewRedis(s.infra.redis, s.c.Storage.TTL)

	case storage.DriverPostgres:
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pg := storage.NewPostgres(s.infra.postgres)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		s.storage = pg

	default:
		return fmt.Errorf("unknown storage driver %q", s.c.Storage.Driver)
	}

	slog.Info("server: storage ready", "driver", s.c.Storage.Driver)
	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.sessions = session.NewManager(session.ManagerConfig{
		Storage:  s.storage,
		EventBus: s.eb,
		Prefix:   s.c.Storage.Prefix,
	})

	s.service.purchase = purchase.NewService(purchase.Config{
		Catalog:  s.catalog,
		EventBus: s.eb,
	})

	s.service.quiz = quiz.NewService(quiz.Config{
		Catalog:  s.catalog,
		Purchase: s.service.purchase,
	})

	gen := genai.NewClient(genai.Options{
		APIKey:     s.c.GenAI.APIKey,
		BaseURL:    s.c.GenAI.BaseURL,
		Model:      s.c.GenAI.Model,
		HTTPClient: &http.Client{Timeout: s.c.GenAI.Timeout},
	})
	if s.c.GenAI.APIKey == "" {
		slog.Warn("server: genai api key not set, every report will be the fallback report")
	}

	s.service.report = report.NewService(report.Config{
		Generator: gen,
		Catalog:   s.catalog,
		EventBus:  s.eb,
	})

	s.service.food = food.NewService(food.Config{
		Analyzer: s.service.report,
		EventBus: s.eb,
	})
}

func (s *Server) initAPI() error {
	secret := []byte(s.c.Auth.Secret)
	if len(secret) == 0 {
		// Tokens then only survive as long as the process.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate token secret: %w", err)
		}
		slog.Warn("server: auth secret not set, using a random one")
	}

	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	cfg := api.Config{
		HTTP:         e,
		GRPC:         s.grpc,
		EventBus:     s.eb,
		Sessions:     s.service.sessions,
		Catalog:      s.catalog,
		Purchase:     s.service.purchase,
		Quiz:         s.service.quiz,
		Report:       s.service.report,
		Food:         s.service.food,
		TokenSecret:  secret,
		TokenTTL:     s.c.Auth.TTL,
		PubsubPrefix: s.c.Pubsub.Prefix,
	}
	if s.c.Pubsub.Enabled {
		cfg.Redis = s.infra.redis
	}
	api.New(cfg)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	return nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) healthz(c *gin.Context) {
	ctx := c.Request.Context()

	if s.infra.redis != nil {
		if err := s.infra.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
	}
	if s.infra.postgres != nil {
		if err := s.infra.postgres.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "postgres unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
