package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	commonauth "halo_server/server/common/auth"
	"halo_server/server/common/infra/cache"
	"halo_server/server/common/infra/db"
	"halo_server/server/common/infra/docstore"
	"halo_server/server/common/infra/docstore/firestore"
	"halo_server/server/common/infra/docstore/memory"
	"halo_server/server/common/infra/docstore/mongo"
	"halo_server/server/common/infra/docstore/postgres"
	"halo_server/server/common/infra/mq"
	"halo_server/server/common/infra/object"
	commonlog "halo_server/server/common/log"
	"halo_server/server/common/metrics"
	"halo_server/server/common/middleware"
	"halo_server/server/halo/api"
	"halo_server/server/halo/repository"
	"halo_server/server/halo/service"
)

type Server struct {
	HTTPServer *http.Server
	Store      docstore.Store
	Redis      *redis.Client

	closers     []func() error
	stopLimiter chan struct{}
}

// NewServer dials every backing service named by cfg and wires the halo
// services behind the HTTP handler.
func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s := &Server{stopLimiter: make(chan struct{})}
	fail := func(err error) (*Server, error) {
		_ = s.closeAll()
		return nil, err
	}

	var feed docstore.ChangeFeed
	var guard service.SendGuard = service.NewLocalSendGuard()
	if cfg.RedisAddr != "" {
		s.Redis = cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		s.closers = append(s.closers, s.Redis.Close)
		if err := cache.Ping(ctx, s.Redis); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		feed = cache.NewChangeFeed(s.Redis)
		guard = cache.NewSendGuard(s.Redis)
	}

	store, err := openStore(ctx, cfg, feed)
	if err != nil {
		return fail(err)
	}
	s.Store = store
	s.closers = append(s.closers, store.Close)

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	publisher, err := s.openPublisher(cfg)
	if err != nil {
		return fail(err)
	}

	users := repository.NewUserRepository(store)
	agents := repository.NewAgentRepository(store)
	roomRepo := repository.NewRoomRepository(store)
	msgRepo := repository.NewMessageRepository(store)
	resolver := service.NewIdentityResolver(users, agents, store.InLimit())

	dir := service.NewDirectoryService(users, agents)
	rooms := service.NewRoomService(roomRepo, users, agents, resolver, store.InLimit(),
		service.WithRoomsPageSize(cfg.RoomsPageSize),
		service.WithRoomEvents(publisher))
	ledger := service.NewMessageLedger(msgRepo, roomRepo, blobs,
		service.WithSendGuard(guard),
		service.WithMessageEvents(publisher),
		service.WithThumbnails(cfg.Thumbnails))

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(s.stopLimiter)

	h := api.NewHandler(dir, rooms, ledger, commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes),
		api.WithMetrics(metrics.New("halo")),
		api.WithRateLimiter(limiter),
		api.WithReadiness(s.ready),
		api.WithDevTokens(cfg.DevTokens),
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithAllowedOrigins(cfg.WSAllowedOrigins),
	)
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	h.RegisterRoutes(r)

	// WriteTimeout stays zero: WebSocket streams hold the response open.
	s.HTTPServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	commonlog.Infof("event=halo_server_init status=ok docstore=%s blobs=%s events=%s redis=%t addr=%s",
		cfg.DocstoreDriver, cfg.BlobDriver, cfg.EventsDriver, s.Redis != nil, cfg.HTTPAddr)
	return s, nil
}

func openStore(ctx context.Context, cfg Config, feed docstore.ChangeFeed) (docstore.Store, error) {
	switch cfg.DocstoreDriver {
	case DriverMemory:
		return memory.New(memory.WithInLimit(cfg.QueryInLimit)), nil
	case DriverFirestore:
		return firestore.New(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile, cfg.QueryInLimit)
	case DriverMongo:
		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.QueryInLimit)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx, repository.UsersCollection, repository.AgentsCollection, repository.RoomsCollection, "messages"); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		if feed == nil {
			commonlog.Warnf("event=halo_server_init docstore=postgres status=degraded reason=no_redis_change_feed")
		}
		return postgres.New(pool, feed, cfg.QueryInLimit), nil
	default:
		return nil, fmt.Errorf("unknown DOCSTORE_DRIVER %q", cfg.DocstoreDriver)
	}
}

func openBlobs(ctx context.Context, cfg Config) (service.BlobStore, error) {
	switch cfg.BlobDriver {
	case BlobMemory:
		base := cfg.BlobPublicURL
		if base == "" {
			base = "http://localhost" + cfg.HTTPAddr + "/blobs"
		}
		return object.NewMemoryStore(base), nil
	case BlobMinio:
		client, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		if err := object.EnsureBucket(ctx, client, cfg.MinioBucket); err != nil {
			return nil, err
		}
		return object.NewMinioStore(client, cfg.MinioBucket, cfg.BlobPublicURL), nil
	case BlobS3:
		return object.NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket, cfg.BlobPublicURL)
	default:
		return nil, fmt.Errorf("unknown BLOB_DRIVER %q", cfg.BlobDriver)
	}
}

func (s *Server) openPublisher(cfg Config) (service.EventPublisher, error) {
	var next mq.Publisher
	switch cfg.EventsDriver {
	case EventsNone, "":
		return service.NopPublisher(), nil
	case EventsAMQP:
		conn, err := mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		s.closers = append(s.closers, conn.Close)
		pub, err := mq.NewAMQPPublisher(conn)
		if err != nil {
			return nil, fmt.Errorf("initialize amqp publisher: %w", err)
		}
		s.closers = append(s.closers, pub.Close)
		next = pub
	case EventsKafka:
		pub := mq.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		s.closers = append(s.closers, pub.Close)
		next = pub
	default:
		return nil, fmt.Errorf("unknown EVENTS_DRIVER %q", cfg.EventsDriver)
	}
	return mq.NewBreakerPublisher(next, mq.BreakerConfig{Name: "halo-events-" + cfg.EventsDriver, Timeout: cfg.BreakerTimeout}), nil
}

// ready checks the document store and Redis.
func (s *Server) ready(ctx context.Context) error {
	if _, err := s.Store.Get(ctx, docstore.Doc(repository.UsersCollection, "__ready__")); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("docstore: %w", err)
	}
	if s.Redis != nil {
		if err := cache.Ping(ctx, s.Redis); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// closeAll releases in reverse order of acquisition.
func (s *Server) closeAll() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopLimiter)
	err := s.HTTPServer.Shutdown(ctx)
	if cerr := s.closeAll(); err == nil {
		err = cerr
	}
	commonlog.Sync()
	return err
}
