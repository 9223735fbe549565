package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"cvsearch-backend/internal/documents"
	"cvsearch-backend/internal/extract"
	"cvsearch-backend/internal/ingest"
	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/services/health"
	"cvsearch-backend/internal/shared/config"
	"cvsearch-backend/internal/shared/server"
	"cvsearch-backend/internal/shared/server/middleware"
	"cvsearch-backend/internal/shared/storage/db"
	"cvsearch-backend/internal/shared/storage/object"
	localstore "cvsearch-backend/internal/shared/storage/object/local"
	miniostore "cvsearch-backend/internal/shared/storage/object/minio"
	s3store "cvsearch-backend/internal/shared/storage/object/s3"
	"cvsearch-backend/internal/uploads"
	"cvsearch-backend/internal/workerproc"
)

const memoryQueueCapacity = 1024

// App holds shared dependencies for the API, the workers and the lambdas.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Blobs            object.BlobStore
	Documents        documents.Store
	DocumentsService *documents.Service
	Queue            queue.Backend
	Publisher        *queue.Publisher
	Extractor        extract.Extractor
	Processor        *ingest.Processor
	Failures         ingest.FailureStore
	UploadsService   *uploads.Service
	Health           *health.Service

	closers []func() error
}

// Build prepares every dependency and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	app := &App{Config: cfg}

	if err := app.buildPersistence(ctx); err != nil {
		app.Close()
		return nil, err
	}

	blobs, err := buildStore(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Blobs = blobs

	backend, err := buildQueue(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Queue = backend
	if closer, ok := backend.(interface{ Close() error }); ok {
		app.closers = append(app.closers, closer.Close)
	}
	if err := checkMemoryDocuments(cfg.Env, app.Documents, backend); err != nil {
		app.Close()
		return nil, err
	}

	app.Publisher = queue.NewPublisher(backend)
	app.Extractor = extract.New(cfg.Extractor, cfg.ExtractTimeout)
	app.Processor = &ingest.Processor{
		Blobs:        app.Blobs,
		Extractor:    app.Extractor,
		Store:        app.Documents,
		Failures:     app.Failures,
		MaxAttempts:  cfg.IngestMaxAttempts,
		BaseDelay:    cfg.IngestRetryBase,
		DeleteBlobs:  cfg.BlobRetention == "delete",
		DefaultTitle: cfg.DefaultDocumentTitle,
	}
	app.DocumentsService = &documents.Service{Repo: app.Documents}
	app.UploadsService = uploads.NewService(app.Blobs, app.Publisher, cfg.UploadMaxKB)

	app.Health = health.NewService()
	if app.DB != nil {
		app.Health.Register("database", app.DB.PingContext)
	}
	if p, ok := backend.(interface{ Ping(context.Context) error }); ok {
		app.Health.Register("queue", p.Ping)
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		DocumentHandler: documents.NewHandler(app.DocumentsService),
		UploadHandler:   uploads.NewHandler(app.UploadsService),
		IngestHandler:   ingest.NewHandler(app.Failures, cfg.OpsToken),
		Health:          app.Health,
		RateLimiter:     middleware.NewRateLimiter(nil),
	})

	return app, nil
}

// NewPool builds a worker pool that consumes the app's queue.
func (a *App) NewPool(name string) *workerproc.Pool {
	return &workerproc.Pool{
		Consumer:        a.Queue,
		Processor:       a.Processor,
		Concurrency:     a.Config.WorkerConcurrency,
		ShutdownTimeout: a.Config.ShutdownTimeout,
		Name:            name,
		Failures:        a.Failures,
	}
}

// InProcessWorkers reports whether tasks must be consumed by the API
// process itself because the queue lives in its memory.
func (a *App) InProcessWorkers() bool {
	_, ok := a.Queue.(*queue.MemoryQueue)
	return ok
}

// Close releases database and queue connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildPersistence(ctx context.Context) error {
	switch a.Config.DocumentStore {
	case "postgres":
		sqlDB, err := buildPostgres(ctx, a.Config)
		if err != nil {
			return err
		}
		if sqlDB == nil {
			a.useMemoryPersistence()
			return nil
		}
		a.DB = sqlDB
		if !db.IsLambdaRuntime() {
			a.closers = append(a.closers, sqlDB.Close)
		}
		a.Documents = &documents.PGRepo{DB: sqlDB}
		a.Failures = ingest.NewPGFailureStore(sqlDB)
		return nil
	case "sqlite":
		sqlDB, err := openSQLite(ctx, a.Config.SQLitePath)
		if err != nil {
			return err
		}
		a.DB = sqlDB
		a.closers = append(a.closers, sqlDB.Close)
		repo, err := documents.NewSQLiteRepo(ctx, sqlDB)
		if err != nil {
			return err
		}
		failures, err := ingest.NewSQLiteFailureStore(ctx, sqlDB)
		if err != nil {
			return err
		}
		a.Documents = repo
		a.Failures = failures
		return nil
	default:
		a.useMemoryPersistence()
		return nil
	}
}

func (a *App) useMemoryPersistence() {
	a.Documents = documents.NewMemoryRepo()
	a.Failures = ingest.NewMemoryFailureStore()
}

func buildPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions(cfg.WorkerConcurrency))
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if isDevLike(cfg.Env) {
		if err := migrate(ctx, sqlDB, db.RunMigrations, db.IsLambdaRuntime()); err != nil {
			return nil, err
		}
	}
	return sqlDB, nil
}

// migrate applies run to sqlDB and closes it on failure, unless the handle is
// the shared Lambda connection.
func migrate(ctx context.Context, sqlDB *sql.DB, run func(context.Context, *sql.DB) error, shared bool) error {
	if err := run(ctx, sqlDB); err != nil {
		if !shared {
			_ = sqlDB.Close()
		}
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// checkMemoryDocuments rejects an in-memory document store outside dev, and
// whenever tasks may be consumed by another process that could not see it.
func checkMemoryDocuments(env string, store documents.Store, backend queue.Backend) error {
	if _, ok := store.(*documents.MemoryRepo); !ok {
		return nil
	}
	if !isDevLike(env) {
		return fmt.Errorf("in-memory document store is not allowed in env %q; set DOCUMENT_STORE to postgres or sqlite", env)
	}
	if _, ok := backend.(*queue.MemoryQueue); !ok {
		return fmt.Errorf("in-memory document store requires QUEUE_BACKEND=memory; out-of-process workers would persist elsewhere")
	}
	return nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	return db.OpenSQLite(ctx, path)
}

func buildStore(ctx context.Context, cfg config.Config) (object.BlobStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "minio":
		return miniostore.New(ctx, miniostore.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Backend, error) {
	switch cfg.QueueBackend {
	case "sqs":
		if strings.TrimSpace(cfg.SQSQueueURL) == "" {
			return nil, fmt.Errorf("QUEUE_BACKEND=sqs requires SQS_QUEUE_URL")
		}
		return queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	case "redis":
		q, err := queue.NewRedisQueue(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisQueueKey)
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: redis unavailable; using in-memory queue: %v", err)
				return queue.NewMemoryQueue(memoryQueueCapacity), nil
			}
			return nil, err
		}
		return q, nil
	default:
		return queue.NewMemoryQueue(memoryQueueCapacity), nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local", "test":
		return true
	default:
		return false
	}
}
