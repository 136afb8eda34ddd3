package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"

	googleauth "docchat-backend/internal/auth"
	"docchat-backend/internal/chunking"
	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/extract"
	"docchat-backend/internal/ingestion"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/llm/gemini"
	"docchat-backend/internal/llm/local"
	openai "docchat-backend/internal/llm/openai"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/rag"
	"docchat-backend/internal/realtime"
	"docchat-backend/internal/retrieval"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/faults"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/server"
	"docchat-backend/internal/shared/server/health"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/storage/db"
	"docchat-backend/internal/shared/storage/object"
	localstore "docchat-backend/internal/shared/storage/object/local"
	s3store "docchat-backend/internal/shared/storage/object/s3"
	"docchat-backend/internal/uploads"
	"docchat-backend/internal/workerproc"
)

// App holds shared dependencies for the API, the workers and the Lambdas.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore

	// StorePrefix is the bucket prefix stripped from S3 notification keys.
	StorePrefix string

	Jobs            queue.Client
	JobsConsumer    queue.Consumer
	UploadsConsumer queue.Consumer

	// DevQueue is set when jobs run on the in-process queue.
	DevQueue *queue.MemoryQueue

	DocumentsRepo     documents.Repo
	ConversationsRepo conversations.Repo
	Chunks            retrieval.Store
	Registry          realtime.Registry
	Verifier          *auth.HS256

	Embedder  llm.Embedder
	Generator llm.Generator

	DocumentsService     *documents.Service
	ConversationsService *conversations.Service
	Machine              *ingestion.Machine
	Processor            *workerproc.Processor
	Engine               *rag.Engine
	Manager              *realtime.Manager
	Gateway              *realtime.Gateway
	Health               *health.Service

	closers []io.Closer
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, DB: sqlDB, Health: health.NewService()}
	if sqlDB != nil {
		app.closers = append(app.closers, sqlDB)
		app.Health.Register("database", db.Check(sqlDB, 2*time.Second))
		metrics.RegisterDBStats(sqlDB, "docchat")
	}

	if err := app.buildStore(ctx); err != nil {
		return nil, err
	}
	if err := app.buildQueues(ctx); err != nil {
		return nil, err
	}
	if err := app.buildModels(ctx); err != nil {
		return nil, err
	}

	verifier, err := auth.NewHS256FromEnv()
	if err != nil {
		return nil, err
	}
	app.Verifier = verifier

	app.buildServices()

	uploadsHandler, err := app.buildUploads(ctx)
	if err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:        cfg,
		Verifier:      verifier,
		Health:        app.Health,
		Documents:     documents.NewHandler(app.DocumentsService),
		Conversations: conversations.NewHandler(app.ConversationsService),
		Uploads:       uploadsHandler,
		GoogleAuth: googleauth.NewGoogleLogin(
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			cfg.GoogleRedirectURL,
			cfg.UIRedirectURL,
			verifier,
		),
		Gateway:     app.Gateway,
		RateLimiter: middleware.NewRateLimiter(nil),
	})

	return app, nil
}

// Close releases the database and model clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if a.DevQueue != nil {
		a.DevQueue.Close()
	}
	return errors.Join(errs...)
}

// JobsRunner polls the jobs queue and runs each job through the processor.
func (a *App) JobsRunner() *workerproc.Runner {
	return &workerproc.Runner{
		Name:            "jobs",
		Consumer:        a.JobsConsumer,
		Handle:          a.Processor.HandleDelivery,
		Concurrency:     a.Config.WorkerConcurrency,
		ShutdownTimeout: a.Config.ShutdownTimeout,
	}
}

// UploadsRunner polls the bucket notification queue and feeds each event to
// the ingestion machine. It is nil when no uploads queue is configured.
func (a *App) UploadsRunner() *workerproc.Runner {
	if a.UploadsConsumer == nil {
		return nil
	}
	return &workerproc.Runner{
		Name:     "uploads",
		Consumer: a.UploadsConsumer,
		Handle: func(ctx context.Context, d queue.Delivery) error {
			return a.Machine.HandleS3Message(ctx, a.StorePrefix, []byte(d.Body))
		},
		Concurrency:     a.Config.WorkerConcurrency,
		ShutdownTimeout: a.Config.ShutdownTimeout,
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
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
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func (a *App) buildStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.AWSRegion) == "" || strings.TrimSpace(cfg.S3Bucket) == "" {
			return fmt.Errorf("OBJECT_STORE=s3 requires AWS_REGION and S3_BUCKET")
		}
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return err
		}
		a.Store = store
		a.StorePrefix = store.Prefix()
	default:
		a.Store = localstore.New(cfg.LocalStoreDir)
	}
	return nil
}

func (a *App) buildQueues(ctx context.Context) error {
	cfg := a.Config
	if strings.TrimSpace(cfg.JobsQueueURL) == "" {
		if !cfg.IsDevLike() {
			return fmt.Errorf("JOBS_QUEUE_URL is required")
		}
		log.Printf("bootstrap: JOBS_QUEUE_URL empty; using in-process queue")
		mq := queue.NewMemoryQueue(cfg.VisibilityTimeout)
		a.DevQueue = mq
		a.Jobs = mq
		a.JobsConsumer = mq
	} else {
		jobs, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.JobsQueueURL, cfg.VisibilityTimeout)
		if err != nil {
			return err
		}
		a.Jobs = jobs
		a.JobsConsumer = jobs
	}

	if strings.TrimSpace(cfg.UploadsQueueURL) != "" {
		uploadsQueue, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.UploadsQueueURL, cfg.VisibilityTimeout)
		if err != nil {
			return err
		}
		a.UploadsConsumer = uploadsQueue
	}
	return nil
}

func (a *App) buildModels(ctx context.Context) error {
	cfg := a.Config
	switch cfg.LLMProvider {
	case "openai":
		client, err := openai.New(openai.Options{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.LLMBaseURL,
			Model:          cfg.LLMModel,
			EmbeddingModel: cfg.EmbeddingModel,
		})
		if err != nil {
			return err
		}
		a.Embedder, a.Generator = client, client
	case "gemini":
		client, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.LLMModel, cfg.EmbeddingModel)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client)
		a.Embedder, a.Generator = client, client
	default:
		a.Embedder = local.NewHashEmbedder(cfg.EmbeddingDimensions)
		a.Generator = local.ExtractiveGenerator{}
	}
	return nil
}

func (a *App) buildServices() {
	cfg := a.Config
	if a.DB != nil {
		a.DocumentsRepo = &documents.PGRepo{DB: a.DB}
		a.ConversationsRepo = &conversations.PGRepo{DB: a.DB}
		a.Chunks = &retrieval.PGStore{DB: a.DB}
		a.Registry = &realtime.PGRegistry{DB: a.DB}
	} else {
		a.DocumentsRepo = documents.NewMemoryRepo()
		a.ConversationsRepo = conversations.NewMemoryRepo()
		a.Chunks = retrieval.NewMemoryStore()
		a.Registry = realtime.NewMemoryRegistry()
	}

	retry := faults.DefaultBudget()
	if cfg.RetryAttempts > 0 {
		retry.Attempts = cfg.RetryAttempts
	}

	a.ConversationsService = &conversations.Service{
		Repo:      a.ConversationsRepo,
		Documents: a.DocumentsRepo,
	}
	a.DocumentsService = &documents.Service{
		Repo:          a.DocumentsRepo,
		Store:         a.Store,
		Conversations: a.ConversationsRepo,
		Chunks:        a.Chunks,
	}
	a.Machine = &ingestion.Machine{
		Documents:     a.DocumentsRepo,
		Conversations: a.ConversationsService,
		Jobs:          a.Jobs,
		Accept:        cfg.AcceptedSuffixes,
	}
	a.Processor = &workerproc.Processor{
		Documents:    a.DocumentsRepo,
		Machine:      a.Machine,
		Store:        a.Store,
		Extractor:    extract.Default{},
		Splitter:     chunking.ForStrategy(cfg.ChunkStrategy, chunking.WithChunkSize(cfg.ChunkSize), chunking.WithOverlap(cfg.ChunkOverlap)),
		Embedder:     a.Embedder,
		Chunks:       a.Chunks,
		FetchTimeout: cfg.FetchTimeout,
		EmbedTimeout: cfg.EmbedTimeout,
		Retry:        retry,
	}
	a.Engine = &rag.Engine{
		Documents:       a.DocumentsRepo,
		Conversations:   a.ConversationsService,
		Chunks:          a.Chunks,
		Embedder:        a.Embedder,
		Generator:       a.Generator,
		TopK:            cfg.RetrievalTopK,
		ContextBudget:   cfg.ContextBudgetChars,
		HistoryTurns:    cfg.HistoryTurns,
		SystemPrompt:    llm.DefaultSystemPrompt,
		Model:           cfg.LLMModel,
		EmbedTimeout:    cfg.EmbedTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
		Retry:           retry,
	}

	a.Manager = realtime.NewManager(a.Registry, a.Verifier, a.Engine)
	patterns, anyOrigin := realtime.OriginPatterns(cfg.WSAllowedOrigins)
	a.Gateway = realtime.NewGateway(a.Manager, a.Verifier, realtime.GatewayOptions{
		OriginPatterns: patterns,
		AnyOrigin:      anyOrigin,
		WriteTimeout:   cfg.WSWriteTimeout,
		RatePerSecond:  cfg.WSRatePerSecond,
		RateBurst:      cfg.WSRateBurst,
	})
}

// buildUploads wires direct uploads, plus presigned uploads when the
// artifact store is S3.
func (a *App) buildUploads(ctx context.Context) (*uploads.Handler, error) {
	cfg := a.Config
	var presign uploads.Presigner
	if cfg.ObjectStoreType == "s3" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		presign = s3.NewPresignClient(s3.NewFromConfig(awsCfg))
	}
	return uploads.NewHandler(a.Store, a.Machine, presign, cfg.S3Bucket, a.StorePrefix), nil
}
