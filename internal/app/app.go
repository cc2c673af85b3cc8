package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/upload-backgrounder/internal/alert"
	"github.com/aliskhannn/upload-backgrounder/internal/api/handlers/document"
	"github.com/aliskhannn/upload-backgrounder/internal/api/router"
	"github.com/aliskhannn/upload-backgrounder/internal/api/server"
	"github.com/aliskhannn/upload-backgrounder/internal/backgrounder"
	"github.com/aliskhannn/upload-backgrounder/internal/config"
	"github.com/aliskhannn/upload-backgrounder/internal/dispatcher"
	"github.com/aliskhannn/upload-backgrounder/internal/infra/inproc"
	"github.com/aliskhannn/upload-backgrounder/internal/infra/kafka/consumer"
	"github.com/aliskhannn/upload-backgrounder/internal/infra/kafka/producer"
	"github.com/aliskhannn/upload-backgrounder/internal/infra/redis/stream"
	jobmsg "github.com/aliskhannn/upload-backgrounder/internal/kafka/handlers/job"
	"github.com/aliskhannn/upload-backgrounder/internal/migrate"
	"github.com/aliskhannn/upload-backgrounder/internal/model"
	"github.com/aliskhannn/upload-backgrounder/internal/policy"
	"github.com/aliskhannn/upload-backgrounder/internal/processor"
	"github.com/aliskhannn/upload-backgrounder/internal/repository/record"
	docsvc "github.com/aliskhannn/upload-backgrounder/internal/service/document"
	"github.com/aliskhannn/upload-backgrounder/internal/storage/file"
	"github.com/aliskhannn/upload-backgrounder/internal/storage/local"
	"github.com/aliskhannn/upload-backgrounder/internal/uploader"
	"github.com/aliskhannn/upload-backgrounder/internal/worker"
)

// ErrNoConsumer is returned when the configured backend has no standalone consumer.
var ErrNoConsumer = errors.New("backend has no standalone consumer")

// fileStorage is the storage shared by the uploader and the processor.
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// App holds the wired components shared by the API and worker processes.
type App struct {
	cfg      *config.Config
	strategy retry.Strategy

	db       *dbpg.DB
	records  *record.Repository
	uploader *uploader.Uploader
	policy   *policy.Policy
	worker   *worker.Worker
	reporter *alert.Reporter
	redis    redis.UniversalClient
	queue    *inproc.Queue

	closers []func() error
}

// New connects to the database and storage and configures the attachments.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	reporter, err := alert.New(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}

	if cfg.Database.Migrate {
		if err := migrate.Up(cfg.Database.Master.DSN(), migrate.Migrations); err != nil {
			return nil, err
		}
	}

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a := &App{
		cfg: cfg,
		strategy: retry.Strategy{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay,
			Backoff:  cfg.Retry.Backoff,
		},
		db:       db,
		reporter: reporter,
		policy:   policy.New(),
	}

	gdb, err := record.Open(db)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.records = record.NewRepository(gdb)
	if err := a.records.Register(&model.Document{}); err != nil {
		a.Close()
		return nil, err
	}

	fs, err := newFileStorage(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to storage: %w", err)
	}
	a.uploader = uploader.New(fs, processor.New(fs, processor.WithFontPath(cfg.Storage.FontPath)))

	if err := configureAttachments(cfg.Attachments, a.records, a.uploader, a.policy); err != nil {
		a.Close()
		return nil, err
	}

	a.worker = worker.New(a.records, a.uploader)

	if cfg.Backend.Kind == config.BackendRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
	}

	return a, nil
}

func newFileStorage(ctx context.Context, cfg config.Storage) (fileStorage, error) {
	if cfg.Kind == config.StorageMinio {
		return file.NewStorage(ctx, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.BucketName, cfg.UseSSL)
	}

	return local.NewStorage(cfg.LocalPath), nil
}

// newDispatcher builds the dispatcher for the configured backend.
func (a *App) newDispatcher() (*dispatcher.Dispatcher, error) {
	kind := a.cfg.Backend.Kind
	timeout := dispatcher.WithTimeout(a.cfg.Backend.EnqueueTimeout)

	switch kind {
	case config.BackendKafka:
		p := producer.New(&a.cfg.Kafka, a.strategy)
		a.closers = append(a.closers, p.Client.Close)
		return dispatcher.New(p, kind, timeout), nil
	case config.BackendRedis:
		return dispatcher.New(stream.NewProducer(a.redis, &a.cfg.Redis), kind, timeout), nil
	case config.BackendInProc:
		a.queue = inproc.New(a.worker, a.reporter,
			inproc.WithWorkers(a.cfg.Worker.Concurrency),
			inproc.WithQueueSize(a.cfg.Worker.QueueSize),
			inproc.WithJobTimeout(a.cfg.Worker.JobTimeout),
			inproc.WithRetry(a.strategy),
		)
		return dispatcher.New(a.queue, kind, timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

// startConsumer runs the consumer of the configured backend until ctx is done.
func (a *App) startConsumer(ctx context.Context, wg *sync.WaitGroup) error {
	switch a.cfg.Backend.Kind {
	case config.BackendKafka:
		h := jobmsg.NewHandler(a.worker, a.reporter, a.strategy)
		c := consumer.New(&a.cfg.Kafka, a.strategy, h)
		a.closers = append(a.closers, c.Client.Close)

		wg.Add(1)
		go c.Consume(ctx, wg)
	case config.BackendRedis:
		c := stream.NewConsumer(a.redis, &a.cfg.Redis, a.worker, a.reporter)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				zlog.Logger.Err(err).Msg("stream consumer stopped")
			}
		}()
	default:
		return fmt.Errorf("%w: %s", ErrNoConsumer, a.cfg.Backend.Kind)
	}

	return nil
}

// RunAPI serves the HTTP API and consumes jobs until ctx is canceled.
func (a *App) RunAPI(ctx context.Context) error {
	d, err := a.newDispatcher()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if a.queue == nil {
		if err := a.startConsumer(ctx, &wg); err != nil {
			return err
		}
	}

	b := backgrounder.New(a.policy, d, a.uploader, a.records)
	service := docsvc.NewService(b, a.records, a.uploader)
	r := router.Setup(document.NewHandler(service))
	s := server.New(a.cfg.Server.HTTPPort, r)

	go func() {
		zlog.Logger.Info().Str("addr", a.cfg.Server.HTTPPort).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if a.queue != nil {
		a.queue.Shutdown(shutdownCtx)
	}
	wg.Wait()

	return nil
}

// RunWorker consumes jobs until ctx is canceled.
func (a *App) RunWorker(ctx context.Context) error {
	var wg sync.WaitGroup
	if err := a.startConsumer(ctx, &wg); err != nil {
		return err
	}

	<-ctx.Done()
	zlog.Logger.Info().Msg("context done, waiting for consumer")
	wg.Wait()

	return nil
}

// Close releases connections and flushes pending error reports.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close client")
		}
	}

	// Close master and slave databases.
	if err := a.db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, s := range a.db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	a.reporter.Flush(2 * time.Second)
}
