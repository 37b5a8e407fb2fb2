// Package bootstrap wires the application components together and
// manages their lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"argus/batch"
	"argus/config"
	"argus/core"
	"argus/deliver"
	"argus/detect"
	"argus/ingest"
	"argus/ml"
	"argus/service"
	"argus/storage"
)

// App holds every component of the sensor pipeline.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Store     *storage.ThreatStore
	Retention *storage.RetentionManager
	Redis     *core.RedisCache

	Tail    *ingest.TailReader
	Watcher *ingest.Watcher

	Classifier *detect.Classifier
	Assessor   ml.Assessor

	Sink        *deliver.SinkClient
	Engine      *deliver.Engine
	Sweeper     *deliver.Sweeper
	Coordinator *batch.Coordinator

	Pipeline *service.Pipeline

	metricsServer *http.Server
	serviceWg     sync.WaitGroup
	cancel        context.CancelFunc
}

// NewApp creates an application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus sensor pipeline starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initIngest(); err != nil {
		return nil, err
	}
	if err := app.initClassification(); err != nil {
		return nil, err
	}
	if err := app.initDelivery(); err != nil {
		return nil, err
	}
	app.initBatch()

	app.Pipeline = service.NewPipeline(
		app.Tail, app.Watcher, app.Classifier, app.Assessor,
		app.Store, app.Engine,
		service.Options{
			PollInterval: cfg.Log.PollInterval,
			BatchEnabled: cfg.Batch.Enabled,
			BatchSize:    cfg.Batch.Size,
		},
		sugar,
	)

	return app, nil
}

func (a *App) initStorage() error {
	store, err := storage.NewThreatStore(a.Config.Storage.Path, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to initialize threat store: %w", err)
	}
	a.Store = store
	a.Retention = storage.NewRetentionManager(store, a.Config.Storage.RetentionDays, a.Sugar)
	return nil
}

func (a *App) initIngest() error {
	a.Tail = ingest.NewTailReader(a.Config.Log.Path, a.Sugar)

	if a.Config.Log.Watch {
		watcher, err := ingest.NewWatcher(a.Config.Log.Path, a.Sugar)
		if err != nil {
			// The poll ticker still covers ingestion without events.
			a.Sugar.Warnf("Filesystem watch unavailable, relying on polling: %v", err)
			return nil
		}
		a.Watcher = watcher
	}
	return nil
}

func (a *App) initClassification() error {
	if a.Config.Detect.MappingFile != "" {
		classifier, err := detect.NewClassifierFromFile(a.Config.Detect.MappingFile, a.Sugar)
		if err != nil {
			return fmt.Errorf("failed to load behavior mappings: %w", err)
		}
		a.Classifier = classifier
	} else {
		a.Classifier = detect.NewClassifier(a.Sugar)
	}

	assessor, err := ml.BuildAssessor(
		a.Config.Oracle.Enabled,
		a.Config.Oracle.URL,
		a.Config.Oracle.Timeout,
		a.Config.Oracle.CacheSize,
		a.Sugar,
	)
	if err != nil {
		return fmt.Errorf("failed to build assessor: %w", err)
	}
	a.Assessor = assessor
	return nil
}

func (a *App) initDelivery() error {
	sink, err := deliver.NewSinkClient(
		a.Config.Sink.URL,
		a.Config.SinkBatchURL(),
		a.Config.Sink.Timeout,
		float64(a.Config.Sink.RateLimit),
		a.Sugar,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize sink client: %w", err)
	}
	a.Sink = sink
	a.Engine = deliver.NewEngine(a.Store, sink, a.Sugar)

	if a.Config.Retry.Enabled {
		a.Sweeper = deliver.NewSweeper(a.Store, a.Engine, deliver.RetryConfig{
			Interval:  a.Config.Retry.Interval,
			Limit:     a.Config.Retry.Limit,
			Delay:     a.Config.Retry.Delay,
			SweepSize: a.Config.Retry.SweepSize,
		}, a.Sugar)
	}
	return nil
}

func (a *App) initBatch() {
	if a.Config.Jobs.Redis.Enabled {
		a.Redis = core.NewRedisCache(
			a.Config.Jobs.Redis.Addr,
			a.Config.Jobs.Redis.Password,
			a.Config.Jobs.Redis.DB,
			a.Config.Jobs.Redis.PoolSize,
			a.Sugar,
		)
	}
	jobs := batch.NewJobStore(a.Redis, a.Config.Jobs.TTL, a.Sugar)
	a.Coordinator = batch.NewCoordinator(a.Store, a.Engine, a.Classifier, a.Assessor, jobs, a.Sugar)
}

// Start launches the pipeline, the retry sweeper, retention, and the
// metrics listener.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		a.Pipeline.Run(runCtx)
	}()

	if a.Sweeper != nil {
		a.serviceWg.Add(1)
		go func() {
			defer a.serviceWg.Done()
			a.Sweeper.Run(runCtx)
		}()
	}

	a.Retention.Start()

	if a.Config.Metrics.Enabled {
		a.startMetricsServer()
	}

	a.Sugar.Infow("All services started",
		"log_path", a.Config.Log.Path,
		"sink_url", a.Config.Sink.URL,
		"retry_enabled", a.Config.Retry.Enabled)
	return nil
}

func (a *App) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	a.metricsServer = &http.Server{
		Addr:              a.Config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Sugar.Infof("Metrics listener on %s", a.Config.Metrics.Addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorf("Metrics listener failed: %v", err)
		}
	}()
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully stops all components in dependency order.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}
	a.serviceWg.Wait()

	if a.Watcher != nil {
		a.Watcher.Close()
	}
	a.Retention.Stop()

	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.Sugar.Errorf("Metrics listener shutdown failed: %v", err)
		}
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Sugar.Errorf("Redis close failed: %v", err)
		}
	}

	if err := a.Store.Close(); err != nil {
		a.Sugar.Errorf("Store close failed: %v", err)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
