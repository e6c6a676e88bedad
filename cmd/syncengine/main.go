// Command syncengine wires config, logging, metrics, the relational
// store, ledger, DAG, orchestrator, scheduler, and the progress SSE
// surface together into one runnable process. Grounded on the teacher's
// infrastructure/service runner factory pattern: one function builds
// every dependency in order, then starts the long-running pieces.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncforge/core/internal/config"
	"github.com/syncforge/core/internal/dag"
	"github.com/syncforge/core/internal/destination"
	"github.com/syncforge/core/internal/destination/memdest"
	"github.com/syncforge/core/internal/entity"
	"github.com/syncforge/core/internal/ledger"
	"github.com/syncforge/core/internal/ledger/memledger"
	"github.com/syncforge/core/internal/ledger/pgledger"
	"github.com/syncforge/core/internal/logging"
	"github.com/syncforge/core/internal/metrics"
	"github.com/syncforge/core/internal/orchestrator"
	"github.com/syncforge/core/internal/progress"
	"github.com/syncforge/core/internal/progress/sse"
	"github.com/syncforge/core/internal/scheduler"
	"github.com/syncforge/core/internal/source"
	"github.com/syncforge/core/internal/source/filesource"
	"github.com/syncforge/core/internal/store/migrations"
	"github.com/syncforge/core/internal/store/postgres"
	"github.com/syncforge/core/internal/transform"
	"github.com/syncforge/core/internal/transform/filechunker"
	"github.com/syncforge/core/internal/transform/sparseembedder"
)

func main() {
	log := logging.NewFromEnv("syncengine")

	cfg, err := config.Load(os.Getenv("SYNCENGINE_CONFIG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	m := metrics.New()

	var ledg ledger.Ledger
	var store *postgres.Store
	if cfg.Database.DSN != "" {
		db, err := postgres.Open(cfg.Database)
		if err != nil {
			log.WithError(err).Fatal("failed to open database")
		}
		defer db.Close()

		if cfg.Database.MigrateOnStart {
			if err := migrations.Apply(cfg.Database.DSN); err != nil {
				log.WithError(err).Fatal("failed to apply migrations")
			}
		}

		ledg = pgledger.New(db)
		store = postgres.New(db)
	} else {
		log.Warn("no DATABASE_DSN configured; using in-memory ledger and store (dev/test mode only)")
		ledg = memledger.New()
	}

	var progressBus progress.Bus = progress.NewLocalBus()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		progressBus = progress.NewRedisBus(redisClient)
	}

	sourceRegistry := registerSources()
	transformRegistry := registerTransforms()
	dagSpec := buildDAGSpec()

	syncDAG, err := dag.Build(dagSpec, transformRegistry)
	if err != nil {
		log.WithError(err).Fatal("invalid sync dag")
	}

	orch := orchestrator.New(cfg.Orchestrator, log, m)

	sched := scheduler.New(
		scheduler.Config{MinIntervalContinuous: cfg.Scheduler.MinIntervalContinuous, MinInterval: cfg.Scheduler.MinInterval},
		log,
		func(ctx context.Context, connectionID string) {
			runScheduledSync(ctx, orch, syncDAG, sourceRegistry, ledg, connectionID, log, progressBus, store)
		},
	)

	if store != nil {
		loadScheduleFromStore(context.Background(), store, sched, log)
	}
	sched.Start()
	defer sched.Stop(context.Background())

	router := mux.NewRouter()
	sse.NewHandler(progressBus, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         ":8080",
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams hold the connection open
	}

	go func() {
		log.Infof("syncengine HTTP surface listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	waitForShutdown(log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error during http server shutdown")
	}
}

func waitForShutdown(log *logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("received signal %s, shutting down", sig)
}

// registerSources registers every source connector available in this
// build. Real deployments would register SaaS-specific connectors here;
// filesource is the one reference connector shipped with the engine
// itself.
func registerSources() *source.Registry {
	registry := source.NewRegistry()
	registry.Register(source.Descriptor{
		ShortName:          "filesource",
		SupportsContinuous: false,
		KindDescriptors: []entity.KindDescriptor{
			{Kind: filesource.FileKind, ContentFields: []string{"content", "path"}, RequiresEmbeddableText: true},
		},
		New: func() source.Connector {
			return filesource.New(filesource.Config{FS: os.DirFS("."), Root: "."})
		},
	})
	return registry
}

func registerTransforms() *transform.Registry {
	registry := transform.NewRegistry()
	registry.Register(transform.Descriptor{ShortName: "filechunker", New: filechunker.New})
	registry.Register(transform.Descriptor{ShortName: "sparseembedder", New: sparseembedder.New})
	return registry
}

// buildDAGSpec wires the reference file -> chunk -> sparse-embed ->
// destination chain. A production deployment would extend this with one
// node per connector-specific entity kind; the shape here demonstrates
// every DAG validation rule end to end.
func buildDAGSpec() dag.Spec {
	mem := memdest.New()
	spec := dag.Spec{
		Nodes: map[string]dag.Node{
			filesource.FileKind:                                     {TransformerName: "filechunker"},
			filechunker.ChunkKind:                                   {TransformerName: "sparseembedder"},
			filechunker.ChunkKind + sparseembedder.EmbeddedSuffix: {DestinationName: "default"},
		},
		Destinations: map[string]struct {
			Destination destination.Destination
			Namespace   string
		}{
			"default": {Destination: mem, Namespace: "default"},
		},
	}
	return spec
}

func runScheduledSync(
	ctx context.Context,
	orch *orchestrator.Orchestrator,
	syncDAG *dag.DAG,
	sourceRegistry *source.Registry,
	ledg ledger.Ledger,
	connectionID string,
	log *logging.Logger,
	progressBus progress.Bus,
	store *postgres.Store,
) {
	conn, ok := sourceRegistry.New("filesource")
	if !ok {
		log.Errorf("no connector registered for scheduled connection %s", connectionID)
		return
	}

	jobID := uuid.NewString()
	job := orchestrator.Job{
		ID:               jobID,
		SyncConnectionID: connectionID,
		Source:           conn,
		KindDescriptors: map[string]entity.KindDescriptor{
			filesource.FileKind: {Kind: filesource.FileKind, ContentFields: []string{"content", "path"}, RequiresEmbeddableText: true},
		},
		DAG:    syncDAG,
		Ledger: ledg,
	}

	progressCh := make(chan orchestrator.ProgressEvent, 16)
	go func() {
		for event := range progressCh {
			_ = progressBus.Publish(ctx, jobID, event)
		}
	}()

	if store != nil {
		_ = store.CreateSyncJob(ctx, postgres.SyncJob{ID: jobID, SyncConnectionID: connectionID, Status: string(orchestrator.StatusRunning), StartedAt: time.Now()})
	}

	result := orch.Run(ctx, job, progressCh)
	close(progressCh)

	if store != nil {
		reason := ""
		if result.Err != nil {
			reason = result.Err.Error()
		}
		_ = store.PersistTerminal(ctx, jobID, string(result.Status), result.EntitiesProcessed, result.EntitiesFailed, reason)
	}
}

func loadScheduleFromStore(ctx context.Context, store *postgres.Store, sched *scheduler.Scheduler, log *logging.Logger) {
	// Production wiring would page through every tracked connection here;
	// left as a startup hook since the connection-management surface
	// (create/update/delete a SyncConnection) is out of scope.
	_ = ctx
	_ = store
	_ = sched
	_ = log
}

