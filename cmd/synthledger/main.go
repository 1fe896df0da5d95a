package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"SynthLedger/internal/config"
	"SynthLedger/internal/core"
	"SynthLedger/internal/ingestion"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/projection"
	"SynthLedger/internal/query"
	"SynthLedger/internal/server"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := observability.NewLogger("main")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	registryFile, err := config.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RegistryPath).Msg("load collateral registry")
	}
	registry, err := registryFile.CollateralRegistry()
	if err != nil {
		logger.Fatal().Err(err).Msg("build collateral registry")
	}
	bank, err := registryFile.Bank()
	if err != nil {
		logger.Fatal().Err(err).Msg("build token bank")
	}

	// appCtx ends on a signal and stops ingress. The sequencer and the
	// workers get their own contexts so they can drain in order.
	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(appCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
	if err := migrator.Up(appCtx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Engine ---
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	collateral := make(map[common.Address]core.Token, len(registry.Assets()))
	for _, a := range registry.Assets() {
		tok, ok := bank.Collateral(a.Address)
		if !ok {
			logger.Fatal().Str("asset", a.Symbol).Msg("no token for registered asset")
		}
		collateral[a.Address] = tok
	}

	quotes := oracle.NewQuoteBook()
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	engine, err := core.NewEngine(core.EngineConfig{
		Address:        registryFile.EngineAddress(),
		Registry:       registry,
		Collateral:     collateral,
		Unit:           bank.Unit(),
		UnitAddress:    bank.UnitAddress(),
		Issuer:         bank.Issuer(),
		Feed:           quotes,
		LRUCapacity:    cfg.IdempotencyLRUCapacity,
		DBChecker:      dbChecker,
		Metrics:        metrics,
		Logger:         observability.NewLogger("core"),
		PersistChan:    persistChan,
		ProjectionChan: projectionChan,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build engine")
	}

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db, metrics, observability.NewLogger("snapshot"))
	recovered, err := persistence.Recover(appCtx, snapMgr, engine, bank, metrics, observability.NewLogger("recovery"))
	if err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}
	if keys, err := dbChecker.RecentKeys(appCtx, cfg.IdempotencyLRUCapacity); err != nil {
		logger.Warn().Err(err).Msg("load recent idempotency keys")
	} else {
		engine.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("idempotency LRU warmed")
	}

	sequencer := core.NewSequencer(engine, cfg.SequencerQueueSize, observability.NewLogger("sequencer"))

	// --- Workers ---
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	publishChan := make(chan ingestion.PublishableEvent, cfg.IngestChanSize)
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.NewLogger("persist"))
	persistWorker.SetLastSequence(recovered.NextSequence - 1)
	persistWorker.OnPersisted = func(out core.CoreOutput) {
		events, err := ingestion.PublishableEvents(out)
		if err != nil {
			logger.Error().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("build outbound events")
			return
		}
		for _, evt := range events {
			select {
			case publishChan <- evt:
			default:
				metrics.PublishDrops.Inc()
			}
		}
	}
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, observability.NewLogger("projection"))

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(appCtx, js, observability.NewLogger("nats")); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}
	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))

	rawChan := make(chan ingestion.RawEvent, cfg.IngestChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, observability.NewLogger("nats"))
	if err := subscriber.Subscribe(appCtx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	quoteIngester := ingestion.NewQuoteIngester(quotes, registry, metrics, observability.NewLogger("quotes"))
	router := ingestion.NewRouter(sequencer, quoteIngester, metrics, observability.NewLogger("router"))

	var feed *ingestion.QuoteFeedClient
	if cfg.QuoteFeedURL != "" {
		feeds := make([]string, 0, len(registry.Assets()))
		for _, a := range registry.Assets() {
			feeds = append(feeds, a.FeedID)
		}
		feed = ingestion.NewQuoteFeedClient(cfg.QuoteFeedURL, feeds, quoteIngester, observability.NewLogger("quote_feed"))
	}

	// --- Health probes ---
	healthChecker.AddCheck("postgres", db.PingContext)
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats not connected")
		}
		return nil
	})
	if feed != nil {
		healthChecker.AddCheck("quote_feed", func(context.Context) error {
			if !feed.Connected() {
				return errors.New("quote feed disconnected")
			}
			return nil
		})
	}

	// --- RPC surface ---
	snapshots := &snapshotter{
		sequencer: sequencer,
		engine:    engine,
		bank:      bank,
		store:     snapMgr,
		persisted: persistWorker,
		logger:    observability.NewLogger("snapshot"),
	}
	queryService := query.NewQueryService(db, metrics)
	ledgerServer := server.NewLedgerServer(
		ingestion.NewGRPCIngestService(sequencer, quoteIngester),
		sequencer,
		queryService,
		server.AdminHooks{
			Snapshot: snapshots.Take,
			Rebuild: func(ctx context.Context) (int64, error) {
				if err := projection.RebuildProjections(ctx, db, observability.NewLogger("projection")); err != nil {
					return 0, err
				}
				return projection.LoadWatermark(ctx, db)
			},
		},
	)
	rpc := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Ledger:        ledgerServer,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		MetricsGather: promhttp.Handler(),
		Logger:        observability.NewLogger("rpc"),
	})

	// --- Start goroutines ---
	errChan := make(chan error, 16)
	report := func(name string, fn func() error) {
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("%s: %w", name, err)
		}
	}

	seqCtx, stopSequencer := context.WithCancel(context.Background())
	defer stopSequencer()
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		report("sequencer", func() error { return sequencer.Run(seqCtx) })
	}()

	var workers sync.WaitGroup
	startWorker := func(name string, fn func() error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			report(name, fn)
		}()
	}
	startWorker("persistence worker", func() error { return persistWorker.Run(workerCtx) })
	startWorker("projection worker", func() error { return projWorker.Run(workerCtx) })

	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		report("outbound publisher", func() error { return publisher.Run(workerCtx) })
	}()

	go report("router", func() error { return router.Run(appCtx, rawChan) })
	if feed != nil {
		go report("quote feed", func() error { return feed.Run(appCtx) })
	}
	go report("grpc server", func() error { return rpc.StartGRPC(appCtx) })
	go report("http gateway", func() error { return rpc.StartHTTPGateway(appCtx) })
	go snapshots.RunPeriodic(appCtx, cfg.SnapshotInterval, cfg.SnapshotTick)
	go serveMetrics(appCtx, cfg.MetricsAddr, errChan)

	healthChecker.SetReady(true)
	logger.Info().
		Int64("next_sequence", recovered.NextSequence).
		Int64("replayed", recovered.Replayed).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("SynthLedger ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Ingress first, then the sequencer, then drain the workers, then the
	// final snapshot from the quiescent engine.
	healthChecker.SetReady(false)
	subscriber.Stop()
	stopApp()

	stopSequencer()
	<-seqDone

	close(persistChan)
	close(projectionChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("workers did not drain within 30s")
		stopWorkers()
		<-drained
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if seq, err := snapshots.TakeFinal(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	close(publishChan)
	<-publisherDone
	stopWorkers()

	logger.Info().Msg("SynthLedger shutdown complete")
}

func serveMetrics(ctx context.Context, addr string, errChan chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("metrics server: %w", err)
	}
}
