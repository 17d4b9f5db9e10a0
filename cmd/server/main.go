package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"foodrescue/internal/adapters/classifier"
	"foodrescue/internal/adapters/dynamo"
	httpadapter "foodrescue/internal/adapters/http"
	"foodrescue/internal/adapters/memory"
	pg "foodrescue/internal/adapters/postgres"
	"foodrescue/internal/config"
	"foodrescue/internal/logging"
	"foodrescue/internal/ports"
	auditsvc "foodrescue/internal/services/audit"
	claimsvc "foodrescue/internal/services/claims"
	donationsvc "foodrescue/internal/services/donations"
	submissionsvc "foodrescue/internal/services/submissions"
	"foodrescue/internal/workers/auditrunner"
)

func main() {
	cfg, cfgErr := config.Load()
	logger, err := logging.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	if cfgErr != nil {
		logger.Fatal("invalid configuration", zap.Error(cfgErr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, jobs, closeStore := openStores(ctx, cfg, logger)
	defer closeStore()

	var cls ports.Classifier
	if cfg.ClassifierURL != "" {
		cls = classifier.New(cfg.ClassifierURL, cfg.ClassifierAPIKey,
			classifier.WithModel(cfg.ClassifierModel),
			classifier.WithTimeout(cfg.ClassifierTimeout),
		)
	} else {
		logger.Warn("CLASSIFIER_URL not set; every audit uses the fallback verdict")
	}

	auditor := auditsvc.New(cls, logger.Named("audit"))
	donations := donationsvc.New(store, logger.Named("donations"))
	claims := claimsvc.New(store, logger.Named("claims"), claimsvc.Options{StrictQuantity: cfg.StrictQuantity})
	submissions := submissionsvc.New(jobs)

	processor := auditrunner.Pipeline{Repo: jobs, Auditor: auditor, Publisher: donations, Log: logger.Named("auditrunner")}
	srv := httpadapter.New(httpadapter.Deps{
		Auditor:        auditor,
		Submissions:    submissions,
		Donations:      donations,
		Claims:         claims,
		Jobs:           jobs,
		Processor:      processor,
		StrictQuantity: cfg.StrictQuantity,
		Log:            logger.Named("http"),
	})
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	if cfg.AuditWorkers > 0 {
		auditrunner.Run(ctx, jobs, processor, cfg.AuditWorkers, cfg.AuditPollInterval, logger.Named("auditrunner"))
		logger.Info("audit workers started", zap.Int("workers", cfg.AuditWorkers))
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("store", cfg.StoreDriver))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}
}

// openStores picks the inventory store by STORE_DRIVER. The audit queue lives
// in Postgres when it is the store and in process otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (ports.InventoryStore, ports.SubmissionRepository, func()) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect error", zap.Error(err))
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			logger.Fatal("db migrate error", zap.Error(err))
		}
		return db, db, db.Close
	case config.DriverDynamo:
		client, err := dynamo.NewClient(ctx, dynamo.ClientConfig{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.AWSEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			logger.Fatal("dynamodb client error", zap.Error(err))
		}
		store := dynamo.NewStore(client, dynamo.Tables{
			Donations: cfg.DonationsTable,
			Claims:    cfg.ClaimsTable,
			Locks:     cfg.LocksTable,
		}, logger.Named("dynamo"))
		if cfg.AWSEndpoint != "" {
			if err := store.EnsureTables(ctx); err != nil {
				logger.Fatal("dynamodb tables", zap.Error(err))
			}
		}
		logger.Warn("audit queue is in process; queued submissions are lost on restart")
		return store, memory.NewQueue(), func() {}
	default:
		logger.Warn("memory store: nothing survives a restart")
		return memory.NewStore(), memory.NewQueue(), func() {}
	}
}
