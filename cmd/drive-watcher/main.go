package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/appointment-intake/pkg/common/config"
	"github.com/synaptica-ai/appointment-intake/pkg/common/database"
	"github.com/synaptica-ai/appointment-intake/pkg/common/httpclient"
	"github.com/synaptica-ai/appointment-intake/pkg/common/kafka"
	"github.com/synaptica-ai/appointment-intake/pkg/common/logger"
	"github.com/synaptica-ai/appointment-intake/pkg/common/middleware"
	"github.com/synaptica-ai/appointment-intake/pkg/drive"
	"github.com/synaptica-ai/appointment-intake/pkg/importer"
	"github.com/synaptica-ai/appointment-intake/pkg/ledger"
	"github.com/synaptica-ai/appointment-intake/pkg/normalize"
	"github.com/synaptica-ai/appointment-intake/pkg/observability/metrics"
	"github.com/synaptica-ai/appointment-intake/pkg/scheduler"
	"github.com/synaptica-ai/appointment-intake/pkg/spreadsheet"
	"github.com/synaptica-ai/appointment-intake/pkg/watcher"
)

func main() {
	if err := setupLogging(os.Getenv("ENV_FILE")); err != nil {
		logger.Log.WithError(err).Fatal("failed to read env file")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("invalid configuration")
	}

	logger.Log.WithFields(map[string]interface{}{
		"folder":            cfg.FolderName,
		"interval":          cfg.SweepInterval.String(),
		"api_url":           cfg.APIURL,
		"on_decode_failure": cfg.DecodeFailurePolicy,
	}).Info("Drive watcher starting")

	layout, err := spreadsheet.LoadLayout(cfg.LayoutFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load spreadsheet layout")
	}

	connector, err := drive.NewGoogleConnector(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURI,
		cfg.GoogleRefreshToken,
	)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to configure google drive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	decoder := spreadsheet.NewDecoder(cfg.ScratchDir, layout, normalize.NewPhoneNormalizer(cfg.PhoneCountryCode))
	imp := importer.New(httpclient.New(cfg.HTTPTimeout), cfg.APIURL, cfg.AdminToken, cfg.RetryAttempt)

	var opts []watcher.Option
	var history ledger.Reader

	if cfg.LedgerEnabled {
		db, err := database.OpenPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		defer database.ClosePostgres(db)

		repo := ledger.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate ledger tables")
		}
		opts = append(opts, watcher.WithLedger(repo))
		history = repo

		go func() {
			ticker := time.NewTicker(12 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := repo.CleanupExpired(ctx, cfg.LedgerTTL); err != nil {
						logger.Log.WithError(err).Warn("ledger cleanup failed")
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if cfg.EventsTopic != "" {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.EventsTopic)
		defer producer.Close()
		opts = append(opts, watcher.WithEvents(producer))
	}

	var sharedLock scheduler.Lock
	if cfg.RedisLockEnabled {
		client, err := database.OpenRedis(ctx, cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to redis")
		}
		defer client.Close()
		sharedLock = scheduler.NewRedisLock(client, "intake:sweep:"+cfg.FolderName, cfg.SweepLockTTL)
	}

	w := watcher.New(connector, decoder, imp, watcher.Options{
		FolderName:          cfg.FolderName,
		DecodeFailurePolicy: cfg.DecodeFailurePolicy,
		QuarantineFolder:    cfg.QuarantineFolder,
	}, opts...)

	var ready atomic.Bool
	sched := scheduler.New(cfg.SweepInterval, func(ctx context.Context) error {
		_, err := w.Sweep(ctx)
		ready.Store(true)
		return err
	}, sharedLock)

	var server *http.Server
	if cfg.HealthAddr != "" {
		server = &http.Server{
			Addr:         cfg.HealthAddr,
			Handler:      newRouter(&ready, history, cfg.AdminToken),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Log.WithField("addr", cfg.HealthAddr).Info("health server listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Log.WithError(err).Error("health server stopped")
			}
		}()
	}

	go sched.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Drive watcher...")
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("health server forced to shutdown")
		}
	}

	logger.Log.Info("Drive watcher stopped")
}

// setupLogging merges the env file before the logger reads LOG_LEVEL. The
// logger is initialised even when the file is unreadable so the caller can
// report that failure in the configured format.
func setupLogging(envFile string) error {
	err := config.LoadEnvFile(envFile)
	logger.Init()
	return err
}

func newRouter(ready *atomic.Bool, history ledger.Reader, token string) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"starting"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	if history != nil {
		api := router.PathPrefix("/ledger").Subrouter()
		api.Use(middleware.RequireToken(token))
		ledger.NewHTTPHandler(history).Register(api)
	}

	return router
}
