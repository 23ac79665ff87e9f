package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riskstream/internal/api"
	"riskstream/internal/config"
	"riskstream/internal/engine"
	"riskstream/internal/repository"
	"riskstream/internal/websocket"
	"riskstream/pkg/crypto"
	"riskstream/pkg/ratelimit"
	"riskstream/pkg/utils"
)

// Лимит REST запросов с одного IP
const (
	apiRate        = 20
	apiBurst       = 40
	apiLimiterIdle = 10 * time.Minute
)

func main() {
	hashPassword := flag.String("hash-password", "", "print bcrypt hash for METRICS_PASSWORD_HASH and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := crypto.HashPassword(*hashPassword, crypto.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *utils.Logger) error {
	// Каталог и движок: ошибка конфигурации фатальна до первого тика
	catalog, err := config.LoadCatalog(cfg.Simulation.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	eng, err := engine.New(catalog.Setup(), cfg.Simulation.EngineConfig(), logger)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	hub := websocket.NewHub(eng, eng.StrategyIDs(), cfg.WebSocket.SendTimeout, logger)

	// Журнал риск-метрик (опционально)
	var (
		sinks   []engine.SnapshotSink
		journal *repository.RiskJournal
	)
	if cfg.Journal.Enabled {
		db, err := initDatabase(cfg.Journal)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info("Connected to database", zap.String("dsn", cfg.Journal.DSNWithoutPassword()))

		journal = repository.NewRiskJournal(db, repository.JournalOptions{
			BatchSize:     cfg.Journal.BatchSize,
			BufferSize:    cfg.Journal.BufferSize,
			FlushInterval: cfg.Journal.FlushInterval,
			MaxRetries:    cfg.Journal.MaxRetries,
		}, logger)

		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = journal.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			return err
		}
		sinks = append(sinks, journal)
	}

	scheduler := engine.NewScheduler(eng, hub, cfg.Simulation.TickInterval, logger, sinks...)

	var metricsAuth *crypto.Credentials
	if cfg.Security.MetricsUser != "" {
		metricsAuth, err = crypto.NewCredentials(cfg.Security.MetricsUser, cfg.Security.MetricsPasswordHash)
		if err != nil {
			return fmt.Errorf("metrics credentials: %w", err)
		}
	}

	apiLimiter := ratelimit.NewKeyedLimiter(apiRate, apiBurst)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		Engine:    eng,
		Scheduler: scheduler,
		Hub:       hub,
		Stream: websocket.NewHandler(hub, websocket.ClientConfig{
			PingPeriod:     cfg.WebSocket.PingPeriod,
			SendBuffer:     cfg.WebSocket.SendBuffer,
			InboundRate:    cfg.WebSocket.InboundRate,
			InboundBurst:   cfg.WebSocket.InboundBurst,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, logger),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsAuth:    metricsAuth,
		APILimiter:     apiLimiter,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if journal != nil {
		g.Go(func() error {
			return journal.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", server.Addr),
			zap.Bool("https", cfg.Server.UseHTTPS),
			zap.Uint64("seed", eng.Seed()),
		)
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				apiLimiter.Prune(apiLimiterIdle)
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Сначала закрываем подписчиков: hijacked соединения http.Server не ждет
		scheduler.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// initDatabase создает подключение к базе данных журнала
func initDatabase(cfg config.JournalConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Журнал пишет одной горутиной
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
