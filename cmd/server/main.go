package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"riskguard/internal/api"
	"riskguard/internal/config"
	"riskguard/internal/gateway"
	"riskguard/internal/repository"
	"riskguard/internal/risk"
	"riskguard/internal/service"
	"riskguard/internal/websocket"
	"riskguard/pkg/crypto"
	"riskguard/pkg/retry"
	"riskguard/pkg/utils"
)

func main() {
	genToken := flag.Bool("gen-token", false, "print a new API token and its API_TOKEN_HASH, then exit")
	flag.Parse()
	if *genToken {
		if err := printToken(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// .env необязателен, переменные окружения имеют приоритет
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		utils.Warn("Failed to read .env", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		utils.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer logger.Sync()

	if err := run(cfg, logger.Logger); err != nil {
		logger.Fatal("riskguard stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных
	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	if err := repository.EnsureSchema(db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	notificationRepo := repository.NewNotificationRepository(db)
	historyRepo := repository.NewEmergencyHistoryRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	healthChecks := map[string]api.HealthCheck{
		"database": db.PingContext,
	}

	hub := websocket.NewHub(logger)

	engineOpts := []risk.Option{
		risk.WithLogger(logger),
		risk.WithCheckObserver(hub.BroadcastRiskUpdate),
	}

	// Redis: общий дневной объём между экземплярами
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		engineOpts = append(engineOpts, risk.WithVolumeTracker(repository.NewRedisVolumeTracker(redisClient)))
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		logger.Info("Daily volume stored in Redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("REDIS_ADDR not set, daily volume kept in memory")
	}

	transport := gateway.DefaultTransportConfig()
	transport.TotalTimeout = cfg.Gateway.Timeout
	gw, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL:   cfg.Gateway.BaseURL,
		APIKey:    cfg.Gateway.APIKey,
		RateLimit: cfg.Gateway.RateLimit,
		Burst:     cfg.Gateway.Burst,
		Transport: transport,
	}, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	engine, err := risk.NewEngine(cfg.Risk.Engine, gw, gw, engineOpts...)
	if err != nil {
		return fmt.Errorf("create risk engine: %w", err)
	}
	defer engine.Close()

	settingsService := service.NewSettingsService(settingsRepo, engine, logger)
	if _, err := settingsService.Load(); err != nil {
		// движок продолжает работу на значениях из окружения
		logger.Warn("risk settings not restored", zap.Error(err))
	}

	notificationService := service.NewNotificationService(notificationRepo, historyRepo, logger)
	notificationService.SetWebSocketHub(hub)
	notificationService.SetRetention(cfg.Notifications.KeepCount, cfg.Notifications.CleanupInterval)

	if cfg.NATS.URL != "" {
		nc, err := service.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		notificationService.SetPublisher(service.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
		healthChecks["nats"] = func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats status %s", status)
			}
			return nil
		}
		logger.Info("Alerts published to NATS", zap.String("url", cfg.NATS.URL))
	}

	hub.SetWelcome(func() interface{} {
		return websocket.NewEmergencyStatusMessage(engine.GetEmergencyStatus())
	})

	deps := &api.Dependencies{
		Engine:              engine,
		NotificationService: notificationService,
		SettingsService:     settingsService,
		Hub:                 hub,
		CORSOrigins:         cfg.Server.CORSOrigins,
		WSOrigins:           cfg.Server.WSOrigins,
		HealthChecks:        healthChecks,
		Logger:              logger,
	}
	if cfg.Security.APITokenHash != "" {
		// Verifier остаётся nil интерфейсом, если хеш не задан
		deps.Verifier = crypto.NewTokenVerifier(cfg.Security.APITokenHash)
	} else {
		logger.Warn("API_TOKEN_HASH not set, API authentication disabled")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Фоновые задачи живут до отмены ctx
	bg, bgCtx := errgroup.WithContext(ctx)
	bg.Go(func() error {
		hub.Run()
		return nil
	})
	bg.Go(func() error {
		return notificationService.Run(bgCtx, engine.Notifications(), engine.History())
	})
	bg.Go(func() error {
		<-bgCtx.Done()
		hub.Stop()
		return nil
	})

	if cfg.Risk.MonitorAddress != "" {
		if err := startMonitoring(ctx, engine, cfg.Risk.MonitorAddress, logger); err != nil {
			logger.Error("Failed to start monitoring", zap.String("address", cfg.Risk.MonitorAddress), zap.Error(err))
		} else {
			logger.Info("Monitoring started", zap.String("address", cfg.Risk.MonitorAddress))
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			_ = bg.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Shutting down server...")
	engine.StopMonitoring()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// уведомления из буфера движка дописываются в журнал до закрытия БД
	if err := bg.Wait(); err != nil {
		logger.Warn("background task failed", zap.Error(err))
	}
	return nil
}

// printToken выводит новый операторский токен и bcrypt-хеш для API_TOKEN_HASH
func printToken(w io.Writer) error {
	token, err := crypto.GenerateToken(32)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	hash, err := crypto.HashToken(token)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	_, err = fmt.Fprintf(w, "API_TOKEN=%s\nAPI_TOKEN_HASH='%s'\n", token, hash)
	return err
}

// startMonitoring запускает фоновые проверки по адресу из окружения
func startMonitoring(ctx context.Context, engine *risk.Engine, raw string, logger *zap.Logger) error {
	address, err := utils.NormalizeAddress(raw)
	if err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := engine.StartMonitoring(startCtx, address); err != nil {
		return err
	}
	if status := engine.GetEmergencyStatus(); status.Enabled {
		logger.Warn("emergency stop is active at startup",
			zap.Bool("manual_override", status.ManualOverride), zap.String("reason", status.OverrideReason))
	}
	return nil
}

// initDatabase создает подключение к базе данных
//
// Ping повторяется по retry.NetworkConfig.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	rc := retry.NetworkConfig()
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("database not ready, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, rc)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
