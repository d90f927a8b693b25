package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clouddrive/server/internal/auth"
	"github.com/clouddrive/server/internal/config"
	"github.com/clouddrive/server/internal/db"
	httphandler "github.com/clouddrive/server/internal/http"
	"github.com/clouddrive/server/internal/http/handlers"
	"github.com/clouddrive/server/internal/jobs"
	"github.com/clouddrive/server/internal/logging"
	"github.com/clouddrive/server/internal/middleware"
	"github.com/clouddrive/server/internal/notify"
	"github.com/clouddrive/server/internal/repo"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}

	userRepo := repo.NewUserRepo(database)
	profileRepo := repo.NewProfileRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	resetRepo := repo.NewResetRepo(database)
	activityRepo := repo.NewActivityRepo(database)

	throttle, closeThrottle, err := newThrottle(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeThrottle()

	ledger := auth.NewLedger(otpRepo, resetRepo, throttle, auth.LedgerConfig{
		Salt:     cfg.OTPSalt,
		OTPTTL:   cfg.OTPTTL,
		ResetTTL: cfg.ResetTokenTTL,
	}, logger)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.SessionTTL)
	authService := auth.NewAuthService(auth.ServiceDeps{
		Ledger:      ledger,
		Credentials: auth.NewCredentialStore(userRepo, cfg.BcryptCost),
		Users:       userRepo,
		Profiles:    profileRepo,
		Activity:    activityRepo,
		Sessions:    jwtService,
		Notifier:    newDispatcher(cfg, logger),
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})

	authHandler := handlers.NewAuthHandler(authService, logger, cfg.IsDevelopment())
	router := httphandler.NewRouter(httphandler.RouterConfig{
		Env:            cfg.Env,
		Development:    cfg.IsDevelopment(),
		AllowedOrigins: cfg.AllowedOrigins(),
	}, authHandler, jwtService, logger)

	scheduler, err := jobs.NewScheduler(logger)
	if err != nil {
		return err
	}
	cleanup := jobs.NewCleanupJob(otpRepo, resetRepo, cfg.CleanupRetention, cfg.CleanupTimeout, logger)
	if err := scheduler.RegisterCronJob(cfg.CleanupCron, cleanup); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn("job scheduler shutdown failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.Strings("allowed_origins", cfg.AllowedOrigins()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newDispatcher selects the notification transport. The log driver never sends anything.
func newDispatcher(cfg *config.Config, logger *zap.Logger) notify.Dispatcher {
	if cfg.NotifyDriver == config.NotifyDriverLog {
		logger.Warn("NOTIFY_DRIVER=log: e-mails and SMS are logged, not sent")
		return notify.NewLogDispatcher(logger)
	}

	composite := notify.Composite{
		Email: notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.EmailFrom,
		}),
	}
	if cfg.SMSAccountSID != "" {
		composite.SMS = notify.NewSMSClient(cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFrom, cfg.SMSBaseURL)
	} else {
		logger.Info("SMS_ACCOUNT_SID not set; phone verification is disabled")
	}
	return composite
}

// newThrottle returns the per-address OTP issue limiter. Redis shares the budget across replicas;
// without it each process keeps its own window.
func newThrottle(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.Throttle, func(), error) {
	if cfg.RedisAddr == "" {
		rl := middleware.NewRateLimiter(cfg.OTPRequestWindow, cfg.OTPMaxRequests)
		return rl, rl.Close, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("using redis OTP throttle", zap.String("addr", cfg.RedisAddr))
	limiter := middleware.NewRedisLimiter(client, "otp", cfg.OTPRequestWindow, cfg.OTPMaxRequests)
	return limiter, func() { _ = client.Close() }, nil
}
