package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luxeride/business-wallet/internal/config"
	"github.com/luxeride/business-wallet/internal/db"
	"github.com/luxeride/business-wallet/internal/gateway"
	"github.com/luxeride/business-wallet/internal/http/api/admin"
	adminhandlers "github.com/luxeride/business-wallet/internal/http/api/admin/handlers"
	"github.com/luxeride/business-wallet/internal/http/api/cron"
	"github.com/luxeride/business-wallet/internal/http/api/front"
	"github.com/luxeride/business-wallet/internal/lock"
	"github.com/luxeride/business-wallet/internal/logging"
	"github.com/luxeride/business-wallet/internal/metrics"
	"github.com/luxeride/business-wallet/internal/notify"
	"github.com/luxeride/business-wallet/internal/recharge"
	"github.com/luxeride/business-wallet/internal/settings"
	"github.com/luxeride/business-wallet/internal/util"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// lockPrefix namespaces account lock keys in redis.
const lockPrefix = "business-wallet:"

// Services holds the wired components behind the HTTP server.
type Services struct {
	DB           *gorm.DB
	Orchestrator *recharge.Orchestrator
	Trigger      *recharge.Trigger
	Sweeper      *recharge.Sweeper
	Cleaner      *notify.RetentionCleaner
	Refresher    *settings.Refresher

	redis redis.UniversalClient
}

// Close releases the redis client, if any.
func (s *Services) Close() error {
	if s == nil || s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	appCfg, err := config.Load(config.ResolveConfigPath(cfg.ConfigPath))
	if err != nil {
		return err
	}
	conn, err := openDatabase(appCfg.Database)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Info("migrations applied")
	return nil
}

// RunServer boots the wallet service and blocks until ctx is done.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, errLogging := logging.Setup(appCfg.Logging)
	if errLogging != nil {
		return errLogging
	}
	defer func() { _ = logCloser.Close() }()

	conn, err := openDatabase(appCfg.Database)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSettings := settings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		return fmt.Errorf("load settings: %w", errSettings)
	}

	gw, err := gateway.NewStripeGateway(appCfg.Stripe.SecretKey, appCfg.Stripe.Timeout)
	if err != nil {
		return err
	}
	services, err := BuildServices(ctx, appCfg, conn, gw)
	if err != nil {
		return err
	}
	defer func() { _ = services.Close() }()

	services.Refresher.Start(ctx)
	services.Sweeper.Start(ctx)
	services.Cleaner.Start(ctx)

	server := &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           NewRouter(appCfg, services),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"config":   configPath,
			"addr":     appCfg.Server.Addr,
			"database": db.DialectName(conn),
			"stripe":   util.HideSecret(appCfg.Stripe.SecretKey),
		}).Info("business wallet server starting")
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
		}
		close(serveErr)
	}()

	select {
	case errServe := <-serveErr:
		if errServe != nil {
			return errServe
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("http server shutdown failed")
	}
	services.Orchestrator.Drain()
	log.Info("business wallet server stopped")
	return nil
}

// BuildServices wires the recharge components around conn and gw.
func BuildServices(ctx context.Context, cfg *config.Config, conn *gorm.DB, gw gateway.Gateway) (*Services, error) {
	if cfg == nil || conn == nil || gw == nil {
		return nil, errors.New("app: missing dependency")
	}
	locker, rdb, err := newLocker(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	mailer := notify.NewEmailClient(cfg.Email.Endpoint, cfg.Email.APIKey, cfg.Email.From, cfg.Email.Timeout)
	orchestrator := recharge.NewOrchestrator(recharge.Options{
		DB:        conn,
		Gateway:   gw,
		Notifier:  notify.NewDispatcher(conn, mailer),
		Locker:    locker,
		Policy:    policyFromConfig(cfg.Recharge),
		PortalURL: cfg.Recharge.PortalURL,
	})
	return &Services{
		DB:           conn,
		Orchestrator: orchestrator,
		Trigger:      recharge.NewTrigger(conn, orchestrator),
		Sweeper:      recharge.NewSweeper(orchestrator),
		Cleaner:      notify.NewRetentionCleaner(conn),
		Refresher:    settings.NewRefresher(conn, 30*time.Second),
		redis:        rdb,
	}, nil
}

// NewRouter builds the gin engine with every HTTP surface mounted.
func NewRouter(cfg *config.Config, services *Services) *gin.Engine {
	switch strings.ToLower(cfg.Server.Mode) {
	case gin.DebugMode:
		gin.SetMode(gin.DebugMode)
	case gin.TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinMiddleware(), metrics.GinMiddleware())

	healthHandler := adminhandlers.NewHealthHandler(services.DB)
	engine.GET("/healthz", healthHandler.Healthz)
	engine.GET("/metrics", metrics.Handler())

	cron.RegisterCronRoutes(engine, services.DB, cfg.Auth.CronSecret, services.Orchestrator, services.Trigger)
	front.RegisterFrontRoutes(engine, services.DB, cfg.Auth.JWTSecret, services.Trigger, services.Orchestrator.Store())
	admin.RegisterAdminRoutes(engine, services.DB, cfg.Auth.AdminJWTSecret, services.Orchestrator, services.Trigger)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return db.Open(cfg.DSN, db.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		TimeZone:        cfg.TimeZone,
		SlowThreshold:   cfg.SlowThreshold,
	})
}

// newLocker returns a redis lock when an address is configured, otherwise an in-process one.
func newLocker(ctx context.Context, cfg config.RedisConfig) (lock.Locker, redis.UniversalClient, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		log.Warn("redis not configured, account locks are local to this process")
		return lock.NewLocalLocker(), nil, nil
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := rdb.Ping(pingCtx).Err(); errPing != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", errPing)
	}
	return lock.NewRedisLocker(rdb, lockPrefix, cfg.LockTTL), rdb, nil
}

func policyFromConfig(cfg config.RechargeConfig) recharge.Policy {
	policy := recharge.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.BaseDelay = cfg.BaseDelay
	policy.MaxDelay = cfg.MaxDelay
	policy.Multiplier = cfg.Multiplier
	policy.Jitter = cfg.Jitter
	policy.PollInterval = cfg.PollInterval
	policy.StaleAfter = cfg.StaleAfter
	policy.NotificationTimeout = cfg.NotificationTimeout
	return policy
}
