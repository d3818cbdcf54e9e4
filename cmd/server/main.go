package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/database"
	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/jobs"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/queue"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/router"
	"github.com/iliyamo/studio-booking/internal/service"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, health, closeStore := openStore(ctx, cfg)
	defer closeStore()

	mode, err := service.ParsePromotionMode(cfg.PromotionMode)
	if err != nil {
		log.Fatal(err)
	}

	var notifier service.Notifier = service.LogNotifier{}
	if cfg.RabbitURL != "" {
		pub := queue.NewPublisher(cfg.RabbitURL, cfg.NotifyQueue)
		defer pub.Close()
		notifier = pub
		consumer := queue.Consumer{URL: cfg.RabbitURL, Queue: cfg.NotifyQueue, LogDir: cfg.NotifyLogDir}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("notification-consumer: stopped: %v", err)
			}
		}()
	} else {
		log.Println("RABBITMQ_URL not set; notifications are only logged")
	}

	engine := service.NewEngine(store, notifier, service.Options{
		PromotionMode:       mode,
		PromotionWindow:     cfg.PromotionWindow,
		ReserveMaxAttempts:  cfg.ReserveMaxAttempts,
		ReserveRetryBackoff: cfg.ReserveRetryBackoff,
	})

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; rate limiting, response cache and reminder dedupe disabled")
	} else {
		defer rdb.Close()
	}

	runner := jobs.NewRunner(engine, notifier, jobs.NewRedisDeduper(rdb, "studio:"))
	runner.ReminderLead = cfg.ReminderLead
	scheduler := cron.New()
	if err := runner.Schedule(scheduler, jobs.Specs{
		Lifecycle:  cfg.CronLifecycle,
		Promotions: cfg.CronPromotions,
		Packages:   cfg.CronPackages,
		Reminders:  cfg.CronReminders,
	}); err != nil {
		log.Fatal(err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())

	h := router.Handlers{
		Catalog:  handler.NewCatalogHandler(engine),
		Bookings: handler.NewBookingHandler(engine),
		Waitlist: handler.NewWaitlistHandler(engine),
		Credits:  handler.NewCreditHandler(engine),
	}
	router.RegisterRoutes(e, health)
	router.RegisterPublic(e, h.Catalog, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterMember(e, h, cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	router.RegisterStaff(e, h, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s store=%s promotion=%s)", addr, cfg.Env, cfg.StoreDriver, mode)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// openStore connects the configured store.  MySQL is migrated on start.
func openStore(ctx context.Context, cfg config.Config) (repository.Store, handler.HealthHandler, func()) {
	switch cfg.StoreDriver {
	case "memory":
		if !cfg.MemoryStoreAllowed() {
			log.Fatalf("STORE_DRIVER=memory is not allowed in APP_ENV=%s", cfg.Env)
		}
		log.Println("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), handler.HealthHandler{}, func() {}
	case "mysql":
		db, err := database.Open(ctx, database.Settings{
			User: cfg.DBUser,
			Pass: cfg.DBPass,
			Host: cfg.DBHost,
			Port: cfg.DBPort,
			Name: cfg.DBName,
		})
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return repository.NewMySQLStore(db), handler.HealthHandler{Ping: db.PingContext}, func() { _ = db.Close() }
	}
	log.Fatalf("unknown STORE_DRIVER %q (want mysql or memory)", cfg.StoreDriver)
	return nil, handler.HealthHandler{}, nil
}
