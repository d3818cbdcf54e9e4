package config // package config loads application configuration from environment variables

import (
	"log"  // log is used to report configuration errors and halt execution
	"os"   // os provides access to environment variables
	"time" // durations for engine knobs

	"github.com/joho/godotenv" // optional .env file for local runs
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	JWTSecret string // secret used to verify tokens issued by the identity service

	StoreDriver string // "mysql" or "memory"
	DBUser      string // database username
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name

	PromotionMode       string        // "confirm" or "auto"
	PromotionWindow     time.Duration // how long a promoted member has to confirm
	ReserveMaxAttempts  int           // attempts before ConcurrentCapacityExceeded surfaces
	ReserveRetryBackoff time.Duration // linear backoff between attempts
	ReminderLead        time.Duration // how long before start a reminder is sent

	CronLifecycle  string // lifecycle sweep schedule
	CronPromotions string // promotion expiry schedule
	CronPackages   string // package expiry schedule
	CronReminders  string // reminder schedule

	RabbitURL    string // AMQP url; empty disables the queue notifier
	NotifyQueue  string // durable queue notifications are published to
	NotifyLogDir string // directory the notification consumer writes to
}

// Load reads .env (when present) and then environment variables.  Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
	cfg := Config{
		Env:       envStr("APP_ENV", "dev"),
		Port:      must("APP_PORT"),
		JWTSecret: must("JWT_SECRET"),

		StoreDriver: envStr("STORE_DRIVER", "mysql"),
		DBPass:      os.Getenv("DB_PASS"), // empty allowed

		PromotionMode:       envStr("PROMOTION_MODE", "confirm"),
		PromotionWindow:     envDur("PROMOTION_WINDOW", 24*time.Hour),
		ReserveMaxAttempts:  envInt("RESERVE_MAX_ATTEMPTS", 3),
		ReserveRetryBackoff: envDur("RESERVE_RETRY_BACKOFF", 25*time.Millisecond),
		ReminderLead:        envDur("REMINDER_LEAD", time.Hour),

		CronLifecycle:  envStr("CRON_LIFECYCLE", "@every 1m"),
		CronPromotions: envStr("CRON_PROMOTIONS", "@every 1m"),
		CronPackages:   envStr("CRON_PACKAGES", "@hourly"),
		CronReminders:  envStr("CRON_REMINDERS", "*/5 * * * *"),

		RabbitURL:    firstEnv("RABBITMQ_URL", "AMQP_URL"),
		NotifyQueue:  envStr("NOTIFY_QUEUE", "studio.notifications"),
		NotifyLogDir: envStr("NOTIFY_LOG_DIR", "logs"),
	}
	if cfg.StoreDriver == "mysql" {
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
	}
	if cfg.ReserveMaxAttempts < 1 {
		cfg.ReserveMaxAttempts = 1
	}
	return cfg
}

// MemoryStoreAllowed reports whether the in-process store may back this
// environment.  It serializes all instances behind one lock and loses data
// on restart, so production runs must use MySQL.
func (c Config) MemoryStoreAllowed() bool {
	return c.Env != "prod" && c.Env != "production"
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
