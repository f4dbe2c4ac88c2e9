package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relay-funder/relay-funder-app-sub004/app/models"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the shared handle. Prefer GetDB.
var DB *gorm.DB

// GetDB returns the shared database handle (nil before SetupDatabase).
func GetDB() *gorm.DB {
	return DB
}

// SetDB installs db as the shared handle (tests use sqlmock-backed handles).
func SetDB(db *gorm.DB) {
	DB = db
}

// DSN builds the MySQL data source name from DB_* settings.
func DSN() string {
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=UTC"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)
}

// SetupDatabase connects with retries and panics when every attempt fails.
func SetupDatabase(log *zap.Logger) {
	log = logger.OrNop(log).Named("database")
	var err error
	dsn := DSN()

	logLevel := gormlogger.Warn
	if env.IsDev() {
		logLevel = gormlogger.Info
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{Logger: gormlogger.Default.LogMode(logLevel)})
		if err == nil {
			// Production schema is owned by cmd/migrate; dev boxes converge via AutoMigrate.
			if env.IsDev() {
				if err := DB.AutoMigrate(
					&models.User{},
					&models.Campaign{},
					&models.Round{},
					&models.RoundCampaign{},
					&models.Payment{},
					&models.RoundContribution{},
					&models.IdempotencyRecord{},
					&models.PaymentWebhookEvent{},
					&models.Notification{},
				); err != nil {
					log.Error("AutoMigrate failed", zap.Error(err))
				}
			}
			log.Info("Connected to database",
				zap.String("host", env.GetEnv("DB_HOST", "127.0.0.1")),
				zap.String("name", env.GetEnv("DB_NAME", "")))
			return
		}

		log.Warn("Failed to connect to database",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}
