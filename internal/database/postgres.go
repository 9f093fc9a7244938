package database

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pixelmint-ledger/internal/config"
	"pixelmint-ledger/internal/models"
)

func ConnectPostgres(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("connected to postgres", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open applies the settings every store relies on: UTC timestamps and
// translated driver errors (gorm.ErrDuplicatedKey on unique violations).
func Open(dialector gorm.Dialector, conf *gorm.Config) (*gorm.DB, error) {
	if conf == nil {
		conf = &gorm.Config{}
	}
	conf.TranslateError = true
	conf.NowFunc = func() time.Time { return time.Now().UTC() }
	return gorm.Open(dialector, conf)
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
