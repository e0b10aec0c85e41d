// Package db opens the metadata store. Postgres is the production driver;
// DB_DRIVER=sqlite switches to an embedded file (or in-memory) database for
// local development and tests.
package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/sullysaurus/venues/internal/platform/envutil"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(logg *logger.Logger) (*Service, error) {
	serviceLog := logg.With("service", "db")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	}

	driver := envutil.Get("DB_DRIVER", "postgres")
	var (
		handle *gorm.DB
		err    error
	)
	switch driver {
	case "sqlite":
		path := envutil.Get("SQLITE_PATH", "data/venues.db")
		handle, err = gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
		}
	case "postgres":
		dsn := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			envutil.Get("POSTGRES_USER", "postgres"),
			envutil.Get("POSTGRES_PASSWORD", ""),
			envutil.Get("POSTGRES_HOST", "localhost"),
			envutil.Get("POSTGRES_PORT", "5432"),
			envutil.Get("POSTGRES_NAME", "venues"),
			envutil.Get("POSTGRES_SSLMODE", "disable"),
		)
		handle, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := handle.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}

	serviceLog.Info("metadata store connected", "driver", driver)
	return &Service{db: handle, log: serviceLog}, nil
}

// NewSQLiteInMemory opens a throwaway in-memory database. Test suites use it.
func NewSQLiteInMemory(logg *logger.Logger) (*Service, error) {
	handle, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open in-memory sqlite: %w", err)
	}
	return &Service{db: handle, log: logg.With("service", "db")}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }
