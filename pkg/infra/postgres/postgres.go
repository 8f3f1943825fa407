// Package postgres_wrapper opens the order store database.
package postgres_wrapper

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/lib/pq" // nolint
	"go.uber.org/zap"
	pg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

type PostgresConfig struct {
	DataSource       string          `yaml:"data_source"`
	MaxOpenConns     int             `yaml:"max_open_conns"`
	MaxIdleConns     int             `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration   `yaml:"conn_max_lifetime"`
	MigrationConnURL string          `yaml:"migration_conn_url"`
	SlaveSources     []string        `yaml:"slave_sources"`
	LogLevel         logger.LogLevel `yaml:"log_level"`
	Location         string          `yaml:"location"`
}

func (c *PostgresConfig) ApplyDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 20
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.LogLevel == 0 {
		c.LogLevel = logger.Warn
	}
	if c.Location == "" {
		c.Location = "UTC"
	}
}

// InitPostgres opens the primary and registers any read replicas.
func InitPostgres(cfg *PostgresConfig) (*gorm.DB, error) {
	cfg.ApplyDefaults()
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  cfg.LogLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(pg.Open(cfg.DataSource), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().In(loc)
		},
	})
	if err != nil {
		zap.S().Debugf("open postgres fail: %+v", err)
		return nil, err
	}

	var repl []gorm.Dialector
	for _, s := range cfg.SlaveSources {
		repl = append(repl, pg.Open(s))
	}
	if len(repl) > 0 {
		zap.S().Debugf("register %d postgres replicas", len(repl))
		err := db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: repl,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// InitPostgresWithBackoff retries InitPostgres until it succeeds or ctx ends.
func InitPostgresWithBackoff(ctx context.Context, cfg *PostgresConfig) (*gorm.DB, error) {
	var db *gorm.DB
	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		var err error
		db, err = InitPostgres(cfg)
		if err != nil {
			zap.S().Warnf("connect postgres error: %v", err)
		}
		return err
	}, backoff.WithContext(boff, ctx))
	return db, err
}
