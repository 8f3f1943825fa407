package main

import (
	"flag"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joripage/venue-oms/config"
	"github.com/joripage/venue-oms/pkg/infra"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.OmsDB == nil || cfg.OmsDB.MigrationConnURL == "" {
		zap.S().Fatal("oms_db.migration_conn_url is required")
	}

	if err := infra.Migrate("file://migration/sql", cfg.OmsDB.MigrationConnURL); err != nil {
		zap.S().Fatalf("migrate: %v", err)
	}
}
