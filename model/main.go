// Package model persists the audit trail (requests, steps, tasks), the
// provider and model catalog, and budget configuration behind a global gorm
// handle, and serves the aggregations the router and analytics run on.
package model

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/logger"
)

// DB is the global database handle. Initialized once by InitDB.
var DB *gorm.DB

// UsingSQLite reports the active dialect; analytics date math differs.
var (
	UsingSQLite     = false
	UsingMySQL      = false
	UsingPostgreSQL = false
)

// InitDB opens the database selected by SQL_DSN (mysql/postgres) or the
// sqlite path, runs migrations, and seeds the catalog when empty.
func InitDB() error {
	db, err := openDB()
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	DB = db

	if err = DB.AutoMigrate(
		&RequestLog{},
		&StepLog{},
		&TaskLog{},
		&Provider{},
		&ModelConfig{},
		&Budget{},
	); err != nil {
		return errors.Wrap(err, "auto migrate")
	}

	if err = seedCatalog(); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	logger.Logger.Info("database initialized",
		zap.Bool("sqlite", UsingSQLite),
		zap.Bool("mysql", UsingMySQL),
		zap.Bool("postgres", UsingPostgreSQL))
	return nil
}

func openDB() (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	dsn := config.SQLDSN
	switch {
	case dsn == "":
		UsingSQLite = true
		return gorm.Open(sqlite.Open(config.SQLitePath+"?_busy_timeout=5000"), gormConfig)
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		UsingPostgreSQL = true
		return gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		UsingMySQL = true
		return gorm.Open(mysql.Open(dsn), gormConfig)
	}
}

// CloseDB releases the underlying connection pool.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.Wrap(err, "get sql db")
	}
	return errors.Wrap(sqlDB.Close(), "close sql db")
}
