package database

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/munal98/fintra-stock-trading-sub001/internal/database/migrations"
	"github.com/munal98/fintra-stock-trading-sub001/internal/types"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection.
// The database path comes from DB_PATH, defaulting to trading.db.
func NewDatabase() (*gorm.DB, error) {
	path := os.Getenv("DB_PATH")
	if path == "" {
		path = "trading.db"
	}
	return open(path)
}

var testDBCounter int64

// NewTestDatabase returns an isolated in-memory database for tests. Each
// call gets its own named shared-cache database so the connection pool
// sees a single store.
func NewTestDatabase() (*gorm.DB, error) {
	n := atomic.AddInt64(&testDBCounter, 1)
	return open(fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", n))
}

func open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Account{},
		&types.Equity{},
		&types.CashBalance{},
		&types.EquityStock{},
		&types.Order{},
		&types.Trade{},
		&types.Match{},
		&types.OrderHistory{},
		&types.OrderLog{},
		&types.Distribution{},
		&types.CashTransaction{},
		&types.OutboxEvent{},
		&types.SystemDate{},
	)
	if err != nil {
		return nil, err
	}

	if err := migrations.AddBookScanIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
