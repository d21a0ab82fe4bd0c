// Package dbstore persists imported test results: the schema, connection
// handling and the insert-or-resolve primitives used by the mapper.
package dbstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/dbbot/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for imported results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// DB returns the underlying connection for read-only queries.
	DB() *gorm.DB
	// Writer returns a writer that is not bound to a transaction.
	Writer() *Writer
	// Transaction runs fn in a single transaction. It commits when fn
	// returns nil and rolls back on error or panic.
	Transaction(ctx context.Context, fn func(w *Writer) error) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log       logrus.FieldLogger
	cfg       *config.DatabaseConfig
	batchSize int
	db        *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
// batchSize bounds the rows per statement of batched inserts.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
	batchSize int,
) Store {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}

	return &store{
		log:       log.WithField("component", "dbstore"),
		cfg:       cfg,
		batchSize: batchSize,
	}
}

// Start opens the database connection and creates missing tables.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(&s.cfg.SQLite))
	case "postgres":
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		// A single connection serializes writers and keeps an in-memory
		// database alive for the lifetime of the store.
		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(models()...); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"driver":    s.cfg.Driver,
		"in_memory": s.cfg.IsInMemory(),
	}).Debug("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	s.log.Debug("Closing database connection")

	return sqlDB.Close()
}

func (s *store) DB() *gorm.DB {
	return s.db
}

func (s *store) Writer() *Writer {
	return newWriter(s.db, s.batchSize)
}

func (s *store) Transaction(
	ctx context.Context,
	fn func(w *Writer) error,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newWriter(tx, s.batchSize))
	})
}

// sqliteDSN appends the connection pragmas to the database path.
func sqliteDSN(cfg *config.SQLiteDatabaseConfig) string {
	path := cfg.Path
	if path == "" {
		path = config.InMemoryPath
	}

	pragmas := []string{
		"foreign_keys(1)",
		"synchronous(NORMAL)",
	}

	if cfg.PageSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("page_size(%d)", cfg.PageSize))
	}

	if cfg.CacheSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("cache_size(%d)", cfg.CacheSize))
	}

	if path != config.InMemoryPath {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}

	return path + sep + strings.Join(params, "&")
}
