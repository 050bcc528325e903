package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotStarted is returned when the store is used before Start.
var ErrNotStarted = errors.New("store not started")

// Store persists build and test case rows.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// WriteBuildRuns inserts runs in one transaction on one connection.
	WriteBuildRuns(ctx context.Context, runs []*BuildRun) (int, error)
	// WriteTestResults inserts rows in one transaction on one connection.
	WriteTestResults(ctx context.Context, rows []*TestResult) (int, error)

	ListBuildRuns(
		ctx context.Context, project string, subBuildLabel *string,
	) ([]BuildRun, error)
	ListTestResults(
		ctx context.Context, project string, buildNumber int, subBuildLabel *string,
	) ([]TestResult, error)

	Stats(ctx context.Context) ([]TableStats, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection, retrying up to the configured
// number of attempts, and creates missing tables.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	attempts := s.cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			db, err := gorm.Open(dialector, &gorm.Config{
				Logger: logger.Discard,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}

			sqlDB, err := db.DB()
			if err != nil {
				return fmt.Errorf("getting underlying db: %w", err)
			}

			if err := sqlDB.PingContext(ctx); err != nil {
				_ = sqlDB.Close()

				return fmt.Errorf("pinging database: %w", err)
			}

			s.db = db

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.WithError(err).WithField("attempt", n+1).
				Warn("Database connection failed, retrying")
		}),
	)
	if err != nil {
		return err
	}

	if err := s.configurePool(); err != nil {
		return err
	}

	if s.cfg.AutoMigrate {
		if err := s.migrate(ctx); err != nil {
			return err
		}
	}

	s.log.WithFields(logrus.Fields{
		"driver":       s.cfg.Driver,
		"builds_table": s.buildsTable(),
		"tests_table":  s.testResultsTable(),
	}).Info("Database connected")

	return nil
}

// configurePool sizes the connection pool. SQLite gets a single connection
// so concurrent writers queue on checkout instead of failing with BUSY, and
// so an in-memory database is shared by every writer.
func (s *store) configurePool() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)

		return nil
	}

	if s.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(s.cfg.MaxOpenConns)
	}

	return nil
}

func (s *store) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).
		Table(s.buildsTable()).
		AutoMigrate(&BuildRun{}); err != nil {
		return fmt.Errorf("migrating %s: %w", s.buildsTable(), err)
	}

	if err := s.db.WithContext(ctx).
		Table(s.testResultsTable()).
		AutoMigrate(&TestResult{}); err != nil {
		return fmt.Errorf("migrating %s: %w", s.testResultsTable(), err)
	}

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

	return sqlDB.Close()
}

func (s *store) buildsTable() string {
	if s.cfg.Tables.Builds != "" {
		return s.cfg.Tables.Builds
	}

	return BuildRun{}.TableName()
}

func (s *store) testResultsTable() string {
	if s.cfg.Tables.TestResults != "" {
		return s.cfg.Tables.TestResults
	}

	return TestResult{}.TableName()
}

// WriteBuildRuns inserts build rows as one batch.
func (s *store) WriteBuildRuns(
	ctx context.Context, runs []*BuildRun,
) (int, error) {
	if s.db == nil {
		return 0, ErrNotStarted
	}

	return writeBatch(ctx, s.db, s.buildsTable(), runs, s.cfg.MaxBatchRows)
}

// WriteTestResults inserts test case rows as one batch.
func (s *store) WriteTestResults(
	ctx context.Context, rows []*TestResult,
) (int, error) {
	if s.db == nil {
		return 0, ErrNotStarted
	}

	return writeBatch(ctx, s.db, s.testResultsTable(), rows, s.cfg.MaxBatchRows)
}

// writeBatch checks out a dedicated connection, inserts rows inside a
// single transaction and commits. The connection is returned to the pool
// on every path. Either every row is committed or none is.
func writeBatch[T any](
	ctx context.Context, db *gorm.DB, table string, rows []T, maxBatch int,
) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batchSize := len(rows)
	if maxBatch > 0 && batchSize > maxBatch {
		batchSize = maxBatch
	}

	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		return conn.Transaction(func(tx *gorm.DB) error {
			if err := tx.Table(table).
				CreateInBatches(rows, batchSize).Error; err != nil {
				return fmt.Errorf("inserting into %s: %w", table, err)
			}

			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	return len(rows), nil
}

// labelScope filters on the sub-build label, matching NULL for a nil label.
func labelScope(label *string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if label == nil {
			return db.Where("sub_build_label IS NULL")
		}

		return db.Where("sub_build_label = ?", *label)
	}
}

// ListBuildRuns returns the build rows of a project for one sub-build label
// (nil selects root builds) ordered by build number.
func (s *store) ListBuildRuns(
	ctx context.Context, project string, subBuildLabel *string,
) ([]BuildRun, error) {
	if s.db == nil {
		return nil, ErrNotStarted
	}

	var runs []BuildRun
	if err := s.db.WithContext(ctx).
		Table(s.buildsTable()).
		Where("project = ?", project).
		Scopes(labelScope(subBuildLabel)).
		Order("build_number, id").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing build runs: %w", err)
	}

	return runs, nil
}

// ListTestResults returns the test case rows of one build or sub-build in
// insertion order.
func (s *store) ListTestResults(
	ctx context.Context, project string, buildNumber int, subBuildLabel *string,
) ([]TestResult, error) {
	if s.db == nil {
		return nil, ErrNotStarted
	}

	var rows []TestResult
	if err := s.db.WithContext(ctx).
		Table(s.testResultsTable()).
		Where("project = ? AND build_number = ?", project, buildNumber).
		Scopes(labelScope(subBuildLabel)).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing test results: %w", err)
	}

	return rows, nil
}

// Stats returns the row count and latest insertion time of both tables.
func (s *store) Stats(ctx context.Context) ([]TableStats, error) {
	if s.db == nil {
		return nil, ErrNotStarted
	}

	builds, err := tableStats[BuildRun](ctx, s.db, s.buildsTable(),
		func(r BuildRun) time.Time { return r.InsertedAt })
	if err != nil {
		return nil, err
	}

	tests, err := tableStats[TestResult](ctx, s.db, s.testResultsTable(),
		func(r TestResult) time.Time { return r.InsertedAt })
	if err != nil {
		return nil, err
	}

	return []TableStats{builds, tests}, nil
}

func tableStats[T any](
	ctx context.Context, db *gorm.DB, table string, insertedAt func(T) time.Time,
) (TableStats, error) {
	stats := TableStats{Table: table}

	if err := db.WithContext(ctx).
		Table(table).
		Count(&stats.Rows).Error; err != nil {
		return stats, fmt.Errorf("counting %s: %w", table, err)
	}

	if stats.Rows == 0 {
		return stats, nil
	}

	var latest []T
	if err := db.WithContext(ctx).
		Table(table).
		Order("id DESC").
		Limit(1).
		Find(&latest).Error; err != nil {
		return stats, fmt.Errorf("reading latest %s row: %w", table, err)
	}

	if len(latest) == 1 {
		t := insertedAt(latest[0])
		stats.LastInsertedAt = &t
	}

	return stats, nil
}
