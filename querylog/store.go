package querylog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // registers the pure Go "sqlite" driver

	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/log"
)

const (
	sqliteDriverName = "sqlite"
	memoryTarget     = ":memory:"
	busyTimeoutMs    = 5000
)

// Store persists query log entries in a relational database
type Store struct {
	db     *gorm.DB
	dbType config.DatabaseType
}

func logger() *logrus.Entry {
	return log.PrefixedLog("querylog_store")
}

// NewStore opens the configured database and creates the schema if it does not exist
func NewStore(cfg config.Database) (*Store, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case config.DatabaseTypeSqlite:
		conn, err := openSqlite(cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("can't create database connection: %w", err)
		}

		dialector = sqlite.New(sqlite.Config{DriverName: sqliteDriverName, Conn: conn})
	case config.DatabaseTypeMysql:
		dialector = mysql.Open(cfg.Target)
	case config.DatabaseTypePostgresql:
		dialector = postgres.Open(cfg.Target)
	default:
		return nil, fmt.Errorf("incorrect database type provided: '%s'", cfg.Type)
	}

	attempts := cfg.CreationAttempts
	if attempts < 1 {
		attempts = 1
	}

	return newStore(dialector, cfg.Type, uint(attempts), cfg.CreationCooldown.ToDuration())
}

func newStore(dialector gorm.Dialector, dbType config.DatabaseType,
	creationAttempts uint, creationCooldown time.Duration,
) (*Store, error) {
	var db *gorm.DB

	err := retry.Do(
		func() error {
			var err error
			db, err = gorm.Open(dialector, &gorm.Config{
				Logger: gormlogger.Default.LogMode(gormlogger.Silent),
			})

			return err
		},
		retry.Attempts(creationAttempts),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(creationCooldown),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger().WithField("attempt", fmt.Sprintf("%d/%d", n+1, creationAttempts)).
				Warnf("can't create database connection: %s", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("can't create database connection: %w", err)
	}

	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, fmt.Errorf("can't perform auto migration: %w", err)
	}

	return &Store{db: db, dbType: dbType}, nil
}

// openSqlite opens the embedded database in WAL mode with synchronous=NORMAL
func openSqlite(target string) (*sql.DB, error) {
	conn, err := sql.Open(sqliteDriverName, sqliteDSN(target))
	if err != nil {
		return nil, err
	}

	if target == memoryTarget {
		// every connection would open its own empty in-memory database
		conn.SetMaxOpenConns(1)
	}

	return conn, nil
}

func sqliteDSN(target string) string {
	pragmas := []string{
		"_pragma=busy_timeout(" + fmt.Sprint(busyTimeoutMs) + ")",
		"_pragma=synchronous(NORMAL)",
		"_txlock=immediate",
	}

	if target != memoryTarget {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}

	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}

	return target + sep + strings.Join(pragmas, "&")
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
