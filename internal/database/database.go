// Package database resolves store URLs and opens the operational and analytical stores.
package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/parkingsync/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/parkingsync/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Driver names the database product behind a store URL.
type Driver string

const (
	DriverMySQL     Driver = "mysql"
	DriverStarRocks Driver = "starrocks"
	DriverPostgres  Driver = "postgres"
	DriverSQLite    Driver = "sqlite"
)

// Engine names the Go client used to talk to a store.
type Engine string

const (
	EngineGorm Engine = "gorm"
	EnginePgx  Engine = "pgx"
)

const (
	defaultMySQLPort     = "3306"
	defaultStarRocksPort = "9030"
	defaultSQLiteFile    = "parking.db"
	sqliteScheme         = "sqlite://"
)

var errUnsupportedEngine = errors.New("unsupported engine")

// Store is everything a parking store session offers.
type Store interface {
	parking.OperationalStore
	parking.BulkInserter
	parking.SnapshotReader
	parking.UpsertWriter
	parking.RunJournal
	Close() error
}

// Target is a resolved store URL.
type Target struct {
	Driver Driver
	// DSN is in the form the driver expects.
	DSN string
}

// Resolve maps a store URL to its driver. mysql:// and starrocks:// URLs are rewritten to
// go-sql-driver DSNs; anything without a known scheme is a SQLite path.
func Resolve(rawURL string) (Target, error) {
	trimmed := strings.TrimSpace(rawURL)
	switch {
	case trimmed == "":
		return Target{}, fmt.Errorf("%w: store url is empty", parking.ErrInvalidServiceConfig)
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return Target{Driver: DriverPostgres, DSN: trimmed}, nil
	case strings.HasPrefix(trimmed, "mysql://"):
		dsn, err := mysqlDSN(trimmed, defaultMySQLPort)
		return Target{Driver: DriverMySQL, DSN: dsn}, err
	case strings.HasPrefix(trimmed, "starrocks://"):
		dsn, err := mysqlDSN(trimmed, defaultStarRocksPort)
		return Target{Driver: DriverStarRocks, DSN: dsn}, err
	case strings.HasPrefix(trimmed, sqliteScheme):
		// Everything after the scheme is a path: sqlite://data/x.db is relative, sqlite:///data/x.db is absolute.
		path, _, _ := strings.Cut(strings.TrimPrefix(trimmed, sqliteScheme), "?")
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return Target{Driver: DriverSQLite, DSN: sqlitePath}, err
	default:
		sqlitePath, err := normalizeSQLitePath(trimmed)
		return Target{Driver: DriverSQLite, DSN: sqlitePath}, err
	}
}

func mysqlDSN(rawURL string, defaultPort string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %w", parking.ErrInvalidServiceConfig, err)
	}
	config := mysqldriver.NewConfig()
	config.Net = "tcp"
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = defaultPort
	}
	config.Addr = net.JoinHostPort(host, port)
	if parsed.User != nil {
		config.User = parsed.User.Username()
		config.Passwd, _ = parsed.User.Password()
	}
	config.DBName = strings.TrimPrefix(parsed.Path, "/")
	config.ParseTime = true
	config.Loc = time.UTC
	for key, values := range parsed.Query() {
		if len(values) == 0 {
			continue
		}
		if config.Params == nil {
			config.Params = map[string]string{}
		}
		config.Params[key] = values[len(values)-1]
	}
	return config.FormatDSN(), nil
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	relative := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(relative), 0o755); err != nil {
		return "", err
	}
	return relative, nil
}

// ValidateEngine rejects engine and driver combinations that cannot work.
func ValidateEngine(target Target, engine Engine) error {
	switch engine {
	case EngineGorm:
		return nil
	case EnginePgx:
		if target.Driver != DriverPostgres {
			return fmt.Errorf("%w: %w: pgx requires a postgres url, got %s", parking.ErrInvalidServiceConfig, errUnsupportedEngine, target.Driver)
		}
		return nil
	default:
		return fmt.Errorf("%w: %w: %q", parking.ErrInvalidServiceConfig, errUnsupportedEngine, engine)
	}
}

// OpenGorm opens and pings a gorm connection to target.
func OpenGorm(ctx context.Context, target Target) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch target.Driver {
	case DriverMySQL, DriverStarRocks:
		dialector = mysql.Open(target.DSN)
	case DriverPostgres:
		dialector = postgres.Open(target.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(target.DSN)
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", parking.ErrInvalidServiceConfig, target.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, parking.ConnectionError(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, parking.ConnectionError(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, parking.ConnectionError(err)
	}
	return db, nil
}

// Open returns a long-lived store for target, pooled where the engine pools.
func Open(ctx context.Context, target Target, engine Engine, batchSize int) (Store, error) {
	if err := ValidateEngine(target, engine); err != nil {
		return nil, err
	}
	if engine == EnginePgx {
		pool, err := pgxpool.New(ctx, target.DSN)
		if err != nil {
			return nil, parking.ConnectionError(err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, parking.ConnectionError(err)
		}
		return pgstore.New(pool).WithBatchSize(batchSize), nil
	}
	db, err := OpenGorm(ctx, target)
	if err != nil {
		return nil, err
	}
	return gormstore.New(db, gormOptions(target, batchSize)...), nil
}

// Dial opens a single-session store for one replication cycle.
func Dial(ctx context.Context, target Target, engine Engine, batchSize int) (Store, error) {
	if err := ValidateEngine(target, engine); err != nil {
		return nil, err
	}
	if engine == EnginePgx {
		store, err := pgstore.Dial(ctx, target.DSN)
		if err != nil {
			return nil, err
		}
		return store.WithBatchSize(batchSize), nil
	}
	db, err := OpenGorm(ctx, target)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, parking.ConnectionError(err)
	}
	sqlDB.SetMaxOpenConns(1)
	return gormstore.New(db, gormOptions(target, batchSize)...), nil
}

// SourceDialer returns a dialer that opens a fresh operational session per cycle.
func SourceDialer(target Target, engine Engine) parking.SourceDialer {
	return func(ctx context.Context) (parking.SourceSession, error) {
		return Dial(ctx, target, engine, 0)
	}
}

// SinkDialer returns a dialer that opens a fresh analytical session per cycle.
func SinkDialer(target Target, engine Engine, batchSize int) parking.SinkDialer {
	return func(ctx context.Context) (parking.SinkSession, error) {
		return Dial(ctx, target, engine, batchSize)
	}
}

func gormOptions(target Target, batchSize int) []gormstore.Option {
	options := []gormstore.Option{gormstore.WithBatchSize(batchSize)}
	if target.Driver == DriverStarRocks {
		options = append(options, gormstore.WithUpsertMode(gormstore.UpsertPlainInsert))
	}
	return options
}
