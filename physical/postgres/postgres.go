package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-secure-stdlib/parseutil"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/physical"
)

const (
	defaultTable = "jwtsecrets_kv_store"

	// connectionURLEnv takes precedence over the connection_url option.
	connectionURLEnv = "JWTSECRETS_PG_CONNECTION_URL"
)

func init() {
	physical.Register("postgres", func(conf map[string]string, logger *log.GatedLogger) (physical.Storage, error) {
		return NewPostgreSQLStorage(conf, logger)
	})
}

// PostgreSQLStorage keeps entries in a single table indexed by
// (path, key), with parent_path allowing one-query listing of the
// immediate children of a prefix.
type PostgreSQLStorage struct {
	table  string
	client *sql.DB

	putQuery             string
	getQuery             string
	deleteQuery          string
	listQuery            string
	listPageQuery        string
	listPageLimitedQuery string

	logger *log.GatedLogger
}

var _ physical.Storage = (*PostgreSQLStorage)(nil)

type storageConfig struct {
	ConnectionURL      string `mapstructure:"connection_url"`
	Table              string `mapstructure:"table"`
	MaxParallel        string `mapstructure:"max_parallel"`
	MaxIdleConnections string `mapstructure:"max_idle_connections"`
	MaxConnLifetime    string `mapstructure:"max_connection_lifetime"`
	SkipCreateTable    string `mapstructure:"skip_create_table"`
}

func connectionURL(conf map[string]string) string {
	if url := os.Getenv(connectionURLEnv); url != "" {
		return url
	}
	return conf["connection_url"]
}

// NewPostgreSQLStorage opens a pgx-backed connection pool and prepares the
// table unless skip_create_table is set.
func NewPostgreSQLStorage(conf map[string]string, logger *log.GatedLogger) (*PostgreSQLStorage, error) {
	var cfg storageConfig
	if err := mapstructure.Decode(conf, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode postgres storage config: %w", err)
	}
	cfg.ConnectionURL = connectionURL(conf)
	if cfg.ConnectionURL == "" {
		return nil, errors.New("missing connection_url")
	}

	db, err := sql.Open("pgx", cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s, err := newWithDB(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newWithDB(db *sql.DB, cfg storageConfig, logger *log.GatedLogger) (*PostgreSQLStorage, error) {
	if cfg.MaxParallel != "" {
		n, err := parseutil.ParseInt(cfg.MaxParallel)
		if err != nil {
			return nil, fmt.Errorf("failed parsing max_parallel: %w", err)
		}
		db.SetMaxOpenConns(int(n))
	}
	if cfg.MaxIdleConnections != "" {
		n, err := parseutil.ParseInt(cfg.MaxIdleConnections)
		if err != nil {
			return nil, fmt.Errorf("failed parsing max_idle_connections: %w", err)
		}
		db.SetMaxIdleConns(int(n))
	}
	if cfg.MaxConnLifetime != "" {
		d, err := parseutil.ParseDurationSecond(cfg.MaxConnLifetime)
		if err != nil {
			return nil, fmt.Errorf("failed parsing max_connection_lifetime: %w", err)
		}
		db.SetConnMaxLifetime(d)
	}

	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	s := newStorage(db, physical.QuoteIdentifier(table), logger)

	skip := false
	if cfg.SkipCreateTable != "" {
		var err error
		if skip, err = parseutil.ParseBool(cfg.SkipCreateTable); err != nil {
			return nil, fmt.Errorf("failed parsing skip_create_table: %w", err)
		}
	}
	if !skip {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := db.ExecContext(ctx, s.createTableQuery()); err != nil {
			return nil, fmt.Errorf("failed to create table %s: %w", s.table, err)
		}
		if logger != nil {
			logger.Debug("storage table ready", log.String("table", s.table))
		}
	}
	return s, nil
}

func newStorage(db *sql.DB, quotedTable string, logger *log.GatedLogger) *PostgreSQLStorage {
	children := ` UNION ALL SELECT DISTINCT substring(substr(path, length($1)+1) from '^.*?/') FROM ` + quotedTable +
		` WHERE parent_path LIKE $1 || '%'`
	return &PostgreSQLStorage{
		table:  quotedTable,
		client: db,
		putQuery: `INSERT INTO ` + quotedTable + ` VALUES($1, $2, $3, $4)` +
			` ON CONFLICT (path, key) DO` +
			` UPDATE SET (parent_path, path, key, value) = ($1, $2, $3, $4)`,
		getQuery:    `SELECT value FROM ` + quotedTable + ` WHERE path = $1 AND key = $2`,
		deleteQuery: `DELETE FROM ` + quotedTable + ` WHERE path = $1 AND key = $2`,
		listQuery: `SELECT key FROM ` + quotedTable + ` WHERE path = $1` +
			children +
			` ORDER BY key`,
		listPageQuery: `SELECT key FROM ` + quotedTable + ` WHERE path = $1 AND key > $2` +
			children + ` AND substring(substr(path, length($1)+1) from '^.*?/') > $2` +
			` ORDER BY key`,
		listPageLimitedQuery: `SELECT key FROM ` + quotedTable + ` WHERE path = $1 AND key > $2` +
			children + ` AND substring(substr(path, length($1)+1) from '^.*?/') > $2` +
			` ORDER BY key LIMIT $3`,
		logger: logger,
	}
}

func (m *PostgreSQLStorage) createTableQuery() string {
	return `CREATE TABLE IF NOT EXISTS ` + m.table + ` (` +
		`parent_path TEXT COLLATE "C" NOT NULL, ` +
		`path TEXT COLLATE "C", ` +
		`key TEXT COLLATE "C", ` +
		`value BYTEA, ` +
		`CONSTRAINT pkey PRIMARY KEY (path, key))`
}

// splitKey maps "a/b/c" to parent "/a/", path "/a/b/" and key "c".
func (m *PostgreSQLStorage) splitKey(fullPath string) (string, string, string) {
	pieces := strings.Split(fullPath, "/")
	depth := len(pieces)
	key := pieces[depth-1]

	switch depth {
	case 1:
		return "", "/", key
	case 2:
		return "/", "/" + pieces[0] + "/", key
	default:
		return "/" + strings.Join(pieces[:depth-2], "/") + "/",
			"/" + strings.Join(pieces[:depth-1], "/") + "/",
			key
	}
}

func (m *PostgreSQLStorage) Put(ctx context.Context, entry *physical.Entry) error {
	if err := physical.CheckKey(entry.Key); err != nil {
		return err
	}
	parentPath, path, key := m.splitKey(entry.Key)
	if _, err := m.client.ExecContext(ctx, m.putQuery, parentPath, path, key, entry.Value); err != nil {
		return fmt.Errorf("failed to put %q: %w", entry.Key, err)
	}
	return nil
}

func (m *PostgreSQLStorage) Get(ctx context.Context, fullPath string) (*physical.Entry, error) {
	if err := physical.CheckKey(fullPath); err != nil {
		return nil, err
	}
	_, path, key := m.splitKey(fullPath)

	var value []byte
	err := m.client.QueryRowContext(ctx, m.getQuery, path, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", fullPath, err)
	}
	return &physical.Entry{Key: fullPath, Value: value}, nil
}

func (m *PostgreSQLStorage) Delete(ctx context.Context, fullPath string) error {
	if err := physical.CheckKey(fullPath); err != nil {
		return err
	}
	_, path, key := m.splitKey(fullPath)
	if _, err := m.client.ExecContext(ctx, m.deleteQuery, path, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", fullPath, err)
	}
	return nil
}

func (m *PostgreSQLStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := physical.CheckKey(prefix); err != nil {
		return nil, err
	}
	rows, err := m.client.QueryContext(ctx, m.listQuery, "/"+prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	return scanKeys(rows)
}

func (m *PostgreSQLStorage) ListPage(ctx context.Context, prefix string, after string, limit int) ([]string, error) {
	if err := physical.CheckKey(prefix); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	var err error
	if limit <= 0 {
		rows, err = m.client.QueryContext(ctx, m.listPageQuery, "/"+prefix, after)
	} else {
		rows, err = m.client.QueryContext(ctx, m.listPageLimitedQuery, "/"+prefix, after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	return scanKeys(rows)
}

func scanKeys(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan rows: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close releases the connection pool.
func (m *PostgreSQLStorage) Close() error {
	return m.client.Close()
}
