package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/stringpool/internal/blob"
	"github.com/roach88/stringpool/internal/clock"
	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/ident"
	"github.com/roach88/stringpool/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added idx_identifiers_value for identifier lookups
const currentSchemaVersion = 1

// maxOpenConns bounds the pool. Readers run concurrently under WAL; writers
// queue on the immediate transaction lock.
const maxOpenConns = 4

// IndexSpec declares one secondary attribute column of string_index.
type IndexSpec struct {
	// Name is the column name. Must satisfy querysql.ValidColumnName.
	Name string

	// CaseSensitive columns keep values as extracted; others are
	// lowercased on write and matched lowercased.
	CaseSensitive bool

	// Extract returns the column value for a structured blob. Nil reads
	// the detail of the same name (codec.Details).
	Extract func(parsed []byte) string
}

// IdentifierExtractor returns the external identifiers of a structured
// blob, keyed by identifier type.
type IdentifierExtractor func(parsed []byte) (map[string]string, error)

// Option configures a Store.
type Option func(*options)

type options struct {
	blobs       *blob.Store
	compression blob.Compression
	ident       *ident.Engine
	indexes     []IndexSpec
	identifiers IdentifierExtractor
	clock       clock.Clock
}

// WithBlobStore sets the blob area. Defaults to a "blobs" directory next
// to the database file.
func WithBlobStore(b *blob.Store) Option {
	return func(o *options) { o.blobs = b }
}

// WithCompression sets the compression of the default blob area.
func WithCompression(c blob.Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithIdentity sets the identity engine. Defaults to ident.Default().
func WithIdentity(e *ident.Engine) Option {
	return func(o *options) { o.ident = e }
}

// WithIndexes registers secondary attribute columns.
func WithIndexes(specs ...IndexSpec) Option {
	return func(o *options) { o.indexes = append(o.indexes, specs...) }
}

// WithIdentifierExtractor replaces the default identifier extractor
// (codec.Identifiers).
func WithIdentifierExtractor(fn IdentifierExtractor) Option {
	return func(o *options) { o.identifiers = fn }
}

// WithClock sets the clock used for local update times.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Store provides durable storage for the string pool.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db          *sql.DB
	blobs       *blob.Store
	ident       *ident.Engine
	clock       clock.Clock
	indexes     []IndexSpec
	identifiers IdentifierExtractor
	compiler    *querysql.SQLCompiler
	locks       *keyedMutex
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas, migrations and registered index columns.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//   - Immediate write transactions
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{compression: blob.CompressionZstd}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ident == nil {
		o.ident = ident.Default()
	}
	if o.clock == nil {
		o.clock = clock.NewSystem()
	}
	if o.identifiers == nil {
		o.identifiers = codec.Identifiers
	}
	for _, spec := range o.indexes {
		if !querysql.ValidColumnName(spec.Name) {
			return nil, fmt.Errorf("invalid index column name %q", spec.Name)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := ensureIndexColumns(db, o.indexes); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply index columns: %w", err)
	}

	if o.blobs == nil {
		o.blobs, err = blob.Open(filepath.Join(filepath.Dir(path), "blobs"), o.compression)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	indexCols := make(map[string]bool, len(o.indexes))
	for _, spec := range o.indexes {
		indexCols[spec.Name] = spec.CaseSensitive
	}

	return &Store{
		db:          db,
		blobs:       o.blobs,
		ident:       o.ident,
		clock:       o.clock,
		indexes:     o.indexes,
		identifiers: o.identifiers,
		compiler:    querysql.NewSQLCompiler(recordColumns, indexCols),
		locks:       newKeyedMutex(),
	}, nil
}

// dsn builds the connection string. Pragmas go in the DSN so that every
// pooled connection gets them.
func dsn(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Identity returns the identity engine the store derives ids with.
func (s *Store) Identity() *ident.Engine {
	return s.ident
}

// Blobs returns the blob area holding structured representations.
func (s *Store) Blobs() *blob.Store {
	return s.blobs
}

// Now returns the store clock's current time in milliseconds.
func (s *Store) Now() int64 {
	return s.clock.NowMillis()
}

// IndexColumns returns the registered index column names, sorted.
func (s *Store) IndexColumns() []string {
	names := make([]string, len(s.indexes))
	for i, spec := range s.indexes {
		names[i] = spec.Name
	}
	sort.Strings(names)
	return names
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds the identifier value index to databases created before
// identifier search existed.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_identifiers_value
		ON string_identifiers(id_type, id_value)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// ensureIndexColumns adds missing string_index columns. Columns are never
// dropped; an unregistered column is simply not written or queried.
func ensureIndexColumns(db *sql.DB, specs []IndexSpec) error {
	if len(specs) == 0 {
		return nil
	}
	rows, err := db.Query("PRAGMA table_info(string_index)")
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[strings.ToLower(name)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, spec := range specs {
		if existing[strings.ToLower(spec.Name)] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE string_index ADD COLUMN %s TEXT NOT NULL DEFAULT ''", spec.Name)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s: %w", spec.Name, err)
		}
		stmt = fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_string_index_%s ON string_index(%s)", spec.Name, spec.Name)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("index column %s: %w", spec.Name, err)
		}
		existing[strings.ToLower(spec.Name)] = true
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
