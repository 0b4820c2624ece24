// Package store is the entity store: keyed tables of derived records backed by
// gorm, with load-or-create and full upsert semantics, per-event transactions
// and a revision journal used to rewind over chain reorganisations.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrUnsupportedDriver is returned by Open for an unknown driver name.
	ErrUnsupportedDriver = errors.New("store: unsupported driver")
	// ErrReadOnly is returned when a write is attempted outside a transaction.
	ErrReadOnly = errors.New("store: write outside transaction")

	columnName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// Options selects the database.
type Options struct {
	Driver string
	DSN    string
	Debug  bool
}

// Store owns the database handle.
type Store struct {
	db *gorm.DB
}

// Open connects and migrates.
func Open(opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if opts.Debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) handle() *gorm.DB { return s.db }

// Tx is one atomic unit of writes attributed to a block.
type Tx struct {
	db    *gorm.DB
	block uint64
}

// Block is the block the writes are attributed to.
func (t *Tx) Block() uint64 { return t.block }

func (t *Tx) handle() *gorm.DB { return t.db }

// Handle is satisfied by *Store (reads only) and *Tx.
type Handle interface {
	handle() *gorm.DB
}

// Transaction runs fn atomically. Every write inside it is journalled against
// block; a returned error rolls all of them back.
func (s *Store) Transaction(ctx context.Context, block uint64, fn func(tx *Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db, block: block})
	})
}

// Model constrains generic helpers to pointers of entity structs.
type Model[T any] interface {
	*T
	Entity
	setKey(string)
	touch(uint64)
}

// Load fetches the entity keyed id. It returns nil when absent.
func Load[T any, P Model[T]](h Handle, id string) (P, error) {
	var rows []T
	if err := h.handle().Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s %s: %w", P(new(T)).TableName(), id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return P(&rows[0]), nil
}

// LoadOrCreate fetches the entity keyed id or returns a fresh unsaved one.
func LoadOrCreate[T any, P Model[T]](h Handle, id string) (P, bool, error) {
	found, err := Load[T, P](h, id)
	if err != nil {
		return nil, false, err
	}
	if found != nil {
		return found, false, nil
	}
	fresh := P(new(T))
	fresh.setKey(id)
	return fresh, true, nil
}

func loadEntity[T any, P Model[T]](h Handle, id string) func() (Entity, error) {
	return func() (Entity, error) {
		found, err := Load[T, P](h, id)
		if err != nil || found == nil {
			return nil, err
		}
		return found, nil
	}
}

// Exists reports whether id is stored.
func Exists[T any, P Model[T]](h Handle, id string) (bool, error) {
	found, err := Load[T, P](h, id)
	return found != nil, err
}

// Save fully overwrites the stored record.
func Save[T any, P Model[T]](tx *Tx, entity P) error {
	if tx == nil {
		return ErrReadOnly
	}
	if entity.Key() == "" {
		return fmt.Errorf("save %s: empty id", entity.TableName())
	}
	if err := tx.journal(entity.TableName(), entity.Key(), loadEntity[T, P](tx, entity.Key())); err != nil {
		return err
	}
	entity.touch(tx.block)
	if err := tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(entity).Error; err != nil {
		return fmt.Errorf("save %s %s: %w", entity.TableName(), entity.Key(), err)
	}
	return nil
}

// Delete removes the record keyed id. Missing records are ignored.
func Delete[T any, P Model[T]](tx *Tx, id string) error {
	if tx == nil {
		return ErrReadOnly
	}
	table := P(new(T)).TableName()
	if err := tx.journal(table, id, loadEntity[T, P](tx, id)); err != nil {
		return err
	}
	if err := tx.db.Where("id = ?", id).Delete(P(new(T))).Error; err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

// Query narrows a list scan. Where keys and Order are column names and must be
// validated by the caller against an allowlist.
type Query struct {
	Where map[string]any
	// In restricts a column to a set of values.
	In      map[string][]string
	Order   string
	Desc    bool
	Numeric bool
	Limit   int
	Offset  int
}

// List scans records matching q, ordered by q.Order then id.
func List[T any, P Model[T]](h Handle, q Query) ([]T, error) {
	db := h.handle().Model(P(new(T)))
	for col, value := range q.Where {
		if !columnName.MatchString(col) {
			return nil, fmt.Errorf("store: invalid column %q", col)
		}
		db = db.Where(clause.Eq{Column: clause.Column{Name: col}, Value: value})
	}
	for col, values := range q.In {
		if !columnName.MatchString(col) {
			return nil, fmt.Errorf("store: invalid column %q", col)
		}
		in := make([]any, len(values))
		for i, v := range values {
			in[i] = v
		}
		db = db.Where(clause.IN{Column: clause.Column{Name: col}, Values: in})
	}
	if q.Order != "" {
		if !columnName.MatchString(q.Order) {
			return nil, fmt.Errorf("store: invalid order column %q", q.Order)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		if q.Numeric {
			db = db.Order(fmt.Sprintf("CAST(%s AS NUMERIC) %s", q.Order, dir))
		} else {
			db = db.Order(fmt.Sprintf("%s %s", q.Order, dir))
		}
	}
	db = db.Order("id ASC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}
	var rows []T
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", P(new(T)).TableName(), err)
	}
	return rows, nil
}
