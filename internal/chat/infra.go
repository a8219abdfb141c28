package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const DefaultSlotKey = "finbot-messages"

var slotBucket = []byte("finbot")

// ------------------------------------------------------------
// bbolt
// ------------------------------------------------------------

// BoltSlot keeps the conversation under one key of a bbolt file.
type BoltSlot struct {
	db  *bolt.DB
	key []byte
}

func OpenBoltSlot(path, key string) (*BoltSlot, error) {
	if key == "" {
		key = DefaultSlotKey
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(slotBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltSlot{db: db, key: []byte(key)}, nil
}

func (s *BoltSlot) Load(_ context.Context) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(slotBucket)
		if b == nil {
			return nil
		}
		if v := b.Get(s.key); v != nil {
			// v живёт только внутри транзакции
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *BoltSlot) Save(_ context.Context, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(slotBucket)
		if err != nil {
			return err
		}
		return b.Put(s.key, data)
	})
}

func (s *BoltSlot) Delete(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(slotBucket)
		if b == nil {
			return nil
		}
		return b.Delete(s.key)
	})
}

func (s *BoltSlot) Close() error {
	return s.db.Close()
}

// ------------------------------------------------------------
// SQL (postgres / sqlite)
// ------------------------------------------------------------

type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// SQLSlot keeps the conversation as one row of a kv_slots table.
type SQLSlot struct {
	db      *sql.DB
	key     string
	dialect Dialect
}

func NewSQLSlot(ctx context.Context, db *sql.DB, dialect Dialect, key string) (*SQLSlot, error) {
	if key == "" {
		key = DefaultSlotKey
	}

	valueType := "BYTEA"
	if dialect == DialectSQLite {
		valueType = "BLOB"
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_slots (
			slot_key   TEXT PRIMARY KEY,
			slot_value `+valueType+` NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create kv_slots: %w", err)
	}

	return &SQLSlot{db: db, key: key, dialect: dialect}, nil
}

func (s *SQLSlot) Load(ctx context.Context) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT slot_value FROM kv_slots WHERE slot_key = $1`),
		s.key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

func (s *SQLSlot) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO kv_slots (slot_key, slot_value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (slot_key) DO UPDATE SET slot_value = excluded.slot_value, updated_at = excluded.updated_at
	`),
		s.key,
		data,
	)
	return err
}

func (s *SQLSlot) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM kv_slots WHERE slot_key = $1`), s.key)
	return err
}

func (s *SQLSlot) Close() error {
	return s.db.Close()
}

// sqlite понимает $1 тоже, но ?N надёжнее для modernc
func (s *SQLSlot) rebind(q string) string {
	if s.dialect != DialectSQLite {
		return q
	}
	out := make([]byte, 0, len(q))
	for i := 0; i < len(q); i++ {
		if q[i] == '$' {
			out = append(out, '?')
			continue
		}
		out = append(out, q[i])
	}
	return string(out)
}

// ------------------------------------------------------------
// wiring
// ------------------------------------------------------------

// OpenSlot opens the backend named by STORE_BACKEND. SQL drivers
// ("postgres", "sqlite") must be registered by the caller.
func OpenSlot(ctx context.Context, backend, path, dsn, key string) (Slot, error) {
	switch backend {
	case "memory":
		return NewMemorySlot(), nil
	case "postgres":
		if dsn == "" {
			return nil, errors.New("DATABASE_URL is not set")
		}
		return openSQLSlot(ctx, "postgres", dsn, DialectPostgres, key)
	case "sqlite":
		return openSQLSlot(ctx, "sqlite", path, DialectSQLite, key)
	case "bolt", "":
		return OpenBoltSlot(path, key)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

func openSQLSlot(ctx context.Context, driver, dsn string, dialect Dialect, key string) (Slot, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	slot, err := NewSQLSlot(ctx, db, dialect, key)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return slot, nil
}

// ------------------------------------------------------------
// memory
// ------------------------------------------------------------

// MemorySlot — для тестов и STORE_BACKEND=memory.
type MemorySlot struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	deletes int
	failErr error
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{}
}

// NewMemorySlotWith starts the slot with pre-existing bytes.
func NewMemorySlotWith(data []byte) *MemorySlot {
	return &MemorySlot{data: append([]byte(nil), data...)}
}

func (s *MemorySlot) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemorySlot) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

func (s *MemorySlot) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.data = nil
	s.deletes++
	return nil
}

func (s *MemorySlot) Close() error { return nil }

// Fail makes every following call return err (nil restores).
func (s *MemorySlot) Fail(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

func (s *MemorySlot) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

func (s *MemorySlot) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
