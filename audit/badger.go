package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/badger/v3"
)

var keyPrefix = []byte("audit/")

// BadgerRecorder persists events in a badger store. Keys are the prefix,
// the big-endian event time in nanoseconds and a process-local sequence, so
// a forward iteration yields events in timestamp order.
type BadgerRecorder struct {
	db     *badger.DB
	seq    atomic.Uint64
	logger *slog.Logger
}

// OpenBadger opens (or creates) an audit store in dir. An empty dir keeps
// the store in memory.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "audit_store"))

	opts := badger.DefaultOptions(dir).
		WithLogger(&badgerLoggerAdapter{slogger: logger}).
		WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return &BadgerRecorder{db: db, logger: logger}, nil
}

// Record stores e. Write failures are logged; recording never blocks the
// caller's pipeline with an error.
func (b *BadgerRecorder) Record(e Event) {
	if err := b.Put(e); err != nil {
		b.logger.Error("failed to persist audit event",
			slog.String("event_id", e.ID),
			slog.String("action", string(e.Action)),
			slog.Any("error", err))
	}
}

// Put stores e and reports any failure.
func (b *BadgerRecorder) Put(e Event) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	key := b.key(e)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (b *BadgerRecorder) key(e Event) []byte {
	key := make([]byte, len(keyPrefix)+16)
	n := copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[n:], uint64(e.Timestamp.UnixNano())) //nolint:gosec // timestamps after 1970
	binary.BigEndian.PutUint64(key[n+8:], b.seq.Add(1))
	return key
}

// Events returns every stored event in timestamp order.
func (b *BadgerRecorder) Events() ([]Event, error) {
	return b.scan(func(Event) bool { return true })
}

// ForFile returns the stored events for fileID in timestamp order.
func (b *BadgerRecorder) ForFile(fileID string) ([]Event, error) {
	return b.scan(func(e Event) bool { return e.FileID == fileID })
}

func (b *BadgerRecorder) scan(keep func(Event) bool) ([]Event, error) {
	var out []Event
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e Event
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				if keep(e) {
					out = append(out, e)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("decode audit event %x: %w", item.KeyCopy(nil), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close flushes and closes the store.
func (b *BadgerRecorder) Close() error {
	return b.db.Close()
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger
type badgerLoggerAdapter struct {
	slogger *slog.Logger
}

func (a *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	a.slogger.Error(fmt.Sprintf(format, args...))
}

func (a *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	a.slogger.Warn(fmt.Sprintf(format, args...))
}

func (a *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	a.slogger.Info(fmt.Sprintf(format, args...))
}

func (a *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	a.slogger.Debug(fmt.Sprintf(format, args...))
}
