// Package history archives reports of finished workload runs in a Badger
// database so runs can be compared later.
package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/jamesainslie/scanshare/pkg/scanshare/stats"
)

// Key prefixes.
const (
	prefixRun   = "r:" // r:<start nanos BE><id> -> Report
	prefixIndex = "i:" // i:<id> -> run key
	prefixMeta  = "m:"
)

// lastRunKey sorts after every run key; reverse iteration starts here.
var lastRunKey = append([]byte(prefixRun), bytes.Repeat([]byte{0xff}, 64)...)

// ErrNotFound is returned when no report has the requested id.
var ErrNotFound = errors.New("report not found")

// Report describes one workload run.
type Report struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Workers         int      `json:"workers" yaml:"workers"`
	MaxThreads      int      `json:"max_threads" yaml:"max_threads"`
	MaxActiveChunks int      `json:"max_active_chunks" yaml:"max_active_chunks"`
	Disks           []string `json:"disks" yaml:"disks"`

	Submitted uint64 `json:"submitted" yaml:"submitted"`
	Completed uint64 `json:"completed" yaml:"completed"`
	Failed    uint64 `json:"failed" yaml:"failed"`
	Dropped   uint64 `json:"dropped" yaml:"dropped"`

	BytesRead   uint64 `json:"bytes_read" yaml:"bytes_read"`
	CacheHits   uint64 `json:"cache_hits" yaml:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses" yaml:"cache_misses"`

	Chunks []stats.ChunkStats `json:"chunks,omitempty" yaml:"chunks,omitempty"`
}

// Elapsed returns the wall time of the run.
func (r *Report) Elapsed() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Options configures a Store.
type Options struct {
	// TTL expires reports automatically. Zero keeps them until deleted.
	TTL time.Duration

	// InMemory keeps the database in memory; the path is ignored.
	InMemory bool
}

// Store is the report archive.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens or creates a store at path.
func Open(path string, opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	s := &Store{db: db, ttl: opts.TTL}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(r *Report) []byte {
	key := make([]byte, 0, len(prefixRun)+8+len(r.ID))
	key = append(key, prefixRun...)
	key = binary.BigEndian.AppendUint64(key, uint64(r.StartedAt.UnixNano()))
	return append(key, r.ID...)
}

// Put stores r, assigning an id when it has none.
func (s *Store) Put(r *Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		return errors.New("report has no start time")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	key := runKey(r)
	return s.db.Update(func(txn *badger.Txn) error {
		run := badger.NewEntry(key, data)
		idx := badger.NewEntry([]byte(prefixIndex+r.ID), key)
		if s.ttl > 0 {
			run = run.WithTTL(s.ttl)
			idx = idx.WithTTL(s.ttl)
		}
		if err := txn.SetEntry(run); err != nil {
			return err
		}
		return txn.SetEntry(idx)
	})
}

// Get returns the report with id.
func (s *Store) Get(id string) (*Report, error) {
	var r Report
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixIndex + id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns up to limit reports, newest first. A limit of zero returns
// every report.
func (s *Store) List(limit int) ([]*Report, error) {
	var out []*Report
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(lastRunKey); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var r Report
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				out = append(out, &r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Delete removes the report with id.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixIndex + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixIndex + id))
	})
}

// Prune keeps the newest keep reports and deletes the rest. It returns the
// number deleted.
func (s *Store) Prune(keep int) (int, error) {
	reports, err := s.List(0)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(reports) <= keep {
		return 0, nil
	}

	old := reports[keep:]
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range old {
		if err := wb.Delete(runKey(r)); err != nil {
			return 0, err
		}
		if err := wb.Delete([]byte(prefixIndex + r.ID)); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(old), nil
}

// Count returns the number of stored reports.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
