// Package decisions persists refund decision records in a WAL so that the
// idempotency window survives process restarts between scheduled passes.
package decisions

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/refundbot/internal/domain"
)

const (
	DefaultDir = "./wal/decisions"

	segmentThreshold = 1000
	maxSegments      = 100
	dirPermissions   = 0o755

	recordKeyPrefix = "decision_"
)

// WALStore is a durable key-value idempotency store. Every Put is a single
// WAL write; startup replays the log into an in-memory index where the last
// writer wins per key.
type WALStore struct {
	wal   *gowal.Wal
	index map[string]domain.DecisionRecord
	clock func() time.Time
	mu    sync.RWMutex
}

// NewWALStore opens (or creates) the WAL in dir and replays it. The clock is
// injectable for deterministic expiry tests; pass nil for time.Now.
func NewWALStore(dir string, clock func() time.Time) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if clock == nil {
		clock = time.Now
	}

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "ensure decision WAL directory %s", dir)
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "log_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init decision WAL")
	}

	s := &WALStore{
		wal:   wal,
		index: make(map[string]domain.DecisionRecord),
		clock: clock,
	}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, recordKeyPrefix) {
			continue
		}
		var record domain.DecisionRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			// a torn historical record must not poison the replay
			continue
		}
		s.index[strings.TrimPrefix(msg.Key, recordKeyPrefix)] = record
	}

	return s, nil
}

// Get returns the non-expired record for the key. Expired records are
// reported absent so the engine recomputes the decision.
func (s *WALStore) Get(key string) (domain.DecisionRecord, bool, error) {
	if s == nil || s.wal == nil {
		return domain.DecisionRecord{}, false, errors.New("decision store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.index[key]
	if !ok || record.Expired(s.clock()) {
		return domain.DecisionRecord{}, false, nil
	}

	return record, true, nil
}

// Put creates or supersedes the record for its key, resetting expiry.
func (s *WALStore) Put(record domain.DecisionRecord) error {
	if s == nil || s.wal == nil {
		return errors.New("decision store is not initialized")
	}
	if record.Key == "" {
		return errors.New("decision record key is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal decision record")
	}

	walKey := fmt.Sprintf("%s%s", recordKeyPrefix, record.Key)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, walKey, payload); err != nil {
		return errors.Wrap(err, "write decision record")
	}

	s.index[record.Key] = record

	return nil
}

// Len returns the number of indexed records, expired ones included.
func (s *WALStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.index)
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("decision store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
