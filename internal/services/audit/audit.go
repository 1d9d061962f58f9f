// Package audit appends every decision branch to a JSON-lines file, one entry
// per line, timestamped in the configured store timezone.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/refundbot/internal/domain"
)

const dirPermissions = 0o755

// Logger writes audit entries to a per-day append-only file. Each entry is a
// single unbuffered write: if the pass is cancelled mid-order, everything
// recorded before that order is already on disk.
type Logger struct {
	dir    string
	dryRun bool
	loc    *time.Location
	clock  func() time.Time

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewLogger creates the audit sink. The location controls timestamp
// formatting; nil defaults to UTC. The clock is injectable for tests.
func NewLogger(dir string, dryRun bool, loc *time.Location, clock func() time.Time) (*Logger, error) {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = time.Now
	}

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "ensure audit directory %s", dir)
	}

	return &Logger{
		dir:    dir,
		dryRun: dryRun,
		loc:    loc,
		clock:  clock,
	}, nil
}

// Record appends one entry. The timestamp and mode fields are filled here so
// callers only describe the decision.
func (l *Logger) Record(entry domain.AuditEntry) error {
	now := l.clock().In(l.loc)

	entry.Timestamp = now.Format(time.RFC3339)
	entry.Mode = "LIVE"
	if l.dryRun {
		entry.Mode = "DRY_RUN"
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal audit entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := l.fileFor(now)
	if err != nil {
		return err
	}

	if _, err := file.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "write audit entry")
	}

	return nil
}

// fileFor returns the open file for the entry's day, rotating at midnight.
func (l *Logger) fileFor(now time.Time) (*os.File, error) {
	day := now.Format("2006-01-02")
	if l.file != nil && day == l.day {
		return l.file, nil
	}

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	name := fmt.Sprintf("audit_%s.json", day)
	if l.dryRun {
		name = "dry_run." + name
	}

	file, err := os.OpenFile(filepath.Join(l.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open audit log file")
	}

	l.file = file
	l.day = day

	return file, nil
}

// Close closes the current audit file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err := l.file.Close()
	l.file = nil

	return err
}
