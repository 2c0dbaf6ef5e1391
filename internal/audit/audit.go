// Package audit implements the append-only audit trail every namespace
// write and lifecycle transition feeds: an in-memory bounded ring always
// available (served at /audit/journal and /audit/decisions), with an optional durable SQLite export
// behind ecosystem.audit.enable for installations that need a record
// surviving a reboot.
//
// Grounded on dittofs's pkg/cache/wal (an append-only, bounded-size log
// format with a fixed-size header and a replay-on-startup recovery
// model) for the ring's append-only shape, and
// pkg/controlplane/store/gorm.go + pkg/controlplane/models for the
// durable-export side (gorm model, glebarez/sqlite as the pure-Go
// driver).
package audit

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/cohesix/root/internal/bytesize"
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/logger"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Record is one audited event: a namespace write, a ticket issuance or
// revocation, or a lifecycle transition. TraceID is filled in by
// Append if the caller leaves it blank, so every line in the ring and
// its durable export carries a correlation ID a caller can grep for
// across both.
type Record struct {
	TraceID    string `json:"trace_id"`
	IssuedAtMs uint64 `json:"ts_ms"`
	Role       string `json:"role"`
	Subject    string `json:"subject"`
	Verb       string `json:"verb"`
	Detail     string `json:"detail"`
}

// recordRow is Record's durable-export shape.
type recordRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	TraceID    string `gorm:"size:36;index"`
	IssuedAtMs uint64 `gorm:"index"`
	Role       string `gorm:"size:64;index"`
	Subject    string `gorm:"size:128"`
	Verb       string `gorm:"size:64"`
	Detail     string `gorm:"type:text"`
}

func (recordRow) TableName() string { return "audit_records" }

// Journal is a bounded in-memory ring of JSON-encoded Records, optionally
// mirrored to a SQLite database for durable export.
type Journal struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
	dropped  uint64
	db       *gorm.DB
}

// NewJournal builds a Journal with the given in-memory capacity. If
// exportDSN is non-empty, every appended Record is also durably
// persisted to the SQLite database at that path.
func NewJournal(capacity bytesize.ByteSize, exportDSN string) (*Journal, error) {
	j := &Journal{capacity: int(capacity)}
	if exportDSN == "" {
		return j, nil
	}
	db, err := gorm.Open(sqlite.Open(exportDSN), &gorm.Config{})
	if err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, cerr.Wrap(cerr.Invalid, err)
	}
	j.db = db
	return j, nil
}

// Append appends r to the ring (evicting the oldest bytes if full) and,
// if durable export is configured, inserts it into the SQLite table.
// Export failures are logged but never block the ring append — a
// write-path error in audit logging must not propagate back to the
// Secure9P client whose write triggered it.
func (j *Journal) Append(r Record) {
	if r.TraceID == "" {
		r.TraceID = uuid.NewString()
	}
	line, err := json.Marshal(r)
	if err != nil {
		logger.Warn("audit record marshal failed", logger.Err(err))
		return
	}
	line = append(line, '\n')

	j.mu.Lock()
	j.buf = append(j.buf, line...)
	if over := len(j.buf) - j.capacity; over > 0 {
		j.buf = j.buf[over:]
		j.dropped++
	}
	j.mu.Unlock()

	if j.db == nil {
		return
	}
	row := recordRow{TraceID: r.TraceID, IssuedAtMs: r.IssuedAtMs, Role: r.Role, Subject: r.Subject, Verb: r.Verb, Detail: r.Detail}
	if err := j.db.Create(&row).Error; err != nil {
		logger.Warn("audit durable export failed", logger.Err(err))
	}
}

// Recent returns the ring's current window from offset, matching the
// providers.Log read-window contract so /audit/journal and
// /audit/decisions can be served by GenericProvider FileNodes backed by
// this method.
func (j *Journal) Recent(offset uint64, count uint32) []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= uint64(len(j.buf)) {
		return nil
	}
	end := offset + uint64(count)
	if end > uint64(len(j.buf)) {
		end = uint64(len(j.buf))
	}
	out := make([]byte, end-offset)
	copy(out, j.buf[offset:end])
	return out
}

// Dropped reports how many times the ring has evicted bytes to make
// room for new records.
func (j *Journal) Dropped() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// Lookup scans the ring's current window for a Record with the given
// TraceID, returning ok=false if it was never recorded or has already
// been evicted past the retention window — the exact condition
// /replay/ctl must reject as out-of-window.
func (j *Journal) Lookup(traceID string) (Record, bool) {
	j.mu.Lock()
	buf := make([]byte, len(j.buf))
	copy(buf, j.buf)
	j.mu.Unlock()

	for _, line := range bytes.Split(buf, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		if r.TraceID == traceID {
			return r, true
		}
	}
	return Record{}, false
}
