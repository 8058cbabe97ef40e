// Package store persists per-request access records of the bridge
// server in a Pebble database: adapter used, status, byte counts and
// timing. Keys carry a sortable timestamp prefix so records list in
// insertion order and old ones can be pruned by range.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"appbridge/pkg/logger"
)

var db *pebble.DB

// seq reduces key collisions when multiple records share the same
// nanosecond timestamp.
var seq uint64

const recordPrefix = "rec:"

// Record is one bridged request summary.
type Record struct {
	Time     time.Time `json:"time"`
	Adapter  string    `json:"adapter"`
	Method   string    `json:"method"`
	Path     string    `json:"path"`
	Status   int       `json:"status"`
	BytesIn  int64     `json:"bytes_in"`
	BytesOut int64     `json:"bytes_out"`
	Duration int64     `json:"duration_ms"`
}

// Open opens (or creates) the Pebble database at path and keeps a
// package handle for simple usage.
func Open(path string) error {
	var err error
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened database if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	return nil
}

// Ready reports whether the store is opened.
func Ready() bool { return db != nil }

func recordKey(t time.Time) []byte {
	s := atomic.AddUint64(&seq, 1)
	return []byte(fmt.Sprintf("%s%020d-%06d", recordPrefix, t.UTC().UnixNano(), s))
}

// SaveRecord appends one access record.
func SaveRecord(rec Record) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := db.Set(recordKey(rec.Time), data, pebble.NoSync); err != nil {
		logger.Error("save_record_failed", "error", err)
		return err
	}
	return nil
}

// ListRecords returns records in insertion order, up to limit
// (limit <= 0 means no cap).
func ListRecords(limit int) ([]Record, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	prefix := []byte(recordPrefix)
	var out []Record
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			logger.Warn("skip_invalid_record", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PruneBefore deletes records older than cutoff and returns how many
// were removed.
func PruneBefore(cutoff time.Time) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	end := []byte(fmt.Sprintf("%s%020d", recordPrefix, cutoff.UTC().UnixNano()))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}

	prefix := []byte(recordPrefix)
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) || bytes.Compare(iter.Key(), end) >= 0 {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, k := range keys {
		if err := db.Delete(k, pebble.NoSync); err != nil {
			return 0, err
		}
	}
	if len(keys) > 0 {
		logger.Info("records_pruned", "count", len(keys), "cutoff", cutoff)
	}
	return len(keys), nil
}
