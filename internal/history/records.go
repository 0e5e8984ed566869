package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/asta/histd/internal/storage"
)

// RecordStore reads and writes JSON-encoded records under RecordKeyPrefix.
type RecordStore struct {
	kv     storage.KV
	logger *slog.Logger
}

// NewRecordStore creates a RecordStore on kv.
func NewRecordStore(kv storage.KV) *RecordStore {
	return &RecordStore{kv: kv, logger: slog.Default()}
}

// on returns a copy of s that talks to kv, used inside transactions.
func (s *RecordStore) on(kv storage.KV) *RecordStore {
	return &RecordStore{kv: kv, logger: s.logger}
}

func recordKey(id string) string {
	return RecordKeyPrefix + id
}

// Put encodes r and stores it under its id, replacing any previous value.
func (s *RecordStore) Put(ctx context.Context, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", r.ID, err)
	}
	if err := s.kv.Set(ctx, recordKey(r.ID), b); err != nil {
		return fmt.Errorf("storing record %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the record stored under id, or nil if there is none. A value
// that does not decode is logged and reported as missing.
func (s *RecordStore) Get(ctx context.Context, id string) (*Record, error) {
	b, ok, err := s.kv.Get(ctx, recordKey(id))
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		s.logger.Warn("undecodable history record, skipping", "key", recordKey(id), "error", err)
		return nil, nil
	}
	return &r, nil
}

// Exists reports whether anything is stored under id, decodable or not.
func (s *RecordStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, recordKey(id))
	if err != nil {
		return false, fmt.Errorf("loading record %s: %w", id, err)
	}
	return ok, nil
}

// Delete removes the record and reports whether one was there.
func (s *RecordStore) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.kv.Delete(ctx, recordKey(id))
	if err != nil {
		return false, fmt.Errorf("deleting record %s: %w", id, err)
	}
	return ok, nil
}

// ScanIDs lists the id of every stored record. The id counter lives under the
// same prefix and is left out.
func (s *RecordStore) ScanIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, RecordKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == CounterKey {
			continue
		}
		ids = append(ids, strings.TrimPrefix(k, RecordKeyPrefix))
	}
	return ids, nil
}
