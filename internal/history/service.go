package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/asta/histd/internal/storage"
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	Clock           Clock
	Logger          *slog.Logger
}

// Service implements the history operations on top of a KV store.
//
// Read paths never fail: store errors are logged and degrade to an empty
// result, so one bad entry or a flaky store cannot break a listing. Save is
// the only operation that reports errors to its caller.
//
// When the KV also implements storage.Transactor, the record write and the
// index update of Save and DeleteByUserID commit together. Otherwise they are
// separate calls and a failure between them leaves the index behind the
// records, which readers tolerate.
type Service struct {
	kv      storage.KV
	records *RecordStore
	index   *UserIndex
	ids     *IDGenerator
	clock   Clock
	logger  *slog.Logger

	defaultPageSize int
	maxPageSize     int
}

// NewService creates a Service on kv.
func NewService(kv storage.KV, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = MaxPageSize
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}

	records := NewRecordStore(kv)
	records.logger = opts.Logger
	index := NewUserIndex(kv)
	index.logger = opts.Logger

	return &Service{
		kv:              kv,
		records:         records,
		index:           index,
		ids:             NewIDGeneratorWithClock(kv, opts.Clock),
		clock:           opts.Clock,
		logger:          opts.Logger,
		defaultPageSize: opts.DefaultPageSize,
		maxPageSize:     opts.MaxPageSize,
	}
}

// atomically runs fn in a transaction when the store supports one.
func (s *Service) atomically(ctx context.Context, fn func(storage.KV) error) error {
	if tx, ok := s.kv.(storage.Transactor); ok {
		return tx.Update(ctx, fn)
	}
	return fn(s.kv)
}

// Save stores r, assigning an id and a creation time when they are blank,
// and indexes it under its user. Re-saving an existing id replaces the
// record, keeps its previous createdAt when the new one is blank, and moves
// the id to the head of the owning user's list so it appears there once.
func (s *Service) Save(ctx context.Context, r Record) (Record, error) {
	if !blank(r.CreatedAt) {
		// Parse alone accepts a one-digit hour, which breaks string ordering.
		if t, err := time.Parse(TimeLayout, r.CreatedAt); err != nil || t.Format(TimeLayout) != r.CreatedAt {
			return Record{}, fmt.Errorf("%w: createdAt %q is not in %q format", ErrInvalidRecord, r.CreatedAt, TimeLayout)
		}
	}

	if blank(r.ID) {
		id, err := s.ids.Next(ctx)
		if err != nil {
			return Record{}, fmt.Errorf("generating history id: %w", err)
		}
		r.ID = id
	}

	err := s.atomically(ctx, func(kv storage.KV) error {
		records, index := s.records.on(kv), s.index.on(kv)

		prev, err := records.Get(ctx, r.ID)
		if err != nil {
			return err
		}
		if blank(r.CreatedAt) {
			if prev != nil && !blank(prev.CreatedAt) {
				r.CreatedAt = prev.CreatedAt
			} else {
				r.CreatedAt = s.clock.Now().Format(TimeLayout)
			}
		}

		if err := records.Put(ctx, r); err != nil {
			return err
		}

		if prev != nil && prev.UserID != nil {
			if err := index.removeAll(ctx, *prev.UserID, r.ID); err != nil {
				return err
			}
		}
		if r.UserID != nil {
			if err := index.Append(ctx, *r.UserID, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("saving history record failed", "id", r.ID, "error", err)
		return Record{}, err
	}

	s.logger.Info("saved history record", "id", r.ID)
	return r, nil
}

// DeleteByID removes one record and its index entry. It returns false when
// there was nothing to delete or the store failed.
func (s *Service) DeleteByID(ctx context.Context, id string) bool {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		s.logger.Error("deleting history record failed", "id", id, "error", err)
		return false
	}
	if rec == nil {
		return false
	}

	deleted, err := s.records.Delete(ctx, id)
	if err != nil {
		s.logger.Error("deleting history record failed", "id", id, "error", err)
		return false
	}

	if rec.UserID != nil {
		if err := s.index.Remove(ctx, *rec.UserID, id); err != nil {
			s.logger.Warn("record deleted but index entry kept", "id", id, "user_id", *rec.UserID, "error", err)
		}
	}

	s.logger.Info("deleted history record", "id", id)
	return deleted
}

// DeleteByUserID removes every record listed in the user's index together
// with the index itself, and returns how many records were actually deleted.
// Index entries pointing at records that are already gone are not counted.
func (s *Service) DeleteByUserID(ctx context.Context, userID int) int {
	var deleted int
	err := s.atomically(ctx, func(kv storage.KV) error {
		deleted = 0
		records := s.records.on(kv)

		ids, err := s.index.on(kv).ClearAndList(ctx, userID)
		if err != nil && ids == nil {
			return err
		}
		if err != nil {
			s.logger.Warn("could not clear user index", "user_id", userID, "error", err)
		}

		for _, id := range ids {
			ok, err := records.Delete(ctx, id)
			if err != nil {
				s.logger.Warn("could not delete history record", "id", id, "user_id", userID, "error", err)
				continue
			}
			if ok {
				deleted++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("deleting user history failed", "user_id", userID, "error", err)
		return 0
	}

	s.logger.Info("deleted user history", "user_id", userID, "count", deleted)
	return deleted
}

// GetByID returns the record or nil.
func (s *Service) GetByID(ctx context.Context, id string) *Record {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		s.logger.Error("loading history record failed", "id", id, "error", err)
		return nil
	}
	return rec
}

// GetByUserID returns the user's records in index order, newest first.
// Index entries without a readable record are skipped.
func (s *Service) GetByUserID(ctx context.Context, userID int) []Record {
	ids, err := s.index.List(ctx, userID)
	if err != nil {
		s.logger.Error("listing user history failed", "user_id", userID, "error", err)
		return []Record{}
	}
	return s.resolve(ctx, ids)
}

// GetAll returns every readable record, newest first.
func (s *Service) GetAll(ctx context.Context) []Record {
	ids, err := s.records.ScanIDs(ctx)
	if err != nil {
		s.logger.Error("listing history failed", "error", err)
		return []Record{}
	}
	all := s.resolve(ctx, ids)
	SortNewestFirst(all)
	return all
}

func (s *Service) resolve(ctx context.Context, ids []string) []Record {
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.records.Get(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreadable history record", "id", id, "error", err)
			continue
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

// GetPage answers q from the user's records when q.UserID is set and from a
// scan of all records otherwise.
func (s *Service) GetPage(ctx context.Context, q Query) Page {
	q = normalize(q, s.defaultPageSize, s.maxPageSize)

	var candidates []Record
	if q.UserID != nil {
		candidates = s.GetByUserID(ctx, *q.UserID)
	} else {
		candidates = s.GetAll(ctx)
	}

	records, total := FilterSortPage(candidates, q)
	return NewPage(records, total, q.PageIndex, q.PageSize)
}

// GetByTitle returns records whose title contains title, ignoring case,
// newest first. A blank title matches nothing.
func (s *Service) GetByTitle(ctx context.Context, title string) []Record {
	if blank(title) {
		return []Record{}
	}
	var out []Record
	for _, r := range s.GetAll(ctx) {
		if containsFold(r.Title, title) {
			out = append(out, r)
		}
	}
	if out == nil {
		out = []Record{}
	}
	return out
}

// IndexedUsers returns the users that have an index list.
func (s *Service) IndexedUsers(ctx context.Context) ([]int, error) {
	return s.index.Users(ctx)
}

// PruneIndex drops ids from the user's list whose record no longer exists
// and returns how many were dropped. Records missing from the index are not
// added back.
func (s *Service) PruneIndex(ctx context.Context, userID int) (int, error) {
	ids, err := s.index.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	var pruned int
	for _, id := range ids {
		ok, err := s.records.Exists(ctx, id)
		if err != nil {
			return pruned, err
		}
		if ok {
			continue
		}
		// An id re-saved since List sits at the head; the stale entry is the oldest.
		if err := s.index.removeOldest(ctx, userID, id); err != nil {
			return pruned, err
		}
		pruned++
	}
	if pruned > 0 {
		s.logger.Info("pruned dangling index entries", "user_id", userID, "count", pruned)
	}
	return pruned, nil
}
