package history

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/asta/histd/internal/storage"
)

// UserIndex keeps, per user, a list of record ids with the most recently
// appended first. It is a secondary index: the records themselves are the
// source of truth and the list may briefly or permanently disagree with them.
type UserIndex struct {
	kv     storage.KV
	logger *slog.Logger
}

// NewUserIndex creates a UserIndex on kv.
func NewUserIndex(kv storage.KV) *UserIndex {
	return &UserIndex{kv: kv, logger: slog.Default()}
}

func (x *UserIndex) on(kv storage.KV) *UserIndex {
	return &UserIndex{kv: kv, logger: x.logger}
}

func userIndexKey(userID int) string {
	return UserIndexKeyPrefix + strconv.Itoa(userID)
}

// Append puts id at the head of the user's list.
func (x *UserIndex) Append(ctx context.Context, userID int, id string) error {
	if err := x.kv.LPush(ctx, userIndexKey(userID), id); err != nil {
		return fmt.Errorf("indexing %s for user %d: %w", id, userID, err)
	}
	return nil
}

// List returns the user's ids, newest first. A user without records gets an
// empty slice.
func (x *UserIndex) List(ctx context.Context, userID int) ([]string, error) {
	ids, err := x.kv.LRange(ctx, userIndexKey(userID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("listing index of user %d: %w", userID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Remove drops the first occurrence of id from the user's list.
func (x *UserIndex) Remove(ctx context.Context, userID int, id string) error {
	if _, err := x.kv.LRem(ctx, userIndexKey(userID), 1, id); err != nil {
		return fmt.Errorf("unindexing %s for user %d: %w", id, userID, err)
	}
	return nil
}

// removeOldest drops the occurrence of id nearest the tail of the list.
func (x *UserIndex) removeOldest(ctx context.Context, userID int, id string) error {
	if _, err := x.kv.LRem(ctx, userIndexKey(userID), -1, id); err != nil {
		return fmt.Errorf("unindexing %s for user %d: %w", id, userID, err)
	}
	return nil
}

// removeAll drops every occurrence of id from the user's list.
func (x *UserIndex) removeAll(ctx context.Context, userID int, id string) error {
	if _, err := x.kv.LRem(ctx, userIndexKey(userID), 0, id); err != nil {
		return fmt.Errorf("unindexing %s for user %d: %w", id, userID, err)
	}
	return nil
}

// ClearAndList reads the user's list and then deletes it. The two steps are
// separate KV calls unless the index is bound to a transaction.
func (x *UserIndex) ClearAndList(ctx context.Context, userID int) ([]string, error) {
	ids, err := x.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := x.kv.Delete(ctx, userIndexKey(userID)); err != nil {
		return ids, fmt.Errorf("clearing index of user %d: %w", userID, err)
	}
	return ids, nil
}

// Users returns the ids of users that currently have a list. Keys whose
// suffix is not an integer are ignored.
func (x *UserIndex) Users(ctx context.Context) ([]int, error) {
	keys, err := x.kv.Keys(ctx, UserIndexKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scanning user indexes: %w", err)
	}
	users := make([]int, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.Atoi(strings.TrimPrefix(k, UserIndexKeyPrefix))
		if err != nil {
			x.logger.Debug("ignoring non-numeric user index key", "key", k)
			continue
		}
		users = append(users, id)
	}
	return users, nil
}
