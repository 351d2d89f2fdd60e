// Package memory implements the storage repositories in process memory,
// used when no database is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stacksignal/eventpipe/internal/infra/storage"
)

type MemoryStorage struct {
	awards   []storage.BadgeAward
	activity []storage.CommunityActivity
	nextID   int64
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{nextID: 1}
}

// -----------------------------------------------------------------------------
// Badge Repository
// -----------------------------------------------------------------------------

type BadgeRepo struct {
	store *MemoryStorage
}

func NewBadgeRepo(store *MemoryStorage) *BadgeRepo {
	return &BadgeRepo{store: store}
}

func (r *BadgeRepo) RecordAward(ctx context.Context, award *storage.BadgeAward) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := range r.store.awards {
		a := &r.store.awards[i]
		if a.BadgeID == award.BadgeID && a.UserID == award.UserID &&
			a.TransactionHash == award.TransactionHash {
			a.Level = award.Level
			return nil
		}
	}
	saved := *award
	saved.ID = r.store.nextID
	saved.AwardedAt = time.Now()
	r.store.nextID++
	r.store.awards = append(r.store.awards, saved)
	return nil
}

func (r *BadgeRepo) AwardsForUser(ctx context.Context, userID string) ([]storage.BadgeAward, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []storage.BadgeAward
	for i := len(r.store.awards) - 1; i >= 0; i-- {
		if r.store.awards[i].UserID == userID {
			out = append(out, r.store.awards[i])
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Community Repository
// -----------------------------------------------------------------------------

type CommunityRepo struct {
	store *MemoryStorage
}

func NewCommunityRepo(store *MemoryStorage) *CommunityRepo {
	return &CommunityRepo{store: store}
}

func (r *CommunityRepo) RecordActivity(ctx context.Context, activity *storage.CommunityActivity) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := range r.store.activity {
		a := &r.store.activity[i]
		if a.UserID == activity.UserID && a.Action == activity.Action &&
			a.TransactionHash == activity.TransactionHash {
			return nil
		}
	}
	saved := *activity
	saved.ID = r.store.nextID
	saved.OccurredAt = time.Now()
	r.store.nextID++
	r.store.activity = append(r.store.activity, saved)
	return nil
}

func (r *CommunityRepo) RecentActivity(ctx context.Context, limit int) ([]storage.CommunityActivity, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]storage.CommunityActivity, 0, limit)
	for i := len(r.store.activity) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.store.activity[i])
	}
	return out, nil
}
