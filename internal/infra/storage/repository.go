// Package storage defines the repository interfaces the category handlers
// persist through. PostgreSQL and in-memory implementations live in
// subpackages.
package storage

import (
	"context"
	"time"
)

// BadgeAward is a persisted badge grant derived from a routed chain event.
type BadgeAward struct {
	ID              int64     `db:"id"`
	BadgeID         string    `db:"badge_id"`
	UserID          string    `db:"user_id"`
	TransactionHash string    `db:"transaction_hash"`
	BlockHeight     uint64    `db:"block_height"`
	Level           string    `db:"level"`
	AwardedAt       time.Time `db:"awarded_at"`
}

// CommunityActivity is a persisted community event (joins, posts, votes).
type CommunityActivity struct {
	ID              int64     `db:"id"`
	UserID          string    `db:"user_id"`
	Action          string    `db:"action"`
	TransactionHash string    `db:"transaction_hash"`
	BlockHeight     uint64    `db:"block_height"`
	OccurredAt      time.Time `db:"occurred_at"`
}

// BadgeRepository persists badge awards.
type BadgeRepository interface {
	RecordAward(ctx context.Context, award *BadgeAward) error
	AwardsForUser(ctx context.Context, userID string) ([]BadgeAward, error)
}

// CommunityRepository persists community activity.
type CommunityRepository interface {
	RecordActivity(ctx context.Context, activity *CommunityActivity) error
	RecentActivity(ctx context.Context, limit int) ([]CommunityActivity, error)
}
