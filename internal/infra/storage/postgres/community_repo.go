package postgres

import (
	"context"
	"fmt"

	"github.com/stacksignal/eventpipe/internal/infra/storage"
)

// CommunityRepo implements storage.CommunityRepository using PostgreSQL.
type CommunityRepo struct {
	db *DB
}

// NewCommunityRepo creates a new PostgreSQL community repository.
func NewCommunityRepo(db *DB) *CommunityRepo {
	return &CommunityRepo{db: db}
}

// RecordActivity saves a community action. Replays of the same transaction
// are absorbed by the uniqueness constraint.
func (r *CommunityRepo) RecordActivity(ctx context.Context, activity *storage.CommunityActivity) error {
	query := `
		INSERT INTO community_activity (user_id, action, transaction_hash, block_height, occurred_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, action, transaction_hash) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		activity.UserID,
		activity.Action,
		activity.TransactionHash,
		activity.BlockHeight,
	)
	if err != nil {
		return fmt.Errorf("failed to record community activity: %w", err)
	}
	return nil
}

// RecentActivity returns the latest community actions, newest first.
func (r *CommunityRepo) RecentActivity(ctx context.Context, limit int) ([]storage.CommunityActivity, error) {
	query := `
		SELECT id, user_id, action, transaction_hash, block_height, occurred_at
		FROM community_activity
		ORDER BY occurred_at DESC
		LIMIT $1
	`

	var activity []storage.CommunityActivity
	if err := r.db.SelectContext(ctx, &activity, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query community activity: %w", err)
	}
	return activity, nil
}
