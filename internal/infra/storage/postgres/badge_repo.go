package postgres

import (
	"context"
	"fmt"

	"github.com/stacksignal/eventpipe/internal/infra/storage"
)

// BadgeRepo implements storage.BadgeRepository using PostgreSQL.
type BadgeRepo struct {
	db *DB
}

// NewBadgeRepo creates a new PostgreSQL badge repository.
func NewBadgeRepo(db *DB) *BadgeRepo {
	return &BadgeRepo{db: db}
}

// RecordAward saves a badge award. Replays of the same transaction are
// absorbed by the uniqueness constraint.
func (r *BadgeRepo) RecordAward(ctx context.Context, award *storage.BadgeAward) error {
	query := `
		INSERT INTO badge_awards (badge_id, user_id, transaction_hash, block_height, level, awarded_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (badge_id, user_id, transaction_hash) DO UPDATE SET
			level = EXCLUDED.level
	`

	_, err := r.db.ExecContext(ctx, query,
		award.BadgeID,
		award.UserID,
		award.TransactionHash,
		award.BlockHeight,
		award.Level,
	)
	if err != nil {
		return fmt.Errorf("failed to record badge award: %w", err)
	}
	return nil
}

// AwardsForUser returns all awards granted to a user, newest first.
func (r *BadgeRepo) AwardsForUser(ctx context.Context, userID string) ([]storage.BadgeAward, error) {
	query := `
		SELECT id, badge_id, user_id, transaction_hash, block_height, level, awarded_at
		FROM badge_awards
		WHERE user_id = $1
		ORDER BY awarded_at DESC
	`

	var awards []storage.BadgeAward
	if err := r.db.SelectContext(ctx, &awards, query, userID); err != nil {
		return nil, fmt.Errorf("failed to query badge awards: %w", err)
	}
	return awards, nil
}
