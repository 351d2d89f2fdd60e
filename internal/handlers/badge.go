// Package handlers implements the category handlers dispatched by the
// router: badge awards and community activity.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacksignal/eventpipe/internal/core/domain"
	"github.com/stacksignal/eventpipe/internal/infra/storage"
)

// BadgeHandler persists badge awards for routed badge events.
type BadgeHandler struct {
	repo storage.BadgeRepository
	log  *slog.Logger
}

// NewBadgeHandler creates a badge handler over a badge repository.
func NewBadgeHandler(repo storage.BadgeRepository, log *slog.Logger) *BadgeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BadgeHandler{
		repo: repo,
		log:  log.With("handler", "badge"),
	}
}

// CanHandle accepts badge events that carry both the badge and the user.
func (h *BadgeHandler) CanHandle(ev domain.FilteredEvent) bool {
	return ev.Category == "badge" && ev.BadgeID != "" && ev.UserID != ""
}

// Process records the award and returns it.
func (h *BadgeHandler) Process(ctx context.Context, ev domain.FilteredEvent) (any, error) {
	award := &storage.BadgeAward{
		BadgeID:         ev.BadgeID,
		UserID:          ev.UserID,
		TransactionHash: ev.TransactionHash,
		BlockHeight:     ev.BlockHeight,
		Level:           ev.Level,
	}

	if err := h.repo.RecordAward(ctx, award); err != nil {
		return nil, fmt.Errorf("failed to persist badge award: %w", err)
	}

	h.log.Info("Badge awarded",
		"badge", award.BadgeID,
		"user", award.UserID,
		"level", award.Level,
		"height", award.BlockHeight,
	)
	return award, nil
}
