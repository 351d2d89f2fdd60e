package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacksignal/eventpipe/internal/core/domain"
	"github.com/stacksignal/eventpipe/internal/infra/storage"
)

// CommunityHandler persists community activity for routed community events.
type CommunityHandler struct {
	repo storage.CommunityRepository
	log  *slog.Logger
}

// NewCommunityHandler creates a community handler over a community
// repository.
func NewCommunityHandler(repo storage.CommunityRepository, log *slog.Logger) *CommunityHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CommunityHandler{
		repo: repo,
		log:  log.With("handler", "community"),
	}
}

// CanHandle accepts community events that identify a user.
func (h *CommunityHandler) CanHandle(ev domain.FilteredEvent) bool {
	return ev.Category == "community" && userOf(ev) != ""
}

// Process records the activity and returns it.
func (h *CommunityHandler) Process(ctx context.Context, ev domain.FilteredEvent) (any, error) {
	activity := &storage.CommunityActivity{
		UserID:          userOf(ev),
		Action:          actionOf(ev),
		TransactionHash: ev.TransactionHash,
		BlockHeight:     ev.BlockHeight,
	}

	if err := h.repo.RecordActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("failed to persist community activity: %w", err)
	}

	h.log.Info("Community activity recorded",
		"user", activity.UserID,
		"action", activity.Action,
		"height", activity.BlockHeight,
	)
	return activity, nil
}

// userOf resolves the acting user. Community contracts pass the user as
// the first argument, so it may land in the badge slot of the projection.
func userOf(ev domain.FilteredEvent) string {
	if ev.UserID != "" {
		return ev.UserID
	}
	return ev.BadgeID
}

// actionOf resolves the action name, preferring explicit metadata.
func actionOf(ev domain.FilteredEvent) string {
	if ev.Metadata != nil {
		if s, ok := ev.Metadata["action"].(string); ok && s != "" {
			return s
		}
	}
	return ev.EventType
}
