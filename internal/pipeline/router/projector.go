package router

import (
	"strings"

	"github.com/stacksignal/eventpipe/internal/core/domain"
)

// Projector turns a predicate-matched ChainEvent into the FilteredEvent
// consumed by category handlers. The category comes from the contract
// method when mapped, otherwise from the contract name suffix.
type Projector struct {
	categoryByMethod map[string]string
}

// NewProjector creates a projector. categoryByMethod maps contract methods
// to handler categories (e.g. "mint" -> "badge"); nil is allowed.
func NewProjector(categoryByMethod map[string]string) *Projector {
	return &Projector{categoryByMethod: categoryByMethod}
}

// Project builds the FilteredEvent from the first contract-call operation,
// scanning transactions in order. Returns nil when the event carries no
// contract call.
func (p *Projector) Project(ev *domain.ChainEvent) *domain.FilteredEvent {
	for i := range ev.Transactions {
		tx := &ev.Transactions[i]
		for j := range tx.Operations {
			op := &tx.Operations[j]
			if op.ContractCall == nil {
				continue
			}
			fe := &domain.FilteredEvent{
				EventType:       ev.EventType,
				Category:        p.category(op.ContractCall),
				TransactionHash: tx.Hash,
				BlockHeight:     ev.BlockIdentifier.Index,
				Timestamp:       ev.Timestamp,
				Metadata:        ev.Metadata,
			}
			extractArgs(op.ContractCall.Args, fe)
			if v, ok := stringField(ev.Metadata, "level"); ok {
				fe.Level = v
			}
			return fe
		}
	}
	return nil
}

func (p *Projector) category(call *domain.ContractCall) string {
	if c, ok := p.categoryByMethod[call.Method]; ok {
		return c
	}
	// "SP...badge-issuer" -> "badge-issuer"
	if idx := strings.LastIndex(call.Contract, "."); idx >= 0 {
		return call.Contract[idx+1:]
	}
	return call.Contract
}

// extractArgs pulls the conventional (badgeId, userId) leading args used
// by the badge and community contracts.
func extractArgs(args []any, fe *domain.FilteredEvent) {
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			fe.BadgeID = s
		}
	}
	if len(args) > 1 {
		if s, ok := args[1].(string); ok {
			fe.UserID = s
		}
	}
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}
