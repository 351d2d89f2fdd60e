// Package validate performs structural validation of incoming chain events.
package validate

import (
	"fmt"
	"log/slog"

	"github.com/stacksignal/eventpipe/internal/core/domain"
)

// Result is the outcome of validating one event. Warnings never make an
// event invalid; errors drop the event, not the pipeline.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validator checks event shape before events enter the pipeline.
type Validator struct {
	log *slog.Logger
}

// New creates a validator. A nil logger falls back to slog.Default.
func New(log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{log: log.With("component", "validator")}
}

// ValidateCompleteEvent checks the event, its transactions and their
// operations. Errors from nested items are prefixed with their path.
func (v *Validator) ValidateCompleteEvent(ev *domain.ChainEvent) Result {
	var res Result

	if ev == nil {
		res.Errors = append(res.Errors, "Missing event")
		return res
	}

	if ev.BlockIdentifier == (domain.BlockIdentifier{}) {
		res.Errors = append(res.Errors, "Missing block_identifier")
	} else if ev.BlockIdentifier.Hash == "" {
		res.Errors = append(res.Errors, "Missing block hash")
	}

	if ev.ParentBlockIdentifier == (domain.BlockIdentifier{}) {
		res.Errors = append(res.Errors, "Missing parent_block_identifier")
	}

	if ev.Timestamp == 0 {
		res.Warnings = append(res.Warnings, "Missing timestamp")
	}

	if ev.EventType == "" {
		res.Errors = append(res.Errors, "Missing event type")
	}

	for i, tx := range ev.Transactions {
		if tx.Hash == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("Transaction %d: Missing transaction hash", i))
		}
		if tx.Operations == nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Transaction %d: No operations", i))
			continue
		}
		for j, op := range tx.Operations {
			if op.Type == "" {
				res.Errors = append(res.Errors, fmt.Sprintf("Transaction %d, Operation %d: Missing operation type", i, j))
				continue
			}
			if op.Type == domain.OperationTypeContractCall {
				switch {
				case op.ContractCall == nil:
					res.Errors = append(res.Errors, fmt.Sprintf("Transaction %d, Operation %d: Missing contract_call data", i, j))
				case op.ContractCall.Contract == "":
					res.Errors = append(res.Errors, fmt.Sprintf("Transaction %d, Operation %d: Missing contract_call contract", i, j))
				case op.ContractCall.Method == "":
					res.Errors = append(res.Errors, fmt.Sprintf("Transaction %d, Operation %d: Missing contract_call method", i, j))
				}
			}
		}
	}

	res.Valid = len(res.Errors) == 0
	if !res.Valid {
		v.log.Warn("Event failed validation",
			"height", ev.BlockIdentifier.Index,
			"errors", res.Errors,
		)
	}
	return res
}

// CanProcessEvent reports whether the event passes structural validation.
func (v *Validator) CanProcessEvent(ev *domain.ChainEvent) bool {
	return v.ValidateCompleteEvent(ev).Valid
}
