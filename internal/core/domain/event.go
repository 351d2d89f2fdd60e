package domain

import "fmt"

// BlockIdentifier identifies a block by height and hash.
type BlockIdentifier struct {
	Index uint64 `json:"index"`
	Hash  string `json:"hash"`
}

// ChainEvent is one push notification from the upstream observer,
// describing a block and the transactions it carries.
type ChainEvent struct {
	BlockIdentifier       BlockIdentifier `json:"block_identifier"`
	ParentBlockIdentifier BlockIdentifier `json:"parent_block_identifier"`
	Timestamp             int64           `json:"timestamp"`
	Transactions          []Transaction   `json:"transactions"`
	EventType             string          `json:"event_type"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
}

// Transaction is one transaction inside a chain event.
type Transaction struct {
	Hash       string      `json:"hash"`
	Index      uint64      `json:"index"`
	Operations []Operation `json:"operations"`
}

// OperationTypeContractCall marks operations that invoke a contract method.
const OperationTypeContractCall = "contract_call"

// Operation is a single step executed by a transaction.
type Operation struct {
	Type         string           `json:"type"`
	ContractCall *ContractCall    `json:"contract_call,omitempty"`
	Events       []OperationEvent `json:"events,omitempty"`
}

// ContractCall describes the contract invocation attached to an operation.
type ContractCall struct {
	Contract string `json:"contract"`
	Method   string `json:"method"`
	Args     []any  `json:"args,omitempty"`
}

// OperationEvent is an event emitted while executing an operation.
type OperationEvent struct {
	Topic string `json:"topic"`
}

// IdentityHash derives the deduplication key for an event: block height,
// first transaction hash and first transaction index. Repeated deliveries
// of the same event instance always produce the same key. Events with no
// transactions collapse to "<height>::0".
func (e *ChainEvent) IdentityHash() string {
	var txHash string
	var txIndex uint64
	if len(e.Transactions) > 0 {
		txHash = e.Transactions[0].Hash
		txIndex = e.Transactions[0].Index
	}
	return fmt.Sprintf("%d:%s:%d", e.BlockIdentifier.Index, txHash, txIndex)
}
