package domain

// FilteredEvent is the projection handed to category handlers after an
// event has passed predicate filtering. It carries only what handlers need.
type FilteredEvent struct {
	EventType       string         `json:"event_type"`
	BadgeID         string         `json:"badge_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	Category        string         `json:"category"`
	Level           string         `json:"level,omitempty"`
	TransactionHash string         `json:"transaction_hash"`
	BlockHeight     uint64         `json:"block_height"`
	Timestamp       int64          `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// PredicateFilter is a per-consumer filter spec. Nil height bounds and
// empty strings mean "match anything" for that field.
type PredicateFilter struct {
	ContractAddress string  `json:"contract_address,omitempty" yaml:"contract_address"`
	Method          string  `json:"method,omitempty"           yaml:"method"`
	Topic           string  `json:"topic,omitempty"            yaml:"topic"`
	MinBlockHeight  *uint64 `json:"min_block_height,omitempty" yaml:"min_block_height"`
	MaxBlockHeight  *uint64 `json:"max_block_height,omitempty" yaml:"max_block_height"`
}
