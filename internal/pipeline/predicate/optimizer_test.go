package predicate

import (
	"testing"

	"github.com/stacksignal/eventpipe/internal/core/domain"
)

const badgeContract = "SP000000000000000000002Q6VF78.badge-issuer"

func contractCallEvent(height uint64, contract, method string, topics ...string) *domain.ChainEvent {
	var events []domain.OperationEvent
	for _, tp := range topics {
		events = append(events, domain.OperationEvent{Topic: tp})
	}
	return &domain.ChainEvent{
		BlockIdentifier: domain.BlockIdentifier{Index: height, Hash: "0xabc"},
		Transactions: []domain.Transaction{
			{
				Hash: "0xtx1",
				Operations: []domain.Operation{
					{
						Type:         domain.OperationTypeContractCall,
						ContractCall: &domain.ContractCall{Contract: contract, Method: method},
						Events:       events,
					},
				},
			},
		},
	}
}

func TestMatch_FailOpenWithoutCompiledFilter(t *testing.T) {
	o := NewOptimizer(nil)
	ev := contractCallEvent(100, badgeContract, "mint")

	if !o.Match("unknown-consumer", ev) {
		t.Error("Uncompiled predicate must admit the event (fail-open)")
	}
	if o.Stats().EventsFiltered != 0 {
		t.Error("Fail-open admission must not count as filtered")
	}
}

func TestMatch_ContractAndMethod(t *testing.T) {
	o := NewOptimizer(nil)
	o.Compile("badge-consumer", domain.PredicateFilter{
		ContractAddress: badgeContract,
		Method:          "mint",
	})

	if !o.Match("badge-consumer", contractCallEvent(100, badgeContract, "mint")) {
		t.Error("Exact contract+method must match")
	}
	if o.Match("badge-consumer", contractCallEvent(100, badgeContract, "verify")) {
		t.Error("Different method must be rejected")
	}

	stats := o.Stats()
	if stats.EventsReceived != 2 {
		t.Errorf("Expected 2 received, got %d", stats.EventsReceived)
	}
	if stats.EventsFiltered != 1 {
		t.Errorf("Expected 1 filtered, got %d", stats.EventsFiltered)
	}
	if stats.FilteringRate != 50 {
		t.Errorf("Expected 50%% filtering rate, got %f", stats.FilteringRate)
	}
}

func TestMatch_HeightRange(t *testing.T) {
	o := NewOptimizer(nil)
	min, max := uint64(100), uint64(200)
	o.Compile("ranged", domain.PredicateFilter{MinBlockHeight: &min, MaxBlockHeight: &max})

	if o.Match("ranged", contractCallEvent(99, badgeContract, "mint")) {
		t.Error("Height below min must be rejected")
	}
	if o.Match("ranged", contractCallEvent(201, badgeContract, "mint")) {
		t.Error("Height above max must be rejected")
	}
	if !o.Match("ranged", contractCallEvent(150, badgeContract, "mint")) {
		t.Error("Height inside range must pass")
	}
}

func TestMatch_TopicSubstring(t *testing.T) {
	o := NewOptimizer(nil)
	o.Compile("topical", domain.PredicateFilter{Topic: "badge-minted"})

	if !o.Match("topical", contractCallEvent(100, badgeContract, "mint", "event:badge-minted:v1")) {
		t.Error("Topic substring must match")
	}
	if o.Match("topical", contractCallEvent(100, badgeContract, "mint", "event:community-created")) {
		t.Error("Unrelated topic must be rejected")
	}
}

func TestMatch_FirstQualifyingOperationWins(t *testing.T) {
	o := NewOptimizer(nil)
	o.Compile("badge-consumer", domain.PredicateFilter{Method: "mint"})

	// qualifying operation in the second transaction
	ev := &domain.ChainEvent{
		BlockIdentifier: domain.BlockIdentifier{Index: 100, Hash: "0xabc"},
		Transactions: []domain.Transaction{
			{Hash: "0xtx1", Operations: []domain.Operation{
				{Type: "stx_transfer"},
			}},
			{Hash: "0xtx2", Operations: []domain.Operation{
				{Type: domain.OperationTypeContractCall, ContractCall: &domain.ContractCall{Contract: badgeContract, Method: "mint"}},
			}},
		},
	}
	if !o.Match("badge-consumer", ev) {
		t.Error("Any qualifying operation in any transaction must match")
	}
}

func TestCompile_ReplacesWholesale(t *testing.T) {
	o := NewOptimizer(nil)
	o.Compile("c", domain.PredicateFilter{Method: "mint"})
	o.Compile("c", domain.PredicateFilter{Method: "verify"})

	if o.Match("c", contractCallEvent(100, badgeContract, "mint")) {
		t.Error("Recompiled predicate must replace the old matcher")
	}
	if !o.Match("c", contractCallEvent(100, badgeContract, "verify")) {
		t.Error("New matcher must apply after recompile")
	}
}

func TestMatchBatch_PreservesOrder(t *testing.T) {
	o := NewOptimizer(nil)
	o.Compile("c", domain.PredicateFilter{Method: "mint"})

	events := []domain.ChainEvent{
		*contractCallEvent(1, badgeContract, "mint"),
		*contractCallEvent(2, badgeContract, "verify"),
		*contractCallEvent(3, badgeContract, "mint"),
	}
	out := o.MatchBatch("c", events)
	if len(out) != 2 {
		t.Fatalf("Expected 2 admitted events, got %d", len(out))
	}
	if out[0].BlockIdentifier.Index != 1 || out[1].BlockIdentifier.Index != 3 {
		t.Errorf("Batch order not preserved: %v", out)
	}
}

func TestStats_AverageFilterTime(t *testing.T) {
	o := NewOptimizer(nil)
	o.Compile("c", domain.PredicateFilter{Method: "mint"})
	for i := 0; i < 10; i++ {
		o.Match("c", contractCallEvent(uint64(i), badgeContract, "mint"))
	}
	if o.Stats().AverageFilterTime < 0 {
		t.Error("Average filter time must be non-negative")
	}
}
