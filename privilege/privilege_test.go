package privilege

import (
	"testing"

	"pgregory.net/rapid"

	"tradingfloor/errs"
)

const (
	codeTrade = iota + 1
	codeMarketOrders
	codeMarketMaker
	codeShortSell
)

func lessonTable() *Table {
	return NewTable([]Definition{
		{Code: codeTrade, Name: "trade"},
		{Code: codeMarketOrders, Name: "market-orders", Prerequisites: []int{codeTrade}},
		{Code: codeMarketMaker, Name: "market-maker", Prerequisites: []int{codeTrade}, Excludes: []int{codeShortSell}, MaxHolders: 3},
		{Code: codeShortSell, Name: "short-sell"},
	})
}

func TestCheckGrantRules(t *testing.T) {
	table := lessonTable()

	if err := table.CheckGrant(NewSet(), codeMarketOrders, 0); !errs.HasCode(err, errs.PrivilegeMissingPrerequisite) {
		t.Fatalf("expected missing prerequisite, got %v", err)
	}
	if err := table.CheckGrant(NewSet(codeTrade), codeMarketOrders, 0); err != nil {
		t.Fatalf("expected grant allowed, got %v", err)
	}
	if err := table.CheckGrant(NewSet(codeTrade, codeShortSell), codeMarketMaker, 0); !errs.HasCode(err, errs.PrivilegeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// Exclusion is symmetric even though only market-maker declares it.
	if err := table.CheckGrant(NewSet(codeTrade, codeMarketMaker), codeShortSell, 0); !errs.HasCode(err, errs.PrivilegeConflict) {
		t.Fatalf("expected symmetric conflict, got %v", err)
	}
	if err := table.CheckGrant(NewSet(codeTrade), codeMarketMaker, 3); !errs.HasCode(err, errs.PrivilegeCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if err := table.CheckGrant(NewSet(), 99, 0); !errs.HasCode(err, errs.UnknownPrivilege) {
		t.Fatalf("expected unknown privilege, got %v", err)
	}
	if err := table.CheckGrant(NewSet(codeTrade, codeMarketMaker), codeMarketMaker, 3); err != nil {
		t.Fatalf("re-granting a held code should be a no-op, got %v", err)
	}
}

func TestSetOperations(t *testing.T) {
	s := NewSet(3, 1)
	s.Add(2)
	if got := s.Codes(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected codes %v", got)
	}
	c := s.Clone()
	if !s.Remove(1) || s.Remove(1) {
		t.Fatalf("remove should report presence once")
	}
	if !c.Has(1) {
		t.Fatalf("clone should be independent")
	}
}

func TestProperty_CheckGrantNeverMutates(t *testing.T) {
	table := lessonTable()
	rapid.Check(t, func(t *rapid.T) {
		held := NewSet(rapid.SliceOf(rapid.IntRange(1, 4)).Draw(t, "held")...)
		code := rapid.IntRange(1, 5).Draw(t, "code")
		holders := rapid.IntRange(0, 5).Draw(t, "holders")

		before := held.Codes()
		_ = table.CheckGrant(held, code, holders)
		after := held.Codes()
		if len(before) != len(after) {
			t.Fatalf("held set changed from %v to %v", before, after)
		}
		for i := range before {
			if before[i] != after[i] {
				t.Fatalf("held set changed from %v to %v", before, after)
			}
		}
	})
}
