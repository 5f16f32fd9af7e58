package chain

import "testing"

func TestNewGlobalIDNamespacesByChain(t *testing.T) {
	a := NewGlobalID(ID("A"), "42")
	b := NewGlobalID(ID("B"), "42")
	if a == b {
		t.Fatalf("expected distinct GlobalIDs for the same native id on different chains, got %q and %q", a, b)
	}
	if a != "A:42" {
		t.Fatalf("expected A:42, got %q", a)
	}
}

func TestTransferGlobalIDMatchesNewGlobalID(t *testing.T) {
	tr := Transfer{ID: "7", Chain: ID("A")}
	if tr.GlobalID() != NewGlobalID(ID("A"), "7") {
		t.Fatalf("expected Transfer.GlobalID to match NewGlobalID, got %q", tr.GlobalID())
	}
}

func TestWalletInfoIsMember(t *testing.T) {
	w := &WalletInfo{
		Members: map[string]struct{}{
			"pub1": {},
			"pub2": {},
		},
	}
	if !w.IsMember("pub1") {
		t.Fatal("expected pub1 to be a member")
	}
	if w.IsMember("pub3") {
		t.Fatal("expected pub3 not to be a member")
	}
}
