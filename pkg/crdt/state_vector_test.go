package crdt

import "testing"

func TestStateVector(t *testing.T) {
	sv := StateVector{}
	sv.Advance("a", 3)
	sv.Advance("a", 2)
	sv.Advance("b", 1)

	if sv.Get("a") != 3 {
		t.Fatalf("Advance must never decrease, got %d", sv.Get("a"))
	}
	if !sv.Covers(ID{Client: "a", Seq: 3}) || sv.Covers(ID{Client: "a", Seq: 4}) || sv.Covers(ID{Client: "c", Seq: 1}) {
		t.Fatalf("Covers returned unexpected result for %v", sv)
	}

	clone := sv.Clone()
	clone.Advance("c", 1)
	if sv.Get("c") != 0 {
		t.Fatalf("Clone shares memory with original")
	}
}
