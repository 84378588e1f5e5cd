package comm

import "testing"

func TestDeriveNodeIDStable(t *testing.T) {
	names := []string{"evy-node-1", "ridge-relay", "clinic-7", "솔라-노드", ""}
	for _, name := range names {
		a := DeriveNodeID(name)
		b := DeriveNodeID(name)
		if a != b {
			t.Fatalf("%q derived %s then %s", name, a, b)
		}
		if a == 0 || a == Broadcast {
			t.Fatalf("%q derived reserved id %s", name, a)
		}
	}
	if DeriveNodeID("evy-node-1") == DeriveNodeID("evy-node-2") {
		t.Fatal("distinct names derived the same id")
	}
}

func TestParseNodeIDRoundTrip(t *testing.T) {
	id := DeriveNodeID("evy-node-1")
	got, err := ParseNodeID(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Fatalf("round trip %s -> %s", id, got)
	}
	if _, err := ParseNodeID("not-hex"); err == nil {
		t.Fatal("garbage parsed as node id")
	}
}

func TestParseLayer(t *testing.T) {
	for _, l := range Layers() {
		got, err := ParseLayer(l.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != l {
			t.Fatalf("%s parsed as %s", l, got)
		}
	}
	for name, want := range map[string]Layer{
		"mesh":       LayerMeshRadio,
		"radio":      LayerMeshRadio,
		"shortrange": LayerShortRange,
	} {
		got, err := ParseLayer(name)
		if err != nil || got != want {
			t.Fatalf("alias %q -> %s, %v", name, got, err)
		}
	}
	if _, err := ParseLayer("pigeon"); err == nil {
		t.Fatal("unknown layer accepted")
	}
}

func TestParseQueryType(t *testing.T) {
	for _, q := range []QueryType{QueryInference, QueryRetrieval, QuerySync, QueryStatus, QueryEmergencyAlert} {
		got, err := ParseQueryType(q.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != q {
			t.Fatalf("%s parsed as %s", q, got)
		}
	}
	if _, err := ParseQueryType("telepathy"); err == nil {
		t.Fatal("unknown query type accepted")
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(PriorityEmergency < PriorityHigh && PriorityHigh < PriorityNormal && PriorityNormal < PriorityLow) {
		t.Fatal("priority ordering broken")
	}
	if int(NumPriorities) != 4 {
		t.Fatalf("NumPriorities = %d", NumPriorities)
	}
}
