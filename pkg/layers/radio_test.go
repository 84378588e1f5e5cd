package layers

import (
	"testing"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

func TestMeshDestResolution(t *testing.T) {
	id := comm.DeriveNodeID("evy-node-7")
	if got := meshDest(id.String()); got != id {
		t.Fatalf("hex form resolved to %s, want %s", got, id)
	}
	if got := meshDest("evy-node-7"); got != id {
		t.Fatalf("name form resolved to %s, want %s", got, id)
	}
	// 16 characters but not hex: treated as a name like any other
	if got := meshDest("not-hexadecimal!"); got != comm.DeriveNodeID("not-hexadecimal!") {
		t.Fatalf("non-hex 16-char name resolved to %s", got)
	}
}
