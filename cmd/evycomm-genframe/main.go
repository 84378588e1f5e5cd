package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/mesh"
)

func main() {
	outDir := flag.String("out", "testdata/frame", "output directory for binary frames")
	flag.Parse()
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}

	src := comm.DeriveNodeID("evy-node-1")
	dst := comm.DeriveNodeID("evy-node-2")

	// 1) Unicast data frame with ack requested
	data := mesh.Packet{
		Version:  mesh.ProtocolVersion,
		Type:     mesh.PacketData,
		Priority: comm.PriorityNormal,
		TTL:      5,
		Flags:    mesh.FlagAckRequested,
		Source:   src,
		Dest:     dst,
		Seq:      1,
		Payload:  []byte(`{"query":"soil moisture threshold for maize"}`),
	}
	writeOut(*outDir, "frame_data.bin", mustFrame(&data))

	// 2) Discovery broadcast with a CBOR announce body
	body, err := mesh.MarshalPayload(mesh.Announce{
		Name:         "evy-node-1",
		Capabilities: []string{"inference", "relay"},
		Battery:      0.87,
	})
	if err != nil {
		log.Fatal(err)
	}
	disc := mesh.Packet{
		Version:  mesh.ProtocolVersion,
		Type:     mesh.PacketDiscovery,
		Priority: comm.PriorityLow,
		TTL:      1,
		Source:   src,
		Dest:     comm.Broadcast,
		Seq:      2,
		Payload:  body,
	}
	writeOut(*outDir, "frame_discovery.bin", mustFrame(&disc))

	// 3) Emergency broadcast
	em := mesh.Packet{
		Version:  mesh.ProtocolVersion,
		Type:     mesh.PacketEmergency,
		Priority: comm.PriorityEmergency,
		TTL:      5,
		Source:   src,
		Dest:     comm.Broadcast,
		Seq:      3,
		Payload:  []byte("flood warning: river gauge 4 above danger mark"),
	}
	writeOut(*outDir, "frame_emergency.bin", mustFrame(&em))

	// 4) Same data frame with one payload byte flipped; receivers must
	// reject it on checksum
	bad := mustFrame(&data)
	bad[len(bad)-1] ^= 0x01
	writeOut(*outDir, "frame_corrupt.bin", bad)

	fmt.Println("Generated mesh frames in", *outDir)
}

func mustFrame(p *mesh.Packet) []byte {
	b, err := p.EncodeFrame()
	if err != nil {
		log.Fatal(err)
	}
	return b
}

func writeOut(dir, name string, b []byte) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%-24s %5d bytes  head: %s\n", name, len(b), shortHex(b, 48))
}

func shortHex(b []byte, n int) string {
	if len(b) == 0 {
		return ""
	}
	if n > len(b) {
		n = len(b)
	}
	enc := hex.EncodeToString(b[:n])
	var out []string
	for i := 0; i < len(enc); i += 4 {
		j := i + 4
		if j > len(enc) {
			j = len(enc)
		}
		out = append(out, enc[i:j])
	}
	return strings.Join(out, " ")
}
