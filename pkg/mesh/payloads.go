package mesh

import (
	cbor "github.com/fxamacker/cbor/v2"
)

// Structured packet bodies travel as canonical CBOR (RFC 8949 core
// deterministic profile) so identical announcements encode to identical
// bytes on every node.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// MarshalPayload encodes a structured packet body canonically.
func MarshalPayload(v any) ([]byte, error) { return encMode.Marshal(v) }

// UnmarshalPayload decodes a structured packet body.
func UnmarshalPayload(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// Announce is the discovery packet body: the sender's identity card.
type Announce struct {
	Name         string   `cbor:"1,keyasint"`
	Capabilities []string `cbor:"2,keyasint,omitempty"`
	Battery      float64  `cbor:"3,keyasint,omitempty"` // [0,1]
	Lat          float64  `cbor:"4,keyasint,omitempty"`
	Lon          float64  `cbor:"5,keyasint,omitempty"`
	HasPosition  bool     `cbor:"6,keyasint,omitempty"`
}

// HeartbeatBody is the keepalive packet body.
type HeartbeatBody struct {
	Battery float64 `cbor:"1,keyasint,omitempty"`
	UptimeS uint64  `cbor:"2,keyasint,omitempty"`
}

// AckBody acknowledges one received packet by its sequence number.
type AckBody struct {
	Seq  uint32     `cbor:"1,keyasint"`
	Type PacketType `cbor:"2,keyasint"`
}
