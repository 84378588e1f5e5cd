package mesh

import (
	"net"
	"sync"

	"go.uber.org/zap"
)

// UDPRadio bridges frames over UDP datagrams to an external radio daemon
// (the usual LoRa gateway arrangement: the daemon owns the hardware, we own
// the protocol). One frame per datagram in both directions.
//
// The bridge carries no RSSI sidechannel, so received signal strength is
// reported as 1.0 and route reliability leans on recency alone.
type UDPRadio struct {
	conn      *net.UDPConn
	bridge    *net.UDPAddr
	mu        sync.Mutex
	recv      func(frame []byte, signal float64)
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewUDPRadio listens on laddr and transmits toward bridgeAddr.
func NewUDPRadio(laddr, bridgeAddr string) (*UDPRadio, error) {
	la, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	ba, err := net.ResolveUDPAddr("udp", bridgeAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", la)
	if err != nil {
		return nil, err
	}
	r := &UDPRadio{conn: conn, bridge: ba, closeCh: make(chan struct{})}
	go r.recvLoop()
	return r, nil
}

func (r *UDPRadio) SetReceiver(fn func(frame []byte, signal float64)) {
	r.mu.Lock()
	r.recv = fn
	r.mu.Unlock()
}

func (r *UDPRadio) Send(frame []byte) error {
	select {
	case <-r.closeCh:
		return ErrRadioClosed
	default:
	}
	_, err := r.conn.WriteToUDP(frame, r.bridge)
	return err
}

func (r *UDPRadio) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closeCh)
		err = r.conn.Close()
	})
	return err
}

func (r *UDPRadio) recvLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.closeCh:
			default:
				zap.L().Warn("udp radio read failed", zap.Error(err))
			}
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		r.mu.Lock()
		fn := r.recv
		r.mu.Unlock()
		if fn != nil {
			fn(frame, 1.0)
		}
	}
}
