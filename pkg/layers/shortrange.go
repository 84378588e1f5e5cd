package layers

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/config"
)

// srDriver is the physical short-range seam: a point-to-point pipe to
// whatever device is within arm's reach (BLE bridge, Wi-Fi Direct daemon,
// a LAN peer).
type srDriver interface {
	send(payload []byte) error
	available() bool
	close() error
}

// ShortRangeLayer carries payloads to one nearby device. The link is
// point-to-point, so Send ignores the target address and the registry
// availability comes straight from the driver's socket state.
type ShortRangeLayer struct {
	driver srDriver

	mu     sync.Mutex
	onRecv func(payload []byte)
}

func NewShortRange(cfg config.ShortRangeConfig) (*ShortRangeLayer, error) {
	l := &ShortRangeLayer{}
	switch cfg.Driver {
	case "udp":
		d, err := newUDPShortRange(cfg.Listen, cfg.PeerAddr, l.deliver)
		if err != nil {
			return nil, fmt.Errorf("short-range udp driver: %w", err)
		}
		l.driver = d
	default:
		l.driver = &simShortRange{deliver: l.deliver}
	}
	return l, nil
}

func (l *ShortRangeLayer) Layer() comm.Layer { return comm.LayerShortRange }

func (l *ShortRangeLayer) Send(ctx context.Context, target string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.driver.available() {
		return comm.ErrLayerUnavailable
	}
	return l.driver.send(payload)
}

// OnReceive registers the inbound payload callback. Only one consumer is
// supported; the node wires this to its inbound handler.
func (l *ShortRangeLayer) OnReceive(fn func(payload []byte)) {
	l.mu.Lock()
	l.onRecv = fn
	l.mu.Unlock()
}

// Available reports whether the driver currently holds a usable link.
func (l *ShortRangeLayer) Available() bool { return l.driver.available() }

func (l *ShortRangeLayer) Close() error { return l.driver.close() }

func (l *ShortRangeLayer) deliver(payload []byte) {
	l.mu.Lock()
	fn := l.onRecv
	l.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

// simShortRange loops every send straight back to the receive path, which
// is enough for development and for exercising the dispatch chain in tests.
type simShortRange struct {
	mu      sync.Mutex
	closed  bool
	deliver func(payload []byte)
}

func (d *simShortRange) send(payload []byte) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return comm.ErrLayerUnavailable
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	go d.deliver(cp)
	return nil
}

func (d *simShortRange) available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

func (d *simShortRange) close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// udpShortRange exchanges datagrams with one fixed LAN peer. One payload
// per datagram in both directions.
type udpShortRange struct {
	conn      *net.UDPConn
	peer      *net.UDPAddr
	deliver   func(payload []byte)
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newUDPShortRange(laddr, peerAddr string, deliver func(payload []byte)) (*udpShortRange, error) {
	la, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	pa, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", la)
	if err != nil {
		return nil, err
	}
	d := &udpShortRange{conn: conn, peer: pa, deliver: deliver, closeCh: make(chan struct{})}
	go d.recvLoop()
	return d, nil
}

func (d *udpShortRange) send(payload []byte) error {
	select {
	case <-d.closeCh:
		return comm.ErrLayerUnavailable
	default:
	}
	_, err := d.conn.WriteToUDP(payload, d.peer)
	return err
}

func (d *udpShortRange) available() bool {
	select {
	case <-d.closeCh:
		return false
	default:
		return true
	}
}

func (d *udpShortRange) close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closeCh)
		err = d.conn.Close()
	})
	return err
}

func (d *udpShortRange) recvLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.closeCh:
			default:
				zap.L().Warn("short-range read failed", zap.Error(err))
			}
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		d.deliver(payload)
	}
}
