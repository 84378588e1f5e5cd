package mesh

import (
	"errors"
	"math/rand"
	"sync"
)

// RadioLink is the physical substrate seam. The radio medium is broadcast:
// every transmitted frame is heard by all radios in range, and logical
// addressing lives in the frame header. The engine's protocol logic is
// identical across backends.
type RadioLink interface {
	// Send transmits one frame on the air.
	Send(frame []byte) error
	// SetReceiver registers the inbound callback with the received signal
	// strength normalized to [0,1]. Must be called before frames arrive.
	SetReceiver(fn func(frame []byte, signal float64))
	Close() error
}

// ErrRadioClosed reports a send on a closed radio.
var ErrRadioClosed = errors.New("radio closed")

// Airspace is an in-process broadcast medium connecting simulated radios.
// Per-pair signal strengths and reachability cuts model topology for tests
// and local development.
type Airspace struct {
	mu      sync.Mutex
	radios  map[*SimRadio]struct{}
	signals map[[2]*SimRadio]float64
	blocked map[[2]*SimRadio]bool
	loss    float64
}

// NewAirspace creates an empty medium.
func NewAirspace() *Airspace {
	return &Airspace{
		radios:  make(map[*SimRadio]struct{}),
		signals: make(map[[2]*SimRadio]float64),
		blocked: make(map[[2]*SimRadio]bool),
	}
}

// SetLoss sets a uniform frame drop probability in [0,1].
func (a *Airspace) SetLoss(p float64) {
	a.mu.Lock()
	a.loss = p
	a.mu.Unlock()
}

// SetSignal fixes the received signal strength between two radios, in both
// directions. Unset pairs default to 1.0.
func (a *Airspace) SetSignal(x, y *SimRadio, s float64) {
	a.mu.Lock()
	a.signals[[2]*SimRadio{x, y}] = s
	a.signals[[2]*SimRadio{y, x}] = s
	a.mu.Unlock()
}

// Block cuts the link between two radios in both directions, partitioning
// the topology.
func (a *Airspace) Block(x, y *SimRadio, blocked bool) {
	a.mu.Lock()
	a.blocked[[2]*SimRadio{x, y}] = blocked
	a.blocked[[2]*SimRadio{y, x}] = blocked
	a.mu.Unlock()
}

// Join adds a radio to the medium and starts its receive pump.
func (a *Airspace) Join() *SimRadio {
	r := &SimRadio{
		air:     a,
		rxCh:    make(chan rxFrame, 64),
		closeCh: make(chan struct{}),
	}
	a.mu.Lock()
	a.radios[r] = struct{}{}
	a.mu.Unlock()
	go r.pump()
	return r
}

type rxFrame struct {
	frame  []byte
	signal float64
}

// SimRadio is one simulated transceiver on an Airspace.
type SimRadio struct {
	air       *Airspace
	mu        sync.Mutex
	recv      func(frame []byte, signal float64)
	rxCh      chan rxFrame
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (r *SimRadio) SetReceiver(fn func(frame []byte, signal float64)) {
	r.mu.Lock()
	r.recv = fn
	r.mu.Unlock()
}

// Send delivers a copy of the frame to every other radio on the air.
// A full receive queue models congestion: the frame is dropped for that
// receiver, as lossy radio does.
func (r *SimRadio) Send(frame []byte) error {
	select {
	case <-r.closeCh:
		return ErrRadioClosed
	default:
	}
	a := r.air
	a.mu.Lock()
	defer a.mu.Unlock()
	for other := range a.radios {
		if other == r {
			continue
		}
		if a.blocked[[2]*SimRadio{r, other}] {
			continue
		}
		if a.loss > 0 && rand.Float64() < a.loss {
			continue
		}
		sig, ok := a.signals[[2]*SimRadio{r, other}]
		if !ok {
			sig = 1.0
		}
		cp := append([]byte(nil), frame...)
		select {
		case other.rxCh <- rxFrame{frame: cp, signal: sig}:
		default:
		}
	}
	return nil
}

func (r *SimRadio) Close() error {
	r.closeOnce.Do(func() {
		close(r.closeCh)
		a := r.air
		a.mu.Lock()
		delete(a.radios, r)
		a.mu.Unlock()
	})
	return nil
}

func (r *SimRadio) pump() {
	for {
		select {
		case <-r.closeCh:
			return
		case rx := <-r.rxCh:
			r.mu.Lock()
			fn := r.recv
			r.mu.Unlock()
			if fn != nil {
				fn(rx.frame, rx.signal)
			}
		}
	}
}
