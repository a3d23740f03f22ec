package loopback

import (
	"errors"
	"sync"

	can "github.com/tp2/canbridge/pkg/can"
)

// In-memory CAN bus used for tests and simulation.
// Every endpoint opened on the same channel name shares one bus :
// a frame sent by an endpoint is delivered to all the other connected
// endpoints, and to the sender itself when it is in loopback mode.

func init() {
	can.RegisterInterface("loopback", NewLoopbackBus)
}

var ErrClosed = errors.New("loopback endpoint closed")

var (
	networksMu sync.Mutex
	networks   = map[string]*Network{}
)

// Network is the shared medium between endpoints
type Network struct {
	mu        sync.RWMutex
	endpoints map[*Bus]struct{}
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[*Bus]struct{})}
}

// Open creates a new endpoint attached to the network.
func (n *Network) Open() *Bus {
	return &Bus{network: n}
}

func (n *Network) deliver(sender *Bus, frame can.Frame) {
	n.mu.RLock()
	targets := make([]*Bus, 0, len(n.endpoints))
	for ep := range n.endpoints {
		if ep != sender {
			targets = append(targets, ep)
		}
	}
	n.mu.RUnlock()
	for _, target := range targets {
		target.receive(frame)
	}
}

// Bus is one endpoint of a Network
type Bus struct {
	network   *Network
	mu        sync.Mutex
	connected bool
	mode      can.Mode
	listener  can.FrameListener
}

// NewLoopbackBus returns an endpoint on the network named after channel.
func NewLoopbackBus(channel string) (can.Bus, error) {
	networksMu.Lock()
	defer networksMu.Unlock()
	network, ok := networks[channel]
	if !ok {
		network = NewNetwork()
		networks[channel] = network
	}
	return network.Open(), nil
}

func (b *Bus) Connect(...any) error {
	b.network.mu.Lock()
	b.network.endpoints[b] = struct{}{}
	b.network.mu.Unlock()
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return nil
}

func (b *Bus) Disconnect() error {
	b.network.mu.Lock()
	delete(b.network.endpoints, b)
	b.network.mu.Unlock()
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *Bus) Send(frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	connected := b.connected
	own := b.mode == can.ModeLoopback
	b.mu.Unlock()
	if !connected {
		return ErrClosed
	}
	if own {
		// Controller loopback : nothing goes out on the bus
		b.receive(frame)
		return nil
	}
	b.network.deliver(b, frame)
	return nil
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) SetMode(mode can.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
	return nil
}

func (b *Bus) receive(frame can.Frame) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	if listener != nil {
		listener.Handle(frame)
	}
}
