package canbridge

import (
	"sync"

	log "github.com/sirupsen/logrus"
	can "github.com/tp2/canbridge/pkg/can"
)

// Bus manager is a wrapper around the CAN bus interface
// Used by the bridge to fan out received frames, observe transmitted frames
// and put the controller in loopback when the backend can't.
type BusManager struct {
	mu              sync.Mutex
	bus             can.Bus // Bus interface that can be adapted
	rxListeners     []can.FrameListener
	txListeners     []can.FrameListener
	mode            can.Mode
	emulateLoopback bool
}

func NewBusManager(bus can.Bus) *BusManager {
	bm := &BusManager{
		bus:         bus,
		rxListeners: make([]can.FrameListener, 0),
		txListeners: make([]can.FrameListener, 0),
		mode:        can.ModeNormal,
	}
	return bm
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame can.Frame) {
	bm.mu.Lock()
	listeners := bm.rxListeners
	bm.mu.Unlock()
	for _, listener := range listeners {
		listener.Handle(frame)
	}
}

// Set bus
func (bm *BusManager) SetBus(bus can.Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() can.Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Connect to the CAN bus and subscribe to its received frames
func (bm *BusManager) Connect(args ...any) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNoBus
	}
	err := bus.Connect(args...)
	if err != nil {
		return err
	}
	return bus.Subscribe(bm)
}

func (bm *BusManager) Disconnect() error {
	bus := bm.Bus()
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

// Send a CAN message
// Limited error handling
func (bm *BusManager) Send(frame can.Frame) error {
	bm.mu.Lock()
	bus := bm.bus
	loopback := bm.emulateLoopback && bm.mode == can.ModeLoopback
	txListeners := bm.txListeners
	bm.mu.Unlock()

	var err error
	if loopback {
		// Nothing leaves the controller in loopback
		err = frame.Validate()
	} else if bus == nil {
		err = ErrNoBus
	} else {
		err = bus.Send(frame)
	}
	if err != nil {
		log.Warnf("[CAN] %v", err)
		return err
	}
	for _, listener := range txListeners {
		listener.Handle(frame)
	}
	if loopback {
		bm.Handle(frame)
	}
	return nil
}

// Subscribe to all received CAN frames
func (bm *BusManager) Subscribe(callback can.FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.rxListeners = append(bm.rxListeners, callback)
}

// Subscribe to all successfully transmitted CAN frames
func (bm *BusManager) SubscribeTx(callback can.FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.txListeners = append(bm.txListeners, callback)
}

// Set the controller mode, forwarded to the backend when it supports it
func (bm *BusManager) SetMode(mode can.Mode) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if setter, ok := bm.bus.(can.ModeSetter); ok {
		if err := setter.SetMode(mode); err != nil {
			return err
		}
		bm.emulateLoopback = false
	} else {
		log.Debugf("[CAN] backend %T has no mode support, emulating %v", bm.bus, mode)
		bm.emulateLoopback = true
	}
	bm.mode = mode
	return nil
}

func (bm *BusManager) Mode() can.Mode {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.mode
}

// offlineBus stands in for a bus that failed to initialize.
// Every transmission fails with the initialization error.
type offlineBus struct {
	err error
}

// NewOfflineBus returns a bus whose sends always fail with ErrBusOffline
func NewOfflineBus(cause error) can.Bus {
	return &offlineBus{err: cause}
}

func (b *offlineBus) Connect(...any) error              { return nil }
func (b *offlineBus) Disconnect() error                 { return nil }
func (b *offlineBus) Subscribe(can.FrameListener) error { return nil }
func (b *offlineBus) Send(frame can.Frame) error {
	return &OfflineError{Cause: b.err}
}

// SetMode fails too, loopback must not be emulated on top of a dead bus
func (b *offlineBus) SetMode(mode can.Mode) error {
	return &OfflineError{Cause: b.err}
}
