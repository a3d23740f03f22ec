package canbridge

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	can "github.com/tp2/canbridge/pkg/can"
	"github.com/tp2/canbridge/pkg/can/loopback"
)

// plainBus has no mode support
type plainBus struct {
	mu       sync.Mutex
	sent     []can.Frame
	listener can.FrameListener
	err      error
}

func (b *plainBus) Connect(...any) error { return nil }
func (b *plainBus) Disconnect() error    { return nil }
func (b *plainBus) Subscribe(l can.FrameListener) error {
	b.listener = l
	return nil
}
func (b *plainBus) Send(frame can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, frame)
	return nil
}

type frames struct {
	list []can.Frame
}

func (f *frames) Handle(frame can.Frame) {
	f.list = append(f.list, frame)
}

func TestBusManagerSend(t *testing.T) {
	bus := &plainBus{}
	bm := NewBusManager(bus)
	assert.Nil(t, bm.Connect())
	tx := &frames{}
	bm.SubscribeTx(tx)

	frame := can.Frame{ID: 0x100, DLC: 1, Data: [8]byte{1}}
	assert.Nil(t, bm.Send(frame))
	assert.Equal(t, []can.Frame{frame}, bus.sent)
	assert.Equal(t, []can.Frame{frame}, tx.list)

	bus.err = errors.New("tx error")
	assert.NotNil(t, bm.Send(frame))
	assert.Len(t, tx.list, 1)
}

func TestBusManagerReceive(t *testing.T) {
	bus := &plainBus{}
	bm := NewBusManager(bus)
	assert.Nil(t, bm.Connect())
	rx1, rx2 := &frames{}, &frames{}
	bm.Subscribe(rx1)
	bm.Subscribe(rx2)
	bus.listener.Handle(can.Frame{ID: 0x12})
	assert.Len(t, rx1.list, 1)
	assert.Len(t, rx2.list, 1)
}

func TestBusManagerEmulatedLoopback(t *testing.T) {
	bus := &plainBus{}
	bm := NewBusManager(bus)
	_ = bm.Connect()
	rx := &frames{}
	bm.Subscribe(rx)

	assert.Nil(t, bm.SetMode(can.ModeLoopback))
	assert.Equal(t, can.ModeLoopback, bm.Mode())
	frame := can.Frame{ID: 0x100, DLC: 2, Data: [8]byte{'R', '1'}}
	assert.Nil(t, bm.Send(frame))
	assert.Empty(t, bus.sent)
	assert.Equal(t, []can.Frame{frame}, rx.list)

	assert.Nil(t, bm.SetMode(can.ModeNormal))
	assert.Nil(t, bm.Send(frame))
	assert.Len(t, bus.sent, 1)
	assert.Len(t, rx.list, 1)
}

func TestBusManagerNativeLoopback(t *testing.T) {
	bus := loopback.NewNetwork().Open()
	bm := NewBusManager(bus)
	_ = bm.Connect()
	rx := &frames{}
	bm.Subscribe(rx)
	assert.Nil(t, bm.SetMode(can.ModeLoopback))
	assert.Nil(t, bm.Send(can.Frame{ID: 0x55}))
	assert.Len(t, rx.list, 1)
}

func TestOfflineBus(t *testing.T) {
	cause := errors.New("no such device")
	bm := NewBusManager(NewOfflineBus(cause))
	assert.Nil(t, bm.Connect())
	err := bm.Send(can.Frame{ID: 1})
	assert.ErrorIs(t, err, ErrBusOffline)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, ErrNoBus, NewBusManager(nil).Connect())
}

func TestOfflineBusLoopback(t *testing.T) {
	bm := NewBusManager(NewOfflineBus(errors.New("no such device")))
	_ = bm.Connect()
	rx := &frames{}
	bm.Subscribe(rx)
	assert.ErrorIs(t, bm.SetMode(can.ModeLoopback), ErrBusOffline)
	assert.Equal(t, can.ModeNormal, bm.Mode())
	assert.ErrorIs(t, bm.Send(can.Frame{ID: 0x100, DLC: 1}), ErrBusOffline)
	assert.Empty(t, rx.list)
}
