package bridge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	canbridge "github.com/tp2/canbridge"
	can "github.com/tp2/canbridge/pkg/can"
	"github.com/tp2/canbridge/pkg/can/loopback"
)

// syncBuffer collects output lines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := strings.TrimSuffix(s.buf.String(), "\n")
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}

type peer struct {
	mu     sync.Mutex
	bus    *loopback.Bus
	frames []can.Frame
}

func (p *peer) Handle(frame can.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
}

func (p *peer) Frames() []can.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]can.Frame{}, p.frames...)
}

type testBridge struct {
	*Bridge
	out  *syncBuffer
	peer *peer
}

func newTestBridge(t *testing.T, opts Options) *testBridge {
	t.Helper()
	network := loopback.NewNetwork()
	bm := canbridge.NewBusManager(network.Open())
	require.Nil(t, bm.Connect())
	p := &peer{bus: network.Open()}
	require.Nil(t, p.bus.Connect())
	require.Nil(t, p.bus.Subscribe(p))
	out := &syncBuffer{}
	return &testBridge{Bridge: New(bm, out, opts), out: out, peer: p}
}

// send a command and run cycles until the input is consumed
func (tb *testBridge) command(line string) {
	tb.Feed([]byte(line + "\n"))
	tb.Process()
}

func TestSend(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	tb.command("SEND_100_52_2D")
	assert.Equal(t, []string{"CAN_TX_OK_100_52_2D"}, tb.out.Lines())
	assert.Equal(t, []can.Frame{{ID: 0x100, DLC: 2, Data: [8]byte{0x52, 0x2D}}}, tb.peer.Frames())
}

func TestAngleSend(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	tb.command("TP2_ANGLE_R_-45")
	assert.Equal(t, []string{"TP2_ANGLE_SENT_OK"}, tb.out.Lines())
	frames := tb.peer.Frames()
	require.Len(t, frames, 1)
	assert.EqualValues(t, 0x100, frames[0].ID)
	assert.Equal(t, []byte("R-45"), frames[0].Payload())
}

func TestReceive(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	t.Run("angle report", func(t *testing.T) {
		err := tb.peer.bus.Send(can.Frame{ID: 0x100, DLC: 6, Data: [8]byte{'R', '-', '4', '5', '.', '0'}})
		require.Nil(t, err)
		tb.Process()
		assert.Equal(t, []string{"CAN_RX_100_6_52_2D_34_35_2E_30_TP2_R_-45.0"}, tb.out.Lines())
	})
	t.Run("arrival order, one per cycle", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_ = tb.peer.bus.Send(can.Frame{ID: uint32(0x200 + i), DLC: 1, Data: [8]byte{byte(i)}})
		}
		tb.Process()
		assert.Len(t, tb.out.Lines(), 2)
		for i := 0; i < 4; i++ {
			tb.Process()
		}
		lines := tb.out.Lines()
		assert.Equal(t, []string{
			"CAN_RX_200_1_0",
			"CAN_RX_201_1_1",
			"CAN_RX_202_1_2",
			"CAN_RX_203_1_3",
			"CAN_RX_204_1_4",
		}, lines[1:])
	})
}

func TestUnknown(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	before := tb.State()
	tb.command("HELLO_WORLD")
	assert.Equal(t, []string{"UNKNOWN_COMMAND"}, tb.out.Lines())
	assert.Equal(t, before, tb.State())
	assert.Empty(t, tb.peer.Frames())
}

func TestModeIdempotent(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	tb.command("MODE_NORMAL")
	state := tb.State()
	tb.command("MODE_NORMAL")
	assert.Equal(t, []string{"MODE_SET_NORMAL", "MODE_SET_NORMAL"}, tb.out.Lines())
	assert.Equal(t, state, tb.State())
	assert.Equal(t, can.ModeNormal, tb.State().Mode)
}

func TestLoopbackMode(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	tb.command("MODE_LOOPBACK")
	assert.Equal(t, can.ModeLoopback, tb.State().Mode)
	tb.command("SEND_123_AA")
	tb.Process()
	assert.Equal(t, []string{"MODE_SET_LOOPBACK", "CAN_TX_OK_123_AA", "CAN_RX_123_1_AA"}, tb.out.Lines())
	// Nothing reached the other node
	assert.Empty(t, tb.peer.Frames())

	tb.command("MODE_NORMAL")
	tb.command("SEND_123_AA")
	assert.Len(t, tb.peer.Frames(), 1)
}

func TestAuto(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoSendInterval = 100 * time.Millisecond
	tb := newTestBridge(t, opts)
	now := time.Unix(1000, 0)
	tb.timeNow = func() time.Time { return now }

	tb.command("AUTO_ON")
	assert.True(t, tb.State().AutoSend)
	// Nothing to repeat yet
	now = now.Add(time.Second)
	tb.Process()
	assert.Empty(t, tb.peer.Frames())

	tb.command("SEND_321_01")
	assert.Len(t, tb.peer.Frames(), 1)
	now = now.Add(50 * time.Millisecond)
	tb.Process()
	assert.Len(t, tb.peer.Frames(), 1)
	now = now.Add(60 * time.Millisecond)
	tb.Process()
	frames := tb.peer.Frames()
	assert.Len(t, frames, 2)
	assert.Equal(t, frames[0], frames[1])

	tb.command("AUTO_OFF")
	now = now.Add(time.Second)
	tb.Process()
	assert.Len(t, tb.peer.Frames(), 2)
	assert.Equal(t, []string{"AUTO_SEND_ON", "CAN_TX_OK_321_1", "AUTO_SEND_OFF"}, tb.out.Lines())
}

func TestMalformed(t *testing.T) {
	t.Run("reported", func(t *testing.T) {
		tb := newTestBridge(t, DefaultOptions())
		tb.command("SEND_100")
		tb.command("TP2_ANGLE_R")
		tb.command(strings.Repeat("A", 200))
		assert.Equal(t, []string{"MALFORMED_COMMAND", "MALFORMED_COMMAND", "MALFORMED_COMMAND"}, tb.out.Lines())
		assert.Empty(t, tb.peer.Frames())
	})
	t.Run("silent", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ReportMalformed = false
		tb := newTestBridge(t, opts)
		tb.command("SEND_100")
		tb.command("TP2_ANGLE_R")
		assert.Empty(t, tb.out.Lines())
	})
}

func TestSeveralCommandsInOneChunk(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	tb.Feed([]byte("AUTO_ON\nMODE_LOOPBACK\nSEND_1"))
	tb.Process()
	assert.Equal(t, []string{"AUTO_SEND_ON"}, tb.out.Lines())
	tb.Process()
	assert.Equal(t, []string{"AUTO_SEND_ON", "MODE_SET_LOOPBACK"}, tb.out.Lines())
	tb.Feed([]byte("_2\n"))
	tb.Process()
	assert.Equal(t, "CAN_TX_OK_1_2", tb.out.Lines()[2])
}

func TestTransmitFailure(t *testing.T) {
	bm := canbridge.NewBusManager(canbridge.NewOfflineBus(errors.New("no device")))
	out := &syncBuffer{}
	b := New(bm, out, DefaultOptions())
	b.Banner(errors.New("no device"), "socketcan", "can0", 125000)
	b.Feed([]byte("SEND_100_01\nTP2_ANGLE_C_10\n"))
	b.Process()
	b.Process()
	assert.Equal(t, []string{"CAN_INIT_FAIL", "TP2_CAN_MONITOR_READY", "CAN_TX_FAIL", "TP2_ANGLE_SENT_FAIL"}, out.Lines())
}

func TestOfflineLoopback(t *testing.T) {
	bm := canbridge.NewBusManager(canbridge.NewOfflineBus(errors.New("no device")))
	out := &syncBuffer{}
	b := New(bm, out, DefaultOptions())
	b.Feed([]byte("MODE_LOOPBACK\nSEND_100_01\nTP2_ANGLE_R_5\n"))
	for i := 0; i < 4; i++ {
		b.Process()
	}
	assert.Equal(t, []string{"MODE_SET_LOOPBACK", "CAN_TX_FAIL", "TP2_ANGLE_SENT_FAIL"}, out.Lines())
}

func TestPendingLinesAreBounded(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	chunk := []byte(strings.Repeat("AUTO_ON\n", 4))
	for i := 0; i < 40; i++ {
		tb.Feed(chunk)
	}
	tb.Process()
	assert.LessOrEqual(t, len(tb.pending), maxPendingLines)
	assert.NotZero(t, len(tb.input))
	for i := 0; i < 200; i++ {
		tb.Process()
	}
	// Throttled, nothing lost
	assert.Len(t, tb.out.Lines(), 160)
	assert.Empty(t, tb.pending)
}

func TestBanner(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	tb.Banner(nil, "virtual", "localhost:18888", 125000)
	assert.Equal(t, []string{
		"CAN_INIT_OK",
		"CAN BaudRate: 125kbps",
		"CAN Interface: virtual localhost:18888",
		"TP2_CAN_MONITOR_READY",
	}, tb.out.Lines())
}

func TestRun(t *testing.T) {
	tb := newTestBridge(t, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- tb.Run(ctx) }()

	tb.Attach(strings.NewReader("SEND_7FF_1_2_3\nBOGUS\n"))
	assert.Eventually(t, func() bool {
		return len(tb.out.Lines()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"CAN_TX_OK_7FF_1_2_3", "UNKNOWN_COMMAND"}, tb.out.Lines())

	_ = tb.peer.bus.Send(can.Frame{ID: 0x42, DLC: 2, Data: [8]byte{'O', '7'}})
	assert.Eventually(t, func() bool {
		return len(tb.out.Lines()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "CAN_RX_42_2_4F_37_TP2_O_7", tb.out.Lines()[2])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	tb.Wait()
}
