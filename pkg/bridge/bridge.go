package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	canbridge "github.com/tp2/canbridge"
	"github.com/tp2/canbridge/internal/fifo"
	can "github.com/tp2/canbridge/pkg/can"
	"github.com/tp2/canbridge/pkg/protocol"
)

const (
	DefaultPeriod           = 1 * time.Millisecond
	DefaultAutoSendInterval = 1 * time.Second
	DefaultRxQueueSize      = 64
	inputQueueSize          = 64
	readChunkSize           = 64
	// Complete lines waiting for dispatch, input is left unread beyond
	maxPendingLines = 64
)

const lineEnding = "\n"

type Options struct {
	// Answer MALFORMED_COMMAND to lines that can't be parsed,
	// otherwise they are dropped silently
	ReportMalformed bool
	// Period between two re-transmissions of the last frame when auto send is on
	AutoSendInterval time.Duration
	// Received frames waiting to be reported
	RxQueueSize uint16
	// Longest accepted command line
	MaxLineLength int
	// Period of the processing loop in Run
	Period time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReportMalformed:  true,
		AutoSendInterval: DefaultAutoSendInterval,
		RxQueueSize:      DefaultRxQueueSize,
		MaxLineLength:    protocol.MaxLineLength,
		Period:           DefaultPeriod,
	}
}

// ModeState holds the flags mutated by host commands
type ModeState struct {
	Mode     can.Mode
	AutoSend bool
}

type pendingLine struct {
	line string
	err  error
}

// Bridge translates host command lines into CAN frames and received
// CAN frames into report lines. All the processing happens in Process,
// which must be called from a single goroutine.
type Bridge struct {
	bm      *canbridge.BusManager
	opts    Options
	timeNow func() time.Time

	outMu sync.Mutex
	out   io.Writer

	input   chan []byte
	carry   []byte // unconsumed part of the last input chunk
	lines   *protocol.LineBuffer
	pending []pendingLine

	rx      *fifo.FrameFifo
	dropped uint64

	state        ModeState
	lastTx       *can.Frame
	lastAutoSend time.Time

	wg sync.WaitGroup
}

func New(bm *canbridge.BusManager, out io.Writer, opts Options) *Bridge {
	if opts.AutoSendInterval <= 0 {
		opts.AutoSendInterval = DefaultAutoSendInterval
	}
	if opts.RxQueueSize == 0 {
		opts.RxQueueSize = DefaultRxQueueSize
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	b := &Bridge{
		bm:      bm,
		opts:    opts,
		timeNow: time.Now,
		out:     out,
		input:   make(chan []byte, inputQueueSize),
		lines:   protocol.NewLineBuffer(opts.MaxLineLength),
		pending: make([]pendingLine, 0),
		rx:      fifo.NewFrameFifo(opts.RxQueueSize),
		state:   ModeState{Mode: can.ModeNormal},
	}
	bm.Subscribe(b.rx)
	return b
}

func (b *Bridge) State() ModeState {
	return b.state
}

// Banner writes the startup lines, initErr being the result of the
// CAN bus initialization
func (b *Bridge) Banner(initErr error, canInterface string, channel string, bitrate int) {
	if initErr != nil {
		log.Errorf("[BRIDGE] CAN initialization failed : %v", initErr)
		b.writeLine(protocol.RespInitFail)
	} else {
		b.writeLine(protocol.RespInitOk)
		b.writeLine(fmt.Sprintf("CAN BaudRate: %dkbps", bitrate/1000))
		b.writeLine(fmt.Sprintf("CAN Interface: %v %v", canInterface, channel))
	}
	b.writeLine(protocol.RespReady)
}

// Feed host bytes, they are consumed by the next Process
func (b *Bridge) Feed(data []byte) {
	chunk := make([]byte, len(data))
	copy(chunk, data)
	b.input <- chunk
}

// Attach reads host bytes from r in the background until r fails
func (b *Bridge) Attach(r io.Reader) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				b.Feed(buf[:n])
			}
			if errors.Is(err, io.EOF) {
				log.Infof("[BRIDGE] host input closed")
				return
			}
			if err != nil {
				log.Errorf("[BRIDGE] host input error : %v", err)
				return
			}
		}
	}()
}

// Process runs one cycle : consume available host input and dispatch at
// most one command, report at most one received frame, then service
// the auto send timer. Never blocks.
func (b *Bridge) Process() {
	b.drainInput()
	if len(b.pending) > 0 {
		next := b.pending[0]
		b.pending = b.pending[1:]
		if next.err != nil {
			b.reject(next.err)
		} else {
			b.Dispatch(next.line)
		}
	}
	if frame, ok := b.rx.Pop(); ok {
		b.writeLine(protocol.FormatReport(frame))
	}
	if dropped := b.rx.Dropped(); dropped != b.dropped {
		log.Warnf("[BRIDGE] rx queue full, %v frames dropped so far", dropped)
		b.dropped = dropped
	}
	b.processAutoSend()
}

// Run calls Process periodically until ctx is done
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.Period)
	defer ticker.Stop()
	log.Infof("[BRIDGE] processing started, period %v", b.opts.Period)
	for {
		select {
		case <-ctx.Done():
			log.Infof("[BRIDGE] processing stopped")
			return ctx.Err()
		case <-ticker.C:
			b.Process()
		}
	}
}

// Consume host input until no more is available or maxPendingLines lines
// are waiting. What is left stays in the channel, which throttles Attach.
func (b *Bridge) drainInput() {
	for len(b.pending) < maxPendingLines {
		if len(b.carry) == 0 {
			select {
			case chunk := <-b.input:
				b.carry = chunk
			default:
				return
			}
		}
		for len(b.carry) > 0 && len(b.pending) < maxPendingLines {
			line, complete, err := b.lines.Feed(b.carry[0])
			b.carry = b.carry[1:]
			if complete {
				b.pending = append(b.pending, pendingLine{line: line, err: err})
			}
		}
	}
}

// Dispatch executes one command line and writes its acknowledgment
func (b *Bridge) Dispatch(line string) {
	cmd := protocol.Parse(line)
	log.Debugf("[BRIDGE] %v command %q", cmd.Kind, line)
	switch cmd.Kind {
	case protocol.KindSend:
		frame, _ := cmd.Frame()
		b.writeLine(protocol.TxAck(frame, b.transmit(frame)))
	case protocol.KindAngleSend:
		frame, _ := cmd.Frame()
		b.writeLine(protocol.AngleAck(b.transmit(frame)))
	case protocol.KindSetMode:
		if err := b.bm.SetMode(cmd.Mode); err != nil {
			log.Warnf("[BRIDGE] failed to set mode %v : %v", cmd.Mode, err)
		}
		b.state.Mode = cmd.Mode
		b.writeLine(protocol.ModeAck(cmd.Mode))
	case protocol.KindSetAuto:
		b.state.AutoSend = cmd.Auto
		b.lastAutoSend = b.timeNow()
		b.writeLine(protocol.AutoAck(cmd.Auto))
	case protocol.KindMalformed:
		b.reject(cmd.Err)
	default:
		b.writeLine(protocol.RespUnknown)
	}
}

func (b *Bridge) reject(err error) {
	log.Debugf("[BRIDGE] rejected command : %v", err)
	if b.opts.ReportMalformed {
		b.writeLine(protocol.RespMalformed)
	}
}

func (b *Bridge) transmit(frame can.Frame) error {
	err := b.bm.Send(frame)
	if err == nil {
		b.lastTx = &frame
		b.lastAutoSend = b.timeNow()
	}
	return err
}

// While auto send is on, the last transmitted frame is sent again
// AutoSendInterval after the previous transmission, without any host line
func (b *Bridge) processAutoSend() {
	if !b.state.AutoSend || b.lastTx == nil {
		return
	}
	now := b.timeNow()
	if now.Sub(b.lastAutoSend) < b.opts.AutoSendInterval {
		return
	}
	b.lastAutoSend = now
	if err := b.bm.Send(*b.lastTx); err != nil {
		log.Warnf("[BRIDGE] auto send of %v failed : %v", b.lastTx, err)
	}
}

func (b *Bridge) writeLine(line string) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if _, err := io.WriteString(b.out, line+lineEnding); err != nil {
		log.Errorf("[BRIDGE] failed to write %q : %v", line, err)
	}
}

// Wait for the background readers started by Attach
func (b *Bridge) Wait() {
	b.wg.Wait()
}
