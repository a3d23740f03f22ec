package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	can "github.com/tp2/canbridge/pkg/can"
)

// Client of a virtualcan broker (https://github.com/windelbouwman/virtualcan),
// which relays every frame to all the other connected clients.
// Each message is a big endian length followed by the frame.

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

const (
	headerSize   = 4
	frameSize    = 14 // id, flags, dlc, data
	dialTimeout  = 2 * time.Second
	writeTimeout = 10 * time.Millisecond
	pollTimeout  = 200 * time.Millisecond
	bodyTimeout  = time.Second
)

var ErrMessageSize = errors.New("unexpected virtualcan message size")

type Bus struct {
	channel string

	mu       sync.Mutex // conn, listener, loopback, writes
	conn     net.Conn
	listener can.FrameListener
	loopback bool

	stop chan struct{}
	done chan struct{}
}

func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel}, nil
}

func encodeFrame(frame can.Frame) ([]byte, error) {
	msg := bytes.NewBuffer(make([]byte, headerSize, headerSize+frameSize))
	if err := binary.Write(msg, binary.BigEndian, frame); err != nil {
		return nil, err
	}
	raw := msg.Bytes()
	binary.BigEndian.PutUint32(raw, uint32(len(raw)-headerSize))
	return raw, nil
}

func decodeFrame(body []byte) (can.Frame, error) {
	var frame can.Frame
	if len(body) != frameSize {
		return frame, fmt.Errorf("%w : %v bytes", ErrMessageSize, len(body))
	}
	err := binary.Read(bytes.NewReader(body), binary.BigEndian, &frame)
	return frame, err
}

// Connect to the broker given as channel e.g. localhost:18888
func (b *Bus) Connect(...any) error {
	conn, err := net.DialTimeout("tcp", b.channel, dialTimeout)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return err
		}
	}
	b.mu.Lock()
	b.conn = conn
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	stop, done := b.stop, b.done
	b.mu.Unlock()
	go b.receive(conn, stop, done)
	log.Debugf("[VIRTUAL] connected to broker %v", b.channel)
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	conn, stop, done := b.conn, b.stop, b.done
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(stop)
	err := conn.Close()
	<-done
	return err
}

// Send a frame to the broker. In loopback the frame only goes back to
// the local listener, nothing reaches the other clients.
func (b *Bus) Send(frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.loopback {
		listener := b.listener
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(frame)
		}
		return nil
	}
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("abort send : %w", can.ErrNotConnected)
	}
	msg, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = b.conn.Write(msg)
	return err
}

func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) SetMode(mode can.Mode) error {
	switch mode {
	case can.ModeNormal, can.ModeLoopback:
	default:
		return fmt.Errorf("unsupported mode : %v", mode)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loopback = mode == can.ModeLoopback
	return nil
}

func (b *Bus) receive(conn net.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		frame, err := readFrame(conn)
		select {
		case <-stop:
			return
		default:
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		if err != nil {
			log.Errorf("[VIRTUAL] reception from %v stopped : %v", conn.RemoteAddr(), err)
			return
		}
		b.mu.Lock()
		listener := b.listener
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(frame)
		}
	}
}

// readFrame waits up to pollTimeout for a message to start, a timeout with
// nothing read is reported as is so that the caller can poll again
func readFrame(conn net.Conn) (can.Frame, error) {
	header := make([]byte, headerSize)
	_ = conn.SetReadDeadline(time.Now().Add(pollTimeout))
	n, err := io.ReadFull(conn, header)
	if err != nil {
		if n == 0 {
			return can.Frame{}, err
		}
		return can.Frame{}, fmt.Errorf("truncated header (%v bytes) : %w", n, io.ErrUnexpectedEOF)
	}
	size := binary.BigEndian.Uint32(header)
	if size != frameSize {
		return can.Frame{}, fmt.Errorf("%w : %v bytes", ErrMessageSize, size)
	}
	body := make([]byte, size)
	_ = conn.SetReadDeadline(time.Now().Add(bodyTimeout))
	if _, err := io.ReadFull(conn, body); err != nil {
		return can.Frame{}, fmt.Errorf("truncated frame : %w", io.ErrUnexpectedEOF)
	}
	return decodeFrame(body)
}
