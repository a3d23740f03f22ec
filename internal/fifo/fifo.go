package fifo

import (
	"sync"

	can "github.com/tp2/canbridge/pkg/can"
)

// Circular frame fifo, written by the bus reception goroutine
// and read by the bridge loop. One slot is always kept free to
// tell a full fifo from an empty one.
type FrameFifo struct {
	mu       sync.Mutex
	buffer   []can.Frame
	writePos int
	readPos  int
	dropped  uint64
}

func NewFrameFifo(size uint16) *FrameFifo {
	if size < 2 {
		size = 2
	}
	f := &FrameFifo{
		buffer:   make([]can.Frame, size),
		writePos: 0,
		readPos:  0,
	}
	return f
}

func (f *FrameFifo) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readPos = 0
	f.writePos = 0
}

func (f *FrameFifo) GetSpace() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.space()
}

func (f *FrameFifo) space() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

func (f *FrameFifo) GetOccupied() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Push a frame, returns false if the fifo is full and the frame was dropped
func (f *FrameFifo) Push(frame can.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.space() == 0 {
		f.dropped++
		return false
	}
	f.buffer[f.writePos] = frame
	f.writePos++
	if f.writePos == len(f.buffer) {
		f.writePos = 0
	}
	return true
}

// Pop the oldest frame
func (f *FrameFifo) Pop() (can.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readPos == f.writePos {
		return can.Frame{}, false
	}
	frame := f.buffer[f.readPos]
	f.readPos++
	if f.readPos == len(f.buffer) {
		f.readPos = 0
	}
	return frame, true
}

// Handle implements can.FrameListener
func (f *FrameFifo) Handle(frame can.Frame) {
	f.Push(frame)
}

// Number of frames dropped because the fifo was full
func (f *FrameFifo) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
