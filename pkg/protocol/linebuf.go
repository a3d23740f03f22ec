package protocol

import "errors"

const (
	Terminator = '\n'
	// Largest accepted command line, terminator excluded
	MaxLineLength = 128
)

var ErrLineTooLong = errors.New("command line too long")

// LineBuffer accumulates host input into complete lines.
// A line longer than its maximum is discarded as a whole : the bytes past
// the limit are dropped and the terminator reports ErrLineTooLong.
type LineBuffer struct {
	buf      []byte
	max      int
	overflow bool
}

func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = MaxLineLength
	}
	return &LineBuffer{buf: make([]byte, 0, max), max: max}
}

// Feed one input byte. When b is the terminator, the accumulated line is
// returned with complete set and the buffer starts over.
func (lb *LineBuffer) Feed(b byte) (line string, complete bool, err error) {
	if b != Terminator {
		if lb.overflow {
			return "", false, nil
		}
		if len(lb.buf) == lb.max {
			lb.overflow = true
			lb.buf = lb.buf[:0]
			return "", false, nil
		}
		lb.buf = append(lb.buf, b)
		return "", false, nil
	}
	if lb.overflow {
		lb.overflow = false
		return "", true, ErrLineTooLong
	}
	line = string(lb.buf)
	lb.buf = lb.buf[:0]
	return line, true, nil
}

// Number of bytes waiting for a terminator
func (lb *LineBuffer) Len() int {
	return len(lb.buf)
}

func (lb *LineBuffer) Reset() {
	lb.buf = lb.buf[:0]
	lb.overflow = false
}
