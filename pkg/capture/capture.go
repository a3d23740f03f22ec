package capture

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"
	can "github.com/tp2/canbridge/pkg/can"
)

// Frames going through the bridge can be recorded to a file as a stream of
// CBOR items, one per frame.

type Direction string

const (
	DirectionRx Direction = "rx"
	DirectionTx Direction = "tx"
)

type Record struct {
	Time      int64     `cbor:"t"` // unix nanoseconds
	Direction Direction `cbor:"dir"`
	ID        uint32    `cbor:"id"`
	DLC       uint8     `cbor:"dlc"`
	Data      []byte    `cbor:"data"`
}

func (r Record) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

func (r Record) Frame() can.Frame {
	frame := can.Frame{ID: r.ID, DLC: r.DLC}
	copy(frame.Data[:], r.Data)
	return frame
}

type Recorder struct {
	mu      sync.Mutex
	encoder *cbor.Encoder
	closer  io.Closer
	timeNow func() time.Time
	err     error
}

func NewRecorder(w io.Writer) *Recorder {
	recorder := &Recorder{encoder: cbor.NewEncoder(w), timeNow: time.Now}
	if closer, ok := w.(io.Closer); ok {
		recorder.closer = closer
	}
	return recorder
}

// Create a recorder writing to a new file at path
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewRecorder(f), nil
}

// Record a frame. After the first write error, the recorder stops
// recording and keeps returning that error.
func (r *Recorder) Record(direction Direction, frame can.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	payload := frame.Payload()
	record := Record{
		Time:      r.timeNow().UnixNano(),
		Direction: direction,
		ID:        frame.ID,
		DLC:       frame.DLC,
		Data:      append([]byte{}, payload...),
	}
	if err := r.encoder.Encode(record); err != nil {
		log.Errorf("[CAPTURE] recording stopped : %v", err)
		r.err = err
	}
	return r.err
}

// Listener returns a can.FrameListener recording in the given direction
func (r *Recorder) Listener(direction Direction) can.FrameListener {
	return can.FrameListenerFunc(func(frame can.Frame) {
		_ = r.Record(direction, frame)
	})
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

type Reader struct {
	decoder *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{decoder: cbor.NewDecoder(r)}
}

// Next record, io.EOF once the stream is exhausted
func (r *Reader) Next() (Record, error) {
	var record Record
	err := r.decoder.Decode(&record)
	if errors.Is(err, io.EOF) {
		return Record{}, io.EOF
	}
	return record, err
}

// ReadAll records until the end of the stream
func (r *Reader) ReadAll() ([]Record, error) {
	records := make([]Record, 0)
	for {
		record, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
}
