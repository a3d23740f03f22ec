package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

var (
	ErrNoPort  = errors.New("no serial port given")
	ErrBadBaud = errors.New("invalid baud rate")
)

const DefaultBaud = 115200

type Config struct {
	Port string
	Baud int
	// When non zero, Read returns after this duration even if nothing arrived,
	// which lets the caller notice a closed link. Zero blocks until data.
	ReadTimeout time.Duration
}

// Port is the host link over a serial line, 8N1
type Port struct {
	name    string
	timeout bool
	rwc     io.ReadWriteCloser
}

func Open(cfg Config) (*Port, error) {
	if cfg.Port == "" {
		return nil, ErrNoPort
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("%w : %v", ErrBadBaud, cfg.Baud)
	}
	stream, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
	})
	if err != nil {
		return nil, fmt.Errorf("open %v : %w", cfg.Port, err)
	}
	log.Infof("[SERIAL] opened %v at %v baud", cfg.Port, cfg.Baud)
	return newPort(cfg.Port, cfg.ReadTimeout > 0, stream), nil
}

func newPort(name string, timeout bool, rwc io.ReadWriteCloser) *Port {
	return &Port{name: name, timeout: timeout, rwc: rwc}
}

func (p *Port) Name() string {
	return p.name
}

// Read from the line. With a read timeout the driver reports an elapsed
// timeout as io.EOF, this is turned into an empty read.
func (p *Port) Read(b []byte) (int, error) {
	n, err := p.rwc.Read(b)
	if p.timeout && n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) {
	return p.rwc.Write(b)
}

func (p *Port) Close() error {
	log.Debugf("[SERIAL] closing %v", p.name)
	return p.rwc.Close()
}
