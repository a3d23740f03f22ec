package host

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	can "github.com/tp2/canbridge/pkg/can"
)

// Client talks to a bridge over any line oriented link
type Client struct {
	mu      sync.Mutex
	rw      io.ReadWriter
	tracker *Tracker
}

// NewClient, tracker may be nil
func NewClient(rw io.ReadWriter, tracker *Tracker) *Client {
	return &Client{rw: rw, tracker: tracker}
}

// Send writes one command line
func (c *Client) Send(command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.rw, command+"\n")
	return err
}

func (c *Client) SendFrame(id uint32, data []byte) error {
	return c.Send(SendCommand(id, data))
}

func (c *Client) SendAngle(group int, angleType byte, value int) error {
	command, err := AngleCommand(group, angleType, value)
	if err != nil {
		return err
	}
	return c.Send(command)
}

func (c *Client) SetMode(mode can.Mode) error {
	return c.Send(ModeCommand(mode))
}

func (c *Client) SetAuto(on bool) error {
	return c.Send(AutoCommand(on))
}

// Listen reads device lines until the link ends. Frame reports update the
// tracker, every line is then passed to handler (may be nil).
func (c *Client) Listen(handler func(line string)) error {
	scanner := bufio.NewScanner(c.rw)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if c.tracker != nil {
			report, err := ParseReport(line)
			if err == nil {
				c.tracker.Update(report)
			} else if !errors.Is(err, ErrNotReport) {
				log.Debugf("[HOST] %v", err)
			}
		}
		if handler != nil {
			handler(line)
		}
	}
	return scanner.Err()
}
