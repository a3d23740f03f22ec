package host

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	can "github.com/tp2/canbridge/pkg/can"
	"github.com/tp2/canbridge/pkg/protocol"
)

var (
	ErrNotReport = errors.New("not a frame report")
	ErrReport    = errors.New("invalid frame report")
)

// Report is a CAN_RX_ line read back
type Report struct {
	Frame    can.Frame
	Angle    protocol.AngleReport
	HasAngle bool
}

// ParseReport parses CAN_RX_<id>_<dlc>[_<byte>...][_TP2_<type>_<text>].
// The angle text is kept whole, it may contain separators.
func ParseReport(line string) (Report, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, protocol.ReportPrefix) {
		return Report{}, ErrNotReport
	}
	fields := strings.Split(line[len(protocol.ReportPrefix):], string(protocol.FieldSeparator))
	if len(fields) < 2 {
		return Report{}, fmt.Errorf("%w : missing id or length in %q", ErrReport, line)
	}
	id, err := strconv.ParseUint(fields[0], 16, 32)
	if err != nil {
		return Report{}, fmt.Errorf("%w : id %q", ErrReport, fields[0])
	}
	dlc, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return Report{}, fmt.Errorf("%w : length %q", ErrReport, fields[1])
	}
	report := Report{Frame: can.Frame{ID: uint32(id), DLC: uint8(dlc)}}
	expected := min(int(dlc), can.MaxDLC)
	rest := fields[2:]
	n := 0
	for len(rest) > 0 && rest[0] != protocol.AngleMarker {
		if n == expected {
			return Report{}, fmt.Errorf("%w : more than %v data bytes", ErrReport, expected)
		}
		b, err := strconv.ParseUint(rest[0], 16, 8)
		if err != nil {
			return Report{}, fmt.Errorf("%w : data byte %q", ErrReport, rest[0])
		}
		report.Frame.Data[n] = byte(b)
		n++
		rest = rest[1:]
	}
	if n != expected {
		return Report{}, fmt.Errorf("%w : %v data bytes for length %v", ErrReport, n, dlc)
	}
	if len(rest) == 0 {
		return report, nil
	}
	// AngleMarker, type, text
	if len(rest) < 3 || len(rest[1]) != 1 || !protocol.IsAngleType(rest[1][0]) {
		return Report{}, fmt.Errorf("%w : angle suffix in %q", ErrReport, line)
	}
	report.HasAngle = true
	report.Angle = protocol.AngleReport{
		Type: rest[1][0],
		Text: strings.Join(rest[2:], string(protocol.FieldSeparator)),
	}
	return report, nil
}

// GuessAngle rebuilds an angle from the payload when the report has no
// angle suffix : a type byte followed by the printable bytes of the value.
func (r Report) GuessAngle() (protocol.AngleReport, bool) {
	if r.HasAngle {
		return r.Angle, true
	}
	payload := r.Frame.Payload()
	if len(payload) < 2 || !protocol.IsAngleType(payload[0]) {
		return protocol.AngleReport{}, false
	}
	var sb strings.Builder
	for _, b := range payload[1:] {
		if b >= ' ' && b <= '~' {
			sb.WriteByte(b)
		}
	}
	if sb.Len() == 0 {
		return protocol.AngleReport{}, false
	}
	return protocol.AngleReport{Type: payload[0], Text: sb.String()}, true
}
