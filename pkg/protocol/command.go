package protocol

import (
	"errors"
	"fmt"
	"strings"

	can "github.com/tp2/canbridge/pkg/can"
)

// Host command keywords
const (
	PrefixSend       = "SEND_"
	PrefixAngle      = "TP2_ANGLE_"
	CmdModeNormal    = "MODE_NORMAL"
	CmdModeLoopback  = "MODE_LOOPBACK"
	CmdAutoOn        = "AUTO_ON"
	CmdAutoOff       = "AUTO_OFF"
	FieldSeparator   = '_'
	MaxPayloadFields = can.MaxDLC
)

var (
	ErrMissingSeparator = errors.New("missing field separator")
	ErrEmptyField       = errors.New("empty field")
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindSend
	KindAngleSend
	KindSetMode
	KindSetAuto
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindSend:
		return "send"
	case KindAngleSend:
		return "angle-send"
	case KindSetMode:
		return "set-mode"
	case KindSetAuto:
		return "set-auto"
	case KindMalformed:
		return "malformed"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Command is the parsed view of one host line.
// Only the fields relevant to Kind are set.
type Command struct {
	Kind Kind

	// KindSend
	ID      uint16
	Payload []byte

	// KindAngleSend
	AngleType  string
	AngleValue string

	// KindSetMode
	Mode can.Mode

	// KindSetAuto
	Auto bool

	// KindMalformed
	Err error
}

func malformed(prefix string, err error) Command {
	return Command{Kind: KindMalformed, Err: fmt.Errorf("%v: %w", strings.TrimSuffix(prefix, "_"), err)}
}

// Parse classifies a command line. Surrounding whitespace is ignored,
// keywords are case-sensitive.
func Parse(line string) Command {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, PrefixSend):
		return parseSend(line[len(PrefixSend):])
	case line == CmdModeNormal:
		return Command{Kind: KindSetMode, Mode: can.ModeNormal}
	case line == CmdModeLoopback:
		return Command{Kind: KindSetMode, Mode: can.ModeLoopback}
	case line == CmdAutoOn:
		return Command{Kind: KindSetAuto, Auto: true}
	case line == CmdAutoOff:
		return Command{Kind: KindSetAuto, Auto: false}
	case strings.HasPrefix(line, PrefixAngle):
		return parseAngle(line[len(PrefixAngle):])
	default:
		return Command{Kind: KindUnknown}
	}
}

// <hexID>_<hexByte>_..._<hexByte>
func parseSend(rest string) Command {
	sep := strings.IndexByte(rest, FieldSeparator)
	if sep == -1 {
		return malformed(PrefixSend, ErrMissingSeparator)
	}
	if sep == 0 {
		return malformed(PrefixSend, ErrEmptyField)
	}
	cmd := Command{
		Kind:    KindSend,
		ID:      uint16(ParseHex(rest[:sep], 16)),
		Payload: make([]byte, 0, MaxPayloadFields),
	}
	fields := rest[sep+1:]
	start := 0
	for start < len(fields) && len(cmd.Payload) < MaxPayloadFields {
		end := strings.IndexByte(fields[start:], FieldSeparator)
		if end == -1 {
			end = len(fields)
		} else {
			end += start
		}
		cmd.Payload = append(cmd.Payload, ParseHexByte(fields[start:end]))
		start = end + 1
	}
	return cmd
}

// <type>_<value>, the value is kept whole even if it contains separators
func parseAngle(rest string) Command {
	sep := strings.IndexByte(rest, FieldSeparator)
	if sep == -1 {
		return malformed(PrefixAngle, ErrMissingSeparator)
	}
	if sep == 0 {
		return malformed(PrefixAngle, ErrEmptyField)
	}
	return Command{Kind: KindAngleSend, AngleType: rest[:sep], AngleValue: rest[sep+1:]}
}
