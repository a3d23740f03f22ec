package host

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	can "github.com/tp2/canbridge/pkg/can"
	"github.com/tp2/canbridge/pkg/protocol"
)

// TP2 angle groups, group n uses identifier AngleFrameID + n
const (
	GroupCount = 8
	MinAngle   = -179
	MaxAngle   = 180
)

var (
	ErrGroup     = errors.New("angle group out of range")
	ErrAngleType = errors.New("invalid angle type")
	ErrAngle     = errors.New("angle out of range")
)

// SendCommand formats a SEND_ command, at most 8 bytes of data are sent
func SendCommand(id uint32, data []byte) string {
	if len(data) > can.MaxDLC {
		data = data[:can.MaxDLC]
	}
	return protocol.NewLine(strings.TrimSuffix(protocol.PrefixSend, "_")).
		Hex(uint64(id)).
		HexBytes(data).
		String()
}

// AngleCommand formats the SEND_ command of a TP2 angle for a group :
// the type byte followed by the decimal value in ASCII
func AngleCommand(group int, angleType byte, value int) (string, error) {
	if group < 0 || group >= GroupCount {
		return "", fmt.Errorf("%w : %v", ErrGroup, group)
	}
	if !protocol.IsAngleType(angleType) {
		return "", fmt.Errorf("%w : %q", ErrAngleType, angleType)
	}
	if value < MinAngle || value > MaxAngle {
		return "", fmt.Errorf("%w : %v", ErrAngle, value)
	}
	payload := append([]byte{angleType}, strconv.Itoa(value)...)
	return SendCommand(GroupID(group), payload), nil
}

// GroupID is the CAN identifier of an angle group
func GroupID(group int) uint32 {
	return protocol.AngleFrameID + uint32(group)
}

func ModeCommand(mode can.Mode) string {
	if mode == can.ModeLoopback {
		return protocol.CmdModeLoopback
	}
	return protocol.CmdModeNormal
}

func AutoCommand(on bool) string {
	if on {
		return protocol.CmdAutoOn
	}
	return protocol.CmdAutoOff
}
