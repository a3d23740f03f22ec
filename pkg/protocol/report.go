package protocol

import (
	"bytes"

	can "github.com/tp2/canbridge/pkg/can"
)

// Device to host lines
const (
	RespInitOk        = "CAN_INIT_OK"
	RespInitFail      = "CAN_INIT_FAIL"
	RespReady         = "TP2_CAN_MONITOR_READY"
	RespTxFail        = "CAN_TX_FAIL"
	RespAngleSentOk   = "TP2_ANGLE_SENT_OK"
	RespAngleSentFail = "TP2_ANGLE_SENT_FAIL"
	RespModeNormal    = "MODE_SET_NORMAL"
	RespModeLoopback  = "MODE_SET_LOOPBACK"
	RespAutoOn        = "AUTO_SEND_ON"
	RespAutoOff       = "AUTO_SEND_OFF"
	RespUnknown       = "UNKNOWN_COMMAND"
	RespMalformed     = "MALFORMED_COMMAND"
)

const (
	ReportPrefix = "CAN_RX_"
	AngleMarker  = "TP2"
)

// TP2 angle types : roll, pitch and heading
const (
	AngleRoll    byte = 'R'
	AnglePitch   byte = 'C'
	AngleHeading byte = 'O'
)

func IsAngleType(b byte) bool {
	return b == AngleRoll || b == AnglePitch || b == AngleHeading
}

type AngleReport struct {
	Type byte
	Text string
}

// DecodeAngle interprets a frame as TP2 angle telemetry. The text stops at
// the first NUL byte, as a C string would.
func DecodeAngle(frame can.Frame) (AngleReport, bool) {
	payload := frame.Payload()
	if len(payload) < 2 || !IsAngleType(payload[0]) {
		return AngleReport{}, false
	}
	text := payload[1:]
	if i := bytes.IndexByte(text, 0); i != -1 {
		text = text[:i]
	}
	return AngleReport{Type: payload[0], Text: string(text)}, true
}

// FormatReport renders a received frame :
// CAN_RX_<id>_<dlc>[_<byte>...][_TP2_<type>_<text>]
func FormatReport(frame can.Frame) string {
	line := NewLine("CAN", "RX").
		Hex(uint64(frame.ID)).
		Decimal(uint64(frame.DLC)).
		HexBytes(frame.Payload())
	if angle, ok := DecodeAngle(frame); ok {
		line.Text(AngleMarker).Text(string(angle.Type)).Text(angle.Text)
	}
	return line.String()
}

// TxAck is the acknowledgment of a SEND_ command
func TxAck(frame can.Frame, err error) string {
	if err != nil {
		return RespTxFail
	}
	return NewLine("CAN", "TX", "OK").
		Hex(uint64(frame.ID)).
		HexBytes(frame.Payload()).
		String()
}

// AngleAck is the acknowledgment of a TP2_ANGLE_ command
func AngleAck(err error) string {
	if err != nil {
		return RespAngleSentFail
	}
	return RespAngleSentOk
}

func ModeAck(mode can.Mode) string {
	if mode == can.ModeLoopback {
		return RespModeLoopback
	}
	return RespModeNormal
}

func AutoAck(on bool) string {
	if on {
		return RespAutoOn
	}
	return RespAutoOff
}
