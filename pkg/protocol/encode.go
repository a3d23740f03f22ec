package protocol

import can "github.com/tp2/canbridge/pkg/can"

// Fixed identifier of TP2 angle frames
const AngleFrameID uint32 = 0x100

// Standard data frame, no flags
const standardFrame uint8 = 0

// EncodeSend builds the frame of a SEND_ command. The id is passed through
// without range check, at most 8 payload bytes are kept.
func EncodeSend(id uint16, payload []byte) can.Frame {
	frame := can.NewFrame(uint32(id), standardFrame, 0)
	frame.DLC = uint8(copy(frame.Data[:], payload))
	return frame
}

// EncodeAngle builds a TP2 angle frame : the first byte of the type tag
// followed by the raw bytes of the value, truncated to fit the frame.
func EncodeAngle(angleType string, value string) can.Frame {
	frame := can.NewFrame(AngleFrameID, standardFrame, 1)
	if len(angleType) > 0 {
		frame.Data[0] = angleType[0]
	}
	frame.DLC += uint8(copy(frame.Data[1:], value))
	return frame
}

// Frame returns the frame to transmit for Send and AngleSend commands
func (c Command) Frame() (can.Frame, bool) {
	switch c.Kind {
	case KindSend:
		return EncodeSend(c.ID, c.Payload), true
	case KindAngleSend:
		return EncodeAngle(c.AngleType, c.AngleValue), true
	}
	return can.Frame{}, false
}
