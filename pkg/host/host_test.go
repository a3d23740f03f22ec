package host

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	can "github.com/tp2/canbridge/pkg/can"
	"github.com/tp2/canbridge/pkg/protocol"
)

func TestCommands(t *testing.T) {
	assert.Equal(t, "SEND_100_52_2D", SendCommand(0x100, []byte{0x52, 0x2D}))
	assert.Equal(t, "SEND_7FF_1_2_3_4_5_6_7_8", SendCommand(0x7FF, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	assert.Equal(t, "MODE_LOOPBACK", ModeCommand(can.ModeLoopback))
	assert.Equal(t, "MODE_NORMAL", ModeCommand(can.ModeNormal))
	assert.Equal(t, "AUTO_ON", AutoCommand(true))
	assert.Equal(t, "AUTO_OFF", AutoCommand(false))

	command, err := AngleCommand(3, 'R', -45)
	assert.Nil(t, err)
	assert.Equal(t, "SEND_103_52_2D_34_35", command)

	cmd := protocol.Parse(command)
	frame, ok := cmd.Frame()
	require.True(t, ok)
	assert.EqualValues(t, 0x103, frame.ID)
	assert.Equal(t, []byte("R-45"), frame.Payload())
}

func TestAngleCommandErrors(t *testing.T) {
	_, err := AngleCommand(8, 'R', 0)
	assert.ErrorIs(t, err, ErrGroup)
	_, err = AngleCommand(-1, 'R', 0)
	assert.ErrorIs(t, err, ErrGroup)
	_, err = AngleCommand(0, 'X', 0)
	assert.ErrorIs(t, err, ErrAngleType)
	_, err = AngleCommand(0, 'O', 181)
	assert.ErrorIs(t, err, ErrAngle)
	_, err = AngleCommand(0, 'O', -180)
	assert.ErrorIs(t, err, ErrAngle)
	_, err = AngleCommand(7, 'C', 180)
	assert.Nil(t, err)
}

func TestParseReport(t *testing.T) {
	frames := []can.Frame{
		{ID: 0x100, DLC: 4, Data: [8]byte{'R', '-', '4', '5'}},
		{ID: 0x7FF, DLC: 0},
		{ID: 0x123, DLC: 3, Data: [8]byte{0xAA, 0x00, 0x0F}},
		{ID: 0x101, DLC: 3, Data: [8]byte{'C', '_', '1'}},
		{ID: 0x102, DLC: 3, Data: [8]byte{'O', 0, '1'}},
	}
	for _, frame := range frames {
		line := protocol.FormatReport(frame)
		t.Run(line, func(t *testing.T) {
			report, err := ParseReport(line)
			require.Nil(t, err)
			assert.Equal(t, frame, report.Frame)
			angle, ok := protocol.DecodeAngle(frame)
			assert.Equal(t, ok, report.HasAngle)
			assert.Equal(t, angle, report.Angle)
		})
	}
}

func TestParseReportErrors(t *testing.T) {
	_, err := ParseReport("CAN_TX_OK_100_1")
	assert.ErrorIs(t, err, ErrNotReport)
	for _, line := range []string{
		"CAN_RX_100",
		"CAN_RX_XYZ_1_0",
		"CAN_RX_100_A_0",
		"CAN_RX_100_2_1",
		"CAN_RX_100_1_1_2",
		"CAN_RX_100_1_GG",
		"CAN_RX_100_2_52_31_TP2_X_1",
		"CAN_RX_100_2_52_31_TP2",
	} {
		_, err := ParseReport(line)
		assert.ErrorIs(t, err, ErrReport, line)
	}
}

func TestGuessAngle(t *testing.T) {
	report, err := ParseReport("CAN_RX_101_5_43_31_0_32_33")
	require.Nil(t, err)
	assert.False(t, report.HasAngle)
	angle, ok := report.GuessAngle()
	assert.True(t, ok)
	assert.Equal(t, protocol.AngleReport{Type: 'C', Text: "123"}, angle)

	report, _ = ParseReport("CAN_RX_101_2_AA_31")
	_, ok = report.GuessAngle()
	assert.False(t, ok)
}

func TestTracker(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	tracker.timeNow = func() time.Time { return now }

	report, _ := ParseReport(protocol.FormatReport(can.Frame{ID: 0x102, DLC: 4, Data: [8]byte{'O', '9', '0', 0}}))
	assert.True(t, tracker.Update(report))
	// Outside of the angle groups
	report, _ = ParseReport(protocol.FormatReport(can.Frame{ID: 0x108, DLC: 2, Data: [8]byte{'R', '1'}}))
	assert.False(t, tracker.Update(report))
	// Not an angle
	report, _ = ParseReport("CAN_RX_100_1_1")
	assert.False(t, tracker.Update(report))

	groups := tracker.Snapshot()
	require.Len(t, groups, GroupCount)
	assert.Equal(t, Sample{Value: "90", Updated: now}, groups[2].Angles['O'])
	assert.Equal(t, now, groups[2].LastUpdate)
	assert.False(t, groups[2].Stale('O', now.Add(StaleAfter)))
	assert.True(t, groups[2].Stale('O', now.Add(StaleAfter+time.Millisecond)))
	assert.True(t, groups[2].Stale('R', now))
	assert.True(t, groups[0].LastUpdate.IsZero())

	tracker.Reset()
	assert.Empty(t, tracker.Snapshot()[2].Angles)
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0s", FormatElapsed(0))
	assert.Equal(t, "5s", FormatElapsed(5*time.Second+300*time.Millisecond))
	assert.Equal(t, "1m 5s", FormatElapsed(65*time.Second))
	assert.Equal(t, "59m 59s", FormatElapsed(3599*time.Second))
	assert.Equal(t, "1h 2m", FormatElapsed(3725*time.Second))
}

type link struct {
	io.Reader
	bytes.Buffer
}

func (l *link) Read(p []byte) (int, error) {
	return l.Reader.Read(p)
}

func TestClient(t *testing.T) {
	rw := &link{Reader: strings.NewReader(
		"CAN_INIT_OK\r\n\nCAN_RX_100_5_52_2D_34_35_0_TP2_R_-45\nCAN_RX_BAD\nTP2_ANGLE_SENT_OK\n",
	)}
	tracker := NewTracker()
	client := NewClient(rw, tracker)

	assert.Nil(t, client.SendFrame(0x100, []byte{1}))
	assert.Nil(t, client.SendAngle(1, 'C', 10))
	assert.NotNil(t, client.SendAngle(9, 'C', 10))
	assert.Nil(t, client.SetMode(can.ModeLoopback))
	assert.Nil(t, client.SetAuto(true))
	assert.Equal(t, "SEND_100_1\nSEND_101_43_31_30\nMODE_LOOPBACK\nAUTO_ON\n", rw.String())

	lines := []string{}
	assert.Nil(t, client.Listen(func(line string) { lines = append(lines, line) }))
	assert.Equal(t, []string{
		"CAN_INIT_OK",
		"CAN_RX_100_5_52_2D_34_35_0_TP2_R_-45",
		"CAN_RX_BAD",
		"TP2_ANGLE_SENT_OK",
	}, lines)
	assert.Equal(t, "-45", tracker.Snapshot()[0].Angles['R'].Value)
}

func TestWriteTable(t *testing.T) {
	tracker := NewTracker()
	now := time.Unix(1000, 0)
	tracker.timeNow = func() time.Time { return now }
	report, _ := ParseReport("CAN_RX_101_3_52_31_30_TP2_R_10")
	tracker.Update(report)

	var buf bytes.Buffer
	assert.Nil(t, WriteTable(&buf, tracker.Snapshot(), now.Add(3*time.Second)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, GroupCount+1)
	assert.True(t, strings.HasPrefix(lines[0], "GROUP"))
	assert.Equal(t, []string{"1", "10*", "3s", "--", "never", "--", "never", "3s"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"0", "--", "never", "--", "never", "--", "never", "never"}, strings.Fields(lines[1]))
}
