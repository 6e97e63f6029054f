package mpegts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32(t *testing.T) {
	// CRC-32/MPEG-2 catalogue check value.
	assert.Equal(t, uint32(0x0376E6E7), CRC32([]byte("123456789")))
	assert.Equal(t, uint32(0xFFFFFFFF), CRC32(nil))
}

func TestCounter_Wraps(t *testing.T) {
	var c Counter
	for want := 0; want < 16; want++ {
		assert.Equal(t, uint8(want), c.Next())
	}
	assert.Equal(t, uint8(0), c.Next())
}

func TestNullPacket(t *testing.T) {
	pkt := NullPacket()

	assert.Equal(t, byte(SyncByte), pkt[0])
	assert.Equal(t, PIDNull, PID(pkt[:]))
	assert.False(t, PayloadUnitStart(pkt[:]))
	// Payload-only adaptation field control, counter zero.
	assert.Equal(t, byte(0x10), pkt[3])
	for i := 4; i < PacketSize; i++ {
		require.Equal(t, byte(0xFF), pkt[i], "stuffing at offset %d", i)
	}
}

func TestDiscontinuityPacket(t *testing.T) {
	pkt := DiscontinuityPacket(PIDVideo, 7)

	assert.Equal(t, byte(SyncByte), pkt[0])
	assert.Equal(t, PIDVideo, PID(pkt[:]))
	assert.False(t, PayloadUnitStart(pkt[:]))
	// Adaptation field only, incoming counter preserved.
	assert.Equal(t, byte(0x20|7), pkt[3])
	assert.Equal(t, byte(183), pkt[4])
	assert.Equal(t, byte(0x80), pkt[5])
}

func TestPAT(t *testing.T) {
	pkt := PAT(3)

	assert.Equal(t, byte(SyncByte), pkt[0])
	assert.Equal(t, PIDPAT, PID(pkt[:]))
	assert.True(t, PayloadUnitStart(pkt[:]))
	assert.Equal(t, byte(0x10|3), pkt[3])
	assert.Equal(t, byte(0x00), pkt[4], "pointer_field")

	section := pkt[5:]
	assert.Equal(t, byte(0x00), section[0], "table_id")
	assert.Equal(t, 13, int(section[1]&0x0F)<<8|int(section[2]), "section_length")
	assert.Equal(t, uint16(1), uint16(section[8])<<8|uint16(section[9]), "program_number")
	assert.Equal(t, PIDPMT, uint16(section[10]&0x1F)<<8|uint16(section[11]), "PMT PID")

	// A section followed by its own CRC sums to zero; this is how decoders
	// validate PSI.
	assert.Zero(t, CRC32(pkt[5:21]))

	for i := 21; i < PacketSize; i++ {
		require.Equal(t, byte(0xFF), pkt[i], "stuffing at offset %d", i)
	}
}

func TestPMT_DefaultProgram(t *testing.T) {
	pkt := PMT(0)

	assert.Equal(t, byte(SyncByte), pkt[0])
	assert.Equal(t, PIDPMT, PID(pkt[:]))
	assert.True(t, PayloadUnitStart(pkt[:]))

	section := pkt[5:]
	assert.Equal(t, byte(0x02), section[0], "table_id")
	assert.Equal(t, 23, int(section[1]&0x0F)<<8|int(section[2]), "section_length")
	assert.Equal(t, PIDVideo, uint16(section[8]&0x1F)<<8|uint16(section[9]), "PCR PID")

	// H264 video then AAC audio at the ffmpeg default PIDs.
	assert.Equal(t, StreamTypeH264, section[12])
	assert.Equal(t, PIDVideo, uint16(section[13]&0x1F)<<8|uint16(section[14]))
	assert.Equal(t, StreamTypeAAC, section[17])
	assert.Equal(t, PIDAudio, uint16(section[18]&0x1F)<<8|uint16(section[19]))

	assert.Zero(t, CRC32(pkt[5:31]))

	for i := 31; i < PacketSize; i++ {
		require.Equal(t, byte(0xFF), pkt[i], "stuffing at offset %d", i)
	}
}

func TestPMT_CustomStreams(t *testing.T) {
	pkt := PMT(5,
		ElementaryStream{Type: StreamTypeH265, PID: 0x0200},
		ElementaryStream{Type: StreamTypeAC3, PID: 0x0201},
		ElementaryStream{Type: StreamTypeAC3, PID: 0x0202},
	)

	section := pkt[5:]
	assert.Equal(t, 13+5*3, int(section[1]&0x0F)<<8|int(section[2]), "section_length")
	assert.Equal(t, uint16(0x0200), uint16(section[8]&0x1F)<<8|uint16(section[9]), "PCR PID is first stream")
	assert.Equal(t, StreamTypeH265, section[12])
	assert.Equal(t, StreamTypeAC3, section[17])
	assert.Equal(t, StreamTypeAC3, section[22])

	// table_id through CRC inclusive: 3 header + section_length bytes.
	sectionEnd := 5 + 3 + 13 + 5*3
	assert.Zero(t, CRC32(pkt[5:sectionEnd]))
}

func TestPSI_AppendPair(t *testing.T) {
	psi := NewPSI()

	buf := psi.AppendPair(nil)
	buf = psi.AppendPair(buf)
	require.Len(t, buf, 4*PacketSize)

	first := buf[0:PacketSize]
	second := buf[PacketSize : 2*PacketSize]
	third := buf[2*PacketSize : 3*PacketSize]
	fourth := buf[3*PacketSize : 4*PacketSize]

	assert.Equal(t, PIDPAT, PID(first))
	assert.Equal(t, PIDPMT, PID(second))
	assert.Equal(t, PIDPAT, PID(third))
	assert.Equal(t, PIDPMT, PID(fourth))

	// Counters advance independently per PID.
	assert.Equal(t, byte(0x10), first[3]&0x1F)
	assert.Equal(t, byte(0x11), third[3]&0x1F)
	assert.Equal(t, byte(0x10), second[3]&0x1F)
	assert.Equal(t, byte(0x11), fourth[3]&0x1F)
}
