// Package mpegts builds the small set of MPEG-TS packets the broadcaster
// injects around FFmpeg output: null packets that keep client sockets warm
// during stalls, PAT/PMT tables that let tuners lock program structure before
// the first real frame arrives, and discontinuity shims for splice points.
//
// PID and table values match the ffmpeg mpegts muxer defaults the pipeline
// pins (-mpegts_start_pid 256, -mpegts_pmt_start_pid 4096), so injected
// packets are structurally continuous with the real stream.
package mpegts

// PacketSize is the fixed MPEG-TS transport packet size.
const PacketSize = 188

// SyncByte starts every transport packet.
const SyncByte = 0x47

// Well-known PIDs.
const (
	PIDPAT   uint16 = 0x0000 // program association table
	PIDPMT   uint16 = 0x1000 // first PMT, ffmpeg default
	PIDVideo uint16 = 0x0100 // first elementary stream, ffmpeg default
	PIDAudio uint16 = 0x0101
	PIDNull  uint16 = 0x1FFF // stuffing, ignored by decoders
)

// ISO 13818-1 stream_type values for the elementary streams the pipeline
// produces. 0x81/0x87 are the ATSC registrations ffmpeg emits for AC-3/E-AC-3.
const (
	StreamTypeMPEG1Audio uint8 = 0x03
	StreamTypeAAC        uint8 = 0x0F
	StreamTypeH264       uint8 = 0x1B
	StreamTypeH265       uint8 = 0x24
	StreamTypeAC3        uint8 = 0x81
	StreamTypeEAC3       uint8 = 0x87
)

// Counter is a 4-bit per-PID continuity counter.
type Counter uint8

// Next returns the current counter value and advances with wraparound.
func (c *Counter) Next() uint8 {
	v := uint8(*c) & 0x0F
	*c = Counter((v + 1) & 0x0F)
	return v
}

// CRC32 computes the MPEG-2 section CRC-32 (polynomial 0x04C11DB7, init
// 0xFFFFFFFF, MSB-first, no reflection, no final XOR) used in PSI tables.
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc^(uint32(b)<<24))&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
			b <<= 1
		}
	}
	return crc
}

// NullPacket returns a stuffing packet on PID 0x1FFF. Decoders discard it;
// its only job is to keep bytes flowing on an otherwise idle socket.
func NullPacket() [PacketSize]byte {
	pkt := [PacketSize]byte{SyncByte, 0x1F, 0xFF, 0x10}
	for i := 4; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// DiscontinuityPacket returns an adaptation-field-only packet for pid with
// the discontinuity_indicator set. Emitted ahead of a splice so decoders
// accept the continuity counter and timestamp jump instead of flagging
// errors. Reuses the incoming cc so the following payload packet with the
// same counter remains legal.
func DiscontinuityPacket(pid uint16, cc uint8) [PacketSize]byte {
	var pkt [PacketSize]byte
	pkt[0] = SyncByte
	pkt[1] = byte((pid >> 8) & 0x1F)
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = 0x20 | (cc & 0x0F)
	pkt[4] = 183  // adaptation_field_length: rest of the packet
	pkt[5] = 0x80 // discontinuity_indicator
	for i := 6; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// PAT returns a packet declaring program 1 at PIDPMT. cc is the continuity
// counter for PID 0.
func PAT(cc uint8) [PacketSize]byte {
	var pkt [PacketSize]byte
	pkt[0] = SyncByte
	pkt[1] = 0x40 // PUSI=1, PID=0
	pkt[2] = 0x00
	pkt[3] = 0x10 | (cc & 0x0F)
	pkt[4] = 0x00 // pointer_field
	s := pkt[5:]
	s[0] = 0x00 // table_id
	s[1] = 0xB0 // section_syntax=1, reserved
	s[2] = 0x0D // section_length = 13
	s[3] = 0x00 // transport_stream_id
	s[4] = 0x01
	s[5] = 0xC1 // version=0, current_next=1
	s[6] = 0x00 // section_number
	s[7] = 0x00 // last_section_number
	s[8] = 0x00 // program_number = 1
	s[9] = 0x01
	s[10] = byte(0xE0 | ((PIDPMT >> 8) & 0x1F))
	s[11] = byte(PIDPMT & 0xFF)
	crc := CRC32(pkt[5:17])
	s[12] = byte(crc >> 24)
	s[13] = byte(crc >> 16)
	s[14] = byte(crc >> 8)
	s[15] = byte(crc)
	for i := 21; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// ElementaryStream is one PMT stream entry.
type ElementaryStream struct {
	Type uint8
	PID  uint16
}

// PMT returns a packet declaring program 1 with the given elementary
// streams. The first stream's PID doubles as the PCR PID. cc is the
// continuity counter for PIDPMT. The section must fit a single packet;
// callers pass at most a handful of streams.
func PMT(cc uint8, streams ...ElementaryStream) [PacketSize]byte {
	if len(streams) == 0 {
		streams = []ElementaryStream{
			{Type: StreamTypeH264, PID: PIDVideo},
			{Type: StreamTypeAAC, PID: PIDAudio},
		}
	}

	var pkt [PacketSize]byte
	pkt[0] = SyncByte
	pkt[1] = byte(0x40 | ((PIDPMT >> 8) & 0x1F))
	pkt[2] = byte(PIDPMT & 0xFF)
	pkt[3] = 0x10 | (cc & 0x0F)
	pkt[4] = 0x00 // pointer_field

	sectionLength := 13 + 5*len(streams)
	pcrPID := streams[0].PID

	s := pkt[5:]
	s[0] = 0x02 // table_id (PMT)
	s[1] = byte(0xB0 | ((sectionLength >> 8) & 0x0F))
	s[2] = byte(sectionLength & 0xFF)
	s[3] = 0x00 // program_number = 1
	s[4] = 0x01
	s[5] = 0xC1 // version=0, current_next=1
	s[6] = 0x00 // section_number
	s[7] = 0x00 // last_section_number
	s[8] = byte(0xE0 | ((pcrPID >> 8) & 0x1F))
	s[9] = byte(pcrPID & 0xFF)
	s[10] = 0xF0 // program_info_length = 0
	s[11] = 0x00

	off := 12
	for _, es := range streams {
		s[off] = es.Type
		s[off+1] = byte(0xE0 | ((es.PID >> 8) & 0x1F))
		s[off+2] = byte(es.PID & 0xFF)
		s[off+3] = 0xF0 // ES_info_length = 0
		s[off+4] = 0x00
		off += 5
	}

	crc := CRC32(pkt[5 : 5+off])
	s[off] = byte(crc >> 24)
	s[off+1] = byte(crc >> 16)
	s[off+2] = byte(crc >> 8)
	s[off+3] = byte(crc)

	for i := 5 + off + 4; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// PSI emits PAT/PMT pairs with independent continuity counters, for
// injection at session start and as a program-structure keepalive while a
// pipeline spins up.
type PSI struct {
	streams []ElementaryStream
	patCC   Counter
	pmtCC   Counter
}

// NewPSI creates a PSI emitter for the given streams. With no streams the
// pair declares the default H264 video + AAC audio program.
func NewPSI(streams ...ElementaryStream) *PSI {
	return &PSI{streams: streams}
}

// AppendPair appends one PAT packet and one PMT packet to dst, advancing
// both counters.
func (p *PSI) AppendPair(dst []byte) []byte {
	pat := PAT(p.patCC.Next())
	pmt := PMT(p.pmtCC.Next(), p.streams...)
	dst = append(dst, pat[:]...)
	return append(dst, pmt[:]...)
}

// PID extracts the 13-bit PID from a packet header.
func PID(pkt []byte) uint16 {
	return uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])
}

// PayloadUnitStart reports whether the packet begins a new PES packet or
// PSI section.
func PayloadUnitStart(pkt []byte) bool {
	return pkt[1]&0x40 != 0
}
