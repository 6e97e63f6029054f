package broadcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/asticode/go-astits"

	"github.com/exstreamtv/exstreamtv/pkg/mpegts"
)

// ProgramStream is one elementary stream in the channel's program.
type ProgramStream struct {
	PID   uint16 `json:"pid"`
	Codec string `json:"codec"`
	Video bool   `json:"video"`
}

// ProgramInfo is the program structure declared by the stream's PAT/PMT
// pair. The pipeline pins table and stream PIDs on every process it
// spawns, so the structure is stable across item splices.
type ProgramInfo struct {
	PMTPID   uint16          `json:"pmt_pid"`
	PCRPID   uint16          `json:"pcr_pid"`
	VideoPID uint16          `json:"video_pid"`
	Streams  []ProgramStream `json:"streams"`
}

// chunkSink receives reframed output. *Buffer implements it.
type chunkSink interface {
	Append(payload []byte, aligned bool) error
	SetPSI(pat, pmt []byte)
}

// Chunker reframes raw FFmpeg stdout into transport-packet-aligned
// chunks, cut ahead of each payload-unit start on the program's video
// PID so a chunk boundary is always a frame edge. It retains the current
// PAT/PMT packets for session preludes and parses them for the program
// structure. The parse is synchronous over just the two table packets;
// the per-byte hot path never leaves this struct.
type Chunker struct {
	sink     chunkSink
	maxChunk int
	logger   *slog.Logger

	rem     []byte // partial packet carried between writes
	chunk   []byte
	aligned bool // pending chunk starts at a payload-unit boundary

	pat         []byte
	pmt         []byte
	pmtPID      uint16
	boundaryPID uint16
	lastCC      uint8 // continuity counter seen on the boundary PID

	// program is read by the status surface from other goroutines;
	// everything else in here belongs to the producer alone.
	program atomic.Pointer[ProgramInfo]

	resyncs atomic.Uint64
}

// NewChunker creates a reframer emitting chunks of at most maxChunk
// bytes into sink.
func NewChunker(sink chunkSink, maxChunk int, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	if maxChunk < mpegts.PacketSize {
		maxChunk = 64 << 10
	}
	return &Chunker{
		sink:        sink,
		maxChunk:    maxChunk,
		logger:      logger,
		chunk:       make([]byte, 0, maxChunk+mpegts.PacketSize),
		pmtPID:      mpegts.PIDPMT,
		boundaryPID: mpegts.PIDVideo,
	}
}

// Write implements io.Writer for FFmpeg stdout. A sink failure stops the
// copy loop, which ends the process.
func (c *Chunker) Write(p []byte) (int, error) {
	data := p
	if len(c.rem) > 0 {
		data = append(c.rem, p...)
	}

	for len(data) >= mpegts.PacketSize {
		if data[0] != mpegts.SyncByte {
			i := bytes.IndexByte(data, mpegts.SyncByte)
			if i < 0 {
				data = nil
				break
			}
			c.resyncs.Add(1)
			data = data[i:]
			continue
		}
		if err := c.packet(data[:mpegts.PacketSize]); err != nil {
			return 0, err
		}
		data = data[mpegts.PacketSize:]
	}

	c.rem = append(c.rem[:0], data...)
	return len(p), nil
}

func (c *Chunker) packet(pkt []byte) error {
	pid := mpegts.PID(pkt)
	switch pid {
	case mpegts.PIDPAT:
		if mpegts.PayloadUnitStart(pkt) && !samePSIPayload(c.pat, pkt) {
			c.pat = append(c.pat[:0], pkt...)
			c.refreshProgram()
		}
	case c.pmtPID:
		if mpegts.PayloadUnitStart(pkt) && !samePSIPayload(c.pmt, pkt) {
			c.pmt = append(c.pmt[:0], pkt...)
			c.refreshProgram()
		}
	case c.boundaryPID:
		c.lastCC = pkt[3] & 0x0F
		if mpegts.PayloadUnitStart(pkt) {
			if err := c.boundary(); err != nil {
				return err
			}
		}
	}

	c.chunk = append(c.chunk, pkt...)
	if len(c.chunk) >= c.maxChunk {
		return c.emit()
	}
	return nil
}

// boundary flushes the pending chunk and marks the next one aligned.
func (c *Chunker) boundary() error {
	if len(c.chunk) > 0 {
		if err := c.emit(); err != nil {
			return err
		}
	}
	c.aligned = true
	return nil
}

func (c *Chunker) emit() error {
	out := c.chunk
	c.chunk = make([]byte, 0, c.maxChunk+mpegts.PacketSize)
	aligned := c.aligned
	c.aligned = false
	return c.sink.Append(out, aligned)
}

// Flush emits whatever is pending. Called at stream shutdown so the tail
// reaches sessions.
func (c *Chunker) Flush() error {
	if len(c.chunk) == 0 {
		return nil
	}
	return c.emit()
}

// Splice marks an item transition: the torn packet from the dead process
// is dropped and a discontinuity shim is appended so decoders accept the
// counter and timestamp jump into the next item.
func (c *Chunker) Splice() error {
	c.rem = c.rem[:0]
	shim := mpegts.DiscontinuityPacket(c.boundaryPID, c.lastCC)
	c.chunk = append(c.chunk, shim[:]...)
	return c.emit()
}

// Program returns the parsed program structure, nil until the first
// PAT/PMT pair has been seen. Safe from any goroutine.
func (c *Chunker) Program() *ProgramInfo {
	return c.program.Load()
}

// Resyncs returns how many times sync was lost and re-acquired.
func (c *Chunker) Resyncs() uint64 {
	return c.resyncs.Load()
}

// refreshProgram re-parses the retained tables and updates the boundary
// PID. Parse failures keep the previous view; the stream itself is
// unaffected.
func (c *Chunker) refreshProgram() {
	if len(c.pat) == 0 || len(c.pmt) == 0 {
		return
	}
	info, err := parseProgram(c.pat, c.pmt)
	if err != nil {
		c.logger.Debug("parsing program tables", "error", err)
		return
	}
	c.program.Store(info)
	c.pmtPID = info.PMTPID
	c.boundaryPID = boundaryPIDFor(info)
	c.sink.SetPSI(c.pat, c.pmt)
}

// boundaryPIDFor picks the PID chunk cuts follow: the video stream, or
// the first stream for audio-only programs.
func boundaryPIDFor(info *ProgramInfo) uint16 {
	if info.VideoPID != 0 {
		return info.VideoPID
	}
	if len(info.Streams) > 0 {
		return info.Streams[0].PID
	}
	return mpegts.PIDVideo
}

// samePSIPayload compares table packets ignoring the header, so the
// rolling continuity counter on periodic repeats does not read as a
// table change.
func samePSIPayload(cur, pkt []byte) bool {
	return len(cur) == mpegts.PacketSize && bytes.Equal(cur[4:], pkt[4:])
}

// parseProgram extracts the program structure from one PAT packet and
// one PMT packet. Single-packet sections only, which holds for the
// single-program streams the pipeline produces.
func parseProgram(pat, pmt []byte) (*ProgramInfo, error) {
	// Null padding gives the demuxer's packet-size detection a longer
	// sync run than two packets.
	raw := make([]byte, 0, len(pat)+len(pmt)+4*mpegts.PacketSize)
	raw = append(raw, pat...)
	raw = append(raw, pmt...)
	null := mpegts.NullPacket()
	for i := 0; i < 4; i++ {
		raw = append(raw, null[:]...)
	}

	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(raw))
	info := &ProgramInfo{}
	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return nil, fmt.Errorf("demuxing program tables: %w", err)
		}
		switch {
		case d.PAT != nil:
			for _, prog := range d.PAT.Programs {
				if prog.ProgramNumber != 0 { // 0 points at the NIT
					info.PMTPID = prog.ProgramMapID
					break
				}
			}
		case d.PMT != nil:
			info.PCRPID = d.PMT.PCRPID
			for _, es := range d.PMT.ElementaryStreams {
				st := uint8(es.StreamType)
				s := ProgramStream{
					PID:   es.ElementaryPID,
					Codec: codecNameForStreamType(st),
					Video: isVideoStreamType(st),
				}
				info.Streams = append(info.Streams, s)
				if s.Video && info.VideoPID == 0 {
					info.VideoPID = es.ElementaryPID
				}
			}
		}
	}

	if info.PMTPID == 0 || len(info.Streams) == 0 {
		return nil, errors.New("incomplete program tables")
	}
	return info, nil
}

func codecNameForStreamType(st uint8) string {
	switch st {
	case 0x01, 0x02:
		return "mpeg2video"
	case mpegts.StreamTypeMPEG1Audio, 0x04:
		return "mp2"
	case mpegts.StreamTypeAAC, 0x11:
		return "aac"
	case mpegts.StreamTypeH264:
		return "h264"
	case mpegts.StreamTypeH265:
		return "hevc"
	case mpegts.StreamTypeAC3:
		return "ac3"
	case mpegts.StreamTypeEAC3:
		return "eac3"
	default:
		return fmt.Sprintf("type_0x%02x", st)
	}
}

func isVideoStreamType(st uint8) bool {
	switch st {
	case 0x01, 0x02, 0x10, mpegts.StreamTypeH264, mpegts.StreamTypeH265:
		return true
	}
	return false
}
