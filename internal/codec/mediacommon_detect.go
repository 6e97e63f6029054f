package codec

import (
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// The broadcast chunker aligns output on access units only for codecs the
// linked mediacommon demuxer understands. Which those are depends on the
// library version, so the registry's Demuxable flags are refined at init by
// checking whether each codec type still constructs as a real codec rather
// than the CodecUnsupported sentinel.

func init() {
	set := func(v Video, c mpegts.Codec) {
		if info, ok := videoRegistry[v]; ok {
			info.Demuxable = supported(c)
		}
	}
	setAudio := func(a Audio, c mpegts.Codec) {
		if info, ok := audioRegistry[a]; ok {
			info.Demuxable = supported(c)
		}
	}

	set(VideoH264, &mpegts.CodecH264{})
	set(VideoH265, &mpegts.CodecH265{})
	// mediacommon's MPEG-1 video codec handles MPEG-2 streams too.
	set(VideoMPEG2, &mpegts.CodecMPEG1Video{})
	set(VideoMPEG4, &mpegts.CodecMPEG4Video{})

	setAudio(AudioAAC, &mpegts.CodecMPEG4Audio{})
	setAudio(AudioMP3, &mpegts.CodecMPEG1Audio{})
	setAudio(AudioAC3, &mpegts.CodecAC3{})
	setAudio(AudioOpus, &mpegts.CodecOpus{})
}

func supported(c mpegts.Codec) bool {
	_, unsupported := c.(*mpegts.CodecUnsupported)
	return !unsupported
}
