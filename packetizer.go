package webcodecs

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// RTPPacketizer turns encoded chunks into RTP packets. It wraps the
// pion packetizer with the payloader matching the codec family.
//
// H.264 and H.265 chunks must be in Annex B framing (configure the
// encoder with BitstreamAnnexB); the payloaders split on start codes.
type RTPPacketizer struct {
	inner     rtp.Packetizer
	clockRate uint32
}

// RTPPacketizerConfig configures an RTP packetizer.
type RTPPacketizerConfig struct {
	Codec       string // codec string, e.g. "avc1.42E01E", "vp8", "opus"
	MTU         uint16 // default 1200
	PayloadType uint8
	SSRC        uint32
	ClockRate   uint32 // default 90000 for video, 48000 for audio
}

// NewRTPPacketizer creates a packetizer for the codec family of the
// given codec string.
func NewRTPPacketizer(config RTPPacketizerConfig) (*RTPPacketizer, error) {
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return nil, err
	}
	payloader, err := payloaderFor(info.Family)
	if err != nil {
		return nil, err
	}
	if config.MTU == 0 {
		config.MTU = 1200
	}
	if config.ClockRate == 0 {
		if info.Family.IsAudio() {
			config.ClockRate = 48000
		} else {
			config.ClockRate = 90000
		}
	}
	return &RTPPacketizer{
		inner: rtp.NewPacketizer(
			config.MTU,
			config.PayloadType,
			config.SSRC,
			payloader,
			rtp.NewRandomSequencer(),
			config.ClockRate,
		),
		clockRate: config.ClockRate,
	}, nil
}

func payloaderFor(family CodecFamily) (rtp.Payloader, error) {
	switch family {
	case CodecFamilyH264:
		return &codecs.H264Payloader{}, nil
	case CodecFamilyHEVC:
		return &codecs.H265Payloader{}, nil
	case CodecFamilyVP8:
		return &codecs.VP8Payloader{EnablePictureID: true}, nil
	case CodecFamilyVP9:
		return &codecs.VP9Payloader{}, nil
	case CodecFamilyAV1:
		return &codecs.AV1Payloader{}, nil
	case CodecFamilyOpus:
		return &codecs.OpusPayloader{}, nil
	default:
		return nil, unsupportedf("no RTP payloader for %s", family)
	}
}

// PacketizeVideo converts one encoded video chunk into RTP packets.
// The marker bit is set on the last packet of the chunk.
func (p *RTPPacketizer) PacketizeVideo(chunk *EncodedVideoChunk) []*rtp.Packet {
	return p.inner.Packetize(chunk.Data, p.samples(chunk.Duration))
}

// PacketizeAudio converts one encoded audio chunk into RTP packets.
func (p *RTPPacketizer) PacketizeAudio(chunk *EncodedAudioChunk) []*rtp.Packet {
	return p.inner.Packetize(chunk.Data, p.samples(chunk.Duration))
}

// samples converts a chunk duration in microseconds to RTP clock ticks.
func (p *RTPPacketizer) samples(durationMicros int64) uint32 {
	if durationMicros <= 0 {
		return 0
	}
	return uint32(durationMicros * int64(p.clockRate) / 1e6)
}
