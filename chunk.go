package webcodecs

// ChunkType distinguishes key and delta chunks.
type ChunkType int

const (
	ChunkTypeKey ChunkType = iota
	ChunkTypeDelta
)

func (t ChunkType) String() string {
	if t == ChunkTypeKey {
		return "key"
	}
	return "delta"
}

// EncodedVideoChunk is a unit of encoded video.
type EncodedVideoChunk struct {
	Type      ChunkType
	Timestamp int64 // microseconds
	Duration  int64 // microseconds, optional
	Data      []byte
}

// IsKey reports whether the chunk is a key chunk.
func (c *EncodedVideoChunk) IsKey() bool {
	return c.Type == ChunkTypeKey
}

// Clone creates a deep copy of the chunk.
func (c *EncodedVideoChunk) Clone() *EncodedVideoChunk {
	clone := *c
	clone.Data = make([]byte, len(c.Data))
	copy(clone.Data, c.Data)
	return &clone
}

// EncodedAudioChunk is a unit of encoded audio.
type EncodedAudioChunk struct {
	Type      ChunkType
	Timestamp int64 // microseconds
	Duration  int64 // microseconds, optional
	Data      []byte
}

// Clone creates a deep copy of the chunk.
func (c *EncodedAudioChunk) Clone() *EncodedAudioChunk {
	clone := *c
	clone.Data = make([]byte, len(c.Data))
	copy(clone.Data, c.Data)
	return &clone
}

// VideoDecoderConfigHint carries the decoder configuration emitted with
// encoder keyframe outputs. Description is an avcC or hvcC record for
// H.264/H.265 in length-prefixed mode, empty in Annex B mode.
type VideoDecoderConfigHint struct {
	Codec       string
	CodedWidth  int
	CodedHeight int
	Description []byte
	ColorSpace  VideoColorSpace
}

// EncodedVideoChunkMetadata accompanies every encoder output.
type EncodedVideoChunkMetadata struct {
	// DecoderConfig is set on key chunks (and whenever the stream
	// configuration changes).
	DecoderConfig *VideoDecoderConfigHint

	// TemporalLayerID identifies the SVC temporal layer, when used.
	TemporalLayerID int
}

// AudioDecoderConfigHint mirrors VideoDecoderConfigHint for audio.
type AudioDecoderConfigHint struct {
	Codec      string
	SampleRate int
	Channels   int
	// Description is codec-specific extradata (e.g. AudioSpecificConfig).
	Description []byte
}

// EncodedAudioChunkMetadata accompanies every audio encoder output.
type EncodedAudioChunkMetadata struct {
	DecoderConfig *AudioDecoderConfigHint
}

// HardwareAcceleration expresses the caller's engine preference.
type HardwareAcceleration int

const (
	HardwareNoPreference HardwareAcceleration = iota
	HardwarePrefer
	HardwareRequire
	HardwareDeny
)

func (h HardwareAcceleration) String() string {
	switch h {
	case HardwarePrefer:
		return "prefer-hardware"
	case HardwareRequire:
		return "require-hardware"
	case HardwareDeny:
		return "prefer-software"
	default:
		return "no-preference"
	}
}

// LatencyMode trades quality for latency.
type LatencyMode int

const (
	LatencyQuality LatencyMode = iota
	LatencyRealtime
)

// BitrateMode selects the encoder rate control mode.
type BitrateMode int

const (
	BitrateVariable BitrateMode = iota
	BitrateConstant
	BitrateQuantizer
)

// BitstreamFormat selects how H.264/H.265 encoder output is framed.
type BitstreamFormat int

const (
	// BitstreamLengthPrefixed emits length-prefixed samples with the
	// parameter sets carried in the decoder config description.
	BitstreamLengthPrefixed BitstreamFormat = iota

	// BitstreamAnnexB emits Annex B with parameter sets prepended to
	// every key chunk.
	BitstreamAnnexB
)
