package webcodecs

// VideoEncodeOptions carries per-frame encode options.
type VideoEncodeOptions struct {
	// KeyFrame forces the frame to be coded as a key frame.
	KeyFrame bool

	// Quantizer sets the per-frame quantizer when the encoder runs in
	// BitrateQuantizer mode. Valid range is 0-51 for H.264/H.265 and
	// 0-63 for AV1/VP9. Nil leaves the choice to the encoder.
	Quantizer *int
}

// videoEncodeSession is an engine-side encoder instance. Sessions are
// driven from a single pipeline worker goroutine, so implementations do
// not need internal locking for Encode/Flush ordering.
//
// Encode returns zero or more chunks: codecs with frame reordering emit
// nothing while buffering. H.264/H.265 sessions emit Annex B data; the
// pipeline reframes it per the configured bitstream format.
type videoEncodeSession interface {
	Encode(frame *VideoFrame, opts VideoEncodeOptions) ([]*EncodedVideoChunk, error)
	Flush() ([]*EncodedVideoChunk, error)
	Close() error
}

// videoDecodeSession is an engine-side decoder instance. Decode returns
// nil while the codec is buffering.
type videoDecodeSession interface {
	Decode(chunk *EncodedVideoChunk) ([]*VideoFrame, error)
	Flush() ([]*VideoFrame, error)
	Close() error
}

// audioEncodeSession is an engine-side audio encoder instance.
type audioEncodeSession interface {
	Encode(data *AudioData) ([]*EncodedAudioChunk, error)
	Flush() ([]*EncodedAudioChunk, error)
	Close() error
}

// audioDecodeSession is an engine-side audio decoder instance.
type audioDecodeSession interface {
	Decode(chunk *EncodedAudioChunk) ([]*AudioData, error)
	Flush() ([]*AudioData, error)
	Close() error
}

type (
	videoEncodeFactory func(config VideoEncoderConfig) (videoEncodeSession, error)
	videoDecodeFactory func(config VideoDecoderConfig) (videoDecodeSession, error)
	audioEncodeFactory func(config AudioEncoderConfig) (audioEncodeSession, error)
	audioDecodeFactory func(config AudioDecoderConfig) (audioDecodeSession, error)
)
