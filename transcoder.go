package webcodecs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// TranscoderConfig configures a chunk-to-chunk video transcoder.
type TranscoderConfig struct {
	// Input configures the decoder side.
	Input VideoDecoderConfig

	// Output configures the encoder side. Width/Height may differ from
	// the decoded size; frames are scaled with ScaleMode.
	Output VideoEncoderConfig

	// ScaleMode selects how size mismatches are handled. Defaults to
	// ScaleModeStretch.
	ScaleMode ScaleMode
}

// Transcoder decodes encoded video chunks and re-encodes them with a
// different codec, size or bitrate. It glues a VideoDecoder to a
// VideoEncoder: decoded frames flow straight into the encoder, and the
// re-encoded chunks arrive on the output callback in submission order.
type Transcoder struct {
	decoder *VideoDecoder
	encoder *VideoEncoder

	mu     sync.Mutex
	scaler *VideoScaler
	config TranscoderConfig

	forceKey atomic.Bool
	closed   atomic.Bool
}

// NewTranscoder creates and configures a transcoder. Output chunks and
// their metadata (including the first keyframe's decoder configuration)
// are delivered on output; decode and encode failures on onErr.
func NewTranscoder(config TranscoderConfig, output func(*EncodedVideoChunk, *EncodedVideoChunkMetadata), onErr func(error)) (*Transcoder, error) {
	if output == nil {
		return nil, fmt.Errorf("transcoder: output callback is required")
	}
	t := &Transcoder{config: config}

	reportErr := func(err error) {
		if onErr != nil && !t.closed.Load() {
			onErr(err)
		}
	}

	encoder, err := NewVideoEncoder(VideoEncoderInit{
		Output: output,
		Error:  reportErr,
	})
	if err != nil {
		return nil, err
	}
	if err := encoder.Configure(config.Output); err != nil {
		return nil, fmt.Errorf("transcoder encoder: %w", err)
	}
	t.encoder = encoder

	decoder, err := NewVideoDecoder(VideoDecoderInit{
		Output: t.encodeFrame,
		Error:  reportErr,
	})
	if err != nil {
		encoder.Close()
		return nil, err
	}
	if err := decoder.Configure(config.Input); err != nil {
		encoder.Close()
		return nil, fmt.Errorf("transcoder decoder: %w", err)
	}
	t.decoder = decoder
	return t, nil
}

// encodeFrame receives decoded frames and forwards them to the encoder,
// scaling when the decoded size differs from the encoder's.
func (t *Transcoder) encodeFrame(frame *VideoFrame) {
	if t.closed.Load() {
		return
	}
	out := t.config.Output
	if frame.CodedWidth != out.Width || frame.CodedHeight != out.Height {
		scaled, err := t.scale(frame)
		if err != nil {
			t.encoder.reportError(err)
			return
		}
		frame = scaled
	}
	opts := VideoEncodeOptions{KeyFrame: t.forceKey.Swap(false)}
	if err := t.encoder.Encode(frame, opts); err != nil {
		t.encoder.reportError(err)
	}
}

func (t *Transcoder) scale(frame *VideoFrame) (*VideoFrame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.config.Output
	if t.scaler == nil {
		scaler, err := NewVideoScaler(frame.CodedWidth, frame.CodedHeight,
			out.Width, out.Height, t.config.ScaleMode)
		if err != nil {
			return nil, err
		}
		t.scaler = scaler
	}
	return t.scaler.Scale(frame)
}

// Transcode submits an encoded chunk. Non-blocking; results arrive on
// the output callback.
func (t *Transcoder) Transcode(chunk *EncodedVideoChunk) error {
	return t.decoder.Decode(chunk)
}

// RequestKeyFrame forces the next encoded frame to be a key frame.
func (t *Transcoder) RequestKeyFrame() {
	t.forceKey.Store(true)
}

// QueueSize returns the number of chunks awaiting decode plus frames
// awaiting encode.
func (t *Transcoder) QueueSize() int {
	return t.decoder.QueueSize() + t.encoder.QueueSize()
}

// Flush drains both stages: all submitted chunks are decoded, their
// frames encoded, and the resulting chunks delivered before Flush
// returns.
func (t *Transcoder) Flush(ctx context.Context) error {
	if err := t.decoder.Flush(ctx); err != nil {
		return err
	}
	return t.encoder.Flush(ctx)
}

// Close releases both codecs. Pending work is dropped.
func (t *Transcoder) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	derr := t.decoder.Close()
	eerr := t.encoder.Close()
	if derr != nil {
		return derr
	}
	return eerr
}
