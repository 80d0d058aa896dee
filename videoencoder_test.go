package webcodecs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// chunkCollector gathers encoder outputs from the worker goroutine.
type chunkCollector struct {
	mu     sync.Mutex
	chunks []*EncodedVideoChunk
	metas  []*EncodedVideoChunkMetadata
	errs   []error
}

func (c *chunkCollector) output(chunk *EncodedVideoChunk, md *EncodedVideoChunkMetadata) {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.metas = append(c.metas, md)
	c.mu.Unlock()
}

func (c *chunkCollector) onError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *chunkCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func testFrame(t *testing.T, ts int64) *VideoFrame {
	t.Helper()
	f, err := NewVideoFrame(PixelFormatI420, 64, 48)
	if err != nil {
		t.Fatalf("NewVideoFrame() error = %v", err)
	}
	f.Timestamp = ts
	f.Duration = 33333
	return f
}

func annexBStream(nalus ...[]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, nalu...)
	}
	return out
}

func TestNewVideoEncoder_RequiresOutput(t *testing.T) {
	if _, err := NewVideoEncoder(VideoEncoderInit{}); err == nil {
		t.Error("NewVideoEncoder without output: error = nil, want error")
	}
}

func TestVideoEncoder_StateBeforeConfigure(t *testing.T) {
	enc, err := NewVideoEncoder(VideoEncoderInit{Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {}})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if enc.State() != StateUnconfigured {
		t.Errorf("State() = %v, want unconfigured", enc.State())
	}
	if err := enc.Encode(testFrame(t, 0), VideoEncodeOptions{}); !errors.Is(err, ErrUnconfigured) {
		t.Errorf("Encode() error = %v, want ErrUnconfigured", err)
	}
	if err := enc.Flush(context.Background()); !errors.Is(err, ErrUnconfigured) {
		t.Errorf("Flush() error = %v, want ErrUnconfigured", err)
	}
}

func TestVideoEncoder_ConfigureValidation(t *testing.T) {
	enc, err := NewVideoEncoder(VideoEncoderInit{Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {}})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "bogus", Width: 64, Height: 48}); !errors.Is(err, ErrInvalidCodecString) {
		t.Errorf("bad codec: error = %v, want ErrInvalidCodecString", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "opus", Width: 64, Height: 48}); !errors.Is(err, ErrInvalidCodecString) {
		t.Errorf("audio codec: error = %v, want ErrInvalidCodecString", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 0, Height: 48}); err == nil {
		t.Error("zero width: error = nil, want error")
	}
	// Validation failures leave the encoder usable.
	if enc.State() != StateUnconfigured {
		t.Errorf("State() = %v, want unconfigured after validation errors", enc.State())
	}
}

func TestVideoEncoder_FailedConfigureLeavesStateUntouched(t *testing.T) {
	var col chunkCollector
	enc, err := NewVideoEncoder(VideoEncoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	defer enc.Close()

	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return newFakeVideoEncodeSession(), nil
	})

	// Software cannot satisfy a hardware requirement.
	err = enc.Configure(VideoEncoderConfig{
		Codec: "vp8", Width: 64, Height: 48,
		HardwareAcceleration: HardwareRequire,
	})
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Configure() error = %v, want ErrNotSupported", err)
	}
	if enc.State() != StateUnconfigured {
		t.Errorf("State() after failed Configure = %v, want unconfigured", enc.State())
	}
	col.mu.Lock()
	gotErr := len(col.errs) > 0
	col.mu.Unlock()
	if gotErr {
		t.Error("error callback invoked for a Configure that reported its error directly")
	}

	// The caller can retry with a configuration the host can serve.
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
		t.Fatalf("Configure() retry error = %v", err)
	}
	if enc.State() != StateConfigured {
		t.Errorf("State() after retry = %v, want configured", enc.State())
	}
	if err := enc.Encode(testFrame(t, 0), VideoEncodeOptions{KeyFrame: true}); err != nil {
		t.Fatalf("Encode() after retry error = %v", err)
	}
	if err := enc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if col.count() != 1 {
		t.Errorf("got %d chunks after retry, want 1", col.count())
	}
}

func TestVideoEncoder_EncodeInOrder(t *testing.T) {
	sess := newFakeVideoEncodeSession()
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return sess, nil
	})

	var col chunkCollector
	enc, err := NewVideoEncoder(VideoEncoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer enc.Close()

	if enc.Engine() != EngineSoftware {
		t.Errorf("Engine() = %v, want software", enc.Engine())
	}
	if got := enc.Config().Bitrate; got != 400000 {
		t.Errorf("default Bitrate = %d, want 400000", got)
	}

	for i := 0; i < 5; i++ {
		frame := testFrame(t, int64(i)*33333)
		if err := enc.Encode(frame, VideoEncodeOptions{KeyFrame: i == 0}); err != nil {
			t.Fatalf("Encode(%d) error = %v", i, err)
		}
	}
	if err := enc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(col.chunks))
	}
	for i, chunk := range col.chunks {
		if want := int64(i) * 33333; chunk.Timestamp != want {
			t.Errorf("chunk %d Timestamp = %d, want %d", i, chunk.Timestamp, want)
		}
	}
	if !col.chunks[0].IsKey() || col.chunks[1].IsKey() {
		t.Error("keyframe flags not honored")
	}
	if col.metas[0].DecoderConfig == nil {
		t.Fatal("first key chunk carries no decoder config")
	}
	if col.metas[0].DecoderConfig.Codec != "vp8" || col.metas[0].DecoderConfig.CodedWidth != 64 {
		t.Errorf("decoder config = %+v, want vp8 64x48", col.metas[0].DecoderConfig)
	}
	if col.metas[1].DecoderConfig != nil {
		t.Error("delta chunk carries a decoder config")
	}
	if len(col.errs) != 0 {
		t.Errorf("error callback invoked: %v", col.errs)
	}
}

func TestVideoEncoder_QueueSizeAndOnDequeue(t *testing.T) {
	sess := newFakeVideoEncodeSession()
	sess.gate = make(chan struct{})
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return sess, nil
	})

	var col chunkCollector
	enc, err := NewVideoEncoder(VideoEncoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer enc.Close()

	var mu sync.Mutex
	dequeues := 0
	lastSize := -1
	enc.OnDequeue(func(size int) {
		mu.Lock()
		dequeues++
		lastSize = size
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		if err := enc.Encode(testFrame(t, int64(i)), VideoEncodeOptions{}); err != nil {
			t.Fatalf("Encode(%d) error = %v", i, err)
		}
	}
	// The worker holds one frame in the gated session; the rest queue up.
	waitFor(t, func() bool { return enc.QueueSize() == 2 })

	close(sess.gate)
	if err := enc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if got := enc.QueueSize(); got != 0 {
		t.Errorf("QueueSize() after flush = %d, want 0", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if dequeues != 3 {
		t.Errorf("OnDequeue invoked %d times, want 3", dequeues)
	}
	if lastSize != 0 {
		t.Errorf("last reported queue size = %d, want 0", lastSize)
	}
}

func TestVideoEncoder_ResetDropsQueuedFrames(t *testing.T) {
	sess := newFakeVideoEncodeSession()
	sess.gate = make(chan struct{})
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return sess, nil
	})

	var col chunkCollector
	enc, err := NewVideoEncoder(VideoEncoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := enc.Encode(testFrame(t, int64(i)), VideoEncodeOptions{}); err != nil {
			t.Fatalf("Encode(%d) error = %v", i, err)
		}
	}
	waitFor(t, func() bool { return enc.QueueSize() == 3 })

	if err := enc.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	close(sess.gate)

	if enc.State() != StateUnconfigured {
		t.Errorf("State() = %v, want unconfigured", enc.State())
	}
	if err := enc.Encode(testFrame(t, 0), VideoEncodeOptions{}); !errors.Is(err, ErrUnconfigured) {
		t.Errorf("Encode() after Reset: error = %v, want ErrUnconfigured", err)
	}
	if got := enc.QueueSize(); got != 0 {
		t.Errorf("QueueSize() after Reset = %d, want 0", got)
	}
	waitFor(t, func() bool { return sess.isClosed() })
	// Only the frame already in flight may have produced output.
	if got := col.count(); got > 1 {
		t.Errorf("%d chunks delivered after Reset, want at most 1", got)
	}
	enc.Close()
}

func TestVideoEncoder_CloseIsIdempotent(t *testing.T) {
	sess := newFakeVideoEncodeSession()
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return sess, nil
	})

	enc, err := NewVideoEncoder(VideoEncoderInit{Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {}})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if enc.State() != StateClosed {
		t.Errorf("State() = %v, want closed", enc.State())
	}
	if !sess.isClosed() {
		t.Error("session not closed")
	}
	if err := enc.Encode(testFrame(t, 0), VideoEncodeOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Encode() after Close: error = %v, want ErrClosed", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); !errors.Is(err, ErrClosed) {
		t.Errorf("Configure() after Close: error = %v, want ErrClosed", err)
	}
}

func TestVideoEncoder_QuantizerRange(t *testing.T) {
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return newFakeVideoEncodeSession(), nil
	})

	enc, err := NewVideoEncoder(VideoEncoderInit{Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {}})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{
		Codec: "vp8", Width: 64, Height: 48,
		BitrateMode: BitrateQuantizer,
	}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer enc.Close()

	q := 70
	if err := enc.Encode(testFrame(t, 0), VideoEncodeOptions{Quantizer: &q}); err == nil {
		t.Error("quantizer 70 for vp8: error = nil, want range error")
	}
	q = 63
	if err := enc.Encode(testFrame(t, 0), VideoEncodeOptions{Quantizer: &q}); err != nil {
		t.Errorf("quantizer 63 for vp8: error = %v", err)
	}
}

// newH264Session returns a fake session that emits Annex B output the
// way the software encoders do: parameter sets inline on the first key
// access unit only.
func newH264Session(t *testing.T) *fakeVideoEncodeSession {
	t.Helper()
	sps := makeTestSPS(t, 64, 48)
	pps := makeTestPPS(t)
	idr := []byte{0x65, 0x88, 0x84, 0x21}
	slice := []byte{0x41, 0x9A, 0x42}

	sess := newFakeVideoEncodeSession()
	first := true
	sess.onEncode = func(frame *VideoFrame, opts VideoEncodeOptions) ([]*EncodedVideoChunk, error) {
		if opts.KeyFrame {
			data := annexBStream(idr)
			if first {
				data = annexBStream(sps, pps, idr)
				first = false
			}
			return []*EncodedVideoChunk{{Type: ChunkTypeKey, Timestamp: frame.Timestamp, Data: data}}, nil
		}
		return []*EncodedVideoChunk{{Type: ChunkTypeDelta, Timestamp: frame.Timestamp, Data: annexBStream(slice)}}, nil
	}
	return sess
}

func TestVideoEncoder_H264LengthPrefixed(t *testing.T) {
	registerVideoEncodeSession(CodecFamilyH264, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return newH264Session(t), nil
	})

	var col chunkCollector
	enc, err := NewVideoEncoder(VideoEncoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{
		Codec: "avc1.42c01f", Width: 64, Height: 48,
		Format: BitstreamLengthPrefixed,
	}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer enc.Close()

	enc.Encode(testFrame(t, 0), VideoEncodeOptions{KeyFrame: true})
	enc.Encode(testFrame(t, 33333), VideoEncodeOptions{})
	enc.Encode(testFrame(t, 66666), VideoEncodeOptions{KeyFrame: true})
	if err := enc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.errs) != 0 {
		t.Fatalf("error callback invoked: %v", col.errs)
	}
	if len(col.chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(col.chunks))
	}

	// Key chunks carry length-prefixed slice data without parameter
	// sets; those travel in the avcC description.
	key := col.chunks[0]
	idr := []byte{0x65, 0x88, 0x84, 0x21}
	wantData := append([]byte{0, 0, 0, 4}, idr...)
	if !bytes.Equal(key.Data, wantData) {
		t.Errorf("key data = % x, want % x", key.Data, wantData)
	}

	cfg := col.metas[0].DecoderConfig
	if cfg == nil {
		t.Fatal("first key chunk carries no decoder config")
	}
	if cfg.Codec != "avc1.42c01f" {
		t.Errorf("decoder config codec = %q, want %q", cfg.Codec, "avc1.42c01f")
	}
	record, err := ParseAVCDecoderConfig(cfg.Description)
	if err != nil {
		t.Fatalf("description is not a valid avcC: %v", err)
	}
	if record.Profile != 66 || len(record.SPS) != 1 || len(record.PPS) != 1 {
		t.Errorf("avcC = %+v, want baseline with one SPS and PPS", record)
	}

	if col.metas[1].DecoderConfig != nil {
		t.Error("delta chunk carries a decoder config")
	}
	// The stream configuration did not change, so the second key chunk
	// repeats no decoder config.
	if col.metas[2].DecoderConfig != nil {
		t.Error("unchanged stream repeated its decoder config")
	}
}

func TestVideoEncoder_H264AnnexB(t *testing.T) {
	registerVideoEncodeSession(CodecFamilyH264, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return newH264Session(t), nil
	})

	var col chunkCollector
	enc, err := NewVideoEncoder(VideoEncoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{
		Codec: "avc1.42c01f", Width: 64, Height: 48,
		Format: BitstreamAnnexB,
	}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer enc.Close()

	enc.Encode(testFrame(t, 0), VideoEncodeOptions{KeyFrame: true})
	enc.Encode(testFrame(t, 33333), VideoEncodeOptions{KeyFrame: true})
	if err := enc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.errs) != 0 {
		t.Fatalf("error callback invoked: %v", col.errs)
	}
	if len(col.chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(col.chunks))
	}

	// Every key access unit carries its parameter sets, including the
	// second one where the session emitted only the IDR slice.
	for i, chunk := range col.chunks {
		nalus := SplitAnnexB(chunk.Data)
		if len(nalus) != 3 {
			t.Fatalf("key chunk %d has %d NALUs, want SPS+PPS+IDR", i, len(nalus))
		}
		if AVCNALType(nalus[0]) != AVCNALSPS || AVCNALType(nalus[1]) != AVCNALPPS || AVCNALType(nalus[2]) != AVCNALIDR {
			t.Errorf("key chunk %d NAL types = %d/%d/%d", i,
				AVCNALType(nalus[0]), AVCNALType(nalus[1]), AVCNALType(nalus[2]))
		}
	}

	// Annex B mode carries no description; the codec string still
	// reflects the stream's parameter sets.
	cfg := col.metas[0].DecoderConfig
	if cfg == nil {
		t.Fatal("first key chunk carries no decoder config")
	}
	if len(cfg.Description) != 0 {
		t.Errorf("description = % x, want empty in Annex B mode", cfg.Description)
	}
	if cfg.Codec != "avc1.42c01f" {
		t.Errorf("decoder config codec = %q, want %q", cfg.Codec, "avc1.42c01f")
	}
	if col.metas[1].DecoderConfig != nil {
		t.Error("second key chunk repeated the decoder config")
	}
}

func TestVideoEncoder_CloseReleasesBusySession(t *testing.T) {
	sess := newFakeVideoEncodeSession()
	sess.gate = make(chan struct{})
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return sess, nil
	})

	enc, err := NewVideoEncoder(VideoEncoderInit{Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {}})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	// Park the worker inside the session and queue more work behind it.
	for i := 0; i < 3; i++ {
		if err := enc.Encode(testFrame(t, int64(i)), VideoEncodeOptions{}); err != nil {
			t.Fatalf("Encode(%d) error = %v", i, err)
		}
	}
	waitFor(t, func() bool { return enc.QueueSize() == 2 })

	done := make(chan error, 1)
	go func() { done <- enc.Close() }()
	close(sess.gate)
	if err := <-done; err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !sess.isClosed() {
		t.Error("backend session not closed after Close with a busy worker")
	}
}

func TestVideoEncoder_ResetThenCloseReleasesBusySession(t *testing.T) {
	sess := newFakeVideoEncodeSession()
	sess.gate = make(chan struct{})
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return sess, nil
	})

	enc, err := NewVideoEncoder(VideoEncoderInit{Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {}})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := enc.Encode(testFrame(t, int64(i)), VideoEncodeOptions{}); err != nil {
			t.Fatalf("Encode(%d) error = %v", i, err)
		}
	}
	waitFor(t, func() bool { return enc.QueueSize() == 2 })

	if err := enc.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- enc.Close() }()
	close(sess.gate)
	if err := <-done; err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	waitFor(t, func() bool { return sess.isClosed() })
}

func TestVideoEncoder_CallbacksSwapConcurrently(t *testing.T) {
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return newFakeVideoEncodeSession(), nil
	})

	var delivered atomic.Int64
	enc, err := NewVideoEncoder(VideoEncoderInit{
		Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) { delivered.Add(1) },
	})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer enc.Close()

	const swappers = 4
	const iterations = 50
	var wg sync.WaitGroup
	for g := 0; g < swappers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				// Every replacement counts into the same total, so the
				// swaps must not lose outputs.
				enc.SetOutput(func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) { delivered.Add(1) })
				enc.SetError(func(error) {})
				enc.OnDequeue(func(int) {})
				enc.SetError(nil)
				enc.OnDequeue(nil)
			}
		}()
	}

	const frames = 100
	for i := 0; i < frames; i++ {
		if err := enc.Encode(testFrame(t, int64(i)), VideoEncodeOptions{}); err != nil {
			t.Fatalf("Encode(%d) error = %v", i, err)
		}
	}
	wg.Wait()
	if err := enc.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if got := delivered.Load(); got != frames {
		t.Errorf("delivered %d chunks, want %d", got, frames)
	}
}

func TestVideoEncoder_EncodeRacesLifecycle(t *testing.T) {
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return newFakeVideoEncodeSession(), nil
	})

	for round := 0; round < 30; round++ {
		enc, err := NewVideoEncoder(VideoEncoderInit{Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {}})
		if err != nil {
			t.Fatalf("NewVideoEncoder() error = %v", err)
		}
		if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48}); err != nil {
			t.Fatalf("Configure() error = %v", err)
		}

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					err := enc.Encode(testFrame(t, int64(i)), VideoEncodeOptions{})
					if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrUnconfigured) {
						t.Errorf("Encode() error = %v, want ErrClosed or ErrUnconfigured", err)
						return
					}
				}
			}()
		}
		if round%2 == 0 {
			enc.Reset()
			enc.Close()
		} else {
			enc.Close()
		}
		wg.Wait()
	}
}

func TestVideoEncoder_LevelBoundsResolution(t *testing.T) {
	registerVideoEncodeSession(CodecFamilyH264, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return newH264Session(t), nil
	})

	// Level 1 tops out at 99 macroblocks: QCIF fits, 1080p does not.
	support, err := IsVideoEncoderConfigSupported(VideoEncoderConfig{Codec: "avc1.42c00a", Width: 176, Height: 144})
	if err != nil {
		t.Fatalf("IsVideoEncoderConfigSupported() error = %v", err)
	}
	if !support.Supported {
		t.Error("176x144 at level 1 reported unsupported")
	}
	support, err = IsVideoEncoderConfigSupported(VideoEncoderConfig{Codec: "avc1.42c00a", Width: 1920, Height: 1080})
	if err != nil {
		t.Fatalf("IsVideoEncoderConfigSupported() error = %v", err)
	}
	if support.Supported {
		t.Error("1920x1080 at level 1 reported supported")
	}

	// HEVC level 3.1 tops out below 4K.
	support, err = IsVideoEncoderConfigSupported(VideoEncoderConfig{Codec: "hvc1.1.6.L93", Width: 3840, Height: 2160})
	if err != nil {
		t.Fatalf("IsVideoEncoderConfigSupported() error = %v", err)
	}
	if support.Supported {
		t.Error("3840x2160 at HEVC level 3.1 reported supported")
	}

	enc, err := NewVideoEncoder(VideoEncoderInit{Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {}})
	if err != nil {
		t.Fatalf("NewVideoEncoder() error = %v", err)
	}
	defer enc.Close()
	err = enc.Configure(VideoEncoderConfig{Codec: "avc1.42c00a", Width: 1920, Height: 1080})
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("Configure() at level 1 with 1080p: error = %v, want ErrNotSupported", err)
	}
	if enc.State() != StateUnconfigured {
		t.Errorf("State() = %v, want unconfigured", enc.State())
	}
}

func TestIsVideoEncoderConfigSupported(t *testing.T) {
	registerVideoEncodeSession(CodecFamilyVP8, EngineSoftware, func(VideoEncoderConfig) (videoEncodeSession, error) {
		return newFakeVideoEncodeSession(), nil
	})

	support, err := IsVideoEncoderConfigSupported(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 48})
	if err != nil {
		t.Fatalf("IsVideoEncoderConfigSupported() error = %v", err)
	}
	if !support.Supported {
		t.Error("vp8 not supported, want supported")
	}
	if support.Config.Bitrate != 400000 || support.Config.Framerate != 30 {
		t.Errorf("defaults not applied: %+v", support.Config)
	}

	if _, err := IsVideoEncoderConfigSupported(VideoEncoderConfig{Codec: "bogus", Width: 64, Height: 48}); err == nil {
		t.Error("bad codec: error = nil, want error")
	}
	if _, err := IsVideoEncoderConfigSupported(VideoEncoderConfig{Codec: "opus", Width: 64, Height: 48}); err == nil {
		t.Error("audio codec: error = nil, want error")
	}

	support, err = IsVideoEncoderConfigSupported(VideoEncoderConfig{
		Codec: "vp8", Width: 64, Height: 48,
		HardwareAcceleration: HardwareRequire,
	})
	if err != nil {
		t.Fatalf("IsVideoEncoderConfigSupported() error = %v", err)
	}
	if support.Supported {
		t.Error("hardware-required vp8 reported supported without hardware")
	}
}
