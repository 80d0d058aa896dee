package webcodecs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

// frameCollector gathers decoder outputs from the worker goroutine.
type frameCollector struct {
	mu     sync.Mutex
	frames []*VideoFrame
	errs   []error
}

func (c *frameCollector) output(f *VideoFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *frameCollector) onError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func keyChunk(ts int64, data []byte) *EncodedVideoChunk {
	return &EncodedVideoChunk{Type: ChunkTypeKey, Timestamp: ts, Data: data}
}

func deltaChunk(ts int64, data []byte) *EncodedVideoChunk {
	return &EncodedVideoChunk{Type: ChunkTypeDelta, Timestamp: ts, Data: data}
}

func TestNewVideoDecoder_RequiresOutput(t *testing.T) {
	if _, err := NewVideoDecoder(VideoDecoderInit{}); err == nil {
		t.Error("NewVideoDecoder without output: error = nil, want error")
	}
}

func TestVideoDecoder_DecodeInOrder(t *testing.T) {
	registerVideoDecodeSession(CodecFamilyVP8, EngineSoftware, func(VideoDecoderConfig) (videoDecodeSession, error) {
		return newFakeVideoDecodeSession(), nil
	})

	var col frameCollector
	dec, err := NewVideoDecoder(VideoDecoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error = %v", err)
	}
	if err := dec.Configure(VideoDecoderConfig{Codec: "vp8"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer dec.Close()

	if dec.Engine() != EngineSoftware {
		t.Errorf("Engine() = %v, want software", dec.Engine())
	}

	if err := dec.Decode(keyChunk(0, []byte{0x01})); err != nil {
		t.Fatalf("Decode(key) error = %v", err)
	}
	for i := 1; i < 4; i++ {
		if err := dec.Decode(deltaChunk(int64(i)*33333, []byte{0x02})); err != nil {
			t.Fatalf("Decode(delta %d) error = %v", i, err)
		}
	}
	if err := dec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.errs) != 0 {
		t.Fatalf("error callback invoked: %v", col.errs)
	}
	if len(col.frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(col.frames))
	}
	for i, f := range col.frames {
		if want := int64(i) * 33333; f.Timestamp != want {
			t.Errorf("frame %d Timestamp = %d, want %d", i, f.Timestamp, want)
		}
	}
	if col.frames[0].CodedWidth != 64 || col.frames[0].CodedHeight != 48 {
		t.Errorf("frame size = %dx%d, want 64x48", col.frames[0].CodedWidth, col.frames[0].CodedHeight)
	}
}

func TestVideoDecoder_KeyChunkRequired(t *testing.T) {
	registerVideoDecodeSession(CodecFamilyVP8, EngineSoftware, func(VideoDecoderConfig) (videoDecodeSession, error) {
		return newFakeVideoDecodeSession(), nil
	})

	var col frameCollector
	dec, err := NewVideoDecoder(VideoDecoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error = %v", err)
	}
	if err := dec.Configure(VideoDecoderConfig{Codec: "vp8"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer dec.Close()

	if err := dec.Decode(deltaChunk(0, []byte{0x02})); !errors.Is(err, ErrKeyChunkRequired) {
		t.Errorf("delta first: error = %v, want ErrKeyChunkRequired", err)
	}
	if err := dec.Decode(keyChunk(0, []byte{0x01})); err != nil {
		t.Fatalf("Decode(key) error = %v", err)
	}
	if err := dec.Decode(deltaChunk(33333, []byte{0x02})); err != nil {
		t.Errorf("delta after key: error = %v", err)
	}

	// Flush re-arms the key requirement.
	if err := dec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := dec.Decode(deltaChunk(66666, []byte{0x02})); !errors.Is(err, ErrKeyChunkRequired) {
		t.Errorf("delta after flush: error = %v, want ErrKeyChunkRequired", err)
	}
}

func TestVideoDecoder_DescriptionConversion(t *testing.T) {
	sps := makeTestSPS(t, 64, 48)
	pps := makeTestPPS(t)
	desc, err := BuildAVCDecoderConfig([][]byte{sps}, [][]byte{pps})
	if err != nil {
		t.Fatalf("BuildAVCDecoderConfig() error = %v", err)
	}

	sess := newFakeVideoDecodeSession()
	var mu sync.Mutex
	var received [][]byte
	sess.onDecode = func(chunk *EncodedVideoChunk) ([]*VideoFrame, error) {
		mu.Lock()
		received = append(received, append([]byte{}, chunk.Data...))
		mu.Unlock()
		f, err := NewVideoFrame(PixelFormatI420, 64, 48)
		if err != nil {
			return nil, err
		}
		f.Timestamp = chunk.Timestamp
		return []*VideoFrame{f}, nil
	}
	registerVideoDecodeSession(CodecFamilyH264, EngineSoftware, func(VideoDecoderConfig) (videoDecodeSession, error) {
		return sess, nil
	})

	var col frameCollector
	dec, err := NewVideoDecoder(VideoDecoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error = %v", err)
	}
	if err := dec.Configure(VideoDecoderConfig{Codec: "avc1.42c01f", Description: desc}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer dec.Close()

	idr := []byte{0x65, 0x88, 0x84, 0x21}
	prefixed := append([]byte{0, 0, 0, byte(len(idr))}, idr...)

	if err := dec.Decode(keyChunk(0, prefixed)); err != nil {
		t.Fatalf("Decode(key) error = %v", err)
	}
	if err := dec.Decode(keyChunk(33333, prefixed)); err != nil {
		t.Fatalf("Decode(second key) error = %v", err)
	}
	if err := dec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	col.mu.Lock()
	if len(col.errs) != 0 {
		col.mu.Unlock()
		t.Fatalf("error callback invoked: %v", col.errs)
	}
	col.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("session saw %d chunks, want 2", len(received))
	}

	// The first key access unit arrives as Annex B with the parameter
	// sets from the description prepended.
	nalus := SplitAnnexB(received[0])
	if len(nalus) != 3 {
		t.Fatalf("first access unit has %d NALUs, want SPS+PPS+IDR", len(nalus))
	}
	if !bytes.Equal(nalus[0], sps) || !bytes.Equal(nalus[1], pps) || !bytes.Equal(nalus[2], idr) {
		t.Error("first access unit does not carry SPS+PPS+IDR in order")
	}

	// Later chunks are converted without repeating the parameter sets.
	nalus = SplitAnnexB(received[1])
	if len(nalus) != 1 || !bytes.Equal(nalus[0], idr) {
		t.Errorf("second access unit NALUs = %d, want bare IDR", len(nalus))
	}
}

func TestVideoDecoder_InvalidLengthPrefix(t *testing.T) {
	sps := makeTestSPS(t, 64, 48)
	pps := makeTestPPS(t)
	desc, err := BuildAVCDecoderConfig([][]byte{sps}, [][]byte{pps})
	if err != nil {
		t.Fatalf("BuildAVCDecoderConfig() error = %v", err)
	}
	registerVideoDecodeSession(CodecFamilyH264, EngineSoftware, func(VideoDecoderConfig) (videoDecodeSession, error) {
		return newFakeVideoDecodeSession(), nil
	})

	var col frameCollector
	dec, err := NewVideoDecoder(VideoDecoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error = %v", err)
	}
	if err := dec.Configure(VideoDecoderConfig{Codec: "avc1.42c01f", Description: desc}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	defer dec.Close()

	// Declared NAL length runs past the chunk.
	if err := dec.Decode(keyChunk(0, []byte{0, 0, 0, 9, 0x65})); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := dec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.frames) != 0 {
		t.Errorf("got %d frames, want 0", len(col.frames))
	}
	if len(col.errs) != 1 || !errors.Is(col.errs[0], ErrInvalidBitstream) {
		t.Errorf("errors = %v, want one ErrInvalidBitstream", col.errs)
	}
}

func TestVideoDecoder_BadDescription(t *testing.T) {
	dec, err := NewVideoDecoder(VideoDecoderInit{Output: func(*VideoFrame) {}})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error = %v", err)
	}
	err = dec.Configure(VideoDecoderConfig{Codec: "avc1.42c01f", Description: []byte{0x00, 0x01, 0x02}})
	if err == nil {
		t.Fatal("bad description: error = nil, want error")
	}
	// Validation failures leave the decoder usable.
	if dec.State() != StateUnconfigured {
		t.Errorf("State() = %v, want unconfigured", dec.State())
	}
}

func TestVideoDecoder_FailedConfigureLeavesStateUntouched(t *testing.T) {
	registerVideoDecodeSession(CodecFamilyVP8, EngineSoftware, func(VideoDecoderConfig) (videoDecodeSession, error) {
		return newFakeVideoDecodeSession(), nil
	})

	var col frameCollector
	dec, err := NewVideoDecoder(VideoDecoderInit{Output: col.output, Error: col.onError})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error = %v", err)
	}
	defer dec.Close()

	err = dec.Configure(VideoDecoderConfig{Codec: "vp8", HardwareAcceleration: HardwareRequire})
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("Configure() error = %v, want ErrNotSupported", err)
	}
	if dec.State() != StateUnconfigured {
		t.Errorf("State() after failed Configure = %v, want unconfigured", dec.State())
	}
	col.mu.Lock()
	gotErr := len(col.errs) > 0
	col.mu.Unlock()
	if gotErr {
		t.Error("error callback invoked for a Configure that reported its error directly")
	}

	if err := dec.Configure(VideoDecoderConfig{Codec: "vp8"}); err != nil {
		t.Fatalf("Configure() retry error = %v", err)
	}
	if err := dec.Decode(keyChunk(0, []byte{0x01})); err != nil {
		t.Fatalf("Decode() after retry error = %v", err)
	}
	if err := dec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestVideoDecoder_CloseReleasesBusySession(t *testing.T) {
	sess := newFakeVideoDecodeSession()
	sess.gate = make(chan struct{})
	registerVideoDecodeSession(CodecFamilyVP8, EngineSoftware, func(VideoDecoderConfig) (videoDecodeSession, error) {
		return sess, nil
	})

	dec, err := NewVideoDecoder(VideoDecoderInit{Output: func(*VideoFrame) {}})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error = %v", err)
	}
	if err := dec.Configure(VideoDecoderConfig{Codec: "vp8"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	// Park the worker inside the session and queue more work behind it.
	if err := dec.Decode(keyChunk(0, []byte{0x01})); err != nil {
		t.Fatalf("Decode(key) error = %v", err)
	}
	for i := 1; i < 3; i++ {
		if err := dec.Decode(deltaChunk(int64(i)*33333, []byte{0x02})); err != nil {
			t.Fatalf("Decode(delta %d) error = %v", i, err)
		}
	}
	waitFor(t, func() bool { return dec.QueueSize() == 2 })

	done := make(chan error, 1)
	go func() { done <- dec.Close() }()
	close(sess.gate)
	if err := <-done; err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !sess.isClosed() {
		t.Error("backend session not closed after Close with a busy worker")
	}
}

func TestVideoDecoder_ResetAndClose(t *testing.T) {
	registerVideoDecodeSession(CodecFamilyVP8, EngineSoftware, func(VideoDecoderConfig) (videoDecodeSession, error) {
		return newFakeVideoDecodeSession(), nil
	})

	dec, err := NewVideoDecoder(VideoDecoderInit{Output: func(*VideoFrame) {}})
	if err != nil {
		t.Fatalf("NewVideoDecoder() error = %v", err)
	}
	if err := dec.Configure(VideoDecoderConfig{Codec: "vp8"}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	if err := dec.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if dec.State() != StateUnconfigured {
		t.Errorf("State() = %v, want unconfigured", dec.State())
	}
	if err := dec.Decode(keyChunk(0, []byte{0x01})); !errors.Is(err, ErrUnconfigured) {
		t.Errorf("Decode() after Reset: error = %v, want ErrUnconfigured", err)
	}

	if err := dec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := dec.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := dec.Decode(keyChunk(0, []byte{0x01})); !errors.Is(err, ErrClosed) {
		t.Errorf("Decode() after Close: error = %v, want ErrClosed", err)
	}
}

func TestIsVideoDecoderConfigSupported(t *testing.T) {
	registerVideoDecodeSession(CodecFamilyVP8, EngineSoftware, func(VideoDecoderConfig) (videoDecodeSession, error) {
		return newFakeVideoDecodeSession(), nil
	})

	support, err := IsVideoDecoderConfigSupported(VideoDecoderConfig{Codec: "vp8"})
	if err != nil {
		t.Fatalf("IsVideoDecoderConfigSupported() error = %v", err)
	}
	if !support.Supported || support.Engine != EngineSoftware {
		t.Errorf("support = %+v, want software-supported", support)
	}

	if _, err := IsVideoDecoderConfigSupported(VideoDecoderConfig{Codec: "bogus"}); err == nil {
		t.Error("bad codec: error = nil, want error")
	}
	if _, err := IsVideoDecoderConfigSupported(VideoDecoderConfig{Codec: "opus"}); err == nil {
		t.Error("audio codec: error = nil, want error")
	}
	if _, err := IsVideoDecoderConfigSupported(VideoDecoderConfig{
		Codec:       "avc1.42c01f",
		Description: []byte{0x01, 0x02},
	}); err == nil {
		t.Error("bad description: error = nil, want error")
	}

	support, err = IsVideoDecoderConfigSupported(VideoDecoderConfig{
		Codec:                "vp8",
		HardwareAcceleration: HardwareRequire,
	})
	if err != nil {
		t.Fatalf("IsVideoDecoderConfigSupported() error = %v", err)
	}
	if support.Supported {
		t.Error("hardware-required vp8 reported supported without hardware")
	}
}
