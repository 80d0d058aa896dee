package webcodecs

import "sync"

// Fake engine sessions for pipeline tests. Registering one overwrites
// the software entry for its family, which keeps tests independent of
// the codec libraries installed on the host.

type fakeVideoEncodeSession struct {
	mu      sync.Mutex
	encodes int
	flushes int
	closed  bool

	// onEncode overrides the default one-chunk-per-frame behavior.
	onEncode func(frame *VideoFrame, opts VideoEncodeOptions) ([]*EncodedVideoChunk, error)
	// gate, when set, is received from before every encode returns.
	gate chan struct{}
}

func newFakeVideoEncodeSession() *fakeVideoEncodeSession {
	return &fakeVideoEncodeSession{}
}

func (s *fakeVideoEncodeSession) Encode(frame *VideoFrame, opts VideoEncodeOptions) ([]*EncodedVideoChunk, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.encodes++
	s.mu.Unlock()
	if s.onEncode != nil {
		return s.onEncode(frame, opts)
	}
	typ := ChunkTypeDelta
	if opts.KeyFrame {
		typ = ChunkTypeKey
	}
	return []*EncodedVideoChunk{{
		Type:      typ,
		Timestamp: frame.Timestamp,
		Duration:  frame.Duration,
		Data:      []byte{0xAA, 0xBB},
	}}, nil
}

func (s *fakeVideoEncodeSession) Flush() ([]*EncodedVideoChunk, error) {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil, nil
}

func (s *fakeVideoEncodeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeVideoEncodeSession) encodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodes
}

func (s *fakeVideoEncodeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeVideoDecodeSession struct {
	mu      sync.Mutex
	decodes int
	closed  bool

	width, height int

	onDecode func(chunk *EncodedVideoChunk) ([]*VideoFrame, error)
	// gate, when set, is received from before every decode returns.
	gate chan struct{}
}

func newFakeVideoDecodeSession() *fakeVideoDecodeSession {
	return &fakeVideoDecodeSession{width: 64, height: 48}
}

func (s *fakeVideoDecodeSession) Decode(chunk *EncodedVideoChunk) ([]*VideoFrame, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.decodes++
	s.mu.Unlock()
	if s.onDecode != nil {
		return s.onDecode(chunk)
	}
	frame, err := NewVideoFrame(PixelFormatI420, s.width, s.height)
	if err != nil {
		return nil, err
	}
	frame.Timestamp = chunk.Timestamp
	return []*VideoFrame{frame}, nil
}

func (s *fakeVideoDecodeSession) Flush() ([]*VideoFrame, error) {
	return nil, nil
}

func (s *fakeVideoDecodeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeVideoDecodeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeAudioEncodeSession struct {
	mu      sync.Mutex
	encodes int
	closed  bool
}

func (s *fakeAudioEncodeSession) Encode(data *AudioData) ([]*EncodedAudioChunk, error) {
	s.mu.Lock()
	s.encodes++
	s.mu.Unlock()
	return []*EncodedAudioChunk{{
		Type:      ChunkTypeKey,
		Timestamp: data.Timestamp,
		Data:      []byte{0xCC},
	}}, nil
}

func (s *fakeAudioEncodeSession) Flush() ([]*EncodedAudioChunk, error) {
	return nil, nil
}

func (s *fakeAudioEncodeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeAudioEncodeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeAudioDecodeSession struct {
	mu      sync.Mutex
	decodes int
	closed  bool
}

func (s *fakeAudioDecodeSession) Decode(chunk *EncodedAudioChunk) ([]*AudioData, error) {
	s.mu.Lock()
	s.decodes++
	s.mu.Unlock()
	data, err := NewAudioData(AudioFormatS16, 48000, 960, 2)
	if err != nil {
		return nil, err
	}
	data.Timestamp = chunk.Timestamp
	return []*AudioData{data}, nil
}

func (s *fakeAudioDecodeSession) Flush() ([]*AudioData, error) {
	return nil, nil
}

func (s *fakeAudioDecodeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeAudioDecodeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
