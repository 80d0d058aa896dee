package webcodecs

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// VideoEncoderConfig configures a VideoEncoder.
type VideoEncoderConfig struct {
	// Codec is the RFC 6381 codec string, e.g. "avc1.42001f".
	Codec string

	// Width and Height are the coded frame size. Required.
	Width  int
	Height int

	// Bitrate is the target bitrate in bits per second. Defaults to
	// 400000.
	Bitrate int

	// Framerate is the expected frames per second. Defaults to 30.
	Framerate float64

	HardwareAcceleration HardwareAcceleration
	LatencyMode          LatencyMode
	BitrateMode          BitrateMode

	// Format selects Annex B or length-prefixed output for H.264/H.265.
	Format BitstreamFormat

	ColorSpace VideoColorSpace
}

func (c VideoEncoderConfig) withDefaults() VideoEncoderConfig {
	if c.Bitrate <= 0 {
		c.Bitrate = 400000
	}
	if c.Framerate <= 0 {
		c.Framerate = 30
	}
	return c
}

// VideoEncoderInit carries the callbacks a VideoEncoder delivers
// results through. Output and Error are invoked from the encoder's
// worker goroutine.
type VideoEncoderInit struct {
	Output func(chunk *EncodedVideoChunk, metadata *EncodedVideoChunkMetadata)
	Error  func(error)
}

// VideoEncoderSupport is the result of IsVideoEncoderConfigSupported.
type VideoEncoderSupport struct {
	Supported bool
	Config    VideoEncoderConfig
	Engine    Engine
}

// IsVideoEncoderConfigSupported reports whether some engine on this
// host can serve the config. It has no side effects.
func IsVideoEncoderConfigSupported(config VideoEncoderConfig) (VideoEncoderSupport, error) {
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return VideoEncoderSupport{}, err
	}
	if !info.Family.IsVideo() {
		return VideoEncoderSupport{}, codecStringError("%q is not a video codec", config.Codec)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return VideoEncoderSupport{}, fmt.Errorf("invalid encoder size %dx%d", config.Width, config.Height)
	}
	if !levelSupportsSize(info, config.Width, config.Height) {
		return VideoEncoderSupport{Config: config.withDefaults()}, nil
	}
	engine, _, err := selectVideoEncodeEngine(info.Family, config.HardwareAcceleration)
	if err != nil {
		return VideoEncoderSupport{Config: config.withDefaults()}, nil
	}
	return VideoEncoderSupport{Supported: true, Config: config.withDefaults(), Engine: engine}, nil
}

// avcLevelMaxFS maps H.264 level_idc to the maximum frame size in
// macroblocks (ITU-T H.264 table A-1).
var avcLevelMaxFS = map[int]int{
	10: 99, 11: 396, 12: 396, 13: 396,
	20: 396, 21: 792, 22: 1620,
	30: 1620, 31: 3600, 32: 5120,
	40: 8192, 41: 8192, 42: 8704,
	50: 22080, 51: 36864, 52: 36864,
	60: 139264, 61: 270336, 62: 552960,
}

// hevcLevelMaxLumaPS maps H.265 general_level_idc to the maximum luma
// picture size in samples (ITU-T H.265 table A.8).
var hevcLevelMaxLumaPS = map[int]int{
	30: 36864, 60: 122880, 63: 245760,
	90: 552960, 93: 983040,
	120: 2228224, 123: 2228224,
	150: 8912896, 153: 8912896, 156: 8912896,
	180: 35651584, 183: 35651584, 186: 35651584,
}

// levelSupportsSize reports whether the codec string's level can carry
// the requested coded size. Unknown levels and codecs without a level
// notion pass.
func levelSupportsSize(info CodecInfo, width, height int) bool {
	switch info.Family {
	case CodecFamilyH264:
		max, ok := avcLevelMaxFS[info.Level]
		if !ok {
			return true
		}
		mbs := ((width + 15) / 16) * ((height + 15) / 16)
		return mbs <= max
	case CodecFamilyHEVC:
		max, ok := hevcLevelMaxLumaPS[info.Level]
		if !ok {
			return true
		}
		return width*height <= max
	default:
		return true
	}
}

// VideoEncoder encodes VideoFrames into EncodedVideoChunks through a
// FIFO work queue. Outputs are delivered in submission order via the
// Output callback; keyframe outputs carry a decoder configuration with
// an avcC/hvcC description in length-prefixed mode.
type VideoEncoder struct {
	output func(*EncodedVideoChunk, *EncodedVideoChunkMetadata)
	onErr  func(error)
	cbMu   sync.Mutex

	onDequeue func(queueSize int)

	state     atomic.Int32
	queueSize atomic.Int32

	mu      sync.Mutex // guards config, session, queue, stream state
	config  VideoEncoderConfig
	family  CodecFamily
	engine  Engine
	session videoEncodeSession
	queue   *codecQueue

	// Cached H.264/H.265 parameter sets and the last emitted decoder
	// config description. Touched only from the worker goroutine.
	sps, pps, vps   [][]byte
	lastDescription []byte
	configEmitted   bool
}

// NewVideoEncoder creates an unconfigured encoder. The Output callback
// is required.
func NewVideoEncoder(init VideoEncoderInit) (*VideoEncoder, error) {
	if init.Output == nil {
		return nil, fmt.Errorf("video encoder: output callback is required")
	}
	e := &VideoEncoder{
		output: init.Output,
		onErr:  init.Error,
	}
	e.state.Store(int32(StateUnconfigured))
	return e, nil
}

// State returns the encoder state.
func (e *VideoEncoder) State() CodecState {
	return CodecState(e.state.Load())
}

// QueueSize returns the number of frames waiting to be encoded.
func (e *VideoEncoder) QueueSize() int {
	return int(e.queueSize.Load())
}

// OnDequeue sets a callback invoked with the new queue size every time
// a frame leaves the queue. Pass nil to clear it.
func (e *VideoEncoder) OnDequeue(cb func(queueSize int)) {
	e.cbMu.Lock()
	e.onDequeue = cb
	e.cbMu.Unlock()
}

// SetOutput atomically replaces the output callback.
func (e *VideoEncoder) SetOutput(cb func(*EncodedVideoChunk, *EncodedVideoChunkMetadata)) {
	if cb == nil {
		return
	}
	e.cbMu.Lock()
	e.output = cb
	e.cbMu.Unlock()
}

// SetError atomically replaces the error callback. Pass nil to clear it.
func (e *VideoEncoder) SetError(cb func(error)) {
	e.cbMu.Lock()
	e.onErr = cb
	e.cbMu.Unlock()
}

// Configure sets up the encoder. A configured encoder may be
// reconfigured; queued work is flushed through the old session first.
// A failed Configure leaves the encoder state untouched so the caller
// can retry with a different configuration.
func (e *VideoEncoder) Configure(config VideoEncoderConfig) error {
	if e.State() == StateClosed {
		return stateErr(StateClosed, "configure video encoder")
	}
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return err
	}
	if !info.Family.IsVideo() {
		return codecStringError("%q is not a video codec", config.Codec)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("configure video encoder: invalid size %dx%d", config.Width, config.Height)
	}
	if !levelSupportsSize(info, config.Width, config.Height) {
		return unsupportedf("level %d cannot carry %dx%d", info.Level, config.Width, config.Height)
	}
	config = config.withDefaults()

	engine, factory, err := selectVideoEncodeEngine(info.Family, config.HardwareAcceleration)
	if err != nil {
		return err
	}
	session, err := factory(config)
	if err != nil {
		return fmt.Errorf("configure video encoder: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == StateClosed {
		session.Close()
		return stateErr(StateClosed, "configure video encoder")
	}
	if e.session != nil {
		old := e.session
		e.queue.push(queueTask{
			work:  func() { old.Close() },
			abort: func(error) { old.Close() },
		})
	}
	if e.queue == nil {
		e.queue = newCodecQueue()
	}
	e.config = config
	e.family = info.Family
	e.engine = engine
	e.session = session
	e.sps, e.pps, e.vps = nil, nil, nil
	e.lastDescription = nil
	e.configEmitted = false
	e.state.Store(int32(StateConfigured))
	return nil
}

// Engine returns the engine serving the current configuration.
func (e *VideoEncoder) Engine() Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engine
}

// Config returns the active configuration.
func (e *VideoEncoder) Config() VideoEncoderConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Encode queues a frame for encoding and returns without blocking. The
// frame is deep-copied; the caller keeps ownership of its own copy.
func (e *VideoEncoder) Encode(frame *VideoFrame, opts VideoEncodeOptions) error {
	if s := e.State(); s != StateConfigured {
		return stateErr(s, "encode")
	}
	if frame.Closed() {
		return fmt.Errorf("encode: %w", ErrClosed)
	}
	if opts.Quantizer != nil {
		if err := e.checkQuantizer(*opts.Quantizer); err != nil {
			return err
		}
	}
	clone, err := frame.Clone()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	e.mu.Lock()
	queue := e.queue
	session := e.session
	e.mu.Unlock()
	// Close or Reset may have raced ahead of the state check.
	if queue == nil || session == nil {
		clone.Close()
		return stateErr(e.State(), "encode")
	}

	e.queueSize.Add(1)
	ok := queue.push(queueTask{
		counted: true,
		work: func() {
			e.dequeued()
			chunks, err := session.Encode(clone, opts)
			clone.Close()
			if err != nil {
				e.reportError(fmt.Errorf("encode: %w", err))
				return
			}
			for _, chunk := range chunks {
				e.emit(chunk)
			}
		},
		abort: func(error) {
			e.dequeued()
			clone.Close()
		},
	})
	if !ok {
		e.queueSize.Add(-1)
		return fmt.Errorf("encode: %w", ErrClosed)
	}
	return nil
}

func (e *VideoEncoder) checkQuantizer(q int) error {
	e.mu.Lock()
	family := e.family
	e.mu.Unlock()
	max := 63
	if family == CodecFamilyH264 || family == CodecFamilyHEVC {
		max = 51
	}
	if q < 0 || q > max {
		return fmt.Errorf("encode: quantizer %d out of range 0-%d for %s", q, max, family)
	}
	return nil
}

func (e *VideoEncoder) dequeued() {
	n := e.queueSize.Add(-1)
	e.cbMu.Lock()
	cb := e.onDequeue
	e.cbMu.Unlock()
	if cb != nil {
		cb(int(n))
	}
}

// Flush blocks until every queued frame has been encoded and delivered.
// Reset and Close abort an in-flight Flush.
func (e *VideoEncoder) Flush(ctx context.Context) error {
	if s := e.State(); s != StateConfigured {
		return stateErr(s, "flush")
	}
	e.mu.Lock()
	queue := e.queue
	session := e.session
	e.mu.Unlock()
	if queue == nil || session == nil {
		return stateErr(e.State(), "flush")
	}

	return queue.barrier(ctx, func() error {
		chunks, err := session.Flush()
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		for _, chunk := range chunks {
			e.emit(chunk)
		}
		return nil
	})
}

// Reset drops queued frames and returns the encoder to the
// unconfigured state. The output callback sees no further chunks until
// the next Configure.
func (e *VideoEncoder) Reset() error {
	if s := e.State(); s == StateClosed {
		return stateErr(s, "reset")
	}
	e.state.Store(int32(StateUnconfigured))
	e.mu.Lock()
	queue := e.queue
	session := e.session
	e.session = nil
	e.mu.Unlock()

	if queue != nil {
		queue.drop(fmt.Errorf("reset: %w", ErrUnconfigured))
	}
	if session != nil {
		if queue == nil || !queue.push(queueTask{
			work:  func() { session.Close() },
			abort: func(error) { session.Close() },
		}) {
			session.Close()
		}
	}
	return nil
}

// Close permanently shuts the encoder down. Closing twice is a no-op.
func (e *VideoEncoder) Close() error {
	if !e.state.CompareAndSwap(int32(StateConfigured), int32(StateClosed)) &&
		!e.state.CompareAndSwap(int32(StateUnconfigured), int32(StateClosed)) {
		return nil
	}
	e.mu.Lock()
	queue := e.queue
	session := e.session
	e.session = nil
	e.queue = nil
	e.mu.Unlock()

	if queue != nil {
		queue.close(ErrClosed)
	}
	// close waited for the worker, so the session is idle now.
	if session != nil {
		session.Close()
	}
	return nil
}

func (e *VideoEncoder) reportError(err error) {
	e.cbMu.Lock()
	cb := e.onErr
	e.cbMu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// emit post-processes a session chunk (bitstream reframing, decoder
// config metadata) and delivers it. Runs on the worker goroutine.
func (e *VideoEncoder) emit(chunk *EncodedVideoChunk) {
	md := &EncodedVideoChunkMetadata{}

	e.mu.Lock()
	var err error
	switch e.family {
	case CodecFamilyH264, CodecFamilyHEVC:
		err = e.reframeNAL(chunk, md)
	default:
		if chunk.IsKey() && !e.configEmitted {
			md.DecoderConfig = e.baseDecoderConfig()
			e.configEmitted = true
		}
	}
	e.mu.Unlock()
	if err != nil {
		e.reportError(err)
		return
	}

	e.cbMu.Lock()
	out := e.output
	e.cbMu.Unlock()
	out(chunk, md)
}

func (e *VideoEncoder) baseDecoderConfig() *VideoDecoderConfigHint {
	return &VideoDecoderConfigHint{
		Codec:       e.config.Codec,
		CodedWidth:  e.config.Width,
		CodedHeight: e.config.Height,
		ColorSpace:  e.config.ColorSpace,
	}
}

// reframeNAL converts Annex B session output into the configured
// bitstream format and attaches decoder config metadata on keyframes.
func (e *VideoEncoder) reframeNAL(chunk *EncodedVideoChunk, md *EncodedVideoChunkMetadata) error {
	var description []byte
	var paramNALUs [][]byte

	switch e.family {
	case CodecFamilyH264:
		st, err := ScanAVCAnnexB(chunk.Data)
		if err != nil {
			return fmt.Errorf("encoder output: %w", err)
		}
		if len(st.SPS) > 0 {
			e.sps = st.SPS
		}
		if len(st.PPS) > 0 {
			e.pps = st.PPS
		}
		if chunk.IsKey() {
			if len(e.sps) == 0 || len(e.pps) == 0 {
				return fmt.Errorf("encoder output: %w: key chunk without parameter sets", ErrInvalidBitstream)
			}
			description, err = BuildAVCDecoderConfig(e.sps, e.pps)
			if err != nil {
				return fmt.Errorf("encoder output: %w", err)
			}
			paramNALUs = append(append([][]byte{}, e.sps...), e.pps...)
		}
	case CodecFamilyHEVC:
		st, err := ScanHEVCAnnexB(chunk.Data)
		if err != nil {
			return fmt.Errorf("encoder output: %w", err)
		}
		if len(st.VPS) > 0 {
			e.vps = st.VPS
		}
		if len(st.SPS) > 0 {
			e.sps = st.SPS
		}
		if len(st.PPS) > 0 {
			e.pps = st.PPS
		}
		if chunk.IsKey() {
			if len(e.sps) == 0 {
				return fmt.Errorf("encoder output: %w: key chunk without parameter sets", ErrInvalidBitstream)
			}
			description, err = BuildHEVCDecoderConfig(e.vps, e.sps, e.pps)
			if err != nil {
				return fmt.Errorf("encoder output: %w", err)
			}
			paramNALUs = append(append(append([][]byte{}, e.vps...), e.sps...), e.pps...)
		}
	}

	switch e.config.Format {
	case BitstreamLengthPrefixed:
		data, err := e.stripParamsLengthPrefixed(chunk.Data)
		if err != nil {
			return err
		}
		chunk.Data = data
		if chunk.IsKey() && (!e.configEmitted || !bytes.Equal(description, e.lastDescription)) {
			cfg := e.baseDecoderConfig()
			cfg.Codec = e.codecStringFromStream()
			cfg.Description = description
			md.DecoderConfig = cfg
			e.lastDescription = description
			e.configEmitted = true
		}
	case BitstreamAnnexB:
		if chunk.IsKey() {
			chunk.Data = ensureParameterSets(chunk.Data, paramNALUs)
			if !e.configEmitted {
				cfg := e.baseDecoderConfig()
				cfg.Codec = e.codecStringFromStream()
				md.DecoderConfig = cfg
				e.configEmitted = true
			}
		}
	}
	return nil
}

// stripParamsLengthPrefixed converts Annex B data to 4-byte
// length-prefixed form, dropping parameter set and AUD NAL units, which
// travel in the decoder config description instead.
func (e *VideoEncoder) stripParamsLengthPrefixed(data []byte) ([]byte, error) {
	nalus := SplitAnnexB(data)
	if len(nalus) == 0 {
		return nil, fmt.Errorf("encoder output: %w: no start codes found", ErrInvalidBitstream)
	}
	var out []byte
	for _, nalu := range nalus {
		skip := false
		switch e.family {
		case CodecFamilyH264:
			t := AVCNALType(nalu)
			skip = t == AVCNALSPS || t == AVCNALPPS || t == AVCNALAUD
		case CodecFamilyHEVC:
			t := HEVCNALType(nalu)
			skip = t == HEVCNALVPS || t == HEVCNALSPS || t == HEVCNALPPS || t == HEVCNALAUD
		}
		if skip {
			continue
		}
		out = append(out, byte(len(nalu)>>24), byte(len(nalu)>>16), byte(len(nalu)>>8), byte(len(nalu)))
		out = append(out, nalu...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("encoder output: %w: only parameter sets in access unit", ErrInvalidBitstream)
	}
	return out, nil
}

// ensureParameterSets prepends the given parameter set NAL units with
// 4-byte start codes when the access unit does not already carry them.
func ensureParameterSets(data []byte, params [][]byte) []byte {
	if len(params) == 0 {
		return data
	}
	for _, nalu := range SplitAnnexB(data) {
		if bytes.Equal(nalu, params[0]) {
			return data
		}
	}
	var out []byte
	for _, p := range params {
		out = append(out, 0, 0, 0, 1)
		out = append(out, p...)
	}
	return append(out, data...)
}

// codecStringFromStream derives the decoder-config codec string from
// the cached parameter sets, falling back to the configured string.
func (e *VideoEncoder) codecStringFromStream() string {
	switch e.family {
	case CodecFamilyH264:
		if len(e.sps) > 0 {
			if sps, err := ParseAVCSPS(e.sps[0]); err == nil {
				return FormatAVCCodecString(sps.ProfileIDC, sps.ConstraintFlags, sps.LevelIDC)
			}
		}
	case CodecFamilyHEVC:
		if len(e.sps) > 0 {
			if sps, err := ParseHEVCSPS(e.sps[0]); err == nil {
				return FormatHEVCCodecString(sps.PTL)
			}
		}
	}
	return e.config.Codec
}

// FormatAVCCodecString renders an avc1 codec string from profile,
// constraint and level bytes.
func FormatAVCCodecString(profile int, constraint byte, level int) string {
	return fmt.Sprintf("avc1.%02x%02x%02x", profile, constraint, level)
}

// FormatHEVCCodecString renders an hvc1 codec string from a parsed
// profile tier level.
func FormatHEVCCodecString(ptl HEVCProfileTierLevel) string {
	tier := "L"
	if ptl.TierFlag == 1 {
		tier = "H"
	}
	return fmt.Sprintf("hvc1.%d.%X.%s%d", ptl.ProfileIDC, reverseBits32(ptl.CompatFlags), tier, ptl.LevelIDC)
}

// reverseBits32 reverses bit order, matching the hvc1 compatibility
// flag convention (ISO 14496-15 Annex E).
func reverseBits32(v uint32) uint32 {
	var out uint32
	for i := 0; i < 32; i++ {
		out = out<<1 | (v>>i)&1
	}
	return out
}
