package webcodecs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// VideoDecoderConfig configures a VideoDecoder.
type VideoDecoderConfig struct {
	// Codec is the RFC 6381 codec string, e.g. "avc1.64001f".
	Codec string

	// CodedWidth and CodedHeight hint the coded frame size. Optional;
	// H.264/H.265 streams carry the size in their parameter sets.
	CodedWidth  int
	CodedHeight int

	// Description is the decoder configuration record (avcC or hvcC).
	// When present, chunks are expected length-prefixed with the
	// record's NAL length size; when absent, Annex B is expected.
	Description []byte

	HardwareAcceleration HardwareAcceleration

	ColorSpace VideoColorSpace
}

// VideoDecoderInit carries the callbacks a VideoDecoder delivers
// results through.
type VideoDecoderInit struct {
	Output func(frame *VideoFrame)
	Error  func(error)
}

// VideoDecoderSupport is the result of IsVideoDecoderConfigSupported.
type VideoDecoderSupport struct {
	Supported bool
	Config    VideoDecoderConfig
	Engine    Engine
}

// IsVideoDecoderConfigSupported reports whether some engine on this
// host can serve the config. It has no side effects.
func IsVideoDecoderConfigSupported(config VideoDecoderConfig) (VideoDecoderSupport, error) {
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return VideoDecoderSupport{}, err
	}
	if !info.Family.IsVideo() {
		return VideoDecoderSupport{}, codecStringError("%q is not a video codec", config.Codec)
	}
	if len(config.Description) > 0 {
		if err := validateDescription(info.Family, config.Description); err != nil {
			return VideoDecoderSupport{}, err
		}
	}
	engine, _, err := selectVideoDecodeEngine(info.Family, config.HardwareAcceleration)
	if err != nil {
		return VideoDecoderSupport{Config: config}, nil
	}
	return VideoDecoderSupport{Supported: true, Config: config, Engine: engine}, nil
}

func validateDescription(family CodecFamily, desc []byte) error {
	switch family {
	case CodecFamilyH264:
		_, err := ParseAVCDecoderConfig(desc)
		return err
	case CodecFamilyHEVC:
		_, err := ParseHEVCDecoderConfig(desc)
		return err
	default:
		return nil
	}
}

// VideoDecoder decodes EncodedVideoChunks into VideoFrames through a
// FIFO work queue. Frames are delivered in submission order via the
// Output callback. The first chunk after Configure, Reset or Flush must
// be a key chunk.
type VideoDecoder struct {
	output func(*VideoFrame)
	onErr  func(error)
	cbMu   sync.Mutex

	onDequeue func(queueSize int)

	state     atomic.Int32
	queueSize atomic.Int32

	mu      sync.Mutex
	config  VideoDecoderConfig
	family  CodecFamily
	engine  Engine
	session videoDecodeSession
	queue   *codecQueue

	// Length-prefix conversion state from the config description.
	lengthSize int
	prefixNAL  []byte // parameter sets as Annex B, prepended to the first key chunk

	keySeen atomic.Bool
}

// NewVideoDecoder creates an unconfigured decoder. The Output callback
// is required.
func NewVideoDecoder(init VideoDecoderInit) (*VideoDecoder, error) {
	if init.Output == nil {
		return nil, fmt.Errorf("video decoder: output callback is required")
	}
	d := &VideoDecoder{
		output: init.Output,
		onErr:  init.Error,
	}
	d.state.Store(int32(StateUnconfigured))
	return d, nil
}

// State returns the decoder state.
func (d *VideoDecoder) State() CodecState {
	return CodecState(d.state.Load())
}

// QueueSize returns the number of chunks waiting to be decoded.
func (d *VideoDecoder) QueueSize() int {
	return int(d.queueSize.Load())
}

// OnDequeue sets a callback invoked with the new queue size every time
// a chunk leaves the queue. Pass nil to clear it.
func (d *VideoDecoder) OnDequeue(cb func(queueSize int)) {
	d.cbMu.Lock()
	d.onDequeue = cb
	d.cbMu.Unlock()
}

// SetOutput atomically replaces the output callback.
func (d *VideoDecoder) SetOutput(cb func(*VideoFrame)) {
	if cb == nil {
		return
	}
	d.cbMu.Lock()
	d.output = cb
	d.cbMu.Unlock()
}

// SetError atomically replaces the error callback. Pass nil to clear it.
func (d *VideoDecoder) SetError(cb func(error)) {
	d.cbMu.Lock()
	d.onErr = cb
	d.cbMu.Unlock()
}

// Configure sets up the decoder. A failed Configure leaves the decoder
// state untouched so the caller can retry with a different
// configuration.
func (d *VideoDecoder) Configure(config VideoDecoderConfig) error {
	if d.State() == StateClosed {
		return stateErr(StateClosed, "configure video decoder")
	}
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return err
	}
	if !info.Family.IsVideo() {
		return codecStringError("%q is not a video codec", config.Codec)
	}

	lengthSize := 0
	var prefixNAL []byte
	if len(config.Description) > 0 {
		switch info.Family {
		case CodecFamilyH264:
			rec, err := ParseAVCDecoderConfig(config.Description)
			if err != nil {
				return err
			}
			lengthSize = rec.LengthSize
			prefixNAL = annexBJoin(append(append([][]byte{}, rec.SPS...), rec.PPS...))
		case CodecFamilyHEVC:
			rec, err := ParseHEVCDecoderConfig(config.Description)
			if err != nil {
				return err
			}
			lengthSize = rec.LengthSize
			prefixNAL = annexBJoin(append(append(append([][]byte{}, rec.VPS...), rec.SPS...), rec.PPS...))
		}
	}

	engine, factory, err := selectVideoDecodeEngine(info.Family, config.HardwareAcceleration)
	if err != nil {
		return err
	}
	session, err := factory(config)
	if err != nil {
		return fmt.Errorf("configure video decoder: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() == StateClosed {
		session.Close()
		return stateErr(StateClosed, "configure video decoder")
	}
	if d.session != nil {
		old := d.session
		d.queue.push(queueTask{
			work:  func() { old.Close() },
			abort: func(error) { old.Close() },
		})
	}
	if d.queue == nil {
		d.queue = newCodecQueue()
	}
	d.config = config
	d.family = info.Family
	d.engine = engine
	d.session = session
	d.lengthSize = lengthSize
	d.prefixNAL = prefixNAL
	d.keySeen.Store(false)
	d.state.Store(int32(StateConfigured))
	return nil
}

// Engine returns the engine serving the current configuration.
func (d *VideoDecoder) Engine() Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine
}

// Decode queues a chunk for decoding and returns without blocking.
func (d *VideoDecoder) Decode(chunk *EncodedVideoChunk) error {
	if s := d.State(); s != StateConfigured {
		return stateErr(s, "decode")
	}
	if !chunk.IsKey() && !d.keySeen.Load() {
		return fmt.Errorf("decode: %w", ErrKeyChunkRequired)
	}
	if chunk.IsKey() {
		d.keySeen.Store(true)
	}

	work := chunk.Clone()
	d.mu.Lock()
	queue := d.queue
	session := d.session
	lengthSize := d.lengthSize
	prefix := d.prefixNAL
	firstKey := work.IsKey()
	d.prefixNAL = nil // parameter sets only needed once
	if !firstKey {
		d.prefixNAL = prefix
	}
	d.mu.Unlock()

	// Close or Reset may have raced ahead of the state check.
	if queue == nil || session == nil {
		return stateErr(d.State(), "decode")
	}

	d.queueSize.Add(1)
	ok := queue.push(queueTask{
		counted: true,
		work: func() {
			d.dequeued()
			if lengthSize > 0 {
				data, err := LengthPrefixedToAnnexB(work.Data, lengthSize)
				if err != nil {
					d.reportError(fmt.Errorf("decode: %w", err))
					return
				}
				work.Data = data
			}
			if firstKey && len(prefix) > 0 {
				work.Data = append(append([]byte{}, prefix...), work.Data...)
			}
			frames, err := session.Decode(work)
			if err != nil {
				d.reportError(fmt.Errorf("decode: %w", err))
				return
			}
			d.deliver(frames)
		},
		abort: func(error) {
			d.dequeued()
		},
	})
	if !ok {
		d.queueSize.Add(-1)
		return fmt.Errorf("decode: %w", ErrClosed)
	}
	return nil
}

func (d *VideoDecoder) dequeued() {
	n := d.queueSize.Add(-1)
	d.cbMu.Lock()
	cb := d.onDequeue
	d.cbMu.Unlock()
	if cb != nil {
		cb(int(n))
	}
}

func (d *VideoDecoder) deliver(frames []*VideoFrame) {
	if len(frames) == 0 {
		return
	}
	d.cbMu.Lock()
	out := d.output
	d.cbMu.Unlock()
	for _, f := range frames {
		out(f)
	}
}

// Flush blocks until every queued chunk has been decoded and all
// buffered frames delivered. The next chunk must be a key chunk.
func (d *VideoDecoder) Flush(ctx context.Context) error {
	if s := d.State(); s != StateConfigured {
		return stateErr(s, "flush")
	}
	d.mu.Lock()
	queue := d.queue
	session := d.session
	d.mu.Unlock()

	if queue == nil || session == nil {
		return stateErr(d.State(), "flush")
	}

	err := queue.barrier(ctx, func() error {
		frames, err := session.Flush()
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		d.deliver(frames)
		return nil
	})
	if err == nil {
		d.keySeen.Store(false)
	}
	return err
}

// Reset drops queued chunks and returns the decoder to the
// unconfigured state.
func (d *VideoDecoder) Reset() error {
	if s := d.State(); s == StateClosed {
		return stateErr(s, "reset")
	}
	d.state.Store(int32(StateUnconfigured))
	d.keySeen.Store(false)
	d.mu.Lock()
	queue := d.queue
	session := d.session
	d.session = nil
	d.mu.Unlock()

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

// Close permanently shuts the decoder down. Closing twice is a no-op.
func (d *VideoDecoder) Close() error {
	if !d.state.CompareAndSwap(int32(StateConfigured), int32(StateClosed)) &&
		!d.state.CompareAndSwap(int32(StateUnconfigured), int32(StateClosed)) {
		return nil
	}
	d.mu.Lock()
	queue := d.queue
	session := d.session
	d.session = nil
	d.queue = nil
	d.mu.Unlock()

	if queue != nil {
		queue.close(ErrClosed)
	}
	// close waited for the worker, so the session is idle now.
	if session != nil {
		session.Close()
	}
	return nil
}

func (d *VideoDecoder) reportError(err error) {
	d.cbMu.Lock()
	cb := d.onErr
	d.cbMu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// annexBJoin concatenates NAL units with 4-byte start codes.
func annexBJoin(nalus [][]byte) []byte {
	if len(nalus) == 0 {
		return nil
	}
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}
