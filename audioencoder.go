package webcodecs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// AudioEncoderConfig configures an AudioEncoder.
type AudioEncoderConfig struct {
	// Codec is the codec string, e.g. "opus".
	Codec string

	SampleRate int
	Channels   int

	// Bitrate is the target bitrate in bits per second. Defaults to
	// 64000.
	Bitrate int
}

func (c AudioEncoderConfig) withDefaults() AudioEncoderConfig {
	if c.Bitrate <= 0 {
		c.Bitrate = 64000
	}
	return c
}

// AudioEncoderInit carries the AudioEncoder callbacks.
type AudioEncoderInit struct {
	Output func(chunk *EncodedAudioChunk, metadata *EncodedAudioChunkMetadata)
	Error  func(error)
}

// AudioEncoderSupport is the result of IsAudioEncoderConfigSupported.
type AudioEncoderSupport struct {
	Supported bool
	Config    AudioEncoderConfig
	Engine    Engine
}

// IsAudioEncoderConfigSupported reports whether some engine on this
// host can serve the config. It has no side effects.
func IsAudioEncoderConfigSupported(config AudioEncoderConfig) (AudioEncoderSupport, error) {
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return AudioEncoderSupport{}, err
	}
	if !info.Family.IsAudio() {
		return AudioEncoderSupport{}, codecStringError("%q is not an audio codec", config.Codec)
	}
	if config.SampleRate <= 0 || config.Channels <= 0 {
		return AudioEncoderSupport{}, fmt.Errorf("invalid audio config %d Hz, %d channels", config.SampleRate, config.Channels)
	}
	engine, _, err := selectAudioEncodeEngine(info.Family, HardwareNoPreference)
	if err != nil {
		return AudioEncoderSupport{Config: config.withDefaults()}, nil
	}
	return AudioEncoderSupport{Supported: true, Config: config.withDefaults(), Engine: engine}, nil
}

// AudioEncoder encodes AudioData into EncodedAudioChunks through a FIFO
// work queue, mirroring VideoEncoder.
type AudioEncoder struct {
	output func(*EncodedAudioChunk, *EncodedAudioChunkMetadata)
	onErr  func(error)
	cbMu   sync.Mutex

	onDequeue func(queueSize int)

	state     atomic.Int32
	queueSize atomic.Int32

	mu      sync.Mutex
	config  AudioEncoderConfig
	family  CodecFamily
	engine  Engine
	session audioEncodeSession
	queue   *codecQueue

	configEmitted bool
}

// NewAudioEncoder creates an unconfigured audio encoder.
func NewAudioEncoder(init AudioEncoderInit) (*AudioEncoder, error) {
	if init.Output == nil {
		return nil, fmt.Errorf("audio encoder: output callback is required")
	}
	e := &AudioEncoder{
		output: init.Output,
		onErr:  init.Error,
	}
	e.state.Store(int32(StateUnconfigured))
	return e, nil
}

// State returns the encoder state.
func (e *AudioEncoder) State() CodecState {
	return CodecState(e.state.Load())
}

// QueueSize returns the number of buffers waiting to be encoded.
func (e *AudioEncoder) QueueSize() int {
	return int(e.queueSize.Load())
}

// OnDequeue sets a callback invoked with the new queue size every time
// a buffer leaves the queue.
func (e *AudioEncoder) OnDequeue(cb func(queueSize int)) {
	e.cbMu.Lock()
	e.onDequeue = cb
	e.cbMu.Unlock()
}

// SetOutput atomically replaces the output callback.
func (e *AudioEncoder) SetOutput(cb func(*EncodedAudioChunk, *EncodedAudioChunkMetadata)) {
	if cb == nil {
		return
	}
	e.cbMu.Lock()
	e.output = cb
	e.cbMu.Unlock()
}

// SetError atomically replaces the error callback. Pass nil to clear it.
func (e *AudioEncoder) SetError(cb func(error)) {
	e.cbMu.Lock()
	e.onErr = cb
	e.cbMu.Unlock()
}

// Configure sets up the encoder. A failed Configure leaves the encoder
// state untouched so the caller can retry with a different
// configuration.
func (e *AudioEncoder) Configure(config AudioEncoderConfig) error {
	if e.State() == StateClosed {
		return stateErr(StateClosed, "configure audio encoder")
	}
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return err
	}
	if !info.Family.IsAudio() {
		return codecStringError("%q is not an audio codec", config.Codec)
	}
	if config.SampleRate <= 0 || config.Channels <= 0 {
		return fmt.Errorf("configure audio encoder: invalid %d Hz, %d channels", config.SampleRate, config.Channels)
	}
	config = config.withDefaults()

	engine, factory, err := selectAudioEncodeEngine(info.Family, HardwareNoPreference)
	if err != nil {
		return err
	}
	session, err := factory(config)
	if err != nil {
		return fmt.Errorf("configure audio encoder: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() == StateClosed {
		session.Close()
		return stateErr(StateClosed, "configure audio encoder")
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
	e.configEmitted = false
	e.state.Store(int32(StateConfigured))
	return nil
}

// Encode queues audio data for encoding and returns without blocking.
func (e *AudioEncoder) Encode(data *AudioData) error {
	if s := e.State(); s != StateConfigured {
		return stateErr(s, "encode")
	}
	if data.Closed() {
		return fmt.Errorf("encode: %w", ErrClosed)
	}
	clone, err := data.Clone()
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
			chunks, err := session.Encode(clone)
			clone.Close()
			if err != nil {
				e.reportError(fmt.Errorf("encode: %w", err))
				return
			}
			e.deliver(chunks)
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

func (e *AudioEncoder) dequeued() {
	n := e.queueSize.Add(-1)
	e.cbMu.Lock()
	cb := e.onDequeue
	e.cbMu.Unlock()
	if cb != nil {
		cb(int(n))
	}
}

func (e *AudioEncoder) deliver(chunks []*EncodedAudioChunk) {
	for _, chunk := range chunks {
		md := &EncodedAudioChunkMetadata{}
		e.mu.Lock()
		if !e.configEmitted {
			md.DecoderConfig = &AudioDecoderConfigHint{
				Codec:      e.config.Codec,
				SampleRate: e.config.SampleRate,
				Channels:   e.config.Channels,
			}
			e.configEmitted = true
		}
		e.mu.Unlock()

		e.cbMu.Lock()
		out := e.output
		e.cbMu.Unlock()
		out(chunk, md)
	}
}

// Flush blocks until every queued buffer has been encoded and
// delivered.
func (e *AudioEncoder) Flush(ctx context.Context) error {
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
		e.deliver(chunks)
		return nil
	})
}

// Reset drops queued buffers and returns the encoder to the
// unconfigured state.
func (e *AudioEncoder) Reset() error {
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
func (e *AudioEncoder) Close() error {
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

func (e *AudioEncoder) reportError(err error) {
	e.cbMu.Lock()
	cb := e.onErr
	e.cbMu.Unlock()
	if cb != nil {
		cb(err)
	}
}
