package webcodecs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// AudioDecoderConfig configures an AudioDecoder.
type AudioDecoderConfig struct {
	// Codec is the codec string, e.g. "opus" or "mp4a.40.2".
	Codec string

	SampleRate int
	Channels   int

	// Description is codec-specific extradata (e.g. AudioSpecificConfig
	// for AAC, the identification header for Opus).
	Description []byte
}

// AudioDecoderInit carries the AudioDecoder callbacks.
type AudioDecoderInit struct {
	Output func(data *AudioData)
	Error  func(error)
}

// AudioDecoderSupport is the result of IsAudioDecoderConfigSupported.
type AudioDecoderSupport struct {
	Supported bool
	Config    AudioDecoderConfig
	Engine    Engine
}

// IsAudioDecoderConfigSupported reports whether some engine on this
// host can serve the config. It has no side effects.
func IsAudioDecoderConfigSupported(config AudioDecoderConfig) (AudioDecoderSupport, error) {
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return AudioDecoderSupport{}, err
	}
	if !info.Family.IsAudio() {
		return AudioDecoderSupport{}, codecStringError("%q is not an audio codec", config.Codec)
	}
	engine, _, err := selectAudioDecodeEngine(info.Family, HardwareNoPreference)
	if err != nil {
		return AudioDecoderSupport{Config: config}, nil
	}
	return AudioDecoderSupport{Supported: true, Config: config, Engine: engine}, nil
}

// AudioDecoder decodes EncodedAudioChunks into AudioData through a FIFO
// work queue, mirroring VideoDecoder.
type AudioDecoder struct {
	output func(*AudioData)
	onErr  func(error)
	cbMu   sync.Mutex

	onDequeue func(queueSize int)

	state     atomic.Int32
	queueSize atomic.Int32

	mu      sync.Mutex
	config  AudioDecoderConfig
	family  CodecFamily
	engine  Engine
	session audioDecodeSession
	queue   *codecQueue
}

// NewAudioDecoder creates an unconfigured audio decoder.
func NewAudioDecoder(init AudioDecoderInit) (*AudioDecoder, error) {
	if init.Output == nil {
		return nil, fmt.Errorf("audio decoder: output callback is required")
	}
	d := &AudioDecoder{
		output: init.Output,
		onErr:  init.Error,
	}
	d.state.Store(int32(StateUnconfigured))
	return d, nil
}

// State returns the decoder state.
func (d *AudioDecoder) State() CodecState {
	return CodecState(d.state.Load())
}

// QueueSize returns the number of chunks waiting to be decoded.
func (d *AudioDecoder) QueueSize() int {
	return int(d.queueSize.Load())
}

// OnDequeue sets a callback invoked with the new queue size every time
// a chunk leaves the queue.
func (d *AudioDecoder) OnDequeue(cb func(queueSize int)) {
	d.cbMu.Lock()
	d.onDequeue = cb
	d.cbMu.Unlock()
}

// SetOutput atomically replaces the output callback.
func (d *AudioDecoder) SetOutput(cb func(*AudioData)) {
	if cb == nil {
		return
	}
	d.cbMu.Lock()
	d.output = cb
	d.cbMu.Unlock()
}

// SetError atomically replaces the error callback. Pass nil to clear it.
func (d *AudioDecoder) SetError(cb func(error)) {
	d.cbMu.Lock()
	d.onErr = cb
	d.cbMu.Unlock()
}

// Configure sets up the decoder. A failed Configure leaves the decoder
// state untouched so the caller can retry with a different
// configuration.
func (d *AudioDecoder) Configure(config AudioDecoderConfig) error {
	if d.State() == StateClosed {
		return stateErr(StateClosed, "configure audio decoder")
	}
	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return err
	}
	if !info.Family.IsAudio() {
		return codecStringError("%q is not an audio codec", config.Codec)
	}

	engine, factory, err := selectAudioDecodeEngine(info.Family, HardwareNoPreference)
	if err != nil {
		return err
	}
	session, err := factory(config)
	if err != nil {
		return fmt.Errorf("configure audio decoder: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() == StateClosed {
		session.Close()
		return stateErr(StateClosed, "configure audio decoder")
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
	d.state.Store(int32(StateConfigured))
	return nil
}

// Decode queues a chunk for decoding and returns without blocking.
func (d *AudioDecoder) Decode(chunk *EncodedAudioChunk) error {
	if s := d.State(); s != StateConfigured {
		return stateErr(s, "decode")
	}
	work := chunk.Clone()

	d.mu.Lock()
	queue := d.queue
	session := d.session
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
			samples, err := session.Decode(work)
			if err != nil {
				d.reportError(fmt.Errorf("decode: %w", err))
				return
			}
			d.deliver(samples)
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

func (d *AudioDecoder) dequeued() {
	n := d.queueSize.Add(-1)
	d.cbMu.Lock()
	cb := d.onDequeue
	d.cbMu.Unlock()
	if cb != nil {
		cb(int(n))
	}
}

func (d *AudioDecoder) deliver(samples []*AudioData) {
	if len(samples) == 0 {
		return
	}
	d.cbMu.Lock()
	out := d.output
	d.cbMu.Unlock()
	for _, s := range samples {
		out(s)
	}
}

// Flush blocks until every queued chunk has been decoded and all
// buffered samples delivered.
func (d *AudioDecoder) Flush(ctx context.Context) error {
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

	return queue.barrier(ctx, func() error {
		samples, err := session.Flush()
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		d.deliver(samples)
		return nil
	})
}

// Reset drops queued chunks and returns the decoder to the
// unconfigured state.
func (d *AudioDecoder) Reset() error {
	if s := d.State(); s == StateClosed {
		return stateErr(s, "reset")
	}
	d.state.Store(int32(StateUnconfigured))
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
func (d *AudioDecoder) Close() error {
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

func (d *AudioDecoder) reportError(err error) {
	d.cbMu.Lock()
	cb := d.onErr
	d.cbMu.Unlock()
	if cb != nil {
		cb(err)
	}
}
