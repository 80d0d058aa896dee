//go:build darwin || linux

// Software Opus engine backed by libwebcodecs_opus via purego.
//
// libwebcodecs_opus is a thin wrapper around libopus with a
// primitive-only API, loaded dynamically at runtime.

package webcodecs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	wcOpusOnce    sync.Once
	wcOpusHandle  uintptr
	wcOpusInitErr error
)

// libwebcodecs_opus function pointers
var (
	wcOpusEncoderCreate     func(sampleRate, channels, application int32) uint64
	wcOpusEncoderEncode     func(encoder uint64, pcm uintptr, frameSize int32, outData uintptr, outCapacity int32) int32
	wcOpusEncoderSetBitrate func(encoder uint64, bitrate int32) int32
	wcOpusEncoderDestroy    func(encoder uint64)

	wcOpusDecoderCreate  func(sampleRate, channels int32) uint64
	wcOpusDecoderDecode  func(decoder uint64, data uintptr, dataLen int32, pcm uintptr, frameCapacity int32) int32
	wcOpusDecoderDestroy func(decoder uint64)

	wcOpusGetError func() uintptr
)

const (
	wcOpusApplicationAudio = 2049

	// 20 ms at 48 kHz, the canonical Opus frame size.
	wcOpusFrameSamples = 960

	// 120 ms, the largest frame a single Opus packet can carry.
	wcOpusMaxFrameSamples = 5760
)

func loadWCOpus() error {
	wcOpusOnce.Do(func() {
		wcOpusInitErr = loadWCOpusLib()
	})
	return wcOpusInitErr
}

func loadWCOpusLib() error {
	var lastErr error
	for _, path := range nativeLibPaths("OPUS", "libwebcodecs_opus") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			wcOpusHandle = handle
			loadWCOpusSymbols()
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libwebcodecs_opus: %w", lastErr)
	}
	return errors.New("libwebcodecs_opus not found in any standard location")
}

func loadWCOpusSymbols() {
	purego.RegisterLibFunc(&wcOpusEncoderCreate, wcOpusHandle, "webcodecs_opus_encoder_create")
	purego.RegisterLibFunc(&wcOpusEncoderEncode, wcOpusHandle, "webcodecs_opus_encoder_encode")
	purego.RegisterLibFunc(&wcOpusEncoderSetBitrate, wcOpusHandle, "webcodecs_opus_encoder_set_bitrate")
	purego.RegisterLibFunc(&wcOpusEncoderDestroy, wcOpusHandle, "webcodecs_opus_encoder_destroy")

	purego.RegisterLibFunc(&wcOpusDecoderCreate, wcOpusHandle, "webcodecs_opus_decoder_create")
	purego.RegisterLibFunc(&wcOpusDecoderDecode, wcOpusHandle, "webcodecs_opus_decoder_decode")
	purego.RegisterLibFunc(&wcOpusDecoderDestroy, wcOpusHandle, "webcodecs_opus_decoder_destroy")

	purego.RegisterLibFunc(&wcOpusGetError, wcOpusHandle, "webcodecs_opus_get_error")
}

func wcOpusError() string {
	ptr := wcOpusGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// swOpusEncodeSession is the software Opus encode session. Input PCM is
// accumulated and encoded in 20 ms frames; a trailing partial frame is
// zero-padded on Flush.
type swOpusEncodeSession struct {
	handle     uint64
	sampleRate int
	channels   int

	pcm       []int16 // interleaved accumulation buffer
	outputBuf []byte

	nextTS  int64
	tsValid bool
}

func newSWOpusEncodeSession(config AudioEncoderConfig) (audioEncodeSession, error) {
	if err := loadWCOpus(); err != nil {
		return nil, fmt.Errorf("Opus encoder not available: %w", err)
	}
	handle := wcOpusEncoderCreate(int32(config.SampleRate), int32(config.Channels), wcOpusApplicationAudio)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create Opus encoder: %s", wcOpusError())
	}
	if config.Bitrate > 0 {
		if rc := wcOpusEncoderSetBitrate(handle, int32(config.Bitrate)); rc != 0 {
			wcOpusEncoderDestroy(handle)
			return nil, fmt.Errorf("failed to set Opus bitrate: %s", wcOpusError())
		}
	}
	return &swOpusEncodeSession{
		handle:     handle,
		sampleRate: config.SampleRate,
		channels:   config.Channels,
		outputBuf:  make([]byte, 4000), // libopus recommended max packet
	}, nil
}

func (s *swOpusEncodeSession) Encode(data *AudioData) ([]*EncodedAudioChunk, error) {
	if s.handle == 0 {
		return nil, errors.New("encoder not initialized")
	}
	if data.Channels != s.channels || data.SampleRate != s.sampleRate {
		return nil, fmt.Errorf("audio data %dch@%dHz does not match encoder %dch@%dHz",
			data.Channels, data.SampleRate, s.channels, s.sampleRate)
	}
	pcm, err := interleavedS16(data)
	if err != nil {
		return nil, err
	}
	if !s.tsValid {
		s.nextTS = data.Timestamp
		s.tsValid = true
	}
	s.pcm = append(s.pcm, pcm...)
	return s.drain(false)
}

// drain encodes complete frames out of the accumulation buffer. With
// pad set, a trailing partial frame is zero-padded and encoded too.
func (s *swOpusEncodeSession) drain(pad bool) ([]*EncodedAudioChunk, error) {
	frameLen := wcOpusFrameSamples * s.channels
	var chunks []*EncodedAudioChunk
	for len(s.pcm) > 0 {
		if len(s.pcm) < frameLen {
			if !pad {
				break
			}
			padded := make([]int16, frameLen)
			copy(padded, s.pcm)
			s.pcm = padded
		}
		n := wcOpusEncoderEncode(
			s.handle,
			uintptr(unsafe.Pointer(&s.pcm[0])),
			wcOpusFrameSamples,
			uintptr(unsafe.Pointer(&s.outputBuf[0])),
			int32(len(s.outputBuf)),
		)
		runtime.KeepAlive(s.pcm)
		if n < 0 {
			return chunks, fmt.Errorf("encode failed: %s", wcOpusError())
		}
		s.pcm = s.pcm[frameLen:]

		out := make([]byte, n)
		copy(out, s.outputBuf[:n])
		duration := int64(wcOpusFrameSamples) * 1e6 / int64(s.sampleRate)
		chunks = append(chunks, &EncodedAudioChunk{
			Type:      ChunkTypeKey, // every Opus packet is independently decodable
			Timestamp: s.nextTS,
			Duration:  duration,
			Data:      out,
		})
		s.nextTS += duration
	}
	return chunks, nil
}

func (s *swOpusEncodeSession) Flush() ([]*EncodedAudioChunk, error) {
	if s.handle == 0 {
		return nil, errors.New("encoder not initialized")
	}
	return s.drain(true)
}

func (s *swOpusEncodeSession) Close() error {
	if s.handle != 0 {
		wcOpusEncoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

// interleavedS16 converts audio data to interleaved signed 16-bit PCM.
func interleavedS16(data *AudioData) ([]int16, error) {
	frames := data.NumberOfFrames
	ch := data.Channels
	out := make([]int16, frames*ch)
	switch data.Format {
	case AudioFormatS16:
		buf := data.Data[0]
		if len(buf) < frames*ch*2 {
			return nil, ErrBufferTooSmall
		}
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
	case AudioFormatS16Planar:
		for c := 0; c < ch; c++ {
			buf := data.Data[c]
			if len(buf) < frames*2 {
				return nil, ErrBufferTooSmall
			}
			for i := 0; i < frames; i++ {
				out[i*ch+c] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
			}
		}
	case AudioFormatF32:
		buf := data.Data[0]
		if len(buf) < frames*ch*4 {
			return nil, ErrBufferTooSmall
		}
		for i := range out {
			out[i] = f32BitsToS16(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	case AudioFormatF32Planar:
		for c := 0; c < ch; c++ {
			buf := data.Data[c]
			if len(buf) < frames*4 {
				return nil, ErrBufferTooSmall
			}
			for i := 0; i < frames; i++ {
				out[i*ch+c] = f32BitsToS16(binary.LittleEndian.Uint32(buf[i*4:]))
			}
		}
	default:
		return nil, unsupportedf("audio sample format %v", data.Format)
	}
	return out, nil
}

func f32BitsToS16(bits uint32) int16 {
	f := math.Float32frombits(bits)
	v := f * 32767
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// swOpusDecodeSession is the software Opus decode session.
type swOpusDecodeSession struct {
	handle     uint64
	sampleRate int
	channels   int
	pcmBuf     []int16
}

func newSWOpusDecodeSession(config AudioDecoderConfig) (audioDecodeSession, error) {
	if err := loadWCOpus(); err != nil {
		return nil, fmt.Errorf("Opus decoder not available: %w", err)
	}
	handle := wcOpusDecoderCreate(int32(config.SampleRate), int32(config.Channels))
	if handle == 0 {
		return nil, fmt.Errorf("failed to create Opus decoder: %s", wcOpusError())
	}
	return &swOpusDecodeSession{
		handle:     handle,
		sampleRate: config.SampleRate,
		channels:   config.Channels,
		pcmBuf:     make([]int16, wcOpusMaxFrameSamples*config.Channels),
	}, nil
}

func (s *swOpusDecodeSession) Decode(chunk *EncodedAudioChunk) ([]*AudioData, error) {
	if s.handle == 0 {
		return nil, errors.New("decoder not initialized")
	}
	if len(chunk.Data) == 0 {
		return nil, errors.New("empty encoded data")
	}
	n := wcOpusDecoderDecode(
		s.handle,
		uintptr(unsafe.Pointer(&chunk.Data[0])),
		int32(len(chunk.Data)),
		uintptr(unsafe.Pointer(&s.pcmBuf[0])),
		int32(wcOpusMaxFrameSamples),
	)
	runtime.KeepAlive(chunk.Data)
	if n < 0 {
		return nil, fmt.Errorf("decode failed: %s", wcOpusError())
	}
	if n == 0 {
		return nil, nil
	}
	data, err := NewAudioData(AudioFormatS16, s.sampleRate, int(n), s.channels)
	if err != nil {
		return nil, err
	}
	data.Timestamp = chunk.Timestamp
	buf := data.Data[0]
	for i := 0; i < int(n)*s.channels; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s.pcmBuf[i]))
	}
	return []*AudioData{data}, nil
}

func (s *swOpusDecodeSession) Flush() ([]*AudioData, error) {
	if s.handle == 0 {
		return nil, errors.New("decoder not initialized")
	}
	// Opus keeps no reorder delay; nothing buffered.
	return nil, nil
}

func (s *swOpusDecodeSession) Close() error {
	if s.handle != 0 {
		wcOpusDecoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

func init() {
	if err := loadWCOpus(); err != nil {
		return
	}
	registerAudioEncodeSession(CodecFamilyOpus, EngineSoftware, newSWOpusEncodeSession)
	registerAudioDecodeSession(CodecFamilyOpus, EngineSoftware, newSWOpusDecodeSession)
}
