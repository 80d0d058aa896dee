//go:build darwin || linux

// Software AV1 engine backed by libwebcodecs_av1 via purego.
//
// libwebcodecs_av1 wraps libaom (encode) and dav1d (decode) behind a
// primitive-only API, loaded dynamically at runtime.

package webcodecs

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	wcAV1Once    sync.Once
	wcAV1Handle  uintptr
	wcAV1InitErr error
)

// libwebcodecs_av1 function pointers
var (
	wcAV1EncoderCreate        func(width, height, fps, bitrateKbps, threads int32) uint64
	wcAV1EncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe, quantizer int32, outData uintptr, outCapacity int32, outKeyframe, outPts uintptr) int32
	wcAV1EncoderMaxOutputSize func(encoder uint64) int32
	wcAV1EncoderFlush         func(encoder uint64, outData uintptr, outCapacity int32, outKeyframe, outPts uintptr) int32
	wcAV1EncoderDestroy       func(encoder uint64)

	wcAV1DecoderCreate  func(threads int32) uint64
	wcAV1DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	wcAV1DecoderFlush   func(decoder uint64, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	wcAV1DecoderDestroy func(decoder uint64)

	wcAV1GetError         func() uintptr
	wcAV1EncoderAvailable func() int32
	wcAV1DecoderAvailable func() int32
)

func loadWCAV1() error {
	wcAV1Once.Do(func() {
		wcAV1InitErr = loadWCAV1Lib()
	})
	return wcAV1InitErr
}

func loadWCAV1Lib() error {
	var lastErr error
	for _, path := range nativeLibPaths("AV1", "libwebcodecs_av1") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			wcAV1Handle = handle
			loadWCAV1Symbols()
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libwebcodecs_av1: %w", lastErr)
	}
	return errors.New("libwebcodecs_av1 not found in any standard location")
}

func loadWCAV1Symbols() {
	purego.RegisterLibFunc(&wcAV1EncoderCreate, wcAV1Handle, "webcodecs_av1_encoder_create")
	purego.RegisterLibFunc(&wcAV1EncoderEncode, wcAV1Handle, "webcodecs_av1_encoder_encode")
	purego.RegisterLibFunc(&wcAV1EncoderMaxOutputSize, wcAV1Handle, "webcodecs_av1_encoder_max_output_size")
	purego.RegisterLibFunc(&wcAV1EncoderFlush, wcAV1Handle, "webcodecs_av1_encoder_flush")
	purego.RegisterLibFunc(&wcAV1EncoderDestroy, wcAV1Handle, "webcodecs_av1_encoder_destroy")

	purego.RegisterLibFunc(&wcAV1DecoderCreate, wcAV1Handle, "webcodecs_av1_decoder_create")
	purego.RegisterLibFunc(&wcAV1DecoderDecode, wcAV1Handle, "webcodecs_av1_decoder_decode")
	purego.RegisterLibFunc(&wcAV1DecoderFlush, wcAV1Handle, "webcodecs_av1_decoder_flush")
	purego.RegisterLibFunc(&wcAV1DecoderDestroy, wcAV1Handle, "webcodecs_av1_decoder_destroy")

	purego.RegisterLibFunc(&wcAV1GetError, wcAV1Handle, "webcodecs_av1_get_error")
	purego.RegisterLibFunc(&wcAV1EncoderAvailable, wcAV1Handle, "webcodecs_av1_encoder_available")
	purego.RegisterLibFunc(&wcAV1DecoderAvailable, wcAV1Handle, "webcodecs_av1_decoder_available")
}

func wcAV1Error() string {
	ptr := wcAV1GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// swAV1EncodeSession is the software AV1 encode session. Each chunk
// carries one temporal unit of OBUs.
type swAV1EncodeSession struct {
	handle    uint64
	outputBuf []byte
	frameDur  int64
}

func newSWAV1EncodeSession(config VideoEncoderConfig) (videoEncodeSession, error) {
	if err := loadWCAV1(); err != nil {
		return nil, fmt.Errorf("AV1 encoder not available: %w", err)
	}
	if wcAV1EncoderAvailable() == 0 {
		return nil, errors.New("AV1 encoder not available in libwebcodecs_av1")
	}
	handle := wcAV1EncoderCreate(
		int32(config.Width),
		int32(config.Height),
		int32(config.Framerate),
		int32(config.Bitrate/1000),
		int32(runtime.NumCPU()),
	)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create AV1 encoder: %s", wcAV1Error())
	}
	maxOutput := wcAV1EncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}
	return &swAV1EncodeSession{
		handle:    handle,
		outputBuf: make([]byte, maxOutput),
		frameDur:  int64(1e6 / config.Framerate),
	}, nil
}

func (s *swAV1EncodeSession) Encode(frame *VideoFrame, opts VideoEncodeOptions) ([]*EncodedVideoChunk, error) {
	if s.handle == 0 {
		return nil, errors.New("encoder not initialized")
	}
	src := frame
	if frame.Format != PixelFormatI420 {
		converted, err := ConvertFrame(frame, PixelFormatI420)
		if err != nil {
			return nil, err
		}
		defer converted.Close()
		src = converted
	}

	forceKeyframe := int32(0)
	if opts.KeyFrame {
		forceKeyframe = 1
	}
	quantizer := int32(-1)
	if opts.Quantizer != nil {
		quantizer = int32(*opts.Quantizer)
	}

	var keyframe int32
	var pts int64
	n := wcAV1EncoderEncode(
		s.handle,
		uintptr(unsafe.Pointer(&src.Data[0][0])),
		uintptr(unsafe.Pointer(&src.Data[1][0])),
		uintptr(unsafe.Pointer(&src.Data[2][0])),
		int32(src.Stride[0]),
		int32(src.Stride[1]),
		forceKeyframe,
		quantizer,
		uintptr(unsafe.Pointer(&s.outputBuf[0])),
		int32(len(s.outputBuf)),
		uintptr(unsafe.Pointer(&keyframe)),
		uintptr(unsafe.Pointer(&pts)),
	)
	runtime.KeepAlive(src)
	if n < 0 {
		return nil, fmt.Errorf("encode failed: %s", wcAV1Error())
	}
	if n == 0 {
		return nil, nil // encoder buffering
	}
	return []*EncodedVideoChunk{s.chunk(n, keyframe, frame.Timestamp, frame.Duration)}, nil
}

func (s *swAV1EncodeSession) chunk(n, keyframe int32, timestamp, duration int64) *EncodedVideoChunk {
	data := make([]byte, n)
	copy(data, s.outputBuf[:n])
	t := ChunkTypeDelta
	if keyframe != 0 {
		t = ChunkTypeKey
	}
	if duration == 0 {
		duration = s.frameDur
	}
	return &EncodedVideoChunk{
		Type:      t,
		Timestamp: timestamp,
		Duration:  duration,
		Data:      data,
	}
}

func (s *swAV1EncodeSession) Flush() ([]*EncodedVideoChunk, error) {
	if s.handle == 0 {
		return nil, errors.New("encoder not initialized")
	}
	var chunks []*EncodedVideoChunk
	for {
		var keyframe int32
		var pts int64
		n := wcAV1EncoderFlush(
			s.handle,
			uintptr(unsafe.Pointer(&s.outputBuf[0])),
			int32(len(s.outputBuf)),
			uintptr(unsafe.Pointer(&keyframe)),
			uintptr(unsafe.Pointer(&pts)),
		)
		if n < 0 {
			return chunks, fmt.Errorf("flush failed: %s", wcAV1Error())
		}
		if n == 0 {
			return chunks, nil
		}
		chunks = append(chunks, s.chunk(n, keyframe, pts, 0))
	}
}

func (s *swAV1EncodeSession) Close() error {
	if s.handle != 0 {
		wcAV1EncoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

// swAV1DecodeSession is the software AV1 decode session.
type swAV1DecodeSession struct {
	handle uint64
	result *wcDecodeResult
}

func newSWAV1DecodeSession(config VideoDecoderConfig) (videoDecodeSession, error) {
	if err := loadWCAV1(); err != nil {
		return nil, fmt.Errorf("AV1 decoder not available: %w", err)
	}
	if wcAV1DecoderAvailable() == 0 {
		return nil, errors.New("AV1 decoder not available in libwebcodecs_av1")
	}
	handle := wcAV1DecoderCreate(int32(runtime.NumCPU()))
	if handle == 0 {
		return nil, fmt.Errorf("failed to create AV1 decoder: %s", wcAV1Error())
	}
	return &swAV1DecodeSession{
		handle: handle,
		result: &wcDecodeResult{},
	}, nil
}

func (s *swAV1DecodeSession) Decode(chunk *EncodedVideoChunk) ([]*VideoFrame, error) {
	if s.handle == 0 {
		return nil, errors.New("decoder not initialized")
	}
	if len(chunk.Data) == 0 {
		return nil, errors.New("empty encoded data")
	}
	out := s.result
	n := wcAV1DecoderDecode(
		s.handle,
		uintptr(unsafe.Pointer(&chunk.Data[0])),
		int32(len(chunk.Data)),
		uintptr(unsafe.Pointer(&out.YPtr)),
		uintptr(unsafe.Pointer(&out.UPtr)),
		uintptr(unsafe.Pointer(&out.VPtr)),
		uintptr(unsafe.Pointer(&out.YStride)),
		uintptr(unsafe.Pointer(&out.UVStride)),
		uintptr(unsafe.Pointer(&out.Width)),
		uintptr(unsafe.Pointer(&out.Height)),
	)
	runtime.KeepAlive(chunk.Data)
	runtime.KeepAlive(out)
	if n < 0 {
		return nil, fmt.Errorf("decode failed: %s", wcAV1Error())
	}
	if n == 0 {
		return nil, nil // decoder buffering
	}
	frame, err := copyI420FromNative(out, chunk.Timestamp, chunk.Duration)
	if err != nil {
		return nil, err
	}
	return []*VideoFrame{frame}, nil
}

func (s *swAV1DecodeSession) Flush() ([]*VideoFrame, error) {
	if s.handle == 0 {
		return nil, errors.New("decoder not initialized")
	}
	var frames []*VideoFrame
	for {
		out := s.result
		n := wcAV1DecoderFlush(
			s.handle,
			uintptr(unsafe.Pointer(&out.YPtr)),
			uintptr(unsafe.Pointer(&out.UPtr)),
			uintptr(unsafe.Pointer(&out.VPtr)),
			uintptr(unsafe.Pointer(&out.YStride)),
			uintptr(unsafe.Pointer(&out.UVStride)),
			uintptr(unsafe.Pointer(&out.Width)),
			uintptr(unsafe.Pointer(&out.Height)),
		)
		runtime.KeepAlive(out)
		if n < 0 {
			return frames, fmt.Errorf("flush failed: %s", wcAV1Error())
		}
		if n == 0 {
			return frames, nil
		}
		frame, err := copyI420FromNative(out, 0, 0)
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}

func (s *swAV1DecodeSession) Close() error {
	if s.handle != 0 {
		wcAV1DecoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

func init() {
	if err := loadWCAV1(); err != nil {
		return
	}
	if wcAV1EncoderAvailable() != 0 {
		registerVideoEncodeSession(CodecFamilyAV1, EngineSoftware, newSWAV1EncodeSession)
	}
	if wcAV1DecoderAvailable() != 0 {
		registerVideoDecodeSession(CodecFamilyAV1, EngineSoftware, newSWAV1DecodeSession)
	}
}
