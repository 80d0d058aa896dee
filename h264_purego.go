//go:build darwin || linux

// Software H.264 engine backed by libwebcodecs_h264 via purego.

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
	wcH264Once    sync.Once
	wcH264Handle  uintptr
	wcH264InitErr error
)

// libwebcodecs_h264 function pointers
var (
	wcH264EncoderCreate        func(width, height, fps, bitrateKbps, profile, threads int32) uint64
	wcH264EncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe, quantizer int32, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	wcH264EncoderMaxOutputSize func(encoder uint64) int32
	wcH264EncoderFlush         func(encoder uint64, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	wcH264EncoderDestroy       func(encoder uint64)

	wcH264DecoderCreate  func(threads int32) uint64
	wcH264DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	wcH264DecoderFlush   func(decoder uint64, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	wcH264DecoderDestroy func(decoder uint64)

	wcH264GetError         func() uintptr
	wcH264EncoderAvailable func() int32
	wcH264DecoderAvailable func() int32
)

// Constants from webcodecs_h264.h
const (
	wcH264ProfileBaseline = 66
	wcH264ProfileMain     = 77
	wcH264ProfileHigh     = 100

	wcH264FrameI   = 0
	wcH264FrameP   = 1
	wcH264FrameB   = 2
	wcH264FrameIDR = 3
)

func loadWCH264() error {
	wcH264Once.Do(func() {
		wcH264InitErr = loadWCH264Lib()
	})
	return wcH264InitErr
}

func loadWCH264Lib() error {
	var lastErr error
	for _, path := range nativeLibPaths("H264", "libwebcodecs_h264") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			wcH264Handle = handle
			loadWCH264Symbols()
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libwebcodecs_h264: %w", lastErr)
	}
	return errors.New("libwebcodecs_h264 not found in any standard location")
}

func loadWCH264Symbols() {
	purego.RegisterLibFunc(&wcH264EncoderCreate, wcH264Handle, "webcodecs_h264_encoder_create")
	purego.RegisterLibFunc(&wcH264EncoderEncode, wcH264Handle, "webcodecs_h264_encoder_encode")
	purego.RegisterLibFunc(&wcH264EncoderMaxOutputSize, wcH264Handle, "webcodecs_h264_encoder_max_output_size")
	purego.RegisterLibFunc(&wcH264EncoderFlush, wcH264Handle, "webcodecs_h264_encoder_flush")
	purego.RegisterLibFunc(&wcH264EncoderDestroy, wcH264Handle, "webcodecs_h264_encoder_destroy")

	purego.RegisterLibFunc(&wcH264DecoderCreate, wcH264Handle, "webcodecs_h264_decoder_create")
	purego.RegisterLibFunc(&wcH264DecoderDecode, wcH264Handle, "webcodecs_h264_decoder_decode")
	purego.RegisterLibFunc(&wcH264DecoderFlush, wcH264Handle, "webcodecs_h264_decoder_flush")
	purego.RegisterLibFunc(&wcH264DecoderDestroy, wcH264Handle, "webcodecs_h264_decoder_destroy")

	purego.RegisterLibFunc(&wcH264GetError, wcH264Handle, "webcodecs_h264_get_error")
	purego.RegisterLibFunc(&wcH264EncoderAvailable, wcH264Handle, "webcodecs_h264_encoder_available")
	purego.RegisterLibFunc(&wcH264DecoderAvailable, wcH264Handle, "webcodecs_h264_decoder_available")
}

func wcH264Error() string {
	ptr := wcH264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// avcProfileForIDC maps a codec-string profile_idc to the profiles the
// support library accepts.
func avcProfileForIDC(idc int) int32 {
	switch idc {
	case wcH264ProfileMain:
		return wcH264ProfileMain
	case wcH264ProfileHigh:
		return wcH264ProfileHigh
	default:
		return wcH264ProfileBaseline
	}
}

// swH264EncodeSession is the software H.264 encode session. Output is
// Annex B with in-band SPS/PPS on IDR frames.
type swH264EncodeSession struct {
	handle    uint64
	outputBuf []byte
	frameDur  int64
}

func newSWH264EncodeSession(config VideoEncoderConfig) (videoEncodeSession, error) {
	if err := loadWCH264(); err != nil {
		return nil, fmt.Errorf("H.264 encoder not available: %w", err)
	}
	if wcH264EncoderAvailable() == 0 {
		return nil, errors.New("H.264 encoder not available in libwebcodecs_h264")
	}

	info, err := ParseCodecString(config.Codec)
	if err != nil {
		return nil, err
	}

	handle := wcH264EncoderCreate(
		int32(config.Width),
		int32(config.Height),
		int32(config.Framerate),
		int32(config.Bitrate/1000),
		avcProfileForIDC(info.Profile),
		int32(runtime.NumCPU()),
	)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create H.264 encoder: %s", wcH264Error())
	}

	maxOutput := wcH264EncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}
	return &swH264EncodeSession{
		handle:    handle,
		outputBuf: make([]byte, maxOutput),
		frameDur:  int64(1e6 / config.Framerate),
	}, nil
}

func (s *swH264EncodeSession) Encode(frame *VideoFrame, opts VideoEncodeOptions) ([]*EncodedVideoChunk, error) {
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

	var frameType int32
	var pts int64
	n := wcH264EncoderEncode(
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
		uintptr(unsafe.Pointer(&frameType)),
		uintptr(unsafe.Pointer(&pts)),
	)
	runtime.KeepAlive(src)
	if n < 0 {
		return nil, fmt.Errorf("encode failed: %s", wcH264Error())
	}
	if n == 0 {
		return nil, nil // encoder buffering
	}
	return []*EncodedVideoChunk{s.chunk(n, frameType, frame.Timestamp, frame.Duration)}, nil
}

func (s *swH264EncodeSession) chunk(n, frameType int32, timestamp, duration int64) *EncodedVideoChunk {
	data := make([]byte, n)
	copy(data, s.outputBuf[:n])
	t := ChunkTypeDelta
	if frameType == wcH264FrameIDR || frameType == wcH264FrameI {
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

func (s *swH264EncodeSession) Flush() ([]*EncodedVideoChunk, error) {
	if s.handle == 0 {
		return nil, errors.New("encoder not initialized")
	}
	var chunks []*EncodedVideoChunk
	for {
		var frameType int32
		var pts int64
		n := wcH264EncoderFlush(
			s.handle,
			uintptr(unsafe.Pointer(&s.outputBuf[0])),
			int32(len(s.outputBuf)),
			uintptr(unsafe.Pointer(&frameType)),
			uintptr(unsafe.Pointer(&pts)),
		)
		if n < 0 {
			return chunks, fmt.Errorf("flush failed: %s", wcH264Error())
		}
		if n == 0 {
			return chunks, nil
		}
		chunks = append(chunks, s.chunk(n, frameType, pts, 0))
	}
}

func (s *swH264EncodeSession) Close() error {
	if s.handle != 0 {
		wcH264EncoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

// swH264DecodeSession is the software H.264 decode session. Input is
// Annex B.
type swH264DecodeSession struct {
	handle uint64

	// Heap-allocated, see wcDecodeResult.
	result *wcDecodeResult
}

func newSWH264DecodeSession(config VideoDecoderConfig) (videoDecodeSession, error) {
	if err := loadWCH264(); err != nil {
		return nil, fmt.Errorf("H.264 decoder not available: %w", err)
	}
	if wcH264DecoderAvailable() == 0 {
		return nil, errors.New("H.264 decoder not available in libwebcodecs_h264")
	}
	handle := wcH264DecoderCreate(int32(runtime.NumCPU()))
	if handle == 0 {
		return nil, fmt.Errorf("failed to create H.264 decoder: %s", wcH264Error())
	}
	return &swH264DecodeSession{
		handle: handle,
		result: &wcDecodeResult{},
	}, nil
}

func (s *swH264DecodeSession) Decode(chunk *EncodedVideoChunk) ([]*VideoFrame, error) {
	if s.handle == 0 {
		return nil, errors.New("decoder not initialized")
	}
	if len(chunk.Data) == 0 {
		return nil, errors.New("empty encoded data")
	}

	out := s.result
	n := wcH264DecoderDecode(
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
		return nil, fmt.Errorf("decode failed: %s", wcH264Error())
	}
	if n == 0 {
		return nil, nil // decoder buffering
	}
	frame, err := s.copyOut(chunk.Timestamp, chunk.Duration)
	if err != nil {
		return nil, err
	}
	return []*VideoFrame{frame}, nil
}

func (s *swH264DecodeSession) copyOut(timestamp, duration int64) (*VideoFrame, error) {
	return copyI420FromNative(s.result, timestamp, duration)
}

func (s *swH264DecodeSession) Flush() ([]*VideoFrame, error) {
	if s.handle == 0 {
		return nil, errors.New("decoder not initialized")
	}
	var frames []*VideoFrame
	for {
		out := s.result
		n := wcH264DecoderFlush(
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
			return frames, fmt.Errorf("flush failed: %s", wcH264Error())
		}
		if n == 0 {
			return frames, nil
		}
		frame, err := s.copyOut(0, 0)
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}

func (s *swH264DecodeSession) Close() error {
	if s.handle != 0 {
		wcH264DecoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

func init() {
	if err := loadWCH264(); err != nil {
		return
	}
	if wcH264EncoderAvailable() != 0 {
		registerVideoEncodeSession(CodecFamilyH264, EngineSoftware, newSWH264EncodeSession)
	}
	if wcH264DecoderAvailable() != 0 {
		registerVideoDecodeSession(CodecFamilyH264, EngineSoftware, newSWH264DecodeSession)
	}
}
