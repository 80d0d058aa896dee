//go:build darwin || linux

// Software VP8/VP9 engine backed by libwebcodecs_vpx via purego.
//
// libwebcodecs_vpx is a thin wrapper around libvpx with a
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
	wcVPXOnce    sync.Once
	wcVPXHandle  uintptr
	wcVPXInitErr error
)

// libwebcodecs_vpx function pointers. The codec argument selects VP8
// (8) or VP9 (9).
var (
	wcVPXEncoderCreate        func(codec, width, height, fps, bitrateKbps, threads int32) uint64
	wcVPXEncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe, quantizer int32, outData uintptr, outCapacity int32, outKeyframe, outPts uintptr) int32
	wcVPXEncoderMaxOutputSize func(encoder uint64) int32
	wcVPXEncoderDestroy       func(encoder uint64)

	wcVPXDecoderCreate  func(codec, threads int32) uint64
	wcVPXDecoderDecode  func(decoder uint64, data uintptr, dataLen int32, outY, outU, outV, outYStride, outUVStride, outWidth, outHeight uintptr) int32
	wcVPXDecoderDestroy func(decoder uint64)

	wcVPXGetError func() uintptr
)

const (
	wcVPXCodecVP8 = 8
	wcVPXCodecVP9 = 9
)

func loadWCVPX() error {
	wcVPXOnce.Do(func() {
		wcVPXInitErr = loadWCVPXLib()
	})
	return wcVPXInitErr
}

func loadWCVPXLib() error {
	var lastErr error
	for _, path := range nativeLibPaths("VPX", "libwebcodecs_vpx") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			wcVPXHandle = handle
			loadWCVPXSymbols()
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libwebcodecs_vpx: %w", lastErr)
	}
	return errors.New("libwebcodecs_vpx not found in any standard location")
}

func loadWCVPXSymbols() {
	purego.RegisterLibFunc(&wcVPXEncoderCreate, wcVPXHandle, "webcodecs_vpx_encoder_create")
	purego.RegisterLibFunc(&wcVPXEncoderEncode, wcVPXHandle, "webcodecs_vpx_encoder_encode")
	purego.RegisterLibFunc(&wcVPXEncoderMaxOutputSize, wcVPXHandle, "webcodecs_vpx_encoder_max_output_size")
	purego.RegisterLibFunc(&wcVPXEncoderDestroy, wcVPXHandle, "webcodecs_vpx_encoder_destroy")

	purego.RegisterLibFunc(&wcVPXDecoderCreate, wcVPXHandle, "webcodecs_vpx_decoder_create")
	purego.RegisterLibFunc(&wcVPXDecoderDecode, wcVPXHandle, "webcodecs_vpx_decoder_decode")
	purego.RegisterLibFunc(&wcVPXDecoderDestroy, wcVPXHandle, "webcodecs_vpx_decoder_destroy")

	purego.RegisterLibFunc(&wcVPXGetError, wcVPXHandle, "webcodecs_vpx_get_error")
}

func wcVPXError() string {
	ptr := wcVPXGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

func vpxCodecID(family CodecFamily) int32 {
	if family == CodecFamilyVP9 {
		return wcVPXCodecVP9
	}
	return wcVPXCodecVP8
}

// swVPXEncodeSession is the software VP8/VP9 encode session. Output is
// raw VP8/VP9 frames; every libvpx packet stands alone, so no reframing
// happens downstream.
type swVPXEncodeSession struct {
	handle    uint64
	outputBuf []byte
	frameDur  int64
}

func newSWVPXEncodeSession(family CodecFamily) videoEncodeFactory {
	return func(config VideoEncoderConfig) (videoEncodeSession, error) {
		if err := loadWCVPX(); err != nil {
			return nil, fmt.Errorf("%s encoder not available: %w", family, err)
		}
		handle := wcVPXEncoderCreate(
			vpxCodecID(family),
			int32(config.Width),
			int32(config.Height),
			int32(config.Framerate),
			int32(config.Bitrate/1000),
			int32(runtime.NumCPU()),
		)
		if handle == 0 {
			return nil, fmt.Errorf("failed to create %s encoder: %s", family, wcVPXError())
		}
		maxOutput := wcVPXEncoderMaxOutputSize(handle)
		if maxOutput <= 0 {
			maxOutput = int32(config.Width * config.Height * 3 / 2)
		}
		return &swVPXEncodeSession{
			handle:    handle,
			outputBuf: make([]byte, maxOutput),
			frameDur:  int64(1e6 / config.Framerate),
		}, nil
	}
}

func (s *swVPXEncodeSession) Encode(frame *VideoFrame, opts VideoEncodeOptions) ([]*EncodedVideoChunk, error) {
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
	n := wcVPXEncoderEncode(
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
		return nil, fmt.Errorf("encode failed: %s", wcVPXError())
	}
	if n == 0 {
		return nil, nil
	}

	data := make([]byte, n)
	copy(data, s.outputBuf[:n])
	t := ChunkTypeDelta
	if keyframe != 0 {
		t = ChunkTypeKey
	}
	duration := frame.Duration
	if duration == 0 {
		duration = s.frameDur
	}
	return []*EncodedVideoChunk{{
		Type:      t,
		Timestamp: frame.Timestamp,
		Duration:  duration,
		Data:      data,
	}}, nil
}

func (s *swVPXEncodeSession) Flush() ([]*EncodedVideoChunk, error) {
	// libvpx in realtime mode emits one packet per frame; nothing is
	// held back.
	return nil, nil
}

func (s *swVPXEncodeSession) Close() error {
	if s.handle != 0 {
		wcVPXEncoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

// swVPXDecodeSession is the software VP8/VP9 decode session.
type swVPXDecodeSession struct {
	handle uint64
	result *wcDecodeResult // same output-parameter layout
}

func newSWVPXDecodeSession(family CodecFamily) videoDecodeFactory {
	return func(config VideoDecoderConfig) (videoDecodeSession, error) {
		if err := loadWCVPX(); err != nil {
			return nil, fmt.Errorf("%s decoder not available: %w", family, err)
		}
		handle := wcVPXDecoderCreate(vpxCodecID(family), int32(runtime.NumCPU()))
		if handle == 0 {
			return nil, fmt.Errorf("failed to create %s decoder: %s", family, wcVPXError())
		}
		return &swVPXDecodeSession{
			handle: handle,
			result: &wcDecodeResult{},
		}, nil
	}
}

func (s *swVPXDecodeSession) Decode(chunk *EncodedVideoChunk) ([]*VideoFrame, error) {
	if s.handle == 0 {
		return nil, errors.New("decoder not initialized")
	}
	if len(chunk.Data) == 0 {
		return nil, errors.New("empty encoded data")
	}
	out := s.result
	n := wcVPXDecoderDecode(
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
		return nil, fmt.Errorf("decode failed: %s", wcVPXError())
	}
	if n == 0 {
		return nil, nil
	}
	frame, err := copyI420FromNative(out, chunk.Timestamp, chunk.Duration)
	if err != nil {
		return nil, err
	}
	return []*VideoFrame{frame}, nil
}

func (s *swVPXDecodeSession) Flush() ([]*VideoFrame, error) {
	// VP8/VP9 decoding holds no frames back.
	return nil, nil
}

func (s *swVPXDecodeSession) Close() error {
	if s.handle != 0 {
		wcVPXDecoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

// copyI420FromNative copies decoder-owned planes into a new I420 frame.
func copyI420FromNative(out *wcDecodeResult, timestamp, duration int64) (*VideoFrame, error) {
	if out.YStride <= 0 || out.UVStride <= 0 || out.Width <= 0 || out.Height <= 0 || out.YPtr == 0 {
		return nil, fmt.Errorf("invalid decoder output: stride=%d/%d, size=%dx%d",
			out.YStride, out.UVStride, out.Width, out.Height)
	}
	w := int(out.Width)
	h := int(out.Height)
	frame, err := NewVideoFrame(PixelFormatI420, w, h)
	if err != nil {
		return nil, err
	}
	frame.Timestamp = timestamp
	frame.Duration = duration

	uvW := (w + 1) / 2
	uvH := (h + 1) / 2
	for row := 0; row < h; row++ {
		line := unsafe.Slice((*byte)(unsafe.Pointer(out.YPtr+uintptr(row*int(out.YStride)))), w)
		copy(frame.Data[0][row*frame.Stride[0]:], line)
	}
	for row := 0; row < uvH; row++ {
		line := unsafe.Slice((*byte)(unsafe.Pointer(out.UPtr+uintptr(row*int(out.UVStride)))), uvW)
		copy(frame.Data[1][row*frame.Stride[1]:], line)
	}
	for row := 0; row < uvH; row++ {
		line := unsafe.Slice((*byte)(unsafe.Pointer(out.VPtr+uintptr(row*int(out.UVStride)))), uvW)
		copy(frame.Data[2][row*frame.Stride[2]:], line)
	}
	return frame, nil
}

func init() {
	if err := loadWCVPX(); err != nil {
		return
	}
	for _, family := range []CodecFamily{CodecFamilyVP8, CodecFamilyVP9} {
		registerVideoEncodeSession(family, EngineSoftware, newSWVPXEncodeSession(family))
		registerVideoDecodeSession(family, EngineSoftware, newSWVPXDecodeSession(family))
	}
}
