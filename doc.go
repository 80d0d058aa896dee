// Package webcodecs provides a WebCodecs-style encode/decode engine in Go:
// codec-string parsing, H.264/H.265 bitstream and configuration-record
// handling, raw frame buffers, and callback-driven encoder/decoder
// pipelines dispatched over software and hardware engines.
//
// Key pieces include:
//   - ParseCodecString for avc1/avc3, hvc1/hev1, vp8, vp09, av01, mp4a, opus, flac
//   - Annex B scanning, SPS/PPS/VPS parsing, and Annex B <-> length-prefixed conversion
//   - avcC/hvcC decoder configuration record building and parsing
//   - VideoFrame/AudioData buffers with clone, close, and copy semantics
//   - VideoEncoder/VideoDecoder/AudioEncoder/AudioDecoder pipelines with
//     ordered output, flush, and reset
//   - Engine capability reporting and hardware engine selection
//
// # Architecture
//
//	Encode: VideoFrame -> VideoEncoder -> EncodedVideoChunk (+ decoder config on keyframes)
//	Decode: EncodedVideoChunk -> VideoDecoder -> VideoFrame callback
//	Chunks feed MP4Writer (mp4ff), RTP packetizers (pion/rtp), or WebRTC tracks.
//
// # Native Libraries
//
// The software engine loads libwebcodecs_* support libraries via purego
// (CGO_ENABLED=0). Set WEBCODECS_SDK_LIB_PATH to the directory containing
// them. Hardware engines (VideoToolbox, NVENC, VPL, AMF) are probed at
// startup; Capabilities reports what the current host can do.
//
// # Supported Codecs
//
// Video: H.264, H.265, VP8, VP9, AV1 (codec strings always parse; coding
// availability depends on engines present at runtime).
// Audio: Opus (software), AAC and FLAC strings are recognized.
package webcodecs
