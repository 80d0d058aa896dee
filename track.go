package webcodecs

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// VideoTrack bridges encoder output into a WebRTC track. The track is a
// TrackLocalStaticSample; pion packetizes and paces the samples, so the
// encoder must emit Annex B for H.264/H.265 (BitstreamAnnexB).
type VideoTrack struct {
	track  *webrtc.TrackLocalStaticSample
	family CodecFamily
}

// NewVideoTrack creates a local WebRTC video track for the codec
// string's family.
func NewVideoTrack(codec, id, streamID string) (*VideoTrack, error) {
	info, err := ParseCodecString(codec)
	if err != nil {
		return nil, err
	}
	if !info.Family.IsVideo() {
		return nil, unsupportedf("%s is not a video codec", codec)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: info.Family.MimeType()},
		id, streamID,
	)
	if err != nil {
		return nil, err
	}
	return &VideoTrack{track: track, family: info.Family}, nil
}

// Track returns the underlying track for AddTrack on a PeerConnection.
func (t *VideoTrack) Track() *webrtc.TrackLocalStaticSample {
	return t.track
}

// WriteChunk writes one encoded chunk to the track.
func (t *VideoTrack) WriteChunk(chunk *EncodedVideoChunk) error {
	return t.track.WriteSample(media.Sample{
		Data:     chunk.Data,
		Duration: time.Duration(chunk.Duration) * time.Microsecond,
	})
}

// Output returns a callback suitable for VideoEncoderInit.Output that
// writes every chunk to the track. Write errors go to onErr; a nil
// onErr drops them, matching how sample tracks behave before a peer
// connection is established.
func (t *VideoTrack) Output(onErr func(error)) func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {
	return func(chunk *EncodedVideoChunk, _ *EncodedVideoChunkMetadata) {
		if err := t.WriteChunk(chunk); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// AudioTrack bridges audio encoder output into a WebRTC track.
type AudioTrack struct {
	track  *webrtc.TrackLocalStaticSample
	family CodecFamily
}

// NewAudioTrack creates a local WebRTC audio track for the codec
// string's family.
func NewAudioTrack(codec, id, streamID string) (*AudioTrack, error) {
	info, err := ParseCodecString(codec)
	if err != nil {
		return nil, err
	}
	if !info.Family.IsAudio() {
		return nil, unsupportedf("%s is not an audio codec", codec)
	}
	mime := info.Family.MimeType()
	// pion matches mime types case-sensitively for Opus.
	if info.Family == CodecFamilyOpus {
		mime = webrtc.MimeTypeOpus
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime, Channels: 2, ClockRate: 48000},
		id, streamID,
	)
	if err != nil {
		return nil, err
	}
	return &AudioTrack{track: track, family: info.Family}, nil
}

// Track returns the underlying track for AddTrack on a PeerConnection.
func (t *AudioTrack) Track() *webrtc.TrackLocalStaticSample {
	return t.track
}

// WriteChunk writes one encoded chunk to the track.
func (t *AudioTrack) WriteChunk(chunk *EncodedAudioChunk) error {
	return t.track.WriteSample(media.Sample{
		Data:     chunk.Data,
		Duration: time.Duration(chunk.Duration) * time.Microsecond,
	})
}

// Output returns a callback suitable for AudioEncoderInit.Output.
func (t *AudioTrack) Output(onErr func(error)) func(*EncodedAudioChunk, *EncodedAudioChunkMetadata) {
	return func(chunk *EncodedAudioChunk, _ *EncodedAudioChunkMetadata) {
		if err := t.WriteChunk(chunk); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// codecCapabilityFor maps a codec string to the RTP capability pion
// expects when registering codecs on a MediaEngine.
func codecCapabilityFor(codec string) (webrtc.RTPCodecCapability, error) {
	info, err := ParseCodecString(codec)
	if err != nil {
		return webrtc.RTPCodecCapability{}, err
	}
	cap := webrtc.RTPCodecCapability{MimeType: info.Family.MimeType(), ClockRate: 90000}
	switch info.Family {
	case CodecFamilyOpus:
		cap.MimeType = webrtc.MimeTypeOpus
		cap.ClockRate = 48000
		cap.Channels = 2
	case CodecFamilyH264:
		cap.SDPFmtpLine = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" +
			strings.TrimPrefix(strings.ToLower(codec), "avc1.")
	}
	return cap, nil
}
