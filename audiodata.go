package webcodecs

import "fmt"

// AudioSampleFormat represents audio sample formats.
type AudioSampleFormat int

const (
	AudioFormatS16 AudioSampleFormat = iota // Signed 16-bit PCM, interleaved
	AudioFormatS16Planar
	AudioFormatF32 // 32-bit float, interleaved
	AudioFormatF32Planar
)

func (a AudioSampleFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "s16"
	case AudioFormatS16Planar:
		return "s16-planar"
	case AudioFormatF32:
		return "f32"
	case AudioFormatF32Planar:
		return "f32-planar"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioSampleFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16, AudioFormatS16Planar:
		return 2
	case AudioFormatF32, AudioFormatF32Planar:
		return 4
	default:
		return 0
	}
}

// IsPlanar reports whether each channel lives in its own plane.
func (a AudioSampleFormat) IsPlanar() bool {
	return a == AudioFormatS16Planar || a == AudioFormatF32Planar
}

// AudioData represents a buffer of raw audio samples.
//
// Interleaved formats use a single plane; planar formats use one plane
// per channel. Close releases the planes; operating on closed data
// returns ErrClosed.
type AudioData struct {
	Format         AudioSampleFormat
	SampleRate     int
	NumberOfFrames int
	Channels       int
	Timestamp      int64 // microseconds

	Data [][]byte

	closed bool
}

// NewAudioData allocates zeroed audio data.
func NewAudioData(format AudioSampleFormat, sampleRate, frames, channels int) (*AudioData, error) {
	if sampleRate <= 0 || frames <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid audio data %d Hz, %d frames, %d channels", sampleRate, frames, channels)
	}
	a := &AudioData{
		Format:         format,
		SampleRate:     sampleRate,
		NumberOfFrames: frames,
		Channels:       channels,
	}
	bps := format.BytesPerSample()
	if bps == 0 {
		return nil, fmt.Errorf("invalid audio sample format %v", format)
	}
	if format.IsPlanar() {
		a.Data = make([][]byte, channels)
		for i := range a.Data {
			a.Data[i] = make([]byte, frames*bps)
		}
	} else {
		a.Data = [][]byte{make([]byte, frames*channels*bps)}
	}
	return a, nil
}

// AllocationSize returns the byte size of plane i.
func (a *AudioData) AllocationSize(plane int) (int, error) {
	if a.closed {
		return 0, fmt.Errorf("audio data allocation size: %w", ErrClosed)
	}
	if plane < 0 || plane >= len(a.Data) {
		return 0, fmt.Errorf("audio plane %d out of range", plane)
	}
	return len(a.Data[plane]), nil
}

// Closed reports whether Close has been called.
func (a *AudioData) Closed() bool {
	return a.closed
}

// Close releases the sample planes. Closing twice is a no-op.
func (a *AudioData) Close() {
	a.Data = nil
	a.closed = true
}

// Clone creates a deep copy. Cloning closed data returns ErrClosed.
func (a *AudioData) Clone() (*AudioData, error) {
	if a.closed {
		return nil, fmt.Errorf("clone audio data: %w", ErrClosed)
	}
	clone := *a
	clone.Data = make([][]byte, len(a.Data))
	for i, plane := range a.Data {
		clone.Data[i] = make([]byte, len(plane))
		copy(clone.Data[i], plane)
	}
	return &clone, nil
}

// CopyTo copies plane i into dst.
func (a *AudioData) CopyTo(dst []byte, plane int) error {
	if a.closed {
		return fmt.Errorf("copy audio data: %w", ErrClosed)
	}
	if plane < 0 || plane >= len(a.Data) {
		return fmt.Errorf("audio plane %d out of range", plane)
	}
	if len(dst) < len(a.Data[plane]) {
		return fmt.Errorf("copy audio data: %w: need %d bytes, have %d", ErrBufferTooSmall, len(a.Data[plane]), len(dst))
	}
	copy(dst, a.Data[plane])
	return nil
}
