package webcodecs

import (
	"errors"
	"testing"
)

func TestAudioSampleFormat(t *testing.T) {
	tests := []struct {
		format AudioSampleFormat
		str    string
		bps    int
		planar bool
	}{
		{AudioFormatS16, "s16", 2, false},
		{AudioFormatS16Planar, "s16-planar", 2, true},
		{AudioFormatF32, "f32", 4, false},
		{AudioFormatF32Planar, "f32-planar", 4, true},
		{AudioSampleFormat(99), "unknown", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.format.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
			if got := tt.format.BytesPerSample(); got != tt.bps {
				t.Errorf("BytesPerSample() = %d, want %d", got, tt.bps)
			}
			if got := tt.format.IsPlanar(); got != tt.planar {
				t.Errorf("IsPlanar() = %v, want %v", got, tt.planar)
			}
		})
	}
}

func TestNewAudioData(t *testing.T) {
	// Interleaved: one plane holding all channels.
	a, err := NewAudioData(AudioFormatS16, 48000, 960, 2)
	if err != nil {
		t.Fatalf("NewAudioData() error = %v", err)
	}
	if len(a.Data) != 1 {
		t.Fatalf("interleaved planes = %d, want 1", len(a.Data))
	}
	if len(a.Data[0]) != 960*2*2 {
		t.Errorf("plane size = %d, want %d", len(a.Data[0]), 960*2*2)
	}

	// Planar: one plane per channel.
	a, err = NewAudioData(AudioFormatF32Planar, 48000, 960, 2)
	if err != nil {
		t.Fatalf("NewAudioData(planar) error = %v", err)
	}
	if len(a.Data) != 2 {
		t.Fatalf("planar planes = %d, want 2", len(a.Data))
	}
	if len(a.Data[0]) != 960*4 {
		t.Errorf("plane size = %d, want %d", len(a.Data[0]), 960*4)
	}
	if size, err := a.AllocationSize(1); err != nil || size != 960*4 {
		t.Errorf("AllocationSize(1) = %d, %v, want 3840, nil", size, err)
	}

	if _, err := NewAudioData(AudioFormatS16, 0, 960, 2); err == nil {
		t.Error("zero sample rate: error = nil, want error")
	}
	if _, err := NewAudioData(AudioSampleFormat(99), 48000, 960, 2); err == nil {
		t.Error("bad format: error = nil, want error")
	}
}

func TestAudioData_CloneAndCopy(t *testing.T) {
	a, err := NewAudioData(AudioFormatS16, 48000, 480, 1)
	if err != nil {
		t.Fatalf("NewAudioData() error = %v", err)
	}
	a.Data[0][0] = 0x7F
	a.Timestamp = 20000

	clone, err := a.Clone()
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	if clone.Data[0][0] != 0x7F || clone.Timestamp != 20000 {
		t.Error("clone did not copy samples and metadata")
	}
	clone.Data[0][0] = 0x00
	if a.Data[0][0] != 0x7F {
		t.Error("clone shares sample storage with the original")
	}

	dst := make([]byte, len(a.Data[0]))
	if err := a.CopyTo(dst, 0); err != nil {
		t.Fatalf("CopyTo() error = %v", err)
	}
	if dst[0] != 0x7F {
		t.Error("CopyTo did not copy samples")
	}
	if err := a.CopyTo(make([]byte, 4), 0); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("small buffer: error = %v, want ErrBufferTooSmall", err)
	}
	if err := a.CopyTo(dst, 1); err == nil {
		t.Error("plane out of range: error = nil, want error")
	}

	a.Close()
	a.Close() // no-op
	if !a.Closed() {
		t.Error("Closed() = false after Close")
	}
	if _, err := a.Clone(); !errors.Is(err, ErrClosed) {
		t.Errorf("Clone() after Close: error = %v, want ErrClosed", err)
	}
	if err := a.CopyTo(dst, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("CopyTo() after Close: error = %v, want ErrClosed", err)
	}
}
