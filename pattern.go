package webcodecs

import "math"

// PatternType selects a synthetic test pattern.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // horizontal gradient
	PatternCheckerboard                    // checkerboard
	PatternSolidColor                      // solid color
	PatternMovingBox                       // white box circling a black field
)

// TestPatternConfig configures a test pattern generator.
type TestPatternConfig struct {
	Width   int // default 1280
	Height  int // default 720
	Fps     int // default 30
	Pattern PatternType

	// SolidColor pattern
	SolidR, SolidG, SolidB uint8

	// Checkerboard square size, default 32
	CheckerSize int
}

// TestPatternSource generates synthetic I420 frames. It is the standard
// input for examples and encoder tests: no capture device or file is
// needed, and the moving-box pattern gives encoders real motion to
// work with.
//
// Frames returned by NextFrame share the generator's buffer; Clone a
// frame to keep it past the next call. VideoEncoder.Encode copies its
// input, so feeding frames straight into an encoder is safe.
type TestPatternSource struct {
	config   TestPatternConfig
	frame    *VideoFrame
	frameDur int64
	count    uint64
}

// NewTestPatternSource creates a test pattern generator.
func NewTestPatternSource(config TestPatternConfig) (*TestPatternSource, error) {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.Fps <= 0 {
		config.Fps = 30
	}
	if config.CheckerSize <= 0 {
		config.CheckerSize = 32
	}
	frame, err := NewVideoFrame(PixelFormatI420, config.Width, config.Height)
	if err != nil {
		return nil, err
	}
	return &TestPatternSource{
		config:   config,
		frame:    frame,
		frameDur: int64(1e6) / int64(config.Fps),
	}, nil
}

// NextFrame renders the next frame. Timestamps advance by the frame
// duration starting at zero.
func (s *TestPatternSource) NextFrame() *VideoFrame {
	switch s.config.Pattern {
	case PatternGradient:
		s.renderGradient()
	case PatternCheckerboard:
		s.renderCheckerboard()
	case PatternSolidColor:
		s.renderSolid(s.config.SolidR, s.config.SolidG, s.config.SolidB)
	case PatternMovingBox:
		s.renderMovingBox(s.count)
	default:
		s.renderColorBars()
	}
	s.frame.Timestamp = int64(s.count) * s.frameDur
	s.frame.Duration = s.frameDur
	s.count++
	return s.frame
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192}, // white (75%)
	{192, 192, 0},   // yellow
	{0, 192, 192},   // cyan
	{0, 192, 0},     // green
	{192, 0, 192},   // magenta
	{192, 0, 0},     // red
	{0, 0, 192},     // blue
	{16, 16, 16},    // black
}

func (s *TestPatternSource) renderColorBars() {
	w, h := s.config.Width, s.config.Height
	barWidth := w / 8
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			barIdx := x / barWidth
			if barIdx >= 8 {
				barIdx = 7
			}
			rgb := colorBarsRGB[barIdx]
			yVal, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
			s.setPixel(x, y, yVal, u, v)
		}
	}
}

func (s *TestPatternSource) renderGradient() {
	w, h := s.config.Width, s.config.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s.setPixel(x, y, uint8((x*255)/w), 128, 128)
		}
	}
}

func (s *TestPatternSource) renderCheckerboard() {
	w, h := s.config.Width, s.config.Height
	size := s.config.CheckerSize
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yVal := uint8(16)
			if ((x/size)+(y/size))%2 == 0 {
				yVal = 235
			}
			s.setPixel(x, y, yVal, 128, 128)
		}
	}
}

func (s *TestPatternSource) renderSolid(r, g, b uint8) {
	yVal, u, v := rgbToYUV(r, g, b)
	fill(s.frame.Data[0], yVal)
	fill(s.frame.Data[1], u)
	fill(s.frame.Data[2], v)
}

func (s *TestPatternSource) renderMovingBox(frameNum uint64) {
	w, h := s.config.Width, s.config.Height
	fill(s.frame.Data[0], 16)
	fill(s.frame.Data[1], 128)
	fill(s.frame.Data[2], 128)

	boxSize := 100
	radius := float64(minInt(w, h)) / 4
	angle := float64(frameNum) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := boxY; y < boxY+boxSize && y < h; y++ {
		if y < 0 {
			continue
		}
		for x := boxX; x < boxX+boxSize && x < w; x++ {
			if x < 0 {
				continue
			}
			s.frame.Data[0][y*s.frame.Stride[0]+x] = 235
		}
	}
}

// setPixel writes a pixel into the I420 planes, subsampling chroma 2x2.
func (s *TestPatternSource) setPixel(x, y int, yVal, u, v uint8) {
	f := s.frame
	f.Data[0][y*f.Stride[0]+x] = yVal
	if x%2 == 0 && y%2 == 0 {
		uvIdx := (y/2)*f.Stride[1] + x/2
		f.Data[1][uvIdx] = u
		f.Data[2][uvIdx] = v
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// rgbToYUV converts RGB to limited-range YUV (BT.601).
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0
	y = uint8(clampF(yf, 16, 235))
	u = uint8(clampF(uf, 16, 240))
	v = uint8(clampF(vf, 16, 240))
	return
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
