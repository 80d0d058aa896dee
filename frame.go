// Core frame and sample types used across the webcodecs package.
package webcodecs

import "fmt"

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatI422                    // YUV 4:2:2 planar
	PixelFormatI444                    // YUV 4:4:4 planar
	PixelFormatNV12                    // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24                   // Packed RGB, 3 bytes per pixel
	PixelFormatBGR24                   // Packed BGR, 3 bytes per pixel
	PixelFormatRGBA32                  // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                  // Packed BGRA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatI422:
		return "I422"
	case PixelFormatI444:
		return "I444"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatBGR24:
		return "BGR24"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420, PixelFormatI422, PixelFormatI444:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGB24, PixelFormatBGR24, PixelFormatRGBA32, PixelFormatBGRA32:
		return 1 // Packed
	default:
		return 0
	}
}

// AllocationSize returns the number of bytes a tightly packed frame of
// this format needs at the given coded size.
func (p PixelFormat) AllocationSize(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	switch p {
	case PixelFormatI420, PixelFormatNV12:
		return width * height * 3 / 2
	case PixelFormatI422:
		return width * height * 2
	case PixelFormatI444, PixelFormatRGB24, PixelFormatBGR24:
		return width * height * 3
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return width * height * 4
	default:
		return 0
	}
}

// planeDims returns the width and height of plane i at the given coded
// size. Chroma dimensions round up for odd coded sizes.
func (p PixelFormat) planeDims(i, width, height int) (int, int) {
	switch p {
	case PixelFormatI420:
		if i == 0 {
			return width, height
		}
		return (width + 1) / 2, (height + 1) / 2
	case PixelFormatI422:
		if i == 0 {
			return width, height
		}
		return (width + 1) / 2, height
	case PixelFormatI444:
		return width, height
	case PixelFormatNV12:
		if i == 0 {
			return width, height
		}
		return width, (height + 1) / 2 // interleaved UV, stride covers both
	case PixelFormatRGB24, PixelFormatBGR24:
		return width * 3, height
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return width * 4, height
	default:
		return 0, 0
	}
}

// Rect is a rectangle in pixels.
type Rect struct {
	X, Y          int
	Width, Height int
}

// VideoColorSpace describes the color interpretation of a frame.
type VideoColorSpace struct {
	Primaries string // e.g. "bt709", "bt470bg", "smpte170m"
	Transfer  string // e.g. "bt709", "srgb", "iec61966-2-1"
	Matrix    string // e.g. "bt709", "smpte170m", "rgb"
	FullRange bool
}

// PlaneLayout describes where one plane lives inside a destination
// buffer when copying frame data out.
type PlaneLayout struct {
	Offset int
	Stride int
}

// CopyToOptions controls VideoFrame.CopyTo.
type CopyToOptions struct {
	// Rect selects the source region in coded coordinates. Zero value
	// means the frame's visible rectangle.
	Rect Rect

	// Layout gives explicit destination offsets and strides per plane.
	// When empty, planes are packed tightly in order.
	Layout []PlaneLayout
}

// VideoFrame represents a raw video frame.
//
// A frame owns its plane data. Close releases the planes and marks the
// frame closed; operating on a closed frame returns ErrClosed. Clone
// produces an independent deep copy.
//
// A frame may instead wrap an opaque platform buffer (a GPU surface or
// driver-owned buffer) identified by Handle. Opaque frames carry no
// plane data; Clone, AllocationSize and CopyTo return
// ErrUnsupportedOperation on them.
type VideoFrame struct {
	Data   [][]byte    // Plane data (1-3 planes depending on format)
	Stride []int       // Stride for each plane in bytes
	Format PixelFormat // Pixel format

	// Handle is the platform buffer handle of an opaque frame. Zero for
	// ordinary frames with accessible planes.
	Handle uintptr

	CodedWidth  int
	CodedHeight int

	// VisibleRect is the region of the coded frame intended for display.
	// The zero value means the full coded rectangle.
	VisibleRect Rect

	// DisplayWidth/DisplayHeight are the intended display size after
	// rotation. Zero means the visible size (swapped for 90/270).
	DisplayWidth  int
	DisplayHeight int

	// Rotation is the clockwise display rotation in degrees (0, 90, 180
	// or 270). Flip mirrors horizontally after rotation.
	Rotation int
	Flip     bool

	ColorSpace VideoColorSpace

	Timestamp int64 // Presentation timestamp in microseconds
	Duration  int64 // Frame duration in microseconds (optional)

	closed bool
}

// NewVideoFrame allocates a tightly packed frame of the given format
// and coded size.
func NewVideoFrame(format PixelFormat, width, height int) (*VideoFrame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	planes := format.PlaneCount()
	if planes == 0 {
		return nil, fmt.Errorf("invalid pixel format %v", format)
	}
	f := &VideoFrame{
		Data:        make([][]byte, planes),
		Stride:      make([]int, planes),
		Format:      format,
		CodedWidth:  width,
		CodedHeight: height,
	}
	for i := 0; i < planes; i++ {
		w, h := format.planeDims(i, width, height)
		f.Data[i] = make([]byte, w*h)
		f.Stride[i] = w
	}
	return f, nil
}

// NewVideoFrameFromHandle wraps an opaque platform buffer handle in a
// frame. The frame has no accessible planes; pixel-access operations on
// it return ErrUnsupportedOperation.
func NewVideoFrameFromHandle(handle uintptr, format PixelFormat, width, height int) (*VideoFrame, error) {
	if handle == 0 {
		return nil, fmt.Errorf("video frame: zero buffer handle")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	return &VideoFrame{
		Handle:      handle,
		Format:      format,
		CodedWidth:  width,
		CodedHeight: height,
	}, nil
}

// Opaque reports whether the frame wraps a platform buffer handle
// instead of accessible plane data.
func (f *VideoFrame) Opaque() bool {
	return f.Handle != 0
}

// Closed reports whether Close has been called.
func (f *VideoFrame) Closed() bool {
	return f.closed
}

// Close releases the frame's planes. Closing twice is a no-op.
func (f *VideoFrame) Close() {
	f.Data = nil
	f.Stride = nil
	f.Handle = 0
	f.closed = true
}

// visibleOrDefault returns the visible rectangle, defaulting to the
// full coded rectangle.
func (f *VideoFrame) visibleOrDefault() Rect {
	if f.VisibleRect == (Rect{}) {
		return Rect{Width: f.CodedWidth, Height: f.CodedHeight}
	}
	return f.VisibleRect
}

// DisplaySize returns the display dimensions, accounting for rotation.
func (f *VideoFrame) DisplaySize() (int, int) {
	w, h := f.DisplayWidth, f.DisplayHeight
	if w == 0 || h == 0 {
		vis := f.visibleOrDefault()
		w, h = vis.Width, vis.Height
	}
	if f.Rotation == 90 || f.Rotation == 270 {
		return h, w
	}
	return w, h
}

// Clone creates a deep copy of the video frame. Cloning a closed frame
// returns ErrClosed.
func (f *VideoFrame) Clone() (*VideoFrame, error) {
	if f.closed {
		return nil, fmt.Errorf("clone video frame: %w", ErrClosed)
	}
	if f.Opaque() {
		return nil, fmt.Errorf("clone video frame: %w", ErrUnsupportedOperation)
	}
	clone := *f
	clone.Data = make([][]byte, len(f.Data))
	clone.Stride = make([]int, len(f.Stride))
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return &clone, nil
}

// AllocationSize returns the number of bytes CopyTo would write for the
// given options.
func (f *VideoFrame) AllocationSize(opts CopyToOptions) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("video frame allocation size: %w", ErrClosed)
	}
	if f.Opaque() {
		return 0, fmt.Errorf("video frame allocation size: %w", ErrUnsupportedOperation)
	}
	rect := opts.Rect
	if rect == (Rect{}) {
		rect = f.visibleOrDefault()
	}
	if err := f.checkRect(rect); err != nil {
		return 0, err
	}
	if len(opts.Layout) > 0 {
		if len(opts.Layout) != f.Format.PlaneCount() {
			return 0, fmt.Errorf("layout has %d planes, format %v has %d", len(opts.Layout), f.Format, f.Format.PlaneCount())
		}
		max := 0
		for i, l := range opts.Layout {
			_, h := f.Format.planeDims(i, rect.Width, rect.Height)
			end := l.Offset + l.Stride*h
			if end > max {
				max = end
			}
		}
		return max, nil
	}
	return f.Format.AllocationSize(rect.Width, rect.Height), nil
}

func (f *VideoFrame) checkRect(r Rect) error {
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 ||
		r.X+r.Width > f.CodedWidth || r.Y+r.Height > f.CodedHeight {
		return fmt.Errorf("rect %+v outside coded size %dx%d", r, f.CodedWidth, f.CodedHeight)
	}
	return nil
}

// CopyTo copies the selected region into dst, plane by plane. With no
// explicit layout, planes are packed tightly in order. Returns the
// layouts actually used.
func (f *VideoFrame) CopyTo(dst []byte, opts CopyToOptions) ([]PlaneLayout, error) {
	if f.closed {
		return nil, fmt.Errorf("video frame copy: %w", ErrClosed)
	}
	if f.Opaque() {
		return nil, fmt.Errorf("video frame copy: %w", ErrUnsupportedOperation)
	}
	rect := opts.Rect
	if rect == (Rect{}) {
		rect = f.visibleOrDefault()
	}
	if err := f.checkRect(rect); err != nil {
		return nil, err
	}
	need, err := f.AllocationSize(opts)
	if err != nil {
		return nil, err
	}
	if len(dst) < need {
		return nil, fmt.Errorf("copy video frame: %w: need %d bytes, have %d", ErrBufferTooSmall, need, len(dst))
	}

	planes := f.Format.PlaneCount()
	layouts := make([]PlaneLayout, planes)
	offset := 0
	for i := 0; i < planes; i++ {
		rowBytes, rows := f.Format.planeDims(i, rect.Width, rect.Height)
		layout := PlaneLayout{Offset: offset, Stride: rowBytes}
		if len(opts.Layout) > 0 {
			layout = opts.Layout[i]
		} else {
			offset += rowBytes * rows
		}
		layouts[i] = layout

		srcX, srcY := rect.X, rect.Y
		if i > 0 {
			switch f.Format {
			case PixelFormatI420, PixelFormatNV12:
				srcX, srcY = srcX/2, srcY/2
				if f.Format == PixelFormatNV12 {
					srcX = rect.X // UV interleaved, X in bytes below
				}
			case PixelFormatI422:
				srcX = srcX / 2
			}
		}
		srcPixBytes := 1
		if planes == 1 {
			srcPixBytes = rowBytes / rect.Width
		}
		for row := 0; row < rows; row++ {
			srcStart := (srcY+row)*f.Stride[i] + srcX*srcPixBytes
			dstStart := layout.Offset + row*layout.Stride
			copy(dst[dstStart:dstStart+rowBytes], f.Data[i][srcStart:srcStart+rowBytes])
		}
	}
	return layouts, nil
}
