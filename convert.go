package webcodecs

import "fmt"

// ConvertFrame converts src into a newly allocated frame of the target
// pixel format at the same coded size. Supported conversions:
//
//	I420 <-> NV12
//	I420  -> RGB24/BGR24/RGBA32/BGRA32 (BT.601 limited range)
//	RGBA32/BGRA32 -> I420
//
// Converting to the source format returns a deep copy.
func ConvertFrame(src *VideoFrame, format PixelFormat) (*VideoFrame, error) {
	if src.Closed() {
		return nil, fmt.Errorf("convert frame: %w", ErrClosed)
	}
	if src.Format == format {
		return src.Clone()
	}

	dst, err := NewVideoFrame(format, src.CodedWidth, src.CodedHeight)
	if err != nil {
		return nil, err
	}
	dst.Timestamp = src.Timestamp
	dst.Duration = src.Duration
	dst.VisibleRect = src.VisibleRect
	dst.Rotation = src.Rotation
	dst.Flip = src.Flip
	dst.ColorSpace = src.ColorSpace

	switch {
	case src.Format == PixelFormatI420 && format == PixelFormatNV12:
		i420ToNV12(src, dst)
	case src.Format == PixelFormatNV12 && format == PixelFormatI420:
		nv12ToI420(src, dst)
	case src.Format == PixelFormatI420 && format.PlaneCount() == 1:
		i420ToPacked(src, dst)
	case (src.Format == PixelFormatRGBA32 || src.Format == PixelFormatBGRA32) && format == PixelFormatI420:
		packedToI420(src, dst)
	default:
		return nil, unsupportedf("pixel format conversion %v to %v", src.Format, format)
	}
	return dst, nil
}

func i420ToNV12(src, dst *VideoFrame) {
	h := src.CodedHeight
	w := src.CodedWidth
	for row := 0; row < h; row++ {
		copy(dst.Data[0][row*dst.Stride[0]:], src.Data[0][row*src.Stride[0]:row*src.Stride[0]+w])
	}
	cw := (w + 1) / 2
	ch := (h + 1) / 2
	for row := 0; row < ch; row++ {
		u := src.Data[1][row*src.Stride[1]:]
		v := src.Data[2][row*src.Stride[2]:]
		uv := dst.Data[1][row*dst.Stride[1]:]
		for col := 0; col < cw; col++ {
			uv[2*col] = u[col]
			uv[2*col+1] = v[col]
		}
	}
}

func nv12ToI420(src, dst *VideoFrame) {
	h := src.CodedHeight
	w := src.CodedWidth
	for row := 0; row < h; row++ {
		copy(dst.Data[0][row*dst.Stride[0]:], src.Data[0][row*src.Stride[0]:row*src.Stride[0]+w])
	}
	cw := (w + 1) / 2
	ch := (h + 1) / 2
	for row := 0; row < ch; row++ {
		uv := src.Data[1][row*src.Stride[1]:]
		u := dst.Data[1][row*dst.Stride[1]:]
		v := dst.Data[2][row*dst.Stride[2]:]
		for col := 0; col < cw; col++ {
			u[col] = uv[2*col]
			v[col] = uv[2*col+1]
		}
	}
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func i420ToPacked(src, dst *VideoFrame) {
	w := src.CodedWidth
	h := src.CodedHeight
	bpp := 4
	if dst.Format == PixelFormatRGB24 || dst.Format == PixelFormatBGR24 {
		bpp = 3
	}
	for row := 0; row < h; row++ {
		yRow := src.Data[0][row*src.Stride[0]:]
		uRow := src.Data[1][(row/2)*src.Stride[1]:]
		vRow := src.Data[2][(row/2)*src.Stride[2]:]
		out := dst.Data[0][row*dst.Stride[0]:]
		for col := 0; col < w; col++ {
			c := int(yRow[col]) - 16
			d := int(uRow[col/2]) - 128
			e := int(vRow[col/2]) - 128
			r := clamp8((298*c + 409*e + 128) >> 8)
			g := clamp8((298*c - 100*d - 208*e + 128) >> 8)
			b := clamp8((298*c + 516*d + 128) >> 8)
			p := out[col*bpp:]
			switch dst.Format {
			case PixelFormatRGB24:
				p[0], p[1], p[2] = r, g, b
			case PixelFormatBGR24:
				p[0], p[1], p[2] = b, g, r
			case PixelFormatRGBA32:
				p[0], p[1], p[2], p[3] = r, g, b, 255
			case PixelFormatBGRA32:
				p[0], p[1], p[2], p[3] = b, g, r, 255
			}
		}
	}
}

func packedToI420(src, dst *VideoFrame) {
	w := src.CodedWidth
	h := src.CodedHeight
	swapRB := src.Format == PixelFormatBGRA32
	for row := 0; row < h; row++ {
		in := src.Data[0][row*src.Stride[0]:]
		yOut := dst.Data[0][row*dst.Stride[0]:]
		for col := 0; col < w; col++ {
			p := in[col*4:]
			r, g, b := int(p[0]), int(p[1]), int(p[2])
			if swapRB {
				r, b = b, r
			}
			yOut[col] = byte(((66*r+129*g+25*b+128)>>8) + 16)
			if row%2 == 0 && col%2 == 0 {
				u := ((-38*r - 74*g + 112*b + 128) >> 8) + 128
				v := ((112*r - 94*g - 18*b + 128) >> 8) + 128
				dst.Data[1][(row/2)*dst.Stride[1]+col/2] = clamp8(u)
				dst.Data[2][(row/2)*dst.Stride[2]+col/2] = clamp8(v)
			}
		}
	}
}
