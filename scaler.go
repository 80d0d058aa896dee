package webcodecs

// ScaleMode defines how scaling handles aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within the target, preserving aspect
	// ratio (may letterbox).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill the target, preserving aspect ratio
	// (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly the target (may distort).
	ScaleModeStretch
)

// VideoScaler scales I420 video frames. A scaler reuses its output
// buffers across calls, so a returned frame is only valid until the
// next Scale; Clone it to keep it.
type VideoScaler struct {
	srcWidth, srcHeight int
	dstWidth, dstHeight int
	mode                ScaleMode

	out *VideoFrame
}

// NewVideoScaler creates a scaler for the given dimensions. Target
// dimensions must be even.
func NewVideoScaler(srcWidth, srcHeight, dstWidth, dstHeight int, mode ScaleMode) (*VideoScaler, error) {
	out, err := NewVideoFrame(PixelFormatI420, dstWidth, dstHeight)
	if err != nil {
		return nil, err
	}
	return &VideoScaler{
		srcWidth:  srcWidth,
		srcHeight: srcHeight,
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		mode:      mode,
		out:       out,
	}, nil
}

// Scale scales an I420 frame to the target dimensions. Frames already
// at the target size are returned unchanged.
func (s *VideoScaler) Scale(frame *VideoFrame) (*VideoFrame, error) {
	if frame.Format != PixelFormatI420 {
		return nil, unsupportedf("scaling %s frames", frame.Format)
	}
	if frame.CodedWidth == s.dstWidth && frame.CodedHeight == s.dstHeight {
		return frame, nil
	}

	srcX, srcY, srcW, srcH := s.sourceRegion(frame.CodedWidth, frame.CodedHeight)

	s.scalePlane(frame.Data[0], frame.Stride[0], srcX, srcY, srcW, srcH,
		s.out.Data[0], s.out.Stride[0], s.dstWidth, s.dstHeight)
	s.scalePlane(frame.Data[1], frame.Stride[1], srcX/2, srcY/2, srcW/2, srcH/2,
		s.out.Data[1], s.out.Stride[1], s.dstWidth/2, s.dstHeight/2)
	s.scalePlane(frame.Data[2], frame.Stride[2], srcX/2, srcY/2, srcW/2, srcH/2,
		s.out.Data[2], s.out.Stride[2], s.dstWidth/2, s.dstHeight/2)

	s.out.Timestamp = frame.Timestamp
	s.out.Duration = frame.Duration
	s.out.ColorSpace = frame.ColorSpace
	s.out.VisibleRect = Rect{}
	s.out.DisplayWidth = 0
	s.out.DisplayHeight = 0
	return s.out, nil
}

// sourceRegion determines the source crop for the scale mode.
func (s *VideoScaler) sourceRegion(srcW, srcH int) (x, y, w, h int) {
	if s.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(s.dstWidth) / float64(s.dstHeight)
	if srcAspect > dstAspect {
		newW := int(float64(srcH) * dstAspect)
		return (srcW - newW) / 2, 0, newW, srcH
	}
	if srcAspect < dstAspect {
		newH := int(float64(srcW) / dstAspect)
		return 0, (srcH - newH) / 2, srcW, newH
	}
	return 0, 0, srcW, srcH
}

// scalePlane scales a single plane with bilinear interpolation in
// 16.16 fixed point.
func (s *VideoScaler) scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		srcYInt := srcYFP >> 16
		srcYFrac := srcYFP & 0xFFFF

		y0 := srcYInt + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			srcXInt := srcXFP >> 16
			srcXFrac := srcXFP & 0xFFFF

			x0 := srcXInt + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			top := (p00*(0x10000-srcXFrac) + p10*srcXFrac) >> 16
			bottom := (p01*(0x10000-srcXFrac) + p11*srcXFrac) >> 16
			dst[y*dstStride+x] = byte((top*(0x10000-srcYFrac) + bottom*srcYFrac) >> 16)
		}
	}
}

// ScaleFrame scales a frame without keeping a scaler around. The result
// is freshly allocated.
func ScaleFrame(frame *VideoFrame, dstWidth, dstHeight int, mode ScaleMode) (*VideoFrame, error) {
	scaler, err := NewVideoScaler(frame.CodedWidth, frame.CodedHeight, dstWidth, dstHeight, mode)
	if err != nil {
		return nil, err
	}
	out, err := scaler.Scale(frame)
	if err != nil {
		return nil, err
	}
	if out == frame {
		return frame.Clone()
	}
	return out, nil
}

// CalculateScaledSize returns the output dimensions when scaling with a
// given mode. Useful for determining letterbox dimensions in
// ScaleModeFit. Results are rounded up to even for 4:2:0 chroma.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit {
		return maxW, maxH
	}
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)
	if srcAspect > dstAspect {
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	w = (w + 1) &^ 1
	h = (h + 1) &^ 1
	return w, h
}
