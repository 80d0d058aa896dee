package webcodecs

import "fmt"

// AVC NAL unit types (ITU-T H.264 table 7-1).
const (
	AVCNALSlice      = 1
	AVCNALIDR        = 5
	AVCNALSEI        = 6
	AVCNALSPS        = 7
	AVCNALPPS        = 8
	AVCNALAUD        = 9
	AVCNALFillerData = 12
)

// AVCNALType returns the NAL unit type of an AVC NAL unit payload.
func AVCNALType(nalu []byte) int {
	if len(nalu) == 0 {
		return -1
	}
	return int(nalu[0] & 0x1F)
}

// avcHighProfiles are the profile_idc values whose SPS carries
// chroma_format_idc and bit depth fields (H.264 section 7.3.2.1.1).
var avcHighProfiles = map[uint32]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
	135: true,
}

// AVCSPS holds the fields of a parsed H.264 sequence parameter set that
// matter for configuration records and capability checks.
type AVCSPS struct {
	ProfileIDC      int
	ConstraintFlags byte
	LevelIDC        int
	SPSID           int
	ChromaFormatIDC int
	BitDepthLuma    int
	BitDepthChroma  int
	Log2MaxFrameNum int
	PicOrderCntType int
	MaxNumRefFrames int
	FrameMbsOnly    bool
	Width           int
	Height          int
}

// AVCPPS holds the identifying fields of a parsed H.264 picture
// parameter set.
type AVCPPS struct {
	PPSID             int
	SPSID             int
	EntropyCodingMode bool
}

// ParseAVCSPS parses an H.264 SPS NAL unit (header byte included,
// emulation prevention bytes still present).
func ParseAVCSPS(nalu []byte) (AVCSPS, error) {
	var sps AVCSPS
	if len(nalu) < 4 {
		return sps, fmt.Errorf("%w: SPS of %d bytes", ErrInvalidBitstream, len(nalu))
	}
	if AVCNALType(nalu) != AVCNALSPS {
		return sps, fmt.Errorf("%w: NAL type %d is not an SPS", ErrInvalidBitstream, AVCNALType(nalu))
	}

	r := &bitReader{data: removeEmulationPrevention(nalu[1:])}

	profileIDC, err := r.readBits(8)
	if err != nil {
		return sps, err
	}
	constraint, err := r.readBits(8)
	if err != nil {
		return sps, err
	}
	levelIDC, err := r.readBits(8)
	if err != nil {
		return sps, err
	}
	spsID, err := r.readUE()
	if err != nil {
		return sps, err
	}

	sps.ProfileIDC = int(profileIDC)
	sps.ConstraintFlags = byte(constraint)
	sps.LevelIDC = int(levelIDC)
	sps.SPSID = int(spsID)
	sps.ChromaFormatIDC = 1
	sps.BitDepthLuma = 8
	sps.BitDepthChroma = 8

	separateColourPlane := uint32(0)
	if avcHighProfiles[profileIDC] {
		chromaFormat, err := r.readUE()
		if err != nil {
			return sps, err
		}
		sps.ChromaFormatIDC = int(chromaFormat)
		if chromaFormat == 3 {
			if separateColourPlane, err = r.readBit(); err != nil {
				return sps, err
			}
		}
		bdLuma, err := r.readUE()
		if err != nil {
			return sps, err
		}
		bdChroma, err := r.readUE()
		if err != nil {
			return sps, err
		}
		sps.BitDepthLuma = int(bdLuma) + 8
		sps.BitDepthChroma = int(bdChroma) + 8
		if err := r.skipBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return sps, err
		}
		scalingMatrix, err := r.readBit()
		if err != nil {
			return sps, err
		}
		if scalingMatrix == 1 {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				present, err := r.readBit()
				if err != nil {
					return sps, err
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := r.skipScalingList(size); err != nil {
						return sps, err
					}
				}
			}
		}
	}

	log2MaxFrameNum, err := r.readUE()
	if err != nil {
		return sps, err
	}
	sps.Log2MaxFrameNum = int(log2MaxFrameNum) + 4

	pocType, err := r.readUE()
	if err != nil {
		return sps, err
	}
	sps.PicOrderCntType = int(pocType)
	switch pocType {
	case 0:
		if _, err := r.readUE(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return sps, err
		}
	case 1:
		if err := r.skipBits(1); err != nil { // delta_pic_order_always_zero_flag
			return sps, err
		}
		if _, err := r.readSE(); err != nil { // offset_for_non_ref_pic
			return sps, err
		}
		if _, err := r.readSE(); err != nil { // offset_for_top_to_bottom_field
			return sps, err
		}
		cycle, err := r.readUE()
		if err != nil {
			return sps, err
		}
		for i := uint32(0); i < cycle; i++ {
			if _, err := r.readSE(); err != nil {
				return sps, err
			}
		}
	}

	maxRef, err := r.readUE()
	if err != nil {
		return sps, err
	}
	sps.MaxNumRefFrames = int(maxRef)
	if err := r.skipBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return sps, err
	}

	widthInMbs, err := r.readUE()
	if err != nil {
		return sps, err
	}
	heightInMapUnits, err := r.readUE()
	if err != nil {
		return sps, err
	}
	frameMbsOnly, err := r.readBit()
	if err != nil {
		return sps, err
	}
	sps.FrameMbsOnly = frameMbsOnly == 1
	if frameMbsOnly == 0 {
		if err := r.skipBits(1); err != nil { // mb_adaptive_frame_field_flag
			return sps, err
		}
	}
	if err := r.skipBits(1); err != nil { // direct_8x8_inference_flag
		return sps, err
	}

	width := (int(widthInMbs) + 1) * 16
	height := (int(heightInMapUnits) + 1) * 16 * (2 - int(frameMbsOnly))

	cropping, err := r.readBit()
	if err != nil {
		return sps, err
	}
	if cropping == 1 {
		left, err := r.readUE()
		if err != nil {
			return sps, err
		}
		right, err := r.readUE()
		if err != nil {
			return sps, err
		}
		top, err := r.readUE()
		if err != nil {
			return sps, err
		}
		bottom, err := r.readUE()
		if err != nil {
			return sps, err
		}

		chroma := sps.ChromaFormatIDC
		subWidthC, subHeightC := 1, 1
		if separateColourPlane == 0 && chroma != 0 {
			subWidthC = 2
			if chroma == 3 {
				subWidthC = 1
			}
			subHeightC = 1
			if chroma == 1 {
				subHeightC = 2
			}
		}
		cropUnitX := subWidthC
		cropUnitY := subHeightC * (2 - int(frameMbsOnly))
		width -= (int(left) + int(right)) * cropUnitX
		height -= (int(top) + int(bottom)) * cropUnitY
	}

	if width <= 0 || height <= 0 {
		return sps, fmt.Errorf("%w: SPS yields %dx%d", ErrInvalidBitstream, width, height)
	}
	sps.Width = width
	sps.Height = height
	return sps, nil
}

// ParseAVCPPS parses an H.264 PPS NAL unit (header byte included).
func ParseAVCPPS(nalu []byte) (AVCPPS, error) {
	var pps AVCPPS
	if len(nalu) < 2 {
		return pps, fmt.Errorf("%w: PPS of %d bytes", ErrInvalidBitstream, len(nalu))
	}
	if AVCNALType(nalu) != AVCNALPPS {
		return pps, fmt.Errorf("%w: NAL type %d is not a PPS", ErrInvalidBitstream, AVCNALType(nalu))
	}

	r := &bitReader{data: removeEmulationPrevention(nalu[1:])}
	ppsID, err := r.readUE()
	if err != nil {
		return pps, err
	}
	spsID, err := r.readUE()
	if err != nil {
		return pps, err
	}
	entropy, err := r.readBit()
	if err != nil {
		return pps, err
	}
	pps.PPSID = int(ppsID)
	pps.SPSID = int(spsID)
	pps.EntropyCodingMode = entropy == 1
	return pps, nil
}

// AVCStream is the result of scanning an H.264 Annex B stream.
type AVCStream struct {
	// SPS and PPS hold the raw parameter set NAL units, in stream order,
	// suitable for building an AVC decoder configuration record.
	SPS [][]byte
	PPS [][]byte

	// ParsedSPS holds the successfully parsed SPS. Parameter sets that
	// fail to parse are kept in SPS/PPS but not reflected here.
	ParsedSPS []AVCSPS
	ParsedPPS []AVCPPS

	// HasIDR reports whether the stream contains an IDR slice.
	HasIDR bool

	// NALUs holds every NAL unit found, in order.
	NALUs [][]byte
}

// ScanAVCAnnexB splits an H.264 Annex B stream and classifies its NAL
// units. Parameter sets that cannot be parsed are retained raw but
// otherwise ignored, matching common decoder behaviour.
func ScanAVCAnnexB(data []byte) (AVCStream, error) {
	var st AVCStream
	st.NALUs = SplitAnnexB(data)
	if len(st.NALUs) == 0 {
		return st, fmt.Errorf("%w: no start codes found", ErrInvalidBitstream)
	}
	for _, nalu := range st.NALUs {
		switch AVCNALType(nalu) {
		case AVCNALSPS:
			st.SPS = append(st.SPS, nalu)
			if sps, err := ParseAVCSPS(nalu); err == nil {
				st.ParsedSPS = append(st.ParsedSPS, sps)
			}
		case AVCNALPPS:
			st.PPS = append(st.PPS, nalu)
			if pps, err := ParseAVCPPS(nalu); err == nil {
				st.ParsedPPS = append(st.ParsedPPS, pps)
			}
		case AVCNALIDR:
			st.HasIDR = true
		}
	}
	return st, nil
}
