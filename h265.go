package webcodecs

import "fmt"

// HEVC NAL unit types (ITU-T H.265 table 7-1).
const (
	HEVCNALTrailN    = 0
	HEVCNALTrailR    = 1
	HEVCNALBLAWLP    = 16
	HEVCNALIDRWRADL  = 19
	HEVCNALIDRNLP    = 20
	HEVCNALCRA       = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
)

// HEVCNALHeader is the two-byte H.265 NAL unit header.
type HEVCNALHeader struct {
	Type       int
	LayerID    int
	TemporalID int
}

// ParseHEVCNALHeader parses the first two bytes of an H.265 NAL unit.
func ParseHEVCNALHeader(nalu []byte) (HEVCNALHeader, error) {
	if len(nalu) < 2 {
		return HEVCNALHeader{}, fmt.Errorf("%w: NAL unit of %d bytes", ErrInvalidBitstream, len(nalu))
	}
	return HEVCNALHeader{
		Type:       int(nalu[0]>>1) & 0x3F,
		LayerID:    int(nalu[0]&1)<<5 | int(nalu[1]>>3),
		TemporalID: int(nalu[1]&0x07) - 1,
	}, nil
}

// HEVCNALType returns the NAL unit type of an H.265 NAL unit, or -1.
func HEVCNALType(nalu []byte) int {
	if len(nalu) == 0 {
		return -1
	}
	return int(nalu[0]>>1) & 0x3F
}

// IsIRAP reports whether the header names an intra random access point
// (BLA through CRA).
func (h HEVCNALHeader) IsIRAP() bool {
	return h.Type >= HEVCNALBLAWLP && h.Type <= HEVCNALCRA
}

// HEVCProfileTierLevel holds the general profile_tier_level fields.
type HEVCProfileTierLevel struct {
	ProfileSpace int
	TierFlag     int
	ProfileIDC   int
	CompatFlags  uint32
	LevelIDC     int
}

// parseProfileTierLevel consumes a profile_tier_level() structure with
// the given number of sub-layers.
func parseProfileTierLevel(r *bitReader, maxSubLayersMinus1 int) (HEVCProfileTierLevel, error) {
	var ptl HEVCProfileTierLevel

	space, err := r.readBits(2)
	if err != nil {
		return ptl, err
	}
	tier, err := r.readBit()
	if err != nil {
		return ptl, err
	}
	profile, err := r.readBits(5)
	if err != nil {
		return ptl, err
	}
	compat, err := r.readBits(32)
	if err != nil {
		return ptl, err
	}
	if err := r.skipBits(48); err != nil { // constraint indicator flags
		return ptl, err
	}
	level, err := r.readBits(8)
	if err != nil {
		return ptl, err
	}

	ptl.ProfileSpace = int(space)
	ptl.TierFlag = int(tier)
	ptl.ProfileIDC = int(profile)
	ptl.CompatFlags = compat
	ptl.LevelIDC = int(level)

	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := 0; i < maxSubLayersMinus1; i++ {
		p, err := r.readBit()
		if err != nil {
			return ptl, err
		}
		l, err := r.readBit()
		if err != nil {
			return ptl, err
		}
		profilePresent[i] = p == 1
		levelPresent[i] = l == 1
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			if err := r.skipBits(2); err != nil { // reserved_zero_2bits
				return ptl, err
			}
		}
	}
	for i := 0; i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			if err := r.skipBits(88); err != nil {
				return ptl, err
			}
		}
		if levelPresent[i] {
			if err := r.skipBits(8); err != nil {
				return ptl, err
			}
		}
	}
	return ptl, nil
}

// HEVCVPS holds the fields of a parsed H.265 video parameter set.
type HEVCVPS struct {
	VPSID              int
	MaxLayersMinus1    int
	MaxSubLayersMinus1 int
	PTL                HEVCProfileTierLevel
}

// ParseHEVCVPS parses an H.265 VPS NAL unit (header bytes included).
func ParseHEVCVPS(nalu []byte) (HEVCVPS, error) {
	var vps HEVCVPS
	if HEVCNALType(nalu) != HEVCNALVPS {
		return vps, fmt.Errorf("%w: NAL type %d is not a VPS", ErrInvalidBitstream, HEVCNALType(nalu))
	}
	if len(nalu) < 6 {
		return vps, fmt.Errorf("%w: VPS of %d bytes", ErrInvalidBitstream, len(nalu))
	}

	r := &bitReader{data: removeEmulationPrevention(nalu[2:])}
	vpsID, err := r.readBits(4)
	if err != nil {
		return vps, err
	}
	if err := r.skipBits(2); err != nil { // base_layer_internal/available flags
		return vps, err
	}
	maxLayers, err := r.readBits(6)
	if err != nil {
		return vps, err
	}
	maxSubLayers, err := r.readBits(3)
	if err != nil {
		return vps, err
	}
	if err := r.skipBits(1 + 16); err != nil { // temporal_id_nesting + reserved_0xffff
		return vps, err
	}
	ptl, err := parseProfileTierLevel(r, int(maxSubLayers))
	if err != nil {
		return vps, err
	}

	vps.VPSID = int(vpsID)
	vps.MaxLayersMinus1 = int(maxLayers)
	vps.MaxSubLayersMinus1 = int(maxSubLayers)
	vps.PTL = ptl
	return vps, nil
}

// HEVCSPS holds the fields of a parsed H.265 sequence parameter set
// relevant for configuration records and capability checks.
type HEVCSPS struct {
	VPSID           int
	SPSID           int
	ChromaFormatIDC int
	BitDepthLuma    int
	BitDepthChroma  int
	Width           int
	Height          int
	PTL             HEVCProfileTierLevel
}

// ParseHEVCSPS parses an H.265 SPS NAL unit (header bytes included,
// emulation prevention bytes still present).
func ParseHEVCSPS(nalu []byte) (HEVCSPS, error) {
	var sps HEVCSPS
	if HEVCNALType(nalu) != HEVCNALSPS {
		return sps, fmt.Errorf("%w: NAL type %d is not an SPS", ErrInvalidBitstream, HEVCNALType(nalu))
	}
	if len(nalu) < 16 {
		return sps, fmt.Errorf("%w: SPS of %d bytes", ErrInvalidBitstream, len(nalu))
	}

	r := &bitReader{data: removeEmulationPrevention(nalu[2:])}
	vpsID, err := r.readBits(4)
	if err != nil {
		return sps, err
	}
	maxSubLayers, err := r.readBits(3)
	if err != nil {
		return sps, err
	}
	if err := r.skipBits(1); err != nil { // temporal_id_nesting_flag
		return sps, err
	}
	ptl, err := parseProfileTierLevel(r, int(maxSubLayers))
	if err != nil {
		return sps, err
	}
	spsID, err := r.readUE()
	if err != nil {
		return sps, err
	}
	chroma, err := r.readUE()
	if err != nil {
		return sps, err
	}
	if chroma == 3 {
		if err := r.skipBits(1); err != nil { // separate_colour_plane_flag
			return sps, err
		}
	}
	width, err := r.readUE()
	if err != nil {
		return sps, err
	}
	height, err := r.readUE()
	if err != nil {
		return sps, err
	}

	w := int(width)
	h := int(height)
	conformance, err := r.readBit()
	if err != nil {
		return sps, err
	}
	if conformance == 1 {
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
		subWidthC := 1
		if chroma == 1 || chroma == 2 {
			subWidthC = 2
		}
		subHeightC := 1
		if chroma == 1 {
			subHeightC = 2
		}
		w -= (int(left) + int(right)) * subWidthC
		h -= (int(top) + int(bottom)) * subHeightC
	}
	if w <= 0 || h <= 0 {
		return sps, fmt.Errorf("%w: SPS yields %dx%d", ErrInvalidBitstream, w, h)
	}

	bdLuma, err := r.readUE()
	if err != nil {
		return sps, err
	}
	bdChroma, err := r.readUE()
	if err != nil {
		return sps, err
	}

	sps.VPSID = int(vpsID)
	sps.SPSID = int(spsID)
	sps.ChromaFormatIDC = int(chroma)
	sps.Width = w
	sps.Height = h
	sps.BitDepthLuma = int(bdLuma) + 8
	sps.BitDepthChroma = int(bdChroma) + 8
	sps.PTL = ptl
	return sps, nil
}

// HEVCPPS holds the identifying fields of a parsed H.265 picture
// parameter set.
type HEVCPPS struct {
	PPSID int
	SPSID int
}

// ParseHEVCPPS parses an H.265 PPS NAL unit (header bytes included).
func ParseHEVCPPS(nalu []byte) (HEVCPPS, error) {
	var pps HEVCPPS
	if HEVCNALType(nalu) != HEVCNALPPS {
		return pps, fmt.Errorf("%w: NAL type %d is not a PPS", ErrInvalidBitstream, HEVCNALType(nalu))
	}
	if len(nalu) < 3 {
		return pps, fmt.Errorf("%w: PPS of %d bytes", ErrInvalidBitstream, len(nalu))
	}

	r := &bitReader{data: removeEmulationPrevention(nalu[2:])}
	ppsID, err := r.readUE()
	if err != nil {
		return pps, err
	}
	spsID, err := r.readUE()
	if err != nil {
		return pps, err
	}
	pps.PPSID = int(ppsID)
	pps.SPSID = int(spsID)
	return pps, nil
}

// HEVCStream is the result of scanning an H.265 Annex B stream.
type HEVCStream struct {
	VPS [][]byte
	SPS [][]byte
	PPS [][]byte

	ParsedSPS []HEVCSPS

	// HasIRAP reports whether the stream contains an IRAP slice.
	HasIRAP bool

	NALUs [][]byte
}

// ScanHEVCAnnexB splits an H.265 Annex B stream and classifies its NAL
// units. Unparsable parameter sets are retained raw but not parsed.
func ScanHEVCAnnexB(data []byte) (HEVCStream, error) {
	var st HEVCStream
	st.NALUs = SplitAnnexB(data)
	if len(st.NALUs) == 0 {
		return st, fmt.Errorf("%w: no start codes found", ErrInvalidBitstream)
	}
	for _, nalu := range st.NALUs {
		t := HEVCNALType(nalu)
		switch {
		case t == HEVCNALVPS:
			st.VPS = append(st.VPS, nalu)
		case t == HEVCNALSPS:
			st.SPS = append(st.SPS, nalu)
			if sps, err := ParseHEVCSPS(nalu); err == nil {
				st.ParsedSPS = append(st.ParsedSPS, sps)
			}
		case t == HEVCNALPPS:
			st.PPS = append(st.PPS, nalu)
		case t >= HEVCNALBLAWLP && t <= HEVCNALCRA:
			st.HasIRAP = true
		}
	}
	return st, nil
}
