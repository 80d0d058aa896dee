package webcodecs

import (
	"encoding/binary"
	"fmt"
)

// HEVCDecoderConfig is a parsed HEVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 section 8.3.3.1).
type HEVCDecoderConfig struct {
	ProfileSpace int
	TierFlag     int
	Profile      int
	CompatFlags  uint32
	Level        int

	ChromaFormatIDC int
	BitDepthLuma    int
	BitDepthChroma  int

	// LengthSize is the NAL length prefix size used by samples (1, 2 or 4).
	LengthSize int

	// VPS, SPS and PPS hold raw parameter set NAL units.
	VPS [][]byte
	SPS [][]byte
	PPS [][]byte
}

// BuildHEVCDecoderConfig builds an hvcC record from raw VPS, SPS and
// PPS NAL units. At least one valid SPS is required; it supplies the
// profile tier level, chroma format and bit depths. Samples are assumed
// to use 4-byte NAL lengths.
func BuildHEVCDecoderConfig(vps, sps, pps [][]byte) ([]byte, error) {
	if len(sps) == 0 {
		return nil, fmt.Errorf("%w: no SPS", ErrInvalidConfigRecord)
	}
	parsed, err := ParseHEVCSPS(sps[0])
	if err != nil {
		return nil, fmt.Errorf("build hvcC: %w", err)
	}

	out := make([]byte, 0, 128)
	out = append(out,
		1, // configurationVersion
		byte(parsed.PTL.ProfileSpace<<6)|byte(parsed.PTL.TierFlag<<5)|byte(parsed.PTL.ProfileIDC),
	)
	out = binary.BigEndian.AppendUint32(out, parsed.PTL.CompatFlags)
	out = append(out, 0, 0, 0, 0, 0, 0) // general_constraint_indicator_flags
	out = append(out,
		byte(parsed.PTL.LevelIDC),
		0xF0, 0x00, // min_spatial_segmentation_idc
		0xFC,                                // parallelismType
		0xFC|byte(parsed.ChromaFormatIDC&3), // chromaFormat
		0xF8|byte((parsed.BitDepthLuma-8)&7),
		0xF8|byte((parsed.BitDepthChroma-8)&7),
		0, 0, // avgFrameRate
		0x0F, // constantFrameRate=0, numTemporalLayers=1, temporalIdNested=1, lengthSizeMinusOne=3
	)

	type psArray struct {
		nalType byte
		sets    [][]byte
	}
	arrays := []psArray{
		{HEVCNALVPS, vps},
		{HEVCNALSPS, sps},
		{HEVCNALPPS, pps},
	}
	numArrays := 0
	for _, a := range arrays {
		if len(a.sets) > 0 {
			numArrays++
		}
	}
	out = append(out, byte(numArrays))
	for _, a := range arrays {
		if len(a.sets) == 0 {
			continue
		}
		if len(a.sets) > 0xFFFF {
			return nil, fmt.Errorf("%w: %d parameter sets", ErrInvalidConfigRecord, len(a.sets))
		}
		out = append(out, 0x80|a.nalType) // array_completeness=1
		out = binary.BigEndian.AppendUint16(out, uint16(len(a.sets)))
		for _, s := range a.sets {
			if len(s) > 0xFFFF {
				return nil, fmt.Errorf("%w: parameter set of %d bytes", ErrInvalidConfigRecord, len(s))
			}
			out = binary.BigEndian.AppendUint16(out, uint16(len(s)))
			out = append(out, s...)
		}
	}
	return out, nil
}

// ParseHEVCDecoderConfig parses an hvcC record. Truncated records stop
// gracefully after the arrays that did fit.
func ParseHEVCDecoderConfig(data []byte) (HEVCDecoderConfig, error) {
	var cfg HEVCDecoderConfig
	if len(data) < 23 {
		return cfg, fmt.Errorf("%w: hvcC of %d bytes", ErrInvalidConfigRecord, len(data))
	}
	if data[0] != 1 {
		return cfg, fmt.Errorf("%w: hvcC version %d", ErrInvalidConfigRecord, data[0])
	}
	cfg.ProfileSpace = int(data[1] >> 6)
	cfg.TierFlag = int(data[1]>>5) & 1
	cfg.Profile = int(data[1] & 0x1F)
	cfg.CompatFlags = binary.BigEndian.Uint32(data[2:])
	cfg.Level = int(data[12])
	cfg.ChromaFormatIDC = int(data[16] & 0x03)
	cfg.BitDepthLuma = int(data[17]&0x07) + 8
	cfg.BitDepthChroma = int(data[18]&0x07) + 8
	cfg.LengthSize = int(data[21]&0x03) + 1

	numArrays := int(data[22])
	off := 23
	for i := 0; i < numArrays; i++ {
		if off+3 > len(data) {
			return cfg, nil
		}
		nalType := data[off] & 0x3F
		count := int(binary.BigEndian.Uint16(data[off+1:]))
		off += 3
		for j := 0; j < count; j++ {
			if off+2 > len(data) {
				return cfg, nil
			}
			n := int(binary.BigEndian.Uint16(data[off:]))
			off += 2
			if off+n > len(data) {
				return cfg, nil
			}
			if n > 0 {
				set := data[off : off+n]
				switch nalType {
				case HEVCNALVPS:
					cfg.VPS = append(cfg.VPS, set)
				case HEVCNALSPS:
					cfg.SPS = append(cfg.SPS, set)
				case HEVCNALPPS:
					cfg.PPS = append(cfg.PPS, set)
				}
			}
			off += n
		}
	}
	return cfg, nil
}
