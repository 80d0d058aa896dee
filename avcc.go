package webcodecs

import (
	"encoding/binary"
	"fmt"
)

// AVCDecoderConfig is a parsed AVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 section 5.3.3.1).
type AVCDecoderConfig struct {
	Profile    int
	Constraint byte
	Level      int

	// LengthSize is the NAL length prefix size used by samples (1, 2 or 4).
	LengthSize int

	// SPS and PPS hold raw parameter set NAL units.
	SPS [][]byte
	PPS [][]byte
}

// BuildAVCDecoderConfig builds an avcC record from raw SPS and PPS NAL
// units. At least one valid SPS is required; the first one supplies the
// profile, constraint and level bytes. Samples are assumed to use
// 4-byte NAL lengths.
func BuildAVCDecoderConfig(sps, pps [][]byte) ([]byte, error) {
	if len(sps) == 0 {
		return nil, fmt.Errorf("%w: no SPS", ErrInvalidConfigRecord)
	}
	parsed, err := ParseAVCSPS(sps[0])
	if err != nil {
		return nil, fmt.Errorf("build avcC: %w", err)
	}
	if len(sps) > 31 {
		return nil, fmt.Errorf("%w: %d SPS", ErrInvalidConfigRecord, len(sps))
	}
	if len(pps) > 255 {
		return nil, fmt.Errorf("%w: %d PPS", ErrInvalidConfigRecord, len(pps))
	}

	out := make([]byte, 0, 64)
	out = append(out,
		1, // configurationVersion
		byte(parsed.ProfileIDC),
		parsed.ConstraintFlags,
		byte(parsed.LevelIDC),
		0xFF,                  // reserved + lengthSizeMinusOne = 3
		0xE0 | byte(len(sps)), // reserved + numOfSequenceParameterSets
	)
	for _, s := range sps {
		if len(s) > 0xFFFF {
			return nil, fmt.Errorf("%w: SPS of %d bytes", ErrInvalidConfigRecord, len(s))
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(s)))
		out = append(out, s...)
	}
	out = append(out, byte(len(pps)))
	for _, p := range pps {
		if len(p) > 0xFFFF {
			return nil, fmt.Errorf("%w: PPS of %d bytes", ErrInvalidConfigRecord, len(p))
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

// ParseAVCDecoderConfig parses an avcC record. Truncated records stop
// gracefully after the parameter sets that did fit; zero-length sets
// are skipped.
func ParseAVCDecoderConfig(data []byte) (AVCDecoderConfig, error) {
	var cfg AVCDecoderConfig
	if len(data) < 7 {
		return cfg, fmt.Errorf("%w: avcC of %d bytes", ErrInvalidConfigRecord, len(data))
	}
	if data[0] != 1 {
		return cfg, fmt.Errorf("%w: avcC version %d", ErrInvalidConfigRecord, data[0])
	}
	cfg.Profile = int(data[1])
	cfg.Constraint = data[2]
	cfg.Level = int(data[3])
	cfg.LengthSize = int(data[4]&0x03) + 1

	off := 6
	numSPS := int(data[5] & 0x1F)
	for i := 0; i < numSPS; i++ {
		if off+2 > len(data) {
			return cfg, nil
		}
		n := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if off+n > len(data) {
			return cfg, nil
		}
		if n > 0 {
			cfg.SPS = append(cfg.SPS, data[off:off+n])
		}
		off += n
	}
	if off >= len(data) {
		return cfg, nil
	}
	numPPS := int(data[off])
	off++
	for i := 0; i < numPPS; i++ {
		if off+2 > len(data) {
			return cfg, nil
		}
		n := int(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if off+n > len(data) {
			return cfg, nil
		}
		if n > 0 {
			cfg.PPS = append(cfg.PPS, data[off:off+n])
		}
		off += n
	}
	return cfg, nil
}
