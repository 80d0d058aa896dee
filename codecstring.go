package webcodecs

import (
	"strconv"
	"strings"
)

// CodecFamily identifies the codec a parsed codec string belongs to.
type CodecFamily int

const (
	CodecFamilyUnknown CodecFamily = iota
	CodecFamilyH264
	CodecFamilyHEVC
	CodecFamilyVP8
	CodecFamilyVP9
	CodecFamilyAV1
	CodecFamilyAAC
	CodecFamilyOpus
	CodecFamilyFLAC
)

// String returns the canonical family name.
func (f CodecFamily) String() string {
	switch f {
	case CodecFamilyH264:
		return "h264"
	case CodecFamilyHEVC:
		return "hevc"
	case CodecFamilyVP8:
		return "vp8"
	case CodecFamilyVP9:
		return "vp9"
	case CodecFamilyAV1:
		return "av1"
	case CodecFamilyAAC:
		return "aac"
	case CodecFamilyOpus:
		return "opus"
	case CodecFamilyFLAC:
		return "flac"
	default:
		return "unknown"
	}
}

// MimeType returns the RFC 6381 style MIME type for the family.
func (f CodecFamily) MimeType() string {
	switch f {
	case CodecFamilyH264:
		return "video/H264"
	case CodecFamilyHEVC:
		return "video/H265"
	case CodecFamilyVP8:
		return "video/VP8"
	case CodecFamilyVP9:
		return "video/VP9"
	case CodecFamilyAV1:
		return "video/AV1"
	case CodecFamilyAAC:
		return "audio/aac"
	case CodecFamilyOpus:
		return "audio/opus"
	case CodecFamilyFLAC:
		return "audio/flac"
	default:
		return ""
	}
}

// IsVideo reports whether the family is a video codec.
func (f CodecFamily) IsVideo() bool {
	switch f {
	case CodecFamilyH264, CodecFamilyHEVC, CodecFamilyVP8, CodecFamilyVP9, CodecFamilyAV1:
		return true
	}
	return false
}

// IsAudio reports whether the family is an audio codec.
func (f CodecFamily) IsAudio() bool {
	switch f {
	case CodecFamilyAAC, CodecFamilyOpus, CodecFamilyFLAC:
		return true
	}
	return false
}

// sampleEntry returns the four-character sample entry name used when the
// family appears in a decoder configuration (e.g. MP4 stsd, keyframe
// metadata codec strings).
func (f CodecFamily) sampleEntry() string {
	switch f {
	case CodecFamilyH264:
		return "avc1"
	case CodecFamilyHEVC:
		return "hvc1"
	case CodecFamilyVP9:
		return "vp09"
	case CodecFamilyAV1:
		return "av01"
	case CodecFamilyOpus:
		return "Opus"
	case CodecFamilyAAC:
		return "mp4a"
	default:
		return ""
	}
}

// CodecInfo is the result of parsing a codec string.
type CodecInfo struct {
	Family CodecFamily

	// Profile is the codec profile. For H.264 this is profile_idc, for
	// HEVC general_profile_idc, for VP9 and AV1 the numeric profile.
	Profile int

	// Level is the codec level. H.264 level_idc (e.g. 31 for level 3.1),
	// HEVC general_level_idc (e.g. 93 for level 3.1), VP9 level, AV1
	// seq_level_idx.
	Level int

	// Constraint holds the H.264 constraint_set flags byte, or the HEVC
	// general_profile_compatibility flags truncated to 32 bits.
	Constraint uint32

	// Tier is the HEVC/AV1 tier: 0 for main/M, 1 for high/H.
	Tier int

	// BitDepth is the coded bit depth for VP9 and AV1 (8, 10 or 12).
	// Zero when the string does not carry one.
	BitDepth int
}

// ParseCodecString parses an RFC 6381 codec string into a CodecInfo.
//
// Supported grammars:
//
//	avc1.PPCCLL / avc3.PPCCLL           six hex digits
//	hvc1.* / hev1.*                     ISO 14496-15 Annex E style
//	vp8                                 exact match
//	vp09.PP.LL.DD                       profile, level, bit depth
//	av01.P.LLT.DD[...]                  profile, level+tier, bit depth
//	mp4a.40.2 / mp4a.40.02 / mp4a.67 / aac
//	opus / flac
//
// Unrecognized strings return an error wrapping ErrInvalidCodecString.
func ParseCodecString(s string) (CodecInfo, error) {
	switch {
	case strings.HasPrefix(s, "avc1.") || strings.HasPrefix(s, "avc3."):
		return parseAVCCodecString(s)
	case strings.HasPrefix(s, "hvc1.") || strings.HasPrefix(s, "hev1."):
		return parseHEVCCodecString(s)
	case s == "vp8":
		return CodecInfo{Family: CodecFamilyVP8}, nil
	case strings.HasPrefix(s, "vp09."):
		return parseVP9CodecString(s)
	case strings.HasPrefix(s, "av01."):
		return parseAV1CodecString(s)
	case s == "mp4a.40.2" || s == "mp4a.40.02" || s == "mp4a.67" || s == "aac":
		return CodecInfo{Family: CodecFamilyAAC}, nil
	case s == "opus":
		return CodecInfo{Family: CodecFamilyOpus}, nil
	case s == "flac":
		return CodecInfo{Family: CodecFamilyFLAC}, nil
	default:
		return CodecInfo{}, codecStringError("unrecognized codec %q", s)
	}
}

// parseAVCCodecString parses avc1.PPCCLL / avc3.PPCCLL where PP, CC and
// LL are the hex profile_idc, constraint flags and level_idc.
func parseAVCCodecString(s string) (CodecInfo, error) {
	rest := s[len("avc1."):]
	if len(rest) != 6 {
		return CodecInfo{}, codecStringError("invalid AVC codec string length in %q", s)
	}
	v, err := strconv.ParseUint(rest, 16, 32)
	if err != nil {
		return CodecInfo{}, codecStringError("invalid AVC codec string %q", s)
	}
	return CodecInfo{
		Family:     CodecFamilyH264,
		Profile:    int(v >> 16),
		Constraint: uint32(v>>8) & 0xFF,
		Level:      int(v & 0xFF),
	}, nil
}

// parseHEVCCodecString parses hvc1/hev1 strings such as
// "hvc1.1.6.L93.B0". The first field is general_profile_space (optional
// leading A/B/C) plus general_profile_idc, the second the profile
// compatibility flags in hex, the third the tier letter (L or H) plus
// general_level_idc.
func parseHEVCCodecString(s string) (CodecInfo, error) {
	fields := strings.Split(s[len("hvc1."):], ".")
	if len(fields) < 3 {
		return CodecInfo{}, codecStringError("invalid HEVC codec string %q", s)
	}

	prof := fields[0]
	if prof == "" {
		return CodecInfo{}, codecStringError("invalid HEVC profile in %q", s)
	}
	switch prof[0] {
	case 'A', 'B', 'C', 'a', 'b', 'c':
		prof = prof[1:]
	}
	profile, err := strconv.Atoi(prof)
	if err != nil || profile < 0 || profile > 31 {
		return CodecInfo{}, codecStringError("invalid HEVC profile in %q", s)
	}

	compat, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return CodecInfo{}, codecStringError("invalid HEVC compatibility flags in %q", s)
	}

	tl := fields[2]
	if len(tl) < 2 {
		return CodecInfo{}, codecStringError("invalid HEVC tier/level in %q", s)
	}
	tier := 0
	switch tl[0] {
	case 'L', 'l':
		tier = 0
	case 'H', 'h':
		tier = 1
	default:
		return CodecInfo{}, codecStringError("invalid HEVC tier in %q", s)
	}
	level, err := strconv.Atoi(tl[1:])
	if err != nil || level < 0 || level > 255 {
		return CodecInfo{}, codecStringError("invalid HEVC level in %q", s)
	}

	return CodecInfo{
		Family:     CodecFamilyHEVC,
		Profile:    profile,
		Constraint: uint32(compat),
		Tier:       tier,
		Level:      level,
	}, nil
}

// parseVP9CodecString parses vp09.PP.LL.DD.
func parseVP9CodecString(s string) (CodecInfo, error) {
	fields := strings.Split(s[len("vp09."):], ".")
	if len(fields) < 3 {
		return CodecInfo{}, codecStringError("invalid VP9 codec string %q", s)
	}
	profile, err := strconv.Atoi(fields[0])
	if err != nil || profile < 0 || profile > 3 {
		return CodecInfo{}, codecStringError("invalid VP9 profile in %q", s)
	}
	level, err := strconv.Atoi(fields[1])
	if err != nil || level < 0 {
		return CodecInfo{}, codecStringError("invalid VP9 level in %q", s)
	}
	depth, err := strconv.Atoi(fields[2])
	if err != nil || (depth != 8 && depth != 10 && depth != 12) {
		return CodecInfo{}, codecStringError("invalid VP9 bit depth in %q", s)
	}
	return CodecInfo{
		Family:   CodecFamilyVP9,
		Profile:  profile,
		Level:    level,
		BitDepth: depth,
	}, nil
}

// parseAV1CodecString parses av01.P.LLT.DD with optional trailing
// fields (chroma subsampling, color description) which are accepted and
// ignored.
func parseAV1CodecString(s string) (CodecInfo, error) {
	fields := strings.Split(s[len("av01."):], ".")
	if len(fields) < 3 {
		return CodecInfo{}, codecStringError("invalid AV1 codec string %q", s)
	}
	profile, err := strconv.Atoi(fields[0])
	if err != nil || profile < 0 || profile > 2 {
		return CodecInfo{}, codecStringError("invalid AV1 profile in %q", s)
	}

	lt := fields[1]
	if len(lt) < 2 {
		return CodecInfo{}, codecStringError("invalid AV1 level/tier in %q", s)
	}
	tier := 0
	switch lt[len(lt)-1] {
	case 'M':
		tier = 0
	case 'H':
		tier = 1
	default:
		return CodecInfo{}, codecStringError("invalid AV1 tier in %q", s)
	}
	level, err := strconv.Atoi(lt[:len(lt)-1])
	if err != nil || level < 0 || level > 31 {
		return CodecInfo{}, codecStringError("invalid AV1 level in %q", s)
	}

	depth, err := strconv.Atoi(fields[2])
	if err != nil || (depth != 8 && depth != 10 && depth != 12) {
		return CodecInfo{}, codecStringError("invalid AV1 bit depth: %s", fields[2])
	}

	return CodecInfo{
		Family:   CodecFamilyAV1,
		Profile:  profile,
		Tier:     tier,
		Level:    level,
		BitDepth: depth,
	}, nil
}
