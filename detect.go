package webcodecs

// DetectVideoCodec guesses the codec family of raw video bitstream
// data. It recognizes:
//   - H.264/AVC and H.265/HEVC in Annex B framing
//   - IVF files ("DKIF") carrying VP8, VP9 or AV1
//   - bare VP8 keyframes, VP9 frames and AV1 OBUs
//
// Returns CodecFamilyUnknown when nothing matches. Length-prefixed
// AVC/HEVC cannot be told apart from arbitrary data without the
// configuration record, so it is not probed here.
func DetectVideoCodec(data []byte) CodecFamily {
	if len(data) < 4 {
		return CodecFamilyUnknown
	}

	if n := startCodeLength(data, 0); n > 0 {
		return detectAnnexBFamily(data[n:])
	}

	// IVF header (VP8/VP9/AV1)
	if len(data) >= 32 && string(data[0:4]) == "DKIF" {
		switch string(data[8:12]) {
		case "VP80":
			return CodecFamilyVP8
		case "VP90":
			return CodecFamilyVP9
		case "AV01":
			return CodecFamilyAV1
		}
	}

	if isVP8Keyframe(data) {
		return CodecFamilyVP8
	}
	if isVP9Frame(data) {
		return CodecFamilyVP9
	}
	if isAV1OBU(data) {
		return CodecFamilyAV1
	}
	return CodecFamilyUnknown
}

// detectAnnexBFamily inspects the first NAL unit header after a start
// code. The H.264 and H.265 header layouts overlap, so H.265 is checked
// first on its stricter two-byte shape.
func detectAnnexBFamily(nal []byte) CodecFamily {
	if len(nal) < 2 {
		return CodecFamilyUnknown
	}
	// H.265: forbidden_zero_bit 0, layer id 0 for the base layer,
	// TID+1 nonzero.
	if nal[0]&0x80 == 0 && nal[1]&0x07 != 0 {
		hevcType := (nal[0] >> 1) & 0x3F
		if isHEVCDetectType(hevcType) && nal[0]&0x01 == 0 && nal[1]>>3 == 0 {
			return CodecFamilyHEVC
		}
	}
	// H.264: forbidden_zero_bit 0, 5-bit type.
	if nal[0]&0x80 == 0 {
		avcType := nal[0] & 0x1F
		if (avcType >= 1 && avcType <= 12) || (avcType >= 19 && avcType <= 21) {
			return CodecFamilyH264
		}
	}
	return CodecFamilyUnknown
}

// isHEVCDetectType accepts NAL types a raw H.265 stream plausibly
// starts with: slice segments, parameter sets, AUD.
func isHEVCDetectType(t byte) bool {
	switch t {
	case HEVCNALIDRWRADL, HEVCNALIDRNLP, HEVCNALCRA,
		HEVCNALVPS, HEVCNALSPS, HEVCNALPPS, HEVCNALAUD:
		return true
	}
	return t <= 9 // non-IRAP slice segments
}

// DetectBitstreamFormat guesses whether AVC/HEVC data is Annex B or
// length-prefixed. The probe assumes a 4-byte length prefix, the only
// size encoders in the wild emit. The second return value reports
// whether the data matched either framing.
func DetectBitstreamFormat(data []byte) (BitstreamFormat, bool) {
	if startCodeLength(data, 0) > 0 {
		return BitstreamAnnexB, true
	}
	if len(data) >= 8 {
		length := int(data[0])<<24 | int(data[1])<<16 | int(data[2])<<8 | int(data[3])
		if length > 0 && length+4 <= len(data) {
			return BitstreamLengthPrefixed, true
		}
	}
	return BitstreamLengthPrefixed, false
}

// isVP8Keyframe checks the RFC 6386 keyframe signature: a frame tag
// with the keyframe bit clear followed by the 0x9D012A start code.
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 {
		return false
	}
	if data[0]&0x01 != 0 {
		return false
	}
	return data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A
}

// isVP9Frame checks the 2-bit frame marker (always 0b10) that opens a
// VP9 uncompressed header.
func isVP9Frame(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	return (data[0]>>6)&0x03 == 0x02
}

// isAV1OBU checks for a plausible OBU header: forbidden bit clear and a
// defined obu_type.
func isAV1OBU(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	if data[0]&0x80 != 0 {
		return false
	}
	obuType := (data[0] >> 3) & 0x0F
	return (obuType >= 1 && obuType <= 8) || obuType == 15
}

// DetectAudioCodec guesses the codec family of raw audio data. It
// recognizes Ogg-encapsulated Opus, FLAC stream markers, and AAC ADTS
// frames. Raw Opus packets carry no signature and are not probed.
func DetectAudioCodec(data []byte) CodecFamily {
	if len(data) < 4 {
		return CodecFamilyUnknown
	}
	if string(data[0:4]) == "OggS" {
		if len(data) >= 36 && string(data[28:36]) == "OpusHead" {
			return CodecFamilyOpus
		}
		return CodecFamilyUnknown
	}
	if string(data[0:4]) == "fLaC" {
		return CodecFamilyFLAC
	}
	if isAACAdts(data) {
		return CodecFamilyAAC
	}
	return CodecFamilyUnknown
}

// isAACAdts checks the 12-bit 0xFFF syncword and zero layer bits of an
// ADTS header.
func isAACAdts(data []byte) bool {
	if len(data) < 7 {
		return false
	}
	if data[0] != 0xFF || (data[1]&0xF0) != 0xF0 {
		return false
	}
	return (data[1]>>1)&0x03 == 0
}
