package webcodecs

import (
	"encoding/binary"
	"fmt"
)

// startCodeLength returns the length of the Annex B start code at
// data[i] (3 or 4), preferring the longest match, or 0 if there is none.
func startCodeLength(data []byte, i int) int {
	if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
		return 4
	}
	if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
		return 3
	}
	return 0
}

// SplitAnnexB splits an Annex B byte stream into NAL unit payloads
// (start codes stripped, emulation prevention bytes retained). Bytes
// before the first start code are ignored. Empty NAL units are dropped.
func SplitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	i := 0
	start := -1
	for i < len(data) {
		if n := startCodeLength(data, i); n > 0 {
			if start >= 0 && i > start {
				nalus = append(nalus, data[start:i])
			}
			i += n
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

// removeEmulationPrevention strips 0x03 bytes from 0x000003 sequences,
// turning a NAL payload into its RBSP.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for i := 0; i < len(data); i++ {
		b := data[i]
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// insertEmulationPrevention inserts 0x03 bytes so no 0x000000, 0x000001
// or 0x000002 sequence appears in the payload.
func insertEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/16)
	zeros := 0
	for i := 0; i < len(data); i++ {
		b := data[i]
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// AnnexBToLengthPrefixed converts an Annex B stream to length-prefixed
// form using lengthSize-byte big-endian NAL lengths (1, 2 or 4).
func AnnexBToLengthPrefixed(data []byte, lengthSize int) ([]byte, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("%w: NAL length size %d", ErrInvalidBitstream, lengthSize)
	}
	nalus := SplitAnnexB(data)
	if len(nalus) == 0 {
		return nil, fmt.Errorf("%w: no start codes found", ErrInvalidBitstream)
	}

	total := 0
	for _, nalu := range nalus {
		total += lengthSize + len(nalu)
	}
	out := make([]byte, 0, total)
	for _, nalu := range nalus {
		n := len(nalu)
		if lengthSize < 4 && n >= 1<<(8*lengthSize) {
			return nil, fmt.Errorf("%w: NAL unit of %d bytes does not fit %d-byte length", ErrInvalidBitstream, n, lengthSize)
		}
		switch lengthSize {
		case 1:
			out = append(out, byte(n))
		case 2:
			out = binary.BigEndian.AppendUint16(out, uint16(n))
		case 4:
			out = binary.BigEndian.AppendUint32(out, uint32(n))
		}
		out = append(out, nalu...)
	}
	return out, nil
}

// LengthPrefixedToAnnexB converts a length-prefixed stream back to
// Annex B form with 4-byte start codes.
func LengthPrefixedToAnnexB(data []byte, lengthSize int) ([]byte, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("%w: NAL length size %d", ErrInvalidBitstream, lengthSize)
	}
	out := make([]byte, 0, len(data)+16)
	for off := 0; off < len(data); {
		if off+lengthSize > len(data) {
			return nil, fmt.Errorf("%w: truncated NAL length at offset %d", ErrInvalidBitstream, off)
		}
		var n int
		switch lengthSize {
		case 1:
			n = int(data[off])
		case 2:
			n = int(binary.BigEndian.Uint16(data[off:]))
		case 4:
			n = int(binary.BigEndian.Uint32(data[off:]))
		}
		off += lengthSize
		if n == 0 || off+n > len(data) {
			return nil, fmt.Errorf("%w: NAL length %d exceeds remaining %d bytes", ErrInvalidBitstream, n, len(data)-off)
		}
		out = append(out, 0, 0, 0, 1)
		out = append(out, data[off:off+n]...)
		off += n
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty stream", ErrInvalidBitstream)
	}
	return out, nil
}
