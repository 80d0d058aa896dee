package webcodecs

import "errors"

var (
	errBitstreamShort = errors.New("bitstream too short")
	errExpGolombRange = errors.New("exp-golomb value out of range")
)

// bitReader reads MSB-first bit fields from an RBSP buffer. Callers are
// expected to have removed emulation prevention bytes first.
type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func (r *bitReader) readBit() (uint32, error) {
	if r.pos >= len(r.data) {
		return 0, errBitstreamShort
	}
	b := (uint32(r.data[r.pos]) >> (7 - r.bit)) & 1
	r.bit++
	if r.bit == 8 {
		r.bit = 0
		r.pos++
	}
	return b, nil
}

func (r *bitReader) readBits(n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		b, err := r.readBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

// readUE reads an unsigned Exp-Golomb coded value (ue(v)).
func (r *bitReader) readUE() (uint32, error) {
	zeros := 0
	for {
		b, err := r.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errExpGolombRange
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	rest, err := r.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << uint(zeros)) - 1 + rest, nil
}

// readSE reads a signed Exp-Golomb coded value (se(v)).
func (r *bitReader) readSE() (int32, error) {
	v, err := r.readUE()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int32(v / 2), nil
	}
	return int32((v + 1) / 2), nil
}

func (r *bitReader) skipBits(n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.readBit(); err != nil {
			return err
		}
	}
	return nil
}

// skipScalingList consumes a scaling_list() of the given size.
func (r *bitReader) skipScalingList(size int) error {
	lastScale := int32(8)
	nextScale := int32(8)
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			delta, err := r.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}
