package webcodecs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
)

const mp4Timescale = 90000

// MP4Writer writes encoded H.264 or H.265 chunks as fragmented MP4.
// The init segment is derived from the first key chunk, so the first
// call must carry either decoder-config metadata or in-band parameter
// sets. One fragment is emitted per group of pictures: samples buffer
// until the next key chunk (or Close) and are then flushed as a
// moof+mdat pair.
type MP4Writer struct {
	w      io.Writer
	family CodecFamily

	trackID uint32
	seq     uint32

	initDone bool
	pending  []mp4.FullSample
}

// NewMP4Writer creates a fragmented MP4 writer for the codec string's
// family. Only H.264 and H.265 have MP4 sample entries here.
func NewMP4Writer(w io.Writer, codec string) (*MP4Writer, error) {
	info, err := ParseCodecString(codec)
	if err != nil {
		return nil, err
	}
	switch info.Family {
	case CodecFamilyH264, CodecFamilyHEVC:
	default:
		return nil, unsupportedf("no MP4 sample entry for %s", info.Family)
	}
	return &MP4Writer{w: w, family: info.Family, trackID: 1, seq: 1}, nil
}

// WriteChunk appends one encoded chunk. Chunks must arrive in decode
// order with Annex B payloads, the way the encoders emit them.
func (m *MP4Writer) WriteChunk(chunk *EncodedVideoChunk, md *EncodedVideoChunkMetadata) error {
	if !m.initDone {
		if chunk.Type != ChunkTypeKey {
			return ErrKeyChunkRequired
		}
		if err := m.writeInit(chunk, md); err != nil {
			return err
		}
		m.initDone = true
	} else if chunk.Type == ChunkTypeKey {
		if err := m.flushFragment(); err != nil {
			return err
		}
	}

	data, err := m.sampleData(chunk.Data)
	if err != nil {
		return err
	}
	dur := uint32(chunk.Duration * mp4Timescale / 1000000)
	flags := mp4.NonSyncSampleFlags
	if chunk.Type == ChunkTypeKey {
		flags = mp4.SyncSampleFlags
	}
	m.pending = append(m.pending, mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Size:  uint32(len(data)),
			Dur:   dur,
		},
		DecodeTime: uint64(chunk.Timestamp) * mp4Timescale / 1000000,
		Data:       data,
	})
	return nil
}

// Output returns a callback suitable for VideoEncoderInit.Output that
// feeds every chunk into the writer.
func (m *MP4Writer) Output(onErr func(error)) func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {
	return func(chunk *EncodedVideoChunk, md *EncodedVideoChunkMetadata) {
		if err := m.WriteChunk(chunk, md); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// Close flushes the buffered fragment. It does not close the underlying
// writer.
func (m *MP4Writer) Close() error {
	if !m.initDone {
		return nil
	}
	return m.flushFragment()
}

func (m *MP4Writer) flushFragment() error {
	if len(m.pending) == 0 {
		return nil
	}
	frag, err := mp4.CreateFragment(m.seq, m.trackID)
	if err != nil {
		return fmt.Errorf("create fragment: %w", err)
	}
	for i := range m.pending {
		frag.AddFullSample(m.pending[i])
	}
	if err := frag.Encode(m.w); err != nil {
		return fmt.Errorf("encode fragment: %w", err)
	}
	m.seq++
	m.pending = m.pending[:0]
	return nil
}

// writeInit builds the ftyp+moov init segment from the key chunk's
// parameter sets, preferring the metadata description over an in-band
// scan of the chunk.
func (m *MP4Writer) writeInit(chunk *EncodedVideoChunk, md *EncodedVideoChunkMetadata) error {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(mp4Timescale, "video", "und")
	trak := init.Moov.Trak

	var width, height int
	switch m.family {
	case CodecFamilyH264:
		sps, pps, err := m.avcParameterSets(chunk, md)
		if err != nil {
			return err
		}
		avcC, err := mp4.CreateAvcC(sps, pps, true)
		if err != nil {
			return fmt.Errorf("create avcC: %w", err)
		}
		parsed, err := ParseAVCSPS(sps[0])
		if err != nil {
			return err
		}
		width, height = parsed.Width, parsed.Height
		entry := mp4.CreateVisualSampleEntryBox("avc1", uint16(width), uint16(height), avcC)
		trak.Mdia.Minf.Stbl.Stsd.AddChild(entry)
	case CodecFamilyHEVC:
		vps, sps, pps, err := m.hevcParameterSets(chunk, md)
		if err != nil {
			return err
		}
		hvcC, err := mp4.CreateHvcC(vps, sps, pps, true, true, true, true)
		if err != nil {
			return fmt.Errorf("create hvcC: %w", err)
		}
		parsed, err := ParseHEVCSPS(sps[0])
		if err != nil {
			return err
		}
		width, height = parsed.Width, parsed.Height
		entry := mp4.CreateVisualSampleEntryBox("hvc1", uint16(width), uint16(height), hvcC)
		trak.Mdia.Minf.Stbl.Stsd.AddChild(entry)
	}

	trak.Tkhd.Width = mp4.Fixed32(width << 16)
	trak.Tkhd.Height = mp4.Fixed32(height << 16)
	return init.Encode(m.w)
}

func (m *MP4Writer) avcParameterSets(chunk *EncodedVideoChunk, md *EncodedVideoChunkMetadata) (sps, pps [][]byte, err error) {
	if md != nil && md.DecoderConfig != nil && len(md.DecoderConfig.Description) > 0 {
		cfg, err := ParseAVCDecoderConfig(md.DecoderConfig.Description)
		if err != nil {
			return nil, nil, err
		}
		return cfg.SPS, cfg.PPS, nil
	}
	st, err := ScanAVCAnnexB(chunk.Data)
	if err != nil {
		return nil, nil, err
	}
	if len(st.SPS) == 0 || len(st.PPS) == 0 {
		return nil, nil, fmt.Errorf("%w: key chunk carries no parameter sets", ErrInvalidBitstream)
	}
	return st.SPS, st.PPS, nil
}

func (m *MP4Writer) hevcParameterSets(chunk *EncodedVideoChunk, md *EncodedVideoChunkMetadata) (vps, sps, pps [][]byte, err error) {
	if md != nil && md.DecoderConfig != nil && len(md.DecoderConfig.Description) > 0 {
		cfg, err := ParseHEVCDecoderConfig(md.DecoderConfig.Description)
		if err != nil {
			return nil, nil, nil, err
		}
		return cfg.VPS, cfg.SPS, cfg.PPS, nil
	}
	st, err := ScanHEVCAnnexB(chunk.Data)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(st.SPS) == 0 || len(st.PPS) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: key chunk carries no parameter sets", ErrInvalidBitstream)
	}
	return st.VPS, st.SPS, st.PPS, nil
}

// sampleData converts an Annex B payload to 4-byte length-prefixed
// sample data, dropping parameter sets and access unit delimiters,
// which belong in the sample entry rather than the samples.
func (m *MP4Writer) sampleData(data []byte) ([]byte, error) {
	nalus := SplitAnnexB(data)
	if len(nalus) == 0 {
		return nil, fmt.Errorf("%w: no NAL units in chunk", ErrInvalidBitstream)
	}
	var out []byte
	for _, nalu := range nalus {
		if m.skipInSample(nalu) {
			continue
		}
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], uint32(len(nalu)))
		out = append(out, prefix[:]...)
		out = append(out, nalu...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: chunk holds only parameter sets", ErrInvalidBitstream)
	}
	return out, nil
}

func (m *MP4Writer) skipInSample(nalu []byte) bool {
	switch m.family {
	case CodecFamilyH264:
		switch AVCNALType(nalu) {
		case AVCNALSPS, AVCNALPPS, AVCNALAUD:
			return true
		}
	case CodecFamilyHEVC:
		switch HEVCNALType(nalu) {
		case HEVCNALVPS, HEVCNALSPS, HEVCNALPPS, HEVCNALAUD:
			return true
		}
	}
	return false
}
