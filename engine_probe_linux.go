//go:build linux

package webcodecs

import "github.com/ebitengine/purego"

// Hardware engine probes. Each probe dlopen()s the vendor runtime; a
// successful load means the driver stack is installed, not that a
// suitable device is present. Session creation still decides per codec.
func init() {
	probe := func(engine Engine, lib string, codecs map[CodecFamily]CodecSupport) {
		if _, err := purego.Dlopen(lib, purego.RTLD_LAZY); err != nil {
			return
		}
		setEngineAvailable(engine)
		setEngineProbedCodecs(engine, codecs)
	}

	probe(EngineNVIDIA, "libnvidia-encode.so.1", map[CodecFamily]CodecSupport{
		CodecFamilyH264: {Encoder: true, Decoder: true},
		CodecFamilyHEVC: {Encoder: true, Decoder: true},
		CodecFamilyAV1:  {Encoder: true, Decoder: true},
		CodecFamilyVP9:  {Decoder: true},
	})
	probe(EngineIntelVPL, "libvpl.so.2", map[CodecFamily]CodecSupport{
		CodecFamilyH264: {Encoder: true, Decoder: true},
		CodecFamilyHEVC: {Encoder: true, Decoder: true},
		CodecFamilyAV1:  {Encoder: true, Decoder: true},
		CodecFamilyVP9:  {Encoder: true, Decoder: true},
	})
	probe(EngineAMDAMF, "libamfrt64.so.1", map[CodecFamily]CodecSupport{
		CodecFamilyH264: {Encoder: true, Decoder: true},
		CodecFamilyHEVC: {Encoder: true, Decoder: true},
		CodecFamilyAV1:  {Encoder: true, Decoder: true},
	})
}
