//go:build darwin

package webcodecs

import "github.com/ebitengine/purego"

// VideoToolbox ships with macOS; the probe only confirms the framework
// loads. Coding sessions still go through the software engine unless a
// VideoToolbox support library is built in.
func init() {
	const framework = "/System/Library/Frameworks/VideoToolbox.framework/VideoToolbox"
	if _, err := purego.Dlopen(framework, purego.RTLD_LAZY); err != nil {
		return
	}
	setEngineAvailable(EngineVideoToolbox)
	setEngineProbedCodecs(EngineVideoToolbox, map[CodecFamily]CodecSupport{
		CodecFamilyH264: {Encoder: true, Decoder: true},
		CodecFamilyHEVC: {Encoder: true, Decoder: true},
		// Apple Silicon decodes VP9 and AV1 in hardware but does not
		// encode them.
		CodecFamilyVP9: {Decoder: true},
		CodecFamilyAV1: {Decoder: true},
	})
}
