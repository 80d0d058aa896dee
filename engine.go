package webcodecs

import (
	"sync"
	"sync/atomic"
)

// Engine identifies a coding engine backing encoder and decoder
// pipelines.
type Engine uint8

const (
	// EngineSoftware is the in-process software engine. It is always
	// present; which codec families it serves depends on the support
	// libraries found at runtime.
	EngineSoftware Engine = iota
	EngineVideoToolbox
	EngineNVIDIA
	EngineIntelVPL
	EngineAMDAMF
	engineCount
)

// engineMeta contains static metadata about an engine.
type engineMeta struct {
	Name     string
	Platform string
	Hardware bool
}

// Static metadata table, indexed by Engine.
var engineInfo = [engineCount]engineMeta{
	EngineSoftware:     {"software", "all", false},
	EngineVideoToolbox: {"apple-video-toolbox", "darwin", true},
	EngineNVIDIA:       {"nvidia-video-codec", "linux windows", true},
	EngineIntelVPL:     {"intel-vpl", "linux windows", true},
	EngineAMDAMF:       {"amd-amf", "linux windows", true},
}

// Runtime availability, set by probe init() functions.
var engineAvailable [engineCount]atomic.Bool

func init() {
	engineAvailable[EngineSoftware].Store(true)
}

// String returns the engine name.
func (e Engine) String() string {
	if e >= engineCount {
		return "unknown"
	}
	return engineInfo[e].Name
}

// Platform returns the platforms the engine exists on.
func (e Engine) Platform() string {
	if e >= engineCount {
		return ""
	}
	return engineInfo[e].Platform
}

// Hardware reports whether the engine uses dedicated hardware.
func (e Engine) Hardware() bool {
	if e >= engineCount {
		return false
	}
	return engineInfo[e].Hardware
}

// Available reports whether the engine is usable on this host.
func (e Engine) Available() bool {
	if e >= engineCount {
		return false
	}
	return engineAvailable[e].Load()
}

// setEngineAvailable marks an engine as available (called by probes).
func setEngineAvailable(e Engine) {
	if e < engineCount {
		engineAvailable[e].Store(true)
	}
}

// engineProbedCodecs records codec support reported by hardware probes
// for engines that have no registered sessions yet. Merged into
// Capabilities so callers can see what the hardware could serve.
var (
	engineProbedMu     sync.Mutex
	engineProbedCodecs [engineCount]map[CodecFamily]CodecSupport
)

func setEngineProbedCodecs(e Engine, codecs map[CodecFamily]CodecSupport) {
	if e >= engineCount {
		return
	}
	engineProbedMu.Lock()
	engineProbedCodecs[e] = codecs
	engineProbedMu.Unlock()
}

// CodecSupport reports coding directions an engine serves for a family.
type CodecSupport struct {
	Encoder bool
	Decoder bool
}

// EngineCapabilities describes one engine in a Capabilities report.
type EngineCapabilities struct {
	Available bool
	Platform  string
	Codecs    map[CodecFamily]CodecSupport
}

// sessionRegistry maps (family, engine) to session factories. Engine
// implementations register themselves from init(); tests register
// in-process engines the same way.
type sessionRegistry struct {
	mu            sync.RWMutex
	videoEncoders map[CodecFamily]map[Engine]videoEncodeFactory
	videoDecoders map[CodecFamily]map[Engine]videoDecodeFactory
	audioEncoders map[CodecFamily]map[Engine]audioEncodeFactory
	audioDecoders map[CodecFamily]map[Engine]audioDecodeFactory
}

var registry = &sessionRegistry{
	videoEncoders: make(map[CodecFamily]map[Engine]videoEncodeFactory),
	videoDecoders: make(map[CodecFamily]map[Engine]videoDecodeFactory),
	audioEncoders: make(map[CodecFamily]map[Engine]audioEncodeFactory),
	audioDecoders: make(map[CodecFamily]map[Engine]audioDecodeFactory),
}

func registerVideoEncodeSession(family CodecFamily, engine Engine, f videoEncodeFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.videoEncoders[family] == nil {
		registry.videoEncoders[family] = make(map[Engine]videoEncodeFactory)
	}
	registry.videoEncoders[family][engine] = f
}

func registerVideoDecodeSession(family CodecFamily, engine Engine, f videoDecodeFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.videoDecoders[family] == nil {
		registry.videoDecoders[family] = make(map[Engine]videoDecodeFactory)
	}
	registry.videoDecoders[family][engine] = f
}

func registerAudioEncodeSession(family CodecFamily, engine Engine, f audioEncodeFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.audioEncoders[family] == nil {
		registry.audioEncoders[family] = make(map[Engine]audioEncodeFactory)
	}
	registry.audioEncoders[family][engine] = f
}

func registerAudioDecodeSession(family CodecFamily, engine Engine, f audioDecodeFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.audioDecoders[family] == nil {
		registry.audioDecoders[family] = make(map[Engine]audioDecodeFactory)
	}
	registry.audioDecoders[family][engine] = f
}

// enginePreference orders engines for selection: hardware engines
// first, software last.
var enginePreference = []Engine{
	EngineVideoToolbox,
	EngineNVIDIA,
	EngineIntelVPL,
	EngineAMDAMF,
	EngineSoftware,
}

// selectVideoEncodeEngine picks the engine serving an encode for the
// family under the given acceleration preference.
func selectVideoEncodeEngine(family CodecFamily, accel HardwareAcceleration) (Engine, videoEncodeFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	engines := registry.videoEncoders[family]
	return pickEngine(family, accel, func(e Engine) bool { _, ok := engines[e]; return ok }, func(e Engine) videoEncodeFactory { return engines[e] })
}

func selectVideoDecodeEngine(family CodecFamily, accel HardwareAcceleration) (Engine, videoDecodeFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	engines := registry.videoDecoders[family]
	return pickEngine(family, accel, func(e Engine) bool { _, ok := engines[e]; return ok }, func(e Engine) videoDecodeFactory { return engines[e] })
}

func selectAudioEncodeEngine(family CodecFamily, accel HardwareAcceleration) (Engine, audioEncodeFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	engines := registry.audioEncoders[family]
	return pickEngine(family, accel, func(e Engine) bool { _, ok := engines[e]; return ok }, func(e Engine) audioEncodeFactory { return engines[e] })
}

func selectAudioDecodeEngine(family CodecFamily, accel HardwareAcceleration) (Engine, audioDecodeFactory, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	engines := registry.audioDecoders[family]
	return pickEngine(family, accel, func(e Engine) bool { _, ok := engines[e]; return ok }, func(e Engine) audioDecodeFactory { return engines[e] })
}

func pickEngine[F any](family CodecFamily, accel HardwareAcceleration, has func(Engine) bool, get func(Engine) F) (Engine, F, error) {
	var zero F
	for _, e := range enginePreference {
		if !e.Available() || !has(e) {
			continue
		}
		if accel == HardwareRequire && !e.Hardware() {
			continue
		}
		if accel == HardwareDeny && e.Hardware() {
			continue
		}
		return e, get(e), nil
	}
	return EngineSoftware, zero, unsupportedf("no engine for %s (%s)", family, accel)
}

// Capabilities reports every engine, its availability on this host, and
// the codec families it can encode or decode.
func Capabilities() map[Engine]EngineCapabilities {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	caps := make(map[Engine]EngineCapabilities, engineCount)
	for e := Engine(0); e < engineCount; e++ {
		caps[e] = EngineCapabilities{
			Available: e.Available(),
			Platform:  e.Platform(),
			Codecs:    make(map[CodecFamily]CodecSupport),
		}
	}
	add := func(e Engine, family CodecFamily, enc, dec bool) {
		c := caps[e]
		s := c.Codecs[family]
		s.Encoder = s.Encoder || enc
		s.Decoder = s.Decoder || dec
		c.Codecs[family] = s
	}
	for family, engines := range registry.videoEncoders {
		for e := range engines {
			add(e, family, true, false)
		}
	}
	for family, engines := range registry.videoDecoders {
		for e := range engines {
			add(e, family, false, true)
		}
	}
	for family, engines := range registry.audioEncoders {
		for e := range engines {
			add(e, family, true, false)
		}
	}
	for family, engines := range registry.audioDecoders {
		for e := range engines {
			add(e, family, false, true)
		}
	}
	engineProbedMu.Lock()
	for e := Engine(0); e < engineCount; e++ {
		for family, s := range engineProbedCodecs[e] {
			add(e, family, s.Encoder, s.Decoder)
		}
	}
	engineProbedMu.Unlock()
	return caps
}
