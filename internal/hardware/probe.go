// Package hardware implements the Hardware Probe: CPU capability scoring,
// hardware-encoder feature detection, and UVC capability enumeration. Every
// query here is a pure read of host state, cached for the process lifetime
// per SPEC_FULL.md §4.2.
package hardware

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/mrmees/ravens-perch/internal/config"
)

// Encoder names the four transcoder encoder variants the spec names.
type Encoder string

const (
	EncoderSoftware Encoder = "software"
	EncoderVAAPI    Encoder = "vaapi"
	EncoderV4L2M2M  Encoder = "v4l2m2m"
	EncoderRKMPP    Encoder = "rkmpp"
)

// Probe answers the Hardware Probe's three pure queries. Results are
// computed once and cached; NewProbe performs the (possibly slow) initial
// detection eagerly so later calls never block on I/O.
type Probe struct {
	cfg config.HardwareConfig

	once        sync.Once
	cpuScore    int
	vaapi       bool
	v4l2m2m     bool
	rkmpp       bool
}

// NewProbe constructs a Probe and runs detection immediately.
func NewProbe(cfg config.HardwareConfig) *Probe {
	p := &Probe{cfg: cfg}
	p.detect()
	return p
}

func (p *Probe) detect() {
	p.once.Do(func() {
		p.cpuScore = p.computeCPUScore()
		p.vaapi = fileExists(p.cfg.VAAPIRenderNode)
		p.v4l2m2m = fileExists(p.cfg.V4L2M2MDevice)
		p.rkmpp = fileExists(p.cfg.RKMPPDevice)
	})
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// CPUScore returns the cached score in [1, 10].
func (p *Probe) CPUScore() int {
	p.detect()
	return p.cpuScore
}

// HasHardwareEncoder reports whether any of {vaapi, v4l2m2m, rkmpp} is
// available on this host.
func (p *Probe) HasHardwareEncoder() bool {
	p.detect()
	return p.vaapi || p.v4l2m2m || p.rkmpp
}

// AvailableEncoders returns the hardware encoders detected on this host, in
// the fixed preference order vaapi, v4l2m2m, rkmpp — the order the Profile
// Selector consults when picking "first available hardware encoder"
// (SPEC_FULL.md §4.4 step 5).
func (p *Probe) AvailableEncoders() []Encoder {
	p.detect()
	var out []Encoder
	if p.vaapi {
		out = append(out, EncoderVAAPI)
	}
	if p.v4l2m2m {
		out = append(out, EncoderV4L2M2M)
	}
	if p.rkmpp {
		out = append(out, EncoderRKMPP)
	}
	return out
}

// EffectiveScore is the CPU score plus a fixed bonus when a hardware
// encoder is present, clamped to the documented [1, 10] range.
func (p *Probe) EffectiveScore() int {
	score := p.CPUScore()
	if p.HasHardwareEncoder() {
		score += p.cfg.HardwareEncoderBonus
	}
	if score > 10 {
		score = 10
	}
	if score < 1 {
		score = 1
	}
	return score
}

// computeCPUScore derives a deterministic [1, 10] score from core count,
// nominal frequency, and architecture family, per SPEC_FULL.md §4.2. A
// configured override always wins, which is how fixture-driven tests pin
// an exact score (e.g. S1 requires CPU score 10) without depending on the
// host the test happens to run on.
func (p *Probe) computeCPUScore() int {
	if p.cfg.CPUScoreOverride > 0 {
		return p.cfg.CPUScoreOverride
	}

	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}

	var mhz float64
	if infos, err := cpu.InfoWithContext(context.Background()); err == nil {
		for _, info := range infos {
			mhz += info.Mhz
		}
		if len(infos) > 0 {
			mhz /= float64(len(infos))
		}
	}

	score := coreScore(cores) + frequencyBonus(mhz) + archBonus(runtime.GOARCH)
	if score > 10 {
		score = 10
	}
	if score < 1 {
		score = 1
	}
	return score
}

func coreScore(cores int) int {
	switch {
	case cores >= 8:
		return 6
	case cores >= 4:
		return 5
	case cores >= 2:
		return 3
	default:
		return 1
	}
}

func frequencyBonus(mhz float64) int {
	switch {
	case mhz >= 3000:
		return 3
	case mhz >= 2000:
		return 2
	case mhz > 0:
		return 1
	default:
		return 0
	}
}

func archBonus(arch string) int {
	switch arch {
	case "amd64", "arm64":
		return 1
	default:
		return 0
	}
}
