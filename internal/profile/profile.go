// Package profile implements the Profile Selector: a pure function from a
// device's advertised capabilities and effective CPU score to the encoding
// profile the Reconciler should converge the streaming server toward.
package profile

import (
	"github.com/mrmees/ravens-perch/internal/device"
	"github.com/mrmees/ravens-perch/internal/hardware"
)

// formatPreference is the fixed fallback order when no override names a
// format, per SPEC_FULL.md §4.4 step 1: MJPEG first because it allows
// zero-copy pass-through at lower CPU cost.
var formatPreference = []string{"mjpeg", "h264", "yuyv"}

// tier is one row of the quality-tier table in SPEC_FULL.md §4.4.
type tier struct {
	minScore   int
	maxScore   int
	ceiling    device.Resolution
	targetFPS  int
	bitrateKbp int
}

var tiers = []tier{
	{1, 3, device.Resolution{Width: 640, Height: 480}, 10, 500},
	{4, 5, device.Resolution{Width: 640, Height: 480}, 15, 1000},
	{6, 7, device.Resolution{Width: 1280, Height: 720}, 15, 2000},
	{8, 9, device.Resolution{Width: 1280, Height: 720}, 15, 2000},
	{10, 10, device.Resolution{Width: 1280, Height: 720}, 30, 4000},
}

func tierFor(score int) tier {
	for _, t := range tiers {
		if score >= t.minScore && score <= t.maxScore {
			return t
		}
	}
	if score < tiers[0].minScore {
		return tiers[0]
	}
	return tiers[len(tiers)-1]
}

// Overrides carries administrator-set profile fields. A zero value field
// means "no override for this field". Resolution is a pointer so "no
// override" is distinguishable from 0x0.
type Overrides struct {
	Format     string
	Resolution *device.Resolution
	Framerate  int
	BitrateKbp int
}

// Profile is the Profile Selector's output, consumed by the Command
// Synthesizer and persisted onto the camera record.
type Profile struct {
	Format     string
	Resolution device.Resolution
	Framerate  int
	BitrateKbp int
	Encoder    hardware.Encoder
	Warning    string
}

// Select implements SPEC_FULL.md §4.4's algorithm. probe supplies hardware
// encoder availability; it may be nil, in which case encoder always
// resolves to software.
func Select(caps device.CapabilityMap, effectiveScore int, overrides Overrides, probe *hardware.Probe) Profile {
	format, formatWarning := selectFormat(caps, overrides)
	resolution, rateSet := selectResolutionAndRates(caps, format, effectiveScore, overrides)
	framerate, fpsWarning := selectFramerate(rateSet, effectiveScore, overrides)
	bitrate := selectBitrate(effectiveScore, overrides)
	encoder := selectEncoder(probe)

	warning := formatWarning
	if warning == "" {
		warning = fpsWarning
	}

	return Profile{
		Format:     format,
		Resolution: resolution,
		Framerate:  framerate,
		BitrateKbp: bitrate,
		Encoder:    encoder,
		Warning:    warning,
	}
}

func selectFormat(caps device.CapabilityMap, overrides Overrides) (string, string) {
	if overrides.Format != "" {
		if _, ok := caps.Formats[overrides.Format]; ok {
			return overrides.Format, ""
		}
		return fallbackFormat(caps), "override format not in capabilities, fell back"
	}
	return fallbackFormat(caps), ""
}

func fallbackFormat(caps device.CapabilityMap) string {
	for _, pref := range formatPreference {
		if _, ok := caps.Formats[pref]; ok {
			return pref
		}
	}
	for _, name := range caps.FormatNames() {
		return name
	}
	return ""
}

// selectResolutionAndRates picks the largest resolution at or under the
// tier ceiling, tie-broken toward an exact match with the tier target, and
// returns the framerates advertised for that resolution.
func selectResolutionAndRates(caps device.CapabilityMap, format string, effectiveScore int, overrides Overrides) (device.Resolution, []int) {
	fc, ok := caps.Formats[format]
	if !ok {
		return device.Resolution{}, nil
	}

	if overrides.Resolution != nil {
		if rates, ok := fc.Resolutions[*overrides.Resolution]; ok {
			return *overrides.Resolution, rates
		}
	}

	t := tierFor(effectiveScore)

	var best device.Resolution
	var bestRates []int
	haveBest := false
	for res, rates := range fc.Resolutions {
		if !res.LessOrEqual(t.ceiling) {
			continue
		}
		if !haveBest || res.Area() > best.Area() || (res.Area() == best.Area() && res == t.ceiling) {
			best = res
			bestRates = rates
			haveBest = true
		}
		if res == t.ceiling {
			best = res
			bestRates = rates
		}
	}
	if !haveBest {
		// Nothing fits under the ceiling; fall back to the smallest
		// advertised resolution rather than leaving the profile empty.
		for res, rates := range fc.Resolutions {
			if !haveBest || res.Area() < best.Area() {
				best = res
				bestRates = rates
				haveBest = true
			}
		}
	}
	return best, bestRates
}

func selectFramerate(advertised []int, effectiveScore int, overrides Overrides) (int, string) {
	if overrides.Framerate > 0 {
		for _, r := range advertised {
			if r == overrides.Framerate {
				return r, ""
			}
		}
	}
	t := tierFor(effectiveScore)

	best := 0
	for _, r := range advertised {
		if r <= t.targetFPS && r > best {
			best = r
		}
	}
	if best > 0 {
		return best, ""
	}
	// None advertised at or under target: smallest advertised.
	smallest := 0
	for _, r := range advertised {
		if smallest == 0 || r < smallest {
			smallest = r
		}
	}
	return smallest, ""
}

func selectBitrate(effectiveScore int, overrides Overrides) int {
	if overrides.BitrateKbp > 0 {
		return overrides.BitrateKbp
	}
	return tierFor(effectiveScore).bitrateKbp
}

// selectEncoder picks the first available hardware encoder, else software.
// SPEC_FULL.md §4.4 step 5 also requires a license-class match against the
// output codec; every hardware encoder this engine supports produces H.264,
// the only output codec it emits, so the license-class check degenerates
// to "available or not".
func selectEncoder(probe *hardware.Probe) hardware.Encoder {
	if probe == nil {
		return hardware.EncoderSoftware
	}
	if avail := probe.AvailableEncoders(); len(avail) > 0 {
		return avail[0]
	}
	return hardware.EncoderSoftware
}
