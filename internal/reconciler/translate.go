package reconciler

import (
	"strconv"
	"strings"

	"github.com/mrmees/ravens-perch/internal/device"
	"github.com/mrmees/ravens-perch/internal/profile"
	"github.com/mrmees/ravens-perch/internal/store"
)

// toCapabilitySnapshot converts the Device Tracker's structured capability
// map into the store package's JSON-serializable shape (SPEC_FULL.md §3's
// Camera.capabilities field). This is the one place the two shapes meet;
// neither device nor store imports the other.
func toCapabilitySnapshot(caps device.CapabilityMap) store.CapabilitySnapshot {
	snap := store.CapabilitySnapshot{Formats: make(map[string]map[string][]int, len(caps.Formats))}
	for name, fc := range caps.Formats {
		resolutions := make(map[string][]int, len(fc.Resolutions))
		for res, rates := range fc.Resolutions {
			resolutions[res.String()] = append([]int(nil), rates...)
		}
		snap.Formats[name] = resolutions
	}
	return snap
}

// toCapabilityMap is the inverse of toCapabilitySnapshot, used when a fresh
// probe comes back empty and the Reconciler must fall back to the last
// persisted capabilities per SPEC_FULL.md §3's invariant.
func toCapabilityMap(snap store.CapabilitySnapshot) device.CapabilityMap {
	caps := device.NewCapabilityMap()
	for format, resolutions := range snap.Formats {
		for key, rates := range resolutions {
			res, ok := parseResolution(key)
			if !ok {
				continue
			}
			caps.Add(format, res, rates)
		}
	}
	return caps
}

func parseResolution(s string) (device.Resolution, bool) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return device.Resolution{}, false
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return device.Resolution{}, false
	}
	return device.Resolution{Width: width, Height: height}, true
}

// overridesFromRecord treats an already-persisted camera's resolved profile
// as the Profile Selector's override input. SPEC_FULL.md §3's Camera record
// has no separate "desired override" sub-structure — format/resolution/
// framerate/bitrate ARE the desired profile — so a record surviving from a
// previous tick or a prior process lifetime is exactly the administrator's
// (or the Selector's own previous) choice, honored again as long as the
// current capabilities still support it (SPEC_FULL.md §8 testable property:
// overrides persist across restart).
func overridesFromRecord(existing store.Camera, hadRecord bool) profile.Overrides {
	if !hadRecord {
		return profile.Overrides{}
	}
	var res *device.Resolution
	if r, ok := parseResolution(existing.Resolution); ok {
		res = &r
	}
	return profile.Overrides{
		Format:     existing.Format,
		Resolution: res,
		Framerate:  existing.Framerate,
		BitrateKbp: existing.BitrateKbp,
	}
}
