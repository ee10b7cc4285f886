// Package device implements the Device Tracker: it turns raw hotplug
// notifications from the Event Ingress into a stable set of logical
// cameras, each identified by a durable UID derived from hardware
// properties, with no dependency on loose dictionaries or `interface{}`
// payloads anywhere on the hot path.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Fingerprint is the tuple of hardware attributes a UID is derived from.
// When Serial is empty, BusPath disambiguates otherwise-identical devices
// plugged into different ports (accepted limitation: such a UID is not
// stable across port changes, see SPEC_FULL.md §9).
type Fingerprint struct {
	VendorID  string
	ProductID string
	Serial    string
	BusPath   string
}

// UID derives the stable short identifier for this fingerprint. Equal
// fingerprints always hash to the same UID; the function is pure.
func (f Fingerprint) UID() string {
	sum := sha256.Sum256([]byte(f.VendorID + "\x00" + f.ProductID + "\x00" + f.Serial + "\x00" + f.BusPath))
	return hex.EncodeToString(sum[:])[:16]
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s:%s serial=%q bus=%q", f.VendorID, f.ProductID, f.Serial, f.BusPath)
}

// Resolution is a decoded WIDTHxHEIGHT capability key.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

// Area reports pixel count, used to rank resolutions against a ceiling.
func (r Resolution) Area() int { return r.Width * r.Height }

// LessOrEqual reports whether r fits within the ceiling on both axes.
func (r Resolution) LessOrEqual(ceiling Resolution) bool {
	return r.Width <= ceiling.Width && r.Height <= ceiling.Height
}

// FormatCapability is the set of resolutions (unordered) and their supported
// framerates advertised for one pixel format.
type FormatCapability struct {
	Format      string
	Resolutions map[Resolution][]int // framerates, descending by frame count
}

// CapabilityMap is the structured replacement for the spec's loose
// "format -> resolution -> framerates" dictionary. It is never
// constructed with nil inner maps so callers can range over it safely.
type CapabilityMap struct {
	Formats map[string]FormatCapability
}

// NewCapabilityMap returns an empty, ready-to-use map.
func NewCapabilityMap() CapabilityMap {
	return CapabilityMap{Formats: make(map[string]FormatCapability)}
}

// IsEmpty reports whether no formats were advertised at all — a condition
// the Reconciler must never persist over a device's last-known capabilities
// (SPEC_FULL.md §3 invariants).
func (c CapabilityMap) IsEmpty() bool { return len(c.Formats) == 0 }

// Add merges a resolution/framerate set into a format, keeping framerates
// sorted descending and deduplicated as the spec requires. Callers may
// invoke Add more than once for the same (format, res) pair — one v4l2-ctl
// "Interval:" line at a time — and the framerates accumulate rather than
// replace what was already recorded.
func (c CapabilityMap) Add(format string, res Resolution, framerates []int) {
	fc, ok := c.Formats[format]
	if !ok {
		fc = FormatCapability{Format: format, Resolutions: make(map[Resolution][]int)}
	}

	merged := append(append([]int(nil), fc.Resolutions[res]...), framerates...)
	sort.Sort(sort.Reverse(sort.IntSlice(merged)))
	merged = dedupeInts(merged)

	fc.Resolutions[res] = merged
	c.Formats[format] = fc
}

// dedupeInts removes adjacent duplicates from a descending-sorted slice.
func dedupeInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// FormatNames returns the advertised pixel format names, sorted
// alphabetically.
func (c CapabilityMap) FormatNames() []string {
	names := make([]string, 0, len(c.Formats))
	for name := range c.Formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
