package device

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/mrmees/ravens-perch/internal/logging"
)

// RawAction is the normalized action carried by an Event Ingress message.
type RawAction int

const (
	RawAdd RawAction = iota
	RawRemove
)

// RawEvent is what the Event Ingress posts to the tracker: a path and an
// action, nothing else. The tracker is responsible for everything past
// that — fingerprinting, UID assignment, debounce, and state transitions.
type RawEvent struct {
	Path   string
	Action RawAction
}

// CapabilityProber resolves a device node to its fingerprint and capability
// map. Implemented by the hardware package against real V4L2 devices and by
// fakes in tests.
type CapabilityProber interface {
	Probe(path string) (Fingerprint, CapabilityMap, error)
}

// deviceNodePattern matches /dev/videoN and captures the index, used to
// keep only the lowest-index capture node per fingerprint (SPEC_FULL.md
// §4.3: "a single UVC device often exposes multiple /dev/videoN nodes").
var deviceNodePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

func nodeIndex(path string) (int, bool) {
	m := deviceNodePattern.FindStringSubmatch(path)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

type state int

const (
	stateUnknown state = iota
	statePresent
	stateAbsent
)

type trackedPath struct {
	state        state
	fingerprint  Fingerprint
	uid          string
	capabilities CapabilityMap
	timer        *time.Timer
}

// Tracker implements the Device Tracker state machine per SPEC_FULL.md §4.3.
// It has exactly one consumer: events are posted to Events() in arrival
// order per UID.
type Tracker struct {
	prober   CapabilityProber
	logger   *logging.Logger
	debounce time.Duration

	mu        sync.Mutex
	paths     map[string]*trackedPath
	ownerPath map[string]string // uid -> lowest-index device path currently owning it

	events chan Event
}

// NewTracker constructs a Tracker. debounce is the window within which
// repeated raw events for the same path collapse to a single emission.
func NewTracker(prober CapabilityProber, logger *logging.Logger, debounce time.Duration) *Tracker {
	return &Tracker{
		prober:    prober,
		logger:    logger,
		debounce:  debounce,
		paths:     make(map[string]*trackedPath),
		ownerPath: make(map[string]string),
		events:    make(chan Event, 64),
	}
}

// Events returns the channel the Reconciler drains each tick.
func (t *Tracker) Events() <-chan Event { return t.events }

// Observe feeds a raw ingress event into the debounced state machine. Safe
// for concurrent use; the Event Ingress is the only caller.
func (t *Tracker) Observe(raw RawEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tp, ok := t.paths[raw.Path]
	if !ok {
		tp = &trackedPath{state: stateUnknown}
		t.paths[raw.Path] = tp
	}

	if tp.timer != nil {
		tp.timer.Stop()
	}
	action := raw.Action
	tp.timer = time.AfterFunc(t.debounce, func() {
		t.settle(raw.Path, action)
	})
}

// settle runs once per debounce window per path: it re-probes the device
// (on add) and emits at most one event reflecting the net state change.
func (t *Tracker) settle(path string, action RawAction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tp := t.paths[path]
	if tp == nil {
		return
	}

	if action == RawRemove {
		t.handleRemove(path, tp)
		return
	}
	t.handleAdd(path, tp)
}

func (t *Tracker) handleAdd(path string, tp *trackedPath) {
	fp, caps, err := t.prober.Probe(path)
	if err != nil {
		t.logger.WithField("device_path", path).WithError(err).Warn("capability probe failed, skipping observation")
		return
	}

	uid := fp.UID()

	if owner, exists := t.ownerPath[uid]; exists && owner != path {
		if !t.isLowerIndex(path, owner) {
			// A lower-indexed sub-node already owns this fingerprint;
			// this node is a secondary capture node of the same camera.
			tp.state = statePresent
			tp.fingerprint = fp
			tp.uid = uid
			return
		}
		// This node is a lower index than the current owner: promote it
		// and keep the fingerprint identity the same, no new UID.
	}
	t.ownerPath[uid] = path

	switch tp.state {
	case stateUnknown, stateAbsent:
		tp.state = statePresent
		tp.fingerprint = fp
		tp.uid = uid
		tp.capabilities = caps
		t.emit(Event{Kind: Appeared, UID: uid, DevicePath: path, Fingerprint: fp, Capabilities: caps})
	case statePresent:
		if !caps.IsEmpty() && !sameCapabilities(tp.capabilities, caps) {
			tp.capabilities = caps
			t.emit(Event{Kind: Changed, UID: uid, DevicePath: path, Fingerprint: fp, Capabilities: caps})
		}
		// unchanged re-observation: no event
	}
}

func (t *Tracker) handleRemove(path string, tp *trackedPath) {
	if tp.state != statePresent {
		return
	}
	tp.state = stateAbsent
	uid := tp.uid
	if t.ownerPath[uid] == path {
		delete(t.ownerPath, uid)
	}
	t.emit(Event{Kind: Disappeared, UID: uid, DevicePath: path})
}

// isLowerIndex reports whether candidate has a lower /dev/videoN index than
// current. Non-video-node paths never displace an existing owner.
func (t *Tracker) isLowerIndex(candidate, current string) bool {
	ci, cok := nodeIndex(candidate)
	oi, ook := nodeIndex(current)
	if !cok || !ook {
		return false
	}
	return ci < oi
}

func sameCapabilities(a, b CapabilityMap) bool {
	if len(a.Formats) != len(b.Formats) {
		return false
	}
	for name, fc := range a.Formats {
		ofc, ok := b.Formats[name]
		if !ok || len(fc.Resolutions) != len(ofc.Resolutions) {
			return false
		}
		for res, rates := range fc.Resolutions {
			orates, ok := ofc.Resolutions[res]
			if !ok || !sameRates(rates, orates) {
				return false
			}
		}
	}
	return true
}

func sameRates(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Tracker) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.WithField("uid", ev.UID).Warn("device event channel full, dropping event")
	}
}

// String implements a compact debug representation, useful in logs and
// tests that print pending tracker state.
func (tp *trackedPath) String() string {
	return fmt.Sprintf("state=%d uid=%s fp=%s", tp.state, tp.uid, tp.fingerprint)
}

