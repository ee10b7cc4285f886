package device

import (
	"fmt"
	"testing"
	"time"

	"github.com/mrmees/ravens-perch/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	byPath map[string]Fingerprint
	caps   CapabilityMap
	err    error
}

func (f *fakeProber) Probe(path string) (Fingerprint, CapabilityMap, error) {
	if f.err != nil {
		return Fingerprint{}, CapabilityMap{}, f.err
	}
	fp, ok := f.byPath[path]
	if !ok {
		return Fingerprint{}, CapabilityMap{}, fmt.Errorf("no fingerprint stubbed for %s", path)
	}
	return fp, f.caps, nil
}

func mjpegCaps() CapabilityMap {
	c := NewCapabilityMap()
	c.Add("mjpeg", Resolution{1280, 720}, []int{30, 15})
	c.Add("mjpeg", Resolution{640, 480}, []int{30})
	return c
}

func testLogger() *logging.Logger { return logging.NewLogger("test") }

func drainOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTracker_FirstObservation_EmitsAppeared(t *testing.T) {
	fp := Fingerprint{VendorID: "046d", ProductID: "0825", Serial: "ABC123", BusPath: "usb-1-1"}
	prober := &fakeProber{byPath: map[string]Fingerprint{"/dev/video0": fp}, caps: mjpegCaps()}
	tr := NewTracker(prober, testLogger(), 20*time.Millisecond)

	tr.Observe(RawEvent{Path: "/dev/video0", Action: RawAdd})
	ev := drainOne(t, tr.Events())

	assert.Equal(t, Appeared, ev.Kind)
	assert.Equal(t, fp.UID(), ev.UID)
	assert.False(t, ev.Capabilities.IsEmpty())
}

func TestTracker_Debounce_CollapsesBurstToOneEmission(t *testing.T) {
	fp := Fingerprint{VendorID: "046d", ProductID: "0825", Serial: "ABC123", BusPath: "usb-1-1"}
	prober := &fakeProber{byPath: map[string]Fingerprint{"/dev/video0": fp}, caps: mjpegCaps()}
	tr := NewTracker(prober, testLogger(), 50*time.Millisecond)

	for i := 0; i < 10; i++ {
		tr.Observe(RawEvent{Path: "/dev/video0", Action: RawAdd})
	}

	ev := drainOne(t, tr.Events())
	assert.Equal(t, Appeared, ev.Kind)
	assertNoEvent(t, tr.Events())
}

func TestTracker_UnchangedReobservation_NoEvent(t *testing.T) {
	fp := Fingerprint{VendorID: "046d", ProductID: "0825", Serial: "ABC123", BusPath: "usb-1-1"}
	prober := &fakeProber{byPath: map[string]Fingerprint{"/dev/video0": fp}, caps: mjpegCaps()}
	tr := NewTracker(prober, testLogger(), 20*time.Millisecond)

	tr.Observe(RawEvent{Path: "/dev/video0", Action: RawAdd})
	drainOne(t, tr.Events())

	tr.Observe(RawEvent{Path: "/dev/video0", Action: RawAdd})
	assertNoEvent(t, tr.Events())
}

func TestTracker_Removal_EmitsDisappearedWithUID(t *testing.T) {
	fp := Fingerprint{VendorID: "046d", ProductID: "0825", Serial: "ABC123", BusPath: "usb-1-1"}
	prober := &fakeProber{byPath: map[string]Fingerprint{"/dev/video0": fp}, caps: mjpegCaps()}
	tr := NewTracker(prober, testLogger(), 20*time.Millisecond)

	tr.Observe(RawEvent{Path: "/dev/video0", Action: RawAdd})
	drainOne(t, tr.Events())

	tr.Observe(RawEvent{Path: "/dev/video0", Action: RawRemove})
	ev := drainOne(t, tr.Events())

	require.Equal(t, Disappeared, ev.Kind)
	assert.Equal(t, fp.UID(), ev.UID)
}

func TestTracker_TwoIdenticalCamerasDifferentBusPaths_DistinctUIDs(t *testing.T) {
	fp1 := Fingerprint{VendorID: "046d", ProductID: "0825", BusPath: "usb-1-1"}
	fp2 := Fingerprint{VendorID: "046d", ProductID: "0825", BusPath: "usb-1-2"}
	prober := &fakeProber{byPath: map[string]Fingerprint{
		"/dev/video0": fp1,
		"/dev/video1": fp2,
	}, caps: mjpegCaps()}
	tr := NewTracker(prober, testLogger(), 20*time.Millisecond)

	tr.Observe(RawEvent{Path: "/dev/video0", Action: RawAdd})
	tr.Observe(RawEvent{Path: "/dev/video1", Action: RawAdd})

	ev1 := drainOne(t, tr.Events())
	ev2 := drainOne(t, tr.Events())

	assert.NotEqual(t, ev1.UID, ev2.UID)
}

func TestFingerprint_UID_IsPureAndStable(t *testing.T) {
	fp := Fingerprint{VendorID: "046d", ProductID: "0825", Serial: "ABC123", BusPath: "usb-1-1"}
	assert.Equal(t, fp.UID(), fp.UID())

	other := fp
	other.BusPath = "usb-1-2"
	assert.NotEqual(t, fp.UID(), other.UID())
}
