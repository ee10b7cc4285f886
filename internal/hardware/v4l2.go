package hardware

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mrmees/ravens-perch/internal/apierrors"
	"github.com/mrmees/ravens-perch/internal/device"
	"github.com/mrmees/ravens-perch/internal/logging"
)

// CommandRunner abstracts process execution so tests can stub v4l2-ctl and
// udevadm output without touching a real device node. RealCommandRunner
// wraps exec.CommandContext.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// RealCommandRunner shells out for real via exec.CommandContext.
type RealCommandRunner struct{}

func (RealCommandRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// V4L2Prober implements device.CapabilityProber against real UVC hardware
// via v4l2-ctl (format/resolution/framerate enumeration) and udevadm
// (vendor/product/serial/bus-path fingerprinting), parsing their text
// output into a device.Fingerprint and a device.CapabilityMap.
type V4L2Prober struct {
	runner  CommandRunner
	logger  *logging.Logger
	timeout time.Duration
}

// NewV4L2Prober constructs a prober. timeout bounds each v4l2-ctl/udevadm
// invocation so a wedged device node can never stall a reconcile tick.
func NewV4L2Prober(runner CommandRunner, logger *logging.Logger, timeout time.Duration) *V4L2Prober {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &V4L2Prober{runner: runner, logger: logger, timeout: timeout}
}

// Probe satisfies device.CapabilityProber.
func (p *V4L2Prober) Probe(path string) (device.Fingerprint, device.CapabilityMap, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	fp, err := p.fingerprint(ctx, path)
	if err != nil {
		return device.Fingerprint{}, device.CapabilityMap{}, err
	}

	caps, err := p.capabilities(ctx, path)
	if err != nil {
		return device.Fingerprint{}, device.CapabilityMap{}, err
	}
	if caps.IsEmpty() {
		return device.Fingerprint{}, device.CapabilityMap{}, apierrors.Protocol("probe", path, "device advertised no formats", nil)
	}
	return fp, caps, nil
}

// fingerprint runs `udevadm info -q property` and extracts the hardware
// identity tuple. A device lacking USB identity (e.g. a virtual loopback
// node) falls back to BusPath-only identification via the DEVPATH property.
func (p *V4L2Prober) fingerprint(ctx context.Context, path string) (device.Fingerprint, error) {
	out, err := p.runner.Run(ctx, "udevadm", "info", "-q", "property", "--name="+path)
	if err != nil {
		return device.Fingerprint{}, classifyRunError("fingerprint", path, err)
	}

	fp := device.Fingerprint{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "ID_VENDOR_ID":
			fp.VendorID = strings.ToLower(val)
		case "ID_MODEL_ID":
			fp.ProductID = strings.ToLower(val)
		case "ID_SERIAL_SHORT":
			fp.Serial = val
		case "ID_PATH":
			fp.BusPath = val
		case "DEVPATH":
			if fp.BusPath == "" {
				fp.BusPath = val
			}
		}
	}
	if fp.BusPath == "" {
		fp.BusPath = path
	}
	return fp, nil
}

// capabilities enumerates pixel formats, resolutions, and framerates via
// `v4l2-ctl --list-formats-ext`, parsing its block-structured output.
func (p *V4L2Prober) capabilities(ctx context.Context, path string) (device.CapabilityMap, error) {
	out, err := p.runner.Run(ctx, "v4l2-ctl", "--device", path, "--list-formats-ext")
	if err != nil {
		return device.CapabilityMap{}, classifyRunError("capabilities", path, err)
	}
	return parseFormatsExt(out), nil
}

func classifyRunError(op, path string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "permission denied"):
		return apierrors.BadRequest(op, "permission denied opening "+path)
	case strings.Contains(msg, "device or resource busy"):
		return apierrors.Busy(op, path, "device busy")
	case strings.Contains(msg, "no such device") || strings.Contains(msg, "No such file"):
		return apierrors.NotFound(op, path, "device node not present")
	default:
		return apierrors.Unreachable(op, path, "command failed: "+msg, err)
	}
}

// parseFormatsExt parses v4l2-ctl --list-formats-ext output. Format blocks
// look like:
//
//	[0]: 'MJPG' (Motion-JPEG, compressed)
//		Size: Discrete 1280x720
//			Interval: Discrete 0.033s (30.000 fps)
//			Interval: Discrete 0.067s (15.000 fps)
//		Size: Discrete 640x480
//			Interval: Discrete 0.033s (30.000 fps)
func parseFormatsExt(output string) device.CapabilityMap {
	caps := device.NewCapabilityMap()

	var currentFormat string
	var currentRes device.Resolution
	var haveRes bool

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, "[") {
			currentFormat = extractQuoted(line)
			haveRes = false
			continue
		}
		if strings.HasPrefix(line, "Size:") {
			currentRes, haveRes = parseSizeToken(line)
			continue
		}
		if strings.HasPrefix(line, "Interval:") && haveRes && currentFormat != "" {
			if fps, ok := parseFPSToken(line); ok {
				caps.Add(normalizeFormat(currentFormat), currentRes, []int{fps})
			}
		}
	}
	return caps
}

func extractQuoted(line string) string {
	start := strings.IndexByte(line, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(line[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return line[start+1 : start+1+end]
}

func parseSizeToken(line string) (device.Resolution, bool) {
	fields := strings.Fields(line)
	for _, f := range fields {
		if w, h, ok := strings.Cut(f, "x"); ok {
			width, err1 := strconv.Atoi(w)
			height, err2 := strconv.Atoi(h)
			if err1 == nil && err2 == nil {
				return device.Resolution{Width: width, Height: height}, true
			}
		}
	}
	return device.Resolution{}, false
}

func parseFPSToken(line string) (int, bool) {
	open := strings.IndexByte(line, '(')
	shut := strings.IndexByte(line, ')')
	if open < 0 || shut < 0 || shut <= open {
		return 0, false
	}
	inner := line[open+1 : shut]
	fpsStr, _, _ := strings.Cut(inner, " fps")
	f, err := strconv.ParseFloat(strings.TrimSpace(fpsStr), 64)
	if err != nil {
		return 0, false
	}
	return int(f + 0.5), true
}

// normalizeFormat maps the V4L2 fourcc names this engine cares about to the
// lowercase tokens used throughout SPEC_FULL.md §4.4's profile table.
func normalizeFormat(fourcc string) string {
	switch strings.ToUpper(fourcc) {
	case "MJPG":
		return "mjpeg"
	case "YUYV":
		return "yuyv"
	case "H264":
		return "h264"
	default:
		return strings.ToLower(fourcc)
	}
}
