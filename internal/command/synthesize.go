// Package command implements the Command Synthesizer: a pure function from
// a camera record to the exact FFmpeg invocation string the streaming
// server should run, covering the four supported encoder variants.
package command

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mrmees/ravens-perch/internal/config"
	"github.com/mrmees/ravens-perch/internal/hardware"
)

// Record is the subset of the camera record the synthesizer consumes. It
// intentionally does not depend on the store package so this package stays
// a leaf with no cyclic import back to storage.
type Record struct {
	UID          string
	DevicePath   string
	InputFormat  string
	Width        int
	Height       int
	Framerate    int
	BitrateKbp   int
	Rotation     int // 0, 90, 180, 270
	Encoder      hardware.Encoder
	OverlayPath  string
	VideoProfile string // software encoder only
	VideoLevel   string
	Preset       string
}

// Endpoint names where the synthesized command should publish to.
type Endpoint struct {
	Host     string
	RTSPPort int
}

// Synthesize builds the FFmpeg command line. Equal (Record, Endpoint) pairs
// always produce byte-identical output (SPEC_FULL.md §4.5, testable
// property 8) — there is no randomness, no timestamp, no map iteration in
// the construction path below.
func Synthesize(r Record, ep Endpoint) string {
	var b strings.Builder
	b.WriteString("ffmpeg -f v4l2")
	if r.Framerate > 0 {
		fmt.Fprintf(&b, " -framerate %d", r.Framerate)
	}
	if r.Width > 0 && r.Height > 0 {
		fmt.Fprintf(&b, " -video_size %dx%d", r.Width, r.Height)
	}
	if r.InputFormat != "" {
		fmt.Fprintf(&b, " -input_format %s", r.InputFormat)
	}
	fmt.Fprintf(&b, " -i %s", r.DevicePath)

	if overlay := overlayInput(r); overlay != "" {
		b.WriteString(overlay)
	}

	if filter := filterChain(r); filter != "" {
		fmt.Fprintf(&b, " %s", filter)
	}

	fmt.Fprintf(&b, " %s", encoderFlags(r))

	if r.BitrateKbp > 0 {
		fmt.Fprintf(&b, " -b:v %dk", r.BitrateKbp)
	}

	fmt.Fprintf(&b, " -f rtsp rtsp://%s:%d/%s", ep.Host, ep.RTSPPort, r.UID)
	return b.String()
}

// overlayInput adds the administrator-supplied overlay file as a second
// input when present. The core never inspects its contents (SPEC_FULL.md
// §9 open question — overlay / print status is an external collaborator's
// concern).
func overlayInput(r Record) string {
	if r.OverlayPath == "" {
		return ""
	}
	return fmt.Sprintf(" -i %s", r.OverlayPath)
}

// filterChain composes rotation with any hardware-upload filter the chosen
// encoder requires, and the overlay combination when an overlay input is
// present.
func filterChain(r Record) string {
	var parts []string

	if rot := rotationFilter(r.Rotation); rot != "" {
		parts = append(parts, rot)
	}

	switch r.Encoder {
	case hardware.EncoderVAAPI:
		parts = append(parts, "format=nv12,hwupload")
	}

	if r.OverlayPath != "" {
		return fmt.Sprintf("-filter_complex \"%soverlay=shortest=1[out]\" -map \"[out]\"", chainOrIdentity(parts))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("-vf '%s'", strings.Join(parts, ","))
}

func chainOrIdentity(parts []string) string {
	if len(parts) == 0 {
		return "[0:v][1:v]"
	}
	return fmt.Sprintf("[0:v]%s[base];[base][1:v]", strings.Join(parts, ","))
}

func rotationFilter(rotation int) string {
	switch rotation {
	case 90:
		return "transpose=1"
	case 180:
		return "hflip,vflip"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

// encoderFlags returns the codec flag set for the record's encoder variant,
// per SPEC_FULL.md §4.5's encoder table.
func encoderFlags(r Record) string {
	switch r.Encoder {
	case hardware.EncoderVAAPI:
		return "-vaapi_device /dev/dri/renderD128 -c:v h264_vaapi"
	case hardware.EncoderV4L2M2M:
		return "-c:v h264_v4l2m2m"
	case hardware.EncoderRKMPP:
		return "-c:v h264_rkmpp"
	default:
		preset := r.Preset
		if preset == "" {
			preset = "ultrafast"
		}
		flags := fmt.Sprintf("-c:v libx264 -preset %s", preset)
		if r.VideoProfile != "" {
			flags += " -profile:v " + r.VideoProfile
		}
		if r.VideoLevel != "" {
			flags += " -level " + r.VideoLevel
		}
		return flags
	}
}

// RecordFromCodec fills the software-encoder-only fields of a Record from
// the stream server's configured codec defaults. Call sites that already
// know the record's encoder is not "software" may skip this.
func RecordFromCodec(r Record, codec config.CodecConfig) Record {
	r.VideoProfile = codec.VideoProfile
	r.VideoLevel = codec.VideoLevel
	r.Preset = codec.Preset
	return r
}

// ContentHash returns a hash of the synthesized command, used by the Stream
// Supervisor to detect drift against the streaming server's currently
// configured command without storing the whole string twice.
func ContentHash(cmd string) string {
	sum := sha256.Sum256([]byte(cmd))
	return hex.EncodeToString(sum[:])
}
