package store

import "time"

// Camera is the authoritative per-camera row, per SPEC_FULL.md §3.
type Camera struct {
	UID              string            `json:"uid"`
	DevicePath       string            `json:"device_path,omitempty"`
	HardwareName     string            `json:"hardware_name"`
	FriendlyName     string            `json:"friendly_name"`
	VendorID         string            `json:"vendor_id"`
	ProductID        string            `json:"product_id"`
	Serial           string            `json:"serial,omitempty"`
	BusPath          string            `json:"bus_path"`
	Capabilities     CapabilitySnapshot `json:"capabilities"`
	Format           string            `json:"format"`
	Resolution       string            `json:"resolution"` // "WIDTHxHEIGHT"
	Framerate        int               `json:"framerate"`
	BitrateKbp       int               `json:"bitrate_kbps"`
	Rotation         int               `json:"rotation"`
	Encoder          string            `json:"encoder"`
	InputFormat      string            `json:"input_format"`
	Controls         map[string]int    `json:"controls,omitempty"`
	MoonrakerEnabled bool              `json:"moonraker_enabled"`
	Enabled          bool              `json:"enabled"`
	Connected        bool              `json:"connected"`
	OverlayPath      string            `json:"overlay_path,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CapabilitySnapshot is the JSON-serializable form of device.CapabilityMap.
// The store package does not import internal/device to avoid a cycle (the
// hardware/device packages sit below store in the dependency graph); the
// Reconciler translates between the two shapes.
type CapabilitySnapshot struct {
	Formats map[string]map[string][]int `json:"formats"` // format -> "WxH" -> framerates
}

// IsEmpty reports whether no formats were captured.
func (c CapabilitySnapshot) IsEmpty() bool { return len(c.Formats) == 0 }

// Settings is the Settings Store's singleton row (SPEC_FULL.md §3).
type Settings struct {
	CPUThreshold       int    `json:"cpu_threshold"`
	OrchestrationURL   string `json:"orchestration_url"`
	LogLevel           string `json:"log_level"`
	BaseHost           string `json:"base_host"`
}

// LogEntry is one row of the append-only `logs` table SPEC_FULL.md §6
// requires alongside `cameras` and `settings`: (ts, level, camera_uid?,
// message).
type LogEntry struct {
	TS        time.Time `json:"ts"`
	Level     string    `json:"level"`
	CameraUID string    `json:"camera_uid,omitempty"`
	Message   string    `json:"message"`
}
