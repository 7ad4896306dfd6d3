package models

import (
	"encoding/json"
	"time"
)

// TwinID identifies a device twin, or a module twin when ModuleID is set.
type TwinID struct {
	DeviceID string
	ModuleID string
}

// IsModule reports whether the ID addresses a module twin.
func (id TwinID) IsModule() bool {
	return id.ModuleID != ""
}

// String renders the ID as "device" or "device/module".
func (id TwinID) String() string {
	if id.ModuleID == "" {
		return id.DeviceID
	}
	return id.DeviceID + "/" + id.ModuleID
}

// TwinProperties holds the desired and reported sections of a twin.
// Their content is owned by the device and the back end; the client treats them as opaque maps.
type TwinProperties struct {
	Desired  map[string]any `json:"desired,omitempty"`
	Reported map[string]any `json:"reported,omitempty"`
}

// TwinDocument represents the current state of a device or module twin as returned by the hub.
type TwinDocument struct {
	DeviceID         string          `json:"deviceId"`
	ModuleID         string          `json:"moduleId,omitempty"`
	ETag             string          `json:"etag,omitempty"`
	Version          int64           `json:"version,omitempty"`
	Status           string          `json:"status,omitempty"`
	ConnectionState  string          `json:"connectionState,omitempty"`
	LastActivityTime *time.Time      `json:"lastActivityTime,omitempty"`
	Tags             map[string]any  `json:"tags,omitempty"`
	Properties       *TwinProperties `json:"properties,omitempty"`

	// Raw is the JSON element exactly as received. Projections such as
	// "SELECT deviceId FROM devices" only populate a subset of the typed fields.
	Raw json.RawMessage `json:"-"`
}

// ID returns the identifier of the twin.
func (t TwinDocument) ID() TwinID {
	return TwinID{DeviceID: t.DeviceID, ModuleID: t.ModuleID}
}

// Tag returns the tag value for key and whether it was present.
func (t TwinDocument) Tag(key string) (any, bool) {
	v, ok := t.Tags[key]
	return v, ok
}
