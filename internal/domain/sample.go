package domain

import "time"

// Sample is one location fix reported by a device.
// timestamp is epoch seconds (UTC) on the wire.
type Sample struct {
	DeviceID  string  `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// AudioLevel is one ambient-noise metering reading in decibels.
type AudioLevel struct {
	DeviceID  string  `json:"device_id"`
	Decibels  float64 `json:"decibels"`
	Timestamp int64   `json:"timestamp"`
}

// ConversationSignal reports that the device's conversation detector fired.
type ConversationSignal struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
}

// Time converts an epoch-seconds wire timestamp.
func Time(epoch int64) time.Time { return time.Unix(epoch, 0).UTC() }

// Validation constraints (keep in sync with the HTTP docs)
const (
	MaxDeviceIDLen   = 128
	MaxBulkSamples   = 100
	MinDecibels      = -160
	MaxDecibels      = 200
	DefaultClockSkew = 5 * time.Minute
)
