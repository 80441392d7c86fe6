package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

func validateDevice(id string) []FieldError {
	if id == "" {
		return []FieldError{{"device_id", "required"}}
	}
	if len(id) > MaxDeviceIDLen {
		return []FieldError{{"device_id", fmt.Sprintf("max length %d", MaxDeviceIDLen)}}
	}
	return nil
}

// Timestamp: epoch seconds, not in the future (allow small skew)
func validateTimestamp(ts int64, now time.Time, skew time.Duration) []FieldError {
	if ts <= 0 {
		return []FieldError{{"timestamp", "required epoch seconds (UTC)"}}
	}
	if Time(ts).After(now.Add(skew)) {
		return []FieldError{{"timestamp", "must not be in the future (beyond allowed skew)"}}
	}
	return nil
}

// ValidateSample performs strict checks on a location sample.
// now: reference time (injectable for tests)
// skew: allowable future skew (positive duration)
func ValidateSample(s *Sample, now time.Time, skew time.Duration) []FieldError {
	errs := validateDevice(s.DeviceID)
	if math.IsNaN(s.Latitude) || s.Latitude < -90 || s.Latitude > 90 {
		errs = append(errs, FieldError{"latitude", "must be within [-90, 90]"})
	}
	if math.IsNaN(s.Longitude) || s.Longitude < -180 || s.Longitude > 180 {
		errs = append(errs, FieldError{"longitude", "must be within [-180, 180]"})
	}
	return append(errs, validateTimestamp(s.Timestamp, now, skew)...)
}

// ValidateAudioLevel checks an audio metering reading.
func ValidateAudioLevel(a *AudioLevel, now time.Time, skew time.Duration) []FieldError {
	errs := validateDevice(a.DeviceID)
	if math.IsNaN(a.Decibels) || a.Decibels < MinDecibels || a.Decibels > MaxDecibels {
		errs = append(errs, FieldError{"decibels", fmt.Sprintf("must be within [%d, %d]", MinDecibels, MaxDecibels)})
	}
	return append(errs, validateTimestamp(a.Timestamp, now, skew)...)
}

// ValidateConversation checks a conversation-detected signal.
func ValidateConversation(c *ConversationSignal, now time.Time, skew time.Duration) []FieldError {
	errs := validateDevice(c.DeviceID)
	return append(errs, validateTimestamp(c.Timestamp, now, skew)...)
}

// ValidateInteraction checks a notification interaction report.
func ValidateInteraction(in *Interaction, now time.Time, skew time.Duration) []FieldError {
	errs := validateDevice(in.DeviceID)
	switch in.InteractionType {
	case InteractionOpened, InteractionDismissed:
	case "":
		errs = append(errs, FieldError{"interaction_type", "required"})
	default:
		errs = append(errs, FieldError{"interaction_type", "must be one of: opened, dismissed"})
	}
	return append(errs, validateTimestamp(in.Timestamp, now, skew)...)
}

// ValidateBulk enforces top-level bulk constraints (count caps) and per-item validation.
// maxItems: cap for number of samples (e.g., 100).
func ValidateBulk(samples []*Sample, maxItems int, now time.Time, skew time.Duration) (allErrs [][]FieldError, topErr error) {
	if len(samples) == 0 {
		return nil, errors.New("samples: required and must contain at least one item")
	}
	if len(samples) > maxItems {
		return nil, fmt.Errorf("samples: max %d items", maxItems)
	}
	allErrs = make([][]FieldError, len(samples))
	var any bool
	for i := range samples {
		fe := ValidateSample(samples[i], now, skew)
		if len(fe) > 0 {
			allErrs[i] = fe
			any = true
		}
	}
	if any {
		return allErrs, fmt.Errorf("one or more samples failed validation")
	}
	return nil, nil
}
