package domain

import "time"

// TriggerSource identifies what caused a survey invitation.
type TriggerSource string

const (
	SourceLocation     TriggerSource = "location"
	SourceAudio        TriggerSource = "audio"
	SourceConversation TriggerSource = "conversation"
	SourceNeighborhood TriggerSource = "neighborhood"
)

// ReminderSuffix is appended to an initial notification's identifier to key its paired reminder.
const ReminderSuffix = "-reminder"

// ReminderID returns the identifier of the reminder paired with id.
func ReminderID(id string) string { return id + ReminderSuffix }

// IsReminderID reports whether id names a reminder notification.
func IsReminderID(id string) bool {
	return len(id) > len(ReminderSuffix) && id[len(id)-len(ReminderSuffix):] == ReminderSuffix
}

// NotificationRequest is emitted by the engine and never mutated afterwards.
type NotificationRequest struct {
	Identifier  string        `json:"identifier"`
	DeviceID    string        `json:"device_id"`
	Source      TriggerSource `json:"source"`
	Title       string        `json:"title"`
	Body        string        `json:"body"`
	DeepLinkURL string        `json:"deep_link_url,omitempty"`
	FireDelay   time.Duration `json:"fire_delay"`
	IsReminder  bool          `json:"is_reminder"`
	AreaName    string        `json:"area_name,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NotificationStatus is the lifecycle state recorded in the audit log.
type NotificationStatus string

const (
	StatusScheduled NotificationStatus = "scheduled"
	StatusDelivered NotificationStatus = "delivered"
	StatusCancelled NotificationStatus = "cancelled"
	StatusFailed    NotificationStatus = "failed"
)

// Interaction types a device can report for a delivered notification.
const (
	InteractionOpened    = "opened"
	InteractionDismissed = "dismissed"
)

// NotificationRecord is the audit row for one notification request.
type NotificationRecord struct {
	ID          string
	DeviceID    string
	Source      TriggerSource
	Title       string
	Body        string
	DeepLinkURL string
	FireAt      time.Time
	IsReminder  bool
	Status      NotificationStatus
	UpdatedAt   time.Time
}

// InteractionRecord is the audit row for a user action on a notification.
type InteractionRecord struct {
	Key             string
	NotificationID  string
	DeviceID        string
	InteractionType string
	At              time.Time
}

// AuditRecord carries exactly one of Notification or Interaction.
type AuditRecord struct {
	Notification *NotificationRecord
	Interaction  *InteractionRecord
}

// Interaction is the request body for reporting an interaction.
type Interaction struct {
	InteractionID   string `json:"interaction_id,omitempty"`
	DeviceID        string `json:"device_id"`
	InteractionType string `json:"interaction_type"`
	Timestamp       int64  `json:"timestamp"`
}
