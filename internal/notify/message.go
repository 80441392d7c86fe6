package notify

import (
	"encoding/json"
	"time"

	"example.com/geosurvey/internal/domain"
)

// Message is the JSON frame pushed to a device.
type Message struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
}

// Notification is the device-facing view of a delivered request.
type Notification struct {
	ID          string               `json:"id"`
	Source      domain.TriggerSource `json:"source"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	DeepLinkURL string               `json:"deep_link_url,omitempty"`
	IsReminder  bool                 `json:"is_reminder"`
	AreaName    string               `json:"area_name,omitempty"`
	DeliveredAt int64                `json:"delivered_at"`
}

const MessageNotification = "notification"

func encodeNotification(req domain.NotificationRequest, at time.Time) ([]byte, error) {
	return json.Marshal(Message{
		Type: MessageNotification,
		Notification: &Notification{
			ID:          req.Identifier,
			Source:      req.Source,
			Title:       req.Title,
			Body:        req.Body,
			DeepLinkURL: req.DeepLinkURL,
			IsReminder:  req.IsReminder,
			AreaName:    req.AreaName,
			DeliveredAt: at.Unix(),
		},
	})
}

const MessageInteraction = "interaction"

// Inbound is a frame sent up by a device.
type Inbound struct {
	Type            string `json:"type"`
	InteractionID   string `json:"interaction_id,omitempty"`
	NotificationID  string `json:"notification_id"`
	InteractionType string `json:"interaction_type"`
	Timestamp       int64  `json:"timestamp"`
}
