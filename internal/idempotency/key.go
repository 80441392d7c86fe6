// Package idempotency derives the keys that make repeated audit writes harmless.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

type KeySource string

const (
	KeyFromClientID  KeySource = "client_id"
	KeyFromComposite KeySource = "composite"
)

// InteractionKey returns a stable key for an interaction report and the source used.
// A client-supplied id wins; otherwise the key is the hex SHA-256 of
// (notification, device, type, timestamp) so a retried report maps to the same row.
func InteractionKey(clientID, notificationID, deviceID, interactionType string, ts int64) (string, KeySource) {
	if clientID != "" {
		return clientID, KeyFromClientID
	}
	composite := fmt.Sprintf("%s|%s|%s|%d", notificationID, deviceID, interactionType, ts)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:]), KeyFromComposite
}
