// Package mqtt publishes relay state changes and lifecycle events to an MQTT
// broker, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/relay-board/internal/relay"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "relay-board"

// System event names.
const (
	EventStartup  = "STARTUP"
	EventShutdown = "SHUTDOWN"
	EventLWT      = "LWT"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a relay state change to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event relay.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Topics derives every topic from a single prefix.
type Topics struct {
	Prefix string
}

// NewTopics trims slashes from prefix and falls back to DefaultPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

// RelayState is the retained state topic of one relay.
func (t Topics) RelayState(id int) string {
	return fmt.Sprintf("%s/relay/%d/state", t.Prefix, id)
}

// System is the lifecycle topic.
func (t Topics) System() string {
	return t.Prefix + "/system"
}

// Payload represents the MQTT message payload for a relay state change.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the relay state details.
type RelayPayload struct {
	Timestamp string `json:"timestamp"`
	ID        int    `json:"id"`
	State     string `json:"state"`
}

// FormatPayload creates the JSON payload for a relay state change.
func FormatPayload(event relay.Event) ([]byte, error) {
	payload := Payload{
		Relay: RelayPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			ID:        event.Relay,
			State:     string(event.State),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, SHUTDOWN) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
// A zero Timestamp is left out of the payload.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Event:  event.Event,
			Reason: event.Reason,
		},
	}
	if !event.Timestamp.IsZero() {
		payload.System.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(payload)
}

// WillPayload is the last-will message the broker publishes when the
// connection drops. It carries no timestamp because it is registered at
// connect time, long before it fires.
func WillPayload() ([]byte, error) {
	return FormatSystemPayload(SystemEvent{Event: EventLWT, Reason: "connection lost"})
}
