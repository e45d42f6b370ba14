package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Relays        []RelayJSON `json:"relays"`
	Config        ConfigJSON  `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// RelayJSON is the JSON representation of one relay's activity.
type RelayJSON struct {
	ID         int    `json:"id"`
	Line       int    `json:"line"`
	LastState  string `json:"last_state"`
	LastChange string `json:"last_change,omitempty"`
	OnCount    int    `json:"on_count"`
	OffCount   int    `json:"off_count"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode        string `json:"mode"`
	Backend     string `json:"gpio_backend"`
	BindAddress string `json:"bind_address,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	relays := make([]RelayJSON, len(snap.Relays))
	for i, r := range snap.Relays {
		state := string(r.LastState)
		if state == "" {
			state = "unknown"
		}
		rj := RelayJSON{
			ID:        r.ID,
			Line:      r.Line,
			LastState: state,
			OnCount:   r.OnCount,
			OffCount:  r.OffCount,
		}
		if !r.LastChange.IsZero() {
			rj.LastChange = r.LastChange.UTC().Format(time.RFC3339)
		}
		relays[i] = rj
	}

	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Enabled:   snap.Config.Broker != "",
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
		},
		Relays: relays,
		Config: ConfigJSON{
			Mode:        snap.Config.Mode,
			Backend:     snap.Config.Backend,
			BindAddress: snap.Config.BindAddress,
		},
	}
}

// FormatJSON returns the JSON status for the HTTP endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
