// Package status provides a thread-safe tracker of daemon activity for the
// relay-board process. It is read by the HTTP status endpoint and by the
// MQTT STARTUP event.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/relay-board/internal/relay"
)

// Config contains daemon configuration for display.
type Config struct {
	Mode        string // "serve" or "mcp"
	Backend     string
	BindAddress string
	Broker      string // empty when MQTT is disabled
}

// RelayActivity is what the daemon last did to one relay.
// LastState is empty until the first write since startup.
type RelayActivity struct {
	ID         int
	Line       int
	LastState  relay.State
	LastChange time.Time
	OnCount    int
	OffCount   int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Relays        []RelayActivity
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	byID    map[int]int
	nowFunc func() time.Time
}

// NewTracker creates a Tracker with one entry per relay in layout.
func NewTracker(startTime time.Time, cfg Config, layout relay.Layout) *Tracker {
	t := &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		byID:    make(map[int]int, len(layout)),
		nowFunc: time.Now,
	}
	for _, r := range layout {
		t.byID[r.ID] = len(t.snap.Relays)
		t.snap.Relays = append(t.snap.Relays, RelayActivity{ID: r.ID, Line: r.Line})
	}
	return t
}

// Record notes a successful relay write. It has the shape of a
// relay.Handle listener. Events for unknown relays are ignored.
func (t *Tracker) Record(ev relay.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.byID[ev.Relay]
	if !ok {
		return
	}
	a := &t.snap.Relays[i]
	a.LastState = ev.State
	a.LastChange = ev.Timestamp
	if ev.State == relay.StateOn {
		a.OnCount++
	} else {
		a.OffCount++
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Relays = make([]RelayActivity, len(t.snap.Relays))
	copy(s.Relays, t.snap.Relays)
	t.mu.RUnlock()
	s.Now = t.nowFunc()
	return s
}
