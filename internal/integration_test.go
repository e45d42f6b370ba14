package internal

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/relay-board/internal/api"
	"github.com/sweeney/relay-board/internal/gpio"
	"github.com/sweeney/relay-board/internal/mqtt"
	"github.com/sweeney/relay-board/internal/relay"
	"github.com/sweeney/relay-board/internal/status"
)

const token = "integration-token"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// stack wires the same pieces the serve command does, on fakes.
type stack struct {
	chip      *gpio.FakeChip
	publisher *mqtt.FakePublisher
	forwarder *mqtt.Forwarder
	tracker   *status.Tracker
	handle    *relay.Handle
	server    *httptest.Server
}

func newStack(t *testing.T, now func() time.Time) *stack {
	t.Helper()
	s := &stack{
		chip:      gpio.NewFakeChip(),
		publisher: mqtt.NewFakePublisher(),
	}
	layout := relay.DefaultLayout()
	s.tracker = status.NewTracker(now(), status.Config{Mode: "serve", Backend: "fake", Broker: "tcp://broker:1883"}, layout)
	s.forwarder = mqtt.NewForwarder(s.publisher, discard, 16)
	s.handle = relay.NewHandle(func() (*relay.Board, error) {
		return relay.New(s.chip, layout, relay.WithRollback(true))
	}, layout, relay.WithClock(now), relay.WithListener(func(ev relay.Event) {
		s.tracker.Record(ev)
		s.forwarder.Send(ev)
	}))

	auth, err := api.NewAuthenticator(token, "")
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	srv := api.New(":0", s.handle, auth, discard, api.WithStatus(s.tracker))
	s.server = httptest.NewServer(srv.Handler())
	t.Cleanup(s.close)
	return s
}

// close shuts down in the same order as the daemon.
func (s *stack) close() {
	s.server.Close()
	s.handle.Close()
	s.forwarder.Close()
}

func (s *stack) do(t *testing.T, method, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC)
	return func() time.Time { return at }
}

// TestIntegrationFullFlow drives REST calls through the handle to the fake
// chip, the tracker and the MQTT publisher.
func TestIntegrationFullFlow(t *testing.T) {
	s := newStack(t, fixedClock())

	steps := []struct {
		method, path string
		wantCode     int
	}{
		{http.MethodPost, "/relay/1/on", http.StatusOK},
		{http.MethodPost, "/relay/3/on", http.StatusOK},
		{http.MethodPost, "/relay/1/off", http.StatusOK},
		{http.MethodPost, "/relay/all/off", http.StatusOK},
	}
	for _, st := range steps {
		if code, body := s.do(t, st.method, st.path); code != st.wantCode {
			t.Fatalf("%s %s: got %d (%s), want %d", st.method, st.path, code, body, st.wantCode)
		}
	}

	for _, line := range []int{60, 27, 85, 86} {
		if got := s.chip.Line(line).Level(); got != gpio.Low {
			t.Errorf("line %d: got level %d, want low", line, got)
		}
	}

	s.forwarder.Close()
	events := s.publisher.RecordedEvents()
	// on 1, on 3, off 1, then all off touches 1..4
	want := []relay.Event{
		{Relay: 1, State: relay.StateOn},
		{Relay: 3, State: relay.StateOn},
		{Relay: 1, State: relay.StateOff},
		{Relay: 1, State: relay.StateOff},
		{Relay: 2, State: relay.StateOff},
		{Relay: 3, State: relay.StateOff},
		{Relay: 4, State: relay.StateOff},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, w := range want {
		if events[i].Relay != w.Relay || events[i].State != w.State {
			t.Errorf("event %d: got relay %d %s, want relay %d %s", i, events[i].Relay, events[i].State, w.Relay, w.State)
		}
	}

	snap := s.tracker.Snapshot()
	if snap.Relays[0].OnCount != 1 || snap.Relays[0].OffCount != 2 {
		t.Errorf("relay 1 counts: got on=%d off=%d, want on=1 off=2", snap.Relays[0].OnCount, snap.Relays[0].OffCount)
	}
	if snap.Relays[2].LastState != relay.StateOff {
		t.Errorf("relay 3 last state: got %s, want off", snap.Relays[2].LastState)
	}
}

// TestIntegrationStatusReadsHardware verifies /relay/status reports line
// levels, including changes made behind the API's back.
func TestIntegrationStatusReadsHardware(t *testing.T) {
	s := newStack(t, fixedClock())

	if code, _ := s.do(t, http.MethodPost, "/relay/2/on"); code != http.StatusOK {
		t.Fatalf("relay 2 on: got %d", code)
	}
	if err := s.chip.Line(86).SetValue(gpio.High); err != nil {
		t.Fatalf("set line 86: %v", err)
	}

	code, body := s.do(t, http.MethodGet, "/relay/status")
	if code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	want := `{"relays":[{"id":1,"state":"off"},{"id":2,"state":"on"},{"id":3,"state":"off"},{"id":4,"state":"on"}]}`
	if strings.TrimSpace(body) != want {
		t.Errorf("unexpected body:\ngot:  %s\nwant: %s", body, want)
	}
}

// TestIntegrationSameRelayTogglesAgree races callers on one relay and checks
// the tracker ends on the state the hardware holds.
func TestIntegrationSameRelayTogglesAgree(t *testing.T) {
	s := newStack(t, fixedClock())

	var wg sync.WaitGroup
	for g := 0; g < 6; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				var err error
				if (g+j)%2 == 0 {
					err = s.handle.On(1)
				} else {
					err = s.handle.Off(1)
				}
				if err != nil {
					t.Errorf("toggle relay 1: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	got, err := s.handle.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	snap := s.tracker.Snapshot()
	if snap.Relays[0].LastState != got[0].State {
		t.Errorf("tracker last state %s, hardware %s", snap.Relays[0].LastState, got[0].State)
	}
	if n := snap.Relays[0].OnCount + snap.Relays[0].OffCount; n != 60 {
		t.Errorf("tracker counted %d writes, want 60", n)
	}
}

// TestIntegrationPublishFailureDoesNotFailRelay verifies a broker outage is
// invisible to API callers.
func TestIntegrationPublishFailureDoesNotFailRelay(t *testing.T) {
	s := newStack(t, fixedClock())
	s.publisher.PublishError = errors.New("broker down")

	if code, body := s.do(t, http.MethodPost, "/relay/4/on"); code != http.StatusOK {
		t.Fatalf("relay 4 on: got %d (%s)", code, body)
	}
	if got := s.chip.Line(86).Level(); got != gpio.High {
		t.Errorf("line 86: got %d, want high", got)
	}
	if got := s.tracker.Snapshot().Relays[3].OnCount; got != 1 {
		t.Errorf("tracker on count: got %d, want 1", got)
	}
}

// TestIntegrationConstructionFailureRecovers verifies a failed claim is a
// 500 for that request only, and the next request retries construction.
func TestIntegrationConstructionFailureRecovers(t *testing.T) {
	s := newStack(t, fixedClock())
	s.chip.ClaimErrors[85] = errors.New("device or resource busy")

	code, body := s.do(t, http.MethodPost, "/relay/1/on")
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	if !strings.Contains(body, "GPIO Export Error") {
		t.Errorf("expected export error in body, got %q", body)
	}

	delete(s.chip.ClaimErrors, 85)

	if code, body := s.do(t, http.MethodPost, "/relay/1/on"); code != http.StatusOK {
		t.Fatalf("retry: got %d (%s)", code, body)
	}
	if got := s.chip.Line(60).Level(); got != gpio.High {
		t.Errorf("line 60: got %d, want high", got)
	}
}

// TestIntegrationInvalidRelayTouchesNothing verifies rejected IDs never
// reach the chip, not even to construct the board.
func TestIntegrationInvalidRelayTouchesNothing(t *testing.T) {
	s := newStack(t, fixedClock())

	for _, path := range []string{"/relay/0/on", "/relay/5/on", "/relay/x/off"} {
		code, body := s.do(t, http.MethodPost, path)
		if code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", path, code)
		}
		if !strings.Contains(body, "Invalid relay ID") {
			t.Errorf("%s: unexpected body %q", path, body)
		}
	}
	if s.chip.Line(60) != nil {
		t.Error("board should not have been constructed")
	}
}

// TestIntegrationRelayPayloadFormat verifies the exact JSON published for a
// relay change.
func TestIntegrationRelayPayloadFormat(t *testing.T) {
	s := newStack(t, fixedClock())

	if code, _ := s.do(t, http.MethodPost, "/relay/2/on"); code != http.StatusOK {
		t.Fatalf("relay 2 on: got %d", code)
	}
	s.forwarder.Close()

	expected := `{"relay":{"timestamp":"2026-02-02T22:18:12Z","id":2,"state":"on"}}`
	payloads := s.publisher.Payloads
	if len(payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(payloads))
	}
	if string(payloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payloads[0], expected)
	}
}

// TestIntegrationStartupThenShutdown verifies the lifecycle messages carry a
// status snapshot reflecting relay activity in between.
func TestIntegrationStartupThenShutdown(t *testing.T) {
	s := newStack(t, fixedClock())

	snap := s.tracker.Snapshot()
	if err := s.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}); err != nil {
		t.Fatalf("startup: %v", err)
	}

	s.do(t, http.MethodPost, "/relay/3/on")
	s.do(t, http.MethodPost, "/relay/3/off")

	snap = s.tracker.Snapshot()
	if err := s.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventShutdown,
		Reason:     "SIGTERM",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, "SIGTERM"),
	}); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	payloads := s.publisher.SystemPayloads
	if len(payloads) != 2 {
		t.Fatalf("expected 2 system payloads, got %d", len(payloads))
	}

	var startup, shutdown status.StatusJSON
	if err := json.Unmarshal(payloads[0], &startup); err != nil {
		t.Fatalf("startup payload: %v", err)
	}
	if err := json.Unmarshal(payloads[1], &shutdown); err != nil {
		t.Fatalf("shutdown payload: %v", err)
	}

	if startup.Status.Event != "STARTUP" {
		t.Errorf("startup event: got %q", startup.Status.Event)
	}
	if startup.Status.Relays[2].LastState != "unknown" {
		t.Errorf("startup relay 3: got %q, want unknown", startup.Status.Relays[2].LastState)
	}
	if shutdown.Status.Event != "SHUTDOWN" || shutdown.Status.Reason != "SIGTERM" {
		t.Errorf("shutdown: got event=%q reason=%q", shutdown.Status.Event, shutdown.Status.Reason)
	}
	r3 := shutdown.Status.Relays[2]
	if r3.LastState != "off" || r3.OnCount != 1 || r3.OffCount != 1 {
		t.Errorf("shutdown relay 3: got %+v", r3)
	}
	if !shutdown.Status.MQTT.Enabled {
		t.Error("expected mqtt enabled in snapshot")
	}
}

// TestIntegrationTeardown verifies closing the handle leaves every line low
// and released, and later requests fail cleanly.
func TestIntegrationTeardown(t *testing.T) {
	s := newStack(t, fixedClock())

	for _, path := range []string{"/relay/1/on", "/relay/2/on", "/relay/3/on", "/relay/4/on"} {
		if code, _ := s.do(t, http.MethodPost, path); code != http.StatusOK {
			t.Fatalf("%s: got %d", path, code)
		}
	}

	s.handle.Close()

	for _, line := range []int{60, 27, 85, 86} {
		l := s.chip.Line(line)
		if !l.Released() {
			t.Errorf("line %d not released", line)
		}
		if l.Level() != gpio.Low {
			t.Errorf("line %d: got level %d, want low", line, l.Level())
		}
	}
	if !s.chip.Closed {
		t.Error("chip should be closed")
	}

	code, body := s.do(t, http.MethodPost, "/relay/1/on")
	if code != http.StatusInternalServerError {
		t.Errorf("after close: got %d, want 500", code)
	}
	if !strings.Contains(body, relay.ErrReleased.Error()) {
		t.Errorf("after close: unexpected body %q", body)
	}
}
