package mqtt

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/relay-board/internal/relay"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 256

const publishTimeout = 5 * time.Second

// newClient builds the paho client. Tests replace it.
var newClient = paho.NewClient

// Config configures a RealPublisher.
type Config struct {
	Broker     string
	ClientID   string
	Prefix     string
	BufferSize int
	Logger     *slog.Logger

	// OnConnectionChange, if set, is called with true on every (re)connect
	// and false on every connection loss.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages produced while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	logger *slog.Logger

	// sendMu orders live sends against a reconnect replay.
	sendMu sync.Mutex

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher for the given broker. The initial
// connection is attempted in the background and retried until it succeeds,
// so a missing broker never blocks startup.
func NewRealPublisher(cfg Config) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultPrefix
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	p := &RealPublisher{
		topics: NewTopics(cfg.Prefix),
		logger: cfg.Logger,
		buffer: newRingBuffer(cfg.BufferSize, cfg.Logger),
	}

	will, err := WillPayload()
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(p.topics.System(), string(will), 1, false).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info("mqtt connected", "broker", cfg.Broker)
			if cfg.OnConnectionChange != nil {
				cfg.OnConnectionChange(true)
			}
			// Handlers must not block the client; replay from a goroutine.
			go p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
			if cfg.OnConnectionChange != nil {
				cfg.OnConnectionChange(false)
			}
		})

	p.client = newClient(opts)
	p.client.Connect()
	return p, nil
}

// Topics returns the topics this publisher writes to.
func (p *RealPublisher) Topics() Topics {
	return p.topics
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends a relay state change as a retained QoS 1 message.
func (p *RealPublisher) Publish(event relay.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.topics.RelayState(event.Relay), payload: payload, qos: 1, retained: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1, retained: event.Retained})
}

// send publishes msg, or buffers it when the connection is down, older
// messages are still waiting, or the publish does not complete. A buffered
// message is not an error.
func (p *RealPublisher) send(msg bufferedMsg) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if !p.client.IsConnectionOpen() {
		p.hold(msg)
		return nil
	}
	if p.Buffered() > 0 {
		// Queue behind older messages so a stale retained state never
		// lands after this one.
		p.hold(msg)
		p.replay()
		return nil
	}
	if err := p.publish(msg); err != nil {
		p.logger.Debug("mqtt publish failed, buffering", "topic", msg.topic, "error", err)
		p.hold(msg)
	}
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) hold(msg bufferedMsg) {
	p.mu.Lock()
	p.buffer.push(msg)
	p.mu.Unlock()
}

// flush replays buffered messages in order. Messages that fail again go
// back into the buffer for the next reconnect. Live sends wait until the
// replay is done.
func (p *RealPublisher) flush() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	p.replay()
}

// replay publishes the buffer. The caller holds sendMu.
func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs := p.buffer.drainAll()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	p.logger.Info("mqtt replaying buffered messages", "count", len(msgs))
	for i, msg := range msgs {
		if !p.client.IsConnectionOpen() {
			p.requeue(msgs[i:])
			return
		}
		if err := p.publish(msg); err != nil {
			p.logger.Warn("mqtt replay failed", "topic", msg.topic, "error", err)
			p.requeue(msgs[i:])
			return
		}
	}
}

func (p *RealPublisher) requeue(msgs []bufferedMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		p.buffer.push(m)
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// Close disconnects from the broker and stops any pending reconnect.
// Messages still buffered are dropped.
func (p *RealPublisher) Close() error {
	if n := p.Buffered(); n > 0 {
		p.logger.Warn("mqtt closing with undelivered messages", "count", n)
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
