// Package mqtt publishes the active effect and its lifecycle events to an
// MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/orchestrator"
)

// Availability payloads on <prefix>/availability.
const (
	Online  = "online"
	Offline = "offline"
)

// Client sends messages to a broker.
type Client interface {
	Publish(topic string, payload []byte, retained bool) error
	Close() error
}

// Topics derived from a prefix.
type Topics struct {
	Active       string
	Events       string
	Availability string
}

// NewTopics returns the topics under prefix.
func NewTopics(prefix string) Topics {
	return Topics{
		Active:       prefix + "/active",
		Events:       prefix + "/events",
		Availability: prefix + "/availability",
	}
}

// ActiveFunc reports the current run, nil when nothing runs.
type ActiveFunc func() *orchestrator.RunInfo

// activePayload is retained on <prefix>/active.
type activePayload struct {
	Active *orchestrator.RunInfo `json:"active"`
}

// StatusPublisher mirrors orchestrator state to MQTT.
type StatusPublisher struct {
	client Client
	topics Topics
	active ActiveFunc

	// Serializes retained updates so the broker keeps the newest one.
	mu sync.Mutex
}

// NewStatusPublisher creates a publisher writing under prefix.
func NewStatusPublisher(client Client, prefix string, active ActiveFunc) *StatusPublisher {
	return &StatusPublisher{
		client: client,
		topics: NewTopics(prefix),
		active: active,
	}
}

// Subscribe publishes on every lifecycle event.
func (p *StatusPublisher) Subscribe(bus *eventbus.Bus) {
	bus.SubscribeAll(func(ev eventbus.Event) {
		if err := p.HandleEvent(ev); err != nil {
			log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("MQTT publish failed")
		}
	})
}

// HandleEvent forwards ev and refreshes the retained status.
func (p *StatusPublisher) HandleEvent(ev eventbus.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	if err := p.client.Publish(p.topics.Events, payload, false); err != nil {
		return err
	}
	return p.PublishStatus()
}

// PublishStatus writes the current run to the retained active topic.
func (p *StatusPublisher) PublishStatus() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload, err := json.Marshal(activePayload{Active: p.active()})
	if err != nil {
		return fmt.Errorf("format status payload: %w", err)
	}
	return p.client.Publish(p.topics.Active, payload, true)
}

// Close marks the service offline and disconnects.
func (p *StatusPublisher) Close() error {
	if err := p.client.Publish(p.topics.Availability, []byte(Offline), true); err != nil {
		log.Warn().Err(err).Msg("Failed to publish offline availability")
	}
	return p.client.Close()
}
