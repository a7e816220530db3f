package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/mqtt"
	"github.com/dokzlo13/huefx/internal/orchestrator"
)

// MQTTService mirrors effect status to a broker.
type MQTTService struct {
	cfg  *config.Config
	orch *orchestrator.Orchestrator
	bus  *eventbus.Bus

	publisher *mqtt.StatusPublisher
}

// NewMQTTService creates the service without connecting.
func NewMQTTService(cfg *config.Config, orch *orchestrator.Orchestrator, bus *eventbus.Bus) *MQTTService {
	return &MQTTService{cfg: cfg, orch: orch, bus: bus}
}

// Start connects to the broker and subscribes to lifecycle events.
func (s *MQTTService) Start(ctx context.Context) error {
	if !s.cfg.MQTT.Enabled {
		return nil
	}

	mc := s.cfg.MQTT
	client, err := mqtt.Connect(mqtt.Options{
		Broker:   mc.Broker,
		ClientID: mc.ClientID,
		Username: mc.Username,
		Password: mc.Password,
		Prefix:   mc.TopicPrefix,
		Timeout:  mc.Timeout.Duration(),
	})
	if err != nil {
		return err
	}

	s.publisher = mqtt.NewStatusPublisher(client, mc.TopicPrefix, s.orch.Active)
	s.publisher.Subscribe(s.bus)
	log.Info().Str("broker", mc.Broker).Str("prefix", mc.TopicPrefix).Msg("MQTT status publisher started")
	return nil
}

// PublishStatus pushes the current run, if connected.
func (s *MQTTService) PublishStatus() {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishStatus(); err != nil {
		log.Warn().Err(err).Msg("Failed to publish MQTT status")
	}
}

// Close marks the service offline and disconnects.
func (s *MQTTService) Close() {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close MQTT client")
	}
}
