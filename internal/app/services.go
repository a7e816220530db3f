package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/db"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/geo"
	"github.com/dokzlo13/huefx/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Bus     *eventbus.Bus
	Store   *storage.FileStore
	GeoCalc *geo.Calculator

	// High-level services
	Hue     *HueService
	Effects *EffectService
	History *HistoryService
	API     *APIService
	MQTT    *MQTTService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	tz, err := cfg.Geo.Location()
	if err != nil {
		return nil, err
	}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Effect configs live next to each other as JSON files
	s.Store, err = storage.NewFileStore(cfg.Storage.ConfigDir)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Initialize geo calculator
	geoCfg := cfg.Geo
	if geoCfg.HasCoordinates() {
		s.GeoCalc = geo.NewCalculatorWithLocation(geoCfg.Name, geoCfg.Lat, geoCfg.Lon, tz)
	} else {
		log.Warn().Msg("No lat/lon configured, will use Nominatim geocoding (cached in SQLite)")
		geoCache := geo.NewCache(database.DB, geoCfg.CacheTTL.Duration())
		s.GeoCalc = geo.NewCalculatorWithGeocoding(geoCfg.Name, tz, geoCfg.HTTPTimeout.Duration(), geoCache)
	}

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Hue = NewHueService(cfg)
	s.Effects = NewEffectService(s.Store, s.Hue.Client, s.GeoCalc, tz, s.Bus)

	s.History, err = NewHistoryService(cfg, database.DB, s.Bus)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.API = NewAPIService(cfg, s.Effects.Orchestrator, s.Hue.Client, s.GeoCalc, s.History.Ledger, tz, s.Bus)
	s.MQTT = NewMQTTService(cfg, s.Effects.Orchestrator, s.Bus)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Connect to Hue bridge
	if err := s.Hue.Start(ctx); err != nil {
		return err
	}

	// MQTT is optional; a broker outage must not block effects.
	if err := s.MQTT.Start(ctx); err != nil {
		log.Error().Err(err).Msg("MQTT publisher unavailable")
	}

	s.History.Start(ctx)
	s.Effects.Start(ctx)
	s.API.Start(ctx)
	s.MQTT.PublishStatus()

	return nil
}

// Stop waits for the active effect to wind down, then releases resources.
// The caller cancels the start context first.
func (s *Services) Stop() error {
	timeout := shutdownTimeout(s.cfg)

	if s.Effects != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.Effects.Orchestrator.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("Active effect did not stop in time")
		}
		cancel()
	}

	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		s.Bus.Close(ctx)
		cancel()
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.History != nil {
		s.History.Close()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Hue != nil {
		s.Hue.Close()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

// shutdownTimeout bounds graceful stops of network services.
func shutdownTimeout(cfg *config.Config) time.Duration {
	if d := cfg.ShutdownTimeout.Duration(); d > 0 {
		return d
	}
	return 5 * time.Second
}
