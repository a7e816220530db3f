package effect

import (
	"fmt"

	"github.com/dokzlo13/huefx/internal/scheduler"
)

// Supported color temperature range, in mireds.
const (
	MinColorTemp uint16 = 153
	MaxColorTemp uint16 = 454
)

// Config is the persisted configuration of one effect kind.
type Config interface {
	Kind() Kind
	IsActive() bool
	WithActive(active bool) Config
	GroupID() string
	Validate() error
}

// NewConfig returns the default config for kind.
func NewConfig(kind Kind) (Config, error) {
	switch kind {
	case KindWarmup:
		return NewWarmupConfig(), nil
	case KindXmas:
		return NewXmasConfig(), nil
	default:
		return nil, fmt.Errorf("%w: unknown effect %q", ErrInvalidConfig, kind)
	}
}

// WarmupConfig configures the daily warm-up/cool-down ramp.
type WarmupConfig struct {
	Active       bool           `json:"active"`
	LightGroupID string         `json:"light_group_id"`
	TurnOnAt     scheduler.Spec `json:"turn_on_at"`
	TurnOffAt    scheduler.Spec `json:"turn_off_at"`
	MinColorTemp uint16         `json:"min_color_temp"`
	MaxColorTemp uint16         `json:"max_color_temp"`
}

// NewWarmupConfig returns the defaults: on at sunset, off at sunrise, full
// temperature range.
func NewWarmupConfig() WarmupConfig {
	return WarmupConfig{
		LightGroupID: "1",
		TurnOnAt:     scheduler.SunSpec("sunset", 21),
		TurnOffAt:    scheduler.SunSpec("sunrise", 6),
		MinColorTemp: MinColorTemp,
		MaxColorTemp: MaxColorTemp,
	}
}

func (c WarmupConfig) Kind() Kind      { return KindWarmup }
func (c WarmupConfig) IsActive() bool  { return c.Active }
func (c WarmupConfig) GroupID() string { return c.LightGroupID }

func (c WarmupConfig) WithActive(active bool) Config {
	c.Active = active
	return c
}

func (c WarmupConfig) Validate() error {
	if c.LightGroupID == "" {
		return fmt.Errorf("%w: light_group_id is required", ErrInvalidConfig)
	}
	if err := c.TurnOnAt.Validate(); err != nil {
		return fmt.Errorf("%w: turn_on_at: %w", ErrInvalidConfig, err)
	}
	if err := c.TurnOffAt.Validate(); err != nil {
		return fmt.Errorf("%w: turn_off_at: %w", ErrInvalidConfig, err)
	}
	if c.MinColorTemp < MinColorTemp || c.MaxColorTemp > MaxColorTemp {
		return fmt.Errorf("%w: color temperature must be within %d..%d", ErrInvalidConfig, MinColorTemp, MaxColorTemp)
	}
	if c.MinColorTemp > c.MaxColorTemp {
		return fmt.Errorf("%w: min_color_temp %d above max_color_temp %d", ErrInvalidConfig, c.MinColorTemp, c.MaxColorTemp)
	}
	return nil
}

// MaxCycleLength is the longest xmas cycle, in seconds.
const MaxCycleLength = 24 * 60 * 60

// XmasConfig configures the color cycling effect.
type XmasConfig struct {
	Active       bool   `json:"active"`
	LightGroupID string `json:"light_group_id"`
	CycleLength  int    `json:"cycle_length"` // seconds
}

// NewXmasConfig returns the defaults: a one minute cycle.
func NewXmasConfig() XmasConfig {
	return XmasConfig{
		LightGroupID: "1",
		CycleLength:  60,
	}
}

func (c XmasConfig) Kind() Kind      { return KindXmas }
func (c XmasConfig) IsActive() bool  { return c.Active }
func (c XmasConfig) GroupID() string { return c.LightGroupID }

func (c XmasConfig) WithActive(active bool) Config {
	c.Active = active
	return c
}

func (c XmasConfig) Validate() error {
	if c.LightGroupID == "" {
		return fmt.Errorf("%w: light_group_id is required", ErrInvalidConfig)
	}
	if c.CycleLength < 2 {
		return fmt.Errorf("%w: cycle_length must be at least 2 seconds", ErrInvalidConfig)
	}
	if c.CycleLength > MaxCycleLength {
		return fmt.Errorf("%w: cycle_length must be at most %d seconds", ErrInvalidConfig, MaxCycleLength)
	}
	return nil
}
