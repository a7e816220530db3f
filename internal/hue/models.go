package hue

import "fmt"

// Group is a light group as reported by the bridge.
type Group struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Lights []string `json:"lights"`
	AnyOn  bool     `json:"any_on"`
	AllOn  bool     `json:"all_on"`
}

// Light represents a Hue light (v1 API)
type Light struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	ModelID      string       `json:"modelid"`
	State        LightState   `json:"state"`
	Capabilities Capabilities `json:"capabilities"`
}

// LightState is the current state reported for a light.
type LightState struct {
	On        bool      `json:"on"`
	Bri       uint8     `json:"bri"`
	Hue       uint16    `json:"hue"`
	Sat       uint8     `json:"sat"`
	XY        []float64 `json:"xy,omitempty"`
	CT        uint16    `json:"ct"`
	ColorMode string    `json:"colormode,omitempty"`
	Reachable bool      `json:"reachable"`
}

// Capabilities describes what a light can do.
type Capabilities struct {
	Control Control `json:"control"`
}

// Control lists the controllable ranges of a light.
type Control struct {
	MinDimLevel    int         `json:"mindimlevel,omitempty"`
	MaxLumen       int         `json:"maxlumen,omitempty"`
	ColorGamutType string      `json:"colorgamuttype,omitempty"`
	ColorGamut     [][]float64 `json:"colorgamut,omitempty"`
	CT             *CTRange    `json:"ct,omitempty"`
}

// CTRange is the supported color temperature range in mireds.
type CTRange struct {
	Min uint16 `json:"min"`
	Max uint16 `json:"max"`
}

// SupportsColorTemperature reports whether the light accepts ct commands.
func (l *Light) SupportsColorTemperature() bool {
	return l.Capabilities.Control.CT != nil
}

// SupportsColor reports whether the light has a full color gamut.
func (l *Light) SupportsColor() bool {
	return l.Capabilities.Control.ColorGamutType != "" || len(l.Capabilities.Control.ColorGamut) > 0
}

// Command is a sparse light state update. Nil fields are not sent.
type Command struct {
	On  *bool     `json:"on,omitempty"`
	Bri *uint8    `json:"bri,omitempty"`
	Hue *uint16   `json:"hue,omitempty"`
	Sat *uint8    `json:"sat,omitempty"`
	XY  []float64 `json:"xy,omitempty"`
	CT  *uint16   `json:"ct,omitempty"`
}

// Empty reports whether the command carries no attributes.
func (c Command) Empty() bool {
	return c.On == nil && c.Bri == nil && c.Hue == nil && c.Sat == nil &&
		len(c.XY) == 0 && c.CT == nil
}

// Ptr returns a pointer to v, for filling Command fields.
func Ptr[T any](v T) *T {
	return &v
}

// APIError is an error entry returned by the v1 API.
type APIError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hue api error %d at %s: %s", e.Type, e.Address, e.Description)
}
