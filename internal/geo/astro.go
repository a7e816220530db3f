package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Default HTTP client (timeout set per-request via context)
var httpClient = &http.Client{}

// Sun phase names.
const (
	PhaseSunrise       = "sunrise"
	PhaseSunriseEnd    = "sunriseEnd"
	PhaseGoldenHourEnd = "goldenHourEnd"
	PhaseSolarNoon     = "solarNoon"
	PhaseGoldenHour    = "goldenHour"
	PhaseSunsetStart   = "sunsetStart"
	PhaseSunset        = "sunset"
	PhaseDusk          = "dusk"
	PhaseNauticalDusk  = "nauticalDusk"
	PhaseNight         = "night"
	PhaseNadir         = "nadir"
	PhaseNightEnd      = "nightEnd"
	PhaseNauticalDawn  = "nauticalDawn"
	PhaseDawn          = "dawn"
)

// sunAngles pairs morning/evening phases with the sun altitude (degrees) that defines them.
var sunAngles = []struct {
	angle   float64
	morning string
	evening string
}{
	{-0.833, PhaseSunrise, PhaseSunset},
	{-0.3, PhaseSunriseEnd, PhaseSunsetStart},
	{-6, PhaseDawn, PhaseDusk},
	{-12, PhaseNauticalDawn, PhaseNauticalDusk},
	{-18, PhaseNightEnd, PhaseNight},
	{6, PhaseGoldenHourEnd, PhaseGoldenHour},
}

// SunPhase is a named sun event at a point in time.
type SunPhase struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
}

// Calculator calculates sun phase times for a location.
type Calculator struct {
	mu    sync.RWMutex
	cache map[string]map[string]time.Time // cache by "lat,lon,date"

	// Geocoded location cache (in-memory)
	locationCache map[string]*Location

	// Persistent geocache (optional, backed by SQLite)
	persistentCache *Cache

	// Pre-configured location (optional, avoids geocoding)
	defaultLocation *Location

	// Location name used for geocoding when no coordinates are configured
	locationName string

	tz *time.Location

	// HTTP timeout for geocoding requests
	httpTimeout time.Duration

	// Overrides the public Nominatim endpoint (tests)
	baseURL string
}

// Location represents a geocoded location
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// NewCalculatorWithLocation creates a calculator with pre-configured coordinates.
// This avoids external geocoding calls entirely.
func NewCalculatorWithLocation(name string, lat, lon float64, tz *time.Location) *Calculator {
	log.Info().
		Str("name", name).
		Float64("lat", lat).
		Float64("lon", lon).
		Msg("Geo calculator initialized with pre-configured coordinates")

	return &Calculator{
		cache:         make(map[string]map[string]time.Time),
		locationCache: make(map[string]*Location),
		defaultLocation: &Location{
			Name:      name,
			Latitude:  lat,
			Longitude: lon,
		},
		locationName: name,
		tz:           tz,
	}
}

// NewCalculatorWithGeocoding creates a calculator that resolves name through
// Nominatim, remembering results in the persistent cache.
func NewCalculatorWithGeocoding(name string, tz *time.Location, httpTimeout time.Duration, persistentCache *Cache) *Calculator {
	return &Calculator{
		cache:           make(map[string]map[string]time.Time),
		locationCache:   make(map[string]*Location),
		persistentCache: persistentCache,
		locationName:    name,
		tz:              tz,
		httpTimeout:     httpTimeout,
	}
}

// SunTimes returns the sun phases of the configured location on the date of day.
// Phases that do not occur that day (polar day or night) are omitted.
func (c *Calculator) SunTimes(day time.Time) (map[string]time.Time, error) {
	loc, err := c.getLocation(c.locationName)
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}

	date := day.In(c.tz)
	cacheKey := fmt.Sprintf("%.4f,%.4f,%s", loc.Latitude, loc.Longitude, date.Format("2006-01-02"))
	c.mu.RLock()
	cached, ok := c.cache[cacheKey]
	c.mu.RUnlock()
	if ok {
		return copyPhases(cached), nil
	}

	phases := Calculate(loc.Latitude, loc.Longitude, date, c.tz)

	c.mu.Lock()
	c.cache[cacheKey] = phases
	c.mu.Unlock()

	return copyPhases(phases), nil
}

// Phases returns the sun phases of the date of day sorted by time.
func (c *Calculator) Phases(day time.Time) ([]SunPhase, error) {
	times, err := c.SunTimes(day)
	if err != nil {
		return nil, err
	}

	phases := make([]SunPhase, 0, len(times))
	for name, t := range times {
		phases = append(phases, SunPhase{Name: name, Time: t})
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i].Time.Before(phases[j].Time) })
	return phases, nil
}

func copyPhases(in map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// getLocation returns coordinates for a location name
// Priority: pre-configured > in-memory cache > persistent cache > geocode
func (c *Calculator) getLocation(name string) (*Location, error) {
	if c.defaultLocation != nil {
		return c.defaultLocation, nil
	}

	c.mu.RLock()
	cached, ok := c.locationCache[name]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	if c.persistentCache != nil {
		if loc, found := c.persistentCache.Lookup(ctx, name); found {
			c.mu.Lock()
			c.locationCache[name] = loc
			c.mu.Unlock()
			return loc, nil
		}
	}

	loc, err := c.geocode(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.locationCache[name] = loc
	c.mu.Unlock()

	if c.persistentCache != nil {
		if err := c.persistentCache.Store(ctx, name, loc); err != nil {
			log.Warn().Err(err).Str("query", name).Msg("Geocache write failed")
		}
	}

	return loc, nil
}

func (c *Calculator) timeout() time.Duration {
	if c.httpTimeout == 0 {
		return 10 * time.Second
	}
	return c.httpTimeout
}

// geocode resolves a place name via Nominatim
func (c *Calculator) geocode(ctx context.Context, name string) (*Location, error) {
	if name == "" {
		return nil, fmt.Errorf("no location configured")
	}

	apiURL := fmt.Sprintf("%s/search?q=%s&format=json&limit=1", c.nominatimURL(), url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "huefx/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("location not found: %s", name)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)
	}

	loc := &Location{
		Name:      results[0].DisplayName,
		Latitude:  lat,
		Longitude: lon,
	}

	log.Info().
		Str("query", name).
		Str("resolved", loc.Name).
		Float64("lat", lat).
		Float64("lon", lon).
		Msg("Location geocoded via Nominatim")

	return loc, nil
}

func (c *Calculator) nominatimURL() string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://nominatim.openstreetmap.org"
}

// Calculate computes the sun phases for a date using the NOAA sunrise equation.
func Calculate(lat, lon float64, date time.Time, tz *time.Location) map[string]time.Time {
	date = date.In(tz)

	// Julian day - add 0.5 because the NOAA sunrise equation expects JD at noon, not midnight
	jd := toJulianDay(date) + 0.5
	transit, dec := solarTransit(jd, lon)

	phases := map[string]time.Time{
		PhaseSolarNoon: julianToTime(transit, tz),
		PhaseNadir:     julianToTime(transit-0.5, tz),
	}

	for _, a := range sunAngles {
		omega, ok := hourAngle(lat, dec, a.angle)
		if !ok {
			continue
		}
		phases[a.morning] = julianToTime(transit-omega/360.0, tz)
		phases[a.evening] = julianToTime(transit+omega/360.0, tz)
	}

	return phases
}

// toJulianDay converts a date to Julian day number
func toJulianDay(t time.Time) float64 {
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())

	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5
}

// solarTransit returns the Julian date of solar noon and the sun's declination (radians).
func solarTransit(jd, lon float64) (float64, float64) {
	n := jd - 2451545.0 + 0.0008

	// Mean solar noon
	jStar := n - lon/360.0

	// Solar mean anomaly
	m := math.Mod(357.5291+0.98560028*jStar, 360.0)
	mRad := m * math.Pi / 180.0

	// Equation of center
	c := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude
	lambda := math.Mod(m+c+180+102.9372, 360.0)
	lambdaRad := lambda * math.Pi / 180.0

	jTransit := 2451545.0 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambdaRad)

	dec := math.Asin(math.Sin(lambdaRad) * math.Sin(23.44*math.Pi/180.0))
	return jTransit, dec
}

// hourAngle returns the hour angle (degrees) at which the sun reaches angle,
// or false when it never does on that day.
func hourAngle(lat, dec, angle float64) (float64, bool) {
	latRad := lat * math.Pi / 180.0
	angleRad := angle * math.Pi / 180.0

	cosOmega := (math.Sin(angleRad) - math.Sin(latRad)*math.Sin(dec)) / (math.Cos(latRad) * math.Cos(dec))
	if cosOmega > 1 || cosOmega < -1 {
		return 0, false
	}
	return math.Acos(cosOmega) * 180.0 / math.Pi, true
}

// julianToTime converts a Julian date to an instant in tz
func julianToTime(jd float64, tz *time.Location) time.Time {
	unixTime := (jd - 2440587.5) * 86400.0
	sec := math.Floor(unixTime)
	return time.Unix(int64(sec), 0).In(tz)
}
