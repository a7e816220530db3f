package geo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache remembers geocoding results in the geocache table so a restart does
// not have to ask Nominatim again.
type Cache struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
}

// NewCache creates a geocache. Entries older than maxAge are ignored;
// zero keeps them forever.
func NewCache(db *sql.DB, maxAge time.Duration) *Cache {
	return &Cache{db: db, maxAge: maxAge, now: time.Now}
}

// Lookup returns the cached location for query.
func (c *Cache) Lookup(ctx context.Context, query string) (*Location, bool) {
	var (
		loc     Location
		created int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT display_name, latitude, longitude, created_at FROM geocache WHERE query = ?`,
		query,
	).Scan(&loc.Name, &loc.Latitude, &loc.Longitude, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Geocache read failed")
		return nil, false
	}

	if c.maxAge > 0 && c.now().Sub(time.Unix(created, 0)) > c.maxAge {
		log.Debug().Str("query", query).Msg("Geocache entry expired")
		return nil, false
	}
	return &loc, true
}

// Store saves the location resolved for query, replacing any older entry.
func (c *Cache) Store(ctx context.Context, query string, loc *Location) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO geocache (query, display_name, latitude, longitude, created_at) VALUES (?, ?, ?, ?, ?)`,
		query, loc.Name, loc.Latitude, loc.Longitude, c.now().Unix(),
	)
	if err != nil {
		return err
	}
	log.Debug().Str("query", query).Float64("lat", loc.Latitude).Float64("lon", loc.Longitude).Msg("Geocache stored")
	return nil
}
