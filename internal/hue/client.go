// Package hue talks to a Philips Hue bridge: group membership, light
// capabilities and state, and sparse per-light state commands.
package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Client provides access to the Hue v1 API
type Client struct {
	address    string
	token      string
	httpClient *http.Client
	bridge     *huego.Bridge
	limiter    *rate.Limiter
	groups     *GroupCache
}

// NewClient creates a new Hue client. Light commands are paced at rateLimitRPS.
func NewClient(address, token string, timeout time.Duration, rateLimitRPS float64) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if rateLimitRPS <= 0 {
		rateLimitRPS = 10
	}
	burst := int(rateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	// Create HTTP client that ignores TLS verification (Hue bridge uses self-signed cert)
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		address: address,
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		bridge:  huego.New(address, token),
		limiter: rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
		groups:  NewGroupCache(DefaultGroupTTL),
	}
}

// Connect verifies that the bridge is reachable and the token is accepted.
func (c *Client) Connect(ctx context.Context) error {
	var cfg struct {
		Name       string `json:"name"`
		APIVersion string `json:"apiversion"`
	}
	if err := c.v1Get(ctx, "config", &cfg); err != nil {
		return fmt.Errorf("failed to connect to Hue bridge: %w", err)
	}

	log.Info().
		Str("address", c.address).
		Str("bridge", cfg.Name).
		Str("api_version", cfg.APIVersion).
		Msg("Connected to Hue bridge")
	return nil
}

// Close closes the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// GetGroup returns the ids of the lights in a group. Membership is cached
// for DefaultGroupTTL.
func (c *Client) GetGroup(ctx context.Context, groupID string) ([]string, error) {
	if lights, ok := c.groups.Get(groupID); ok {
		return lights, nil
	}

	id, err := strconv.Atoi(groupID)
	if err != nil {
		return nil, fmt.Errorf("invalid group id %q: %w", groupID, err)
	}

	group, err := c.bridge.GetGroupContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get group %s: %w", groupID, err)
	}
	c.groups.Set(groupID, group.Lights)
	return group.Lights, nil
}

// Groups lists all groups known to the bridge, ordered by id.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	raw, err := c.bridge.GetGroupsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups := make([]Group, 0, len(raw))
	for _, g := range raw {
		group := Group{
			ID:     strconv.Itoa(g.ID),
			Name:   g.Name,
			Type:   g.Type,
			Lights: g.Lights,
		}
		if g.GroupState != nil {
			group.AnyOn = g.GroupState.AnyOn
			group.AllOn = g.GroupState.AllOn
		}
		c.groups.Set(group.ID, group.Lights)
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, _ := strconv.Atoi(groups[i].ID)
		b, _ := strconv.Atoi(groups[j].ID)
		return a < b
	})
	return groups, nil
}

// GetLight returns a light's capabilities and current state.
func (c *Client) GetLight(ctx context.Context, lightID string) (*Light, error) {
	var light Light
	if err := c.v1Get(ctx, "lights/"+lightID, &light); err != nil {
		return nil, fmt.Errorf("failed to get light %s: %w", lightID, err)
	}
	light.ID = lightID
	return &light, nil
}

// SendCommand applies cmd to each light in order. Failures do not stop the
// remaining lights; they are returned joined.
func (c *Client) SendCommand(ctx context.Context, cmd Command, lightIDs ...string) error {
	if cmd.Empty() || len(lightIDs) == 0 {
		return nil
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range lightIDs {
		if err := c.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.v1Put(ctx, "lights/"+id+"/state", body); err != nil {
			errs = append(errs, fmt.Errorf("light %s: %w", id, err))
			continue
		}
		log.Debug().Str("light", id).RawJSON("state", body).Msg("Light state sent")
	}
	return errors.Join(errs...)
}

func (c *Client) v1URL(path string) string {
	return fmt.Sprintf("http://%s/api/%s/%s", strings.TrimPrefix(c.address, "http://"), c.token, path)
}

func (c *Client) v1Request(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.v1URL(path), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return data, nil
}

func (c *Client) v1Get(ctx context.Context, path string, out any) error {
	data, err := c.v1Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	// Errors come back as a JSON array with status 200.
	if err := parseResults(data); err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *Client) v1Put(ctx context.Context, path string, body []byte) error {
	data, err := c.v1Request(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return parseResults(data)
}

// parseResults extracts error entries from a v1 result array. Object
// responses carry no errors.
func parseResults(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil
	}

	var results []struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	var errs []error
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errors.Join(errs...)
}
