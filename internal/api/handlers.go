package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/orchestrator"
)

const maxBodyBytes = 64 << 10

// StatusResponse is returned by /api/status and effect changes.
type StatusResponse struct {
	Active  *orchestrator.RunInfo `json:"active"`
	Configs orchestrator.Configs  `json:"configs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status() (StatusResponse, error) {
	cfgs, err := s.opts.Effects.Configs()
	if err != nil {
		return StatusResponse{}, err
	}
	return StatusResponse{Active: s.opts.Effects.Active(), Configs: cfgs}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if s.opts.Groups == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("bridge not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	groups, err := s.opts.Groups.Groups(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// handleSun lists the sun phases of ?date=YYYY-MM-DD, today by default.
func (s *Server) handleSun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sun == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("location not configured"))
		return
	}

	day := s.now().In(s.opts.Timezone)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, s.opts.Timezone)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date %q", raw))
			return
		}
		day = parsed
	}

	phases, err := s.opts.Sun.Phases(day)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":   day.Format(time.DateOnly),
		"phases": phases,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	entries, err := s.opts.History.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetEffect(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.opts.Effects.Config(effect.Kind(r.PathValue("kind")))
	if errors.Is(err, orchestrator.ErrUnknownEffect) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleApplyEffect merges the JSON body onto the stored config of the kind
// and applies it. "active": true starts the effect, false stops it.
func (s *Server) handleApplyEffect(w http.ResponseWriter, r *http.Request) {
	kind := effect.Kind(r.PathValue("kind"))
	current, err := s.opts.Effects.Config(kind)
	if errors.Is(err, orchestrator.ErrUnknownEffect) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	cfg, err := decodeOnto(http.MaxBytesReader(w, r.Body, maxBodyBytes), current)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.opts.Effects.Apply(r.Context(), cfg); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, effect.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	log.Info().Str("effect", string(kind)).Bool("active", cfg.IsActive()).Msg("Effect config applied")
	s.handleStatus(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Effects.Stop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.handleStatus(w, r)
}

// decodeOnto decodes body over a copy of current. Unknown fields are rejected.
func decodeOnto(body io.Reader, current effect.Config) (effect.Config, error) {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	var err error
	var out effect.Config
	switch c := current.(type) {
	case effect.WarmupConfig:
		err = dec.Decode(&c)
		out = c
	case effect.XmasConfig:
		err = dec.Decode(&c)
		out = c
	default:
		return nil, fmt.Errorf("%w: %T", orchestrator.ErrUnknownEffect, current)
	}
	if errors.Is(err, io.EOF) {
		return nil, errors.New("request body is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return out, nil
}
