// Package orchestrator supervises the single active lighting effect. It is
// the only writer of the persisted active flags and keeps them consistent
// with the executor it is running.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/storage"
)

// ErrUnknownEffect is returned for configs of an unsupported kind.
var ErrUnknownEffect = errors.New("unknown effect")

// Builder creates executors for configs.
type Builder interface {
	New(cfg effect.Config) (effect.Executor, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Stop reasons carried on effect_stopped events.
const (
	ReasonReplaced    = "replaced"
	ReasonStopped     = "stopped"
	ReasonDeactivated = "deactivated"
	ReasonShutdown    = "shutdown"
)

// RunInfo is a snapshot of the active run.
type RunInfo struct {
	ID        string               `json:"id"`
	Kind      effect.Kind          `json:"kind"`
	Config    effect.Config        `json:"config"`
	StartedAt time.Time            `json:"started_at"`
	State     effect.State         `json:"state"`
	Next      map[string]time.Time `json:"next,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Configs holds the persisted config of every effect kind.
type Configs struct {
	Warmup effect.WarmupConfig `json:"warmup"`
	Xmas   effect.XmasConfig   `json:"xmas"`
}

// nextTimer is implemented by executors that know their upcoming fire times.
type nextTimer interface {
	NextTimes() map[string]time.Time
}

type run struct {
	id        uuid.UUID
	cfg       effect.Config
	exec      effect.Executor
	cancel    context.CancelFunc
	startedAt time.Time
}

// Orchestrator owns the active executor and its cancellation.
type Orchestrator struct {
	warmup  *storage.Typed[effect.WarmupConfig]
	xmas    *storage.Typed[effect.XmasConfig]
	builder Builder
	bus     Publisher

	// Executors run under base, not under the caller's context.
	base       context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	active *run
	// Done channel of the last cancelled executor; the next one waits on it.
	lastDone <-chan struct{}
	now      func() time.Time
}

// New creates an orchestrator persisting configs in store. bus may be nil.
func New(store *storage.FileStore, builder Builder, bus Publisher) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		warmup:     storage.NewTyped(store, effect.NewWarmupConfig),
		xmas:       storage.NewTyped(store, effect.NewXmasConfig),
		builder:    builder,
		bus:        bus,
		base:       base,
		baseCancel: cancel,
		now:        time.Now,
	}
}

// Apply stores cfg. An active config starts a freshly built executor and
// replaces whatever runs; an inactive one stops the running effect of the
// same kind.
func (o *Orchestrator) Apply(ctx context.Context, cfg effect.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", effect.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.IsActive() {
		exec, err := o.builder.New(cfg)
		if err != nil {
			return err
		}
		return o.StartEffect(ctx, cfg, exec)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.save(cfg); err != nil {
		return err
	}
	if o.active != nil && o.active.cfg.Kind() == cfg.Kind() {
		o.stopLocked(ReasonDeactivated)
		o.active = nil
	}
	return nil
}

// StartEffect persists cfg as the active effect, cancels the previous
// executor without waiting for it and launches exec.
func (o *Orchestrator) StartEffect(ctx context.Context, cfg effect.Config, exec effect.Executor) error {
	if cfg == nil || exec == nil {
		return fmt.Errorf("%w: config and executor are required", effect.ErrInvalidConfig)
	}
	if cfg.Kind() != exec.Kind() {
		return fmt.Errorf("%w: %s config for %s executor", effect.ErrInvalidConfig, cfg.Kind(), exec.Kind())
	}
	cfg = cfg.WithActive(true)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.base.Err(); err != nil {
		return fmt.Errorf("orchestrator is shut down: %w", err)
	}

	for _, kind := range effect.Kinds() {
		if kind == cfg.Kind() {
			continue
		}
		if err := o.setActive(kind, false); err != nil {
			return err
		}
	}
	if err := o.save(cfg); err != nil {
		return err
	}

	if o.active != nil {
		o.stopLocked(ReasonReplaced)
		o.active = nil
	}

	r := &run{
		id:        uuid.New(),
		cfg:       cfg,
		exec:      exec,
		startedAt: o.now(),
	}
	logger := log.With().
		Str("effect", string(cfg.Kind())).
		Str("run_id", r.id.String()).
		Logger()

	runCtx, cancel := context.WithCancel(effect.AfterPredecessor(logger.WithContext(o.base), o.lastDone))
	r.cancel = cancel

	if err := exec.Start(runCtx); err != nil {
		cancel()
		if perr := o.save(cfg.WithActive(false)); perr != nil {
			logger.Error().Err(perr).Msg("Failed to persist inactive config after start failure")
		}
		return fmt.Errorf("failed to start %s: %w", cfg.Kind(), err)
	}

	o.active = r
	go o.watch(r)

	logger.Info().Str("group", cfg.GroupID()).Msg("Effect started")
	o.publish(eventbus.Event{
		Type:   eventbus.EventEffectStarted,
		RunID:  r.id.String(),
		Effect: string(cfg.Kind()),
		State:  exec.State().String(),
	})
	return nil
}

// Stop cancels the active effect and persists it inactive. It is a no-op
// when nothing runs.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil {
		return nil
	}
	if err := o.setActive(o.active.cfg.Kind(), false); err != nil {
		return err
	}
	o.stopLocked(ReasonStopped)
	o.active = nil
	return nil
}

// Resume starts the effect persisted as active, if any. When several are
// marked active the most recently saved one wins and the rest are
// persisted inactive.
func (o *Orchestrator) Resume(ctx context.Context) error {
	cfgs, err := o.Configs()
	if err != nil {
		return err
	}

	var candidates []effect.Config
	for _, cfg := range []effect.Config{cfgs.Warmup, cfgs.Xmas} {
		if cfg.IsActive() {
			candidates = append(candidates, cfg)
		}
	}

	switch len(candidates) {
	case 0:
		log.Info().Msg("No active effect to resume")
		return nil
	case 1:
	default:
		winner := o.newest(candidates)
		log.Warn().
			Str("resumed", string(winner.Kind())).
			Int("active_configs", len(candidates)).
			Msg("Several effects persisted as active, resuming the most recent")
		candidates = []effect.Config{winner}
	}

	cfg := candidates[0]
	exec, err := o.builder.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to resume %s: %w", cfg.Kind(), err)
	}

	log.Info().Str("effect", string(cfg.Kind())).Msg("Resuming effect")
	return o.StartEffect(ctx, cfg, exec)
}

// Deactivate persists every effect inactive without starting anything.
func (o *Orchestrator) Deactivate() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, kind := range effect.Kinds() {
		if err := o.setActive(kind, false); err != nil {
			return err
		}
	}
	log.Info().Msg("All effects marked inactive")
	return nil
}

// Run blocks until ctx is done, then cancels the active executor and
// returns without waiting for it.
func (o *Orchestrator) Run(ctx context.Context) {
	<-ctx.Done()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil && !o.active.exec.State().Terminal() {
		log.Info().Str("effect", string(o.active.cfg.Kind())).Msg("Cancelling active effect for shutdown")
		o.publish(eventbus.Event{
			Type:   eventbus.EventEffectStopped,
			RunID:  o.active.id.String(),
			Effect: string(o.active.cfg.Kind()),
			Reason: ReasonShutdown,
		})
	}
	o.baseCancel()
}

// Active returns the current run, or nil. A failed run stays visible until
// another effect replaces it.
func (o *Orchestrator) Active() *RunInfo {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()

	if r == nil {
		return nil
	}

	info := &RunInfo{
		ID:        r.id.String(),
		Kind:      r.cfg.Kind(),
		Config:    r.cfg,
		StartedAt: r.startedAt,
		State:     r.exec.State(),
	}
	if nt, ok := r.exec.(nextTimer); ok {
		if next := nt.NextTimes(); len(next) > 0 {
			info.Next = next
		}
	}
	if err := r.exec.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// Wait blocks until the active executor has stopped or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()

	if r == nil {
		return nil
	}
	select {
	case <-r.exec.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Configs loads the persisted config of every kind.
func (o *Orchestrator) Configs() (Configs, error) {
	warmup, err := o.warmup.Get()
	if err != nil {
		return Configs{}, err
	}
	xmas, err := o.xmas.Get()
	if err != nil {
		return Configs{}, err
	}
	return Configs{Warmup: warmup, Xmas: xmas}, nil
}

// Config loads the persisted config of kind.
func (o *Orchestrator) Config(kind effect.Kind) (effect.Config, error) {
	cfgs, err := o.Configs()
	if err != nil {
		return nil, err
	}
	switch kind {
	case effect.KindWarmup:
		return cfgs.Warmup, nil
	case effect.KindXmas:
		return cfgs.Xmas, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEffect, kind)
	}
}

// stopLocked cancels the active run. Callers hold o.mu.
func (o *Orchestrator) stopLocked(reason string) {
	r := o.active

	log.Info().
		Str("effect", string(r.cfg.Kind())).
		Str("run_id", r.id.String()).
		Str("reason", reason).
		Msg("Effect cancelled")
	o.publish(eventbus.Event{
		Type:   eventbus.EventEffectStopped,
		RunID:  r.id.String(),
		Effect: string(r.cfg.Kind()),
		Reason: reason,
	})
	r.cancel()
	o.lastDone = r.exec.Done()
}

// watch reports how a run ended.
func (o *Orchestrator) watch(r *run) {
	<-r.exec.Done()

	ev := eventbus.Event{
		Type:   eventbus.EventEffectFinished,
		RunID:  r.id.String(),
		Effect: string(r.cfg.Kind()),
		State:  r.exec.State().String(),
	}
	if err := r.exec.Err(); err != nil {
		ev.Error = err.Error()
		log.Error().Err(err).
			Str("effect", string(r.cfg.Kind())).
			Str("run_id", r.id.String()).
			Msg("Effect failed, not restarting")
	}
	o.publish(ev)
}

func (o *Orchestrator) save(cfg effect.Config) error {
	var err error
	switch c := cfg.(type) {
	case effect.WarmupConfig:
		err = o.warmup.Set(c)
	case effect.XmasConfig:
		err = o.xmas.Set(c)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEffect, cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to persist %s config: %w", cfg.Kind(), err)
	}
	return nil
}

// setActive rewrites only the active flag of kind's stored config.
func (o *Orchestrator) setActive(kind effect.Kind, active bool) error {
	var err error
	switch kind {
	case effect.KindWarmup:
		err = o.warmup.Update(func(c *effect.WarmupConfig) { c.Active = active })
	case effect.KindXmas:
		err = o.xmas.Update(func(c *effect.XmasConfig) { c.Active = active })
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEffect, kind)
	}
	if err != nil {
		return fmt.Errorf("failed to persist %s config: %w", kind, err)
	}
	return nil
}

func (o *Orchestrator) newest(cfgs []effect.Config) effect.Config {
	best := cfgs[0]
	var bestTime time.Time
	for _, cfg := range cfgs {
		mod, err := o.modTime(cfg.Kind())
		if err != nil {
			log.Warn().Err(err).Str("effect", string(cfg.Kind())).Msg("Failed to stat config")
			continue
		}
		if mod.After(bestTime) {
			best, bestTime = cfg, mod
		}
	}
	return best
}

func (o *Orchestrator) modTime(kind effect.Kind) (time.Time, error) {
	var (
		mod time.Time
		err error
	)
	switch kind {
	case effect.KindWarmup:
		mod, _, err = o.warmup.ModTime()
	case effect.KindXmas:
		mod, _, err = o.xmas.ModTime()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEffect, kind)
	}
	return mod, err
}

func (o *Orchestrator) publish(ev eventbus.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}
