package effect

import "fmt"

// Factory builds executors for configs.
type Factory struct {
	Gateway  Gateway
	Resolver Resolver
	Clock    Clock
}

// New validates cfg and returns a fresh executor for it.
func (f *Factory) New(cfg Config) (Executor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch c := cfg.(type) {
	case WarmupConfig:
		return NewWarmup(c, f.Gateway, f.Resolver, f.Clock), nil
	case XmasConfig:
		return NewXmas(c, f.Gateway, f.Clock), nil
	default:
		return nil, fmt.Errorf("%w: unsupported config %T", ErrInvalidConfig, cfg)
	}
}
