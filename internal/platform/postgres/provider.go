package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplane/api/internal/platform/config"
)

const defaultConnectTimeout = 10 * time.Second

var ErrProviderClosed = errors.New("postgres: provider is closed")

// Provider lazily initialises a shared pgx connection pool.
type Provider struct {
	cfg            config.DatabaseConfig
	connectTimeout time.Duration

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithConnectTimeout overrides the timeout used when establishing the pool.
func WithConnectTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.connectTimeout = timeout
		}
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		cfg:            cfg,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// Pool returns the lazily initialised connection pool.
func (p *Provider) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	if ctx == nil {
		return nil, errors.New("postgres: context is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.pool != nil {
		return p.pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(p.cfg.URL)
	if err != nil {
		return nil, WrapError("postgres.parse_config", err)
	}
	if p.cfg.MaxConns > 0 {
		poolCfg.MaxConns = p.cfg.MaxConns
	}
	if p.cfg.MinConns > 0 {
		poolCfg.MinConns = p.cfg.MinConns
	}

	connectCtx := ctx
	var cancel context.CancelFunc
	if p.connectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, p.connectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, WrapError("postgres.connect", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, WrapError("postgres.ping", err)
	}

	p.pool = pool
	return pool, nil
}

// Close releases the pool and marks the provider as closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}
