package service

import (
	"sync/atomic"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// PolicyConfig is the configured token policy: a default plus per-product
// overrides keyed by product id.
type PolicyConfig struct {
	Default  domain.Policy
	Products map[string]domain.PolicyOverride
}

// DefaultPolicyConfig returns the built-in policy with no product overrides.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{Default: domain.DefaultPolicy()}
}

// PolicyResolver resolves the effective policy for an order line.
// The configuration can be swapped at runtime by the config watcher.
type PolicyResolver struct {
	cfg atomic.Pointer[PolicyConfig]
}

// NewPolicyResolver creates a resolver. A nil cfg uses DefaultPolicyConfig.
func NewPolicyResolver(cfg *PolicyConfig) *PolicyResolver {
	r := &PolicyResolver{}
	if cfg == nil {
		cfg = DefaultPolicyConfig()
	}
	r.cfg.Store(cfg)
	return r
}

// Update replaces the active configuration after validating it.
func (r *PolicyResolver) Update(cfg *PolicyConfig) error {
	if cfg == nil {
		return domain.ErrInvalidArgument.WithDetails("nil policy config")
	}
	if err := cfg.Default.Validate(); err != nil {
		return err
	}
	r.cfg.Store(cfg)
	return nil
}

// Current returns the active configuration.
func (r *PolicyResolver) Current() *PolicyConfig {
	return r.cfg.Load()
}

// Resolve applies, in increasing precedence: the default policy, the
// product override, then the order override.
func (r *PolicyResolver) Resolve(productID string, order *domain.PolicyOverride) domain.Policy {
	cfg := r.cfg.Load()
	p := cfg.Default
	if po, ok := cfg.Products[productID]; ok {
		p = p.Override(&po)
	}
	return p.Override(order)
}
