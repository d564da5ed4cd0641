package config

import (
	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

// PolicyConfig builds the token policy from the delivery section.
func (c *ServerConfig) PolicyConfig() *service.PolicyConfig {
	d := &c.Delivery
	pc := &service.PolicyConfig{
		Default:  domain.Policy{TTL: d.DefaultTTL, MaxUses: d.DefaultMaxUses},
		Products: make(map[string]domain.PolicyOverride, len(d.Products)),
	}
	for id, p := range d.Products {
		pc.Products[id] = domain.PolicyOverride{
			TTLSeconds: int64(p.TTL.Seconds()),
			MaxUses:    p.MaxUses,
		}
	}
	return pc
}

// DeliveryConfig builds the delivery service configuration.
func (c *ServerConfig) DeliveryConfig() *service.DeliveryConfig {
	return &service.DeliveryConfig{
		PublicBaseURL: c.Server.PublicBaseURL,
		StoreTimeout:  c.Storage.Timeout,
		Concurrency:   c.Delivery.Concurrency,
		MintAttempts:  c.Delivery.MintAttempts,
	}
}

// SweeperConfig builds the sweeper configuration.
func (c *ServerConfig) SweeperConfig() *service.SweeperConfig {
	return &service.SweeperConfig{
		Interval:  c.Sweeper.Interval,
		Retention: c.Sweeper.Retention,
		Timeout:   c.Sweeper.Timeout,
	}
}

// TokenSecrets returns the current secret followed by previous ones.
func (c *ServerConfig) TokenSecrets() (current []byte, previous [][]byte) {
	for _, s := range c.Security.PreviousTokenSecrets {
		previous = append(previous, []byte(s))
	}
	return []byte(c.Security.TokenSecret), previous
}
