package connectors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
)

// Registry holds the configured provider connectors keyed by provider name.
// Connectors register once at startup; lookups happen on every sync job.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]core.Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]core.Connector)}
}

// NewRegistryFromConfig builds a registry containing every enabled provider.
func NewRegistryFromConfig(cfg config.ProvidersConfig, limiter core.RateLimiter, log *logger.Logger) *Registry {
	r := NewRegistry()

	if cfg.Okta.Enabled {
		r.Register(NewOktaConnector(cfg.Okta, limiter, log))
	}
	if cfg.AWS.Enabled {
		r.Register(NewAWSConnector(cfg.AWS, limiter, log))
	}
	if cfg.Azure.Enabled {
		r.Register(NewAzureConnector(cfg.Azure, limiter, log))
	}
	if cfg.GCP.Enabled {
		r.Register(NewGCPConnector(cfg.GCP, limiter, log))
	}
	if cfg.GitHub.Enabled {
		r.Register(NewGitHubConnector(cfg.GitHub, limiter, log))
	}
	if cfg.GitLab.Enabled {
		r.Register(NewGitLabConnector(cfg.GitLab, limiter, log))
	}
	if cfg.HR.Enabled {
		r.Register(NewHRConnector(cfg.HR, limiter, log))
	}

	return r
}

func (r *Registry) Register(c core.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Provider()] = c
}

func (r *Registry) Get(provider string) (core.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[provider]
	if !ok {
		return nil, fmt.Errorf("no connector registered for provider %q", provider)
	}
	return c, nil
}

// Providers returns the registered provider names in stable order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
