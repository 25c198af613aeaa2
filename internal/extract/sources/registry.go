package sources

import (
	"sync"

	"github.com/sells-group/org-directory/internal/cache"
	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/config"
	"github.com/sells-group/org-directory/internal/extract"
	"github.com/sells-group/org-directory/internal/fetcher"
	"github.com/sells-group/org-directory/internal/resilience"
)

// Registry builds extractors from configuration. It owns one client per
// source so pacing state is never shared between sources.
type Registry struct {
	cfg      *config.Config
	cache    cache.Backend
	store    *checkpoint.Store
	breakers *resilience.Breakers

	mu      sync.Mutex
	clients map[string]*fetcher.Client
}

// NewRegistry creates a registry. backend may be nil to disable response
// caching.
func NewRegistry(cfg *config.Config, backend cache.Backend, store *checkpoint.Store) *Registry {
	r := &Registry{
		cfg:     cfg,
		cache:   backend,
		store:   store,
		clients: make(map[string]*fetcher.Client),
	}
	if bc, ok := resilience.FromCircuitConfig(cfg.HTTP.BreakerThreshold, cfg.HTTP.BreakerResetTimeout); ok {
		r.breakers = resilience.NewBreakers(bc)
	}
	return r
}

// Breakers returns the per-source circuit breakers, or nil when disabled.
func (r *Registry) Breakers() *resilience.Breakers { return r.breakers }

// Client returns the client for source, creating it on first use.
func (r *Registry) Client(source string, sc config.SourceConfig, headers map[string]string) *fetcher.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[source]; ok {
		return c
	}

	h := r.cfg.HTTP
	retries := h.MaxRetries
	if sc.MaxRetries > 0 {
		retries = sc.MaxRetries
	}
	var breaker *resilience.CircuitBreaker
	if r.breakers != nil {
		breaker = r.breakers.For(source)
	}

	c := fetcher.NewClient(fetcher.ClientOptions{
		Source:          source,
		Interval:        sc.Interval,
		Timeout:         h.Timeout,
		DownloadTimeout: h.DownloadTimeout,
		MaxRetries:      retries,
		BaseBackoff:     h.BaseBackoff,
		MaxBackoff:      h.MaxBackoff,
		Jitter:          h.Jitter,
		UserAgent:       h.UserAgent,
		Headers:         headers,
		Cache:           r.cache,
		Breaker:         breaker,
	})
	r.clients[source] = c
	return c
}

// Base returns the base extractor, or nil when it is disabled.
func (r *Registry) Base() extract.Extractor {
	sc := r.cfg.Sources.IRSBMF
	if !sc.Enabled {
		return nil
	}
	return &IRSBMF{
		Client:  r.Client(IRSBMFName, sc.SourceConfig, nil),
		BaseURL: sc.BaseURL,
		Files:   sc.Files,
		RawDir:  sc.RawDir,
	}
}

// Keyed returns the enabled EIN-keyed extractors for the given EINs.
func (r *Registry) Keyed(eins []string) []extract.Extractor {
	var out []extract.Extractor
	if sc := r.cfg.Sources.ProPublica; sc.Enabled {
		out = append(out, &ProPublica{
			Client:   r.Client(ProPublicaName, sc, nil),
			BaseURL:  sc.BaseURL,
			Store:    r.store,
			Interval: r.cfg.Checkpoint.Interval,
			EINs:     eins,
		})
	}
	if sc := r.cfg.Sources.CharityNav; sc.Enabled {
		out = append(out, &CharityNav{
			Client:   r.Client(CharityNavName, sc, map[string]string{CharityNavKeyHeader: sc.APIKey}),
			URL:      sc.BaseURL,
			APIKey:   sc.APIKey,
			Store:    r.store,
			Interval: r.cfg.Checkpoint.Interval,
			EINs:     eins,
		})
	}
	if sc := r.cfg.Sources.NODC; sc.Enabled {
		out = append(out, &NODC{
			Client: r.Client(NODCName, sc.SourceConfig, nil),
			URLs:   sc.URLs,
			RawDir: sc.RawDir,
			EINs:   eins,
		})
	}
	return out
}

// NonKeyed returns the enabled extractors whose records carry no EIN.
func (r *Registry) NonKeyed() []extract.Extractor {
	var out []extract.Extractor
	if sc := r.cfg.Sources.VAFacilities; sc.Enabled {
		out = append(out, &VAFacilities{
			Client:  r.Client(VAFacilitiesName, sc.SourceConfig, map[string]string{VAFacilitiesKeyHeader: sc.APIKey}),
			URL:     sc.BaseURL,
			APIKey:  sc.APIKey,
			Types:   sc.Types,
			PerPage: sc.PerPage,
		})
	}
	if sc := r.cfg.Sources.VAVSO; sc.Enabled {
		out = append(out, &VAVSO{Client: r.Client(VAVSOName, sc, nil), URL: sc.BaseURL})
	}
	if sc := r.cfg.Sources.NRD; sc.Enabled {
		out = append(out, &NRD{Client: r.Client(NRDName, sc, nil), BaseURL: sc.BaseURL})
	}
	return out
}

// KeyedNames lists the sources whose records join on EIN, base included.
func KeyedNames() []string {
	return []string{IRSBMFName, ProPublicaName, CharityNavName, NODCName}
}
