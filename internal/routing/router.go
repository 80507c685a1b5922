package routing

import (
	"errors"
	"sort"
	"strings"
)

// Capability flags a (provider, model) pair can advertise.
const (
	CapabilityText     = "text"
	CapabilityVision   = "vision"
	CapabilityAudioIn  = "audio_in"
	CapabilityAudioOut = "audio_out"
	CapabilityTools    = "tools"
	CapabilityJSON     = "json"
)

var ErrNoCandidates = errors.New("no dispatchable model candidates")

// Candidate is one dispatchable (provider, model) pair from the catalog.
type Candidate struct {
	ProviderID   string
	ModelID      string
	Capabilities []string
	Priority     int
}

func (c Candidate) hasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range c.Capabilities {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TenantRoutingPolicy is supplied by an external settings collaborator.
type TenantRoutingPolicy struct {
	PinnedModel      string   `json:"pinned_model,omitempty"`
	DefaultModel     string   `json:"default_model,omitempty"`
	AllowedProviders []string `json:"allowed_providers,omitempty"`
	ByoaOptIn        bool     `json:"byoa_opt_in,omitempty"`
}

func (p TenantRoutingPolicy) allowsProvider(providerID string) bool {
	if len(p.AllowedProviders) == 0 {
		return true
	}
	for _, allowed := range p.AllowedProviders {
		if strings.EqualFold(allowed, providerID) {
			return true
		}
	}
	return false
}

// Router resolves the ranked fallback chain for a dispatch attempt.
type Router struct {
	catalog      []Candidate
	defaultModel string
}

func NewRouter(catalog []Candidate, defaultModel string) *Router {
	return &Router{catalog: catalog, defaultModel: strings.TrimSpace(defaultModel)}
}

// ResolveFallbackChain returns the ordered candidate list for the required
// capabilities under the tenant policy. Ranking: explicit tenant pin, then
// tenant default, then platform default, then remaining capability-matched
// candidates by catalog priority; equal priorities tie-break on
// provider/model id so identical inputs always produce an identical chain.
func (r *Router) ResolveFallbackChain(required []string, policy TenantRoutingPolicy) ([]Candidate, error) {
	matched := make([]Candidate, 0, len(r.catalog))
	for _, c := range r.catalog {
		if !c.hasCapabilities(required) {
			continue
		}
		if !policy.allowsProvider(c.ProviderID) {
			continue
		}
		matched = append(matched, c)
	}
	if len(matched) == 0 {
		return nil, ErrNoCandidates
	}

	sort.SliceStable(matched, func(i, j int) bool {
		ri, rj := r.rank(matched[i], policy), r.rank(matched[j], policy)
		if ri != rj {
			return ri < rj
		}
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		if matched[i].ProviderID != matched[j].ProviderID {
			return matched[i].ProviderID < matched[j].ProviderID
		}
		return matched[i].ModelID < matched[j].ModelID
	})
	return matched, nil
}

func (r *Router) rank(c Candidate, policy TenantRoutingPolicy) int {
	switch {
	case policy.PinnedModel != "" && strings.EqualFold(c.ModelID, policy.PinnedModel):
		return 0
	case policy.DefaultModel != "" && strings.EqualFold(c.ModelID, policy.DefaultModel):
		return 1
	case r.defaultModel != "" && strings.EqualFold(c.ModelID, r.defaultModel):
		return 2
	default:
		return 3
	}
}
