package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/profile-extractor/internal/profile"
)

// DirectEndpoint is the configured endpoint literal for proxy-less identities.
const DirectEndpoint = "direct"

// ErrTierUnavailable is returned when a tier has no endpoints left.
var ErrTierUnavailable = errors.New("proxy tier unavailable")

// StaticProvisioner issues endpoints from fixed per-tier lists. Each proxy URL
// is issued once; a tier listing DirectEndpoint issues direct identities
// indefinitely.
type StaticProvisioner struct {
	mu        sync.Mutex
	endpoints map[string][]string
}

// NewStaticProvisioner copies the tier lists so callers can't mutate them.
func NewStaticProvisioner(tiers map[string][]string) *StaticProvisioner {
	endpoints := make(map[string][]string, len(tiers))
	for tier, list := range tiers {
		clean := make([]string, 0, len(list))
		for _, ep := range list {
			ep = strings.TrimSpace(ep)
			if ep != "" {
				clean = append(clean, ep)
			}
		}
		endpoints[tier] = clean
	}
	return &StaticProvisioner{endpoints: endpoints}
}

// Provision returns the next unused endpoint of tier.
func (s *StaticProvisioner) Provision(ctx context.Context, tier string) (profile.ProxyEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return profile.ProxyEndpoint{}, fmt.Errorf("provision %s: %w", tier, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.endpoints[tier]
	if len(list) == 0 {
		return profile.ProxyEndpoint{}, fmt.Errorf("%s: %w", tier, ErrTierUnavailable)
	}
	if list[0] == DirectEndpoint {
		return profile.ProxyEndpoint{Tier: tier}, nil
	}
	raw := list[0]
	s.endpoints[tier] = list[1:]

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return profile.ProxyEndpoint{}, fmt.Errorf("invalid proxy endpoint for tier %s", tier)
	}
	return profile.ProxyEndpoint{Tier: tier, URL: raw}, nil
}

// Remaining reports how many endpoints a tier can still issue (-1 for direct).
func (s *StaticProvisioner) Remaining(tier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.endpoints[tier]
	if len(list) > 0 && list[0] == DirectEndpoint {
		return -1
	}
	return len(list)
}
