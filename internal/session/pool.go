// Package session implements the shared pool of network identities (proxy,
// cookie jar, fingerprint) borrowed by extraction attempts.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/profile-extractor/internal/metrics"
	"github.com/JakeFAU/profile-extractor/internal/profile"
)

var (
	// ErrUnknownSession is returned when releasing a session the pool does not own.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotBorrowed is returned when releasing a session that is not checked out.
	ErrNotBorrowed = errors.New("session not borrowed")
)

// Config controls pool policy.
type Config struct {
	// Tiers are proxy tier names ordered by trust; the first is preferred.
	Tiers []string
	// Fingerprints are assigned to new sessions round-robin.
	Fingerprints []profile.Fingerprint
	// MaxUses retires a session after this many releases (0 disables).
	MaxUses int
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Live     int
	Idle     int
	Borrowed int
	Burned   int
	Degraded bool
}

type entry struct {
	session  profile.Session
	borrowed bool
}

// Pool owns every session and serializes Acquire/Release.
type Pool struct {
	cfg         Config
	provisioner profile.Provisioner
	ids         profile.IDGenerator
	clock       profile.Clock
	logger      *zap.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	burned   map[string]struct{}
	degraded bool
	nextFP   int
}

// NewPool builds an empty pool; sessions are provisioned lazily on Acquire.
func NewPool(
	cfg Config,
	provisioner profile.Provisioner,
	ids profile.IDGenerator,
	clock profile.Clock,
	logger *zap.Logger,
) (*Pool, error) {
	if provisioner == nil {
		return nil, fmt.Errorf("provisioner is required")
	}
	if len(cfg.Tiers) == 0 {
		return nil, fmt.Errorf("at least one proxy tier is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:         cfg,
		provisioner: provisioner,
		ids:         ids,
		clock:       clock,
		logger:      logger,
		entries:     make(map[string]*entry),
		burned:      make(map[string]struct{}),
	}, nil
}

// Acquire borrows an idle FRESH or USED session, provisioning a new identity
// when none is idle. It fails with profile.ErrPoolExhausted only when every
// tier fails to provision.
func (p *Pool) Acquire(ctx context.Context) (*profile.Session, error) {
	if s := p.borrowIdle(); s != nil {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	endpoint, degraded, err := p.provision(ctx)
	if err != nil {
		return nil, err
	}
	id, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sess := profile.Session{
		ID:          id,
		Proxy:       endpoint,
		Jar:         jar,
		Fingerprint: p.nextFingerprint(),
		Health:      profile.HealthFresh,
		Degraded:    degraded,
		CreatedAt:   p.clock.Now(),
	}
	p.entries[id] = &entry{session: sess, borrowed: true}
	p.order = append(p.order, id)
	p.degraded = degraded
	metrics.SetPoolDegraded(degraded)
	metrics.ObserveSession("provisioned", endpoint.Tier)
	p.logger.Debug("session provisioned",
		zap.String("session_id", id),
		zap.String("tier", endpoint.Tier),
		zap.Bool("degraded", degraded),
	)
	out := sess
	return &out, nil
}

// Release returns a borrowed session with its new health. BURNED evicts the
// session permanently.
func (p *Pool) Release(s *profile.Session, health profile.Health) error {
	if s == nil {
		return fmt.Errorf("release: %w", ErrUnknownSession)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[s.ID]
	if !ok {
		return fmt.Errorf("release %s: %w", s.ID, ErrUnknownSession)
	}
	if !e.borrowed {
		return fmt.Errorf("release %s: %w", s.ID, ErrNotBorrowed)
	}
	e.borrowed = false
	e.session.Uses++
	e.session.Health = health

	switch {
	case health == profile.HealthBurned:
		p.evictLocked(s.ID)
		metrics.ObserveSession("burned", e.session.Proxy.Tier)
		p.logger.Info("session burned", zap.String("session_id", s.ID), zap.String("tier", e.session.Proxy.Tier))
	case p.cfg.MaxUses > 0 && e.session.Uses >= p.cfg.MaxUses:
		p.evictLocked(s.ID)
		metrics.ObserveSession("retired", e.session.Proxy.Tier)
		p.logger.Debug("session retired", zap.String("session_id", s.ID), zap.Int("uses", e.session.Uses))
	}
	return nil
}

// Degraded reports whether the most recent provisioning fell back to a lower tier.
func (p *Pool) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{Live: len(p.entries), Burned: len(p.burned), Degraded: p.degraded}
	for _, e := range p.entries {
		if e.borrowed {
			st.Borrowed++
		} else {
			st.Idle++
		}
	}
	return st
}

func (p *Pool) borrowIdle() *profile.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		e := p.entries[id]
		if e == nil || e.borrowed || e.session.Health == profile.HealthBurned {
			continue
		}
		e.borrowed = true
		out := e.session
		return &out
	}
	return nil
}

func (p *Pool) provision(ctx context.Context) (profile.ProxyEndpoint, bool, error) {
	var errs []error
	for i, tier := range p.cfg.Tiers {
		endpoint, err := p.provisioner.Provision(ctx, tier)
		if err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", tier, err))
			p.logger.Warn("proxy provisioning failed", zap.String("tier", tier), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if endpoint.Tier == "" {
			endpoint.Tier = tier
		}
		if i > 0 {
			p.logger.Warn("session pool degraded; using fallback tier",
				zap.String("tier", tier),
				zap.String("preferred", p.cfg.Tiers[0]),
			)
		}
		return endpoint, i > 0, nil
	}
	return profile.ProxyEndpoint{}, false, fmt.Errorf("%w: %w", profile.ErrPoolExhausted, errors.Join(errs...))
}

func (p *Pool) nextFingerprint() profile.Fingerprint {
	if len(p.cfg.Fingerprints) == 0 {
		return profile.Fingerprint{}
	}
	fp := p.cfg.Fingerprints[p.nextFP%len(p.cfg.Fingerprints)]
	p.nextFP++
	return fp
}

func (p *Pool) evictLocked(id string) {
	delete(p.entries, id)
	p.burned[id] = struct{}{}
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
