package riskrule

import (
	"sync"

	"github.com/joripage/venue-oms/pkg/oms/model"
)

// ProfileBook holds per-account risk profiles and the halted instrument set.
// Trading flow only reads it; Set and Halt are the administrative surface.
type ProfileBook struct {
	mu       sync.RWMutex
	fallback model.RiskProfile
	profiles map[string]model.RiskProfile
	halted   map[string]struct{}
}

func NewProfileBook(fallback model.RiskProfile, profiles []model.RiskProfile, halted []string) *ProfileBook {
	b := &ProfileBook{
		fallback: fallback,
		profiles: make(map[string]model.RiskProfile, len(profiles)),
		halted:   make(map[string]struct{}, len(halted)),
	}
	for _, p := range profiles {
		b.profiles[p.Account] = p
	}
	for _, instrument := range halted {
		b.halted[instrument] = struct{}{}
	}
	return b
}

// Profile returns the account's profile, or the default one.
func (b *ProfileBook) Profile(account string) model.RiskProfile {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if p, ok := b.profiles[account]; ok {
		return p
	}
	p := b.fallback
	p.Account = account
	return p
}

func (b *ProfileBook) Set(p model.RiskProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.profiles[p.Account] = p
}

func (b *ProfileBook) Halt(instrument string, halted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if halted {
		b.halted[instrument] = struct{}{}
		return
	}
	delete(b.halted, instrument)
}

func (b *ProfileBook) IsHalted(instrument string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.halted[instrument]
	return ok
}
