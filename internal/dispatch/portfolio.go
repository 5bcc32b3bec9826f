package dispatch

import (
	"sync"
	"time"

	"livedash/internal/types"
)

// Portfolio holds the latest portfolio payload. Last write wins; no history.
type Portfolio struct {
	mu        sync.RWMutex
	snapshot  types.PortfolioSnapshot
	updatedAt time.Time
}

func NewPortfolio() *Portfolio {
	return &Portfolio{}
}

// Replace swaps the stored snapshot wholesale. The payload is copied.
func (p *Portfolio) Replace(snapshot types.PortfolioSnapshot) {
	cp := make(types.PortfolioSnapshot, len(snapshot))
	copy(cp, snapshot)

	p.mu.Lock()
	p.snapshot = cp
	p.updatedAt = time.Now()
	p.mu.Unlock()
}

// Snapshot returns the current payload and whether one has arrived yet.
func (p *Portfolio) Snapshot() (types.PortfolioSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshot == nil {
		return nil, false
	}
	cp := make(types.PortfolioSnapshot, len(p.snapshot))
	copy(cp, p.snapshot)
	return cp, true
}

func (p *Portfolio) UpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updatedAt
}
