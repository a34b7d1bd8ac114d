package usecase

import (
	"sync"
	"time"
)

const duplicateRetention = 30 * 24 * time.Hour

type duplicateEntry struct {
	count       int
	lastOrderAt time.Time
}

// DuplicateGuard remembers which tickers already traded on a calendar day
// so the same signal cannot fire twice. Entries older than the retention
// window are pruned on write.
type DuplicateGuard struct {
	clock     Clock
	retention time.Duration

	mu      sync.Mutex
	entries map[string]*duplicateEntry // "<TICKER>|<yyyy-mm-dd>"
}

func NewDuplicateGuard(clock Clock) *DuplicateGuard {
	return &DuplicateGuard{
		clock:     clock,
		retention: duplicateRetention,
		entries:   make(map[string]*duplicateEntry),
	}
}

// HasOrderedToday reports whether an order was already recorded for this
// ticker today. Ticker comparison is case-insensitive.
func (g *DuplicateGuard) HasOrderedToday(ticker string) bool {
	key := g.key(ticker, g.clock.Now())
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[key]
	return ok
}

// RecordOrder upserts today's entry for the ticker and prunes expired ones.
func (g *DuplicateGuard) RecordOrder(ticker string) {
	now := g.clock.Now()
	key := g.key(ticker, now)

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[key]; ok {
		e.count++
		e.lastOrderAt = now
	} else {
		g.entries[key] = &duplicateEntry{count: 1, lastOrderAt: now}
	}

	cutoff := now.Add(-g.retention)
	for k, e := range g.entries {
		if e.lastOrderAt.Before(cutoff) {
			delete(g.entries, k)
		}
	}
}

// OrderCount returns how many orders were recorded for the ticker today.
func (g *DuplicateGuard) OrderCount(ticker string) int {
	key := g.key(ticker, g.clock.Now())
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[key]; ok {
		return e.count
	}
	return 0
}

// Reset drops all entries.
func (g *DuplicateGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[string]*duplicateEntry)
}

func (g *DuplicateGuard) key(ticker string, t time.Time) string {
	return normalizeTicker(ticker) + "|" + t.Format("2006-01-02")
}
