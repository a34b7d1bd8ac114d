package usecase

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/manojd/signal_bridge/internal/domain"
	"go.uber.org/zap"
)

const (
	catalogTTL          = 24 * time.Hour
	maxResolveAttempts  = 3
	scoreWholeWord      = 100
	scoreNormalizedSame = 80
	scoreCandidateHas   = 60
	scoreQueryHas       = 50
	scoreRawSubstring   = 30
	scoreRawReverse     = 20
)

type catalogEntry struct {
	symbol     string // normalized trading symbol
	display    string // normalized display name
	securityID string
}

// IdentifierResolver maps tickers to exchange security identifiers using a
// cached instrument catalog. Lookups try an exact match first, then a scored
// fuzzy match, then force-refresh the catalog and retry before giving up.
// An unresolved ticker is always surfaced as an error; the raw ticker is
// never passed through as a security id.
type IdentifierResolver struct {
	source domain.CatalogSource
	log    *zap.Logger
	clock  Clock

	mu        sync.RWMutex
	bySymbol  map[string]string
	entries   []catalogEntry
	fetchedAt time.Time
	ttl       time.Duration
}

func NewIdentifierResolver(source domain.CatalogSource, clock Clock, log *zap.Logger) *IdentifierResolver {
	return &IdentifierResolver{
		source:   source,
		log:      log,
		clock:    clock,
		bySymbol: make(map[string]string),
		ttl:      catalogTTL,
	}
}

// Resolve returns the security id for a ticker.
func (r *IdentifierResolver) Resolve(ctx context.Context, ticker string) (string, error) {
	query := normalizeTicker(ticker)
	if query == "" {
		return "", &domain.ValidationError{Field: "ticker", Msg: "empty"}
	}

	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		force := attempt > 0
		if err := r.refreshIfNeeded(ctx, force); err != nil {
			r.log.Warn("catalog refresh failed",
				zap.String("ticker", query),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		if id, ok := r.lookup(query); ok {
			return id, nil
		}
	}

	return "", &domain.IdentifierNotFoundError{Ticker: query}
}

// Warm fetches the catalog if the cache is empty or stale, so the first
// signal does not pay for the download.
func (r *IdentifierResolver) Warm(ctx context.Context) error {
	return r.refreshIfNeeded(ctx, false)
}

// Invalidate drops the cached catalog so the next lookup refetches it.
func (r *IdentifierResolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchedAt = time.Time{}
}

func (r *IdentifierResolver) lookup(query string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.bySymbol[query]; ok {
		return id, true
	}

	bestScore := 0
	bestID := ""
	for _, e := range r.entries {
		s := scoreMatch(query, e)
		// Strictly greater keeps the first occurrence on ties.
		if s > bestScore {
			bestScore = s
			bestID = e.securityID
		}
	}
	if bestScore > 0 {
		return bestID, true
	}
	return "", false
}

func (r *IdentifierResolver) refreshIfNeeded(ctx context.Context, force bool) error {
	r.mu.RLock()
	fresh := !r.fetchedAt.IsZero() && r.clock.Now().Sub(r.fetchedAt) < r.ttl
	r.mu.RUnlock()

	if fresh && !force {
		return nil
	}

	instruments, err := r.source.Fetch(ctx)
	if err != nil {
		return err
	}

	bySymbol := make(map[string]string, len(instruments))
	entries := make([]catalogEntry, 0, len(instruments))
	for _, in := range instruments {
		symbol := normalizeTicker(in.Symbol)
		if symbol == "" || in.SecurityID == "" {
			continue
		}
		if _, exists := bySymbol[symbol]; !exists {
			bySymbol[symbol] = in.SecurityID
		}
		entries = append(entries, catalogEntry{
			symbol:     symbol,
			display:    normalizeTicker(in.DisplayName),
			securityID: in.SecurityID,
		})
	}

	r.mu.Lock()
	r.bySymbol = bySymbol
	r.entries = entries
	r.fetchedAt = r.clock.Now()
	r.mu.Unlock()

	r.log.Info("instrument catalog refreshed", zap.Int("instruments", len(entries)))
	return nil
}

// scoreMatch ranks how well a catalog entry matches the query. Higher wins;
// zero means no match at all. Pure so the ranking is testable without the
// cache or the fetcher.
func scoreMatch(query string, e catalogEntry) int {
	if query == "" {
		return 0
	}

	if containsWholeWord(e.symbol, query) || containsWholeWord(e.display, query) {
		return scoreWholeWord
	}

	nq := alphanumeric(query)
	ns := alphanumeric(e.symbol)
	if nq != "" && nq == ns {
		return scoreNormalizedSame
	}
	if nq != "" && ns != "" {
		if strings.Contains(ns, nq) {
			return scoreCandidateHas
		}
		if strings.Contains(nq, ns) {
			return scoreQueryHas
		}
	}
	if strings.Contains(e.symbol, query) || strings.Contains(e.display, query) {
		return scoreRawSubstring
	}
	if strings.Contains(query, e.symbol) {
		return scoreRawReverse
	}
	return 0
}

func containsWholeWord(haystack, word string) bool {
	if haystack == "" {
		return false
	}
	for _, field := range strings.FieldsFunc(haystack, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if field == word {
			return true
		}
	}
	return false
}

func alphanumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
