package usecase

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/manojd/signal_bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	// Yield so goroutines waiting on this clock are not starved when a
	// caller spins on Sleep with GOMAXPROCS=1.
	runtime.Gosched()
	return nil
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeCatalogSource struct {
	mu          sync.Mutex
	instruments []domain.Instrument
	err         error
	fetches     int
}

func (f *fakeCatalogSource) Fetch(ctx context.Context) ([]domain.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.instruments, nil
}

func (f *fakeCatalogSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func testInstruments() []domain.Instrument {
	return []domain.Instrument{
		{Symbol: "INFY", DisplayName: "Infosys Limited", SecurityID: "1594"},
		{Symbol: "INFY-BE", DisplayName: "Infosys Limited BE", SecurityID: "9999"},
		{Symbol: "TCS", DisplayName: "Tata Consultancy Services", SecurityID: "11536"},
		{Symbol: "RELIANCE", DisplayName: "Reliance Industries", SecurityID: "2885"},
		{Symbol: "M&M", DisplayName: "Mahindra & Mahindra", SecurityID: "2031"},
	}
}

func newTestResolver(src domain.CatalogSource) *IdentifierResolver {
	return NewIdentifierResolver(src, newManualClock(), zap.NewNop())
}

func TestResolve_ExactMatchOutranksFuzzy(t *testing.T) {
	src := &fakeCatalogSource{instruments: testInstruments()}
	r := newTestResolver(src)

	id, err := r.Resolve(context.Background(), "infy")
	require.NoError(t, err)
	// INFY-BE also contains "INFY" but the exact symbol wins.
	assert.Equal(t, "1594", id)
}

func TestResolve_FuzzyDeterministic(t *testing.T) {
	src := &fakeCatalogSource{instruments: testInstruments()}
	r := newTestResolver(src)

	first, err := r.Resolve(context.Background(), "INFOSYS")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), "INFOSYS")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "1594", first)
}

func TestResolve_NormalizedAlphanumericMatch(t *testing.T) {
	src := &fakeCatalogSource{instruments: testInstruments()}
	r := newTestResolver(src)

	id, err := r.Resolve(context.Background(), "MM")
	require.NoError(t, err)
	assert.Equal(t, "2031", id)
}

func TestResolve_NotFoundAfterForcedRefreshes(t *testing.T) {
	src := &fakeCatalogSource{instruments: testInstruments()}
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), "NOSUCHTICKER")
	var notFound *domain.IdentifierNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "NOSUCHTICKER", notFound.Ticker)
	// initial fetch plus two forced refreshes
	assert.Equal(t, 3, src.fetchCount())
}

func TestResolve_RefreshRecoversFromStaleCatalog(t *testing.T) {
	src := &fakeCatalogSource{instruments: []domain.Instrument{
		{Symbol: "TCS", SecurityID: "11536"},
	}}
	r := newTestResolver(src)

	// prime the cache without the ticker we want
	_, err := r.Resolve(context.Background(), "WIPRO")
	require.Error(t, err)

	src.mu.Lock()
	src.instruments = append(src.instruments, domain.Instrument{Symbol: "WIPRO", SecurityID: "3787"})
	src.mu.Unlock()

	id, err := r.Resolve(context.Background(), "WIPRO")
	require.NoError(t, err)
	assert.Equal(t, "3787", id)
}

func TestResolve_CacheSkipsRefetchUntilTTL(t *testing.T) {
	src := &fakeCatalogSource{instruments: testInstruments()}
	clock := newManualClock()
	r := NewIdentifierResolver(src, clock, zap.NewNop())

	_, err := r.Resolve(context.Background(), "TCS")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "INFY")
	require.NoError(t, err)
	assert.Equal(t, 1, src.fetchCount())

	clock.Advance(25 * time.Hour)
	_, err = r.Resolve(context.Background(), "TCS")
	require.NoError(t, err)
	assert.Equal(t, 2, src.fetchCount())
}

func TestResolve_InvalidateForcesRefetch(t *testing.T) {
	src := &fakeCatalogSource{instruments: testInstruments()}
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), "TCS")
	require.NoError(t, err)
	r.Invalidate()
	_, err = r.Resolve(context.Background(), "TCS")
	require.NoError(t, err)
	assert.Equal(t, 2, src.fetchCount())
}

func TestResolve_SourceErrorSurfacesAsNotFound(t *testing.T) {
	src := &fakeCatalogSource{err: errors.New("feed unavailable")}
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), "INFY")
	var notFound *domain.IdentifierNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestScoreMatch_Ranking(t *testing.T) {
	entry := func(symbol, display string) catalogEntry {
		return catalogEntry{symbol: symbol, display: display, securityID: "x"}
	}

	wholeWord := scoreMatch("INFY", entry("INFY-BE", ""))
	normalized := scoreMatch("MM", entry("M&M", ""))
	substring := scoreMatch("RELI", entry("RELIANCE", ""))
	reverse := scoreMatch("RELIANCEIND", entry("RELIANCE", ""))
	none := scoreMatch("ZZZ", entry("RELIANCE", ""))

	assert.Greater(t, wholeWord, normalized)
	assert.Greater(t, normalized, substring)
	assert.Greater(t, substring, reverse)
	assert.Zero(t, none)
}

func TestScoreMatch_TieBrokenByFirstOccurrence(t *testing.T) {
	src := &fakeCatalogSource{instruments: []domain.Instrument{
		{Symbol: "SBIN-A", SecurityID: "first"},
		{Symbol: "SBIN-B", SecurityID: "second"},
	}}
	r := newTestResolver(src)

	id, err := r.Resolve(context.Background(), "SBIN")
	require.NoError(t, err)
	assert.Equal(t, "first", id)
}
