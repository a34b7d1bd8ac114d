package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/manojd/signal_bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type getOrderResp struct {
	state *domain.OrderState
	err   error
}

// scriptedGateway replays a fixed sequence of GetOrder responses, repeating
// the last one once the script is exhausted.
type scriptedGateway struct {
	mu         sync.Mutex
	getResps   []getOrderResp
	getCalls   int
	amendErr   error
	amendCalls int
	amends     []domain.LegAmendment
	filled     []*domain.OrderState
}

func (g *scriptedGateway) PlaceOrder(ctx context.Context, account domain.AccountPolicy, req *domain.OrderRequest) (*domain.PlacedOrder, error) {
	return nil, errors.New("not scripted")
}

func (g *scriptedGateway) GetOrder(ctx context.Context, account domain.AccountPolicy, orderID string) (*domain.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.getCalls
	if idx >= len(g.getResps) {
		idx = len(g.getResps) - 1
	}
	g.getCalls++
	return g.getResps[idx].state, g.getResps[idx].err
}

func (g *scriptedGateway) GetOrdersByStatus(ctx context.Context, account domain.AccountPolicy, status string) ([]*domain.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filled, nil
}

func (g *scriptedGateway) AmendLegs(ctx context.Context, account domain.AccountPolicy, orderID string, legs domain.LegAmendment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amendCalls++
	g.amends = append(g.amends, legs)
	return g.amendErr
}

func (g *scriptedGateway) getCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getCalls
}

func (g *scriptedGateway) amendCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.amendCalls
}

func rebasePolicy() domain.AccountPolicy {
	return domain.AccountPolicy{
		AccountID:          "acc-1",
		StopLossPct:        0.02,
		TargetPct:          0.04,
		RebaseEnabled:      true,
		RebaseThresholdPct: 0.5,
	}
}

func queuedOrder() *domain.PlacedOrder {
	return &domain.PlacedOrder{
		OrderID:     "ord-1",
		AccountID:   "acc-1",
		Ticker:      "INFY",
		Side:        domain.SideBuy,
		SignalPrice: 100,
		Status:      domain.OrderPlaced,
	}
}

func fastRebaseConfig() RebaseConfig {
	return RebaseConfig{
		InitialDelay: time.Second,
		RetryDelay:   time.Second,
		MaxAttempts:  3,
	}
}

func startScheduler(t *testing.T, gw domain.BrokerageGateway, repo domain.OrderRepository) (*RebaseScheduler, context.Context) {
	t.Helper()
	s := NewRebaseScheduler(gw, repo, newManualClock(), zap.NewNop(), fastRebaseConfig())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(s.Stop)
	s.Start(ctx)
	return s, ctx
}

func TestRebase_AmendsLegsFromFillPrice(t *testing.T) {
	gw := &scriptedGateway{getResps: []getOrderResp{
		{state: &domain.OrderState{
			OrderID:       "ord-1",
			Status:        domain.BrokerStatusTraded,
			FilledPrice:   102,
			StopLossPrice: 98,
			TargetPrice:   104,
		}},
	}}
	repo := newFakeRepo()
	s, ctx := startScheduler(t, gw, repo)

	policy := rebasePolicy()
	policy.EnableTrailingStop = true
	policy.MinTrailJump = 0.5
	s.Enqueue(queuedOrder(), policy)

	results := s.WaitForCompletion(ctx, time.Hour)
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.Success)
	assert.False(t, r.Skipped)
	assert.InDelta(t, 102, r.FilledPrice, 1e-9)
	assert.InDelta(t, 98, r.OldStopLoss, 1e-9)
	// legs re-derived from the fill, not the signal price
	assert.InDelta(t, 99.96, r.NewStopLoss, 1e-9)
	assert.InDelta(t, 106.08, r.NewTarget, 1e-9)

	require.Equal(t, 1, gw.amendCallCount())
	assert.InDelta(t, 0.5, gw.amends[0].TrailingJump, 1e-9)

	repo.mu.Lock()
	legs, persisted := repo.rebased["ord-1"]
	repo.mu.Unlock()
	require.True(t, persisted)
	assert.InDelta(t, 99.96, legs[0], 1e-9)
}

func TestRebase_WithinThresholdSkipsAmend(t *testing.T) {
	gw := &scriptedGateway{getResps: []getOrderResp{
		{state: &domain.OrderState{
			OrderID:     "ord-1",
			Status:      domain.BrokerStatusTraded,
			FilledPrice: 100.2, // 0.2% deviation, threshold is 0.5%
		}},
	}}
	s, ctx := startScheduler(t, gw, nil)

	s.Enqueue(queuedOrder(), rebasePolicy())

	results := s.WaitForCompletion(ctx, time.Hour)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.True(t, results[0].Skipped)
	assert.Equal(t, 0, gw.amendCallCount())
}

func TestRebase_IdempotentWithinSession(t *testing.T) {
	gw := &scriptedGateway{getResps: []getOrderResp{
		{state: &domain.OrderState{
			OrderID:     "ord-1",
			Status:      domain.BrokerStatusTraded,
			FilledPrice: 105,
		}},
	}}
	s, ctx := startScheduler(t, gw, nil)

	s.Enqueue(queuedOrder(), rebasePolicy())
	first := s.WaitForCompletion(ctx, time.Hour)
	require.Len(t, first, 1)
	require.Equal(t, 1, gw.amendCallCount())

	// Second enqueue of the same order never reaches the gateway again.
	s.Enqueue(queuedOrder(), rebasePolicy())
	second := s.WaitForCompletion(ctx, time.Hour)
	require.Len(t, second, 2)
	assert.True(t, second[1].Skipped)
	assert.Equal(t, 1, gw.amendCallCount())

	// ResetSession allows the order through again.
	s.ResetSession()
	s.Enqueue(queuedOrder(), rebasePolicy())
	s.WaitForCompletion(ctx, time.Hour)
	assert.Equal(t, 2, gw.amendCallCount())
}

func TestRebase_TerminalStatusNeverRetried(t *testing.T) {
	gw := &scriptedGateway{getResps: []getOrderResp{
		{state: &domain.OrderState{OrderID: "ord-1", Status: domain.BrokerStatusRejected}},
	}}
	s, ctx := startScheduler(t, gw, nil)

	s.Enqueue(queuedOrder(), rebasePolicy())

	results := s.WaitForCompletion(ctx, time.Hour)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "terminally REJECTED")
	assert.Equal(t, 1, gw.getCallCount())
	assert.Equal(t, 0, gw.amendCallCount())
}

func TestRebase_TransientExhaustsAttempts(t *testing.T) {
	gw := &scriptedGateway{getResps: []getOrderResp{
		{err: &domain.GatewayError{Op: "get order", Transient: true, Err: errors.New("timeout")}},
	}}
	s, ctx := startScheduler(t, gw, nil)

	s.Enqueue(queuedOrder(), rebasePolicy())

	results := s.WaitForCompletion(ctx, time.Hour)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "gave up after 3 attempts")
	assert.Equal(t, 3, gw.getCallCount())
}

func TestRebase_PendingThenFilled(t *testing.T) {
	gw := &scriptedGateway{getResps: []getOrderResp{
		{state: &domain.OrderState{OrderID: "ord-1", Status: domain.BrokerStatusPending}},
		{state: &domain.OrderState{
			OrderID:     "ord-1",
			Status:      domain.BrokerStatusTraded,
			FilledPrice: 103,
		}},
	}}
	s, ctx := startScheduler(t, gw, nil)

	s.Enqueue(queuedOrder(), rebasePolicy())

	results := s.WaitForCompletion(ctx, time.Hour)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 2, gw.getCallCount())
	assert.Equal(t, 1, gw.amendCallCount())
}

func TestRebase_QueueStatusSnapshot(t *testing.T) {
	gw := &scriptedGateway{getResps: []getOrderResp{{
		state: &domain.OrderState{OrderID: "ord-1", Status: domain.BrokerStatusPending},
	}}}
	// Not started: queued items stay put.
	s := NewRebaseScheduler(gw, nil, newManualClock(), zap.NewNop(), fastRebaseConfig())

	s.Enqueue(queuedOrder(), rebasePolicy())
	other := queuedOrder()
	other.OrderID = "ord-2"
	s.Enqueue(other, rebasePolicy())

	st := s.GetQueueStatus()
	assert.Equal(t, 2, st.QueueLength)
	assert.False(t, st.IsProcessing)
	assert.Equal(t, 0, st.ResultsCount)
}

func TestRebaseFilledOrders_BulkAmendsOnlyDeviated(t *testing.T) {
	gw := &scriptedGateway{filled: []*domain.OrderState{
		{
			OrderID:         "ord-1",
			Status:          domain.BrokerStatusTraded,
			TransactionType: domain.SideBuy,
			FilledPrice:     100,
			StopLossPrice:   90, // want 98, far outside threshold
			TargetPrice:     104,
		},
		{
			OrderID:         "ord-2",
			Status:          domain.BrokerStatusTraded,
			TransactionType: domain.SideBuy,
			FilledPrice:     100,
			StopLossPrice:   98, // already where it should be
			TargetPrice:     104,
		},
	}}
	s := NewRebaseScheduler(gw, nil, newManualClock(), zap.NewNop(), fastRebaseConfig())

	amended, err := s.RebaseFilledOrders(context.Background(), rebasePolicy())
	require.NoError(t, err)
	assert.Equal(t, 1, amended)
	require.Equal(t, 1, gw.amendCallCount())
	assert.InDelta(t, 98, gw.amends[0].StopLoss, 1e-9)
	assert.InDelta(t, 104, gw.amends[0].Target, 1e-9)

	// A second pass is a no-op for the session.
	amended, err = s.RebaseFilledOrders(context.Background(), rebasePolicy())
	require.NoError(t, err)
	assert.Equal(t, 0, amended)
	assert.Equal(t, 1, gw.amendCallCount())
}
