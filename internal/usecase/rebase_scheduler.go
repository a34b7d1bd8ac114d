package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/manojd/signal_bridge/internal/domain"
	"go.uber.org/zap"
)

// RebaseConfig controls the retry behavior of the scheduler.
type RebaseConfig struct {
	InitialDelay time.Duration // wait before the first fill poll
	RetryDelay   time.Duration // wait between attempts
	MaxAttempts  int
}

func DefaultRebaseConfig() RebaseConfig {
	return RebaseConfig{
		InitialDelay: 15 * time.Second,
		RetryDelay:   10 * time.Second,
		MaxAttempts:  8,
	}
}

type rebaseItem struct {
	OrderID       string
	Policy        domain.AccountPolicy
	SignalPrice   float64
	Side          domain.Side
	Attempts      int
	AddedAt       time.Time
	LastAttemptAt time.Time
	delayed       bool // initial delay already served
}

// RebaseScheduler corrects protective legs once the real fill price is
// known. A single consumer drains the queue serially so only one gateway
// call is in flight at a time; transient failures requeue at the head with
// a fixed delay, terminal broker states are recorded and dropped.
type RebaseScheduler struct {
	gateway domain.BrokerageGateway
	repo    domain.OrderRepository
	clock   Clock
	log     *zap.Logger
	cfg     RebaseConfig

	mu         sync.Mutex
	queue      []*rebaseItem
	processing bool
	done       map[string]bool // session idempotency set
	results    []domain.RebaseResult

	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewRebaseScheduler(gateway domain.BrokerageGateway, repo domain.OrderRepository, clock Clock, log *zap.Logger, cfg RebaseConfig) *RebaseScheduler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRebaseConfig().MaxAttempts
	}
	return &RebaseScheduler{
		gateway:  gateway,
		repo:     repo,
		clock:    clock,
		log:      log,
		cfg:      cfg,
		done:     make(map[string]bool),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start launches the consumer loop. It returns immediately.
func (s *RebaseScheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop terminates the consumer loop. Queued items stay queued.
func (s *RebaseScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Enqueue adds an order to the tail of the rebase queue. An order already
// rebased this session short-circuits to a no-op success.
func (s *RebaseScheduler) Enqueue(order *domain.PlacedOrder, policy domain.AccountPolicy) {
	s.mu.Lock()
	if s.done[order.OrderID] {
		s.mu.Unlock()
		s.appendResult(context.Background(), domain.RebaseResult{
			OrderID:   order.OrderID,
			AccountID: order.AccountID,
			Success:   true,
			Skipped:   true,
			At:        s.clock.Now(),
		})
		s.log.Debug("rebase enqueue skipped, already done", zap.String("order_id", order.OrderID))
		return
	}
	s.queue = append(s.queue, &rebaseItem{
		OrderID:     order.OrderID,
		Policy:      policy,
		SignalPrice: order.SignalPrice,
		Side:        order.Side,
		AddedAt:     s.clock.Now(),
	})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Results returns a copy of the append-only result log.
func (s *RebaseScheduler) Results() []domain.RebaseResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RebaseResult, len(s.results))
	copy(out, s.results)
	return out
}

// GetQueueStatus reports a point-in-time snapshot of the queue.
func (s *RebaseScheduler) GetQueueStatus() domain.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.QueueStatus{
		QueueLength:  len(s.queue),
		IsProcessing: s.processing,
		ResultsCount: len(s.results),
	}
}

// ResetSession clears the idempotency set so orders may be rebased again.
func (s *RebaseScheduler) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = make(map[string]bool)
}

// WaitForCompletion blocks until the queue drains or the timeout elapses,
// whichever comes first, and returns the results appended so far. The
// timeout does not cancel the scheduler; it keeps running in the background.
func (s *RebaseScheduler) WaitForCompletion(ctx context.Context, timeout time.Duration) []domain.RebaseResult {
	deadline := s.clock.Now().Add(timeout)
	for {
		st := s.GetQueueStatus()
		if st.QueueLength == 0 && !st.IsProcessing {
			return s.Results()
		}
		if !s.clock.Now().Before(deadline) {
			return s.Results()
		}
		if err := s.clock.Sleep(ctx, 50*time.Millisecond); err != nil {
			return s.Results()
		}
	}
}

func (s *RebaseScheduler) run(ctx context.Context) {
	for {
		item := s.popHead()
		if item == nil {
			select {
			case <-s.wake:
				continue
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}

		s.process(ctx, item)
		s.setProcessing(false)

		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *RebaseScheduler) process(ctx context.Context, item *rebaseItem) {
	if s.isDone(item.OrderID) {
		s.appendResult(ctx, domain.RebaseResult{
			OrderID:   item.OrderID,
			AccountID: item.Policy.AccountID,
			Success:   true,
			Skipped:   true,
			At:        s.clock.Now(),
		})
		return
	}

	// Give the exchange a chance to report the fill before the first poll.
	if !item.delayed {
		item.delayed = true
		if err := s.clock.Sleep(ctx, s.cfg.InitialDelay); err != nil {
			s.pushHead(item)
			return
		}
	}

	item.Attempts++
	item.LastAttemptAt = s.clock.Now()

	state, err := s.gateway.GetOrder(ctx, item.Policy, item.OrderID)
	if err != nil {
		if domain.IsTransient(err) {
			s.retryOrFail(ctx, item, err)
			return
		}
		s.finalFailure(ctx, item, err)
		return
	}

	if domain.IsTerminalBrokerStatus(state.Status) {
		s.finalFailure(ctx, item, &domain.TerminalOrderFailure{OrderID: item.OrderID, Status: state.Status})
		return
	}

	if state.Status != domain.BrokerStatusTraded || state.FilledPrice <= 0 {
		s.retryOrFail(ctx, item, fmt.Errorf("order %s not filled yet (status %s)", item.OrderID, state.Status))
		return
	}

	fill := state.FilledPrice
	deviationPct := math.Abs(fill-item.SignalPrice) / item.SignalPrice * 100
	if deviationPct <= item.Policy.RebaseThresholdPct {
		s.markDone(item.OrderID)
		s.appendResult(ctx, domain.RebaseResult{
			OrderID:     item.OrderID,
			AccountID:   item.Policy.AccountID,
			Success:     true,
			Skipped:     true,
			FilledPrice: fill,
			OldStopLoss: state.StopLossPrice,
			OldTarget:   state.TargetPrice,
			At:          s.clock.Now(),
		})
		s.log.Info("rebase not needed, fill within threshold",
			zap.String("order_id", item.OrderID),
			zap.Float64("signal_price", item.SignalPrice),
			zap.Float64("filled_price", fill),
			zap.Float64("deviation_pct", deviationPct))
		return
	}

	newStop, newTarget := ProtectiveLegs(fill, item.Side, item.Policy.StopLossPct, item.Policy.TargetPct)
	legs := domain.LegAmendment{StopLoss: newStop, Target: newTarget}
	if item.Policy.EnableTrailingStop {
		legs.TrailingJump = item.Policy.MinTrailJump
	}

	if err := s.gateway.AmendLegs(ctx, item.Policy, item.OrderID, legs); err != nil {
		if domain.IsTransient(err) {
			s.retryOrFail(ctx, item, err)
			return
		}
		s.finalFailure(ctx, item, err)
		return
	}

	s.markDone(item.OrderID)
	if s.repo != nil {
		if err := s.repo.UpdateRebasedLegs(ctx, item.OrderID, newStop, newTarget); err != nil {
			s.log.Warn("failed to persist rebased legs", zap.String("order_id", item.OrderID), zap.Error(err))
		}
	}
	s.appendResult(ctx, domain.RebaseResult{
		OrderID:     item.OrderID,
		AccountID:   item.Policy.AccountID,
		Success:     true,
		FilledPrice: fill,
		OldStopLoss: state.StopLossPrice,
		OldTarget:   state.TargetPrice,
		NewStopLoss: newStop,
		NewTarget:   newTarget,
		At:          s.clock.Now(),
	})
	s.log.Info("rebased protective legs",
		zap.String("order_id", item.OrderID),
		zap.String("account_id", item.Policy.AccountID),
		zap.Float64("filled_price", fill),
		zap.Float64("new_stop_loss", newStop),
		zap.Float64("new_target", newTarget),
		zap.Int("attempts", item.Attempts))
}

// RebaseFilledOrders reconciles every filled order of one account in a
// single catalog call instead of polling order by order. Only orders whose
// existing stop deviates from the fill-derived stop by more than the
// account threshold are amended.
func (s *RebaseScheduler) RebaseFilledOrders(ctx context.Context, policy domain.AccountPolicy) (int, error) {
	states, err := s.gateway.GetOrdersByStatus(ctx, policy, domain.BrokerStatusTraded)
	if err != nil {
		return 0, fmt.Errorf("fetch filled orders for %s: %w", policy.AccountID, err)
	}

	amended := 0
	for _, state := range states {
		if s.isDone(state.OrderID) || state.FilledPrice <= 0 {
			continue
		}

		wantStop, wantTarget := ProtectiveLegs(state.FilledPrice, state.TransactionType, policy.StopLossPct, policy.TargetPct)
		deviationPct := math.Abs(state.StopLossPrice-wantStop) / state.FilledPrice * 100
		if deviationPct <= policy.RebaseThresholdPct {
			continue
		}

		legs := domain.LegAmendment{StopLoss: wantStop, Target: wantTarget}
		if policy.EnableTrailingStop {
			legs.TrailingJump = policy.MinTrailJump
		}
		if err := s.gateway.AmendLegs(ctx, policy, state.OrderID, legs); err != nil {
			s.appendResult(ctx, domain.RebaseResult{
				OrderID:     state.OrderID,
				AccountID:   policy.AccountID,
				Error:       err.Error(),
				FilledPrice: state.FilledPrice,
				OldStopLoss: state.StopLossPrice,
				OldTarget:   state.TargetPrice,
				At:          s.clock.Now(),
			})
			continue
		}

		s.markDone(state.OrderID)
		amended++
		if s.repo != nil {
			if err := s.repo.UpdateRebasedLegs(ctx, state.OrderID, wantStop, wantTarget); err != nil {
				s.log.Warn("failed to persist rebased legs", zap.String("order_id", state.OrderID), zap.Error(err))
			}
		}
		s.appendResult(ctx, domain.RebaseResult{
			OrderID:     state.OrderID,
			AccountID:   policy.AccountID,
			Success:     true,
			FilledPrice: state.FilledPrice,
			OldStopLoss: state.StopLossPrice,
			OldTarget:   state.TargetPrice,
			NewStopLoss: wantStop,
			NewTarget:   wantTarget,
			At:          s.clock.Now(),
		})
	}

	s.log.Info("bulk rebase pass complete",
		zap.String("account_id", policy.AccountID),
		zap.Int("orders_seen", len(states)),
		zap.Int("orders_amended", amended))
	return amended, nil
}

func (s *RebaseScheduler) retryOrFail(ctx context.Context, item *rebaseItem, cause error) {
	if item.Attempts >= s.cfg.MaxAttempts {
		s.finalFailure(ctx, item, fmt.Errorf("gave up after %d attempts: %w", item.Attempts, cause))
		return
	}
	s.log.Debug("rebase attempt failed, retrying",
		zap.String("order_id", item.OrderID),
		zap.Int("attempt", item.Attempts),
		zap.Error(cause))
	if err := s.clock.Sleep(ctx, s.cfg.RetryDelay); err != nil {
		s.pushHead(item)
		return
	}
	s.pushHead(item)
}

func (s *RebaseScheduler) finalFailure(ctx context.Context, item *rebaseItem, cause error) {
	s.appendResult(ctx, domain.RebaseResult{
		OrderID:   item.OrderID,
		AccountID: item.Policy.AccountID,
		Error:     cause.Error(),
		At:        s.clock.Now(),
	})
	s.log.Warn("rebase failed",
		zap.String("order_id", item.OrderID),
		zap.String("account_id", item.Policy.AccountID),
		zap.Int("attempts", item.Attempts),
		zap.Error(cause))
}

func (s *RebaseScheduler) appendResult(ctx context.Context, r domain.RebaseResult) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	if s.repo != nil {
		if err := s.repo.SaveRebaseResult(ctx, &r); err != nil {
			s.log.Warn("failed to persist rebase result", zap.String("order_id", r.OrderID), zap.Error(err))
		}
	}
}

// popHead removes the next item and marks the scheduler busy in the same
// critical section, so a drained queue with processing=false reliably means
// idle.
func (s *RebaseScheduler) popHead() *rebaseItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	s.processing = true
	return item
}

func (s *RebaseScheduler) pushHead(item *rebaseItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]*rebaseItem{item}, s.queue...)
}

func (s *RebaseScheduler) isDone(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[orderID]
}

func (s *RebaseScheduler) markDone(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[orderID] = true
}

func (s *RebaseScheduler) setProcessing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = v
}
