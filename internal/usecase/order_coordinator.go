package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/manojd/signal_bridge/internal/domain"
	"go.uber.org/zap"
)

// SecurityResolver is the slice of the identifier resolver the coordinator
// needs. Satisfied by *IdentifierResolver.
type SecurityResolver interface {
	Resolve(ctx context.Context, ticker string) (string, error)
}

// OrderCoordinator fans a signal out across account policies. Accounts are
// processed concurrently and independently: one account failing never
// aborts the others.
type OrderCoordinator struct {
	sizer     *PositionSizer
	resolver  SecurityResolver
	guard     *DuplicateGuard
	gateway   domain.BrokerageGateway
	accounts  domain.AccountConfigProvider
	repo      domain.OrderRepository
	scheduler *RebaseScheduler
	log       *zap.Logger
}

func NewOrderCoordinator(
	sizer *PositionSizer,
	resolver SecurityResolver,
	guard *DuplicateGuard,
	gateway domain.BrokerageGateway,
	accounts domain.AccountConfigProvider,
	repo domain.OrderRepository,
	scheduler *RebaseScheduler,
	log *zap.Logger,
) *OrderCoordinator {
	return &OrderCoordinator{
		sizer:     sizer,
		resolver:  resolver,
		guard:     guard,
		gateway:   gateway,
		accounts:  accounts,
		repo:      repo,
		scheduler: scheduler,
		log:       log,
	}
}

// ExecuteSignal places the signal on every active account.
func (c *OrderCoordinator) ExecuteSignal(ctx context.Context, sig domain.Signal) (*domain.ExecutionSummary, error) {
	if err := validateSignal(sig); err != nil {
		return nil, err
	}
	policies, err := c.accounts.GetAccounts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("fetch account policies: %w", err)
	}
	return c.executeForAccounts(ctx, sig, policies), nil
}

// ExecuteForAccounts places the signal on an explicit set of accounts.
func (c *OrderCoordinator) ExecuteForAccounts(ctx context.Context, sig domain.Signal, policies []domain.AccountPolicy) (*domain.ExecutionSummary, error) {
	if err := validateSignal(sig); err != nil {
		return nil, err
	}
	return c.executeForAccounts(ctx, sig, policies), nil
}

func (c *OrderCoordinator) executeForAccounts(ctx context.Context, sig domain.Signal, policies []domain.AccountPolicy) *domain.ExecutionSummary {
	summary := &domain.ExecutionSummary{
		Ticker:        normalizeTicker(sig.Ticker),
		TotalAccounts: len(policies),
		PerAccount:    make([]domain.AccountResult, len(policies)),
	}

	var wg sync.WaitGroup
	for i, policy := range policies {
		wg.Add(1)
		go func(i int, policy domain.AccountPolicy) {
			defer wg.Done()
			summary.PerAccount[i] = c.placeForAccount(ctx, sig, policy)
		}(i, policy)
	}
	wg.Wait()

	for _, r := range summary.PerAccount {
		if r.Error == "" {
			summary.SuccessfulOrders++
		} else {
			summary.FailedOrders++
		}
	}

	c.log.Info("signal fan-out complete",
		zap.String("ticker", summary.Ticker),
		zap.String("side", string(sig.Side)),
		zap.Int("total_accounts", summary.TotalAccounts),
		zap.Int("successful", summary.SuccessfulOrders),
		zap.Int("failed", summary.FailedOrders))
	return summary
}

func (c *OrderCoordinator) placeForAccount(ctx context.Context, sig domain.Signal, policy domain.AccountPolicy) domain.AccountResult {
	result := domain.AccountResult{AccountID: policy.AccountID}

	// Resolution shares the process-wide catalog cache, so concurrent
	// accounts pay for at most one fetch per ticker.
	securityID, err := c.resolver.Resolve(ctx, sig.Ticker)
	if err != nil {
		result.Error = err.Error()
		c.log.Warn("identifier resolution failed",
			zap.String("account_id", policy.AccountID),
			zap.String("ticker", sig.Ticker),
			zap.Error(err))
		return result
	}

	quantity := sig.Quantity
	var stopLoss, target float64
	if quantity > 0 {
		stopLoss, target = ProtectiveLegs(sig.Price, sig.Side, policy.StopLossPct, policy.TargetPct)
	} else {
		calc := c.sizer.Calculate(sig.Price, sig.Side, policy)
		if !calc.CanPlaceOrder {
			result.Error = calc.Reason
			c.log.Info("sizing rejected order",
				zap.String("account_id", policy.AccountID),
				zap.String("ticker", sig.Ticker),
				zap.String("reason", calc.Reason))
			return result
		}
		if calc.Reason != "" {
			c.log.Info("sizing adjusted quantity",
				zap.String("account_id", policy.AccountID),
				zap.String("ticker", sig.Ticker),
				zap.String("reason", calc.Reason),
				zap.Int("final_quantity", calc.FinalQuantity))
		}
		quantity = calc.FinalQuantity
		stopLoss = calc.StopLossPrice
		target = calc.TargetPrice
	}

	if !policy.AllowDuplicateTickers && c.guard.HasOrderedToday(sig.Ticker) {
		result.Error = fmt.Sprintf("already ordered %s today", normalizeTicker(sig.Ticker))
		return result
	}

	req := &domain.OrderRequest{
		CorrelationID: uuid.NewString(),
		Ticker:        normalizeTicker(sig.Ticker),
		SecurityID:    securityID,
		Side:          sig.Side,
		Quantity:      quantity,
		Price:         sig.Price,
		OrderType:     orderType(sig, policy),
		ProductType:   sig.ProductType,
		StopLossPrice: stopLoss,
		TargetPrice:   target,
	}
	if policy.EnableTrailingStop {
		req.TrailingJump = policy.MinTrailJump
	}

	order, err := c.gateway.PlaceOrder(ctx, policy, req)
	if err != nil {
		result.Error = err.Error()
		c.log.Warn("order placement failed",
			zap.String("account_id", policy.AccountID),
			zap.String("ticker", req.Ticker),
			zap.String("correlation_id", req.CorrelationID),
			zap.Error(err))
		return result
	}

	c.guard.RecordOrder(sig.Ticker)
	if c.repo != nil {
		if err := c.repo.SaveOrder(ctx, order); err != nil {
			c.log.Warn("failed to persist order", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}

	if c.scheduler != nil && policy.RebaseEnabled && supportsProtectiveLegs(req) {
		c.scheduler.Enqueue(order, policy)
	}

	c.log.Info("order placed",
		zap.String("account_id", policy.AccountID),
		zap.String("ticker", req.Ticker),
		zap.String("order_id", order.OrderID),
		zap.String("correlation_id", req.CorrelationID),
		zap.Int("quantity", quantity),
		zap.Float64("price", sig.Price))

	result.Order = order
	return result
}

func validateSignal(sig domain.Signal) error {
	if strings.TrimSpace(sig.Ticker) == "" {
		return &domain.ValidationError{Field: "ticker", Msg: "empty"}
	}
	if sig.Side != domain.SideBuy && sig.Side != domain.SideSell {
		return &domain.ValidationError{Field: "side", Msg: fmt.Sprintf("unknown side %q", sig.Side)}
	}
	if sig.Price <= 0 {
		return &domain.ValidationError{Field: "price", Msg: "must be positive"}
	}
	if sig.Quantity < 0 {
		return &domain.ValidationError{Field: "quantity", Msg: "must not be negative"}
	}
	return nil
}

func orderType(sig domain.Signal, policy domain.AccountPolicy) string {
	if sig.OrderType != "" {
		return sig.OrderType
	}
	return policy.OrderType
}

// supportsProtectiveLegs reports whether the placed order carries legs the
// scheduler could amend. Plain market/limit orders without legs have
// nothing to rebase.
func supportsProtectiveLegs(req *domain.OrderRequest) bool {
	return req.StopLossPrice > 0 || req.TargetPrice > 0
}
