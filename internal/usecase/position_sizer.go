package usecase

import (
	"fmt"
	"math"

	"github.com/manojd/signal_bridge/internal/domain"
)

// PositionSizer turns a signal price and an account policy into a
// leverage-aware quantity plus protective leg prices. It is a pure
// function of its inputs and never touches the gateway.
type PositionSizer struct{}

func NewPositionSizer() *PositionSizer {
	return &PositionSizer{}
}

// Calculate sizes one (price, policy) pair. Rejections come back as a
// typed negative result (CanPlaceOrder=false with a reason), not an error.
func (s *PositionSizer) Calculate(price float64, side domain.Side, policy domain.AccountPolicy) domain.PositionCalculation {
	calc := domain.PositionCalculation{}

	if price <= 0 {
		calc.Reason = "stock price must be positive"
		return calc
	}

	leverage := policy.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	calc.CalculatedQuantity = int(math.Floor(policy.AvailableFunds / price))
	if calc.CalculatedQuantity <= 0 {
		calc.Reason = "price too high for available funds"
		return calc
	}

	cappedRisk := math.Min(policy.RiskOnCapital, 1.0)
	calc.FinalQuantity = int(math.Floor(float64(calc.CalculatedQuantity) * cappedRisk))
	if calc.FinalQuantity <= 0 {
		calc.Reason = "risk multiplier collapses quantity to zero"
		return calc
	}

	calc.OrderValue = float64(calc.FinalQuantity) * price
	calc.LeveragedValue = calc.OrderValue / leverage

	if calc.LeveragedValue < policy.MinOrderValue {
		calc.Reason = "leveraged value below minimum order value"
		return calc
	}

	// Above the maximum we shrink the quantity instead of rejecting.
	if policy.MaxOrderValue > 0 && calc.LeveragedValue > policy.MaxOrderValue {
		reduced := int(math.Floor(policy.MaxOrderValue * leverage / price))
		if reduced <= 0 {
			calc.Reason = "max order value leaves no quantity"
			return calc
		}
		calc.FinalQuantity = reduced
		calc.OrderValue = float64(calc.FinalQuantity) * price
		calc.LeveragedValue = calc.OrderValue / leverage
		calc.Reason = "quantity reduced to respect max order value"
	}

	// MaxPositionSize tightens the cap below the full-funds default.
	limitPct := 100.0
	if policy.MaxPositionSize > 0 {
		limitPct = policy.MaxPositionSize * 100
	}
	calc.PositionSizePct = calc.LeveragedValue / policy.AvailableFunds * 100
	if calc.PositionSizePct > limitPct {
		calc.CanPlaceOrder = false
		calc.Reason = fmt.Sprintf("position size %.1f%% exceeds the %.0f%% cap", calc.PositionSizePct, limitPct)
		return calc
	}

	calc.CanPlaceOrder = true
	calc.StopLossPrice, calc.TargetPrice = ProtectiveLegs(price, side, policy.StopLossPct, policy.TargetPct)
	return calc
}

// ProtectiveLegs computes stop-loss and target prices from a reference
// price. BUY stops below and targets above; SELL is mirrored. A zero
// percentage yields a zero leg.
func ProtectiveLegs(price float64, side domain.Side, stopLossPct, targetPct float64) (stopLoss, target float64) {
	if stopLossPct > 0 {
		if side == domain.SideBuy {
			stopLoss = round2(price * (1 - stopLossPct))
		} else {
			stopLoss = round2(price * (1 + stopLossPct))
		}
	}
	if targetPct > 0 {
		if side == domain.SideBuy {
			target = round2(price * (1 + targetPct))
		} else {
			target = round2(price * (1 - targetPct))
		}
	}
	return stopLoss, target
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
