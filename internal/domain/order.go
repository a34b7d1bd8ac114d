package domain

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPlaced    OrderStatus = "PLACED"
	OrderFailed    OrderStatus = "FAILED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Broker-side order states as reported by the gateway.
const (
	BrokerStatusPending   = "PENDING"
	BrokerStatusTraded    = "TRADED"
	BrokerStatusRejected  = "REJECTED"
	BrokerStatusCancelled = "CANCELLED"
)

// OrderRequest is what the coordinator hands to the brokerage gateway
// for one (signal, account) pair.
type OrderRequest struct {
	CorrelationID string  `json:"correlation_id"`
	Ticker        string  `json:"ticker"`
	SecurityID    string  `json:"security_id"`
	Side          Side    `json:"side"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	OrderType     string  `json:"order_type"`
	ProductType   string  `json:"product_type"`
	StopLossPrice float64 `json:"stop_loss_price,omitempty"`
	TargetPrice   float64 `json:"target_price,omitempty"`
	TrailingJump  float64 `json:"trailing_jump,omitempty"`
}

// PlacedOrder records the outcome of a placement attempt. Once the status
// reaches PLACED or FAILED the record is immutable except for the rebase
// annotations, which are kept separate from the original legs.
type PlacedOrder struct {
	OrderID       string      `json:"order_id"`
	CorrelationID string      `json:"correlation_id"`
	AccountID     string      `json:"account_id"`
	Ticker        string      `json:"ticker"`
	SecurityID    string      `json:"security_id"`
	Side          Side        `json:"side"`
	Quantity      int         `json:"quantity"`
	SignalPrice   float64     `json:"signal_price"`
	Status        OrderStatus `json:"status"`
	StopLossPrice float64     `json:"stop_loss_price,omitempty"`
	TargetPrice   float64     `json:"target_price,omitempty"`

	RebasedStopLoss float64 `json:"rebased_stop_loss,omitempty"`
	RebasedTarget   float64 `json:"rebased_target,omitempty"`

	Error    string    `json:"error,omitempty"`
	PlacedAt time.Time `json:"placed_at"`
}

// OrderState is the broker's view of an order, as returned by GetOrder.
type OrderState struct {
	OrderID         string  `json:"order_id"`
	Status          string  `json:"status"`
	TransactionType Side    `json:"transaction_type"`
	FilledPrice     float64 `json:"filled_price,omitempty"`
	Quantity        int     `json:"quantity"`
	StopLossPrice   float64 `json:"stop_loss_price,omitempty"`
	TargetPrice     float64 `json:"target_price,omitempty"`
}

// LegAmendment carries the corrected protective legs for an amend call.
// Zero values mean "leave unchanged".
type LegAmendment struct {
	StopLoss     float64 `json:"stop_loss,omitempty"`
	Target       float64 `json:"target,omitempty"`
	TrailingJump float64 `json:"trailing_jump,omitempty"`
}

// AccountResult is the per-account outcome of a fan-out.
type AccountResult struct {
	AccountID string       `json:"account_id"`
	Order     *PlacedOrder `json:"order,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// ExecutionSummary aggregates one signal's fan-out across accounts.
type ExecutionSummary struct {
	Ticker           string          `json:"ticker"`
	TotalAccounts    int             `json:"total_accounts"`
	SuccessfulOrders int             `json:"successful_orders"`
	FailedOrders     int             `json:"failed_orders"`
	PerAccount       []AccountResult `json:"per_account"`
}

// RebaseResult is one append-only entry in the scheduler's result log.
type RebaseResult struct {
	OrderID     string    `json:"order_id"`
	AccountID   string    `json:"account_id"`
	Success     bool      `json:"success"`
	Skipped     bool      `json:"skipped"`
	Error       string    `json:"error,omitempty"`
	FilledPrice float64   `json:"filled_price,omitempty"`
	OldStopLoss float64   `json:"old_stop_loss,omitempty"`
	OldTarget   float64   `json:"old_target,omitempty"`
	NewStopLoss float64   `json:"new_stop_loss,omitempty"`
	NewTarget   float64   `json:"new_target,omitempty"`
	At          time.Time `json:"at"`
}

// QueueStatus is a point-in-time snapshot of the rebase queue.
type QueueStatus struct {
	QueueLength  int  `json:"queue_length"`
	IsProcessing bool `json:"is_processing"`
	ResultsCount int  `json:"results_count"`
}
