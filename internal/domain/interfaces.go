package domain

import "context"

// BrokerageGateway is the thin REST wrapper around the broker's order API.
// Every call is fallible and returns a structured error; nothing panics
// across this boundary.
type BrokerageGateway interface {
	PlaceOrder(ctx context.Context, account AccountPolicy, req *OrderRequest) (*PlacedOrder, error)
	GetOrder(ctx context.Context, account AccountPolicy, orderID string) (*OrderState, error)
	GetOrdersByStatus(ctx context.Context, account AccountPolicy, status string) ([]*OrderState, error)
	AmendLegs(ctx context.Context, account AccountPolicy, orderID string, legs LegAmendment) error
}

// AccountConfigProvider supplies the per-account risk policies. The core
// re-fetches on every call and never mutates what it gets back.
type AccountConfigProvider interface {
	GetAccounts(ctx context.Context, activeOnly bool) ([]AccountPolicy, error)
}

// CatalogSource fetches the full instrument list used to build the
// ticker -> security id index.
type CatalogSource interface {
	Fetch(ctx context.Context) ([]Instrument, error)
}

// OrderRepository persists placed orders and rebase outcomes for reporting.
type OrderRepository interface {
	SaveOrder(ctx context.Context, order *PlacedOrder) error
	UpdateRebasedLegs(ctx context.Context, orderID string, stopLoss, target float64) error
	ListOrders(ctx context.Context, limit int) ([]*PlacedOrder, error)
	SaveRebaseResult(ctx context.Context, result *RebaseResult) error
	ListRebaseResults(ctx context.Context, limit int) ([]*RebaseResult, error)
}
