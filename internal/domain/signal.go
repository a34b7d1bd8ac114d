package domain

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Signal is an external trading instruction that drives the pipeline.
// Quantity is an optional manual override; zero means the sizer decides.
type Signal struct {
	Ticker      string  `json:"ticker"`
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity,omitempty"`
	OrderType   string  `json:"order_type,omitempty"`
	ProductType string  `json:"product_type,omitempty"`
}
