package domain

// AccountPolicy holds the per-account risk and order configuration.
// Owned by the external config store; read-only inside the core.
type AccountPolicy struct {
	AccountID   string `yaml:"account_id" json:"account_id"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	AccessToken string `yaml:"access_token" json:"-"`

	AvailableFunds  float64 `yaml:"available_funds" json:"available_funds"`
	Leverage        float64 `yaml:"leverage" json:"leverage"`
	MaxPositionSize float64 `yaml:"max_position_size" json:"max_position_size"`
	MinOrderValue   float64 `yaml:"min_order_value" json:"min_order_value"`
	MaxOrderValue   float64 `yaml:"max_order_value" json:"max_order_value"`

	StopLossPct   float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TargetPct     float64 `yaml:"target_pct" json:"target_pct"`
	RiskOnCapital float64 `yaml:"risk_on_capital" json:"risk_on_capital"`

	EnableTrailingStop bool    `yaml:"enable_trailing_stop" json:"enable_trailing_stop"`
	MinTrailJump       float64 `yaml:"min_trail_jump" json:"min_trail_jump"`

	RebaseEnabled      bool    `yaml:"rebase_enabled" json:"rebase_enabled"`
	RebaseThresholdPct float64 `yaml:"rebase_threshold_pct" json:"rebase_threshold_pct"`

	AllowDuplicateTickers bool   `yaml:"allow_duplicate_tickers" json:"allow_duplicate_tickers"`
	OrderType             string `yaml:"order_type" json:"order_type"`
	IsActive              bool   `yaml:"is_active" json:"is_active"`
}

// PositionCalculation is the derived result of sizing one (price, policy) pair.
type PositionCalculation struct {
	CalculatedQuantity int     `json:"calculated_quantity"`
	FinalQuantity      int     `json:"final_quantity"`
	OrderValue         float64 `json:"order_value"`
	LeveragedValue     float64 `json:"leveraged_value"`
	PositionSizePct    float64 `json:"position_size_pct"`
	CanPlaceOrder      bool    `json:"can_place_order"`
	Reason             string  `json:"reason,omitempty"`
	StopLossPrice      float64 `json:"stop_loss_price,omitempty"`
	TargetPrice        float64 `json:"target_price,omitempty"`
}
