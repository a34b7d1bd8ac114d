package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manojd/signal_bridge/internal/domain"
	"github.com/manojd/signal_bridge/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

const statusCacheTTL = 2 * time.Second

// Client is a thin REST wrapper around the brokerage order API. Credentials
// travel with each call in the AccountPolicy, so one client serves every
// account. An optional websocket order stream feeds a short-lived status
// cache consulted before hitting REST.
type Client struct {
	baseURL string
	wsURL   string
	client  *http.Client
	log     *zap.Logger

	mu          sync.Mutex
	wsConn      *websocket.Conn
	statusCache map[string]cachedState
}

type cachedState struct {
	state domain.OrderState
	at    time.Time
}

func NewClient(baseURL, wsURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		wsURL:       wsURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
		statusCache: make(map[string]cachedState),
	}
}

type placeOrderPayload struct {
	ClientID        string  `json:"clientId"`
	CorrelationID   string  `json:"correlationId"`
	TransactionType string  `json:"transactionType"`
	SecurityID      string  `json:"securityId"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price,omitempty"`
	OrderType       string  `json:"orderType"`
	ProductType     string  `json:"productType,omitempty"`
	StopLossValue   float64 `json:"boStopLossValue,omitempty"`
	ProfitValue     float64 `json:"boProfitValue,omitempty"`
	TrailingJump    float64 `json:"trailingJump,omitempty"`
}

type orderStatePayload struct {
	OrderID            string  `json:"orderId"`
	OrderStatus        string  `json:"orderStatus"`
	TransactionType    string  `json:"transactionType"`
	AverageTradedPrice float64 `json:"averageTradedPrice"`
	Quantity           int     `json:"quantity"`
	StopLossValue      float64 `json:"boStopLossValue"`
	ProfitValue        float64 `json:"boProfitValue"`
}

func (c *Client) PlaceOrder(ctx context.Context, account domain.AccountPolicy, req *domain.OrderRequest) (*domain.PlacedOrder, error) {
	payload := placeOrderPayload{
		ClientID:        account.ClientID,
		CorrelationID:   req.CorrelationID,
		TransactionType: string(req.Side),
		SecurityID:      req.SecurityID,
		Quantity:        req.Quantity,
		Price:           req.Price,
		OrderType:       req.OrderType,
		ProductType:     req.ProductType,
		StopLossValue:   req.StopLossPrice,
		ProfitValue:     req.TargetPrice,
		TrailingJump:    req.TrailingJump,
	}

	body, err := c.send(ctx, account, http.MethodPost, "/v2/orders", payload)
	if err != nil {
		metrics.IncOrderFailed(errorKind(err))
		return nil, err
	}

	var resp struct {
		OrderID     string `json:"orderId"`
		OrderStatus string `json:"orderStatus"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.IncOrderFailed("permanent")
		return nil, &domain.GatewayError{Op: "place order", Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.OrderID == "" || domain.IsTerminalBrokerStatus(resp.OrderStatus) {
		metrics.IncOrderFailed("permanent")
		return nil, &domain.GatewayError{
			Op:  "place order",
			Err: fmt.Errorf("broker refused order (status %q)", resp.OrderStatus),
		}
	}

	metrics.IncOrderPlaced(string(req.Side))
	return &domain.PlacedOrder{
		OrderID:       resp.OrderID,
		CorrelationID: req.CorrelationID,
		AccountID:     account.AccountID,
		Ticker:        req.Ticker,
		SecurityID:    req.SecurityID,
		Side:          req.Side,
		Quantity:      req.Quantity,
		SignalPrice:   req.Price,
		Status:        domain.OrderPlaced,
		StopLossPrice: req.StopLossPrice,
		TargetPrice:   req.TargetPrice,
		PlacedAt:      time.Now(),
	}, nil
}

func (c *Client) GetOrder(ctx context.Context, account domain.AccountPolicy, orderID string) (*domain.OrderState, error) {
	if state, ok := c.cachedOrder(orderID); ok {
		return state, nil
	}

	body, err := c.send(ctx, account, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}

	var resp orderStatePayload
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.GatewayError{Op: "get order", Err: fmt.Errorf("decode response: %w", err)}
	}

	state := toOrderState(resp)
	c.storeOrderState(state)
	return &state, nil
}

func (c *Client) GetOrdersByStatus(ctx context.Context, account domain.AccountPolicy, status string) ([]*domain.OrderState, error) {
	body, err := c.send(ctx, account, http.MethodGet, "/v2/orders?status="+url.QueryEscape(status), nil)
	if err != nil {
		return nil, err
	}

	var resp []orderStatePayload
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.GatewayError{Op: "list orders", Err: fmt.Errorf("decode response: %w", err)}
	}

	out := make([]*domain.OrderState, 0, len(resp))
	for _, p := range resp {
		if p.OrderStatus != status {
			continue
		}
		state := toOrderState(p)
		out = append(out, &state)
	}
	return out, nil
}

func (c *Client) AmendLegs(ctx context.Context, account domain.AccountPolicy, orderID string, legs domain.LegAmendment) error {
	payload := map[string]interface{}{
		"clientId": account.ClientID,
	}
	if legs.StopLoss > 0 {
		payload["boStopLossValue"] = legs.StopLoss
	}
	if legs.Target > 0 {
		payload["boProfitValue"] = legs.Target
	}
	if legs.TrailingJump > 0 {
		payload["trailingJump"] = legs.TrailingJump
	}

	if _, err := c.send(ctx, account, http.MethodPut, "/v2/orders/"+url.PathEscape(orderID)+"/legs", payload); err != nil {
		metrics.IncLegAmend("error")
		return err
	}

	c.invalidateOrderState(orderID)
	metrics.IncLegAmend("ok")
	return nil
}

func (c *Client) send(ctx context.Context, account domain.AccountPolicy, method, path string, payload interface{}) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, &domain.GatewayError{Op: method + " " + path, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.GatewayError{Op: method + " " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", account.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network and timeout errors may succeed on retry.
		return nil, &domain.GatewayError{Op: method + " " + path, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.GatewayError{Op: method + " " + path, Transient: true, Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &domain.GatewayError{
			Op:        method + " " + path,
			Transient: isTransientStatus(resp.StatusCode),
			Err:       fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)),
		}
	}
	return respBody, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

func errorKind(err error) string {
	var ge *domain.GatewayError
	if errors.As(err, &ge) && ge.Transient {
		return "transient"
	}
	return "permanent"
}

func toOrderState(p orderStatePayload) domain.OrderState {
	return domain.OrderState{
		OrderID:         p.OrderID,
		Status:          p.OrderStatus,
		TransactionType: domain.Side(p.TransactionType),
		FilledPrice:     p.AverageTradedPrice,
		Quantity:        p.Quantity,
		StopLossPrice:   p.StopLossValue,
		TargetPrice:     p.ProfitValue,
	}
}

// --- order status cache, fed by the websocket stream ---

func (c *Client) cachedOrder(orderID string) (*domain.OrderState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.statusCache[orderID]
	if !ok || time.Since(entry.at) > statusCacheTTL {
		return nil, false
	}
	state := entry.state
	return &state, true
}

func (c *Client) storeOrderState(state domain.OrderState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCache[state.OrderID] = cachedState{state: state, at: time.Now()}
}

func (c *Client) invalidateOrderState(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statusCache, orderID)
}
