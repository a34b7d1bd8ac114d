package broker

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/manojd/signal_bridge/internal/domain"
	"go.uber.org/zap"
)

// ConnectOrderStream opens the broker's order-update websocket for an
// account and keeps the status cache warm with pushed updates, so fill
// polling usually skips the REST round trip. Safe to call again after a
// disconnect.
func (c *Client) ConnectOrderStream(account domain.AccountPolicy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsConn != nil {
		return nil
	}
	if c.wsURL == "" {
		return nil
	}

	header := map[string][]string{"access-token": {account.AccessToken}}
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, header)
	if err != nil {
		return &domain.GatewayError{Op: "connect order stream", Transient: true, Err: err}
	}
	c.wsConn = conn

	go c.readLoop(conn)
	return nil
}

// CloseOrderStream tears down the websocket, if connected.
func (c *Client) CloseOrderStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn != nil {
		c.wsConn.Close()
		c.wsConn = nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		c.mu.Lock()
		if c.wsConn == conn {
			c.wsConn = nil
		}
		c.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn("order stream closed", zap.Error(err))
			return
		}

		var update orderStatePayload
		if err := json.Unmarshal(message, &update); err != nil {
			c.log.Debug("skipping unparseable order update", zap.Error(err))
			continue
		}
		if update.OrderID == "" {
			continue
		}

		c.storeOrderState(toOrderState(update))
		c.log.Debug("order update received",
			zap.String("order_id", update.OrderID),
			zap.String("status", update.OrderStatus))
	}
}
