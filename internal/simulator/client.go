package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lox/egta/internal/protocol"
)

// Client is a websocket connection to one simulator process.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the simulator at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Rollout sends one batch request and waits for its result.
func (c *Client) Rollout(ctx context.Context, req *protocol.RolloutRequest) (*protocol.RolloutResult, error) {
	data, err := protocol.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rollout request: %w", err)
	}

	// Unblock the read when ctx ends; the connection is unusable afterwards.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return nil, fmt.Errorf("failed to send rollout request: %w", err)
	}
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if ctx.Err() != nil && errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read rollout result: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var res protocol.RolloutResult
		if err := protocol.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("failed to decode rollout result: %w", err)
		}
		if res.Type != protocol.TypeRolloutResult {
			return nil, fmt.Errorf("unexpected message type %q", res.Type)
		}
		return &res, nil
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
