package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chain-gateway/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 10 * time.Second

// ErrClosed is returned for calls on a closed or dropped connection.
var ErrClosed = fmt.Errorf("%w: websocket closed", ErrUnavailable)

// RPCError is an error object returned by the core for one call.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("transport: rpc error %d: %s", e.Code, e.Message)
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *string         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// WSClient is a JSON-RPC 2.0 client over one websocket connection. It serves channel
// invocations (request/response matched by id) and event notifications (no id).
type WSClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wsMessage
	subs    map[string]map[uint64]func(json.RawMessage)
	nextSub uint64

	closeCh   chan struct{}
	closeOnce sync.Once
}

// DialWS connects to the core's websocket endpoint.
func DialWS(ctx context.Context, endpoint string) (*WSClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, endpoint, err)
	}

	c := &WSClient{
		conn:    conn,
		pending: make(map[string]chan wsMessage),
		subs:    make(map[string]map[uint64]func(json.RawMessage)),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Invoke calls a channel action and decodes its result into out.
func (c *WSClient) Invoke(ctx context.Context, method string, params any, out any) error {
	id := uuid.NewString()
	ch := make(chan wsMessage, 1)

	c.mu.Lock()
	select {
	case <-c.closeCh:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(wsRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, ctx.Err())
	case <-c.closeCh:
		return ErrClosed
	case msg := <-ch:
		if msg.Error != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnavailable, method, msg.Error)
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, method, err)
		}
		return nil
	}
}

// Subscribe asks the core for an event topic and routes its notifications to fn.
// The returned function removes the handler.
func (c *WSClient) Subscribe(ctx context.Context, event string, fn func(json.RawMessage)) (func(), error) {
	c.mu.Lock()
	c.nextSub++
	subID := c.nextSub
	if c.subs[event] == nil {
		c.subs[event] = make(map[uint64]func(json.RawMessage))
	}
	c.subs[event][subID] = fn
	c.mu.Unlock()

	unsubscribe := func() {
		c.mu.Lock()
		delete(c.subs[event], subID)
		c.mu.Unlock()
	}

	if err := c.Invoke(ctx, "subscribe", map[string]any{"topics": []string{event}}, nil); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

// Done is closed once the connection is gone.
func (c *WSClient) Done() <-chan struct{} {
	return c.closeCh
}

// Close terminates the connection.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *WSClient) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *WSClient) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				logger.Logger.Warn("Core websocket read failed", zap.Error(err))
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Logger.Warn("Dropping malformed core message", zap.Error(err))
			continue
		}

		if msg.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			c.mu.Unlock()
			if !ok {
				continue
			}
			// one response per id; a repeated id must not stall the loop
			select {
			case ch <- msg:
			default:
				logger.Logger.Warn("Dropping duplicate core response", zap.String("id", *msg.ID))
			}
			continue
		}
		if msg.Method != "" {
			c.notify(msg.Method, msg.Params)
		}
	}
}

func (c *WSClient) notify(event string, params json.RawMessage) {
	c.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(c.subs[event]))
	for _, fn := range c.subs[event] {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(params)
	}
}
