// Package wsrpc implements the resource metadata and commit capabilities as
// a JSON-RPC 2.0 client over a single WebSocket connection to a chain
// gateway.
//
// Calls are multiplexed by request id, so concurrent callers share the
// connection. The client never retries; a dropped connection fails every
// in-flight and later call until the caller dials again.
package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-finagent/capability"
	"github.com/becomeliminal/nim-finagent/core"
)

// Gateway methods.
const (
	MethodGetTokenMetadata = "getTokenMetadata"
	MethodGetTokenHolders  = "getTokenHolders"
	MethodCreatePool       = "createPool"
	MethodGetPoolMetrics   = "getPoolMetrics"
)

// ErrClosed is returned for calls on a closed or broken connection.
var ErrClosed = errors.New("wsrpc: connection closed")

// RPCError is an error object returned by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Client talks to the gateway.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Response
	err     error // set once the connection is unusable

	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
}

var (
	_ capability.ResourceMetadata = (*Client)(nil)
	_ capability.ResourceCommit   = (*Client)(nil)
)

// Option configures Dial.
type Option func(*dialOptions)

type dialOptions struct {
	header           http.Header
	handshakeTimeout time.Duration
	logger           *zap.Logger
}

// WithHeader adds headers to the handshake, e.g. an API key.
func WithHeader(h http.Header) Option {
	return func(o *dialOptions) { o.header = h }
}

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *dialOptions) { o.handshakeTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *dialOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Dial connects to the gateway at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := dialOptions{handshakeTimeout: 10 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, o.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	c := &Client{
		conn:     conn,
		logger:   o.logger.Named("wsrpc"),
		pending:  make(map[uint64]chan Response),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()

	c.logger.Info("gateway connected", zap.String("url", url))
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		var resp Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("dropping response for unknown id", zap.Uint64("id", resp.ID))
			continue
		}
		ch <- resp
	}
}

// fail marks the connection unusable and wakes every waiter.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		select {
		case <-c.done:
			c.err = ErrClosed
		default:
			c.err = fmt.Errorf("%w: %v", ErrClosed, err)
			c.logger.Warn("gateway connection lost", zap.Error(err))
		}
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call invokes method and decodes the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	ch := make(chan Response, 1)
	id := c.nextID.Add(1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return err
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}

// GetMetadata implements capability.ResourceMetadata.
func (c *Client) GetMetadata(ctx context.Context, ref string) (capability.Metadata, error) {
	var md capability.Metadata
	err := c.Call(ctx, MethodGetTokenMetadata, map[string]string{"mint": ref}, &md)
	return md, err
}

// GetHolders implements capability.ResourceMetadata.
func (c *Client) GetHolders(ctx context.Context, ref string) ([]string, error) {
	var holders []string
	err := c.Call(ctx, MethodGetTokenHolders, map[string]string{"mint": ref}, &holders)
	return holders, err
}

// CommitCreate implements capability.ResourceCommit.
func (c *Client) CommitCreate(ctx context.Context, cfg core.ResourceConfig) (string, error) {
	var address string
	if err := c.Call(ctx, MethodCreatePool, cfg, &address); err != nil {
		return "", err
	}
	if address == "" {
		return "", fmt.Errorf("%s returned an empty address", MethodCreatePool)
	}
	return address, nil
}

// GetMetrics implements capability.ResourceCommit.
func (c *Client) GetMetrics(ctx context.Context, resourceID string) (core.Health, error) {
	var h core.Health
	err := c.Call(ctx, MethodGetPoolMetrics, map[string]string{"pool": resourceID}, &h)
	return h, err
}

// Close sends a close frame, closes the connection and waits for the reader.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.readDone
	})
	return err
}
