// Package client implements the calling side of MessagePack-RPC.
//
// Every request gets an identifier from the pending table and a Future that
// the receive path resolves when the matching response arrives:
//
//	goroutine-1 ──AsyncRequest(id=0)──┐
//	goroutine-2 ──AsyncRequest(id=1)──┼──► transport ──► server
//	goroutine-3 ──AsyncRequest(id=2)──┘
//
//	onReceived: ◄── response(id=1) ──► pending[1] ──► goroutine-2 wakes up
//
// Responses may arrive in any order. A failed send, a transport error or a
// malformed inbound message breaks the whole connection, so every pending
// call is failed at once.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"msgpack-rpc/codec"
	"msgpack-rpc/logging"
	"msgpack-rpc/message"
	"msgpack-rpc/rpcerror"
	"msgpack-rpc/transport"
)

// DefaultSyncRequestTimeout bounds Request when no other timeout is configured.
const DefaultSyncRequestTimeout = 3000 * time.Millisecond

var errStopped = rpcerror.New(rpcerror.EOF, "client stopped")

// ServerError is a failure reported by the server in the response error
// field. It is distinct from *rpcerror.Error, which covers local failures.
type ServerError struct {
	Value any
}

func (e *ServerError) Error() string {
	if s, ok := e.Value.(string); ok {
		return "server error: " + s
	}
	return "server error: " + codec.FormatValue(e.Value)
}

// IsServerError reports whether err carries a server-reported error.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// Client issues requests and notifications over one transport connection.
type Client struct {
	conn    transport.Connector
	table   *pendingTable
	logger  *zap.Logger
	timeout time.Duration

	transportOpts []transport.Option

	startOnce sync.Once
	stopOnce  sync.Once
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// WithSyncRequestTimeout sets the deadline Request applies to each call.
// Non-positive values keep the default.
func WithSyncRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTransportOptions configures the connection created by Dial.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Client) { c.transportOpts = append(c.transportOpts, opts...) }
}

// New creates a client over conn. Call Start before issuing requests.
func New(conn transport.Connector, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		table:   newPendingTable(),
		logger:  zap.NewNop(),
		timeout: DefaultSyncRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("mprpc.client")
	return c
}

// Dial connects to address over TCP and returns a started client.
func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	var probe Client
	for _, opt := range opts {
		opt(&probe)
	}
	conn, err := transport.DialTCP(ctx, address, probe.transportOpts...)
	if err != nil {
		return nil, err
	}
	c := New(conn, opts...)
	c.Start()
	return c, nil
}

// Start begins receiving responses. Later calls are ignored.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.conn.Start(c.onReceived)
	})
}

// Stop fails every pending call with EOF, rejects later calls and closes the
// connection.
func (c *Client) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		pending := c.table.close()
		for _, f := range pending {
			f.resolve(nil, errStopped)
		}
		if len(pending) > 0 {
			c.logger.Info("stopped with pending requests", zap.Int("pending", len(pending)))
		}
		err = c.conn.Close()
	})
	return err
}

// SyncRequestTimeout is the deadline applied by Request.
func (c *Client) SyncRequestTimeout() time.Duration { return c.timeout }

// AsyncRequest sends a request and returns its Future without waiting.
// Encoding failures and calls on a stopped client return an error instead.
func (c *Client) AsyncRequest(method string, params ...any) (*Future, error) {
	f, data, err := c.table.register(method, params)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("request issued", zap.Uint32("msgid", uint32(f.id)), zap.String("method", method))
	c.conn.AsyncSend(data, c.onSent)
	return f, nil
}

// Request sends a request and waits for its outcome, bounded by ctx and by
// the sync request timeout. The outcome is a result, a *ServerError, or a
// local *rpcerror.Error (Timeout, transport failure, protocol violation).
func (c *Client) Request(ctx context.Context, method string, params ...any) (any, error) {
	f, err := c.AsyncRequest(method, params...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return f.Wait(ctx)
}

// Notify sends a notification. Only local failures are returned; a failed
// send is logged because nobody waits for it.
func (c *Client) Notify(method string, params ...any) error {
	if c.table.isClosed() {
		return errStopped
	}
	data, err := codec.PackNotification(method, params)
	if err != nil {
		return err
	}
	c.conn.AsyncSend(data, func(info rpcerror.ErrorInfo) {
		if info.HasError() {
			c.logger.Warn("notification send failed",
				zap.String("method", method), zap.Stringer("error", info))
		}
	})
	return nil
}

func (c *Client) onSent(info rpcerror.ErrorInfo) {
	if info.HasError() {
		c.failAll(info)
	}
}

func (c *Client) onReceived(info rpcerror.ErrorInfo, data []byte) {
	if info.HasError() {
		c.failAll(info)
		return
	}

	msg, err := codec.Parse(data)
	if err != nil {
		c.failAll(rpcerror.Info(err))
		return
	}
	resp, ok := msg.(*message.Response)
	if !ok {
		c.failAll(rpcerror.NewInfoWithData(rpcerror.InvalidMessage,
			"expected a response, got a "+msg.Type().String(), data))
		return
	}

	f, ok := c.table.take(resp.MsgID)
	if !ok {
		c.logger.Warn("response for unknown msgid", zap.Uint32("msgid", uint32(resp.MsgID)))
		return
	}
	if ce := c.logger.Check(zap.DebugLevel, "response received"); ce != nil {
		ce.Write(zap.String("message", codec.FormatMessage(data)))
	}
	if resp.HasError() {
		f.resolve(nil, &ServerError{Value: resp.Error})
		return
	}
	f.resolve(resp.Result, nil)
}

// failAll resolves every pending call with info and empties the table.
func (c *Client) failAll(info rpcerror.ErrorInfo) {
	pending := c.table.drain()
	if len(pending) == 0 {
		return
	}
	err := info.Err()
	for _, f := range pending {
		f.resolve(nil, err)
	}
	c.logger.Error("failed all pending requests",
		zap.Int("pending", len(pending)), zap.Stringer("error", info))
}
