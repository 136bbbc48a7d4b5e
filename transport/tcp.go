package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"msgpack-rpc/logging"
	"msgpack-rpc/protocol"
	"msgpack-rpc/rpcerror"
)

const DefaultHeartbeatInterval = 30 * time.Second

type options struct {
	heartbeat     time.Duration
	maxFrameBytes uint32
	logger        *zap.Logger
}

func defaultOptions() options {
	return options{
		heartbeat:     DefaultHeartbeatInterval,
		maxFrameBytes: protocol.DefaultMaxBodyLen,
		logger:        zap.NewNop(),
	}
}

// Option configures a TCPConn or Listener.
type Option func(*options)

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithMaxFrameBytes bounds the body of one inbound frame.
func WithMaxFrameBytes(n uint32) Option {
	return func(o *options) { o.maxFrameBytes = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

type outbound struct {
	data   []byte
	onSent SentHandler
}

// TCPConn is a framed, full-duplex connection.
//
//	AsyncSend ──► queue ──► writeLoop ──► conn   (heartbeats share the writer)
//	conn ──► readLoop ──► onReceived             (heartbeats are skipped)
//
// AsyncSend only appends to the queue, so callers never wait on the socket.
type TCPConn struct {
	id     string
	conn   net.Conn
	opts   options
	logger *zap.Logger

	mu     sync.Mutex
	queue  []outbound
	closed bool
	wake   chan struct{}

	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTCPConn wraps an established connection. Call Start to begin I/O.
func NewTCPConn(conn net.Conn, opts ...Option) *TCPConn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.NewString()
	return &TCPConn{
		id:     id,
		conn:   conn,
		opts:   o,
		logger: o.logger.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr().String())),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// DialTCP connects to address and returns a connection that has not been started.
func DialTCP(ctx context.Context, address string, opts ...Option) (*TCPConn, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, rpcerror.Newf(rpcerror.FailedToResolve, "resolve %s: %v", address, err)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, rpcerror.Newf(rpcerror.FailedToResolve, "resolve %s: %v", address, err)
		}
		return nil, rpcerror.Newf(rpcerror.FailedToConnect, "connect %s: %v", address, err)
	}
	return NewTCPConn(conn, opts...), nil
}

func (c *TCPConn) ID() string { return c.id }

func (c *TCPConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Done is closed once the connection is closed.
func (c *TCPConn) Done() <-chan struct{} { return c.done }

// Start launches the read and write loops. Later calls are ignored.
func (c *TCPConn) Start(onReceived ReceivedHandler) {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.writeLoop()
		go c.readLoop(onReceived)
	})
}

// AsyncSend queues data as one message frame. onSent is called exactly once,
// from the write loop, or inline when the connection is already closed.
func (c *TCPConn) AsyncSend(data []byte, onSent SentHandler) {
	if onSent == nil {
		onSent = Ignore
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		onSent(rpcerror.NewInfo(rpcerror.EOF, "connection closed"))
		return
	}
	c.queue = append(c.queue, outbound{data: data, onSent: onSent})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close closes the socket and fails every queued send. It does not wait for
// the loops to exit; use Wait for that.
func (c *TCPConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		queued := c.queue
		c.queue = nil
		c.mu.Unlock()

		close(c.done)
		err = c.conn.Close()

		info := rpcerror.NewInfo(rpcerror.EOF, "connection closed")
		for _, out := range queued {
			out.onSent(info)
		}
	})
	return err
}

// Wait blocks until both loops have exited. It must not be called from a callback.
func (c *TCPConn) Wait() {
	c.wg.Wait()
}

func (c *TCPConn) writeLoop() {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.opts.heartbeat > 0 {
		ticker := time.NewTicker(c.opts.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case <-tick:
			if err := protocol.Encode(c.conn, protocol.FrameTypeHeartbeat, nil); err != nil {
				c.logger.Debug("heartbeat failed", zap.Error(err))
				c.Close()
				return
			}
			continue
		case <-c.wake:
		}

		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for i, out := range batch {
			if err := protocol.Encode(c.conn, protocol.FrameTypeMessage, out.data); err != nil {
				info := rpcerror.NewInfo(rpcerror.FailedToWrite, err.Error())
				for _, rest := range batch[i:] {
					rest.onSent(info)
				}
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
			out.onSent(rpcerror.None)
		}
	}
}

func (c *TCPConn) readLoop(onReceived ReceivedHandler) {
	defer c.wg.Done()
	defer c.Close()

	for {
		header, body, err := protocol.Decode(c.conn, c.opts.maxFrameBytes)
		if err != nil {
			onReceived(c.readError(err), nil)
			return
		}
		if header.FrameType == protocol.FrameTypeHeartbeat {
			continue
		}
		onReceived(rpcerror.None, body)
	}
}

func (c *TCPConn) readError(err error) rpcerror.ErrorInfo {
	select {
	case <-c.done:
		return rpcerror.NewInfo(rpcerror.EOF, "connection closed")
	default:
	}
	if errors.Is(err, io.EOF) {
		return rpcerror.NewInfo(rpcerror.EOF, "connection closed by peer")
	}
	return rpcerror.NewInfo(rpcerror.FailedToRead, err.Error())
}

// Listener accepts framed TCP connections.
type Listener struct {
	ln   net.Listener
	opts []Option

	mu     sync.Mutex
	closed bool
}

// ListenTCP listens on address, e.g. "127.0.0.1:3780" or ":0".
func ListenTCP(address string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, rpcerror.Newf(rpcerror.FailedToListen, "listen %s: %v", address, err)
	}
	return &Listener{ln: ln, opts: opts}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection. After Close it returns net.ErrClosed.
func (l *Listener) Accept() (*TCPConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil, net.ErrClosed
		}
		return nil, rpcerror.Newf(rpcerror.FailedToAccept, "accept: %v", err)
	}
	return NewTCPConn(conn, l.opts...), nil
}

func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.ln.Close()
}
