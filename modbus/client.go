package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// readChunkSize is the maximum number of bytes requested from the
	// connection by a single read.
	readChunkSize = 1024

	// defaultDialTimeout is the default timeout for establishing a connection.
	defaultDialTimeout = 10 * time.Second
)

// ClientState describes the connection state of a Client.
type ClientState int32

// Client states.
const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
)

// String implements fmt.Stringer.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown state %d", int32(s))
	}
}

// DialFunc establishes a connection to address on the named network.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// clientOptions describes options for Modbus/TCP clients.
type clientOptions struct {
	// dial establishes connections.
	dial DialFunc

	// dialTimeout bounds the time Connect spends resolving and dialing.
	dialTimeout time.Duration

	// logger is the client logger. Nil means no logging.
	logger *zerolog.Logger

	// onIOError is called when the connection fails.
	onIOError func(error)
}

// Validate fills in default values where appropriate.
func (opt *clientOptions) Validate() error {
	if opt.dialTimeout == 0 {
		opt.dialTimeout = defaultDialTimeout
	}
	if opt.dial == nil {
		d := &net.Dialer{}
		opt.dial = d.DialContext
	}
	if opt.logger == nil {
		nop := zerolog.Nop()
		opt.logger = &nop
	}
	return nil
}

// ClientOption describes an option to be passed to NewClient.
type ClientOption func(*clientOptions) error

// WithDialer instructs the client to establish connections using dial
// instead of a net.Dialer.
func WithDialer(dial DialFunc) ClientOption {
	return func(opt *clientOptions) error {
		if dial == nil {
			return errors.New("nil dialer")
		}
		if opt.dial != nil {
			return errors.New("WithDialer specified multiple times")
		}
		opt.dial = dial
		return nil
	}
}

// WithDialTimeout limits the time Connect spends resolving the host name and
// establishing the connection.
func WithDialTimeout(timeout time.Duration) ClientOption {
	return func(opt *clientOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("dial timeout must be positive, got %s", timeout)
		}
		if opt.dialTimeout != 0 {
			return errors.New("WithDialTimeout specified multiple times")
		}
		opt.dialTimeout = timeout
		return nil
	}
}

// WithClientLogger sets the logger used by the client.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(opt *clientOptions) error {
		if opt.logger != nil {
			return errors.New("WithClientLogger specified multiple times")
		}
		opt.logger = &logger
		return nil
	}
}

// WithIOErrorHandler sets a function to be called whenever the connection of
// the client fails. It is called on the client strand after all pending
// transactions have been failed and must not call Connect or Close.
func WithIOErrorHandler(h func(error)) ClientOption {
	return func(opt *clientOptions) error {
		if opt.onIOError != nil {
			return errors.New("WithIOErrorHandler specified multiple times")
		}
		opt.onIOError = h
		return nil
	}
}

// clientConn is a connection owned by a Client.
type clientConn struct {
	// nc is the underlying connection.
	nc net.Conn

	// mx protects queue.
	mx sync.Mutex

	// queue holds encoded frames waiting for the writer goroutine. It is not
	// bounded, so queueing never blocks the client strand.
	queue [][]byte

	// ready wakes up the writer goroutine after frames have been queued.
	ready chan struct{}

	// closed is closed when the client lets go of this connection.
	closed chan struct{}
}

// enqueue queues frame for the writer goroutine.
func (cc *clientConn) enqueue(frame []byte) {
	cc.mx.Lock()
	cc.queue = append(cc.queue, frame)
	cc.mx.Unlock()
	select {
	case cc.ready <- struct{}{}:
	default:
	}
}

// dequeue takes all queued frames.
func (cc *clientConn) dequeue() [][]byte {
	cc.mx.Lock()
	defer cc.mx.Unlock()
	frames := cc.queue
	cc.queue = nil
	return frames
}

// dialAttempt describes a Connect in progress.
type dialAttempt struct {
	// cancel aborts the attempt.
	cancel context.CancelFunc
}

// Client is a Modbus/TCP client. It owns at most one connection and pipelines
// requests over it, matching responses to requests by transaction identifier,
// so responses may arrive in any order.
//
// All methods are safe for concurrent use. Internally, every state change of
// the client happens on a single strand, one function at a time; callbacks are
// invoked on that strand as well and should therefore return quickly.
type Client struct {
	// logger is the client logger.
	logger zerolog.Logger

	// opts are the client options.
	opts clientOptions

	// strand serializes all access to the fields below state.
	strand strand

	// state mirrors the connection state for State. It is only written on the
	// strand.
	state atomic.Int32

	// dialing is the Connect in progress, if any.
	dialing *dialAttempt

	// conn is the current connection, nil if disconnected.
	conn *clientConn

	// table holds the pending transactions.
	table *transactionTable

	// rbuf accumulates received bytes until they form complete frames.
	rbuf []byte
}

// NewClient returns a new, disconnected client.
func NewClient(opts ...ClientOption) (*Client, error) {
	localOpts := clientOptions{}
	for _, opt := range opts {
		if err := opt(&localOpts); err != nil {
			return nil, err
		}
	}
	if err := localOpts.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		logger: *localOpts.logger,
		opts:   localOpts,
		table:  newTransactionTable(),
	}, nil
}

// State returns the current connection state of the client.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// setState sets the connection state. Must be called on the strand.
func (c *Client) setState(s ClientState) {
	c.state.Store(int32(s))
}

// Connect resolves host and connects to the Modbus/TCP server at host and
// port. Transactions still pending from a previous connection are failed with
// ErrAborted. Connect fails with ErrAlreadyConnected unless the client is
// disconnected, and with ErrClosed if Close is called while connecting.
func (c *Client) Connect(ctx context.Context, host, port string) error {
	addr := net.JoinHostPort(host, port)
	attempt := &dialAttempt{}
	var (
		dialCtx context.Context
		err     error
	)
	c.strand.call(func() {
		if c.State() != StateDisconnected {
			err = ErrAlreadyConnected
			return
		}
		dialCtx, attempt.cancel = context.WithTimeout(ctx, c.opts.dialTimeout)
		c.dialing = attempt
		c.setState(StateConnecting)
	})
	if err != nil {
		return err
	}
	c.logger.Debug().Str("remote", addr).Msg("connecting")
	nc, dialErr := c.opts.dial(dialCtx, "tcp", addr)
	c.strand.call(func() {
		attempt.cancel()
		if c.dialing != attempt {
			// Closed while dialing.
			if dialErr == nil {
				nc.Close()
			}
			err = ErrClosed
			return
		}
		c.dialing = nil
		if dialErr != nil {
			c.setState(StateDisconnected)
			err = &IOError{Op: "dial", Err: dialErr}
			return
		}
		c.attach(nc)
	})
	return err
}

// attach makes nc the connection of this client and starts its reader and
// writer. Must be called on the strand.
func (c *Client) attach(nc net.Conn) {
	if tcp, ok := nc.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			c.logger.Warn().Err(err).Msg("cannot disable Nagle's algorithm")
		}
		if err := tcp.SetKeepAlive(true); err != nil {
			c.logger.Warn().Err(err).Msg("cannot enable keep-alive")
		}
	}
	if n := c.table.len(); n > 0 {
		c.logger.Debug().Int("transactions", n).Msg("aborting stale transactions")
	}
	c.table.failAll(ErrAborted)
	c.rbuf = c.rbuf[:0]
	cc := &clientConn{
		nc:     nc,
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	c.conn = cc
	c.setState(StateConnected)
	c.logger.Info().Stringer("remote", nc.RemoteAddr()).Msg("connected")
	go c.readLoop(cc)
	go c.writeLoop(cc)
}

// Close closes the connection of this client, if any, and fails all pending
// transactions with ErrClosed. An ongoing Connect is aborted. Close may be
// called in any state; the client can be connected again afterwards.
//
// Close must not be called from a Callback.
func (c *Client) Close() error {
	var err error
	c.strand.call(func() {
		err = c.teardown(ErrClosed)
	})
	return err
}

// teardown releases the connection and fails all pending transactions with
// cause. Must be called on the strand.
func (c *Client) teardown(cause error) error {
	var err error
	if c.dialing != nil {
		c.dialing.cancel()
		c.dialing = nil
	}
	if cc := c.conn; cc != nil {
		c.conn = nil
		close(cc.closed)
		if hc, ok := cc.nc.(interface{ CloseWrite() error }); ok {
			_ = hc.CloseWrite()
		}
		err = cc.nc.Close()
		c.logger.Info().Stringer("remote", cc.nc.RemoteAddr()).
			AnErr("cause", cause).Msg("disconnected")
	}
	c.rbuf = c.rbuf[:0]
	c.setState(StateDisconnected)
	c.table.failAll(cause)
	return err
}

// fail tears down cc after an I/O or framing error and reports the error.
// Must be called on the strand. Errors on connections the client already let
// go of are ignored.
func (c *Client) fail(cc *clientConn, err error) {
	if c.conn != cc {
		return
	}
	c.logger.Error().Err(err).Msg("connection failed")
	c.teardown(err)
	if c.opts.onIOError != nil {
		c.opts.onIOError(err)
	}
}

// Send sends req to the given unit. The callback is invoked exactly once with
// either the response or an error, never from within Send itself.
//
// Requests failing CheckRequest are not sent. If the client is not
// connected, the callback receives ErrNotConnected. If the connection is
// closed or fails before a response arrives, the callback receives the
// corresponding transport error.
func (c *Client) Send(unit UnitID, req Request, cb Callback) {
	if cb == nil {
		panic("nil callback")
	}
	c.strand.post(func() {
		c.send(unit, req, cb)
	})
}

// send implements Send on the strand.
func (c *Client) send(unit UnitID, req Request, cb Callback) {
	if err := CheckRequest(req); err != nil {
		cb(nil, err)
		return
	}
	cc := c.conn
	if cc == nil {
		cb(nil, ErrNotConnected)
		return
	}
	tx, err := c.table.allocate(unit, req, cb)
	if err != nil {
		cb(nil, err)
		return
	}
	frame := AppendFrame(make([]byte, 0, HeaderSize+req.Length()),
		Header{TransactionID: tx.id, UnitID: unit}, req)
	c.logger.Debug().Uint16("transaction", tx.id).Stringer("unit", unit).
		Stringer("function", req.Function()).Msg("sending request")
	cc.enqueue(frame)
}

// writeLoop writes queued frames to cc, one at a time. A write blocked on a
// peer which stopped reading ends when the client closes cc.
func (c *Client) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.ready:
		case <-cc.closed:
			return
		}
		for _, frame := range cc.dequeue() {
			if _, err := cc.nc.Write(frame); err != nil {
				c.strand.post(func() {
					c.fail(cc, &IOError{Op: "write", Err: err})
				})
				return
			}
		}
	}
}

// readLoop reads from cc and hands the received bytes to the strand.
func (c *Client) readLoop(cc *clientConn) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := cc.nc.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			c.strand.post(func() {
				c.receive(cc, data)
			})
		}
		if err != nil {
			c.strand.post(func() {
				c.fail(cc, &IOError{Op: "read", Err: err})
			})
			return
		}
	}
}

// receive appends data read from cc to the read buffer and processes all
// complete frames. Must be called on the strand.
func (c *Client) receive(cc *clientConn, data []byte) {
	if c.conn != cc {
		return
	}
	c.rbuf = append(c.rbuf, data...)
	for c.conn == cc && c.processFrame() {
	}
}

// processFrame processes the first frame in the read buffer. It returns false
// if the buffer does not hold a complete frame.
func (c *Client) processFrame() bool {
	if len(c.rbuf) < HeaderSize {
		return false
	}
	h, err := DecodeHeader(c.rbuf)
	if err == nil {
		err = h.Validate()
	}
	if err != nil {
		// The stream position is lost, there is no way to resynchronize.
		c.fail(c.conn, err)
		return false
	}
	n := h.FrameLen()
	if len(c.rbuf) < n {
		return false
	}
	if tx := c.table.take(h.TransactionID); tx == nil {
		c.logger.Warn().Uint16("transaction", h.TransactionID).
			Msg("dropping response to unknown transaction")
	} else {
		resp, err := DecodeResponseFor(tx.request, c.rbuf[HeaderSize:n])
		if err != nil {
			c.logger.Debug().Uint16("transaction", tx.id).Err(err).
				Msg("request failed")
		}
		tx.callback(resp, err)
	}
	c.rbuf = c.rbuf[:copy(c.rbuf, c.rbuf[n:])]
	return true
}

// result is the outcome of a transaction.
type result struct {
	resp Response
	err  error
}

// Do sends req to the given unit and waits for the response. If ctx is done
// first, Do returns the context error; the transaction itself stays pending
// until a response arrives or the connection is closed.
func (c *Client) Do(
	ctx context.Context, unit UnitID, req Request,
) (Response, error) {
	ch := make(chan result, 1)
	c.Send(unit, req, func(resp Response, err error) {
		ch <- result{resp, err}
	})
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
