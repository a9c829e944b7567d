package routeros

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tzrikka/gorouteros/pkg/proto"
)

// Stream is the caller's handle to a single command's responses. C
// yields every [proto.Response] the router sends for that command's
// tag, in order, except a payload-less !empty, which only closes C
// without delivering a value. C is closed once the command reaches a terminal
// response (done, trap, fatal, or empty), is cancelled, or the
// connection itself fails.
//
// A caller that stops reading from C before it's closed must call
// Cancel, or the engine will block forever trying to deliver to it.
type Stream struct {
	C      <-chan proto.Response
	Cancel func()

	errSlot *error
}

// Err reports why C was closed without a final [proto.Response] — a
// connection failure, or a malformed sentence the engine couldn't
// attribute to any other pending command. It must only be called
// after a receive from C has reported the channel closed; it returns
// nil if C closed normally (a terminal response was already delivered
// on it) or was cancelled.
func (s *Stream) Err() error {
	if s.errSlot == nil {
		return nil
	}
	return *s.errSlot
}

// clientCore is the state shared by every clone of a [Client]. A
// Client is a cheap handle around a pointer to one of these; cloning
// a Client never duplicates the connection or its engine.
type clientCore struct {
	actorCh    chan actorMsg
	shutdownCh chan struct{}
	closeOnce  sync.Once
	wait       func() error
	logger     zerolog.Logger
}

// Client is a handle to one RouterOS API connection. It is cheap to
// copy and safe for concurrent use: every command submitted through
// any clone is multiplexed over the same underlying socket by a
// single owning goroutine.
type Client struct {
	core *clientCore
}

// Option configures [Connect].
type Option func(*options)

type options struct {
	logger        zerolog.Logger
	metrics       bool
	shutdownGrace time.Duration
	dialTimeout   time.Duration
}

func defaultOptions() *options {
	return &options{
		logger:        zerolog.Nop(),
		metrics:       false,
		shutdownGrace: 5 * time.Second,
		dialTimeout:   10 * time.Second,
	}
}

// WithLogger attaches a zerolog logger to the connection. Every log
// line is annotated with a per-connection correlation ID.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics enables per-command CSV metrics recording.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metrics = enabled }
}

// WithShutdownGrace sets how long [Client.Close] waits for pending
// commands to be cancelled cleanly before the engine drops them and
// tears down the connection unconditionally.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) { o.shutdownGrace = d }
}

// WithDialTimeout bounds how long [Connect] waits for the initial TCP
// dial.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// Connect dials addr, logs in with username and password, and
// returns a [Client] multiplexing commands over that one connection.
// The returned error, if any, is a [*Error].
func Connect(ctx context.Context, addr, username, password string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	dialer := net.Dialer{Timeout: o.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Err: err}
	}

	connID := shortuuid.New()
	logger := o.logger.With().Str("conn_id", connID).Logger()

	core := &clientCore{
		actorCh:    make(chan actorMsg, 16),
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}

	e := &engine{
		conn:          conn,
		logger:        logger,
		actorCh:       core.actorCh,
		shutdownGrace: o.shutdownGrace,
		metrics:       o.metrics,
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		e.run(core.shutdownCh)
		// Once the engine has stopped for any reason (including a fatal
		// response or a failed socket), new submissions are refused.
		core.closeOnce.Do(func() { close(core.shutdownCh) })
		return nil
	})
	core.wait = g.Wait

	client := &Client{core: core}

	cmd, err := proto.LoginCommand(username, password)
	if err != nil {
		client.Close()
		return nil, &Error{Kind: KindConnection, Err: err}
	}

	stream, err := client.send(ctx, cmd)
	if err != nil {
		client.Close()
		return nil, err
	}

	resp, ok := <-stream.C
	if !ok {
		client.Close()
		if err := stream.Err(); err != nil {
			return nil, err
		}
		return nil, &Error{Kind: KindConnection, Err: net.ErrClosed}
	}

	switch resp.Kind {
	case proto.ResponseDone:
		return client, nil
	case proto.ResponseTrap:
		client.Close()
		return nil, &Error{Kind: KindAuthentication, Err: errors.New(resp.Message)}
	case proto.ResponseFatal:
		client.Close()
		return nil, &Error{Kind: KindConnection, Err: errors.New(resp.FatalMessage)}
	default:
		client.Close()
		return nil, &Error{Kind: KindResponseSequence, Err: errors.New("unexpected response during login")}
	}
}

// Clone returns a handle that shares this Client's underlying
// connection and engine. Closing one clone closes all of them.
func (c *Client) Clone() *Client {
	return &Client{core: c.core}
}

// Send submits cmd for execution and returns a [Stream] of its
// responses. The context bounds how long Send waits for the engine to
// accept the command; once it is accepted, cancelling the context has
// the same effect as calling the returned Stream's Cancel.
func (c *Client) Send(ctx context.Context, cmd *proto.Command) (*Stream, error) {
	return c.send(ctx, cmd)
}

func (c *Client) send(ctx context.Context, cmd *proto.Command) (*Stream, error) {
	sink := make(chan proto.Response, 16)
	cancelCh := make(chan struct{})
	var cancelOnce sync.Once
	cancel := func() { cancelOnce.Do(func() { close(cancelCh) }) }
	errSlot := new(error)

	msg := actorMsg{submit: cmd, sink: sink, cancelCh: cancelCh, errSlot: errSlot}

	// Checked first: actorCh is buffered, so the select below could
	// otherwise accept a command after shutdown has begun.
	select {
	case <-c.core.shutdownCh:
		return nil, &Error{Kind: KindActorUnavailable}
	default:
	}

	select {
	case c.core.actorCh <- msg:
		context.AfterFunc(ctx, cancel)
		return &Stream{C: sink, Cancel: cancel, errSlot: errSlot}, nil
	case <-ctx.Done():
		return nil, &Error{Kind: KindConnection, Err: ctx.Err()}
	case <-c.core.shutdownCh:
		return nil, &Error{Kind: KindActorUnavailable}
	}
}

// Close shuts down the connection: every command still outstanding is
// asked to cancel, and the engine waits up to the configured shutdown
// grace period for those cancellations to land before dropping
// anything left and closing the socket. Close is idempotent and safe
// to call from any clone.
func (c *Client) Close() error {
	c.core.closeOnce.Do(func() {
		close(c.core.shutdownCh)
	})
	if c.core.wait != nil {
		return c.core.wait()
	}
	return nil
}
