package tracelog

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitdabbler/backoff"
	"github.com/rs/zerolog"
)

// Sender is the part of the Client used by a ForwardSink.
type Sender interface {
	// Send queues a pooled Encoder holding one complete Fluent entry and
	// takes ownership of it. It reports whether the entry was accepted.
	Send(*Encoder) bool
	Shutdown(context.Context) error
}

type worker struct {
	*ClientOptions
	id     int
	conn   net.Conn
	addr   string
	wg     *sync.WaitGroup
	sendCh chan *Encoder
	ctx    context.Context
}

// Client represents a Fluent client. With several workers the Client is
// effectively a connection pool, as each worker keeps its own connection to
// the server.
type Client struct {
	opts    *ClientOptions
	host    string
	workers []*worker
	wg      *sync.WaitGroup
	sendCh  chan *Encoder

	// guards sendCh against sends after Shutdown closes it
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64

	// closed when Shutdown starts, releasing Sends blocked on a full queue
	closing     chan struct{}
	closingOnce sync.Once

	// stops reconnect loops that outlive a Shutdown deadline
	cancel context.CancelFunc
}

// NewClient creates a new Fluent client and, unless SkipEagerDial is set,
// connects to the Fluent server immediately, returning an error if it is
// unable to establish the connections.
func NewClient(host string, opts *ClientOptions) (*Client, error) {
	return NewClientContext(context.Background(), host, opts)
}

// NewClientContext is NewClient with a Context that can cancel the eager
// connection attempts, or set a deadline for them.
func NewClientContext(ctx context.Context, host string, opts *ClientOptions) (*Client, error) {

	c, err := newClient(host, opts)
	if err != nil {
		return nil, err
	}

	if c.opts.SkipEagerDial {
		c.start()
		return c, nil
	}

	// eagerly establish server connections from each worker
	for i := 0; i < c.opts.Concurrency; i++ {
		err = c.workers[i].tryConnect(ctx, c.opts.MaxEagerDialTries)
		if err != nil {
			// will drop the client, so eagerly close open conns
			for j := 0; j < i; j++ {
				c.workers[j].conn.Close()
			}
			c.cancel()
			return nil, err
		}
	}

	c.start()
	return c, nil
}

func newClient(host string, opts *ClientOptions) (*Client, error) {

	if len(host) == 0 {
		return nil, errors.New("valid host required")
	}

	if opts == nil {
		opts = DefaultClientOptions()
	} else {
		opts.resolve()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		opts:    opts,
		host:    host,
		workers: make([]*worker, opts.Concurrency),
		wg:      &sync.WaitGroup{},
		sendCh:  make(chan *Encoder, opts.QueueDepth),
		closing: make(chan struct{}),
		cancel:  cancel,
	}

	c.debug().Interface("options", c.opts).Msg("starting Client")

	addr := net.JoinHostPort(host, strconv.Itoa(opts.Port))
	for i := 0; i < c.opts.Concurrency; i++ {
		c.workers[i] = &worker{
			ClientOptions: opts,
			id:            i + 1,
			addr:          addr,
			wg:            c.wg,
			sendCh:        c.sendCh,
			ctx:           ctx,
		}
	}

	return c, nil
}

func (c *Client) start() {
	c.wg.Add(len(c.workers))
	for _, w := range c.workers {
		go w.run()
	}
}

func (w *worker) tryConnect(ctx context.Context, maxAttempts int) error {
	w.debug().Msg("attempting to connect to Fluent server")

	b, err := backoff.New(
		backoff.WithInitialDelay(0),
		backoff.WithExponentialLimit(time.Second*20),
	)
	if err != nil {
		return err
	}

	i := 0
	for {
		i++
		err = w.connect(ctx)
		if err == nil {
			w.debug().Msg("connected to Fluent server")
			return nil
		}

		w.debug().Err(err).Int("attempt", i).Msg("failed to connect to Fluent server")

		if maxAttempts > 0 && i >= maxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("failed to connect to Fluent server: %w", ctx.Err())
		}

		if err := sleepContext(ctx, b); err != nil {
			return fmt.Errorf("failed to connect to Fluent server: %w", err)
		}
	}

	return fmt.Errorf("failed to connect to Fluent server; maxAttempts reached: %d: %w", maxAttempts, err)
}

// sleepContext backs off, returning early with the context error if ctx is
// done first. An abandoned sleep finishes in the background.
func sleepContext(ctx context.Context, b *backoff.Backoff) error {
	slept := make(chan struct{})
	go func() {
		b.Sleep()
		close(slept)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-slept:
		return nil
	}
}

func (w *worker) connect(ctx context.Context) error {

	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, w.DialTimeout)
	defer cancel()

	w.debug().Str("addr", w.addr).Str("network", w.Network).Msg("dialing Fluent server")

	var (
		conn net.Conn
		err  error
	)
	switch w.Network {
	case "tcp", "udp":
		conn, err = d.DialContext(ctx, w.Network, w.addr)
	case "tls":
		tlsDialer := tls.Dialer{
			NetDialer: &d,
			Config:    &tls.Config{InsecureSkipVerify: w.InsecureSkipVerify},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", w.addr)
	default:
		return fmt.Errorf("unsupported Fluent client transport protocol: %s", w.Network)
	}
	if err != nil {
		return fmt.Errorf("failed to dial Fluent server at %s over %s: %w", w.addr, w.Network, err)
	}

	w.conn = conn
	return nil
}

func (w *worker) run() {
	defer w.wg.Done()

	// loop until the fan-in sendCh closes
	for enc := range w.sendCh {
		w.write(enc)
		enc.Free()
	}

	w.debug().Msg("closing net.Conn and returning from worker goroutine")

	// with lazy connections, the channel can close before anything is sent
	if w.conn != nil {
		w.conn.Close()
	}
}

// write sends one entry, reconnecting after broken pipes, until it succeeds
// or the client is torn down.
func (w *worker) write(enc *Encoder) {
	for {
		// nil when (a) using lazy conns, (b) after broken pipe tear down
		if w.conn == nil {
			// with 0 (infinite) attempts this only fails once the client
			// context is cancelled, and the entry is lost
			if err := w.tryConnect(w.ctx, 0); err != nil {
				w.reportError(err, "dropping entry: not connected")
				return
			}
		}

		// write to the server; retry if recoverable
		for i := 0; i < w.MaxWriteTries; i++ {
			if w.WriteTimeout > 0 {
				w.conn.SetWriteDeadline(time.Now().Add(w.WriteTimeout))
			}

			_, err := w.conn.Write(enc.Bytes())
			if err == nil {
				return
			}

			// only consider timeouts potentially recoverable
			var ne net.Error
			if !(errors.As(err, &ne) && ne.Timeout()) {
				w.reportError(err, "failed to write entry: unrecoverable error")
				break
			}

			w.debug().Err(err).Int("attempt", i+1).Msg("failed to write entry: recoverable error")
		}

		// either non-recoverable error or we exhausted MaxWriteTries
		w.debug().Msg("broken pipe detected; tearing down connection")
		if err := w.conn.Close(); err != nil {
			w.reportError(err, "error closing broken connection")
		}
		w.conn = nil
	}
}

// Send places the encoded entry into the write queue and hands ownership of
// the Encoder to the Client, which frees it once written.
//
// This operation is sync/blocking when:
//   - the QueueDepth is 0, or
//   - the queue is full and DropIfQueueFull is false
//
// This operation is async/non-blocking when:
//   - QueueDepth > 0, and
//   - the queue is not full, or DropIfQueueFull is true
//
// Send returns false, and frees the Encoder, when the entry is dropped
// because the queue is full or the Client has been shut down. A blocked Send
// gives up as soon as Shutdown is called.
func (c *Client) Send(enc *Encoder) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		enc.Free()
		return false
	}

	if c.opts.DropIfQueueFull {
		select {
		case c.sendCh <- enc:
		default:
			c.dropped.Add(1)
			c.debug().Int("queue_depth", c.opts.QueueDepth).Msg("full buffer: dropping write request")
			enc.Free()
			return false
		}
		return true
	}

	// otherwise block until the queue has room or the client shuts down
	select {
	case c.sendCh <- enc:
		return true
	case <-c.closing:
		c.debug().Msg("client shutting down: dropping write request")
		enc.Free()
		return false
	}
}

// Dropped returns the number of entries dropped because the queue was full.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Shutdown supports graceful shutdown. It closes the write queue, so later
// calls to Send are rejected, and blocks until the queue is drained and all
// workers have stopped, or the context expires, whichever occurs first. When
// the context expires, workers still trying to reconnect give up, and the
// entries they hold are dropped.
func (c *Client) Shutdown(ctx context.Context) error {

	// release blocked Sends, which hold the read lock
	c.closingOnce.Do(func() { close(c.closing) })

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.sendCh)
	c.mu.Unlock()

	c.debug().Msg("send queue closed; writing out previously enqueued entries")

	doneCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	case <-doneCh:
		c.cancel()
		c.debug().Msg("send queue drained")
		return nil
	}
}

// internal logging helpers; a nil *zerolog.Event discards everything
func (c *Client) debug() *zerolog.Event {
	if !c.opts.Verbose {
		return nil
	}
	return InternalLogger().Debug().Str("component", "client")
}

func (w *worker) debug() *zerolog.Event {
	if !w.Verbose {
		return nil
	}
	return InternalLogger().Debug().Str("component", "client").Int("worker", w.id)
}

func (w *worker) reportError(err error, msg string) {
	InternalLogger().Error().Err(err).Str("component", "client").Int("worker", w.id).Msg(msg)
}
