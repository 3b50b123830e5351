package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/basket-router/internal/connection"
	"github.com/rickgao/basket-router/internal/message"
	"github.com/rickgao/basket-router/internal/metrics"
	"github.com/rickgao/basket-router/internal/router"
)

// Errors
var (
	ErrNotHandled = errors.New("message kind not accepted from the caller")
	ErrStopped    = errors.New("gateway stopped")
)

// OrderJournal persists order bindings. *journal.Journal implements it.
type OrderJournal interface {
	Record(orderID int64, conn connection.ID)
	Truncate(ctx context.Context) error
}

// Config holds gateway settings.
type Config struct {
	OutputBuffer int           // Messages channel capacity. Default: 10000
	SendTimeout  time.Duration // Per-send deadline. Default: 10s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		OutputBuffer: 10000,
		SendTimeout:  10 * time.Second,
	}
}

// Stats contains gateway counters.
type Stats struct {
	Sent         int64
	SendFailures int64
	Published    int64
	Replayed     int64
}

// Gateway owns the inner connections and the router. It performs the sends
// the router decides on, reads every connection, and publishes the single
// stream of caller-facing messages.
type Gateway struct {
	cfg     Config
	logger  *logrus.Entry
	conns   *connection.Set
	router  *router.Router
	journal OrderJournal
	metrics *metrics.Recorder

	out chan message.Message

	sessionMu sync.RWMutex
	session   uuid.UUID

	sent         atomic.Int64
	sendFailures atomic.Int64
	published    atomic.Int64
	replayed     atomic.Int64

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	readers  sync.WaitGroup
}

// New creates a Gateway. journal and rec may be nil.
func New(
	cfg Config,
	conns *connection.Set,
	rt *router.Router,
	journal OrderJournal,
	rec *metrics.Recorder,
	logger *logrus.Entry,
) *Gateway {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	def := DefaultConfig()
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = def.OutputBuffer
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		cfg:     cfg,
		logger:  logger.WithField("component", "gateway"),
		conns:   conns,
		router:  rt,
		journal: journal,
		metrics: rec,
		out:     make(chan message.Message, cfg.OutputBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches one read loop per registered connection.
func (g *Gateway) Start(ctx context.Context) error {
	entries := g.conns.All()
	for _, e := range entries {
		g.readers.Add(1)
		go g.readLoop(ctx, e)
	}
	g.logger.WithField("connections", len(entries)).Info("gateway started")
	return nil
}

// Stop rejects new requests, waits for in-flight work and read loops, and
// closes the Messages channel.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	g.mu.Unlock()

	g.logger.Info("stopping gateway")
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		g.readers.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(g.out)
		return nil
	case <-ctx.Done():
		g.logger.Warn("gateway stop timed out")
		return ctx.Err()
	}
}

// Messages returns the caller-facing output stream. It is closed by Stop.
func (g *Gateway) Messages() <-chan message.Message {
	return g.out
}

// Session returns the id of the current connect cycle.
func (g *Gateway) Session() uuid.UUID {
	g.sessionMu.RLock()
	defer g.sessionMu.RUnlock()
	return g.session
}

// Stats returns current counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Sent:         g.sent.Load(),
		SendFailures: g.sendFailures.Load(),
		Published:    g.published.Load(),
		Replayed:     g.replayed.Load(),
	}
}

// Send routes one caller request. Failures to reach an inner connection are
// reported on Messages, not returned.
func (g *Gateway) Send(ctx context.Context, m message.Message) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return ErrStopped
	}
	g.inflight.Add(1)
	g.mu.Unlock()
	defer g.inflight.Done()

	switch m.(type) {
	case *message.Connect:
		g.newSession()
	case *message.Reset:
		if g.journal != nil {
			if err := g.journal.Truncate(ctx); err != nil {
				g.logger.WithField("error", err).Error("failed to truncate order journal")
			}
		}
	}

	return g.route(ctx, m)
}

func (g *Gateway) newSession() {
	id := uuid.New()
	g.sessionMu.Lock()
	g.session = id
	g.sessionMu.Unlock()
	g.logger.WithField("session", id).Info("connect cycle started")
}

// route runs m through the router, performs the decisions and routes any
// replayed requests.
func (g *Gateway) route(ctx context.Context, m message.Message) error {
	res := g.router.ProcessInbound(m)
	if !res.Handled {
		return fmt.Errorf("%w: %s", ErrNotHandled, m.Kind())
	}
	if res.Pended {
		g.metrics.Pended(ctx, m.Kind())
	}

	for _, o := range res.DirectOutputs {
		g.publish(ctx, o)
	}
	g.execute(ctx, res.Decisions)
	g.replay(ctx, res.Replay)
	return nil
}

// execute sends every decision concurrently and waits for all of them.
func (g *Gateway) execute(ctx context.Context, decisions []router.Decision) {
	if len(decisions) == 0 {
		return
	}

	var eg errgroup.Group
	for _, d := range decisions {
		d := d
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
			defer cancel()

			if err := d.Conn.Send(sctx, d.Message); err != nil {
				g.sendFailed(ctx, d, err)
				return nil
			}

			g.sent.Add(1)
			g.metrics.Routed(ctx, d.Message.Kind(), d.ConnID)
			g.journalSent(d)
			return nil
		})
	}
	eg.Wait()
}

// journalSent records the binding of a successfully sent order.
func (g *Gateway) journalSent(d router.Decision) {
	if g.journal == nil {
		return
	}
	switch m := d.Message.(type) {
	case *message.OrderRegister:
		g.journal.Record(m.TransactionID, d.ConnID)
	case *message.OrderReplace:
		g.journal.Record(m.TransactionID, d.ConnID)
	}
}

// sendFailed turns a failed send into the reply the connection would have
// produced, so the router's aggregation settles as if it had answered.
func (g *Gateway) sendFailed(ctx context.Context, d router.Decision, err error) {
	g.sendFailures.Add(1)
	g.metrics.SendFailed(ctx, d.Message.Kind(), d.ConnID)
	g.logger.WithFields(logrus.Fields{
		"conn":  d.ConnID,
		"kind":  d.Message.Kind(),
		"error": err,
	}).Warn("send failed")

	err = fmt.Errorf("send to %s: %w", d.ConnID, err)
	switch m := d.Message.(type) {
	case *message.Connect:
		g.handleOutbound(ctx, d.Conn, &message.Connect{Error: err})
	case *message.Disconnect:
		g.handleOutbound(ctx, d.Conn, &message.Disconnect{Error: err})
	case *message.Reset:
		// Routing state is already cleared; nothing to answer.
	case *message.Subscription:
		g.handleOutbound(ctx, d.Conn, &message.SubscriptionResponse{
			OriginalTransactionID: m.TransactionID,
			Error:                 err,
		})
	default:
		g.publish(ctx, router.Reject(d.Message, err))
	}
}

// readLoop feeds every message from one connection through the router.
func (g *Gateway) readLoop(ctx context.Context, e connection.Entry) {
	defer g.readers.Done()

	logger := g.logger.WithField("conn", e.ID)
	logger.Debug("read loop started")
	events := e.Conn.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.ctx.Done():
			return
		case m, ok := <-events:
			if !ok {
				logger.Info("connection events closed")
				return
			}
			g.handleOutbound(g.ctx, e.Conn, m)
		}
	}
}

// handleOutbound routes one message from conn and publishes the result.
func (g *Gateway) handleOutbound(ctx context.Context, conn connection.Handle, m message.Message) {
	res := g.router.ProcessOutbound(conn, m)

	if res.Transformed == nil && len(res.Extra) == 0 {
		g.metrics.Suppressed(ctx, m.Kind(), g.conns.Normalize(conn))
	}
	if res.Transformed != nil {
		g.publish(ctx, res.Transformed)
	}
	for _, o := range res.Extra {
		g.publish(ctx, o)
	}
	g.replay(ctx, res.Replay)
}

// replay routes requests released from the pending store.
func (g *Gateway) replay(ctx context.Context, msgs []message.Message) {
	for _, m := range msgs {
		g.replayed.Add(1)
		if err := g.route(ctx, m); err != nil {
			g.logger.WithFields(logrus.Fields{"kind": m.Kind(), "error": err}).Error("replay failed")
		}
	}
}

// publish delivers m to the caller, blocking while the output is full.
func (g *Gateway) publish(ctx context.Context, m message.Message) {
	select {
	case g.out <- m:
		g.published.Add(1)
		g.metrics.Output(ctx, m.Kind())
	case <-ctx.Done():
		g.logger.WithField("kind", m.Kind()).Warn("output dropped, context done")
	case <-g.ctx.Done():
		g.logger.WithField("kind", m.Kind()).Warn("output dropped, gateway stopping")
	}
}
