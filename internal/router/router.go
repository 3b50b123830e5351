package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rickgao/basket-router/internal/connection"
	"github.com/rickgao/basket-router/internal/message"
)

// Router decides where caller requests go and how venue replies come back.
//
// ProcessInbound and ProcessOutbound never block and may be called
// concurrently. The Router holds no state of its own beyond the five
// containers, each of which is independently locked.
type Router struct {
	cfg         RouterConfig
	logger      *logrus.Entry
	conns       *connection.Set
	portfolios  PortfolioLookup
	instruments InstrumentLookup
	ids         message.IDGenerator

	manager       *connection.Manager
	pending       *PendingStore
	parentChild   *ParentChildMap
	subscriptions *SubscriptionTable
	orders        *OrderTable
}

// NewRouter creates a Router over the registered connections. The Set's
// normalizer is the one used by every table keyed on a connection.
func NewRouter(
	cfg RouterConfig,
	conns *connection.Set,
	portfolios PortfolioLookup,
	instruments InstrumentLookup,
	ids message.IDGenerator,
	logger *logrus.Entry,
) *Router {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if conns == nil {
		conns = connection.NewSet(nil)
	}
	if ids == nil {
		ids = message.NewSequence(time.Now().UnixNano())
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = DefaultRouterConfig().PendingCapacity
	}

	logger = logger.WithField("component", "router")

	return &Router{
		cfg:           cfg,
		logger:        logger,
		conns:         conns,
		portfolios:    portfolios,
		instruments:   instruments,
		ids:           ids,
		manager:       connection.NewManager(cfg.Mode, logger),
		pending:       NewPendingStore(cfg.PendingCapacity),
		parentChild:   NewParentChildMap(),
		subscriptions: NewSubscriptionTable(),
		orders:        NewOrderTable(conns.Normalizer()),
	}
}

// Manager returns the connection lifecycle manager.
func (r *Router) Manager() *connection.Manager { return r.manager }

// Pending returns the pending request store.
func (r *Router) Pending() *PendingStore { return r.pending }

// ParentChild returns the parent/child id map.
func (r *Router) ParentChild() *ParentChildMap { return r.parentChild }

// Subscriptions returns the subscription table.
func (r *Router) Subscriptions() *SubscriptionTable { return r.subscriptions }

// Orders returns the order table.
func (r *Router) Orders() *OrderTable { return r.orders }

// Stats returns table sizes.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Pending:       r.pending.Stats(),
		Parents:       r.parentChild.Len(),
		Retired:       r.parentChild.RetiredLen(),
		Subscriptions: r.subscriptions.Len(),
		Orders:        r.orders.Len(),
	}
}

// RestoreOrders preloads order bindings, typically from the journal.
func (r *Router) RestoreOrders(bindings map[int64]connection.ID) {
	r.orders.Restore(bindings)
	r.logger.WithField("orders", len(bindings)).Info("order bindings restored")
}

// Reset empties every container and returns the lifecycle to Disconnected.
func (r *Router) Reset() {
	r.manager.Reset()
	r.pending.Clear()
	r.parentChild.Clear()
	r.subscriptions.Clear()
	r.orders.Clear()
	r.logger.Info("routing state reset")
}

// ProcessInbound routes one request from the caller.
func (r *Router) ProcessInbound(m message.Message) InResult {
	v := &inbound{r: r, res: InResult{Handled: true}}
	m.Accept(v)
	return v.res
}

// ProcessOutbound routes one message received from conn.
func (r *Router) ProcessOutbound(conn connection.Handle, m message.Message) OutResult {
	v := &outbound{r: r, id: r.conns.Normalize(conn), res: OutResult{Transformed: m}}
	m.Accept(v)
	return v.res
}

// Reject builds the caller-facing failure for a request that could not be
// routed or sent.
func Reject(m message.Message, err error) message.Message {
	switch v := m.(type) {
	case *message.Subscription:
		return &message.SubscriptionResponse{
			OriginalTransactionID: v.TransactionID,
			NotSupported:          errors.Is(err, ErrNotSupported),
			Error:                 err,
		}
	case *message.OrderRegister:
		return &message.Execution{OriginalTransactionID: v.TransactionID, Portfolio: v.Portfolio, Instrument: v.Instrument, Error: err}
	case *message.OrderCancel:
		return &message.Execution{OriginalTransactionID: v.TransactionID, Portfolio: v.Portfolio, Instrument: v.Instrument, Error: err}
	case *message.OrderReplace:
		return &message.Execution{OriginalTransactionID: v.TransactionID, Portfolio: v.Portfolio, Instrument: v.Instrument, Error: err}
	case *message.OrderGroupCancel:
		return &message.Execution{OriginalTransactionID: v.TransactionID, Portfolio: v.Portfolio, Error: err}
	default:
		return &message.Error{Error: fmt.Errorf("%s: %w", m.Kind(), err)}
	}
}

// reachable returns connected entries whose capabilities pass accept.
func (r *Router) reachable(accept func(connection.Capabilities) bool) []connection.Entry {
	var out []connection.Entry
	for _, e := range r.conns.All() {
		if r.manager.IsConnected(e.ID) && accept(e.Capabilities) {
			out = append(out, e)
		}
	}
	return out
}

// shouldPend reports whether an unroutable request may still be served later.
func (r *Router) shouldPend() bool {
	return r.manager.HasPendingConnections() ||
		r.manager.TotalCount() == 0 ||
		r.manager.AllDisconnectedOrFailed()
}

func pick(entries []connection.Entry, id connection.ID) (connection.Entry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return connection.Entry{}, false
}

func supportsOrders(c connection.Capabilities) bool { return c.Orders }

// subscriptionTargets picks the connections a subscribe goes to.
func (r *Router) subscriptionTargets(m *message.Subscription) []connection.Entry {
	reachable := r.reachable(func(c connection.Capabilities) bool { return c.Supports(m.DataType) })
	if len(reachable) == 0 {
		return nil
	}

	if m.Instrument != "" && r.instruments != nil {
		if h, ok := r.instruments.ConnectionForInstrument(m.Instrument, m.DataType); ok {
			if e, ok := pick(reachable, r.conns.Normalize(h)); ok {
				return []connection.Entry{e}
			}
			return nil
		}
	}
	if m.Portfolio != "" && r.portfolios != nil {
		if h, ok := r.portfolios.ConnectionForPortfolio(m.Portfolio); ok {
			if e, ok := pick(reachable, r.conns.Normalize(h)); ok {
				return []connection.Entry{e}
			}
			return nil
		}
	}

	if m.Instrument != "" || m.Portfolio != "" {
		return reachable[:1]
	}
	return reachable
}

// orderTarget picks the connection a new order goes to.
func (r *Router) orderTarget(portfolio string) (connection.Entry, bool) {
	reachable := r.reachable(supportsOrders)
	if len(reachable) == 0 {
		return connection.Entry{}, false
	}
	if portfolio != "" && r.portfolios != nil {
		if h, ok := r.portfolios.ConnectionForPortfolio(portfolio); ok {
			return pick(reachable, r.conns.Normalize(h))
		}
	}
	return reachable[0], true
}

// groupCancelTargets picks the connections an order group cancel goes to.
func (r *Router) groupCancelTargets(portfolio string) []connection.Entry {
	reachable := r.reachable(supportsOrders)
	if portfolio != "" && r.portfolios != nil {
		if h, ok := r.portfolios.ConnectionForPortfolio(portfolio); ok {
			if e, ok := pick(reachable, r.conns.Normalize(h)); ok {
				return []connection.Entry{e}
			}
			return nil
		}
	}
	return reachable
}

// settlePending handles the pending store after a connect result.
func (r *Router) settlePending(connectErr error) (replay, extra []message.Message) {
	if connectErr == nil {
		return r.pending.DrainAll(), nil
	}
	if r.manager.HasPendingConnections() {
		return nil, nil
	}

	drained := r.pending.DrainAll()
	if len(drained) == 0 {
		return nil, nil
	}
	if r.manager.ConnectedCount() > 0 {
		// Route again now that waiting can no longer help.
		return drained, nil
	}

	r.logger.WithField("count", len(drained)).Warn("rejecting pending requests, no connection is up")
	err := fmt.Errorf("%w: %v", ErrConnectFailed, connectErr)
	for _, m := range drained {
		extra = append(extra, Reject(m, err))
	}
	return nil, extra
}

// unlinkRoute drops a finished subscription from every table.
func (r *Router) unlinkRoute(parent int64) {
	r.subscriptions.Remove(parent)
	r.parentChild.Unlink(parent)
}

// acknowledge applies one child's subscription response and returns the
// parent-level response to forward, or nil.
func (r *Router) acknowledge(parent, child int64, err error, notSupported bool) message.Message {
	if err == nil && notSupported {
		err = ErrNotSupported
	}

	route, _ := r.subscriptions.Get(parent)
	out := r.subscriptions.OnChildAcknowledged(parent, child, err)

	switch {
	case route.Unsubscribes != 0 && out.Settled:
		r.unlinkRoute(route.Unsubscribes)
		r.unlinkRoute(parent)
	case route.Unsubscribes == 0 && out.Forward && out.Err != nil:
		r.unlinkRoute(parent)
	}

	if !out.Forward {
		return nil
	}
	return &message.SubscriptionResponse{
		OriginalTransactionID: parent,
		NotSupported:          out.Err != nil && notSupported && !route.IsBroadcast,
		Error:                 out.Err,
	}
}

// remapIDs rewrites child subscription ids to their parents, dropping
// retired children and duplicates that collapse onto the same parent.
// stale is set when every id belonged to a retired child.
func (r *Router) remapIDs(ids []int64) (out []int64, changed, stale bool) {
	out = make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	retired := 0
	for _, id := range ids {
		if parent, ok := r.parentChild.ParentOf(id); ok {
			id = parent
			changed = true
		} else if _, ok := r.parentChild.Retired(id); ok {
			retired++
			changed = true
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, changed, retired > 0 && retired == len(ids)
}

// Both directions must handle every message kind.
var (
	_ message.Visitor = (*inbound)(nil)
	_ message.Visitor = (*outbound)(nil)
)

// inbound routes caller requests.
type inbound struct {
	r   *Router
	res InResult
}

func (v *inbound) send(e connection.Entry, m message.Message) {
	v.res.Decisions = append(v.res.Decisions, Decision{ConnID: e.ID, Conn: e.Conn, Message: m})
}

func (v *inbound) direct(m message.Message) {
	v.res.DirectOutputs = append(v.res.DirectOutputs, m)
}

func (v *inbound) broadcast(m message.Message) {
	for _, e := range v.r.conns.All() {
		v.send(e, m.Clone())
	}
}

// pendOrReject stores m for later, or answers it with ErrNotSupported when
// waiting cannot help. routable re-runs target selection after the enqueue
// so a connection that came up in between is not missed.
func (v *inbound) pendOrReject(m message.Message, routable func() bool) {
	r := v.r
	if !r.shouldPend() {
		v.direct(Reject(m, ErrNotSupported))
		return
	}

	r.pending.Enqueue(m.Clone())
	v.res.Pended = true
	r.logger.WithField("kind", m.Kind()).Debug("request pended")

	if routable() {
		v.res.Replay = append(v.res.Replay, r.pending.DrainAll()...)
	}
}

func (v *inbound) VisitConnect(m *message.Connect) {
	r := v.r
	r.manager.BeginConnect()
	for _, e := range r.conns.All() {
		r.manager.Register(e.ID)
	}
	v.broadcast(m)

	out := r.manager.Settle()
	v.res.DirectOutputs = append(v.res.DirectOutputs, out...)
	for _, o := range out {
		if c, ok := o.(*message.Connect); ok && c.Error != nil {
			_, extra := r.settlePending(c.Error)
			v.res.DirectOutputs = append(v.res.DirectOutputs, extra...)
		}
	}
}

func (v *inbound) VisitDisconnect(m *message.Disconnect) {
	out := v.r.manager.BeginDisconnect()
	v.broadcast(m)
	v.res.DirectOutputs = append(v.res.DirectOutputs, out...)
}

func (v *inbound) VisitReset(m *message.Reset) {
	v.r.Reset()
	v.broadcast(m)
}

func (v *inbound) VisitSubscription(m *message.Subscription) {
	if m.IsSubscribe {
		v.subscribe(m)
		return
	}
	v.unsubscribe(m)
}

func (v *inbound) subscribe(m *message.Subscription) {
	r := v.r

	targets := r.subscriptionTargets(m)
	if len(targets) == 0 {
		v.pendOrReject(m, func() bool { return len(r.subscriptionTargets(m)) > 0 })
		return
	}

	// The route goes in before any child is linked, so a child that can be
	// resolved always has a route to aggregate into.
	children := make([]*message.Subscription, len(targets))
	ids := make([]int64, len(targets))
	for i := range targets {
		children[i] = m.Clone().(*message.Subscription)
		children[i].TransactionID = r.ids.Next()
		ids[i] = children[i].TransactionID
	}
	r.subscriptions.AddRoute(m.TransactionID, m.DataType, m.Instrument, ids)

	for i, e := range targets {
		if err := r.parentChild.Link(m.TransactionID, ids[i], e.Conn); err != nil {
			r.logger.WithField("error", err).Error("failed to link child subscription")
			v.failChild(m.TransactionID, ids[i], err)
			continue
		}
		v.send(e, children[i])
	}

	r.logger.WithFields(logrus.Fields{
		"transaction_id": m.TransactionID,
		"data_type":      m.DataType,
		"children":       len(children),
	}).Debug("subscription routed")
}

func (v *inbound) unsubscribe(m *message.Subscription) {
	r := v.r
	target := m.OriginalTransactionID

	children := r.parentChild.Children(target)
	if len(children) == 0 {
		_, removed := r.pending.Remove(func(p message.Message) bool {
			s, ok := p.(*message.Subscription)
			return ok && s.IsSubscribe && s.TransactionID == target
		})
		if removed {
			v.direct(&message.SubscriptionResponse{OriginalTransactionID: m.TransactionID})
			return
		}
		v.direct(&message.SubscriptionResponse{
			OriginalTransactionID: m.TransactionID,
			Error:                 fmt.Errorf("%w: %d", ErrUnknownSubscription, target),
		})
		return
	}

	route, _ := r.subscriptions.Get(target)

	unsubs := make([]*message.Subscription, len(children))
	ids := make([]int64, len(children))
	for i, c := range children {
		unsubs[i] = m.Clone().(*message.Subscription)
		unsubs[i].TransactionID = r.ids.Next()
		unsubs[i].OriginalTransactionID = c.ID
		ids[i] = unsubs[i].TransactionID
	}
	r.subscriptions.AddRoute(m.TransactionID, route.DataType, route.Instrument, ids)
	r.subscriptions.MarkUnsubscribe(m.TransactionID, target)

	for i, c := range children {
		if err := r.parentChild.Link(m.TransactionID, ids[i], c.Conn); err != nil {
			r.logger.WithField("error", err).Error("failed to link child unsubscribe")
			v.failChild(m.TransactionID, ids[i], err)
			continue
		}
		v.res.Decisions = append(v.res.Decisions, Decision{
			ConnID:  r.conns.Normalize(c.Conn),
			Conn:    c.Conn,
			Message: unsubs[i],
		})
	}
}

// failChild answers a child that was never sent as failed.
func (v *inbound) failChild(parent, child int64, err error) {
	if out := v.r.acknowledge(parent, child, err, false); out != nil {
		v.direct(out)
	}
}

func (v *inbound) VisitOrderRegister(m *message.OrderRegister) {
	r := v.r

	e, ok := r.orderTarget(m.Portfolio)
	if !ok {
		v.pendOrReject(m, func() bool {
			_, ok := r.orderTarget(m.Portfolio)
			return ok
		})
		return
	}

	r.orders.Bind(m.TransactionID, e.ID)
	v.send(e, m)
}

// resolveOrder finds the connection owning an existing order.
func (v *inbound) resolveOrder(orderID int64, portfolio string) (connection.Entry, bool) {
	r := v.r
	id, ok := r.orders.Resolve(orderID)
	if !ok {
		id, ok = r.orders.ResolveByPortfolio(portfolio, r.portfolios)
	}
	if !ok {
		return connection.Entry{}, false
	}
	return r.conns.Get(id)
}

func (v *inbound) unknownOrder(m message.Message, orderID int64) {
	v.r.logger.WithField("original_transaction_id", orderID).Warn("order not found")
	v.direct(Reject(m, fmt.Errorf("%w: %d", ErrUnknownTransaction, orderID)))
}

func (v *inbound) VisitOrderCancel(m *message.OrderCancel) {
	e, ok := v.resolveOrder(m.OriginalTransactionID, m.Portfolio)
	if !ok {
		v.unknownOrder(m, m.OriginalTransactionID)
		return
	}
	v.send(e, m)
}

func (v *inbound) VisitOrderReplace(m *message.OrderReplace) {
	e, ok := v.resolveOrder(m.OriginalTransactionID, m.Portfolio)
	if !ok {
		v.unknownOrder(m, m.OriginalTransactionID)
		return
	}
	v.r.orders.Bind(m.TransactionID, e.ID)
	v.send(e, m)
}

func (v *inbound) VisitOrderGroupCancel(m *message.OrderGroupCancel) {
	r := v.r

	targets := r.groupCancelTargets(m.Portfolio)
	if len(targets) == 0 {
		v.pendOrReject(m, func() bool { return len(r.groupCancelTargets(m.Portfolio)) > 0 })
		return
	}
	for _, e := range targets {
		v.send(e, m.Clone())
	}
}

// Venue-side kinds are not accepted from the caller.
func (v *inbound) VisitSubscriptionResponse(*message.SubscriptionResponse) { v.res.Handled = false }
func (v *inbound) VisitSubscriptionOnline(*message.SubscriptionOnline)     { v.res.Handled = false }
func (v *inbound) VisitSubscriptionFinished(*message.SubscriptionFinished) { v.res.Handled = false }
func (v *inbound) VisitExecution(*message.Execution)                       { v.res.Handled = false }
func (v *inbound) VisitMarketData(*message.MarketData)                     { v.res.Handled = false }
func (v *inbound) VisitError(*message.Error)                               { v.res.Handled = false }

// outbound routes messages coming back from one connection.
type outbound struct {
	r   *Router
	id  connection.ID
	res OutResult
}

// emit places lifecycle events into the result; the first one is Transformed.
func (v *outbound) emit(events []message.Message) {
	if len(events) == 0 {
		v.res.Transformed = nil
		return
	}
	v.res.Transformed = events[0]
	v.res.Extra = append(v.res.Extra, events[1:]...)
}

func (v *outbound) VisitConnect(m *message.Connect) {
	r := v.r
	v.emit(r.manager.ProcessConnectResult(v.id, m.Error))

	replay, extra := r.settlePending(m.Error)
	v.res.Replay = append(v.res.Replay, replay...)
	v.res.Extra = append(v.res.Extra, extra...)
}

func (v *outbound) VisitDisconnect(m *message.Disconnect) {
	r := v.r
	events := r.manager.ProcessDisconnectResult(v.id, m.Error)
	v.emit(events)

	// A disconnect can settle a connect in progress as failed.
	for _, e := range events {
		if c, ok := e.(*message.Connect); ok && c.Error != nil {
			replay, extra := r.settlePending(c.Error)
			v.res.Replay = append(v.res.Replay, replay...)
			v.res.Extra = append(v.res.Extra, extra...)
		}
	}
}

func (v *outbound) VisitReset(*message.Reset) {
	v.res.Transformed = nil
}

// dropRetired suppresses a late message for a child whose route has already
// been torn down. Ids that were never ours pass through.
func (v *outbound) dropRetired(m message.Message, child int64) {
	parent, ok := v.r.parentChild.Retired(child)
	if !ok {
		return
	}
	v.res.Transformed = nil
	v.r.logger.WithFields(logrus.Fields{
		"kind":   m.Kind(),
		"child":  child,
		"parent": parent,
		"conn":   v.id,
	}).Debug("late message for retired child dropped")
}

func (v *outbound) VisitSubscriptionResponse(m *message.SubscriptionResponse) {
	r := v.r
	child := m.OriginalTransactionID
	parent, ok := r.parentChild.ParentOf(child)
	if !ok {
		v.dropRetired(m, child)
		return
	}

	v.res.Transformed = r.acknowledge(parent, child, m.Error, m.NotSupported)
}

func (v *outbound) VisitSubscriptionOnline(m *message.SubscriptionOnline) {
	r := v.r
	parent, ok := r.parentChild.ParentOf(m.OriginalTransactionID)
	if !ok {
		v.dropRetired(m, m.OriginalTransactionID)
		return
	}

	if r.subscriptions.OnChildOnline(parent, m.OriginalTransactionID).Forward {
		v.res.Transformed = &message.SubscriptionOnline{OriginalTransactionID: parent}
		return
	}
	v.res.Transformed = nil
}

func (v *outbound) VisitSubscriptionFinished(m *message.SubscriptionFinished) {
	r := v.r
	parent, ok := r.parentChild.ParentOf(m.OriginalTransactionID)
	if !ok {
		v.dropRetired(m, m.OriginalTransactionID)
		return
	}

	if r.subscriptions.OnChildFinished(parent, m.OriginalTransactionID).Forward {
		v.res.Transformed = &message.SubscriptionFinished{OriginalTransactionID: parent}
		r.unlinkRoute(parent)
		return
	}
	v.res.Transformed = nil
}

func (v *outbound) VisitExecution(m *message.Execution) {
	r := v.r

	ids, changed, stale := r.remapIDs(m.SubscriptionIDs)
	parent, isChild := r.parentChild.ParentOf(m.OriginalTransactionID)
	if !isChild {
		parent, isChild = r.parentChild.Retired(m.OriginalTransactionID)
	}
	if stale && !isChild {
		// Only there for subscriptions that are gone, unless it answers an order.
		if _, isOrder := r.orders.Resolve(m.OriginalTransactionID); !isOrder {
			v.res.Transformed = nil
			return
		}
	}
	if !changed && !isChild {
		return
	}

	out := m.Clone().(*message.Execution)
	out.SubscriptionIDs = ids
	if isChild {
		out.OriginalTransactionID = parent
	}
	v.res.Transformed = out
}

func (v *outbound) VisitMarketData(m *message.MarketData) {
	ids, changed, stale := v.r.remapIDs(m.SubscriptionIDs)
	if stale {
		v.res.Transformed = nil
		return
	}
	if !changed {
		return
	}

	out := m.Clone().(*message.MarketData)
	out.SubscriptionIDs = ids
	v.res.Transformed = out
}

func (v *outbound) VisitError(*message.Error) {}

// Requests never come from a venue; pass them through untouched.
func (v *outbound) VisitSubscription(*message.Subscription)         {}
func (v *outbound) VisitOrderRegister(*message.OrderRegister)       {}
func (v *outbound) VisitOrderCancel(*message.OrderCancel)           {}
func (v *outbound) VisitOrderReplace(*message.OrderReplace)         {}
func (v *outbound) VisitOrderGroupCancel(*message.OrderGroupCancel) {}
