package router

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/rickgao/basket-router/internal/message"
)

// Route describes one caller subscription (or unsubscription) fanned out
// to one or more inner connections.
type Route struct {
	ParentID    int64
	DataType    message.DataType
	Instrument  string
	IsBroadcast bool

	// Children that have not acknowledged yet.
	Pending []int64

	// Unsubscribes is the parent id of the subscription this route cancels,
	// or zero for a subscribe route.
	Unsubscribes int64
}

// Outcome is what the caller should see after a child event.
type Outcome struct {
	// Forward is set when exactly one parent-level event must be emitted.
	Forward bool
	// Err is the aggregated error to attach to the forwarded event.
	Err error
	// Settled is set once every child has acknowledged or finished.
	Settled bool
}

type route struct {
	Route

	targets  []int64 // sorted child ids
	pending  map[int64]struct{}
	errs     map[int64]error
	settled  map[int64]struct{}
	answered bool // response already forwarded
	online   bool // online already forwarded
	finished bool // finished already forwarded
}

// SubscriptionTable tracks the acknowledgement state of every routed
// subscription so that fan-out replies collapse into one reply per parent.
//
// Responses and online notifications forward the first success and swallow
// the rest; a response carries an error only when every child failed.
// Finished is forwarded once every child has finished or failed.
type SubscriptionTable struct {
	mu     sync.Mutex
	routes map[int64]*route
}

// NewSubscriptionTable creates an empty table.
func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{routes: make(map[int64]*route)}
}

// AddRoute registers a parent and the children it was sent as.
func (t *SubscriptionTable) AddRoute(parent int64, dataType message.DataType, instrument string, children []int64) {
	targets := append([]int64(nil), children...)
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	r := &route{
		Route: Route{
			ParentID:    parent,
			DataType:    dataType,
			Instrument:  instrument,
			IsBroadcast: len(targets) > 1,
		},
		targets: targets,
		pending: make(map[int64]struct{}, len(targets)),
		errs:    make(map[int64]error),
		settled: make(map[int64]struct{}, len(targets)),
	}
	for _, c := range targets {
		r.pending[c] = struct{}{}
	}

	t.mu.Lock()
	t.routes[parent] = r
	t.mu.Unlock()
}

// MarkUnsubscribe records that parent cancels the subscription target.
func (t *SubscriptionTable) MarkUnsubscribe(parent, target int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[parent]; ok {
		r.Unsubscribes = target
	}
}

// OnChildAcknowledged applies a child's subscription response.
func (t *SubscriptionTable) OnChildAcknowledged(parent, child int64, err error) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[parent]
	if !ok || !r.isTarget(child) {
		return Outcome{}
	}
	if _, waiting := r.pending[child]; !waiting {
		// Duplicate acknowledgement.
		return Outcome{Settled: len(r.pending) == 0}
	}
	delete(r.pending, child)

	if err != nil {
		r.errs[child] = err
		r.settled[child] = struct{}{}
	}

	out := Outcome{Settled: len(r.pending) == 0}
	if r.answered {
		return out
	}

	if err == nil {
		r.answered = true
		out.Forward = true
		return out
	}

	if len(r.errs) == len(r.targets) {
		r.answered = true
		out.Forward = true
		out.Err = r.combinedErrorLocked()
	}
	return out
}

// OnChildOnline applies a child's online notification.
func (t *SubscriptionTable) OnChildOnline(parent, child int64) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[parent]
	if !ok || !r.isTarget(child) {
		return Outcome{}
	}
	if r.online {
		return Outcome{}
	}
	r.online = true
	return Outcome{Forward: true}
}

// OnChildFinished applies a child's finished notification. Children that
// failed count as finished.
func (t *SubscriptionTable) OnChildFinished(parent, child int64) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[parent]
	if !ok || !r.isTarget(child) {
		return Outcome{}
	}
	r.settled[child] = struct{}{}
	delete(r.pending, child)

	if r.finished || len(r.settled) < len(r.targets) {
		return Outcome{}
	}
	r.finished = true
	return Outcome{Forward: true, Settled: true}
}

// Get returns a snapshot of the route for parent.
func (t *SubscriptionTable) Get(parent int64) (Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[parent]
	if !ok {
		return Route{}, false
	}
	snap := r.Route
	for _, c := range r.targets {
		if _, waiting := r.pending[c]; waiting {
			snap.Pending = append(snap.Pending, c)
		}
	}
	return snap, true
}

// Remove deletes the route for parent.
func (t *SubscriptionTable) Remove(parent int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.routes[parent]; !ok {
		return false
	}
	delete(t.routes, parent)
	return true
}

// Len returns the number of routes.
func (t *SubscriptionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}

// Clear removes every route.
func (t *SubscriptionTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = make(map[int64]*route)
}

func (r *route) isTarget(child int64) bool {
	i := sort.Search(len(r.targets), func(i int) bool { return r.targets[i] >= child })
	return i < len(r.targets) && r.targets[i] == child
}

// combinedErrorLocked joins child errors in child id order.
func (r *route) combinedErrorLocked() error {
	var err error
	for _, c := range r.targets {
		if e, ok := r.errs[c]; ok {
			err = multierr.Append(err, fmt.Errorf("child %d: %w", c, e))
		}
	}
	return err
}
