package gateway

import (
	"github.com/google/uuid"

	"github.com/rickgao/basket-router/internal/connection"
	"github.com/rickgao/basket-router/internal/router"
)

// ConnectionStatus is the lifecycle record of one inner connection.
// TransportUp is set only for connections that report their socket state.
type ConnectionStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	TransportUp *bool  `json:"transport_up,omitempty"`
}

// transport is implemented by connections backed by a live socket.
type transport interface {
	IsConnected() bool
}

// transportUp reports the socket state of h or of the first handle it
// decorates that has one.
func transportUp(h connection.Handle) (up, ok bool) {
	for h != nil {
		if t, is := h.(transport); is {
			return t.IsConnected(), true
		}
		u, is := h.(connection.Unwrapper)
		if !is {
			break
		}
		h = u.Unwrap()
	}
	return false, false
}

// Status is a point-in-time view of the basket.
type Status struct {
	Session     string             `json:"session,omitempty"`
	State       string             `json:"state"`
	Mode        string             `json:"mode"`
	Connected   int                `json:"connected"`
	Total       int                `json:"total"`
	Connections []ConnectionStatus `json:"connections"`
	Router      router.RouterStats `json:"router"`
	Gateway     Stats              `json:"gateway"`
}

// Status returns the logical state and per-connection records.
func (g *Gateway) Status() Status {
	mgr := g.router.Manager()

	st := Status{
		State:       mgr.Status().String(),
		Mode:        mgr.Mode().String(),
		Connected:   mgr.ConnectedCount(),
		Total:       mgr.TotalCount(),
		Connections: []ConnectionStatus{},
		Router:      g.router.Stats(),
		Gateway:     g.Stats(),
	}
	if s := g.Session(); s != uuid.Nil {
		st.Session = s.String()
	}

	for _, rec := range mgr.Snapshot() {
		cs := ConnectionStatus{ID: string(rec.ID), Status: rec.Status.String()}
		if rec.LastError != nil {
			cs.Error = rec.LastError.Error()
		}
		if e, ok := g.conns.Get(rec.ID); ok {
			if up, ok := transportUp(e.Conn); ok {
				cs.TransportUp = &up
			}
		}
		st.Connections = append(st.Connections, cs)
	}
	return st
}
