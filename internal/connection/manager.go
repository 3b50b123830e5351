package connection

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rickgao/basket-router/internal/message"
)

// Manager turns per-connection connect/disconnect results into exactly one
// logical Connect or Disconnect event per transition.
//
// Every method holds the manager lock for its whole read-modify-write, so
// concurrent results from different connections are linearized and the
// logical event cannot be emitted twice or missed.
type Manager struct {
	mode   Mode
	logger *logrus.Entry

	mu     sync.Mutex
	state  *State
	status Status // logical status
}

// NewManager creates a Manager with no connections.
func NewManager(mode Mode, logger *logrus.Entry) *Manager {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Manager{
		mode:   mode,
		logger: logger.WithField("component", "connection_manager"),
		state:  NewState(),
		status: StatusDisconnected,
	}
}

// Mode returns the emission policy.
func (m *Manager) Mode() Mode {
	return m.mode
}

// Register adds a record for id: Connecting if a connect is in flight,
// Disconnected otherwise. Registering an id twice is a no-op and returns false.
func (m *Manager) Register(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := StatusDisconnected
	if m.status == StatusConnecting {
		status = StatusConnecting
	}

	added := m.state.Add(id, status)
	if !added {
		m.logger.WithField("conn", id).Debug("connection already registered")
	}
	return added
}

// BeginConnect moves the logical state to Connecting and every known
// connection to Connecting.
func (m *Manager) BeginConnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = StatusConnecting
	m.state.Transition(StatusConnecting,
		StatusDisconnected, StatusConnected, StatusDisconnecting, StatusFailed)
}

// Settle re-evaluates the connect transition without a new result. Callers
// use it once registration is done, so a connect with no connections fails
// with ErrNoConnections instead of waiting forever.
func (m *Manager) Settle() []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settleConnectLocked()
}

// BeginDisconnect moves the logical state to Disconnecting. If nothing is
// connected any more the Disconnect event is returned immediately.
func (m *Manager) BeginDisconnect() []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = StatusDisconnecting
	m.state.Transition(StatusDisconnecting, StatusConnecting, StatusConnected)

	return m.settleDisconnectLocked()
}

// ProcessConnectResult records the connect result of one connection.
func (m *Manager) ProcessConnectResult(id ID, err error) []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.Get(id); !ok {
		m.logger.WithField("conn", id).Warn("connect result from unregistered connection")
		return nil
	}

	if err != nil {
		m.logger.WithFields(logrus.Fields{"conn": id, "error": err}).Warn("connection failed")
		m.state.Set(id, StatusFailed, err)
	} else {
		m.logger.WithField("conn", id).Info("connection established")
		m.state.Set(id, StatusConnected, nil)
	}

	return m.settleConnectLocked()
}

// ProcessDisconnectResult records the disconnect result of one connection.
// A disconnect arriving while that connection is still connecting counts
// as a failed connect.
func (m *Manager) ProcessDisconnectResult(id ID, err error) []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.state.Get(id)
	if !ok {
		m.logger.WithField("conn", id).Warn("disconnect result from unregistered connection")
		return nil
	}

	if m.status == StatusConnecting && rec.Status == StatusConnecting {
		if err == nil {
			err = ErrDisconnectedWhileConnecting
		}
		m.state.Set(id, StatusFailed, err)
		return m.settleConnectLocked()
	}

	if err != nil {
		m.state.Set(id, StatusFailed, err)
	} else {
		m.state.Set(id, StatusDisconnected, nil)
	}
	m.logger.WithFields(logrus.Fields{"conn": id, "error": err}).Info("connection closed")

	return m.settleDisconnectLocked()
}

// settleConnectLocked emits the logical Connect event when the policy allows.
func (m *Manager) settleConnectLocked() []message.Message {
	if m.status != StatusConnecting {
		return nil
	}

	c := m.state.Counts()

	switch m.mode {
	case ModeFirstSuccess:
		if c.Connected > 0 {
			return m.emitConnectedLocked(nil)
		}
	case ModeWaitAll:
		if c.Connecting > 0 {
			return nil
		}
		if c.Connected > 0 {
			return m.emitConnectedLocked(nil)
		}
	}

	if c.Connecting == 0 && c.Connected == 0 {
		err := m.state.CombinedError()
		if err == nil {
			err = ErrNoConnections
		}
		return m.emitConnectedLocked(err)
	}
	return nil
}

func (m *Manager) emitConnectedLocked(err error) []message.Message {
	if err != nil {
		m.status = StatusFailed
		m.logger.WithField("error", err).Error("all connections failed")
	} else {
		m.status = StatusConnected
		m.logger.Info("basket connected")
	}
	return []message.Message{&message.Connect{Error: err}}
}

// settleDisconnectLocked emits the logical Disconnect event once every
// connection is disconnected or failed.
func (m *Manager) settleDisconnectLocked() []message.Message {
	if m.status == StatusDisconnected || m.status == StatusConnecting {
		return nil
	}

	c := m.state.Counts()
	if c.Down() != c.Total {
		return nil
	}

	m.status = StatusDisconnected
	m.logger.Info("basket disconnected")
	return []message.Message{&message.Disconnect{}}
}

// Status returns the logical status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// HasPendingConnections reports whether any connection has not reported
// a connect or disconnect result yet.
func (m *Manager) HasPendingConnections() bool {
	return m.state.Counts().Pending() > 0
}

// ConnectedCount returns the number of connected connections.
func (m *Manager) ConnectedCount() int {
	return m.state.Counts().Connected
}

// TotalCount returns the number of registered connections.
func (m *Manager) TotalCount() int {
	return m.state.Counts().Total
}

// AllDisconnectedOrFailed reports whether no connection is up or pending.
func (m *Manager) AllDisconnectedOrFailed() bool {
	c := m.state.Counts()
	return c.Down() == c.Total
}

// IsConnected reports whether a single connection is connected.
func (m *Manager) IsConnected(id ID) bool {
	r, ok := m.state.Get(id)
	return ok && r.Status == StatusConnected
}

// Snapshot returns the records in registration order.
func (m *Manager) Snapshot() []Record {
	return m.state.Snapshot()
}

// Reset clears every record and returns the logical state to Disconnected.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Clear()
	m.status = StatusDisconnected
}
