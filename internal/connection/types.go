package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/basket-router/internal/message"
)

// Errors
var (
	ErrNotConnected                = errors.New("not connected")
	ErrStaleConnection             = errors.New("connection stale (no ping)")
	ErrAlreadyClosed               = errors.New("already closed")
	ErrNoConnections               = errors.New("no connections registered")
	ErrDisconnectedWhileConnecting = errors.New("disconnected while connecting")
)

// ID is the stable key of a connection, independent of any decoration.
type ID string

// Handle is anything that identifies a connection.
type Handle interface {
	ID() ID
}

// Conn is one inner venue connection.
//
// Send delivers a request. Lifecycle requests (Connect, Disconnect) are
// answered asynchronously with a result message on Events.
type Conn interface {
	Handle
	Send(ctx context.Context, m message.Message) error
	Events() <-chan message.Message
}

// Status is the lifecycle status of a connection or of the basket as a whole.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Mode selects when the logical "connected" event is emitted.
type Mode int

const (
	// ModeFirstSuccess emits on the first successful connection.
	ModeFirstSuccess Mode = iota
	// ModeWaitAll emits once every connection has reported.
	ModeWaitAll
)

func (m Mode) String() string {
	if m == ModeWaitAll {
		return "wait_all"
	}
	return "first_success"
}

// ParseMode parses "first_success" or "wait_all".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first_success":
		return ModeFirstSuccess, nil
	case "wait_all":
		return ModeWaitAll, nil
	}
	return ModeFirstSuccess, fmt.Errorf("unknown connect mode %q", s)
}

// Capabilities describes what requests a connection can serve.
type Capabilities struct {
	DataTypes []message.DataType
	Orders    bool
}

// Supports reports whether subscriptions of the given data type can be routed here.
func (c Capabilities) Supports(dt message.DataType) bool {
	for _, t := range c.DataTypes {
		if t == dt {
			return true
		}
	}
	return false
}

// ClientConfig configures a websocket venue client.
type ClientConfig struct {
	ID               ID            // Connection name, used as its stable key
	URL              string        // Venue websocket URL
	APIKey           string        // Bearer token (empty = no auth)
	HandshakeTimeout time.Duration // Dial timeout
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	PingInterval     time.Duration // How often we ping the venue
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Events channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}
