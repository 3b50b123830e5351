package router

import (
	"errors"

	"github.com/rickgao/basket-router/internal/connection"
	"github.com/rickgao/basket-router/internal/message"
)

// Errors
var (
	ErrNotSupported        = errors.New("no connected venue supports the request")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrUnknownTransaction  = errors.New("unknown transaction")
	ErrConnectFailed       = errors.New("basket failed to connect")
)

// PortfolioLookup maps a portfolio name to the connection that owns it.
type PortfolioLookup interface {
	ConnectionForPortfolio(portfolio string) (connection.Handle, bool)
}

// InstrumentLookup maps an instrument (and optionally a data type) to a connection.
type InstrumentLookup interface {
	ConnectionForInstrument(instrument string, dataType message.DataType) (connection.Handle, bool)
}

// RouterConfig holds configuration for the Router.
type RouterConfig struct {
	Mode connection.Mode

	// Initial capacity of the pending store. Default: 64
	PendingCapacity int
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Mode:            connection.ModeFirstSuccess,
		PendingCapacity: 64,
	}
}

// Decision is one message to send to one inner connection.
type Decision struct {
	ConnID  connection.ID
	Conn    connection.Conn
	Message message.Message
}

// InResult is the outcome of routing a caller's request.
type InResult struct {
	// Messages to send to inner connections.
	Decisions []Decision
	// Messages to deliver straight back to the caller.
	DirectOutputs []message.Message
	// Requests taken out of the pending store that must be routed again.
	Replay []message.Message
	// Handled is false for kinds the router does not accept from the caller.
	Handled bool
	// Pended is set when the request was stored until a connection comes up.
	Pended bool
}

// OutResult is the outcome of routing a message from an inner connection.
type OutResult struct {
	// Transformed is the message to deliver to the caller, nil to suppress it.
	Transformed message.Message
	// Additional messages to deliver to the caller after Transformed.
	Extra []message.Message
	// Requests taken out of the pending store that must be routed again.
	Replay []message.Message
}

// RouterStats contains routing table sizes.
type RouterStats struct {
	Pending       BufferStats
	Parents       int
	Retired       int
	Subscriptions int
	Orders        int
}
