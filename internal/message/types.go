package message

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Kind identifies a message type on the wire and in logs.
type Kind string

const (
	KindConnect              Kind = "connect"
	KindDisconnect           Kind = "disconnect"
	KindReset                Kind = "reset"
	KindSubscription         Kind = "subscription"
	KindOrderRegister        Kind = "order_register"
	KindOrderCancel          Kind = "order_cancel"
	KindOrderReplace         Kind = "order_replace"
	KindOrderGroupCancel     Kind = "order_group_cancel"
	KindSubscriptionResponse Kind = "subscription_response"
	KindSubscriptionOnline   Kind = "subscription_online"
	KindSubscriptionFinished Kind = "subscription_finished"
	KindExecution            Kind = "execution"
	KindMarketData           Kind = "market_data"
	KindError                Kind = "error"
)

// DataType is the kind of data a subscription asks for.
type DataType string

const (
	DataMarketData      DataType = "market_data"
	DataSecurityLookup  DataType = "security_lookup"
	DataPortfolioLookup DataType = "portfolio_lookup"
	DataOrderStatus     DataType = "order_status"
	DataTransactionLog  DataType = "transaction_log"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case DataMarketData, DataSecurityLookup, DataPortfolioLookup, DataOrderStatus, DataTransactionLog:
		return true
	}
	return false
}

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Message is implemented by every message kind.
type Message interface {
	Kind() Kind
	Accept(v Visitor)
	Clone() Message
}

// Visitor has one method per message kind.
type Visitor interface {
	VisitConnect(m *Connect)
	VisitDisconnect(m *Disconnect)
	VisitReset(m *Reset)
	VisitSubscription(m *Subscription)
	VisitOrderRegister(m *OrderRegister)
	VisitOrderCancel(m *OrderCancel)
	VisitOrderReplace(m *OrderReplace)
	VisitOrderGroupCancel(m *OrderGroupCancel)
	VisitSubscriptionResponse(m *SubscriptionResponse)
	VisitSubscriptionOnline(m *SubscriptionOnline)
	VisitSubscriptionFinished(m *SubscriptionFinished)
	VisitExecution(m *Execution)
	VisitMarketData(m *MarketData)
	VisitError(m *Error)
}

// Connect is both the connect request and the connect result.
// A non-nil Error on a result means the connection attempt failed.
type Connect struct {
	Error error `json:"-"`
}

// Disconnect is both the disconnect request and the disconnect result.
type Disconnect struct {
	Error error `json:"-"`
}

// Reset clears all routing state.
type Reset struct{}

// Subscription subscribes to or unsubscribes from a data stream.
// For an unsubscribe, OriginalTransactionID references the subscription.
type Subscription struct {
	TransactionID         int64    `json:"transaction_id"`
	OriginalTransactionID int64    `json:"original_transaction_id,omitempty"`
	DataType              DataType `json:"data_type"`
	Instrument            string   `json:"instrument,omitempty"` // empty = all instruments
	Portfolio             string   `json:"portfolio,omitempty"`
	IsSubscribe           bool     `json:"is_subscribe"`
}

// OrderRegister places a new order.
type OrderRegister struct {
	TransactionID int64           `json:"transaction_id"`
	Portfolio     string          `json:"portfolio"`
	Instrument    string          `json:"instrument"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Volume        decimal.Decimal `json:"volume"`
}

// OrderCancel cancels the order registered under OriginalTransactionID.
type OrderCancel struct {
	TransactionID         int64  `json:"transaction_id"`
	OriginalTransactionID int64  `json:"original_transaction_id"`
	Portfolio             string `json:"portfolio,omitempty"`
	Instrument            string `json:"instrument,omitempty"`
}

// OrderReplace replaces the order registered under OriginalTransactionID
// with a new order identified by TransactionID.
type OrderReplace struct {
	TransactionID         int64           `json:"transaction_id"`
	OriginalTransactionID int64           `json:"original_transaction_id"`
	Portfolio             string          `json:"portfolio,omitempty"`
	Instrument            string          `json:"instrument,omitempty"`
	Price                 decimal.Decimal `json:"price"`
	Volume                decimal.Decimal `json:"volume"`
}

// OrderGroupCancel cancels every order, optionally narrowed to a portfolio.
type OrderGroupCancel struct {
	TransactionID int64  `json:"transaction_id"`
	Portfolio     string `json:"portfolio,omitempty"`
	Instrument    string `json:"instrument,omitempty"`
}

// SubscriptionResponse acknowledges a subscription request.
type SubscriptionResponse struct {
	OriginalTransactionID int64 `json:"original_transaction_id"`
	NotSupported          bool  `json:"not_supported,omitempty"`
	Error                 error `json:"-"`
}

// SubscriptionOnline reports that a subscription switched to live data.
type SubscriptionOnline struct {
	OriginalTransactionID int64 `json:"original_transaction_id"`
}

// SubscriptionFinished reports the end of a subscription's lifecycle.
type SubscriptionFinished struct {
	OriginalTransactionID int64 `json:"original_transaction_id"`
}

// Execution is an order or trade report.
type Execution struct {
	OriginalTransactionID int64           `json:"original_transaction_id"`
	SubscriptionIDs       []int64         `json:"subscription_ids,omitempty"`
	OrderID               string          `json:"order_id,omitempty"`
	Portfolio             string          `json:"portfolio,omitempty"`
	Instrument            string          `json:"instrument,omitempty"`
	Side                  Side            `json:"side,omitempty"`
	OrderState            string          `json:"order_state,omitempty"`
	Price                 decimal.Decimal `json:"price"`
	Volume                decimal.Decimal `json:"volume"`
	Balance               decimal.Decimal `json:"balance"`
	Error                 error           `json:"-"`
}

// MarketData carries an opaque market-data payload for one or more subscriptions.
type MarketData struct {
	SubscriptionIDs []int64         `json:"subscription_ids"`
	DataType        DataType        `json:"data_type"`
	Instrument      string          `json:"instrument,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Error is a free-standing error output.
type Error struct {
	Error error `json:"-"`
}

func (*Connect) Kind() Kind              { return KindConnect }
func (*Disconnect) Kind() Kind           { return KindDisconnect }
func (*Reset) Kind() Kind                { return KindReset }
func (*Subscription) Kind() Kind         { return KindSubscription }
func (*OrderRegister) Kind() Kind        { return KindOrderRegister }
func (*OrderCancel) Kind() Kind          { return KindOrderCancel }
func (*OrderReplace) Kind() Kind         { return KindOrderReplace }
func (*OrderGroupCancel) Kind() Kind     { return KindOrderGroupCancel }
func (*SubscriptionResponse) Kind() Kind { return KindSubscriptionResponse }
func (*SubscriptionOnline) Kind() Kind   { return KindSubscriptionOnline }
func (*SubscriptionFinished) Kind() Kind { return KindSubscriptionFinished }
func (*Execution) Kind() Kind            { return KindExecution }
func (*MarketData) Kind() Kind           { return KindMarketData }
func (*Error) Kind() Kind                { return KindError }

func (m *Connect) Accept(v Visitor)              { v.VisitConnect(m) }
func (m *Disconnect) Accept(v Visitor)           { v.VisitDisconnect(m) }
func (m *Reset) Accept(v Visitor)                { v.VisitReset(m) }
func (m *Subscription) Accept(v Visitor)         { v.VisitSubscription(m) }
func (m *OrderRegister) Accept(v Visitor)        { v.VisitOrderRegister(m) }
func (m *OrderCancel) Accept(v Visitor)          { v.VisitOrderCancel(m) }
func (m *OrderReplace) Accept(v Visitor)         { v.VisitOrderReplace(m) }
func (m *OrderGroupCancel) Accept(v Visitor)     { v.VisitOrderGroupCancel(m) }
func (m *SubscriptionResponse) Accept(v Visitor) { v.VisitSubscriptionResponse(m) }
func (m *SubscriptionOnline) Accept(v Visitor)   { v.VisitSubscriptionOnline(m) }
func (m *SubscriptionFinished) Accept(v Visitor) { v.VisitSubscriptionFinished(m) }
func (m *Execution) Accept(v Visitor)            { v.VisitExecution(m) }
func (m *MarketData) Accept(v Visitor)           { v.VisitMarketData(m) }
func (m *Error) Accept(v Visitor)                { v.VisitError(m) }

func (m *Connect) Clone() Message              { c := *m; return &c }
func (m *Disconnect) Clone() Message           { c := *m; return &c }
func (m *Reset) Clone() Message                { c := *m; return &c }
func (m *Subscription) Clone() Message         { c := *m; return &c }
func (m *OrderRegister) Clone() Message        { c := *m; return &c }
func (m *OrderCancel) Clone() Message          { c := *m; return &c }
func (m *OrderReplace) Clone() Message         { c := *m; return &c }
func (m *OrderGroupCancel) Clone() Message     { c := *m; return &c }
func (m *SubscriptionResponse) Clone() Message { c := *m; return &c }
func (m *SubscriptionOnline) Clone() Message   { c := *m; return &c }
func (m *SubscriptionFinished) Clone() Message { c := *m; return &c }
func (m *Error) Clone() Message                { c := *m; return &c }

func (m *Execution) Clone() Message {
	c := *m
	c.SubscriptionIDs = append([]int64(nil), m.SubscriptionIDs...)
	return &c
}

func (m *MarketData) Clone() Message {
	c := *m
	c.SubscriptionIDs = append([]int64(nil), m.SubscriptionIDs...)
	c.Payload = append(json.RawMessage(nil), m.Payload...)
	return &c
}
