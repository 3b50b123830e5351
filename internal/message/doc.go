// Package message defines the messages exchanged between the external caller,
// the router and the inner venue connections.
//
// Messages form a closed set of kinds. Code that must handle every kind
// dispatches through Visitor rather than a type switch, so a new kind that
// is not handled fails to compile instead of falling through silently.
//
// Conventions:
//   - Transaction ids are int64 and minted by an IDGenerator.
//   - Prices and volumes are decimal.Decimal and are never validated here.
//   - An empty Instrument on a subscription means "all instruments".
package message
