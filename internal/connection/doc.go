// Package connection implements the connection side of the basket.
//
// It provides:
//   - ID, Handle and Conn: the identity and surface of one inner venue connection
//   - Underlying: the identity normalizer that sees through decorators
//   - Set: the registry of connections and their capabilities
//   - State and Manager: per-connection records and the logical
//     connect/disconnect state machine built on top of them
//   - StaticRoutes: portfolio and instrument lookup tables
//   - Client: a websocket venue connection, and Guarded, a send limiter
package connection
