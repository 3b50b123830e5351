// Package router implements the routing core of the basket.
//
// The Router:
//   - Sends each caller request to the inner connections that can serve it
//   - Mints one child id per connection and maps replies back to the caller's id
//   - Collapses N per-connection acknowledgements into one
//   - Holds requests that arrive before any connection is up and replays them
//   - Remembers which connection owns every order
package router
