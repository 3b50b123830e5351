// Package metrics records basket routing counters with OpenTelemetry.
//
// Instruments:
//   - basket.messages.routed: requests sent to an inner connection, by kind and conn
//   - basket.messages.pended: requests held until a connection comes up
//   - basket.messages.suppressed: inner messages swallowed by aggregation
//   - basket.messages.output: messages published to the caller, by kind
//   - basket.send.failures: sends to an inner connection that returned an error
//   - basket.connections.connected: gauge of connections in the connected state
//
// A nil *Recorder is valid and records nothing.
package metrics
