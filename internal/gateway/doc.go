// Package gateway drives the basket: it sends what the router decides,
// reads every inner connection, and publishes one output stream.
//
// Data flow:
//
//	caller --Send--> router.ProcessInbound --decisions--> Conn.Send
//	Conn.Events --readLoop--> router.ProcessOutbound --> Messages()
//
// Requests released from the pending store are routed again as they come
// out. A failed send is answered the way the connection would have
// answered, so aggregation and lifecycle tracking still settle.
package gateway
