// Package journal stores order-to-connection bindings in PostgreSQL.
//
// Bindings are batched and upserted with pgx. On start the basket loads
// them back into the router's order table; a reset truncates them.
package journal
