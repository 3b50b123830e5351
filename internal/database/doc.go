// Package database provides PostgreSQL connection pool management.
//
// The basket keeps one optional database: the order journal, which stores
// which venue connection owns each order so cancels survive a restart.
package database
