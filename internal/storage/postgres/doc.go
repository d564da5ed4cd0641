// Package postgres implements the token store and order repository on
// PostgreSQL via lib/pq.
//
// Consumption is a single conditional UPDATE ... RETURNING, so concurrent
// redemptions across any number of processes are serialized by the row
// lock. Line uniqueness is a UNIQUE (order_id, product_id) constraint.
package postgres
