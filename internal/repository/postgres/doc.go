// Package postgres implements the service and worker repositories on
// PostgreSQL through database/sql and lib/pq. Schema lives in migrations/.
package postgres
