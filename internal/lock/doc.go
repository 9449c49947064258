// Package lock provides the per-vehicle locks that serialize reservation
// read-check-write sequences. Local serves a single process; Redis extends the
// guarantee across processes sharing one database.
package lock
