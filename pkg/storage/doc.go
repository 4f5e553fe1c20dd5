// Package storage provides the GORM-backed task record store, the
// reservation that enforces single-in-flight semantics, and stores for
// the platform records the worker side iterates (per-student state
// rows, users, enrollments).
package storage
