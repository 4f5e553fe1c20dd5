// Package core provides the domain models and interfaces for the
// coursetasks module: the durable task record, its lifecycle states,
// progress payloads, and the narrow contracts to the async engine,
// the course content system, the grading facade, and the artifact
// store.
//
// Nothing in this package performs I/O. Implementations live in the
// sibling packages (storage, engine, artifact) or are supplied by the
// embedding platform.
package core
