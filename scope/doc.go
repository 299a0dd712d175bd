// Package scope provides a counting join barrier for structured concurrency.
// A Scope tracks outstanding operations and releases its joiners exactly when
// the last one completes; nothing spawned under it outlives the join.
package scope
