// Package container implements the named component tree.
//
// Every container owns a pipeline and zero or more uniquely named children,
// and participates in the lifecycle state machine. Starting a container
// starts its children in parallel on a bounded worker pool, then its
// pipeline; stopping reverses that order. A container with a positive
// background delay subscribes to the shared scheduler and ticks itself and
// its direct children.
//
// Concrete containers embed Base by value and call Setup once:
//
//	type Host struct {
//	    container.Base
//	}
//
//	h := &Host{}
//	h.Setup(h, "localhost", container.WithBackgroundDelay(10*time.Second))
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package container

// Version information for the container module.
const (
	// Version is the current version of the container module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)
