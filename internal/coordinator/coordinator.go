// Package coordinator defines the thin RPC boundary between a
// StoreRegistry and the external process that decides which instance is
// the active writer for a given partition. The coordinator implementation
// itself is out of scope for this repository — only the two messages
// exchanged are defined here, plus a couple of reference implementations
// used for tests and single-process deployments.
package coordinator

import (
	"context"

	"github.com/streamkv/statestore/internal/layout"
)

// HostIdentity names the process hosting a StoreRegistry, for inclusion in
// ReportActiveInstance calls. Abstracted behind an interface so core code
// never depends on a concrete deployment's notion of "this machine" (e.g.
// a block-manager address, a Kubernetes pod name, ...).
type HostIdentity interface {
	Host() string
	ExecutorID() string
}

// StaticIdentity is the simplest HostIdentity: two fixed strings, for CLI
// tools and tests.
type StaticIdentity struct {
	HostValue       string
	ExecutorIDValue string
}

func (s StaticIdentity) Host() string       { return s.HostValue }
func (s StaticIdentity) ExecutorID() string { return s.ExecutorIDValue }

// Client is the boundary a StoreRegistry uses to participate in active
// writer coordination. Implementations must make VerifyIfInstanceActive
// return false (never an error) when the coordinator cannot be reached —
// callers use the boolean to fence stale speculative writers, and a hard
// error there would force every caller to special-case "unreachable" as
// "not active" anyway.
type Client interface {
	ReportActiveInstance(ctx context.Context, id layout.StoreId, identity HostIdentity) error
	VerifyIfInstanceActive(ctx context.Context, id layout.StoreId, executorID string) bool
}

// Noop always succeeds and always reports the instance active. It is the
// right choice for a single-process deployment where there is no
// possibility of a displaced speculative writer.
type Noop struct{}

func (Noop) ReportActiveInstance(context.Context, layout.StoreId, HostIdentity) error { return nil }
func (Noop) VerifyIfInstanceActive(context.Context, layout.StoreId, string) bool       { return true }
