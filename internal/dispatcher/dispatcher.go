// Package dispatcher declares the boundary the cache core consumes to
// reach the upstream dispatcher. Wire format, certificate rotation, and
// heartbeat scheduling live outside this module; only the shape the core
// depends on is specified here.
package dispatcher

import (
	"context"

	"github.com/hathnode/node/pkg/artifact"
)

// Dispatcher is everything StreamingFetch and the node's lifecycle need
// from the upstream control plane.
type Dispatcher interface {
	// FetchURLs returns candidate upstream URLs for a, in the order they
	// should be tried, given the requesting client's fileIndex and xres
	// hints.
	FetchURLs(ctx context.Context, a artifact.Artifact, fileIndex, xres string) ([]string, error)

	// Login performs the initial handshake that establishes this node's
	// session with the dispatcher.
	Login(ctx context.Context) error

	// UpdateSettings pulls the latest settings snapshot and applies it.
	UpdateSettings(ctx context.Context) error

	// StillAlive sends the periodic liveness heartbeat.
	StillAlive(ctx context.Context) error
}
