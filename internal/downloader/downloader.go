// Package downloader is the boundary to the external multi-connection file
// downloader. The correlator talks to it only through Client; everything
// behind the interface may block or fail on I/O and carries its own timeout.
package downloader

import "context"

// Status is a point-in-time report for one transfer handle.
type Status struct {
	Handle          string
	State           string // active, waiting, paused, error, complete, removed
	TotalLength     int64
	CompletedLength int64
	ErrorMessage    string
}

// Client controls individual transfers by opaque handle.
type Client interface {
	// AddURI starts a transfer and returns the handle identifying it.
	AddURI(ctx context.Context, uri, dir, filename string) (string, error)
	Pause(ctx context.Context, handle string) error
	Unpause(ctx context.Context, handle string) error
	// Remove stops the transfer and forgets the handle. Idempotent on the
	// downloader side for already-stopped transfers.
	Remove(ctx context.Context, handle string) error
	TellStatus(ctx context.Context, handle string) (Status, error)
}
