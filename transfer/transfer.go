// Package transfer implements both halves of a LocalSend CLI file
// transfer: the sender's HTTPS server exposing the LocalSend v2 download
// endpoints, and the receiver's pinned HTTPS client that authenticates
// with the code phrase and streams the offered files to disk. The Send
// and Receive orchestrators tie these to the catalog, identity and
// discovery packages.
package transfer

import (
	"errors"
	"time"
)

var (
	ErrClosed        = errors.New("transfer: closed")
	ErrTimeout       = errors.New("transfer: timed out waiting for a peer")
	ErrDeclined      = errors.New("transfer: declined by user")
	ErrUnsafeName    = errors.New("transfer: unsafe file name")
	ErrPathTraversal = errors.New("transfer: path escapes destination directory")
	ErrFileTooLarge  = errors.New("transfer: file exceeds size limit")
	ErrNoFreePort    = errors.New("transfer: no free port in range")
)

const (
	// defaultTimeout bounds discovery plus connect for both orchestrators.
	defaultTimeout = 300 * time.Second

	// completionDelay is the grace period between the last delivered file
	// and the completion barrier, letting network buffers drain before the
	// server stops.
	completionDelay = 500 * time.Millisecond

	// maxFileSize is the per-file cap, enforced both against the declared
	// size and against the actual byte count while streaming.
	maxFileSize = 10 << 30
)
