// Package source fetches and decodes the bytes behind a request URI.
//
// Each URI scheme is served by a Handler, and a Table maps scheme kinds to
// handlers. The table is consulted once when a hunter is created; the hunter
// keeps the handler for its lifetime, including the retry budget the handler
// grants.
package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// Kind groups URI schemes served by the same handler.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindNetwork
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindNetwork:
		return "network"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// KindOf classifies uri by scheme. Bare absolute paths are files.
func KindOf(uri string) Kind {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "file://"):
		return KindFile
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return KindNetwork
	case strings.HasPrefix(lower, "data:"):
		return KindData
	case filepath.IsAbs(uri):
		return KindFile
	default:
		return KindUnknown
	}
}

// NetworkState is the connectivity snapshot passed to ShouldRetry. A nil
// state means connectivity is unknown.
type NetworkState struct {
	Connected bool
}

// Result is what a handler produced.
type Result struct {
	Bitmap       *bitmap.Bitmap
	LoadedFrom   cache.LoadedFrom
	ExifRotation int
}

// Handler loads one family of URIs.
type Handler interface {
	// CanHandle reports whether the handler serves req.
	CanHandle(req *request.Request) bool
	// Load fetches and decodes req. A nil bitmap with a nil error means the
	// source had nothing to offer.
	Load(ctx context.Context, req *request.Request) (Result, error)
	// RetryCount is the retry budget granted to each hunter.
	RetryCount() int
	// ShouldRetry decides whether a failed load is worth another attempt
	// given the current connectivity. It is only consulted while budget
	// remains.
	ShouldRetry(offline bool, state *NetworkState) bool
	// SupportsReplay reports whether failed loads may be parked and replayed
	// when connectivity returns.
	SupportsReplay() bool
}

// ErrUnrecognized is returned for URIs no handler serves.
var ErrUnrecognized = errors.New("unrecognized type of request")

// Table maps kinds to handlers.
type Table map[Kind]Handler

// HandlerFor returns the handler for req.
func (t Table) HandlerFor(req *request.Request) (Handler, error) {
	kind := KindOf(req.URI())
	h, ok := t[kind]
	if !ok || !h.CanHandle(req) {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognized, req.URI())
	}
	return h, nil
}

// NewTable wires the shipped handlers around one decoder.
func NewTable(dec *Decoder, net *NetworkHandler) Table {
	return Table{
		KindFile:    &FileHandler{Decoder: dec},
		KindData:    &DataHandler{Decoder: dec},
		KindNetwork: net,
	}
}

// local is embedded by handlers that never retry.
type local struct{}

func (local) RetryCount() int                      { return 0 }
func (local) ShouldRetry(bool, *NetworkState) bool { return false }
func (local) SupportsReplay() bool                 { return false }
