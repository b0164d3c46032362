package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// DataHandler serves inline data: URIs.
type DataHandler struct {
	local
	Decoder *Decoder
}

// CanHandle implements Handler.
func (h *DataHandler) CanHandle(req *request.Request) bool {
	return KindOf(req.URI()) == KindData
}

// Load implements Handler.
func (h *DataHandler) Load(ctx context.Context, req *request.Request) (Result, error) {
	data, err := ParseDataURI(req.URI())
	if err != nil {
		return Result{}, failure.New(failure.PermanentTransport, "data", err)
	}

	dec, err := h.Decoder.Decode(data, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Bitmap: dec.Bitmap, LoadedFrom: cache.Disk, ExifRotation: dec.ExifRotation}, nil
}

// ParseDataURI returns the payload of "data:[<mediatype>][;base64],<data>".
func ParseDataURI(uri string) ([]byte, error) {
	if len(uri) < 5 || !strings.EqualFold(uri[:5], "data:") {
		return nil, errors.New("not a data uri")
	}
	meta, payload, ok := strings.Cut(uri[5:], ",")
	if !ok {
		return nil, errors.New("data uri has no payload separator")
	}

	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return data, nil
	}

	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid escaped payload: %w", err)
	}
	return []byte(data), nil
}
