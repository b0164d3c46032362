package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ironsheep/image-loader-mcp/internal/inspect"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/stats"
	"github.com/ironsheep/image-loader-mcp/internal/transform"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_load", "image_stats").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// imageResult is a tool result that carries pixels alongside its JSON.
type imageResult struct {
	Summary inspect.Summary
	PNG     []byte
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// image_load adds an {"type": "image"} block with the PNG data.
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Warn("tool failed", "tool", params.Name, "err", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	var content []map[string]interface{}
	if img, ok := result.(*imageResult); ok {
		content = append(content, map[string]interface{}{
			"type": "text",
			"text": mustMarshalJSON(img.Summary),
		})
		if img.PNG != nil {
			content = append(content, map[string]interface{}{
				"type":     "image",
				"data":     base64.StdEncoding.EncodeToString(img.PNG),
				"mimeType": "image/png",
			})
		}
	} else {
		content = append(content, map[string]interface{}{
			"type": "text",
			"text": mustMarshalJSON(result),
		})
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{"content": content},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "image_load":
		return s.handleImageLoad(ctx, args)
	case "image_transformations":
		return map[string]interface{}{"transformations": transform.Names()}, nil
	case "image_stats":
		return s.handleImageStats()
	case "image_cache_evict":
		return s.handleImageCacheEvict(ctx, args)
	case "image_cache_clear":
		s.loader.Clear()
		return map[string]interface{}{"cleared": true}, nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

type imageLoadArgs struct {
	request.Options
	Palette      *int  `json:"palette"`
	IncludeImage *bool `json:"include_image"`
}

func (s *Server) handleImageLoad(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.URI == "" {
		return nil, fmt.Errorf("uri is required")
	}
	palette := inspect.DefaultPaletteSize
	if a.Palette != nil {
		palette = *a.Palette
	}

	bmp, from, err := s.loader.Load(ctx, a.Options)
	if err != nil {
		return nil, err
	}

	res := &imageResult{Summary: inspect.Describe(bmp, from, palette)}
	if a.IncludeImage == nil || *a.IncludeImage {
		var buf bytes.Buffer
		if err := bmp.EncodePNG(&buf); err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		res.PNG = buf.Bytes()
	}
	return res, nil
}

type imageStatsResult struct {
	stats.Snapshot
	Report string `json:"report"`
}

func (s *Server) handleImageStats() (interface{}, error) {
	snap := s.loader.Snapshot()
	return imageStatsResult{Snapshot: snap, Report: snap.String()}, nil
}

type imageCacheEvictArgs struct {
	URI string `json:"uri"`
}

func (s *Server) handleImageCacheEvict(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a imageCacheEvictArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.URI == "" {
		return nil, fmt.Errorf("uri is required")
	}
	n, err := s.loader.Evict(ctx, a.URI)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"uri": a.URI, "evicted": n}, nil
}
