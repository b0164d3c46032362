package server

import (
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/transform"
)

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func cachePolicyProperties(props map[string]interface{}) map[string]interface{} {
	props["skip_memory_cache"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Do not read or write the memory cache",
	}
	props["skip_disk_cache"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Do not read the secondary (disk or redis) cache",
	}
	props["cache_only"] = map[string]interface{}{
		"type":        "boolean",
		"description": "Fail instead of loading when no cache tier holds the image",
	}
	return props
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name: "image_load",
			Description: "Load an image from a file path, file:// URI, http(s) URL or data: URI, optionally resizing, " +
				"rotating and applying stock transformations. Returns the result as a PNG plus a JSON summary " +
				"with dimensions, pixel format, where it was loaded from (MEMORY, DISK or NETWORK) and its dominant colors.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": cachePolicyProperties(map[string]interface{}{
					"uri": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path, file:// URI, http(s) URL or data: URI",
					},
					"width": map[string]interface{}{
						"type":        "integer",
						"description": "Target width in pixels. 0 keeps the aspect ratio from height",
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"description": "Target height in pixels. 0 keeps the aspect ratio from width",
					},
					"mode": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"fit", "center_crop", "center_inside", "face_center_crop"},
						"description": "How to fit the image into width x height. Default fit (stretch to the target)",
					},
					"rotation": map[string]interface{}{
						"type":        "number",
						"description": "Clockwise rotation in degrees",
					},
					"pivot_x": map[string]interface{}{
						"type":        "number",
						"description": "Rotation pivot X. Requires pivot_y",
					},
					"pivot_y": map[string]interface{}{
						"type":        "number",
						"description": "Rotation pivot Y. Requires pivot_x",
					},
					"transformations": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Stock transformations applied in order: " + strings.Join(transform.Names(), ", ") + ". Arguments follow a colon, e.g. blur:2 or tint:#ff8800:0.3",
					},
					"config": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"default", "rgba", "nrgba", "gray"},
						"description": "Pixel format of the result",
					},
					"palette": map[string]interface{}{
						"type":        "integer",
						"description": "Number of dominant colors to report. Default 5, 0 to skip",
					},
					"include_image": map[string]interface{}{
						"type":        "boolean",
						"description": "Return the PNG image block. Default true",
						"default":     true,
					},
				}),
				"required": []string{"uri"},
			},
		},
		{
			Name:        "image_transformations",
			Description: "List the stock transformation names accepted by image_load.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "image_stats",
			Description: "Report cache hits and misses, decode and transform counts and byte totals.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "image_cache_evict",
			Description: "Drop every memory and secondary cache entry for a URI, whatever size or transformations it was loaded with.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"uri": map[string]interface{}{
						"type":        "string",
						"description": "The URI passed to image_load",
					},
				},
				"required": []string{"uri"},
			},
		},
		{
			Name:        "image_cache_clear",
			Description: "Empty the memory cache.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
