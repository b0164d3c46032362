// Package server implements the MCP (Model Context Protocol) server for the
// image loader.
//
// The server speaks JSON-RPC 2.0 over stdio, one message per line:
//   - Input: JSON-RPC requests on stdin
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Tools
//
//   - image_load: Load, resize, rotate and transform an image. The result is a
//     PNG image block plus a JSON summary (size, pixel format, provenance,
//     dominant colors).
//   - image_transformations: List the stock transformation names.
//   - image_stats: Cache and decode statistics.
//   - image_cache_evict: Drop every memory and secondary cache entry for a URI.
//   - image_cache_clear: Empty the memory cache.
//
// Identical concurrent requests share one decode, and results are cached in
// memory and in the configured secondary tier, so repeated image_load calls
// are cheap.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with code
// -32000 and the Go error string as data.
package server
