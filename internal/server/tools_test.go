package server

import (
	"strings"
	"testing"

	"github.com/ironsheep/image-loader-mcp/internal/transform"
)

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()

	if len(tools) == 0 {
		t.Fatal("GetToolDefinitions returned empty slice")
	}

	expectedTools := []string{
		"image_load",
		"image_transformations",
		"image_stats",
		"image_cache_evict",
		"image_cache_clear",
	}

	toolMap := make(map[string]Tool)
	for _, tool := range tools {
		toolMap[tool.Name] = tool
	}

	for _, name := range expectedTools {
		if _, ok := toolMap[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
	if len(toolMap) != len(tools) {
		t.Error("tool names are not unique")
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	tools := GetToolDefinitions()

	for _, tool := range tools {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Name == "" {
				t.Error("Tool name is empty")
			}
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}
			if tool.InputSchema == nil {
				t.Fatal("Tool InputSchema is nil")
			}

			schemaType, ok := tool.InputSchema["type"]
			if !ok {
				t.Error("InputSchema missing 'type' field")
			}
			if schemaType != "object" {
				t.Errorf("InputSchema type: got %v, want 'object'", schemaType)
			}

			props, ok := tool.InputSchema["properties"]
			if !ok {
				t.Error("InputSchema missing 'properties' field")
			}
			if props == nil {
				t.Error("InputSchema properties is nil")
			}
		})
	}
}

func TestToolDefinitions_RequiredURI(t *testing.T) {
	toolsRequiringURI := []string{
		"image_load",
		"image_cache_evict",
	}

	toolMap := make(map[string]Tool)
	for _, tool := range GetToolDefinitions() {
		toolMap[tool.Name] = tool
	}

	for _, name := range toolsRequiringURI {
		t.Run(name, func(t *testing.T) {
			tool, ok := toolMap[name]
			if !ok {
				t.Fatalf("tool %s not found", name)
			}
			required, ok := tool.InputSchema["required"].([]string)
			if !ok {
				t.Fatal("'required' should be a string slice")
			}

			hasURI := false
			for _, r := range required {
				if r == "uri" {
					hasURI = true
					break
				}
			}
			if !hasURI {
				t.Error("Tool should require 'uri' parameter")
			}

			props := tool.InputSchema["properties"].(map[string]interface{})
			if _, ok := props["uri"]; !ok {
				t.Error("Tool should describe the 'uri' property")
			}
		})
	}
}

func TestToolDefinitions_ImageLoadProperties(t *testing.T) {
	var load Tool
	for _, tool := range GetToolDefinitions() {
		if tool.Name == "image_load" {
			load = tool
			break
		}
	}
	if load.Name == "" {
		t.Fatal("image_load tool not found")
	}

	props := load.InputSchema["properties"].(map[string]interface{})
	for _, name := range []string{
		"uri", "width", "height", "mode", "rotation", "pivot_x", "pivot_y",
		"transformations", "config", "palette", "include_image",
		"skip_memory_cache", "skip_disk_cache", "cache_only",
	} {
		if _, ok := props[name]; !ok {
			t.Errorf("image_load should describe %q", name)
		}
	}

	desc := props["transformations"].(map[string]interface{})["description"].(string)
	for _, name := range transform.Names() {
		if !strings.Contains(desc, name) {
			t.Errorf("transformations description does not list %s", name)
		}
	}

	modes := props["mode"].(map[string]interface{})["enum"].([]string)
	if len(modes) != 4 {
		t.Errorf("mode enum = %v", modes)
	}
}
