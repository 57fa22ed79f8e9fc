package mcp

import (
	"encoding/json"
	"testing"
)

func TestBuildCatalogPrefixesByServer(t *testing.T) {
	entries := BuildCatalog(map[string][]*MCPTool{
		"filesystem": {
			{Name: "read_file", Description: "read a file", InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)},
		},
		"web": {
			{Name: "fetch", Description: "fetch a URL"},
		},
	})

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	byName := make(map[string]CatalogEntry, len(entries))
	for _, e := range entries {
		byName[e.Schema.Function.Name] = e
	}

	fs, ok := byName["filesystem__read_file"]
	if !ok {
		t.Fatalf("expected filesystem__read_file entry, got names %v", keysOf(byName))
	}
	if fs.ServerName != "filesystem" || fs.ToolName != "read_file" {
		t.Errorf("unexpected origin %+v", fs)
	}
	if fs.Schema.Type != "function" {
		t.Errorf("expected type=function, got %q", fs.Schema.Type)
	}
}

func TestBuildCatalogInvalidSchemaFallsBackToPermissive(t *testing.T) {
	entries := BuildCatalog(map[string][]*MCPTool{
		"broken": {
			{Name: "bad_tool", InputSchema: json.RawMessage(`{"type":"object","properties":`)},
		},
	})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if string(entries[0].Schema.Function.Parameters) != `{"type":"object"}` {
		t.Errorf("expected permissive fallback schema, got %s", entries[0].Schema.Function.Parameters)
	}
}

func TestBuildCatalogCollidingNamesGetHashSuffix(t *testing.T) {
	entries := BuildCatalog(map[string][]*MCPTool{
		"srv": {
			{Name: "tool/one"},
			{Name: "tool.one"},
		},
	})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Schema.Function.Name == entries[1].Schema.Function.Name {
		t.Fatalf("expected distinct names after collision resolution, both were %q", entries[0].Schema.Function.Name)
	}
}

func TestFormatToolCallResultConcatenatesText(t *testing.T) {
	text, isErr := FormatToolCallResult(&ToolCallResult{
		Content: []ToolResultContent{{Type: "text", Text: "hello"}},
	})
	if isErr {
		t.Errorf("expected isErr=false")
	}
	if text != "hello" {
		t.Errorf("expected %q, got %q", "hello", text)
	}
}

func TestFormatToolCallResultEmptyIsNotError(t *testing.T) {
	text, isErr := FormatToolCallResult(&ToolCallResult{})
	if isErr {
		t.Errorf("expected isErr=false for zero-content result")
	}
	if text != "" {
		t.Errorf("expected empty string, got %q", text)
	}
}

func TestFormatToolCallResultNonTextMarshalsJSON(t *testing.T) {
	text, isErr := FormatToolCallResult(&ToolCallResult{
		Content: []ToolResultContent{{Type: "image", Data: "base64data", MimeType: "image/png"}},
		IsError: true,
	})
	if !isErr {
		t.Errorf("expected isErr=true")
	}
	if text == "" {
		t.Errorf("expected marshaled JSON payload, got empty string")
	}
}

func keysOf(m map[string]CatalogEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
