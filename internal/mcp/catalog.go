package mcp

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxFunctionNameLen = 64

// FunctionSchema is the OpenAI "function" tool shape used by wrapper-style
// models that don't speak MCP natively.
type FunctionSchema struct {
	Type     string           `json:"type"`
	Function FunctionSchemaFn `json:"function"`
}

// FunctionSchemaFn is the inner function description of a FunctionSchema.
type FunctionSchemaFn struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CatalogEntry records a converted function's origin so a dispatcher can
// route a tool_call back to the session that actually owns it.
type CatalogEntry struct {
	Schema     FunctionSchema
	ServerName string
	ToolName   string
}

// BuildCatalog converts every tool exposed by serverTools (server name ->
// tools) into function-call schemas. Name collisions across servers are
// resolved with the "<server>__<tool>" prefix; if that is still not unique
// (or exceeds the function-name length budget) a short content hash is
// appended.
func BuildCatalog(serverTools map[string][]*MCPTool) []CatalogEntry {
	serverNames := make([]string, 0, len(serverTools))
	for name := range serverTools {
		serverNames = append(serverNames, name)
	}
	sort.Strings(serverNames)

	used := make(map[string]struct{})
	var entries []CatalogEntry
	for _, serverName := range serverNames {
		tools := append([]*MCPTool(nil), serverTools[serverName]...)
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		for _, tool := range tools {
			name := functionName(serverName, tool.Name, used)
			schema := tool.InputSchema
			if len(schema) == 0 || !isValidParameterSchema(schema) {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			entries = append(entries, CatalogEntry{
				Schema: FunctionSchema{
					Type: "function",
					Function: FunctionSchemaFn{
						Name:        name,
						Description: tool.Description,
						Parameters:  schema,
					},
				},
				ServerName: serverName,
				ToolName:   tool.Name,
			})
		}
	}
	return entries
}

// functionName builds the "<server>__<tool>" name, falling back to a hash
// suffix when the natural name is too long or already taken.
func functionName(serverName, toolName string, used map[string]struct{}) string {
	base := sanitizeNamePart(serverName) + "__" + sanitizeNamePart(toolName)
	name := base
	if len(name) > maxFunctionNameLen {
		name = hashTruncate(base, serverName, toolName)
	}
	if _, taken := used[name]; taken {
		name = hashSuffix(name, serverName, toolName)
	}
	used[name] = struct{}{}
	return name
}

func sanitizeNamePart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

func nameHash(serverName, toolName string) string {
	sum := sha1.Sum([]byte(serverName + ":" + toolName))
	return hex.EncodeToString(sum[:])[:8]
}

func hashTruncate(base, serverName, toolName string) string {
	suffix := "_" + nameHash(serverName, toolName)
	if maxFunctionNameLen <= len(suffix) {
		return suffix[len(suffix)-maxFunctionNameLen:]
	}
	trim := maxFunctionNameLen - len(suffix)
	if trim > len(base) {
		trim = len(base)
	}
	return base[:trim] + suffix
}

func hashSuffix(base, serverName, toolName string) string {
	name := base + "_" + nameHash(serverName, toolName)
	if len(name) <= maxFunctionNameLen {
		return name
	}
	return hashTruncate(base, serverName, toolName)
}

// isValidParameterSchema rejects a tool's advertised input schema if it
// doesn't compile as JSON Schema, so BuildCatalog never hands a model a
// malformed "parameters" field (a permissive `{"type":"object"}` stands in
// for it instead).
func isValidParameterSchema(schema json.RawMessage) bool {
	_, err := jsonschema.CompileString("tool_parameters", string(schema))
	return err == nil
}

// FormatToolCallResult flattens an MCP tool result into a string suitable
// for feeding back into a model's conversation: concatenated text content
// if every content item is text, else the whole result JSON-marshaled.
func FormatToolCallResult(result *ToolCallResult) (string, bool) {
	if result == nil {
		return "", false
	}
	if len(result.Content) == 0 {
		return "", result.IsError
	}

	allText := true
	var combined strings.Builder
	for _, item := range result.Content {
		if item.Type != "text" {
			allText = false
			break
		}
		if item.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(item.Text)
	}

	if allText && combined.Len() > 0 {
		return combined.String(), result.IsError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", result.IsError
	}
	return string(payload), result.IsError
}
