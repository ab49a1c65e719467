package mcp

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/haasonsaas/tgassist/internal/agent"
	"github.com/haasonsaas/tgassist/pkg/models"
)

const maxToolNameLen = 64

// ToolCaller defines the MCP tool execution contract used by the bridge.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, arguments json.RawMessage) (*ToolCallResult, error)
}

// ToolBridge wraps an MCP tool and exposes it as an agent tool.
type ToolBridge struct {
	caller   ToolCaller
	serverID string
	tool     *MCPTool
	name     string
	timeout  time.Duration
}

// NewToolBridge creates a bridge tool with a precomputed safe name.
func NewToolBridge(caller ToolCaller, serverID string, tool *MCPTool, safeName string) *ToolBridge {
	return &ToolBridge{
		caller:   caller,
		serverID: serverID,
		tool:     tool,
		name:     safeName,
	}
}

// Name returns the safe tool name registered with the LLM provider.
func (b *ToolBridge) Name() string {
	return b.name
}

// Canonical returns the "server.tool" name.
func (b *ToolBridge) Canonical() string {
	return canonicalToolName(b.serverID, b.tool.Name)
}

// Description returns the server's description of the tool.
func (b *ToolBridge) Description() string {
	desc := strings.TrimSpace(b.tool.Description)
	if desc == "" {
		return fmt.Sprintf("Tool %s", b.Canonical())
	}
	return desc
}

// Timeout is the owning server's request timeout, or zero when unknown.
func (b *ToolBridge) Timeout() time.Duration {
	return b.timeout
}

// Schema returns the MCP tool input schema. A missing, null or non-object
// schema is replaced by an empty object schema.
func (b *ToolBridge) Schema() json.RawMessage {
	raw := bytes.TrimSpace(b.tool.InputSchema)
	if len(raw) == 0 || raw[0] != '{' {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

// Descriptor describes the tool for listings.
func (b *ToolBridge) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        b.name,
		Description: b.Description(),
		InputSchema: b.Schema(),
		Server:      b.serverID,
	}
}

// Execute invokes the MCP tool. Transport failures and timeouts never
// surface as errors; they become error observations for the model.
func (b *ToolBridge) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	result, err := b.caller.CallTool(ctx, b.serverID, b.tool.Name, params)
	if err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("tool %s unavailable: %v", b.Canonical(), err),
			IsError: true,
		}, nil
	}

	content, isError := formatToolCallResult(result)
	return &agent.ToolResult{
		Content: content,
		IsError: isError,
	}, nil
}

// RegisterTools registers every tool of every connected server with the
// registry. Names are namespaced per server so equal tool names on two
// servers never shadow each other. Tools that fail registration are
// reported in the returned error; the others stay registered.
func RegisterTools(registry *agent.ToolRegistry, mgr *Manager) ([]*ToolBridge, error) {
	if registry == nil || mgr == nil {
		return nil, nil
	}

	entries := listToolsSorted(mgr)
	used := make(map[string]struct{})
	bridges := make([]*ToolBridge, 0, len(entries))
	var errs []error
	for _, entry := range entries {
		name := safeToolName(entry.serverID, entry.tool.Name, used)
		bridge := NewToolBridge(mgr, entry.serverID, entry.tool, name)
		if cfg := mgr.serverConfig(entry.serverID); cfg != nil {
			bridge.timeout = cfg.RequestTimeout()
		}
		if err := registry.Register(bridge); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", bridge.Canonical(), err))
			continue
		}
		bridges = append(bridges, bridge)
	}
	return bridges, errors.Join(errs...)
}

type toolEntry struct {
	serverID string
	tool     *MCPTool
}

func listToolsSorted(mgr *Manager) []toolEntry {
	all := mgr.AllTools()
	if len(all) == 0 {
		return nil
	}

	serverIDs := make([]string, 0, len(all))
	for id := range all {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)

	var entries []toolEntry
	for _, serverID := range serverIDs {
		tools := append([]*MCPTool(nil), all[serverID]...)
		sort.Slice(tools, func(i, j int) bool {
			return tools[i].Name < tools[j].Name
		})
		for _, tool := range tools {
			entries = append(entries, toolEntry{serverID: serverID, tool: tool})
		}
	}
	return entries
}

func safeToolName(serverID, toolName string, used map[string]struct{}) string {
	base := "mcp_" + sanitizeToolPart(serverID) + "_" + sanitizeToolPart(toolName)
	name := base
	if len(name) > maxToolNameLen {
		name = truncateWithHash(base, serverID, toolName)
	}

	if _, exists := used[name]; exists {
		name = dedupeWithHash(name, serverID, toolName)
	}

	used[name] = struct{}{}
	return name
}

func sanitizeToolPart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
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

func toolNameHash(serverID, toolName string) string {
	sum := sha1.Sum([]byte(serverID + ":" + toolName))
	return hex.EncodeToString(sum[:])[:8]
}

func truncateWithHash(base, serverID, toolName string) string {
	suffix := "_" + toolNameHash(serverID, toolName)
	trimLen := maxToolNameLen - len(suffix)
	if trimLen > len(base) {
		trimLen = len(base)
	}
	return base[:trimLen] + suffix
}

func dedupeWithHash(base, serverID, toolName string) string {
	name := base + "_" + toolNameHash(serverID, toolName)
	if len(name) <= maxToolNameLen {
		return name
	}
	return truncateWithHash(base, serverID, toolName)
}

// formatToolCallResult joins text content; mixed content is returned as JSON.
func formatToolCallResult(result *ToolCallResult) (string, bool) {
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

	if allText {
		return combined.String(), result.IsError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", result.IsError
	}
	return string(payload), result.IsError
}

func canonicalToolName(serverID, toolName string) string {
	return serverID + "." + toolName
}
