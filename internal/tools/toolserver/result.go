package toolserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ResultText returns the concatenated text content of a tool result.
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var out string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			out += tc.Text
		case *mcp.TextContent:
			out += tc.Text
		}
	}
	return out
}

// Request builds a tool call request, mostly for tests and in-process calls.
func Request(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}
