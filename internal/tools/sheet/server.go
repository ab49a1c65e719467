package sheet

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/haasonsaas/tgassist/internal/tools/toolserver"
)

// ServerName is the MCP server name.
const ServerName = "sheet"

// DefaultAddr is the default HTTP listen address.
const DefaultAddr = ":8003"

// Tool names.
const (
	ToolGet    = "get_data"
	ToolSet    = "set_data"
	ToolAppend = "append_data"
	ToolClear  = "clear_data"
)

const (
	argURL       = "spreadsheet_url"
	argURLLegacy = "spredsheet_url"
	argRange     = "range_name"
	argData      = "data"
)

type handlers struct {
	backend Backend
	logger  *slog.Logger
}

// target is the spreadsheet and range a call operates on.
type target struct {
	id  string
	rng string
}

// NewServer builds the sheet MCP server over a backend.
func NewServer(backend Backend, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{backend: backend, logger: logger.With("component", "sheet")}

	srv := toolserver.New(ServerName)
	srv.AddTool(mcp.NewTool(ToolGet,
		rangeOptions("Return the values of a spreadsheet range.")...,
	), h.get)
	srv.AddTool(mcp.NewTool(ToolSet,
		append(rangeOptions("Replace the values of a spreadsheet range."), dataOption("Rows to write"))...,
	), h.set)
	srv.AddTool(mcp.NewTool(ToolAppend,
		append(rangeOptions("Append rows to the end of the table in a range."), dataOption("Rows to append"))...,
	), h.appendRows)
	srv.AddTool(mcp.NewTool(ToolClear,
		rangeOptions("Clear the values of a spreadsheet range.")...,
	), h.clearRange)
	return srv
}

func rangeOptions(description string) []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithString(argURL, mcp.Required(), mcp.Description("Spreadsheet URL")),
		mcp.WithString(argRange, mcp.Required(), mcp.Description("Range in A1 notation, e.g. Sheet1!A1:C5")),
	}
}

func dataOption(description string) mcp.ToolOption {
	return mcp.WithArray(argData,
		mcp.Required(),
		mcp.Description(description),
		mcp.Items(map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		}),
	)
}

func (h *handlers) get(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, errResult := targetFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}
	rows, err := h.backend.Get(ctx, t.id, t.rng)
	if err != nil {
		return h.failure("get", t, err), nil
	}
	if rows == nil {
		rows = [][]string{}
	}
	return toolserver.JSONResult(rows)
}

func (h *handlers) set(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.write(ctx, req, h.backend.Set, "set", "Data successfully set")
}

func (h *handlers) appendRows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.write(ctx, req, h.backend.Append, "append", "Data appended")
}

func (h *handlers) clearRange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, errResult := targetFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}
	if err := h.backend.Clear(ctx, t.id, t.rng); err != nil {
		return h.failure("clear", t, err), nil
	}
	return toolserver.JSONResult(map[string]string{"message": "Data cleared"})
}

type writeFunc func(ctx context.Context, spreadsheetID, rng string, rows [][]string) error

func (h *handlers) write(ctx context.Context, req mcp.CallToolRequest, fn writeFunc, op, message string) (*mcp.CallToolResult, error) {
	t, errResult := targetFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}
	rows, err := parseRows(req.GetArguments()[argData])
	if err != nil {
		return toolserver.ErrorResult(fmt.Sprintf("invalid data: %v", err)), nil
	}
	if err := fn(ctx, t.id, t.rng, rows); err != nil {
		return h.failure(op, t, err), nil
	}
	return toolserver.JSONResult(map[string]string{"message": message})
}

func (h *handlers) failure(op string, t target, err error) *mcp.CallToolResult {
	h.logger.Warn("sheet operation failed", "op", op, "spreadsheet", t.id, "range", t.rng, "error", err)
	return toolserver.ErrorResult(err.Error())
}

func targetFromRequest(req mcp.CallToolRequest) (target, *mcp.CallToolResult) {
	url := req.GetString(argURL, "")
	if url == "" {
		url = req.GetString(argURLLegacy, "")
	}
	if url == "" {
		return target{}, toolserver.ErrorResult(fmt.Sprintf("required argument %q not found", argURL))
	}
	id, err := SpreadsheetID(url)
	if err != nil {
		return target{}, toolserver.ErrorResult(err.Error())
	}
	rng, err := req.RequireString(argRange)
	if err != nil {
		return target{}, toolserver.ErrorResult(err.Error())
	}
	return target{id: id, rng: rng}, nil
}

// parseRows converts decoded JSON into rows of cell strings. Numbers and
// booleans are formatted; null becomes "".
func parseRows(v any) ([][]string, error) {
	rawRows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of rows, got %T", v)
	}
	rows := make([][]string, 0, len(rawRows))
	for i, rawRow := range rawRows {
		cellsIn, ok := rawRow.([]any)
		if !ok {
			return nil, fmt.Errorf("row %d is %T, not an array", i+1, rawRow)
		}
		cells := make([]string, 0, len(cellsIn))
		for _, cell := range cellsIn {
			switch c := cell.(type) {
			case string:
				cells = append(cells, c)
			case float64:
				cells = append(cells, strconv.FormatFloat(c, 'f', -1, 64))
			case bool:
				cells = append(cells, strconv.FormatBool(c))
			case nil:
				cells = append(cells, "")
			default:
				return nil, fmt.Errorf("row %d has unsupported cell %T", i+1, cell)
			}
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
