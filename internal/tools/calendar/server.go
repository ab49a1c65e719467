package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/haasonsaas/tgassist/internal/tools/toolserver"
)

// ServerName is the MCP server name.
const ServerName = "google-calendar"

// DefaultAddr is the default HTTP listen address.
const DefaultAddr = ":8001"

const defaultMaxResults = 10

// Tool names.
const (
	ToolListToday   = "list_today_events"
	ToolListWeek    = "list_week_events"
	ToolCreateEvent = "create_event"
	ToolSearch      = "search_events"
)

// isoLayouts are the accepted ISO-8601 forms; layouts without an offset are UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type handlers struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// NewServer builds the calendar MCP server over a backend.
func NewServer(backend Backend, logger *slog.Logger) *server.MCPServer {
	srv := toolserver.New(ServerName)
	newHandlers(backend, logger).register(srv)
	return srv
}

func newHandlers(backend Backend, logger *slog.Logger) *handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &handlers{
		backend: backend,
		logger:  logger.With("component", "calendar"),
		now:     time.Now,
	}
}

func (h *handlers) register(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool(ToolListToday,
		mcp.WithDescription("List all events for today"),
	), h.listToday)

	srv.AddTool(mcp.NewTool(ToolListWeek,
		mcp.WithDescription("List all events for the current week"),
	), h.listWeek)

	srv.AddTool(mcp.NewTool(ToolCreateEvent,
		mcp.WithDescription("Create a new calendar event"),
		mcp.WithString("title", mcp.Required(), mcp.Description("Event title")),
		mcp.WithString("start_time", mcp.Required(), mcp.Description("Start time in ISO format")),
		mcp.WithString("end_time", mcp.Required(), mcp.Description("End time in ISO format")),
		mcp.WithString("description", mcp.Description("Event description")),
		mcp.WithString("location", mcp.Description("Event location")),
	), h.createEvent)

	srv.AddTool(mcp.NewTool(ToolSearch,
		mcp.WithDescription("Search for events by query string"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("max_results", mcp.Description("Maximum number of results"), mcp.DefaultNumber(defaultMaxResults)),
	), h.searchEvents)
}

type listResponse struct {
	Success bool    `json:"success"`
	Events  []Event `json:"events"`
	Count   int     `json:"count"`
	Query   *string `json:"query,omitempty"`
}

func newListResponse(events []Event) listResponse {
	if events == nil {
		events = []Event{}
	}
	return listResponse{Success: true, Events: events, Count: len(events)}
}

func (h *handlers) listToday(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, to := DayRange(h.now())
	return h.listRange(ctx, from, to)
}

func (h *handlers) listWeek(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, to := WeekRange(h.now())
	return h.listRange(ctx, from, to)
}

func (h *handlers) listRange(ctx context.Context, from, to time.Time) (*mcp.CallToolResult, error) {
	events, err := h.backend.ListEvents(ctx, from, to)
	if err != nil {
		h.logger.Warn("list events failed", "error", err)
		return toolserver.ErrorResult(err.Error()), nil
	}
	return toolserver.JSONResult(newListResponse(events))
}

func (h *handlers) createEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return toolserver.ErrorResult(err.Error()), nil
	}
	startRaw, err := req.RequireString("start_time")
	if err != nil {
		return toolserver.ErrorResult(err.Error()), nil
	}
	endRaw, err := req.RequireString("end_time")
	if err != nil {
		return toolserver.ErrorResult(err.Error()), nil
	}

	start, err := ParseISOTime(startRaw)
	if err != nil {
		return toolserver.ErrorResult(fmt.Sprintf("invalid start_time: %v", err)), nil
	}
	end, err := ParseISOTime(endRaw)
	if err != nil {
		return toolserver.ErrorResult(fmt.Sprintf("invalid end_time: %v", err)), nil
	}

	created, err := h.backend.CreateEvent(ctx, NewEvent{
		Title:       title,
		Start:       start,
		End:         end,
		Description: req.GetString("description", ""),
		Location:    req.GetString("location", ""),
	})
	if err != nil {
		h.logger.Warn("create event failed", "title", title, "error", err)
		return toolserver.ErrorResult(err.Error()), nil
	}

	return toolserver.JSONResult(map[string]any{
		"success":    true,
		"event_id":   created.ID,
		"event_link": created.Link,
		"message":    fmt.Sprintf("Event '%s' created successfully", title),
	})
}

func (h *handlers) searchEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return toolserver.ErrorResult(err.Error()), nil
	}
	max := req.GetInt("max_results", defaultMaxResults)
	if max <= 0 {
		max = defaultMaxResults
	}

	events, err := h.backend.SearchEvents(ctx, query, max)
	if err != nil {
		h.logger.Warn("search events failed", "query", query, "error", err)
		return toolserver.ErrorResult(err.Error()), nil
	}
	resp := newListResponse(events)
	resp.Query = &query
	return toolserver.JSONResult(resp)
}

// ParseISOTime parses an ISO-8601 timestamp. Values without an offset are UTC.
func ParseISOTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "z") {
		value = strings.TrimSuffix(value, "z") + "Z"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 time", value)
}
