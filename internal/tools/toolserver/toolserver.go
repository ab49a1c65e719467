// Package toolserver runs the calendar, mail, and sheet MCP servers.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to clients during initialize.
const Version = "1.0.0"

// Transport names accepted by Serve.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// EndpointPath is where the streamable HTTP endpoint is mounted.
const EndpointPath = "/mcp"

const shutdownTimeout = 5 * time.Second

// New creates an MCP server with tool capabilities.
func New(name string) *server.MCPServer {
	return server.NewMCPServer(name, Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
}

// Options configures how a server is exposed.
type Options struct {
	Transport string
	Addr      string
	Logger    *slog.Logger
}

// Serve exposes srv over the chosen transport until ctx is cancelled.
func Serve(ctx context.Context, srv *server.MCPServer, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Transport {
	case TransportStdio:
		logger.Info("serving MCP over stdio")
		stdio := server.NewStdioServer(srv)
		err := stdio.Listen(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case TransportHTTP, "streamable_http", "":
		return serveHTTP(ctx, srv, opts.Addr, logger)
	default:
		return fmt.Errorf("unknown transport %q (expected http or stdio)", opts.Transport)
	}
}

func serveHTTP(ctx context.Context, srv *server.MCPServer, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(EndpointPath, server.NewStreamableHTTPServer(srv))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving MCP over HTTP", "addr", addr, "path", EndpointPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// JSONResult encodes v as the text content of a tool result.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ErrorResult reports a failure as {"error": msg} with the error flag set.
func ErrorResult(msg string) *mcp.CallToolResult {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return mcp.NewToolResultError(string(data))
}
