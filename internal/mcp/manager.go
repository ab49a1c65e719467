package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/tgassist/internal/observability"
)

// Manager owns the connections to every configured tool server. It is the
// registry the agent discovers tools through; the server set is fixed at
// construction and only connection state changes afterwards.
type Manager struct {
	servers []*ServerConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	// newClient is swapped in tests.
	newClient func(*ServerConfig, *slog.Logger) *Client

	mu        sync.RWMutex
	clients   map[string]*Client
	lastError map[string]string
}

// NewManager creates a manager for the given servers. Servers without an
// endpoint are kept for status reporting but never connected.
func NewManager(servers []*ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		servers:   servers,
		logger:    logger.With("component", "mcp"),
		newClient: NewClient,
		clients:   make(map[string]*Client),
		lastError: make(map[string]string),
	}
}

// UseMetrics records connection state on m.
func (m *Manager) UseMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// Start connects to every configured server concurrently. A server that
// fails to connect is logged and skipped; Start itself only fails when ctx
// is canceled.
func (m *Manager) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range m.servers {
		if !cfg.Configured() {
			m.logger.Warn("MCP server has no endpoint, skipping", "server", cfg.ID)
			m.setLastError(cfg.ID, "not configured")
			continue
		}
		g.Go(func() error {
			if err := m.Connect(gctx, cfg.ID); err != nil {
				m.logger.Error("failed to connect to MCP server",
					"server", cfg.ID,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// Stop disconnects from all servers.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close MCP client",
				"server", id,
				"error", err)
		}
		delete(m.clients, id)
		m.metrics.ServerConnected(id, false)
	}
	return nil
}

// Connect connects to a specific server by ID. Connecting an already
// connected server is a no-op.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	cfg := m.serverConfig(serverID)
	if cfg == nil {
		return fmt.Errorf("%w: %q", ErrServerNotFound, serverID)
	}

	m.mu.RLock()
	_, exists := m.clients[serverID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	client := m.newClient(cfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		m.setLastError(serverID, err.Error())
		m.metrics.ServerConnected(serverID, false)
		return err
	}

	m.mu.Lock()
	m.clients[serverID] = client
	delete(m.lastError, serverID)
	m.mu.Unlock()
	m.metrics.ServerConnected(serverID, true)

	m.logger.Info("MCP server ready",
		"server", serverID,
		"name", client.ServerInfo().Name,
		"tools", len(client.Tools()))
	return nil
}

// Client returns the connected client for a server.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[serverID]
	return client, exists
}

// AllTools returns the tools of every connected server keyed by server ID.
func (m *Manager) AllTools() map[string][]*MCPTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]*MCPTool)
	for id, client := range m.clients {
		if tools := client.Tools(); len(tools) > 0 {
			result[id] = tools
		}
	}
	return result
}

// CallTool calls a tool on a specific server. The call is bounded by the
// server's configured timeout.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, arguments json.RawMessage) (*ToolCallResult, error) {
	client, exists := m.Client(serverID)
	if !exists {
		return nil, fmt.Errorf("%w: %q not connected", ErrServerNotFound, serverID)
	}
	if !client.Connected() {
		return nil, fmt.Errorf("%w: %q", ErrNotConnected, serverID)
	}

	ctx, cancel := context.WithTimeout(ctx, client.Config().RequestTimeout())
	defer cancel()

	result, err := client.CallTool(ctx, toolName, arguments)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", client.Config().RequestTimeout(), err)
		}
		return nil, err
	}
	return result, nil
}

// Invoke calls a tool addressed by its canonical "server.tool" name, or by
// a bare tool name when exactly one server exposes it.
func (m *Manager) Invoke(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	serverID, toolName, ok := strings.Cut(name, ".")
	if !ok || m.serverConfig(serverID) == nil {
		var tool *MCPTool
		serverID, tool = m.FindTool(name)
		if tool == nil {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		toolName = tool.Name
	}
	return m.CallTool(ctx, serverID, toolName, arguments)
}

// FindTool finds a tool by name across servers, in server ID order.
func (m *Manager) FindTool(name string) (serverID string, tool *MCPTool) {
	all := m.AllTools()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, t := range all[id] {
			if t.Name == name {
				return id, t
			}
		}
	}
	return "", nil
}

// ServerStatus reports the state of one configured server.
type ServerStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
	LastError string     `json:"last_error,omitempty"`
}

// Status returns the status of all configured servers in configuration order.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, cfg := range m.servers {
		status := ServerStatus{
			ID:        cfg.ID,
			Name:      cfg.Name,
			LastError: m.lastError[cfg.ID],
		}
		if client, exists := m.clients[cfg.ID]; exists {
			status.Connected = client.Connected()
			status.Server = client.ServerInfo()
			status.Tools = len(client.Tools())
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (m *Manager) serverConfig(serverID string) *ServerConfig {
	for _, cfg := range m.servers {
		if cfg.ID == serverID {
			return cfg
		}
	}
	return nil
}

func (m *Manager) setLastError(serverID, msg string) {
	m.mu.Lock()
	m.lastError[serverID] = msg
	m.mu.Unlock()
}
