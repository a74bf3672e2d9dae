// Package tools implements the ToolInvoker boundary on top of MCP servers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// ServerConfig describes how to reach one MCP server.
type ServerConfig struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"` // stdio | sse
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	Env       []string `json:"env,omitempty"`
	URL       string   `json:"url,omitempty"`
}

// MCPInvoker dispatches tool calls to configured MCP servers. Sessions are
// established lazily on first use and reused until Close.
type MCPInvoker struct {
	logger  *slog.Logger
	servers map[string]ServerConfig

	mu       sync.Mutex
	sessions map[string]*mcpclient.Client
}

// NewMCPInvoker creates an invoker for the given server set.
func NewMCPInvoker(servers []ServerConfig, logger *slog.Logger) *MCPInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]ServerConfig, len(servers))
	for _, s := range servers {
		byName[s.Name] = s
	}
	return &MCPInvoker{
		logger:   logger,
		servers:  byName,
		sessions: make(map[string]*mcpclient.Client),
	}
}

// Invoke calls a tool on the named server and returns its output as a map.
// A JSON object in the tool's text content becomes the output directly;
// anything else is returned under "text".
func (m *MCPInvoker) Invoke(ctx context.Context, server, tool string, args map[string]any) (map[string]any, error) {
	c, err := m.session(ctx, server)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeFailed,
			"call tool %s on server %s: %v", tool, server, err).WithCause(err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		msg := text
		if msg == "" {
			msg = "tool reported an error without details"
		}
		return nil, schema.NewErrorf(schema.ErrCodeNodeFailed,
			"tool %s failed: %s", tool, msg)
	}

	// A structured tool emits a JSON object; pass it through as the output.
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var out map[string]any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			return out, nil
		}
	}
	return map[string]any{"text": text}, nil
}

// Close shuts down every open session.
func (m *MCPInvoker) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.sessions {
		if err := c.Close(); err != nil {
			m.logger.Warn("close mcp session",
				slog.String("server", name), slog.String("error", err.Error()))
		}
		delete(m.sessions, name)
	}
}

// session returns a ready client for the server, connecting on first use.
func (m *MCPInvoker) session(ctx context.Context, server string) (*mcpclient.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.sessions[server]; ok {
		return c, nil
	}

	cfg, ok := m.servers[server]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "mcp server %q not configured", server)
	}

	c, err := m.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.sessions[server] = c
	return c, nil
}

func (m *MCPInvoker) connect(ctx context.Context, cfg ServerConfig) (*mcpclient.Client, error) {
	var (
		c   *mcpclient.Client
		err error
	)
	switch cfg.Transport {
	case "", "stdio":
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	case "sse":
		c, err = mcpclient.NewSSEMCPClient(cfg.URL)
		if err == nil {
			err = c.Start(ctx)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidDefinition,
			"mcp server %q has unknown transport %q", cfg.Name, cfg.Transport)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeFailed,
			"connect mcp server %s: %v", cfg.Name, err).WithCause(err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "chatflow", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, schema.NewErrorf(schema.ErrCodeNodeFailed,
			"initialize mcp server %s: %v", cfg.Name, err).WithCause(err)
	}

	m.logger.Info("mcp session established", slog.String("server", cfg.Name))
	return c, nil
}

// flattenContent joins the text parts of a tool result.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		switch v := item.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if raw, err := json.Marshal(v); err == nil {
				parts = append(parts, fmt.Sprintf("[unsupported content: %s]", raw))
			}
		}
	}
	return strings.Join(parts, "\n")
}
