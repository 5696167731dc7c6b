package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"sparkie/internal/domain"
	"sparkie/internal/infra/config"
)

// mcpCallTimeout bounds a single connector tool call.
const mcpCallTimeout = 30 * time.Second

// MCPBridge holds one user's connections to MCP servers and exposes their
// tools as domain.Tool instances.
type MCPBridge struct {
	servers []mcpServerConn
	tools   []domain.Tool
	logger  *slog.Logger
}

type mcpServerConn struct {
	name   string
	client mcpClient
}

// mcpClient is the part of the MCP client the bridge uses.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// dialFunc connects to one configured server.
type dialFunc func(ctx context.Context, srv config.ConnectorServerConfig) (mcpClient, error)

// newMCPBridge connects to every server and discovers its tools. Servers
// that fail to connect or list are skipped; the bridge fails only when every
// server failed.
func newMCPBridge(ctx context.Context, servers []config.ConnectorServerConfig, dial dialFunc, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{logger: logger}
	var errs []string
	for _, srv := range servers {
		c, err := dial(ctx, srv)
		if err != nil {
			logger.WarnContext(ctx, "connector unavailable, skipping", "server", srv.Name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", srv.Name, err))
			continue
		}
		b.servers = append(b.servers, mcpServerConn{name: srv.Name, client: c})
	}
	if err := b.discoverTools(ctx); err != nil {
		b.Close()
		errs = append(errs, err.Error())
	}
	if len(b.servers) == 0 && len(errs) > 0 {
		return nil, domain.NewSubSystemError("connector", "MCPBridge.Connect", domain.ErrConnector, strings.Join(errs, "; "))
	}
	return b, nil
}

// dialMCP creates, starts and initializes a client for srv.
func dialMCP(ctx context.Context, srv config.ConnectorServerConfig) (mcpClient, error) {
	var c *mcpclient.Client
	switch srv.Transport {
	case "stdio":
		sc, err := mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
		c = sc
	case "http":
		var opts []transport.StreamableHTTPCOption
		if len(srv.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(srv.Headers))
		}
		t, err := transport.NewStreamableHTTP(srv.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		c = mcpclient.NewClient(t)
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "sparkie", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, domain.WrapOp("initialize", err)
	}
	return c, nil
}

func (b *MCPBridge) discoverTools(ctx context.Context) error {
	var errs []string
	live := b.servers[:0]
	for _, srv := range b.servers {
		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			b.logger.WarnContext(ctx, "connector discovery failed, skipping", "server", srv.name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", srv.name, err))
			_ = srv.client.Close()
			continue
		}
		for _, t := range result.Tools {
			var tl domain.Tool = newMCPToolAdapter(srv.name, srv.client, t, b.logger)
			if wrapped, err := WithSchemaValidation(tl); err != nil {
				b.logger.WarnContext(ctx, "schema validation disabled for connector tool", "tool", tl.Name(), "error", err)
			} else {
				tl = wrapped
			}
			b.tools = append(b.tools, tl)
		}
		b.logger.DebugContext(ctx, "connector tools discovered", "server", srv.name, "count", len(result.Tools))
		live = append(live, srv)
	}
	b.servers = live
	if len(live) == 0 && len(errs) > 0 {
		return fmt.Errorf("all connectors failed discovery: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Tools returns the discovered tools.
func (b *MCPBridge) Tools() []domain.Tool { return b.tools }

// Close shuts down all server connections.
func (b *MCPBridge) Close() {
	for _, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			b.logger.Warn("connector close error", "server", srv.name, "error", err)
		}
	}
	b.servers = nil
}

// mcpToolAdapter wraps one MCP tool as a domain.Tool. The exposed name is the
// server name joined to the tool name, so connector tools such as
// gmail_send can be matched by the approval gate.
type mcpToolAdapter struct {
	serverName string
	client     mcpClient
	mcpTool    mcp.Tool
	fullName   string
	logger     *slog.Logger
}

func newMCPToolAdapter(serverName string, client mcpClient, t mcp.Tool, logger *slog.Logger) *mcpToolAdapter {
	return &mcpToolAdapter{
		serverName: serverName,
		client:     client,
		mcpTool:    t,
		fullName:   sanitizeName(serverName) + "_" + sanitizeName(t.Name),
		logger:     logger,
	}
}

func (a *mcpToolAdapter) Name() string { return a.fullName }

func (a *mcpToolAdapter) Description() string {
	if a.mcpTool.Description != "" {
		return a.mcpTool.Description
	}
	return fmt.Sprintf("%s tool from the user's %s connection", a.mcpTool.Name, a.serverName)
}

func (a *mcpToolAdapter) Schema() domain.ToolSchema {
	params := json.RawMessage(`{"type": "object"}`)
	if a.mcpTool.InputSchema.Properties != nil || a.mcpTool.InputSchema.Required != nil {
		if data, err := json.Marshal(a.mcpTool.InputSchema); err == nil {
			params = data
		}
	}
	return domain.ToolSchema{Name: a.fullName, Description: a.Description(), Parameters: params}
}

func (a *mcpToolAdapter) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var args map[string]any
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, &args); err != nil {
			return ErrResult("invalid arguments: %v", err)
		}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = a.mcpTool.Name
	callReq.Params.Arguments = args

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := a.client.CallTool(callCtx, callReq)
	if err != nil {
		a.logger.WarnContext(ctx, "connector call failed", "tool", a.fullName, "error", err)
		return &domain.ToolResult{
			Content:     fmt.Sprintf("%s connection error: %v", a.serverName, err),
			IsError:     true,
			IsRetryable: true,
		}, nil
	}
	return &domain.ToolResult{Content: extractMCPContent(result), IsError: result.IsError}, nil
}

// extractMCPContent flattens a call result to text. Non-text parts are
// rendered as JSON.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName lowercases s and replaces characters not valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
