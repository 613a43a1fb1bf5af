// Package tools adapts external MCP servers into act.Tool, letting the ACT
// planner dispatch actions (web search, calendar, reminders, integrations)
// without the loop itself depending on any specific integration's wire
// protocol. Grounded on the teacher's cmd/efficient-notion-mcp (an MCP
// server exposing Notion operations) and internal/integrations/* (calendar,
// github, notion clients each wrapped behind a narrow Go interface),
// generalized from the teacher's server-side tool handlers into a
// client-side dispatcher the ACT loop calls through.
package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cogloop/core/internal/cogerr"
)

// MCPTool wraps one tool exposed by a connected MCP server.
type MCPTool struct {
	client       *client.Client
	name         string
	searchLike   bool
	actionCapable bool
	parallelSafe bool
}

// NewMCPTool wraps a single named tool on an already-initialized MCP
// client. searchLike/actionCapable classify the tool for the router's
// deterministic signals; parallelSafe lets the ACT loop dispatch it
// concurrently with other parallel-safe actions in the same iteration.
func NewMCPTool(c *client.Client, name string, searchLike, actionCapable, parallelSafe bool) *MCPTool {
	return &MCPTool{client: c, name: name, searchLike: searchLike, actionCapable: actionCapable, parallelSafe: parallelSafe}
}

func (t *MCPTool) Name() string         { return t.name }
func (t *MCPTool) ParallelSafe() bool   { return t.parallelSafe }
func (t *MCPTool) IsSearchLike() bool   { return t.searchLike }
func (t *MCPTool) IsActionCapable() bool { return t.actionCapable }

func (t *MCPTool) Call(ctx context.Context, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", cogerr.Transientf("tools.MCPTool.Call", "%s: %w", t.name, err)
	}
	if result.IsError {
		return "", cogerr.Transientf("tools.MCPTool.Call", "%s returned an error result", t.name)
	}

	var out []byte
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out = append(out, []byte(tc.Text)...)
		}
	}
	if len(out) == 0 {
		raw, _ := json.Marshal(result.Content)
		out = raw
	}
	return string(out), nil
}

// Connect starts and initializes an SSE MCP client against url, the
// standard transport for the long-running integration servers (calendar,
// search, scheduling) this pipeline's ACT tools dispatch to.
func Connect(ctx context.Context, url, clientName, clientVersion string) (*client.Client, error) {
	c, err := client.NewSSEMCPClient(url)
	if err != nil {
		return nil, cogerr.Transientf("tools.Connect", "new client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, cogerr.Transientf("tools.Connect", "start: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, cogerr.Transientf("tools.Connect", "initialize: %w", err)
	}
	return c, nil
}
