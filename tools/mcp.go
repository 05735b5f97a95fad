// ABOUTME: Exposes the tool registry as a Model Context Protocol server.
// ABOUTME: Each registered tool becomes an MCP tool whose calls go through Dispatch.

package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/buddy/llm"
)

// NewMCPServer builds an MCP server advertising every tool in r. Tools
// registered after this call are not advertised.
func NewMCPServer(r *Registry, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "buddy", Version: version}, nil)
	for _, def := range r.Definitions() {
		name := def.Name
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: def.Description,
			InputSchema: def.Parameters,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			call := llm.ToolCall{Name: name}
			if req != nil && req.Params != nil {
				call.ID = fmt.Sprintf("mcp-%s", name)
				call.Arguments = string(req.Params.Arguments)
			}
			inv := r.Dispatch(ctx, call)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: inv.Result}},
				IsError: inv.Failed(),
			}, nil
		})
	}
	return server
}

// ServeMCP runs an MCP server for r over stdio until ctx is cancelled or the
// client disconnects.
func ServeMCP(ctx context.Context, r *Registry, version string) error {
	return NewMCPServer(r, version).Run(ctx, &mcp.StdioTransport{})
}
