// Package mcp exposes explorer sessions as Model Context Protocol tools so an
// assistant can walk the CI relationship graph.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/cigraph/pkg/explorer"
)

func NewMCPServer(manager *explorer.Manager) *mcp.Server {
	service := NewService(manager)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "CI Graph Explorer",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "open_ci_graph",
		Description: "Open a relationship graph centered on a configuration item. Returns a session id and the first layer of parents and children.",
	}, service.OpenGraph)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "expand_ci",
		Description: "Load the next layer of relations around a node of an open graph.",
	}, service.Expand)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "collapse_ci",
		Description: "Remove the nodes that were loaded by expanding a node.",
	}, service.Collapse)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "filter_ci_graph",
		Description: "Filter the visible nodes by text, by reachable types (OR/AND) or by connection to a selected node.",
	}, service.Filter)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "describe_ci_graph",
		Description: "List the visible nodes and relations of an open graph.",
	}, service.Describe)

	return s
}

// RunStdio serves the tools over stdin/stdout until ctx is done.
func RunStdio(ctx context.Context, manager *explorer.Manager) error {
	return NewMCPServer(manager).Run(ctx, &mcp.StdioTransport{})
}
