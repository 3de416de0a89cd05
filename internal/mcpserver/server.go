// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes build status tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/assetforge/internal/apperr"
	"github.com/starford/assetforge/internal/assetservice"
)

// TagSyntaxURI is the resource describing the file name tag contract.
const TagSyntaxURI = "assetforge://tag-syntax"

// Server wraps the MCP server with build tools.
type Server struct {
	mcp *server.MCPServer
	svc *assetservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *assetservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"assetforge",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("build_status",
		mcp.WithDescription("Summary of the last update cycle (processed, failed, deleted outputs, "+
			"per-asset errors) and snapshot totals."),
	), s.buildStatus)

	s.mcp.AddTool(mcp.NewTool("list_assets",
		mcp.WithDescription("List source assets with their outputs and last run result."),
		mcp.WithBoolean("failed", mcp.Description("Only assets whose last run failed")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 100)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listAssets)

	s.mcp.AddTool(mcp.NewTool("get_asset",
		mcp.WithDescription("Get one asset, including metadata parsed from file name tags, "+
			"inherited metadata, transform data and produced outputs."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path relative to the entry directory (e.g. img/hero{nc}.png)")),
	), s.getAsset)

	s.mcp.AddTool(mcp.NewTool("list_outputs",
		mcp.WithDescription("List files in the output directory with size and checksum."),
	), s.listOutputs)

	s.mcp.AddTool(mcp.NewTool("get_tag_syntax",
		mcp.WithDescription("Returns the file name tag contract. Read it before suggesting renames "+
			"that should change how an asset is processed."),
	), s.getTagSyntax)

	s.mcp.AddResource(
		mcp.NewResource(TagSyntaxURI, "File Name Tag Syntax",
			mcp.WithResourceDescription("How {tag} segments in file names become asset metadata."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTagSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) buildStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) listAssets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	offset := req.GetInt("offset", 0)
	failed := req.GetBool("failed", false)

	items, total, err := s.svc.ListAssets(ctx, limit, offset, failed)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"assets": items, "total": total})
}

func (s *Server) getAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.svc.GetAsset(ctx, path)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	case errors.Is(err, apperr.ErrBadRequest):
		return mcp.NewToolResultError(fmt.Sprintf("invalid path: %s", path)), nil
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(v)
}

func (s *Server) listOutputs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := s.svc.ListOutputs(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(files)
}

func (s *Server) getTagSyntax(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TagSyntax), nil
}

func (s *Server) readTagSyntaxResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TagSyntaxURI,
			MIMEType: "text/markdown",
			Text:     TagSyntax,
		},
	}, nil
}
