// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Tracemark attribution tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tracemark/internal/issuance"
)

const ledgerFormatURI = "tracemark://ledger-format"

// Server wraps the MCP server with Tracemark tools.
type Server struct {
	mcp *server.MCPServer
	svc *issuance.Service
}

// New creates a new MCP server with all Tracemark tools registered.
func New(svc *issuance.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Tracemark",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("scan_artifact",
		mcp.WithDescription("Attribute a suspect image file on the server's disk to the recipient it was issued to."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Filesystem path of the suspect image")),
	), s.scanArtifact)

	s.mcp.AddTool(mcp.NewTool("lookup_fingerprint",
		mcp.WithDescription("Resolve a SHA-256 artifact fingerprint to its ledger entry."),
		mcp.WithString("fingerprint", mcp.Required(), mcp.Description("64 lowercase hex chars")),
	), s.lookupFingerprint)

	s.mcp.AddTool(mcp.NewTool("list_issuances",
		mcp.WithDescription("List every artifact issued under a registered email, oldest first."),
		mcp.WithString("email", mcp.Required(), mcp.Description("Registered contact email")),
	), s.listIssuances)

	s.mcp.AddTool(mcp.NewTool("issue_artifact",
		mcp.WithDescription("Issue a marked copy of an image to a connected recipient. "+
			"The source is a base64 data URI or an http(s) URL. Read the ledger format "+
			"via get_ledger_format or the tracemark://ledger-format resource first."),
		mcp.WithString("email", mcp.Required(), mcp.Description("Registered email the copy is issued under")),
		mcp.WithString("source", mcp.Required(), mcp.Description("data:image/png;base64,... or http(s) URL")),
		mcp.WithString("connected_name", mcp.Required(), mcp.Description("Who the copy is handed to")),
		mcp.WithString("filename", mcp.Description("Optional source file name, used for the artifact folder")),
	), s.issueArtifact)

	s.mcp.AddTool(mcp.NewTool("get_ledger_format",
		mcp.WithDescription("Returns the ledger entry and perturbation record format."),
	), s.getLedgerFormat)

	s.mcp.AddResource(
		mcp.NewResource(ledgerFormatURI, "Ledger Format",
			mcp.WithResourceDescription("Ledger entry fields, perturbation record schema and attribution rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLedgerFormatResource,
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

func (s *Server) scanArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ScanPath(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) lookupFingerprint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fp, err := req.RequireString("fingerprint")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, ok, err := s.svc.LookupFingerprint(ctx, fp)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("no issuance found for %s", fp)), nil
	}
	return jsonResult(entry)
}

func (s *Server) listIssuances(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email, err := req.RequireString("email")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.svc.Login(ctx, email)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.svc.ListIssuances(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entries)
}

func (s *Server) getLedgerFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LedgerFormatContract), nil
}

func (s *Server) readLedgerFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ledgerFormatURI,
			MIMEType: "text/markdown",
			Text:     LedgerFormatContract,
		},
	}, nil
}
